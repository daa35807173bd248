package comments

import (
	"github.com/madebynoam/canvai-sub001/internal/annotation"
)

// PromoteResult is what promoting a message produces.
type PromoteResult struct {
	Annotation annotation.Annotation `json:"annotation"`
	Thread     Thread                `json:"thread"`
}

// AnnotationInput turns a message of the thread into an annotation request
// anchored to the thread's element.
func (t *Thread) AnnotationInput(messageID string) (annotation.Input, error) {
	m, ok := t.Message(messageID)
	if !ok {
		return annotation.Input{}, ErrMessageNotFound
	}
	in := annotation.Input{
		FrameID:       t.FrameID,
		ComponentName: t.ComponentName,
		Selector:      t.Selector,
		ElementTag:    t.ElementTag,
		ElementText:   t.ElementText,
		Comment:       m.Body,
	}
	if t.ComputedStyles != nil {
		in.ComputedStyles = make(map[string]string, len(t.ComputedStyles))
		for k, v := range t.ComputedStyles {
			in.ComputedStyles[k] = v
		}
	}
	return in, in.Validate()
}
