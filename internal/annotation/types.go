package annotation

import "errors"

// Status is the lifecycle state of an annotation.
type Status string

const (
	StatusPending  Status = "pending"
	StatusResolved Status = "resolved"
)

// Mode reports whether an agent is currently long-polling for work.
type Mode string

const (
	ModeManual Mode = "manual"
	ModeWatch  Mode = "watch"
)

// Event names published on events.TopicAnnotations.
const (
	EventMode     = "mode"
	EventResolved = "resolved"
	EventCreated  = "annotation-created"
)

// ErrCommentRequired is returned by Validate when the change request is empty.
var ErrCommentRequired = errors.New("comment is required")

// Annotation is a structured change request queued for the agent.
type Annotation struct {
	ID             string            `json:"id"`
	FrameID        string            `json:"frameId"`
	ComponentName  string            `json:"componentName"`
	Selector       string            `json:"selector"`
	ElementTag     string            `json:"elementTag"`
	ElementText    string            `json:"elementText"`
	ComputedStyles map[string]string `json:"computedStyles"`
	Comment        string            `json:"comment"`
	Timestamp      int64             `json:"timestamp"`
	Status         Status            `json:"status"`
}

// Input is what a producer submits; the queue assigns id, timestamp and status.
type Input struct {
	FrameID        string            `json:"frameId"`
	ComponentName  string            `json:"componentName"`
	Selector       string            `json:"selector"`
	ElementTag     string            `json:"elementTag"`
	ElementText    string            `json:"elementText"`
	ComputedStyles map[string]string `json:"computedStyles"`
	Comment        string            `json:"comment"`
}

func (in Input) Validate() error {
	if in.Comment == "" {
		return ErrCommentRequired
	}
	return nil
}

// ModeEvent is the payload of a mode transition.
type ModeEvent struct {
	Type string `json:"type"`
	Mode Mode   `json:"mode"`
}

// ResolvedEvent is the payload published when an annotation is resolved.
type ResolvedEvent struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// CreatedEvent is the payload published when an annotation is submitted.
type CreatedEvent struct {
	Type       string     `json:"type"`
	Annotation Annotation `json:"annotation"`
}

func (a Annotation) clone() Annotation {
	if a.ComputedStyles != nil {
		styles := make(map[string]string, len(a.ComputedStyles))
		for k, v := range a.ComputedStyles {
			styles[k] = v
		}
		a.ComputedStyles = styles
	}
	return a
}
