package comments

import (
	"encoding/json"
	"strings"

	"github.com/tailscale/hujson"
)

const (
	metaOpen  = "<!-- canvai-meta\n"
	metaClose = "\n-->"
	// Footer is appended to every body posted by the relay.
	Footer = "\n\n---\n_Posted from Canvai_"
)

// Meta is the structured part of a thread, embedded in the issue body.
type Meta struct {
	FrameID        string            `json:"frameId"`
	ComponentName  string            `json:"componentName"`
	Selector       string            `json:"selector"`
	ElementTag     string            `json:"elementTag"`
	ElementText    string            `json:"elementText"`
	ComputedStyles map[string]string `json:"computedStyles,omitempty"`
	AnnotationID   string            `json:"annotationId,omitempty"`
}

// Encode renders an issue or comment body. meta may be nil.
func Encode(meta *Meta, text string) string {
	var b strings.Builder
	if meta != nil {
		data, err := json.MarshalIndent(meta, "", "  ")
		if err == nil {
			b.WriteString(metaOpen)
			b.Write(data)
			b.WriteString(metaClose)
			b.WriteString("\n\n")
		}
	}
	b.WriteString(text)
	b.WriteString(Footer)
	return b.String()
}

// Decode splits a body into its metadata and human text. A missing or
// malformed block yields nil meta and the whole body, minus the footer, as
// text.
func Decode(body string) (*Meta, string) {
	body = stripFooter(body)

	start := strings.Index(body, metaOpen)
	if start < 0 {
		return nil, body
	}
	rest := body[start+len(metaOpen):]
	end := strings.Index(rest, metaClose)
	if end < 0 {
		return nil, body
	}

	raw, err := hujson.Standardize([]byte(rest[:end]))
	if err != nil {
		return nil, body
	}
	var meta Meta
	if err := json.Unmarshal(raw, &meta); err != nil {
		return nil, body
	}

	text := rest[end+len(metaClose):]
	if strings.HasPrefix(text, "\n\n") {
		text = text[2:]
	} else {
		text = strings.TrimLeft(text, "\r\n")
	}
	return &meta, body[:start] + text
}

func stripFooter(body string) string {
	if strings.HasSuffix(body, Footer) {
		return strings.TrimSuffix(body, Footer)
	}
	// Bodies edited on github.com come back with CRLF line endings.
	if normalized := strings.ReplaceAll(body, "\r\n", "\n"); strings.HasSuffix(strings.TrimRight(normalized, " \n"), Footer) {
		return strings.TrimSuffix(strings.TrimRight(normalized, " \n"), Footer)
	}
	return body
}

// MetaFor extracts the metadata of a create request.
func MetaFor(in CreateInput) *Meta {
	return &Meta{
		FrameID:        in.FrameID,
		ComponentName:  in.ComponentName,
		Selector:       in.Selector,
		ElementTag:     in.ElementTag,
		ElementText:    in.ElementText,
		ComputedStyles: in.ComputedStyles,
	}
}
