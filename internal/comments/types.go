package comments

import (
	"errors"
	"time"
)

// Status of a thread. Closed issues surface as resolved.
type Status string

const (
	StatusOpen     Status = "open"
	StatusResolved Status = "resolved"
)

// Event names published on events.TopicComments.
const (
	EventCreated         = "comment-created"
	EventReplyAdded      = "reply-added"
	EventResolved        = "comment-resolved"
	EventReopened        = "comment-reopened"
	EventReactionToggled = "reaction-toggled"
	EventDeleted         = "comment-deleted"
	EventLinked          = "comment-linked"
)

var (
	ErrThreadNotFound  = errors.New("thread not found")
	ErrMessageNotFound = errors.New("message not found")
	ErrInvalidMessage  = errors.New("invalid message id")
	ErrUnknownEmoji    = errors.New("unsupported reaction emoji")
	ErrEmptyComment    = errors.New("comment is required")
)

// Author is the GitHub account behind a message.
type Author struct {
	Login     string `json:"login"`
	AvatarURL string `json:"avatarUrl"`
}

// Reaction aggregates the raw per-user reactions of one content type.
type Reaction struct {
	Emoji            string   `json:"emoji"`
	Count            int      `json:"count"`
	ViewerHasReacted bool     `json:"viewerHasReacted"`
	ReactionIDs      []int64  `json:"reactionIds,omitempty"`
	Users            []string `json:"users,omitempty"`
}

// Message is one entry of a thread. The opening message is the issue body.
type Message struct {
	ID          string     `json:"id"`
	GHCommentID int64      `json:"ghCommentId,omitempty"`
	Author      Author     `json:"author"`
	Body        string     `json:"body"`
	Reactions   []Reaction `json:"reactions"`
	CreatedAt   time.Time  `json:"createdAt"`
	IsOriginal  bool       `json:"isOriginal"`
}

// Thread is a GitHub issue viewed as a comment conversation anchored to an
// element of a frame.
type Thread struct {
	ID             string            `json:"id"`
	GHIssueNumber  int               `json:"ghIssueNumber"`
	GHIssueURL     string            `json:"ghIssueUrl"`
	FrameID        string            `json:"frameId"`
	ComponentName  string            `json:"componentName"`
	Selector       string            `json:"selector"`
	ElementTag     string            `json:"elementTag"`
	ElementText    string            `json:"elementText"`
	ComputedStyles map[string]string `json:"computedStyles"`
	Author         Author            `json:"author"`
	Messages       []Message         `json:"messages"`
	Status         Status            `json:"status"`
	AnnotationID   string            `json:"annotationId,omitempty"`
	CreatedAt      time.Time         `json:"createdAt"`
	UpdatedAt      time.Time         `json:"updatedAt"`
}

// Original returns the opening message.
func (t *Thread) Original() Message {
	return t.Messages[0]
}

// Message finds a message by id.
func (t *Thread) Message(id string) (*Message, bool) {
	for i := range t.Messages {
		if t.Messages[i].ID == id {
			return &t.Messages[i], true
		}
	}
	return nil, false
}

// Clone returns a deep copy.
func (t Thread) Clone() Thread {
	if t.ComputedStyles != nil {
		styles := make(map[string]string, len(t.ComputedStyles))
		for k, v := range t.ComputedStyles {
			styles[k] = v
		}
		t.ComputedStyles = styles
	}
	msgs := make([]Message, len(t.Messages))
	for i, m := range t.Messages {
		msgs[i] = m.Clone()
	}
	t.Messages = msgs
	return t
}

// Clone returns a deep copy.
func (m Message) Clone() Message {
	m.Reactions = CloneReactions(m.Reactions)
	return m
}

// CloneReactions deep-copies a reaction list.
func CloneReactions(in []Reaction) []Reaction {
	if in == nil {
		return nil
	}
	out := make([]Reaction, len(in))
	for i, r := range in {
		r.ReactionIDs = append([]int64(nil), r.ReactionIDs...)
		r.Users = append([]string(nil), r.Users...)
		if len(r.ReactionIDs) == 0 {
			r.ReactionIDs = nil
		}
		if len(r.Users) == 0 {
			r.Users = nil
		}
		out[i] = r
	}
	return out
}

// CreateInput is the request to open a new thread.
type CreateInput struct {
	FrameID        string            `json:"frameId"`
	ComponentName  string            `json:"componentName"`
	Selector       string            `json:"selector"`
	ElementTag     string            `json:"elementTag"`
	ElementText    string            `json:"elementText"`
	ComputedStyles map[string]string `json:"computedStyles"`
	Comment        string            `json:"comment"`
}

// Pin is the on-canvas marker of a thread. It is derived, never stored.
type Pin struct {
	ThreadID      string `json:"threadId"`
	FrameID       string `json:"frameId"`
	Selector      string `json:"selector"`
	Author        Author `json:"author"`
	ReplyCount    int    `json:"replyCount"`
	HasAnnotation bool   `json:"hasAnnotation"`
	Status        Status `json:"status"`
}

// PinFor projects a thread onto its pin.
func PinFor(t Thread) Pin {
	replies := len(t.Messages) - 1
	if replies < 0 {
		replies = 0
	}
	return Pin{
		ThreadID:      t.ID,
		FrameID:       t.FrameID,
		Selector:      t.Selector,
		Author:        t.Author,
		ReplyCount:    replies,
		HasAnnotation: t.AnnotationID != "",
		Status:        t.Status,
	}
}

// ThreadEvent carries a whole thread: created, resolved, reopened.
type ThreadEvent struct {
	Type   string `json:"type"`
	Thread Thread `json:"thread"`
}

// ReplyEvent is published when a reply is added.
type ReplyEvent struct {
	Type     string  `json:"type"`
	ThreadID string  `json:"threadId"`
	Message  Message `json:"message"`
}

// ReactionEvent carries the new reaction list of a message.
type ReactionEvent struct {
	Type      string     `json:"type"`
	ThreadID  string     `json:"threadId"`
	MessageID string     `json:"messageId"`
	Reactions []Reaction `json:"reactions"`
}

// DeletedEvent is published when a thread is closed as deleted.
type DeletedEvent struct {
	Type     string `json:"type"`
	ThreadID string `json:"threadId"`
}
