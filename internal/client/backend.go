// Package client keeps one UI session's view of annotations and comment
// threads consistent with the relay while local edits are in flight.
package client

import (
	"context"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/comments"
)

// Backend is the relay surface a session talks to. RelayClient implements it
// over HTTP.
type Backend interface {
	ListAnnotations(ctx context.Context) ([]annotation.Annotation, error)
	Mode(ctx context.Context) (annotation.Mode, error)

	ListThreads(ctx context.Context) ([]comments.Thread, error)
	CreateThread(ctx context.Context, in comments.CreateInput) (*comments.Thread, error)
	AddReply(ctx context.Context, threadID, body string) (*comments.Message, error)
	ToggleReaction(ctx context.Context, threadID, messageID, emoji string) ([]comments.Reaction, error)
	ResolveThread(ctx context.Context, threadID string) (*comments.Thread, error)
	ReopenThread(ctx context.Context, threadID string) (*comments.Thread, error)
	DeleteThread(ctx context.Context, threadID string) error
	Promote(ctx context.Context, threadID, messageID string) (*comments.PromoteResult, error)
}
