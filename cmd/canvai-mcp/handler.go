package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/rs/zerolog/log"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
)

// Relay is the part of the relay API the agent tools use.
// *client.RelayClient implements it.
type Relay interface {
	NextAnnotation(ctx context.Context) (annotation.Annotation, error)
	ListPending(ctx context.Context) ([]annotation.Annotation, error)
	ResolveAnnotation(ctx context.Context, id string) (annotation.Annotation, error)
}

// WaitParams defines the input of wait_for_annotation.
type WaitParams struct {
	TimeoutSeconds int `json:"timeout_seconds,omitempty" jsonschema:"Give up after this many seconds; 0 waits until an annotation arrives"`
}

// ListPendingParams defines the input of list_pending_annotations.
type ListPendingParams struct{}

// ResolveParams defines the input of resolve_annotation.
type ResolveParams struct {
	ID string `json:"id" jsonschema:"The id of the annotation that was addressed"`
}

type tools struct {
	relay Relay
}

// WaitForAnnotation long-polls the relay. While it is blocked the design
// tool shows the agent as watching.
func (t *tools) WaitForAnnotation(ctx context.Context, req *mcp.CallToolRequest, params WaitParams) (*mcp.CallToolResult, any, error) {
	if params.TimeoutSeconds < 0 {
		return nil, nil, fmt.Errorf("timeout_seconds must be >= 0")
	}
	if params.TimeoutSeconds > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(params.TimeoutSeconds)*time.Second)
		defer cancel()
	}

	log.Info().Str("component", "mcp").Int("timeout_seconds", params.TimeoutSeconds).Msg("waiting for annotation")
	a, err := t.relay.NextAnnotation(ctx)
	if errors.Is(err, context.DeadlineExceeded) {
		return textResult(`{"annotation":null,"timed_out":true}`), nil, nil
	}
	if err != nil {
		return errorResult(err), nil, nil
	}
	log.Info().Str("component", "mcp").Str("annotation", a.ID).Msg("annotation received")
	return jsonResult(map[string]any{"annotation": a}), nil, nil
}

// ListPendingAnnotations returns every unresolved annotation.
func (t *tools) ListPendingAnnotations(ctx context.Context, req *mcp.CallToolRequest, _ ListPendingParams) (*mcp.CallToolResult, any, error) {
	pending, err := t.relay.ListPending(ctx)
	if err != nil {
		return errorResult(err), nil, nil
	}
	if pending == nil {
		pending = []annotation.Annotation{}
	}
	return jsonResult(map[string]any{"annotations": pending}), nil, nil
}

// ResolveAnnotation marks an annotation done.
func (t *tools) ResolveAnnotation(ctx context.Context, req *mcp.CallToolRequest, params ResolveParams) (*mcp.CallToolResult, any, error) {
	if params.ID == "" {
		return nil, nil, fmt.Errorf("id parameter is required")
	}
	a, err := t.relay.ResolveAnnotation(ctx, params.ID)
	if err != nil {
		log.Warn().Err(err).Str("component", "mcp").Str("annotation", params.ID).Msg("resolve failed")
		return errorResult(err), nil, nil
	}
	log.Info().Str("component", "mcp").Str("annotation", a.ID).Msg("annotation resolved")
	return jsonResult(map[string]any{"annotation": a}), nil, nil
}

func textResult(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: text}},
	}
}

func jsonResult(v any) *mcp.CallToolResult {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult(err)
	}
	return textResult(string(data))
}

func errorResult(err error) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{&mcp.TextContent{Text: fmt.Sprintf("Error: %v", err)}},
		IsError: true,
	}
}

func registerTools(server *mcp.Server, relay Relay) {
	t := &tools{relay: relay}
	mcp.AddTool(server, &mcp.Tool{
		Name:        "wait_for_annotation",
		Description: "Block until the designer submits an annotation, then return it. Call again after resolving to keep watching.",
	}, t.WaitForAnnotation)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "list_pending_annotations",
		Description: "List annotations that have not been resolved yet",
	}, t.ListPendingAnnotations)
	mcp.AddTool(server, &mcp.Tool{
		Name:        "resolve_annotation",
		Description: "Mark an annotation as addressed so the designer sees it resolved",
	}, t.ResolveAnnotation)
}
