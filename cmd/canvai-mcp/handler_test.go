package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"testing"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/client"
)

type fakeRelay struct {
	next     annotation.Annotation
	nextErr  error
	block    bool
	pending  []annotation.Annotation
	resolved []string
}

func (f *fakeRelay) NextAnnotation(ctx context.Context) (annotation.Annotation, error) {
	if f.block {
		<-ctx.Done()
		return annotation.Annotation{}, ctx.Err()
	}
	return f.next, f.nextErr
}

func (f *fakeRelay) ListPending(ctx context.Context) ([]annotation.Annotation, error) {
	return f.pending, nil
}

func (f *fakeRelay) ResolveAnnotation(ctx context.Context, id string) (annotation.Annotation, error) {
	if id != "1" {
		return annotation.Annotation{}, &client.APIError{Status: http.StatusNotFound, Message: "annotation not found"}
	}
	f.resolved = append(f.resolved, id)
	return annotation.Annotation{ID: id, Status: annotation.StatusResolved}, nil
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	if res == nil || len(res.Content) != 1 {
		t.Fatalf("result = %+v, want one content item", res)
	}
	text, ok := res.Content[0].(*mcp.TextContent)
	if !ok {
		t.Fatalf("content = %T, want *mcp.TextContent", res.Content[0])
	}
	return text.Text
}

func TestWaitForAnnotation_ReturnsAnnotation(t *testing.T) {
	relay := &fakeRelay{next: annotation.Annotation{ID: "1", Comment: "fix padding", Status: annotation.StatusPending}}
	tl := &tools{relay: relay}

	res, _, err := tl.WaitForAnnotation(context.Background(), nil, WaitParams{})
	if err != nil {
		t.Fatalf("WaitForAnnotation() error = %v", err)
	}
	var out struct {
		Annotation annotation.Annotation `json:"annotation"`
	}
	if err := json.Unmarshal([]byte(resultText(t, res)), &out); err != nil {
		t.Fatalf("result is not JSON: %v", err)
	}
	if out.Annotation.ID != "1" || out.Annotation.Comment != "fix padding" {
		t.Errorf("annotation = %+v", out.Annotation)
	}
}

func TestWaitForAnnotation_Timeout(t *testing.T) {
	tl := &tools{relay: &fakeRelay{block: true}}

	res, _, err := tl.WaitForAnnotation(context.Background(), nil, WaitParams{TimeoutSeconds: 1})
	if err != nil {
		t.Fatalf("WaitForAnnotation() error = %v", err)
	}
	if res.IsError {
		t.Fatalf("timeout should not be an error result")
	}
	if !strings.Contains(resultText(t, res), `"timed_out":true`) {
		t.Errorf("result = %s", resultText(t, res))
	}
}

func TestWaitForAnnotation_RelayDown(t *testing.T) {
	tl := &tools{relay: &fakeRelay{nextErr: errors.New("connection refused")}}

	res, _, err := tl.WaitForAnnotation(context.Background(), nil, WaitParams{})
	if err != nil {
		t.Fatalf("WaitForAnnotation() error = %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "connection refused") {
		t.Errorf("result = %+v", res)
	}
}

func TestWaitForAnnotation_NegativeTimeout(t *testing.T) {
	tl := &tools{relay: &fakeRelay{}}
	if _, _, err := tl.WaitForAnnotation(context.Background(), nil, WaitParams{TimeoutSeconds: -1}); err == nil {
		t.Error("expected error for negative timeout")
	}
}

func TestListPendingAnnotations_EmptyIsArray(t *testing.T) {
	tl := &tools{relay: &fakeRelay{}}

	res, _, err := tl.ListPendingAnnotations(context.Background(), nil, ListPendingParams{})
	if err != nil {
		t.Fatalf("ListPendingAnnotations() error = %v", err)
	}
	if !strings.Contains(resultText(t, res), `"annotations": []`) {
		t.Errorf("result = %s", resultText(t, res))
	}
}

func TestResolveAnnotation(t *testing.T) {
	relay := &fakeRelay{}
	tl := &tools{relay: relay}

	if _, _, err := tl.ResolveAnnotation(context.Background(), nil, ResolveParams{}); err == nil {
		t.Error("expected error for missing id")
	}

	res, _, err := tl.ResolveAnnotation(context.Background(), nil, ResolveParams{ID: "1"})
	if err != nil || res.IsError {
		t.Fatalf("ResolveAnnotation() = %+v, %v", res, err)
	}
	if len(relay.resolved) != 1 {
		t.Errorf("resolved = %v, want [1]", relay.resolved)
	}

	res, _, err = tl.ResolveAnnotation(context.Background(), nil, ResolveParams{ID: "42"})
	if err != nil {
		t.Fatalf("ResolveAnnotation() error = %v", err)
	}
	if !res.IsError || !strings.Contains(resultText(t, res), "annotation not found") {
		t.Errorf("result = %+v", res)
	}
}

func TestRelayFromEnv(t *testing.T) {
	t.Setenv("CANVAI_RELAY_URL", "")
	if got := relayFromEnv(); got != defaultRelayURL {
		t.Errorf("relayFromEnv() = %s, want %s", got, defaultRelayURL)
	}
	t.Setenv("CANVAI_RELAY_URL", "http://relay:9000")
	if got := relayFromEnv(); got != "http://relay:9000" {
		t.Errorf("relayFromEnv() = %s", got)
	}
}
