package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/auth"
	"github.com/madebynoam/canvai-sub001/internal/comments"
	"github.com/madebynoam/canvai-sub001/internal/events"
)

// APIError is a non-2xx answer from the relay.
type APIError struct {
	Status  int
	Message string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("relay error %d: %s", e.Status, e.Message)
}

// IsStatus reports whether err is an APIError with the given status.
func IsStatus(err error, status int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Status == status
}

// RelayClient talks to a relay over HTTP.
type RelayClient struct {
	baseURL string
	http    *http.Client
	// stream has no timeout; long polls and event streams end with ctx.
	stream *http.Client
}

// NewRelayClient creates a client for the relay at baseURL.
func NewRelayClient(baseURL string) *RelayClient {
	return &RelayClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: 30 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *RelayClient) do(ctx context.Context, hc *http.Client, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var envelope struct {
			Error string `json:"error"`
		}
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
		if json.Unmarshal(data, &envelope) != nil || envelope.Error == "" {
			envelope.Error = strings.TrimSpace(string(data))
		}
		return &APIError{Status: resp.StatusCode, Message: envelope.Error}
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s %s: %w", method, path, err)
	}
	return nil
}

// SubmitAnnotation queues a change request for the agent.
func (c *RelayClient) SubmitAnnotation(ctx context.Context, in annotation.Input) (annotation.Annotation, error) {
	var a annotation.Annotation
	err := c.do(ctx, c.http, http.MethodPost, "/annotations", in, &a)
	return a, err
}

// NextAnnotation long-polls for the oldest pending annotation.
func (c *RelayClient) NextAnnotation(ctx context.Context) (annotation.Annotation, error) {
	var a annotation.Annotation
	err := c.do(ctx, c.stream, http.MethodGet, "/annotations/next", nil, &a)
	return a, err
}

// ListAnnotations lists every annotation.
func (c *RelayClient) ListAnnotations(ctx context.Context) ([]annotation.Annotation, error) {
	var out []annotation.Annotation
	err := c.do(ctx, c.http, http.MethodGet, "/annotations", nil, &out)
	return out, err
}

// ListPending lists pending annotations.
func (c *RelayClient) ListPending(ctx context.Context) ([]annotation.Annotation, error) {
	var out []annotation.Annotation
	err := c.do(ctx, c.http, http.MethodGet, "/annotations?status=pending", nil, &out)
	return out, err
}

// ResolveAnnotation marks an annotation resolved.
func (c *RelayClient) ResolveAnnotation(ctx context.Context, id string) (annotation.Annotation, error) {
	var a annotation.Annotation
	err := c.do(ctx, c.http, http.MethodPost, "/annotations/"+url.PathEscape(id)+"/resolve", nil, &a)
	return a, err
}

// Mode reports whether an agent is watching.
func (c *RelayClient) Mode(ctx context.Context) (annotation.Mode, error) {
	var out struct {
		Mode annotation.Mode `json:"mode"`
	}
	err := c.do(ctx, c.http, http.MethodGet, "/mode", nil, &out)
	return out.Mode, err
}

func (c *RelayClient) ListThreads(ctx context.Context) ([]comments.Thread, error) {
	var out []comments.Thread
	err := c.do(ctx, c.http, http.MethodGet, "/comments", nil, &out)
	return out, err
}

func (c *RelayClient) CreateThread(ctx context.Context, in comments.CreateInput) (*comments.Thread, error) {
	var t comments.Thread
	if err := c.do(ctx, c.http, http.MethodPost, "/comments", in, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *RelayClient) AddReply(ctx context.Context, threadID, body string) (*comments.Message, error) {
	var m comments.Message
	req := map[string]string{"body": body}
	if err := c.do(ctx, c.http, http.MethodPost, "/comments/"+url.PathEscape(threadID)+"/replies", req, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (c *RelayClient) ToggleReaction(ctx context.Context, threadID, messageID, emoji string) ([]comments.Reaction, error) {
	var out struct {
		Reactions []comments.Reaction `json:"reactions"`
	}
	req := map[string]string{"messageId": messageID, "emoji": emoji}
	if err := c.do(ctx, c.http, http.MethodPost, "/comments/"+url.PathEscape(threadID)+"/reactions", req, &out); err != nil {
		return nil, err
	}
	return out.Reactions, nil
}

func (c *RelayClient) ResolveThread(ctx context.Context, threadID string) (*comments.Thread, error) {
	var t comments.Thread
	if err := c.do(ctx, c.http, http.MethodPost, "/comments/"+url.PathEscape(threadID)+"/resolve", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *RelayClient) ReopenThread(ctx context.Context, threadID string) (*comments.Thread, error) {
	var t comments.Thread
	if err := c.do(ctx, c.http, http.MethodPost, "/comments/"+url.PathEscape(threadID)+"/reopen", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

func (c *RelayClient) DeleteThread(ctx context.Context, threadID string) error {
	return c.do(ctx, c.http, http.MethodDelete, "/comments/"+url.PathEscape(threadID), nil, nil)
}

func (c *RelayClient) Promote(ctx context.Context, threadID, messageID string) (*comments.PromoteResult, error) {
	var out comments.PromoteResult
	req := map[string]string{"messageId": messageID}
	if err := c.do(ctx, c.http, http.MethodPost, "/comments/"+url.PathEscape(threadID)+"/promote", req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CurrentUser returns the signed-in identity, or nil when signed out.
func (c *RelayClient) CurrentUser(ctx context.Context) (*auth.User, error) {
	var out struct {
		User *auth.User `json:"user"`
	}
	err := c.do(ctx, c.http, http.MethodGet, "/auth/user", nil, &out)
	if IsStatus(err, http.StatusUnauthorized) {
		return nil, nil
	}
	return out.User, err
}

// StartLogin asks the relay for a device code.
func (c *RelayClient) StartLogin(ctx context.Context) (*auth.Session, error) {
	var out auth.DeviceCodeResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/auth/device-code", nil, &out); err != nil {
		return nil, err
	}
	return out.Session(time.Now()), nil
}

// Poll implements auth.Poller through the relay.
func (c *RelayClient) Poll(ctx context.Context, deviceCode string) (auth.PollResult, error) {
	var out auth.PollResponse
	if err := c.do(ctx, c.http, http.MethodPost, "/auth/poll", auth.PollRequest{DeviceCode: deviceCode}, &out); err != nil {
		return auth.PollResult{}, err
	}
	return out.Result(), nil
}

// Login runs the whole device flow through the relay. onCode is called once
// with the code to show the user.
func (c *RelayClient) Login(ctx context.Context, onCode func(*auth.Session)) (*auth.User, error) {
	sess, err := c.StartLogin(ctx)
	if err != nil {
		return nil, err
	}
	if onCode != nil {
		onCode(sess)
	}
	return auth.Await(ctx, c, sess)
}

// Logout clears the relay's credential.
func (c *RelayClient) Logout(ctx context.Context) error {
	return c.do(ctx, c.http, http.MethodPost, "/auth/logout", nil, nil)
}

// Subscribe streams the events at path ("/annotations/events" or
// "/comments/events") into fn until ctx ends or the stream closes.
func (c *RelayClient) Subscribe(ctx context.Context, path string, fn func(events.Message)) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.stream.Do(req)
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return &APIError{Status: resp.StatusCode, Message: "event stream unavailable"}
	}
	return events.ReadStream(ctx, resp.Body, fn)
}

// Follow applies the annotation and comment streams to s until ctx ends.
func (c *RelayClient) Follow(ctx context.Context, s *Session) error {
	apply := func(m events.Message) {
		if err := s.ApplyEvent(m.Name, m.Data); err != nil {
			log.Warn().Err(err).Str("component", "client").Str("event", m.Name).Msg("dropping malformed event")
		}
	}
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.Subscribe(gctx, "/annotations/events", apply) })
	g.Go(func() error { return c.Subscribe(gctx, "/comments/events", apply) })
	return g.Wait()
}
