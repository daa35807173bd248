package webhook

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	gh "github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"

	"github.com/madebynoam/canvai-sub001/internal/comments"
)

const maxPayloadBytes = 5 << 20

// Sink receives thread changes made directly on GitHub. *comments.Store
// implements it.
type Sink interface {
	Label() string
	Visible(issue *gh.Issue) bool
	GetThread(ctx context.Context, number int) (*comments.Thread, error)
	PublishThread(name string, t comments.Thread)
	PublishReply(threadID string, m comments.Message)
	PublishDeleted(threadID string)
}

// Handler turns signed GitHub deliveries into comment events, so edits made
// on github.com reach every open stream. Events the relay itself caused are
// published again; clients apply them idempotently.
type Handler struct {
	webhookSecret string
	sink          Sink
	deliveries    *deliveryDeduper
}

// NewHandler creates a webhook handler.
func NewHandler(webhookSecret string, sink Sink) *Handler {
	return &Handler{
		webhookSecret: webhookSecret,
		sink:          sink,
		deliveries:    newDeliveryDeduper(12 * time.Hour),
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	logger := log.With().Str("component", "webhook").Str("delivery", r.Header.Get("X-GitHub-Delivery")).Logger()

	// 1. Read payload
	payload, err := io.ReadAll(io.LimitReader(r.Body, maxPayloadBytes))
	if err != nil {
		logger.Warn().Err(err).Msg("error reading payload")
		http.Error(w, "Error reading payload", http.StatusBadRequest)
		return
	}

	// 2. Verify signature
	if err := VerifySignature(payload, r.Header.Get("X-Hub-Signature-256"), h.webhookSecret); err != nil {
		logger.Warn().Err(err).Msg("signature verification failed")
		http.Error(w, "Invalid signature", http.StatusUnauthorized)
		return
	}

	// 3. Skip redeliveries
	if !h.deliveries.markIfNew(r.Header.Get("X-GitHub-Delivery")) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("Duplicate delivery"))
		return
	}

	// 4. Dispatch by event type
	eventType := gh.WebHookType(r)
	event, err := gh.ParseWebHook(eventType, payload)
	if err != nil {
		logger.Debug().Err(err).Str("event", eventType).Msg("unsupported event")
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Event ignored"))
		return
	}

	var handled bool
	switch e := event.(type) {
	case *gh.PingEvent:
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("pong"))
		return
	case *gh.IssuesEvent:
		handled = h.handleIssue(r.Context(), e)
	case *gh.IssueCommentEvent:
		handled = h.handleIssueComment(e)
	}

	if !handled {
		w.WriteHeader(http.StatusAccepted)
		_, _ = w.Write([]byte("Event ignored"))
		return
	}
	logger.Info().Str("event", eventType).Msg("remote change published")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Event published"))
}

func (h *Handler) handleIssue(ctx context.Context, e *gh.IssuesEvent) bool {
	issue := e.GetIssue()
	if issue == nil {
		return false
	}
	threadID := strconv.Itoa(issue.GetNumber())

	// the payload of an unlabeled event no longer carries the label
	if e.GetAction() == "unlabeled" {
		if e.GetLabel().GetName() != h.sink.Label() {
			return false
		}
		h.sink.PublishDeleted(threadID)
		return true
	}
	if !hasLabel(issue, h.sink.Label()) {
		return false
	}

	switch e.GetAction() {
	case "deleted":
		h.sink.PublishDeleted(threadID)
		return true
	case "closed":
		if issue.GetStateReason() == "not_planned" {
			h.sink.PublishDeleted(threadID)
			return true
		}
		return h.publishThread(ctx, comments.EventResolved, issue)
	case "reopened":
		return h.publishThread(ctx, comments.EventReopened, issue)
	case "opened":
		return h.publishThread(ctx, comments.EventCreated, issue)
	case "labeled":
		// a thread appears when the discriminator label is added later
		if e.GetLabel().GetName() != h.sink.Label() {
			return false
		}
		return h.publishThread(ctx, comments.EventCreated, issue)
	}
	return false
}

// publishThread reloads the whole thread so subscribers replacing their copy
// keep every reply. A freshly opened issue has no replies and is built from
// the payload when the reload fails.
func (h *Handler) publishThread(ctx context.Context, name string, issue *gh.Issue) bool {
	if !h.sink.Visible(issue) {
		return false
	}
	t, err := h.sink.GetThread(ctx, issue.GetNumber())
	if err != nil && name == comments.EventCreated {
		t, err = comments.ThreadFromIssue(issue)
	}
	if err != nil {
		log.Warn().Err(err).Str("component", "webhook").Int("issue", issue.GetNumber()).Msg("could not load thread")
		return false
	}
	h.sink.PublishThread(name, *t)
	return true
}

func (h *Handler) handleIssueComment(e *gh.IssueCommentEvent) bool {
	if e.GetAction() != "created" {
		return false
	}
	issue := e.GetIssue()
	if issue == nil || !h.sink.Visible(issue) {
		return false
	}
	m, err := comments.MessageFromComment(e.GetComment())
	if err != nil {
		log.Warn().Err(err).Str("component", "webhook").Int("issue", issue.GetNumber()).Msg("malformed comment payload")
		return false
	}
	h.sink.PublishReply(strconv.Itoa(issue.GetNumber()), *m)
	return true
}

func hasLabel(issue *gh.Issue, label string) bool {
	for _, l := range issue.Labels {
		if l.GetName() == label {
			return true
		}
	}
	return false
}
