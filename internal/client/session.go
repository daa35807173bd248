package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/madebynoam/canvai-sub001/internal/annotation"
	"github.com/madebynoam/canvai-sub001/internal/comments"
)

// State is the interaction state of a session.
type State string

const (
	StateIdle      State = "idle"
	StateTargeting State = "targeting"
	StateComposing State = "composing"
	StateViewing   State = "viewing"
)

var (
	ErrInvalidState   = errors.New("invalid state for this action")
	ErrUnknownThread  = errors.New("unknown thread")
	ErrUnknownMessage = errors.New("unknown message")
)

// pendingPrefix marks optimistic messages not yet confirmed by the relay.
const pendingPrefix = "pending-"

// SnapshotStyles lists the computed style properties kept when a target is
// selected.
var SnapshotStyles = []string{
	"color",
	"background-color",
	"font-family",
	"font-size",
	"font-weight",
	"line-height",
	"padding",
	"margin",
	"border-radius",
	"width",
	"height",
	"display",
}

// Element describes the element under the pointer when a target is picked.
type Element struct {
	FrameID        string
	ComponentName  string
	Selector       string
	ElementTag     string
	ElementText    string
	ComputedStyles map[string]string
}

// Target is the snapshot taken when composing starts. It is never re-read
// from the live element.
type Target struct {
	FrameID        string
	ComponentName  string
	Selector       string
	ElementTag     string
	ElementText    string
	ComputedStyles map[string]string
}

// Notice is a transient message for the user, such as a reverted reaction.
type Notice struct {
	Message string
	At      time.Time
}

// Point is a measured anchor position in frame coordinates.
type Point struct {
	X, Y float64
}

// PlacedPin is a pin with its measured position.
type PlacedPin struct {
	comments.Pin
	Position Point `json:"position"`
}

// Session is the local view of one UI session.
type Session struct {
	ID string

	backend Backend
	now     func() time.Time

	mu          sync.Mutex
	viewer      string
	state       State
	target      *Target
	draft       string
	viewing     string
	mode        annotation.Mode
	threads     map[string]*comments.Thread
	annotations map[string]annotation.Annotation
	notices     []Notice
	// withdrawn holds the viewer reactions removed locally while their
	// toggle is in flight, keyed by thread, message and emoji.
	withdrawn map[string]withdrawal
}

// NewSession creates an idle session acting as viewer (may be empty when
// signed out).
func NewSession(backend Backend, viewer string) *Session {
	return &Session{
		ID:          uuid.NewString(),
		backend:     backend,
		now:         time.Now,
		viewer:      viewer,
		state:       StateIdle,
		mode:        annotation.ModeManual,
		threads:     make(map[string]*comments.Thread),
		annotations: make(map[string]annotation.Annotation),
		withdrawn:   make(map[string]withdrawal),
	}
}

// SetViewer changes the signed-in login and recomputes viewer reaction state.
func (s *Session) SetViewer(login string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.viewer = login
	for _, t := range s.threads {
		for i := range t.Messages {
			t.Messages[i].Reactions = comments.ForViewer(t.Messages[i].Reactions, login)
		}
	}
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) Mode() annotation.Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Target returns a copy of the current snapshot, if composing.
func (s *Session) Target() (Target, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.target == nil {
		return Target{}, false
	}
	t := *s.target
	t.ComputedStyles = copyStyles(t.ComputedStyles)
	return t, true
}

func (s *Session) Draft() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.draft
}

// Viewing returns the id of the open thread.
func (s *Session) Viewing() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.viewing
}

// StartTargeting enters targeting from idle.
func (s *Session) StartTargeting() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: start targeting from %s", ErrInvalidState, s.state)
	}
	s.state = StateTargeting
	return nil
}

// SelectTarget snapshots el and enters composing.
func (s *Session) SelectTarget(el Element) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateTargeting {
		return fmt.Errorf("%w: select target from %s", ErrInvalidState, s.state)
	}
	styles := make(map[string]string)
	for _, k := range SnapshotStyles {
		if v, ok := el.ComputedStyles[k]; ok {
			styles[k] = v
		}
	}
	s.target = &Target{
		FrameID:        el.FrameID,
		ComponentName:  el.ComponentName,
		Selector:       el.Selector,
		ElementTag:     el.ElementTag,
		ElementText:    el.ElementText,
		ComputedStyles: styles,
	}
	s.draft = ""
	s.state = StateComposing
	return nil
}

// SetDraft updates the compose text.
func (s *Session) SetDraft(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateComposing {
		return fmt.Errorf("%w: edit draft in %s", ErrInvalidState, s.state)
	}
	s.draft = text
	return nil
}

// Cancel returns to idle from any state, dropping target and draft.
func (s *Session) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.resetLocked()
}

func (s *Session) resetLocked() {
	s.state = StateIdle
	s.target = nil
	s.draft = ""
	s.viewing = ""
}

// OpenThread enters viewing for a known thread.
func (s *Session) OpenThread(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateIdle {
		return fmt.Errorf("%w: open thread from %s", ErrInvalidState, s.state)
	}
	if _, ok := s.threads[id]; !ok {
		return ErrUnknownThread
	}
	s.state = StateViewing
	s.viewing = id
	return nil
}

// CloseThread leaves viewing.
func (s *Session) CloseThread() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateViewing {
		s.resetLocked()
	}
}

// Send posts the draft as a new thread. The session leaves composing at once;
// the thread shows up only once the relay confirms it.
func (s *Session) Send(ctx context.Context) (*comments.Thread, error) {
	s.mu.Lock()
	if s.state != StateComposing || s.target == nil {
		state := s.state
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: send from %s", ErrInvalidState, state)
	}
	if strings.TrimSpace(s.draft) == "" {
		s.mu.Unlock()
		return nil, comments.ErrEmptyComment
	}
	in := comments.CreateInput{
		FrameID:        s.target.FrameID,
		ComponentName:  s.target.ComponentName,
		Selector:       s.target.Selector,
		ElementTag:     s.target.ElementTag,
		ElementText:    s.target.ElementText,
		ComputedStyles: copyStyles(s.target.ComputedStyles),
		Comment:        s.draft,
	}
	s.resetLocked()
	s.mu.Unlock()

	t, err := s.backend.CreateThread(ctx, in)
	if err != nil {
		s.notify("Could not post comment: " + err.Error())
		return nil, err
	}

	s.mu.Lock()
	s.upsertLocked(*t)
	s.mu.Unlock()
	return t, nil
}

// Reply appends body to the thread optimistically and confirms it with the
// relay. On failure the optimistic message is removed.
func (s *Session) Reply(ctx context.Context, threadID, body string) (*comments.Message, error) {
	if strings.TrimSpace(body) == "" {
		return nil, comments.ErrEmptyComment
	}

	s.mu.Lock()
	t, ok := s.threads[threadID]
	if !ok {
		s.mu.Unlock()
		return nil, ErrUnknownThread
	}
	tempID := pendingPrefix + uuid.NewString()
	t.Messages = append(t.Messages, comments.Message{
		ID:        tempID,
		Author:    comments.Author{Login: s.viewer},
		Body:      body,
		Reactions: []comments.Reaction{},
		CreatedAt: s.now(),
	})
	s.mu.Unlock()

	m, err := s.backend.AddReply(ctx, threadID, body)

	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok = s.threads[threadID]
	if !ok {
		if err != nil {
			return nil, err
		}
		return m, nil
	}
	idx := messageIndex(t, tempID)
	if err != nil {
		if idx >= 0 {
			t.Messages = append(t.Messages[:idx], t.Messages[idx+1:]...)
		}
		s.notifyLocked("Could not post reply: " + err.Error())
		return nil, err
	}

	confirmed := m.Clone()
	confirmed.Reactions = comments.ForViewer(confirmed.Reactions, s.viewer)
	switch {
	case messageIndex(t, confirmed.ID) >= 0:
		// The reply-added event arrived first.
		if idx >= 0 {
			t.Messages = append(t.Messages[:idx], t.Messages[idx+1:]...)
		}
	case idx >= 0:
		t.Messages[idx] = confirmed
	default:
		t.Messages = append(t.Messages, confirmed)
	}
	return m, nil
}

// ToggleReaction flips the viewer's reaction locally and then on the relay.
// The server's answer replaces the local guess; a failure restores the
// previous reactions and leaves a notice.
func (s *Session) ToggleReaction(ctx context.Context, threadID, messageID, emoji string) ([]comments.Reaction, error) {
	s.mu.Lock()
	m, err := s.messageLocked(threadID, messageID)
	if err != nil {
		s.mu.Unlock()
		return nil, err
	}
	if strings.HasPrefix(messageID, pendingPrefix) {
		s.mu.Unlock()
		return nil, fmt.Errorf("%w: message not confirmed yet", ErrInvalidState)
	}
	previous := comments.CloneReactions(m.Reactions)
	key := threadID + "/" + messageID + "/" + displayEmoji(emoji)
	var w withdrawal
	m.Reactions, w = toggleLocal(m.Reactions, emoji, s.viewer, s.withdrawn[key])
	delete(s.withdrawn, key)
	if w.valid {
		s.withdrawn[key] = w
	}
	s.mu.Unlock()

	reactions, err := s.backend.ToggleReaction(ctx, threadID, messageID, emoji)

	s.mu.Lock()
	defer s.mu.Unlock()
	if w.valid && s.withdrawn[key] == w {
		delete(s.withdrawn, key)
	}
	m, lookupErr := s.messageLocked(threadID, messageID)
	if err != nil {
		if lookupErr == nil {
			m.Reactions = previous
		}
		s.notifyLocked("Could not update reaction: " + err.Error())
		return nil, err
	}
	reactions = comments.ForViewer(reactions, s.viewer)
	if lookupErr == nil {
		m.Reactions = reactions
	}
	return comments.CloneReactions(reactions), nil
}

// Resolve marks a thread resolved on the relay.
func (s *Session) Resolve(ctx context.Context, threadID string) error {
	t, err := s.backend.ResolveThread(ctx, threadID)
	if err != nil {
		s.notify("Could not resolve thread: " + err.Error())
		return err
	}
	s.mu.Lock()
	s.upsertLocked(*t)
	s.mu.Unlock()
	return nil
}

// Reopen reopens a resolved thread.
func (s *Session) Reopen(ctx context.Context, threadID string) error {
	t, err := s.backend.ReopenThread(ctx, threadID)
	if err != nil {
		s.notify("Could not reopen thread: " + err.Error())
		return err
	}
	s.mu.Lock()
	s.upsertLocked(*t)
	s.mu.Unlock()
	return nil
}

// Delete removes a thread from the shared set.
func (s *Session) Delete(ctx context.Context, threadID string) error {
	if err := s.backend.DeleteThread(ctx, threadID); err != nil {
		s.notify("Could not delete thread: " + err.Error())
		return err
	}
	s.mu.Lock()
	s.removeLocked(threadID)
	s.mu.Unlock()
	return nil
}

// Promote turns a message into an annotation for the agent and records the
// annotation on the thread.
func (s *Session) Promote(ctx context.Context, threadID, messageID string) (annotation.Annotation, error) {
	s.mu.Lock()
	_, err := s.messageLocked(threadID, messageID)
	s.mu.Unlock()
	if err != nil {
		return annotation.Annotation{}, err
	}

	res, err := s.backend.Promote(ctx, threadID, messageID)
	if err != nil {
		s.notify("Could not add as annotation: " + err.Error())
		return annotation.Annotation{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.annotations[res.Annotation.ID] = res.Annotation
	if t, ok := s.threads[threadID]; ok {
		t.AnnotationID = res.Annotation.ID
	}
	return res.Annotation, nil
}

// Refresh replaces the view with the relay's current state.
func (s *Session) Refresh(ctx context.Context) error {
	threads, err := s.backend.ListThreads(ctx)
	if err != nil {
		return err
	}
	anns, err := s.backend.ListAnnotations(ctx)
	if err != nil {
		return err
	}
	mode, err := s.backend.Mode(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.threads = make(map[string]*comments.Thread, len(threads))
	for _, t := range threads {
		s.upsertLocked(t)
	}
	s.annotations = make(map[string]annotation.Annotation, len(anns))
	for _, a := range anns {
		s.annotations[a.ID] = a
	}
	s.mode = mode
	if s.viewing != "" {
		if _, ok := s.threads[s.viewing]; !ok {
			s.resetLocked()
		}
	}
	return nil
}

// ApplyEvent folds one pushed event into the view. Applying the same event
// again leaves the view unchanged.
func (s *Session) ApplyEvent(name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch name {
	case annotation.EventMode:
		var ev annotation.ModeEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", name, err)
		}
		s.mode = ev.Mode
	case annotation.EventResolved:
		var ev annotation.ResolvedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", name, err)
		}
		if a, ok := s.annotations[ev.ID]; ok {
			a.Status = annotation.StatusResolved
			s.annotations[ev.ID] = a
		}
	case annotation.EventCreated:
		var ev annotation.CreatedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", name, err)
		}
		if _, ok := s.annotations[ev.Annotation.ID]; !ok {
			s.annotations[ev.Annotation.ID] = ev.Annotation
		}
	case comments.EventCreated, comments.EventResolved, comments.EventReopened, comments.EventLinked:
		var ev comments.ThreadEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", name, err)
		}
		s.upsertLocked(ev.Thread)
	case comments.EventReplyAdded:
		var ev comments.ReplyEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", name, err)
		}
		s.applyReplyLocked(ev.ThreadID, ev.Message)
	case comments.EventReactionToggled:
		var ev comments.ReactionEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", name, err)
		}
		if m, err := s.messageLocked(ev.ThreadID, ev.MessageID); err == nil {
			m.Reactions = comments.ForViewer(ev.Reactions, s.viewer)
		}
	case comments.EventDeleted:
		var ev comments.DeletedEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode %s event: %w", name, err)
		}
		s.removeLocked(ev.ThreadID)
	default:
		log.Debug().Str("component", "client").Str("event", name).Msg("ignoring unknown event")
	}
	return nil
}

func (s *Session) applyReplyLocked(threadID string, m comments.Message) {
	t, ok := s.threads[threadID]
	if !ok || messageIndex(t, m.ID) >= 0 {
		return
	}
	m = m.Clone()
	m.Reactions = comments.ForViewer(m.Reactions, s.viewer)
	// Our own optimistic copy of this reply is replaced in place.
	for i, existing := range t.Messages {
		if strings.HasPrefix(existing.ID, pendingPrefix) && existing.Author.Login == m.Author.Login && existing.Body == m.Body {
			t.Messages[i] = m
			return
		}
	}
	t.Messages = append(t.Messages, m)
}

// Threads returns copies of all threads, oldest first.
func (s *Session) Threads() []comments.Thread {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]comments.Thread, 0, len(s.threads))
	for _, t := range s.threads {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].GHIssueNumber != out[j].GHIssueNumber {
			return out[i].GHIssueNumber < out[j].GHIssueNumber
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Thread returns a copy of one thread.
func (s *Session) Thread(id string) (comments.Thread, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.threads[id]
	if !ok {
		return comments.Thread{}, false
	}
	return t.Clone(), true
}

// Annotations returns all known annotations ordered by id.
func (s *Session) Annotations() []annotation.Annotation {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]annotation.Annotation, 0, len(s.annotations))
	for _, a := range s.annotations {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		if len(out[i].ID) != len(out[j].ID) {
			return len(out[i].ID) < len(out[j].ID)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Pins projects the threads of a frame onto pins. measure locates a selector
// in the rendered frame; threads it cannot place are skipped.
func (s *Session) Pins(frameID string, measure func(selector string) (Point, bool)) []PlacedPin {
	var pins []PlacedPin
	for _, t := range s.Threads() {
		if t.FrameID != frameID {
			continue
		}
		pos, ok := measure(t.Selector)
		if !ok {
			continue
		}
		pins = append(pins, PlacedPin{Pin: comments.PinFor(t), Position: pos})
	}
	return pins
}

// Notices drains pending notices.
func (s *Session) Notices() []Notice {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.notices
	s.notices = nil
	return out
}

func (s *Session) notify(msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notifyLocked(msg)
}

func (s *Session) notifyLocked(msg string) {
	log.Warn().Str("component", "client").Str("session", s.ID).Msg(msg)
	s.notices = append(s.notices, Notice{Message: msg, At: s.now()})
}

// upsertLocked stores t, keeping unconfirmed local replies.
func (s *Session) upsertLocked(t comments.Thread) {
	t = t.Clone()
	for i := range t.Messages {
		t.Messages[i].Reactions = comments.ForViewer(t.Messages[i].Reactions, s.viewer)
	}
	if old, ok := s.threads[t.ID]; ok {
		for _, m := range old.Messages {
			if strings.HasPrefix(m.ID, pendingPrefix) {
				t.Messages = append(t.Messages, m)
			}
		}
		if t.AnnotationID == "" {
			t.AnnotationID = old.AnnotationID
		}
	}
	s.threads[t.ID] = &t
}

func (s *Session) removeLocked(threadID string) {
	delete(s.threads, threadID)
	if s.viewing == threadID {
		s.resetLocked()
	}
}

func (s *Session) messageLocked(threadID, messageID string) (*comments.Message, error) {
	t, ok := s.threads[threadID]
	if !ok {
		return nil, ErrUnknownThread
	}
	m, ok := t.Message(messageID)
	if !ok {
		return nil, ErrUnknownMessage
	}
	return m, nil
}

func messageIndex(t *comments.Thread, id string) int {
	for i := range t.Messages {
		if t.Messages[i].ID == id {
			return i
		}
	}
	return -1
}

func copyStyles(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
