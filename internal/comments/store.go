package comments

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	gh "github.com/google/go-github/v66/github"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/madebynoam/canvai-sub001/internal/events"
	"github.com/madebynoam/canvai-sub001/internal/github"
)

const (
	DefaultLabel          = "canvai-comment"
	DefaultTitlePrefix    = "Canvai"
	DefaultMaxConcurrency = 8

	stateReasonDeleted = "not_planned"
	perPage            = 100
)

// ClientSource hands out an authenticated client and the login it acts as.
// *github.Clients implements it.
type ClientSource interface {
	Client(ctx context.Context) (*gh.Client, string, error)
}

// Publisher is the push side of the event broker.
type Publisher interface {
	Publish(topic string, event events.Event) int
}

// Options configures a Store.
type Options struct {
	Label          string
	TitlePrefix    string
	MaxConcurrency int64
}

// Store maps labelled GitHub issues of one repository onto threads.
type Store struct {
	clients   ClientSource
	repo      github.Repo
	opts      Options
	publisher Publisher
	locks     *keyedMutex
}

// NewStore creates a store. publisher may be nil.
func NewStore(clients ClientSource, repo github.Repo, opts Options, publisher Publisher) *Store {
	if opts.Label == "" {
		opts.Label = DefaultLabel
	}
	if opts.TitlePrefix == "" {
		opts.TitlePrefix = DefaultTitlePrefix
	}
	if opts.MaxConcurrency <= 0 {
		opts.MaxConcurrency = DefaultMaxConcurrency
	}
	return &Store{
		clients:   clients,
		repo:      repo,
		opts:      opts,
		publisher: publisher,
		locks:     newKeyedMutex(),
	}
}

// Label is the discriminator label of the thread set.
func (s *Store) Label() string { return s.opts.Label }

// ListThreads returns every visible thread. Issues are listed once; comments
// and reactions of each issue are fetched concurrently.
func (s *Store) ListThreads(ctx context.Context) ([]Thread, error) {
	client, viewer, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}

	var issues []*gh.Issue
	opts := &gh.IssueListByRepoOptions{
		State:       "all",
		Labels:      []string{s.opts.Label},
		ListOptions: gh.ListOptions{PerPage: perPage},
	}
	for {
		var page []*gh.Issue
		var resp *gh.Response
		err := github.RetryRead(ctx, func() error {
			var err error
			page, resp, err = client.Issues.ListByRepo(ctx, s.repo.Owner, s.repo.Name, opts)
			return github.Translate(err)
		})
		if err != nil {
			return nil, fmt.Errorf("list issues: %w", err)
		}
		for _, issue := range page {
			if s.visible(issue) {
				issues = append(issues, issue)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	threads := make([]Thread, len(issues))
	sem := semaphore.NewWeighted(s.opts.MaxConcurrency)
	g, gctx := errgroup.WithContext(ctx)
	for i, issue := range issues {
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			t, err := s.loadThread(gctx, client, issue, viewer)
			if err != nil {
				return err
			}
			threads[i] = *t
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log.Debug().Str("component", "comments").Int("threads", len(threads)).Msg("listed threads")
	return threads, nil
}

// GetThread fetches one thread by issue number.
func (s *Store) GetThread(ctx context.Context, number int) (*Thread, error) {
	client, viewer, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}
	issue, err := s.visibleIssue(ctx, client, number)
	if err != nil {
		return nil, err
	}
	return s.loadThread(ctx, client, issue, viewer)
}

// CreateThread opens a labelled issue carrying the metadata block.
func (s *Store) CreateThread(ctx context.Context, in CreateInput) (*Thread, error) {
	text := Sanitize(in.Comment)
	if text == "" {
		return nil, ErrEmptyComment
	}
	client, viewer, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}

	req := &gh.IssueRequest{
		Title:  gh.String(Title(s.opts.TitlePrefix, in.ComponentName, in.ElementTag, text)),
		Body:   gh.String(Encode(MetaFor(in), text)),
		Labels: &[]string{s.opts.Label},
	}
	issue, _, err := client.Issues.Create(ctx, s.repo.Owner, s.repo.Name, req)
	if err != nil {
		return nil, fmt.Errorf("create issue: %w", github.Translate(err))
	}
	if err := requireIssue(issue); err != nil {
		return nil, err
	}

	t := buildThread(issue, nil, nil, nil, viewer)
	log.Info().Str("component", "comments").Int("issue", issue.GetNumber()).Msg("thread created")
	s.publish(EventCreated, ThreadEvent{Type: EventCreated, Thread: t.Clone()})
	return t, nil
}

// AddReply posts a comment on the thread's issue.
func (s *Store) AddReply(ctx context.Context, number int, body string) (*Message, error) {
	text := Sanitize(body)
	if text == "" {
		return nil, ErrEmptyComment
	}
	unlock := s.lock(number)
	defer unlock()

	client, _, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleIssue(ctx, client, number); err != nil {
		return nil, err
	}
	c, _, err := client.Issues.CreateComment(ctx, s.repo.Owner, s.repo.Name, number, &gh.IssueComment{Body: gh.String(Encode(nil, text))})
	if err != nil {
		return nil, fmt.Errorf("create comment: %w", github.Translate(err))
	}
	if err := requireComment(c); err != nil {
		return nil, err
	}

	m := buildReply(c, nil, "")
	s.publish(EventReplyAdded, ReplyEvent{Type: EventReplyAdded, ThreadID: strconv.Itoa(number), Message: m.Clone()})
	return &m, nil
}

// ResolveThread closes the issue as completed.
func (s *Store) ResolveThread(ctx context.Context, number int) (*Thread, error) {
	t, err := s.setState(ctx, number, "closed", "completed")
	if err != nil {
		return nil, err
	}
	s.publish(EventResolved, ThreadEvent{Type: EventResolved, Thread: t.Clone()})
	return t, nil
}

// ReopenThread reopens a resolved thread.
func (s *Store) ReopenThread(ctx context.Context, number int) (*Thread, error) {
	t, err := s.setState(ctx, number, "open", "reopened")
	if err != nil {
		return nil, err
	}
	s.publish(EventReopened, ThreadEvent{Type: EventReopened, Thread: t.Clone()})
	return t, nil
}

// DeleteThread closes the issue as not planned, which hides it from listings.
// Nothing is destroyed on GitHub.
func (s *Store) DeleteThread(ctx context.Context, number int) error {
	unlock := s.lock(number)
	defer unlock()

	client, _, err := s.clients.Client(ctx)
	if err != nil {
		return err
	}
	if _, err := s.visibleIssue(ctx, client, number); err != nil {
		return err
	}
	req := &gh.IssueRequest{State: gh.String("closed"), StateReason: gh.String(stateReasonDeleted)}
	if _, _, err := client.Issues.Edit(ctx, s.repo.Owner, s.repo.Name, number, req); err != nil {
		return fmt.Errorf("close issue: %w", github.Translate(err))
	}
	s.publish(EventDeleted, DeletedEvent{Type: EventDeleted, ThreadID: strconv.Itoa(number)})
	return nil
}

// AddReaction reacts to a message and returns its new reaction list.
func (s *Store) AddReaction(ctx context.Context, number int, messageID, emoji string) ([]Reaction, error) {
	content, ok := ContentFor(emoji)
	if !ok {
		return nil, ErrUnknownEmoji
	}
	target, err := parseMessageID(messageID, number)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(number)
	defer unlock()

	client, viewer, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleIssue(ctx, client, number); err != nil {
		return nil, err
	}
	if err := s.createReaction(ctx, client, target, content); err != nil {
		return nil, err
	}
	return s.reactionsChanged(ctx, client, number, messageID, target, viewer)
}

// RemoveReaction deletes one raw reaction and returns the new reaction list.
func (s *Store) RemoveReaction(ctx context.Context, number int, messageID string, reactionID int64) ([]Reaction, error) {
	target, err := parseMessageID(messageID, number)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(number)
	defer unlock()

	client, viewer, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleIssue(ctx, client, number); err != nil {
		return nil, err
	}
	if err := s.deleteReaction(ctx, client, target, reactionID); err != nil {
		return nil, err
	}
	return s.reactionsChanged(ctx, client, number, messageID, target, viewer)
}

// ToggleReaction removes the viewer's reaction of that emoji if present and
// adds it otherwise. It needs a signed-in user to know whose reaction to flip.
func (s *Store) ToggleReaction(ctx context.Context, number int, messageID, emoji string) ([]Reaction, error) {
	content, ok := ContentFor(emoji)
	if !ok {
		return nil, ErrUnknownEmoji
	}
	target, err := parseMessageID(messageID, number)
	if err != nil {
		return nil, err
	}
	unlock := s.lock(number)
	defer unlock()

	client, viewer, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}
	if viewer == "" {
		return nil, github.ErrNotAuthenticated
	}
	if _, err := s.visibleIssue(ctx, client, number); err != nil {
		return nil, err
	}

	raw, err := s.listReactions(ctx, client, target)
	if err != nil {
		return nil, err
	}
	var own int64
	for _, r := range raw {
		if r.GetContent() == content && r.GetUser().GetLogin() == viewer {
			own = r.GetID()
			break
		}
	}
	if own != 0 {
		err = s.deleteReaction(ctx, client, target, own)
	} else {
		err = s.createReaction(ctx, client, target, content)
	}
	if err != nil {
		return nil, err
	}
	return s.reactionsChanged(ctx, client, number, messageID, target, viewer)
}

// LinkAnnotation records the annotation promoted from a thread in its
// metadata block.
func (s *Store) LinkAnnotation(ctx context.Context, number int, annotationID string) (*Thread, error) {
	unlock := s.lock(number)
	defer unlock()

	client, viewer, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}
	issue, err := s.visibleIssue(ctx, client, number)
	if err != nil {
		return nil, err
	}

	meta, text := Decode(issue.GetBody())
	if meta == nil {
		meta = &Meta{}
	}
	meta.AnnotationID = annotationID
	edited, _, err := client.Issues.Edit(ctx, s.repo.Owner, s.repo.Name, number, &gh.IssueRequest{Body: gh.String(Encode(meta, text))})
	if err != nil {
		return nil, fmt.Errorf("edit issue: %w", github.Translate(err))
	}
	if err := requireIssue(edited); err != nil {
		return nil, err
	}
	t, err := s.loadThread(ctx, client, edited, viewer)
	if err != nil {
		return nil, err
	}
	s.publish(EventLinked, ThreadEvent{Type: EventLinked, Thread: t.Clone()})
	return t, nil
}

func (s *Store) setState(ctx context.Context, number int, state, reason string) (*Thread, error) {
	unlock := s.lock(number)
	defer unlock()

	client, viewer, err := s.clients.Client(ctx)
	if err != nil {
		return nil, err
	}
	if _, err := s.visibleIssue(ctx, client, number); err != nil {
		return nil, err
	}
	req := &gh.IssueRequest{State: gh.String(state), StateReason: gh.String(reason)}
	issue, _, err := client.Issues.Edit(ctx, s.repo.Owner, s.repo.Name, number, req)
	if err != nil {
		return nil, fmt.Errorf("edit issue: %w", github.Translate(err))
	}
	if err := requireIssue(issue); err != nil {
		return nil, err
	}
	return s.loadThread(ctx, client, issue, viewer)
}

func (s *Store) getIssue(ctx context.Context, client *gh.Client, number int) (*gh.Issue, error) {
	var issue *gh.Issue
	err := github.RetryRead(ctx, func() error {
		var err error
		issue, _, err = client.Issues.Get(ctx, s.repo.Owner, s.repo.Name, number)
		return github.Translate(err)
	})
	if err != nil {
		if te, ok := github.AsTrackerError(err); ok && te.Status == 404 {
			return nil, ErrThreadNotFound
		}
		return nil, fmt.Errorf("get issue: %w", err)
	}
	if err := requireIssue(issue); err != nil {
		return nil, err
	}
	return issue, nil
}

// visibleIssue fetches an issue and fails with ErrThreadNotFound unless it
// belongs to the thread set. Every write checks it first.
func (s *Store) visibleIssue(ctx context.Context, client *gh.Client, number int) (*gh.Issue, error) {
	issue, err := s.getIssue(ctx, client, number)
	if err != nil {
		return nil, err
	}
	if !s.visible(issue) {
		return nil, ErrThreadNotFound
	}
	return issue, nil
}

// visible reports whether an issue belongs to the thread set.
func (s *Store) visible(issue *gh.Issue) bool {
	if issue == nil || issue.IsPullRequest() || requireIssue(issue) != nil {
		return false
	}
	if issue.GetState() == "closed" && issue.GetStateReason() == stateReasonDeleted {
		return false
	}
	for _, l := range issue.Labels {
		if l.GetName() == s.opts.Label {
			return true
		}
	}
	return false
}

func (s *Store) loadThread(ctx context.Context, client *gh.Client, issue *gh.Issue, viewer string) (*Thread, error) {
	number := issue.GetNumber()

	var comments []*gh.IssueComment
	opts := &gh.IssueListCommentsOptions{ListOptions: gh.ListOptions{PerPage: perPage}}
	for {
		var page []*gh.IssueComment
		var resp *gh.Response
		err := github.RetryRead(ctx, func() error {
			var err error
			page, resp, err = client.Issues.ListComments(ctx, s.repo.Owner, s.repo.Name, number, opts)
			return github.Translate(err)
		})
		if err != nil {
			return nil, fmt.Errorf("list comments of #%d: %w", number, err)
		}
		for _, c := range page {
			if requireComment(c) == nil {
				comments = append(comments, c)
			}
		}
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}

	var issueReactions []*gh.Reaction
	if hasReactions(issue.Reactions) {
		var err error
		issueReactions, err = s.listReactions(ctx, client, reactionTarget{issue: number})
		if err != nil {
			return nil, err
		}
	}
	commentReactions := make(map[int64][]*gh.Reaction)
	for _, c := range comments {
		if !hasReactions(c.Reactions) {
			continue
		}
		raw, err := s.listReactions(ctx, client, reactionTarget{issue: number, comment: c.GetID()})
		if err != nil {
			return nil, err
		}
		commentReactions[c.GetID()] = raw
	}

	return buildThread(issue, comments, issueReactions, commentReactions, viewer), nil
}

// hasReactions is false only when GitHub reported a zero rollup.
func hasReactions(r *gh.Reactions) bool {
	return r == nil || r.GetTotalCount() > 0
}

type reactionTarget struct {
	issue   int
	comment int64
}

func (s *Store) listReactions(ctx context.Context, client *gh.Client, target reactionTarget) ([]*gh.Reaction, error) {
	var all []*gh.Reaction
	opts := &gh.ListOptions{PerPage: perPage}
	for {
		var page []*gh.Reaction
		var resp *gh.Response
		err := github.RetryRead(ctx, func() error {
			var err error
			if target.comment != 0 {
				page, resp, err = client.Reactions.ListIssueCommentReactions(ctx, s.repo.Owner, s.repo.Name, target.comment, opts)
			} else {
				page, resp, err = client.Reactions.ListIssueReactions(ctx, s.repo.Owner, s.repo.Name, target.issue, opts)
			}
			return github.Translate(err)
		})
		if err != nil {
			return nil, fmt.Errorf("list reactions: %w", err)
		}
		all = append(all, page...)
		if resp == nil || resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

func (s *Store) createReaction(ctx context.Context, client *gh.Client, target reactionTarget, content string) error {
	var err error
	if target.comment != 0 {
		_, _, err = client.Reactions.CreateIssueCommentReaction(ctx, s.repo.Owner, s.repo.Name, target.comment, content)
	} else {
		_, _, err = client.Reactions.CreateIssueReaction(ctx, s.repo.Owner, s.repo.Name, target.issue, content)
	}
	if err != nil {
		return fmt.Errorf("create reaction: %w", github.Translate(err))
	}
	return nil
}

func (s *Store) deleteReaction(ctx context.Context, client *gh.Client, target reactionTarget, reactionID int64) error {
	var err error
	if target.comment != 0 {
		_, err = client.Reactions.DeleteIssueCommentReaction(ctx, s.repo.Owner, s.repo.Name, target.comment, reactionID)
	} else {
		_, err = client.Reactions.DeleteIssueReaction(ctx, s.repo.Owner, s.repo.Name, target.issue, reactionID)
	}
	if err != nil {
		return fmt.Errorf("delete reaction: %w", github.Translate(err))
	}
	return nil
}

func (s *Store) reactionsChanged(ctx context.Context, client *gh.Client, number int, messageID string, target reactionTarget, viewer string) ([]Reaction, error) {
	raw, err := s.listReactions(ctx, client, target)
	if err != nil {
		return nil, err
	}
	reactions := Aggregate(raw, viewer)
	s.publish(EventReactionToggled, ReactionEvent{
		Type:      EventReactionToggled,
		ThreadID:  strconv.Itoa(number),
		MessageID: messageID,
		Reactions: CloneReactions(reactions),
	})
	return reactions, nil
}

func (s *Store) publish(name string, payload any) {
	if s.publisher == nil {
		return
	}
	s.publisher.Publish(events.TopicComments, events.Event{Name: name, Payload: payload})
}

func (s *Store) lock(number int) func() {
	key := strconv.Itoa(number)
	s.locks.Lock(key)
	return func() { s.locks.Unlock(key) }
}

// parseMessageID resolves "issue-<N>" or "comment-<ID>" within thread number.
func parseMessageID(id string, number int) (reactionTarget, error) {
	kind, raw, ok := strings.Cut(id, "-")
	if !ok {
		return reactionTarget{}, ErrInvalidMessage
	}
	n, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || n <= 0 {
		return reactionTarget{}, ErrInvalidMessage
	}
	switch kind {
	case "issue":
		if int(n) != number {
			return reactionTarget{}, ErrMessageNotFound
		}
		return reactionTarget{issue: number}, nil
	case "comment":
		return reactionTarget{issue: number, comment: n}, nil
	}
	return reactionTarget{}, ErrInvalidMessage
}

// PublishThread pushes a thread-level event for a change made outside the
// relay, such as an edit on github.com.
func (s *Store) PublishThread(name string, t Thread) {
	s.publish(name, ThreadEvent{Type: name, Thread: t.Clone()})
}

// PublishReply pushes a reply made outside the relay.
func (s *Store) PublishReply(threadID string, m Message) {
	s.publish(EventReplyAdded, ReplyEvent{Type: EventReplyAdded, ThreadID: threadID, Message: m.Clone()})
}

// PublishDeleted pushes a deletion made outside the relay.
func (s *Store) PublishDeleted(threadID string) {
	s.publish(EventDeleted, DeletedEvent{Type: EventDeleted, ThreadID: threadID})
}

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{
		locks: make(map[string]*sync.Mutex),
	}
}

func (k *keyedMutex) Lock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	if !ok {
		m = &sync.Mutex{}
		k.locks[key] = m
	}
	k.mu.Unlock()

	m.Lock()
}

func (k *keyedMutex) Unlock(key string) {
	k.mu.Lock()
	m, ok := k.locks[key]
	k.mu.Unlock()

	if !ok {
		return
	}

	m.Unlock()
}
