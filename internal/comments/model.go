package comments

import (
	"fmt"
	"strconv"
	"time"

	gh "github.com/google/go-github/v66/github"
)

// requireIssue rejects issue payloads missing the fields a thread is built from.
func requireIssue(issue *gh.Issue) error {
	switch {
	case issue == nil:
		return fmt.Errorf("issue payload is empty")
	case issue.Number == nil:
		return fmt.Errorf("issue payload missing number")
	case issue.User == nil || issue.User.Login == nil:
		return fmt.Errorf("issue #%d payload missing user", issue.GetNumber())
	}
	return nil
}

func requireComment(c *gh.IssueComment) error {
	switch {
	case c == nil:
		return fmt.Errorf("comment payload is empty")
	case c.ID == nil:
		return fmt.Errorf("comment payload missing id")
	case c.User == nil || c.User.Login == nil:
		return fmt.Errorf("comment %d payload missing user", c.GetID())
	}
	return nil
}

func authorOf(u *gh.User) Author {
	return Author{Login: u.GetLogin(), AvatarURL: u.GetAvatarURL()}
}

func timeOf(ts *gh.Timestamp) time.Time {
	if ts == nil {
		return time.Time{}
	}
	return ts.Time
}

// buildThread translates an issue and its comments. Callers validate the
// payloads first.
func buildThread(issue *gh.Issue, comments []*gh.IssueComment, issueReactions []*gh.Reaction, commentReactions map[int64][]*gh.Reaction, viewer string) *Thread {
	number := issue.GetNumber()
	meta, text := Decode(issue.GetBody())

	t := &Thread{
		ID:            strconv.Itoa(number),
		GHIssueNumber: number,
		GHIssueURL:    issue.GetHTMLURL(),
		Author:        authorOf(issue.User),
		Status:        StatusOpen,
		CreatedAt:     timeOf(issue.CreatedAt),
		UpdatedAt:     timeOf(issue.UpdatedAt),
	}
	if issue.GetState() == "closed" {
		t.Status = StatusResolved
	}
	if meta != nil {
		t.FrameID = meta.FrameID
		t.ComponentName = meta.ComponentName
		t.Selector = meta.Selector
		t.ElementTag = meta.ElementTag
		t.ElementText = meta.ElementText
		t.ComputedStyles = meta.ComputedStyles
		t.AnnotationID = meta.AnnotationID
	}

	t.Messages = make([]Message, 0, len(comments)+1)
	t.Messages = append(t.Messages, Message{
		ID:         "issue-" + strconv.Itoa(number),
		Author:     t.Author,
		Body:       text,
		Reactions:  Aggregate(issueReactions, viewer),
		CreatedAt:  t.CreatedAt,
		IsOriginal: true,
	})
	for _, c := range comments {
		t.Messages = append(t.Messages, buildReply(c, commentReactions[c.GetID()], viewer))
	}
	return t
}

func buildReply(c *gh.IssueComment, raw []*gh.Reaction, viewer string) Message {
	_, text := Decode(c.GetBody())
	return Message{
		ID:          "comment-" + strconv.FormatInt(c.GetID(), 10),
		GHCommentID: c.GetID(),
		Author:      authorOf(c.User),
		Body:        text,
		Reactions:   Aggregate(raw, viewer),
		CreatedAt:   timeOf(c.CreatedAt),
	}
}

// ThreadFromIssue translates a webhook issue payload without fetching its
// comments.
func ThreadFromIssue(issue *gh.Issue) (*Thread, error) {
	if err := requireIssue(issue); err != nil {
		return nil, err
	}
	return buildThread(issue, nil, nil, nil, ""), nil
}

// MessageFromComment translates a webhook comment payload.
func MessageFromComment(c *gh.IssueComment) (*Message, error) {
	if err := requireComment(c); err != nil {
		return nil, err
	}
	m := buildReply(c, nil, "")
	return &m, nil
}

// Visible reports whether a webhook issue payload belongs to the thread set.
func (s *Store) Visible(issue *gh.Issue) bool {
	return s.visible(issue)
}
