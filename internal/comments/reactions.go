package comments

import (
	gh "github.com/google/go-github/v66/github"
)

type reactionKind struct {
	emoji   string
	content string
}

// reactionTable is ordered; aggregation follows this order.
var reactionTable = []reactionKind{
	{"👍", "+1"},
	{"👎", "-1"},
	{"😄", "laugh"},
	{"❤️", "heart"},
	{"🚀", "rocket"},
	{"👀", "eyes"},
	{"🔥", "hooray"},
}

// hooray is posted for 🔥 but displayed as 🎉. A reaction made here and one
// made on github.com group together and always render as 🎉: a user who
// picks 🔥 sees their reaction appear on the 🎉 chip, and no 🔥 chip is ever
// shown. Clicking that 🎉 chip toggles hooray through inputAlias.
var displayOverride = map[string]string{
	"hooray": "🎉",
}

// inputAlias accepts display-only emojis as toggle input.
var inputAlias = map[string]string{
	"🎉": "hooray",
}

// ContentFor maps a display emoji onto GitHub's reaction content name.
func ContentFor(emoji string) (string, bool) {
	for _, k := range reactionTable {
		if k.emoji == emoji {
			return k.content, true
		}
	}
	if c, ok := inputAlias[emoji]; ok {
		return c, true
	}
	return "", false
}

// EmojiFor maps GitHub reaction content back to its display emoji.
func EmojiFor(content string) (string, bool) {
	if e, ok := displayOverride[content]; ok {
		return e, true
	}
	for _, k := range reactionTable {
		if k.content == content {
			return k.emoji, true
		}
	}
	return "", false
}

// Aggregate groups raw reactions by content. viewer is the login whose own
// reactions set ViewerHasReacted; contents outside the table are ignored.
func Aggregate(raw []*gh.Reaction, viewer string) []Reaction {
	out := make([]Reaction, 0)
	for _, k := range reactionTable {
		var agg *Reaction
		for _, r := range raw {
			if r == nil || r.GetContent() != k.content {
				continue
			}
			if agg == nil {
				emoji, _ := EmojiFor(k.content)
				agg = &Reaction{Emoji: emoji}
			}
			agg.Count++
			// Users and ReactionIDs are index-aligned, blank logins included.
			login := r.GetUser().GetLogin()
			agg.ReactionIDs = append(agg.ReactionIDs, r.GetID())
			agg.Users = append(agg.Users, login)
			if viewer != "" && login == viewer {
				agg.ViewerHasReacted = true
			}
		}
		if agg != nil {
			out = append(out, *agg)
		}
	}
	return out
}

// ForViewer recomputes ViewerHasReacted for another viewer.
func ForViewer(in []Reaction, viewer string) []Reaction {
	out := CloneReactions(in)
	for i := range out {
		out[i].ViewerHasReacted = false
		if viewer == "" {
			continue
		}
		for _, u := range out[i].Users {
			if u == viewer {
				out[i].ViewerHasReacted = true
				break
			}
		}
	}
	return out
}
