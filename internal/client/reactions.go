package client

import (
	"slices"

	"github.com/madebynoam/canvai-sub001/internal/comments"
)

// displayEmoji is the emoji the server renders for a toggled emoji, so 🔥
// lands on the 🎉 chip.
func displayEmoji(emoji string) string {
	if c, ok := comments.ContentFor(emoji); ok {
		if e, ok := comments.EmojiFor(c); ok {
			return e
		}
	}
	return emoji
}

// emojiRank orders reactions the way the server aggregates them, so a
// reaction removed and re-added lands where it was.
func emojiRank(emoji string) int {
	emoji = displayEmoji(emoji)
	for i, c := range []string{"+1", "-1", "laugh", "heart", "rocket", "eyes", "hooray"} {
		if e, _ := comments.EmojiFor(c); e == emoji {
			return i
		}
	}
	return 1 << 10
}

// withdrawal remembers where a viewer reaction was removed from and its
// server id, so the next toggle puts it back in place.
type withdrawal struct {
	index int
	id    int64
	hasID bool
	valid bool
}

// toggleLocal flips the viewer's reaction of emoji on a copy of in. Users and
// ReactionIDs stay index-aligned. A removal returns what it took out; passing
// that back as prev on the next toggle restores it, so two toggles give back
// the input.
func toggleLocal(in []comments.Reaction, emoji, viewer string, prev withdrawal) ([]comments.Reaction, withdrawal) {
	emoji = displayEmoji(emoji)
	out := comments.CloneReactions(in)
	for i := range out {
		r := &out[i]
		if r.Emoji != emoji {
			continue
		}
		if r.ViewerHasReacted {
			w := withdraw(r, viewer)
			if r.Count <= 0 {
				return append(out[:i], out[i+1:]...), w
			}
			return out, w
		}
		restore(r, viewer, prev)
		return out, withdrawal{}
	}

	added := comments.Reaction{Emoji: emoji}
	restore(&added, viewer, prev)
	rank := emojiRank(emoji)
	pos := len(out)
	for i := range out {
		if emojiRank(out[i].Emoji) > rank {
			pos = i
			break
		}
	}
	return slices.Insert(out, pos, added), withdrawal{}
}

func withdraw(r *comments.Reaction, viewer string) withdrawal {
	r.Count--
	r.ViewerHasReacted = false

	idx := slices.Index(r.Users, viewer)
	if idx < 0 {
		return withdrawal{index: -1, valid: true}
	}
	w := withdrawal{index: idx, valid: true}
	r.Users = compact(slices.Delete(r.Users, idx, idx+1))
	if idx < len(r.ReactionIDs) {
		w.id, w.hasID = r.ReactionIDs[idx], true
		r.ReactionIDs = compact(slices.Delete(r.ReactionIDs, idx, idx+1))
	}
	return w
}

// restore adds the viewer's reaction. Without a withdrawal the id is unknown
// (0) until the server answers.
func restore(r *comments.Reaction, viewer string, prev withdrawal) {
	r.Count++
	r.ViewerHasReacted = true
	if prev.valid && prev.index < 0 {
		return
	}

	idx := len(r.Users)
	if prev.valid && prev.index <= len(r.Users) {
		idx = prev.index
	}
	aligned := len(r.ReactionIDs) == len(r.Users)
	r.Users = slices.Insert(r.Users, idx, viewer)
	if aligned && (!prev.valid || prev.hasID) {
		r.ReactionIDs = slices.Insert(r.ReactionIDs, idx, prev.id)
	}
}

func compact[T any](s []T) []T {
	if len(s) == 0 {
		return nil
	}
	return s
}
