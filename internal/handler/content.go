package handler

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/voxleaf/voxleaf/pkg/catalog"
)

// queueFill caps how many entries a fresh auto-play queue receives.
const queueFill = 50

// playContent bumps the play counter and answers with the entry's URL,
// enabling the auto-play queue. Counter failures are logged, not fatal.
func playContent(ctx context.Context, env *Env, c *catalog.Content) *Response {
	if err := env.Catalog.IncrementPlayCount(ctx, c.ID); err != nil {
		env.log().Warn("increment play count failed", "content_id", c.ID, "error", err)
	}
	return &Response{PlayURL: c.URL, Queue: QueueEnable}
}

// refillQueue replaces the device's queue with the chosen entry followed by
// a shuffled selection of the same type, so auto-play has somewhere to go
// when the track finishes. Failures are logged and leave the old queue.
func refillQueue(ctx context.Context, env *Env, chosen *catalog.Content) {
	list, err := env.Catalog.GetContentList(ctx, chosen.Type, "", queueFill, true)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		env.log().Warn("queue refill lookup failed", "type", chosen.Type, "error", err)
		return
	}
	ids := make([]int64, 0, len(list)+1)
	ids = append(ids, chosen.ID)
	for _, c := range list {
		if c.ID != chosen.ID && c.Playable() {
			ids = append(ids, c.ID)
		}
	}
	if err := env.Queue.SetQueue(ctx, env.DeviceID, ids, 0); err != nil {
		env.log().Warn("queue refill failed", "device", env.DeviceID, "error", err)
	}
}

// firstPlayable returns the first playable entry, or nil.
func firstPlayable(list []*catalog.Content) *catalog.Content {
	for _, c := range list {
		if c.Playable() {
			return c
		}
	}
	return nil
}

// pickPlayable returns a random playable entry, or nil.
func pickPlayable(list []*catalog.Content) *catalog.Content {
	playable := make([]*catalog.Content, 0, len(list))
	for _, c := range list {
		if c.Playable() {
			playable = append(playable, c)
		}
	}
	if len(playable) == 0 {
		return nil
	}
	return playable[rand.IntN(len(playable))]
}
