package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxleaf/voxleaf/internal/nlu"
	"github.com/voxleaf/voxleaf/pkg/catalog"
)

// musicHandler plays music: a random track, or an artist's tracks queued in
// order for "播放周杰伦的歌".
type musicHandler struct{}

var _ Handler = (*musicHandler)(nil)

func (h *musicHandler) Handle(ctx context.Context, res nlu.Result, env *Env) (*Response, error) {
	switch res.Intent {
	case nlu.IntentPlayMusic:
		return h.playRandom(ctx, env)
	case nlu.IntentPlayArtist:
		return h.playArtist(ctx, res.Slots[nlu.SlotArtistName], env)
	default:
		return nil, fmt.Errorf("handler: music cannot handle intent %q", res.Intent)
	}
}

func (h *musicHandler) playRandom(ctx context.Context, env *Env) (*Response, error) {
	c, err := env.Catalog.GetRandomByType(ctx, catalog.TypeMusic, "")
	if errors.Is(err, catalog.ErrNotFound) {
		return &Response{Text: "抱歉，还没有可以播放的音乐"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handler: pick music: %w", err)
	}
	refillQueue(ctx, env, c)
	return playContent(ctx, env, c), nil
}

func (h *musicHandler) playArtist(ctx context.Context, artist string, env *Env) (*Response, error) {
	if artist == "" {
		return h.playRandom(ctx, env)
	}
	tracks, err := env.Catalog.SearchByArtist(ctx, artist, catalog.TypeMusic)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("handler: search artist %q: %w", artist, err)
	}
	if firstPlayable(tracks) == nil {
		// No exact artist match; fall back to fuzzy search.
		matches, err := env.Catalog.SmartSearch(ctx, artist, 5)
		if err != nil && !errors.Is(err, catalog.ErrNotFound) {
			return nil, fmt.Errorf("handler: search %q: %w", artist, err)
		}
		c := firstPlayable(matches)
		if c == nil {
			return &Response{Text: "没有找到" + artist + "的歌"}, nil
		}
		refillQueue(ctx, env, c)
		return playContent(ctx, env, c), nil
	}

	// Queue every playable track by the artist, starting with the first.
	ids := make([]int64, 0, len(tracks))
	for _, c := range tracks {
		if c.Playable() {
			ids = append(ids, c.ID)
		}
	}
	first := firstPlayable(tracks)
	if err := env.Queue.SetQueue(ctx, env.DeviceID, ids, 0); err != nil {
		env.log().Warn("artist queue failed", "device", env.DeviceID, "error", err)
	}
	return playContent(ctx, env, first), nil
}
