package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxleaf/voxleaf/internal/nlu"
	"github.com/voxleaf/voxleaf/pkg/catalog"
)

// storyHandler plays stories: a random one for "讲故事", or a specific
// entry looked up by name for "我想听白雪公主".
type storyHandler struct{}

var _ Handler = (*storyHandler)(nil)

func (h *storyHandler) Handle(ctx context.Context, res nlu.Result, env *Env) (*Response, error) {
	switch res.Intent {
	case nlu.IntentPlayStory:
		return h.playRandom(ctx, env)
	case nlu.IntentPlayContent:
		return h.playNamed(ctx, res.Slots[nlu.SlotContentName], env)
	default:
		return nil, fmt.Errorf("handler: story cannot handle intent %q", res.Intent)
	}
}

func (h *storyHandler) playRandom(ctx context.Context, env *Env) (*Response, error) {
	c, err := env.Catalog.GetRandomByType(ctx, catalog.TypeStory, "")
	if errors.Is(err, catalog.ErrNotFound) {
		return &Response{Text: "抱歉，还没有可以播放的故事"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handler: pick story: %w", err)
	}
	refillQueue(ctx, env, c)
	return playContent(ctx, env, c), nil
}

func (h *storyHandler) playNamed(ctx context.Context, name string, env *Env) (*Response, error) {
	if name == "" {
		return h.playRandom(ctx, env)
	}
	matches, err := env.Catalog.SmartSearch(ctx, name, 5)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("handler: search %q: %w", name, err)
	}
	c := firstPlayable(matches)
	if c == nil {
		return &Response{Text: "没有找到" + name}, nil
	}
	refillQueue(ctx, env, c)
	return playContent(ctx, env, c), nil
}
