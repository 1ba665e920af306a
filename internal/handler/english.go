package handler

import (
	"context"
	"errors"
	"fmt"

	"github.com/voxleaf/voxleaf/internal/nlu"
	"github.com/voxleaf/voxleaf/pkg/catalog"
)

// englishHandler plays a random English-learning entry for "学英语".
type englishHandler struct{}

var _ Handler = (*englishHandler)(nil)

func (h *englishHandler) Handle(ctx context.Context, res nlu.Result, env *Env) (*Response, error) {
	if res.Intent != nlu.IntentLearnEnglish {
		return nil, fmt.Errorf("handler: english cannot handle intent %q", res.Intent)
	}
	c, err := env.Catalog.GetRandomByType(ctx, catalog.TypeEnglish, "")
	if errors.Is(err, catalog.ErrNotFound) {
		return &Response{Text: "抱歉，还没有英语学习内容"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("handler: pick english: %w", err)
	}
	refillQueue(ctx, env, c)
	return playContent(ctx, env, c), nil
}
