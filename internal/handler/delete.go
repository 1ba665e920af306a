package handler

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/voxleaf/voxleaf/internal/nlu"
	"github.com/voxleaf/voxleaf/internal/session"
	"github.com/voxleaf/voxleaf/pkg/catalog"
)

// deleteSearchLimit is the match cap plus one, so an overflowing result set
// is distinguishable from exactly ten matches.
const deleteSearchLimit = 10 + 1

// actionDeleteContent tags the confirmation slot installed by the delete
// handler.
const actionDeleteContent = "delete_content"

// deleteRequest is the pending-action payload between the two turns.
type deleteRequest struct {
	Keyword    string
	ContentIDs []int64
}

// deleteHandler removes catalog entries with a confirmation turn: the first
// utterance selects candidates, the second confirms or cancels.
type deleteHandler struct{}

var (
	_ Handler   = (*deleteHandler)(nil)
	_ Confirmer = (*deleteHandler)(nil)
)

func (h *deleteHandler) Handle(ctx context.Context, res nlu.Result, env *Env) (*Response, error) {
	if res.Intent != nlu.IntentDeleteContent {
		return nil, fmt.Errorf("handler: delete cannot handle intent %q", res.Intent)
	}
	keyword := res.Slots[nlu.SlotContentName]
	if keyword == "" {
		return &Response{Text: "没有听清要删除什么"}, nil
	}

	matches, err := env.Catalog.SmartSearch(ctx, keyword, deleteSearchLimit)
	if err != nil && !errors.Is(err, catalog.ErrNotFound) {
		return nil, fmt.Errorf("handler: search %q: %w", keyword, err)
	}
	if len(matches) == 0 {
		return &Response{Text: "没有找到" + keyword}, nil
	}
	if len(matches) >= deleteSearchLimit {
		return &Response{Text: "找到的内容太多了，请说得更具体一些"}, nil
	}

	ids := make([]int64, len(matches))
	for i, c := range matches {
		ids[i] = c.ID
	}
	if env.SetPendingAction != nil {
		env.SetPendingAction(session.NewPendingAction(
			actionDeleteContent, "delete", deleteRequest{Keyword: keyword, ContentIDs: ids}))
	}
	return &Response{
		Text:              fmt.Sprintf("找到%d个相关内容，确定要删除吗", len(ids)),
		ContinueListening: true,
	}, nil
}

// HandleConfirmation consumes the follow-up utterance. Anything that does
// not read as assent cancels the deletion.
func (h *deleteHandler) HandleConfirmation(ctx context.Context, text string, data any, env *Env) (*Response, error) {
	req, ok := data.(deleteRequest)
	if !ok {
		return nil, fmt.Errorf("handler: delete confirmation got %T payload", data)
	}
	if !isAssent(text) {
		return &Response{Text: "好的，已取消删除"}, nil
	}

	deleted := 0
	for _, id := range req.ContentIDs {
		if err := env.Catalog.DeleteContent(ctx, id, false); err != nil {
			env.log().Warn("delete failed", "content_id", id, "error", err)
			continue
		}
		deleted++
	}
	if deleted == 0 {
		return &Response{Text: "删除失败，请稍后再试"}, nil
	}
	return &Response{Text: fmt.Sprintf("已删除%d个内容", deleted)}, nil
}

func isAssent(text string) bool {
	text = strings.TrimSpace(text)
	for _, word := range []string{"是的", "是", "确定", "确认", "好的", "好", "删除", "删吧"} {
		if strings.Contains(text, word) {
			return true
		}
	}
	return false
}
