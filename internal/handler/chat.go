package handler

import (
	"context"
	"fmt"

	"github.com/voxleaf/voxleaf/internal/nlu"
	"github.com/voxleaf/voxleaf/pkg/convstore"
	"github.com/voxleaf/voxleaf/pkg/provider/llm"
)

// chatSystemPrompt frames the assistant for a child-facing speaker: short
// spoken answers, no markup.
const chatSystemPrompt = "你是一个儿童智能音箱的语音助手。用简短、口语化的中文回答，不要使用任何格式符号。"

// chatHistoryTurns bounds how much stored conversation feeds each call.
const chatHistoryTurns = 10

// chatHandler answers free-form utterances with the chat backend, carrying
// a bounded per-device conversation history.
type chatHandler struct{}

var _ Handler = (*chatHandler)(nil)

func (h *chatHandler) Handle(ctx context.Context, res nlu.Result, env *Env) (*Response, error) {
	if env.LLM == nil {
		return &Response{Text: "抱歉，我现在无法回答这个问题"}, nil
	}
	utterance := env.Utterance
	if utterance == "" {
		return &Response{Text: "抱歉，我没有听清，请再说一遍"}, nil
	}

	messages := h.history(ctx, env)
	messages = append(messages, llm.Message{Role: llm.RoleUser, Content: utterance})

	answer, err := env.LLM.Chat(ctx, llm.ChatRequest{
		SystemPrompt: chatSystemPrompt,
		Messages:     messages,
		MaxTokens:    256,
	})
	if err != nil {
		return nil, fmt.Errorf("handler: chat: %w", err)
	}
	if answer == "" {
		return &Response{Text: "抱歉，我现在无法回答这个问题"}, nil
	}

	h.remember(ctx, env, utterance, answer)
	return &Response{Text: answer}, nil
}

// history loads prior turns; a failing store degrades to a fresh chat.
func (h *chatHandler) history(ctx context.Context, env *Env) []llm.Message {
	if env.Conversations == nil {
		return nil
	}
	stored, err := env.Conversations.Context(ctx, env.DeviceID, chatHistoryTurns)
	if err != nil {
		env.log().Warn("conversation history lookup failed", "device", env.DeviceID, "error", err)
		return nil
	}
	messages := make([]llm.Message, 0, len(stored)+1)
	for _, m := range stored {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}
	return messages
}

func (h *chatHandler) remember(ctx context.Context, env *Env, utterance, answer string) {
	if env.Conversations == nil {
		return
	}
	if err := env.Conversations.Add(ctx, env.DeviceID, convstore.RoleUser, utterance); err != nil {
		env.log().Warn("conversation store failed", "device", env.DeviceID, "error", err)
		return
	}
	if err := env.Conversations.Add(ctx, env.DeviceID, convstore.RoleAssistant, answer); err != nil {
		env.log().Warn("conversation store failed", "device", env.DeviceID, "error", err)
	}
}
