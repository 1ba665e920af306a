package anyllm

import (
	"testing"

	"github.com/voxleaf/voxleaf/pkg/provider/llm"
)

func TestBuildParams(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "gpt-4o-mini"}

	params := p.buildParams(llm.ChatRequest{
		SystemPrompt: "你是一个儿童故事助手。",
		Messages: []llm.Message{
			{Role: llm.RoleUser, Content: "今天天气怎么样"},
			{Role: llm.RoleAssistant, Content: "今天晴朗"},
			{Role: llm.RoleUser, Content: "明天呢"},
		},
		Temperature: 0.7,
		MaxTokens:   256,
	})

	if params.Model != "gpt-4o-mini" {
		t.Errorf("model = %q", params.Model)
	}
	if len(params.Messages) != 4 {
		t.Fatalf("messages = %d, want 4 (system + 3 turns)", len(params.Messages))
	}
	if params.Messages[0].Role != "system" {
		t.Errorf("first role = %q, want system", params.Messages[0].Role)
	}
	if params.Messages[3].ContentString() != "明天呢" {
		t.Errorf("last message = %q", params.Messages[3].ContentString())
	}
	if params.Temperature == nil || *params.Temperature != 0.7 {
		t.Errorf("temperature = %v", params.Temperature)
	}
	if params.MaxTokens == nil || *params.MaxTokens != 256 {
		t.Errorf("maxTokens = %v", params.MaxTokens)
	}
}

func TestBuildParamsOmitsOptionalFields(t *testing.T) {
	t.Parallel()
	p := &Provider{model: "qwen2.5"}

	params := p.buildParams(llm.ChatRequest{
		Messages: []llm.Message{{Role: llm.RoleUser, Content: "你好"}},
	})
	if len(params.Messages) != 1 {
		t.Fatalf("messages = %d, want 1", len(params.Messages))
	}
	if params.Temperature != nil || params.MaxTokens != nil {
		t.Errorf("optional fields set: temp=%v max=%v", params.Temperature, params.MaxTokens)
	}
}

func TestNewValidatesArguments(t *testing.T) {
	t.Parallel()
	if _, err := New("", "gpt-4o-mini"); err == nil {
		t.Error("expected error for empty provider name")
	}
	if _, err := New("openai", ""); err == nil {
		t.Error("expected error for empty model")
	}
}

func TestCreateBackendRejectsUnknownProvider(t *testing.T) {
	t.Parallel()
	if _, err := createBackend("bogus"); err == nil {
		t.Error("expected error for unknown provider")
	}
}
