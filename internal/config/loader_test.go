package config

import (
	"strings"
	"testing"
	"time"
)

const sampleYAML = `
server:
  ws_addr: ":9000"
  log_level: debug
audio:
  sample_rate: 16000
  silence_threshold: 0.4
  wake_timeout: 3.0
debounce:
  instruction_ms: 1200
stores:
  redis_addr: "localhost:6379"
providers:
  asr:
    name: whisper
    base_url: "http://localhost:8080"
    language: zh
  tts:
    name: http
    base_url: "http://localhost:5002"
    voice: xiaoyi
  llm:
    name: openai
    model: gpt-4o-mini
`

func TestLoadFromReader(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if cfg.Server.WSAddr != ":9000" {
		t.Errorf("ws_addr = %q", cfg.Server.WSAddr)
	}
	if cfg.Server.LogLevel != LogDebug {
		t.Errorf("log_level = %q", cfg.Server.LogLevel)
	}
	if cfg.Audio.SilenceThreshold != 0.4 {
		t.Errorf("silence_threshold = %v", cfg.Audio.SilenceThreshold)
	}
	if cfg.Providers.ASR.Language != "zh" {
		t.Errorf("asr.language = %q", cfg.Providers.ASR.Language)
	}

	// Unset fields take the documented defaults.
	if cfg.Server.HTTPAddr != ":8091" {
		t.Errorf("http_addr default = %q", cfg.Server.HTTPAddr)
	}
	if cfg.AutoPlay.GuardMs != 1500 {
		t.Errorf("guard_ms default = %d", cfg.AutoPlay.GuardMs)
	}
	if cfg.Reply.TimeoutSec != 10 {
		t.Errorf("reply.timeout_sec default = %d", cfg.Reply.TimeoutSec)
	}
}

func TestLoadFromReaderProviderFallbacks(t *testing.T) {
	t.Parallel()
	const yaml = `
providers:
  asr:
    name: whisper
    base_url: "http://localhost:8080"
  asr_fallback:
    name: whisper
    base_url: "http://backup:8080"
  llm:
    name: openai
    model: gpt-4o-mini
  llm_fallback:
    name: openai
    model: gpt-4o
`
	cfg, err := LoadFromReader(strings.NewReader(yaml))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	if cfg.Providers.ASRFallback == nil || cfg.Providers.ASRFallback.BaseURL != "http://backup:8080" {
		t.Errorf("asr_fallback = %+v", cfg.Providers.ASRFallback)
	}
	if cfg.Providers.LLMFallback == nil || cfg.Providers.LLMFallback.Model != "gpt-4o" {
		t.Errorf("llm_fallback = %+v", cfg.Providers.LLMFallback)
	}
	if cfg.Providers.TTSFallback != nil {
		t.Errorf("tts_fallback = %+v, want nil", cfg.Providers.TTSFallback)
	}
}

func TestLoadFromReaderEmptyInputYieldsDefaults(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(""))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}
	def := Default()
	if cfg.Audio.SampleRate != def.Audio.SampleRate {
		t.Errorf("sample_rate = %d, want default %d", cfg.Audio.SampleRate, def.Audio.SampleRate)
	}
	if cfg.Server.LogLevel != LogInfo {
		t.Errorf("log_level = %q, want info", cfg.Server.LogLevel)
	}
}

func TestLoadFromReaderRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	_, err := LoadFromReader(strings.NewReader("server:\n  listen: ':9000'\n"))
	if err == nil {
		t.Fatal("unknown field accepted")
	}
}

func TestValidateRejectsBadValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"bad log level", "server:\n  log_level: loud\n", "server.log_level"},
		{"negative sample rate", "audio:\n  sample_rate: -1\n", "audio.sample_rate"},
		{"min over max", "audio:\n  min_duration: 20.0\n", "audio.max_duration"},
		{"asr without url", "providers:\n  asr:\n    name: whisper\n", "providers.asr.base_url"},
		{"tts without url", "providers:\n  tts:\n    name: http\n", "providers.tts.base_url"},
		{"llm without model", "providers:\n  llm:\n    name: openai\n", "providers.llm.model"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadFromReader(strings.NewReader(tc.yaml))
			if err == nil {
				t.Fatal("invalid config accepted")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestValidateJoinsMultipleErrors(t *testing.T) {
	t.Parallel()
	_, err := LoadFromReader(strings.NewReader("server:\n  log_level: loud\naudio:\n  sample_rate: -1\n"))
	if err == nil {
		t.Fatal("invalid config accepted")
	}
	msg := err.Error()
	if !strings.Contains(msg, "server.log_level") || !strings.Contains(msg, "audio.sample_rate") {
		t.Errorf("joined error missing a failure: %q", msg)
	}
}

func TestDerivedDurations(t *testing.T) {
	t.Parallel()
	cfg, err := LoadFromReader(strings.NewReader(sampleYAML))
	if err != nil {
		t.Fatalf("LoadFromReader: %v", err)
	}

	if got := cfg.WakeTimeout(); got != 3*time.Second {
		t.Errorf("WakeTimeout = %v", got)
	}
	if got := cfg.InstructionDebounce(); got != 1200*time.Millisecond {
		t.Errorf("InstructionDebounce = %v", got)
	}
	if got := cfg.AutoPlayGuard(); got != 1500*time.Millisecond {
		t.Errorf("AutoPlayGuard = %v", got)
	}
	if got := cfg.PendingTimeout(); got != 30*time.Second {
		t.Errorf("PendingTimeout = %v", got)
	}

	ep := cfg.EndpointerConfig()
	if ep.SilenceThreshold != 400*time.Millisecond {
		t.Errorf("endpointer silence threshold = %v", ep.SilenceThreshold)
	}
	if ep.SampleRate != 16000 || ep.SampleWidth != 2 || ep.Channels != 1 {
		t.Errorf("endpointer format = %+v", ep)
	}
}
