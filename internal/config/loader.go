package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind. Used by
// [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"asr": {"whisper"},
	"tts": {"http"},
	"llm": {"openai", "anthropic", "gemini", "ollama", "deepseek", "mistral", "groq", "llamacpp"},
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. It is a convenience wrapper around [LoadFromReader].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, fills defaults and validates
// the result. Useful in tests where configs are constructed from string
// literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyDefaults(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyDefaults replaces zero-valued fields with the documented defaults.
func applyDefaults(cfg *Config) {
	def := Default()
	if cfg.Server.WSAddr == "" {
		cfg.Server.WSAddr = def.Server.WSAddr
	}
	if cfg.Server.HTTPAddr == "" {
		cfg.Server.HTTPAddr = def.Server.HTTPAddr
	}
	if cfg.Server.LogLevel == "" {
		cfg.Server.LogLevel = def.Server.LogLevel
	}
	if cfg.Audio.SampleRate == 0 {
		cfg.Audio.SampleRate = def.Audio.SampleRate
	}
	if cfg.Audio.SilenceThreshold == 0 {
		cfg.Audio.SilenceThreshold = def.Audio.SilenceThreshold
	}
	if cfg.Audio.MaxDuration == 0 {
		cfg.Audio.MaxDuration = def.Audio.MaxDuration
	}
	if cfg.Audio.MinDuration == 0 {
		cfg.Audio.MinDuration = def.Audio.MinDuration
	}
	if cfg.Audio.WakeTimeout == 0 {
		cfg.Audio.WakeTimeout = def.Audio.WakeTimeout
	}
	if cfg.Audio.EnergyThreshold == 0 {
		cfg.Audio.EnergyThreshold = def.Audio.EnergyThreshold
	}
	if cfg.Audio.CaptureDevice == "" {
		cfg.Audio.CaptureDevice = def.Audio.CaptureDevice
	}
	if cfg.Debounce.InstructionMs == 0 {
		cfg.Debounce.InstructionMs = def.Debounce.InstructionMs
	}
	if cfg.AutoPlay.GuardMs == 0 {
		cfg.AutoPlay.GuardMs = def.AutoPlay.GuardMs
	}
	if cfg.PendingAction.TimeoutSec == 0 {
		cfg.PendingAction.TimeoutSec = def.PendingAction.TimeoutSec
	}
	if cfg.Reply.TimeoutSec == 0 {
		cfg.Reply.TimeoutSec = def.Reply.TimeoutSec
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	if !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}

	if cfg.Audio.SampleRate <= 0 {
		errs = append(errs, fmt.Errorf("audio.sample_rate %d must be positive", cfg.Audio.SampleRate))
	}
	if cfg.Audio.SilenceThreshold <= 0 {
		errs = append(errs, fmt.Errorf("audio.silence_threshold %.2f must be positive", cfg.Audio.SilenceThreshold))
	}
	if cfg.Audio.MinDuration <= 0 {
		errs = append(errs, fmt.Errorf("audio.min_duration %.2f must be positive", cfg.Audio.MinDuration))
	}
	if cfg.Audio.MaxDuration <= cfg.Audio.MinDuration {
		errs = append(errs, fmt.Errorf("audio.max_duration %.2f must exceed audio.min_duration %.2f", cfg.Audio.MaxDuration, cfg.Audio.MinDuration))
	}
	if cfg.Audio.WakeTimeout <= 0 {
		errs = append(errs, fmt.Errorf("audio.wake_timeout %.2f must be positive", cfg.Audio.WakeTimeout))
	}
	if cfg.Debounce.InstructionMs <= 0 {
		errs = append(errs, fmt.Errorf("debounce.instruction_ms %d must be positive", cfg.Debounce.InstructionMs))
	}
	if cfg.AutoPlay.GuardMs <= 0 {
		errs = append(errs, fmt.Errorf("auto_play.guard_ms %d must be positive", cfg.AutoPlay.GuardMs))
	}
	if cfg.PendingAction.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("pending_action.timeout_sec %d must be positive", cfg.PendingAction.TimeoutSec))
	}
	if cfg.Reply.TimeoutSec <= 0 {
		errs = append(errs, fmt.Errorf("reply.timeout_sec %d must be positive", cfg.Reply.TimeoutSec))
	}

	validateProviderName("asr", cfg.Providers.ASR.Name)
	validateProviderName("tts", cfg.Providers.TTS.Name)
	validateProviderName("llm", cfg.Providers.LLM.Name)
	if cfg.Providers.ASRFallback != nil {
		validateProviderName("asr", cfg.Providers.ASRFallback.Name)
	}
	if cfg.Providers.TTSFallback != nil {
		validateProviderName("tts", cfg.Providers.TTSFallback.Name)
	}
	if cfg.Providers.LLMFallback != nil {
		validateProviderName("llm", cfg.Providers.LLMFallback.Name)
	}

	if cfg.Providers.ASR.Name != "" && cfg.Providers.ASR.BaseURL == "" {
		errs = append(errs, fmt.Errorf("providers.asr.base_url is required when providers.asr.name is set"))
	}
	if cfg.Providers.TTS.Name != "" && cfg.Providers.TTS.BaseURL == "" {
		errs = append(errs, fmt.Errorf("providers.tts.base_url is required when providers.tts.name is set"))
	}
	if cfg.Providers.LLM.Name != "" && cfg.Providers.LLM.Model == "" {
		errs = append(errs, fmt.Errorf("providers.llm.model is required when providers.llm.name is set"))
	}

	if cfg.Providers.ASR.Name == "" {
		slog.Warn("no ASR provider configured; captured speech will answer with an apology")
	}
	if cfg.Providers.LLM.Name == "" {
		slog.Warn("no LLM provider configured; open-ended questions will answer with an apology")
	}
	if cfg.Stores.PostgresDSN == "" {
		slog.Warn("stores.postgres_dsn is empty; the content catalog will run in memory")
	}
	if cfg.Stores.RedisAddr == "" {
		slog.Warn("stores.redis_addr is empty; play queues and conversations will run in memory")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name, may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
