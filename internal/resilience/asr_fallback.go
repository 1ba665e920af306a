package resilience

import (
	"context"

	"github.com/voxleaf/voxleaf/pkg/provider/asr"
)

// ASRFallback implements [asr.Provider] with automatic failover across
// multiple transcription backends. Each backend has its own circuit breaker.
type ASRFallback struct {
	group *FallbackGroup[asr.Provider]
}

// Compile-time interface assertion.
var _ asr.Provider = (*ASRFallback)(nil)

// NewASRFallback creates an [ASRFallback] with primary as the preferred
// backend.
func NewASRFallback(primary asr.Provider, primaryName string, cfg FallbackConfig) *ASRFallback {
	return &ASRFallback{
		group: NewFallbackGroup(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional transcription provider as a fallback.
func (f *ASRFallback) AddFallback(name string, provider asr.Provider) {
	f.group.AddFallback(name, provider)
}

// Transcribe recognizes the utterance using the first healthy provider. An
// empty transcript with a nil error counts as success and does not fail
// over: the backend heard silence, not an outage.
func (f *ASRFallback) Transcribe(ctx context.Context, pcm []byte, format asr.AudioFormat) (string, error) {
	return ExecuteWithResult(f.group, func(p asr.Provider) (string, error) {
		return p.Transcribe(ctx, pcm, format)
	})
}
