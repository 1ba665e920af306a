// Package asr defines the Provider interface for speech recognition backends.
//
// Unlike streaming transcription services, the orchestrator captures a whole
// utterance on the device side (endpointing happens before recognition), so
// the interface is batch: one PCM buffer in, one transcript out.
package asr

import "context"

// AudioFormat describes the PCM layout of a Transcribe call. All audio is
// 16-bit signed little-endian.
type AudioFormat struct {
	// SampleRate is the audio sample rate in Hz, typically 16000.
	SampleRate int

	// Channels is the number of interleaved channels, typically 1.
	Channels int
}

// Provider is the abstraction over any speech recognition backend.
//
// Implementations must be safe for concurrent use; several device sessions
// may transcribe simultaneously.
type Provider interface {
	// Transcribe converts one complete utterance of raw PCM audio into text.
	// An empty transcript with a nil error means the backend recognized
	// nothing intelligible.
	Transcribe(ctx context.Context, pcm []byte, format AudioFormat) (string, error)
}
