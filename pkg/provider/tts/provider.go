// Package tts defines the Provider interface for speech synthesis backends.
//
// Devices fetch and play synthesized audio over HTTP, so the contract is
// text in, playable URL out. Short prompts are usually spoken through the
// device's local synthesis command instead; this interface covers longer
// responses such as chat answers.
package tts

import "context"

// Provider is the abstraction over any speech synthesis backend.
//
// Implementations must be safe for concurrent use.
type Provider interface {
	// Synthesize converts text into audio and returns a URL the device can
	// stream from. The URL must stay fetchable long enough for playback to
	// start, typically a few minutes.
	Synthesize(ctx context.Context, text string) (string, error)
}
