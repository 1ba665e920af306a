package audio

import (
	"time"
)

// EndpointerConfig parameterizes voice-activity endpointing.
type EndpointerConfig struct {
	// SampleRate in Hz, SampleWidth in bytes per sample.
	SampleRate  int
	SampleWidth int
	Channels    int

	// SilenceThreshold is how long the signal must stay below
	// EnergyThreshold before the utterance is considered finished.
	SilenceThreshold time.Duration

	// MaxDuration caps a recording regardless of activity. MinDuration
	// prevents endpointing before the user had a chance to speak.
	MaxDuration time.Duration
	MinDuration time.Duration

	// EnergyThreshold is the RMS level above which a chunk counts as
	// voice.
	EnergyThreshold float64
}

// DefaultEndpointerConfig matches the standard device capture format.
func DefaultEndpointerConfig() EndpointerConfig {
	return EndpointerConfig{
		SampleRate:       16000,
		SampleWidth:      2,
		Channels:         1,
		SilenceThreshold: 500 * time.Millisecond,
		MaxDuration:      10 * time.Second,
		MinDuration:      300 * time.Millisecond,
		EnergyThreshold:  300,
	}
}

// Endpointer accumulates 16-bit PCM and tracks voice activity so the caller
// can tell when the speaker has finished talking.
//
// Endpointer is not safe for concurrent use; the owning session serializes
// access.
type Endpointer struct {
	cfg EndpointerConfig

	buf           []byte
	recording     bool
	startTime     time.Time
	lastVoiceTime time.Time

	now func() time.Time
}

// NewEndpointer creates an Endpointer in the not-recording state.
func NewEndpointer(cfg EndpointerConfig) *Endpointer {
	return &Endpointer{cfg: cfg, now: time.Now}
}

// Start begins a recording, resetting the buffer and activity clocks.
func (e *Endpointer) Start() {
	t := e.now()
	e.buf = e.buf[:0]
	e.recording = true
	e.startTime = t
	e.lastVoiceTime = t
}

// Recording reports whether a capture is in progress.
func (e *Endpointer) Recording() bool { return e.recording }

// Append adds a PCM chunk to the buffer. Chunks arriving while not
// recording are dropped. When the chunk's RMS energy exceeds the configured
// threshold the voice clock is advanced.
func (e *Endpointer) Append(pcm []byte) {
	if !e.recording {
		return
	}
	e.buf = append(e.buf, pcm...)
	if RMS(pcm) > e.cfg.EnergyThreshold {
		e.lastVoiceTime = e.now()
	}
}

// ShouldStop reports whether the utterance is complete: either the maximum
// duration has elapsed, or the signal has been silent for the silence
// threshold after at least the minimum duration. Always false when not
// recording.
func (e *Endpointer) ShouldStop() bool {
	if !e.recording {
		return false
	}
	t := e.now()
	elapsed := t.Sub(e.startTime)
	if elapsed >= e.cfg.MaxDuration {
		return true
	}
	return t.Sub(e.lastVoiceTime) >= e.cfg.SilenceThreshold && elapsed >= e.cfg.MinDuration
}

// Stop ends the capture and returns the accumulated bytes. Subsequent
// Append calls are no-ops and ShouldStop returns false until Start is
// called again.
func (e *Endpointer) Stop() []byte {
	e.recording = false
	out := make([]byte, len(e.buf))
	copy(out, e.buf)
	e.buf = e.buf[:0]
	return out
}

// Len returns the number of buffered bytes.
func (e *Endpointer) Len() int { return len(e.buf) }

// BufferedDuration returns the wall-clock length of the buffered audio.
func (e *Endpointer) BufferedDuration() time.Duration {
	return Duration(len(e.buf), e.cfg.SampleRate, e.cfg.SampleWidth, e.cfg.Channels)
}
