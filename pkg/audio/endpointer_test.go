package audio

import (
	"encoding/binary"
	"math"
	"testing"
	"time"
)

// pcmChunk synthesizes a square wave of the given amplitude, whose RMS is
// exactly the amplitude.
func pcmChunk(amplitude int16, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude
		if i%2 == 1 {
			v = -amplitude
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
	}
	return out
}

func TestRMS(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		if got := RMS(nil); got != 0 {
			t.Errorf("RMS(nil) = %v, want 0", got)
		}
	})

	t.Run("constant amplitude", func(t *testing.T) {
		t.Parallel()
		got := RMS(pcmChunk(2000, 160))
		if math.Abs(got-2000) > 1e-9 {
			t.Errorf("RMS = %v, want 2000", got)
		}
	})

	t.Run("odd trailing byte truncated", func(t *testing.T) {
		t.Parallel()
		chunk := pcmChunk(500, 4)
		withTrailer := append(append([]byte{}, chunk...), 0x7f)
		if RMS(withTrailer) != RMS(chunk) {
			t.Error("trailing odd byte changed the result")
		}
	})

	t.Run("single odd byte", func(t *testing.T) {
		t.Parallel()
		if got := RMS([]byte{0x42}); got != 0 {
			t.Errorf("RMS of one byte = %v, want 0", got)
		}
	})
}

func TestDuration(t *testing.T) {
	t.Parallel()
	// 16 kHz mono 16-bit: 32000 bytes per second.
	if got := Duration(32000, 16000, 2, 1); got != time.Second {
		t.Errorf("Duration = %v, want 1s", got)
	}
	if got := Duration(100, 0, 2, 1); got != 0 {
		t.Errorf("Duration with zero rate = %v, want 0", got)
	}
}

// fakeClock drives an Endpointer deterministically.
type fakeClock struct{ t time.Time }

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestEndpointer(cfg EndpointerConfig) (*Endpointer, *fakeClock) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	e := NewEndpointer(cfg)
	e.now = clock.now
	return e, clock
}

func TestEndpointer(t *testing.T) {
	t.Parallel()
	cfg := DefaultEndpointerConfig()

	t.Run("drops chunks while not recording", func(t *testing.T) {
		t.Parallel()
		e, _ := newTestEndpointer(cfg)
		e.Append(pcmChunk(2000, 160))
		if e.Len() != 0 {
			t.Errorf("Len = %d, want 0", e.Len())
		}
		if e.ShouldStop() {
			t.Error("ShouldStop true while not recording")
		}
	})

	t.Run("speech then silence endpoints", func(t *testing.T) {
		t.Parallel()
		e, clock := newTestEndpointer(cfg)
		e.Start()

		// 200 ms of loud audio in 50 ms chunks.
		for i := 0; i < 4; i++ {
			clock.advance(50 * time.Millisecond)
			e.Append(pcmChunk(2000, 800))
		}
		if e.ShouldStop() {
			t.Fatal("stopped during active speech")
		}

		// 400 ms of silence: total 600 ms > min, but silence < threshold.
		for i := 0; i < 8; i++ {
			clock.advance(50 * time.Millisecond)
			e.Append(pcmChunk(50, 800))
		}
		if e.ShouldStop() {
			t.Fatal("stopped before silence threshold")
		}

		// Another 100 ms of silence crosses the 500 ms threshold.
		clock.advance(100 * time.Millisecond)
		e.Append(pcmChunk(50, 1600))
		if !e.ShouldStop() {
			t.Fatal("expected endpoint after 500 ms silence")
		}

		got := e.Stop()
		wantLen := (4*800 + 8*800 + 1600) * 2
		if len(got) != wantLen {
			t.Errorf("captured %d bytes, want %d", len(got), wantLen)
		}
	})

	t.Run("min duration holds off early silence", func(t *testing.T) {
		t.Parallel()
		e, clock := newTestEndpointer(cfg)
		e.Start()
		// Wake with no speech at all: silence threshold is crossed at
		// 500 ms which is past min duration, so this endpoints. But at
		// 250 ms it must not.
		clock.advance(250 * time.Millisecond)
		e.Append(pcmChunk(10, 400))
		_ = e.ShouldStop() // state unchanged either way
		clock.advance(50 * time.Millisecond)
		if got := e.ShouldStop(); got {
			// 300 ms silence < 500 ms threshold.
			t.Error("stopped before silence threshold despite min duration")
		}
	})

	t.Run("max duration caps recording", func(t *testing.T) {
		t.Parallel()
		e, clock := newTestEndpointer(cfg)
		e.Start()
		// Continuous loud audio never goes silent.
		for i := 0; i < 100; i++ {
			clock.advance(100 * time.Millisecond)
			e.Append(pcmChunk(2000, 1600))
		}
		if !e.ShouldStop() {
			t.Error("expected stop at max duration")
		}
	})

	t.Run("idempotent after stop", func(t *testing.T) {
		t.Parallel()
		e, clock := newTestEndpointer(cfg)
		e.Start()
		clock.advance(time.Second)
		e.Append(pcmChunk(2000, 1600))
		_ = e.Stop()
		if e.ShouldStop() {
			t.Error("ShouldStop true after Stop")
		}
		e.Append(pcmChunk(2000, 1600))
		if e.Len() != 0 {
			t.Error("Append buffered data after Stop")
		}
		if got := e.Stop(); len(got) != 0 {
			t.Errorf("second Stop returned %d bytes", len(got))
		}
	})

	t.Run("restart clears previous capture", func(t *testing.T) {
		t.Parallel()
		e, clock := newTestEndpointer(cfg)
		e.Start()
		e.Append(pcmChunk(2000, 800))
		_ = e.Stop()
		clock.advance(time.Minute)
		e.Start()
		e.Append(pcmChunk(2000, 400))
		if got := e.Stop(); len(got) != 800 {
			t.Errorf("second capture = %d bytes, want 800", len(got))
		}
	})
}
