// Package playqueue stores the per-device auto-play queue: an ordered list
// of catalog content ids, a cursor, and a playback mode.
package playqueue

import (
	"context"
	"errors"
	"math/rand/v2"
)

// Mode controls how the cursor advances when a track finishes.
type Mode string

const (
	ModeSequential   Mode = "sequential"
	ModeSingleLoop   Mode = "single_loop"
	ModePlaylistLoop Mode = "playlist_loop"
	ModeShuffle      Mode = "shuffle"
)

// IsValid reports whether m is a known mode.
func (m Mode) IsValid() bool {
	switch m {
	case ModeSequential, ModeSingleLoop, ModePlaylistLoop, ModeShuffle:
		return true
	}
	return false
}

// ErrEmpty is returned when the queue has no entry to serve: the queue is
// empty, or a sequential cursor ran off the end without wrap.
var ErrEmpty = errors.New("playqueue: empty")

// Store is the queue persistence interface, keyed by device id.
type Store interface {
	SetMode(ctx context.Context, deviceID string, mode Mode) error
	// GetMode returns ModeSequential for devices that never set one.
	GetMode(ctx context.Context, deviceID string) (Mode, error)

	// SetQueue replaces the queue and places the cursor at startIndex.
	SetQueue(ctx context.Context, deviceID string, ids []int64, startIndex int) error
	AddToQueue(ctx context.Context, deviceID string, ids []int64) error

	// GetNext advances the cursor and returns the content id under it.
	// In sequential mode without wrap it returns ErrEmpty at the end;
	// wrap forces wrap-around for user-initiated navigation.
	GetNext(ctx context.Context, deviceID string, wrap bool) (int64, error)
	GetPrevious(ctx context.Context, deviceID string, wrap bool) (int64, error)

	ClearQueue(ctx context.Context, deviceID string) error
	GetQueue(ctx context.Context, deviceID string) ([]int64, error)

	// Index returns the current cursor position. Diagnostic.
	Index(ctx context.Context, deviceID string) (int, error)

	// Ping verifies the backing store is reachable.
	Ping(ctx context.Context) error
}

// State is the serializable per-device queue record shared by the Store
// implementations.
type State struct {
	IDs   []int64 `json:"ids"`
	Index int     `json:"index"`
	Mode  Mode    `json:"mode"`
}

// NewState returns an empty sequential-mode state.
func NewState() *State {
	return &State{Mode: ModeSequential}
}

// Next advances the cursor according to the mode and returns the id under
// it. The wrap flag forces wrap-around in sequential mode.
func (s *State) Next(wrap bool) (int64, error) {
	n := len(s.IDs)
	if n == 0 {
		return 0, ErrEmpty
	}
	switch s.Mode {
	case ModeSingleLoop:
		return s.IDs[s.clamp()], nil
	case ModeShuffle:
		s.Index = rand.IntN(n)
		return s.IDs[s.Index], nil
	case ModePlaylistLoop:
		s.Index = (s.clamp() + 1) % n
		return s.IDs[s.Index], nil
	default: // sequential
		i := s.clamp() + 1
		if i >= n {
			if !wrap {
				return 0, ErrEmpty
			}
			i = 0
		}
		s.Index = i
		return s.IDs[i], nil
	}
}

// Previous moves the cursor backwards, symmetric to [State.Next].
func (s *State) Previous(wrap bool) (int64, error) {
	n := len(s.IDs)
	if n == 0 {
		return 0, ErrEmpty
	}
	switch s.Mode {
	case ModeSingleLoop:
		return s.IDs[s.clamp()], nil
	case ModeShuffle:
		s.Index = rand.IntN(n)
		return s.IDs[s.Index], nil
	case ModePlaylistLoop:
		s.Index = (s.clamp() - 1 + n) % n
		return s.IDs[s.Index], nil
	default:
		i := s.clamp() - 1
		if i < 0 {
			if !wrap {
				return 0, ErrEmpty
			}
			i = n - 1
		}
		s.Index = i
		return s.IDs[i], nil
	}
}

// clamp keeps the cursor inside the queue after external edits.
func (s *State) clamp() int {
	if s.Index < 0 {
		s.Index = 0
	}
	if n := len(s.IDs); s.Index >= n {
		s.Index = n - 1
	}
	return s.Index
}
