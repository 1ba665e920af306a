// Package session holds the per-device connection state: the listening
// state machine, the audio endpointer, reply futures, debounce and wake
// timers, the auto-play task handle and the pending-action slot.
//
// A Session is mutated by exactly one inbound-frame loop plus the detached
// tasks that loop spawns, but reply futures can also be touched by outside
// callers, so every state access goes through the session mutex. Methods
// that disable a race (switching to Processing, marking an instruction
// round dispatched, activating the pipeline) perform the write while still
// holding the lock, in the caller's own frame, so no event can slip in
// between the decision and the write.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/voxleaf/voxleaf/internal/proto"
	"github.com/voxleaf/voxleaf/pkg/audio"
)

// ListenState is the microphone side of the session state machine.
type ListenState string

const (
	StateIdle       ListenState = "idle"
	StateWoken      ListenState = "woken"
	StateListening  ListenState = "listening"
	StateProcessing ListenState = "processing"
	StateResponding ListenState = "responding"
)

// Sentinel errors.
var (
	ErrSessionClosed = errors.New("session: closed")
	ErrReplyTimeout  = errors.New("session: reply timeout")
)

// DefaultReplyTimeout bounds SendForReply when the caller passes no
// timeout.
const DefaultReplyTimeout = 10 * time.Second

// Transport is the write half of a device connection.
type Transport interface {
	// WriteText sends one JSON text frame.
	WriteText(ctx context.Context, data []byte) error
	Close() error
}

// Session is the state for one connected device.
type Session struct {
	deviceID string

	transport Transport
	logger    *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	mu     sync.Mutex
	closed bool

	listenState  ListenState
	playingState proto.PlayingState

	endpointer *audio.Endpointer

	pendingReplies map[string]chan *proto.Response
	pendingAction  *PendingAction

	instructionText       string
	instructionTimer      *time.Timer
	instructionDispatched bool

	pipelineActive bool
	queueActive    bool

	wakeTimer        *time.Timer
	startRecordingID string

	autoPlayCancel context.CancelFunc
}

// New creates a Session bound to transport. The endpointer configuration
// applies to every capture the session performs.
func New(deviceID string, transport Transport, epCfg audio.EndpointerConfig, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		deviceID:       deviceID,
		transport:      transport,
		logger:         logger.With("device", deviceID),
		ctx:            ctx,
		cancel:         cancel,
		listenState:    StateIdle,
		playingState:   proto.PlayingStateIdle,
		endpointer:     audio.NewEndpointer(epCfg),
		pendingReplies: make(map[string]chan *proto.Response),
	}
}

// DeviceID returns the server-assigned device identifier.
func (s *Session) DeviceID() string { return s.deviceID }

// Context is cancelled when the session closes. Detached tasks derive
// their contexts from it.
func (s *Session) Context() context.Context { return s.ctx }

// Close tears the session down: timers stopped, the auto-play task and all
// reply waiters cancelled, the pending action dropped. Safe to call more
// than once; writes after close are silent no-ops.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopWakeTimerLocked()
	s.stopInstructionTimerLocked()
	s.cancelAutoPlayLocked()
	s.pendingAction = nil
	if s.endpointer.Recording() {
		s.endpointer.Stop()
	}
	s.listenState = StateIdle
	s.mu.Unlock()

	s.cancel()
	return s.transport.Close()
}

// ─── Transport ──────────────────────────────────────────────────────────────

// Send writes a request without waiting for the device's reply.
func (s *Session) Send(ctx context.Context, req *proto.Request) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrSessionClosed
	}
	return s.write(ctx, req)
}

// SendForReply writes a request and awaits the matching Response up to
// timeout (DefaultReplyTimeout when zero). The reply future is registered
// before the write so a fast device cannot race the registration, and the
// slot is cleaned on every exit path.
func (s *Session) SendForReply(ctx context.Context, req *proto.Request, timeout time.Duration) (*proto.Response, error) {
	if timeout <= 0 {
		timeout = DefaultReplyTimeout
	}

	ch := make(chan *proto.Response, 1)
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, ErrSessionClosed
	}
	s.pendingReplies[req.ID] = ch
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pendingReplies, req.ID)
		s.mu.Unlock()
	}()

	if err := s.write(ctx, req); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case resp := <-ch:
		return resp, nil
	case <-timer.C:
		return nil, ErrReplyTimeout
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-s.ctx.Done():
		return nil, ErrSessionClosed
	}
}

// ResolveReply delivers a device response to the waiter registered under
// its id. Returns false when no waiter is pending.
func (s *Session) ResolveReply(resp *proto.Response) bool {
	s.mu.Lock()
	ch, ok := s.pendingReplies[resp.ID]
	if ok {
		delete(s.pendingReplies, resp.ID)
	}
	s.mu.Unlock()
	if !ok {
		return false
	}
	ch <- resp
	return true
}

func (s *Session) write(ctx context.Context, req *proto.Request) error {
	data, err := proto.EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := s.transport.WriteText(ctx, data); err != nil {
		return fmt.Errorf("session: write %s: %w", req.Command, err)
	}
	return nil
}

// ─── Wake path ──────────────────────────────────────────────────────────────

// BeginWake starts a listening round: the queue is deactivated, any
// auto-play task cancelled, the debounce state reset, the endpointer armed
// and the wake timeout scheduled. onTimeout runs if no audio arrives within
// wakeTimeout. Returns false when the session is closed.
func (s *Session) BeginWake(wakeTimeout time.Duration, onTimeout func()) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.queueActive = false
	s.cancelAutoPlayLocked()
	s.stopInstructionTimerLocked()
	s.instructionText = ""
	s.instructionDispatched = false
	s.listenState = StateWoken
	s.endpointer.Start()
	s.stopWakeTimerLocked()
	s.wakeTimer = time.AfterFunc(wakeTimeout, onTimeout)
	return true
}

// SetStartRecordingID remembers the id of the in-flight start_recording
// request so a failure reply can be matched later.
func (s *Session) SetStartRecordingID(id string) {
	s.mu.Lock()
	s.startRecordingID = id
	s.mu.Unlock()
}

// RollbackWake undoes an optimistic wake after the device rejected
// start_recording. It only applies while still Woken and only for the
// matching request id.
func (s *Session) RollbackWake(respID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || respID == "" || respID != s.startRecordingID || s.listenState != StateWoken {
		return false
	}
	s.listenState = StateIdle
	s.stopWakeTimerLocked()
	if s.endpointer.Recording() {
		s.endpointer.Stop()
	}
	return true
}

// WakeTimedOut transitions Woken back to Idle when the wake window closed
// with no speech. Returns false when the session already left Woken.
func (s *Session) WakeTimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.listenState != StateWoken {
		return false
	}
	s.listenState = StateIdle
	if s.endpointer.Recording() {
		s.endpointer.Stop()
	}
	return true
}

// ─── Audio path ─────────────────────────────────────────────────────────────

// AudioDecision is the outcome of feeding one PCM chunk to the session.
type AudioDecision struct {
	// BecameListening is true for the first chunk after a wake.
	BecameListening bool
	// Endpoint is true when the utterance is complete. The state has
	// already moved to Processing by the time the caller sees this.
	Endpoint bool
}

// AppendAudio feeds captured PCM into the endpointer. Chunks arriving
// outside Woken/Listening are dropped. When the endpointer decides the
// utterance is over, the transition to Processing happens here, under the
// lock, so no second chunk can trigger a duplicate dispatch.
func (s *Session) AppendAudio(pcm []byte) AudioDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d AudioDecision
	if s.closed {
		return d
	}
	switch s.listenState {
	case StateWoken:
		s.stopWakeTimerLocked()
		s.listenState = StateListening
		d.BecameListening = true
	case StateListening:
	default:
		return d
	}
	s.endpointer.Append(pcm)
	if s.endpointer.ShouldStop() {
		s.listenState = StateProcessing
		d.Endpoint = true
	}
	return d
}

// DrainAudio ends the capture and returns the recorded bytes.
func (s *Session) DrainAudio() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.endpointer.Stop()
}

// ─── Instruction path ───────────────────────────────────────────────────────

// InstructionDecision tells the coordinator what to do with a cloud ASR
// partial.
type InstructionDecision int

const (
	// InstructionDiscard means the event is ignored: the local audio
	// path owns the turn, or the final was already dispatched.
	InstructionDiscard InstructionDecision = iota
	// InstructionIntercept means a cloud-playback directive arrived
	// while a pipeline is active; the caller must abort and pause.
	InstructionIntercept
	// InstructionDebounced means a partial was recorded and the
	// debounce timer (re)scheduled.
	InstructionDebounced
	// InstructionDispatch means a final partial won the round; the
	// pipeline is now active and the caller must run the
	// instruction-complete flow.
	InstructionDispatch
)

// OnInstruction applies the debouncer rules to one decoded instruction.
// debounce is the timer duration and fire the timer callback. All gate
// writes (dispatched flag, pipeline activation, auto-play cancellation)
// happen before return.
func (s *Session) OnInstruction(inst *proto.Instruction, debounce time.Duration, fire func()) InstructionDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return InstructionDiscard
	}

	switch s.listenState {
	case StateWoken, StateListening, StateProcessing:
		return InstructionDiscard
	}

	if s.pipelineActive && inst.Header.IsCloudPlayback() {
		return InstructionIntercept
	}

	if inst.Text != "" {
		s.instructionText = inst.Text
	}

	if !inst.Final {
		// A non-final partial signals a new round.
		s.instructionDispatched = false
		s.cancelAutoPlayLocked()
		s.stopInstructionTimerLocked()
		s.instructionTimer = time.AfterFunc(debounce, fire)
		return InstructionDebounced
	}

	if s.instructionDispatched {
		return InstructionDiscard
	}
	s.instructionDispatched = true
	s.stopInstructionTimerLocked()
	s.cancelAutoPlayLocked()
	s.pipelineActive = true
	return InstructionDispatch
}

// DebounceFired claims the round from the debounce-timer callback. Returns
// false when the round was already dispatched by a final partial or the
// session closed; otherwise the pipeline is active on return.
func (s *Session) DebounceFired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.instructionDispatched {
		return false
	}
	s.instructionDispatched = true
	s.cancelAutoPlayLocked()
	s.pipelineActive = true
	return true
}

// TakeInstructionText consumes the accumulated transcript.
func (s *Session) TakeInstructionText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	text := s.instructionText
	s.instructionText = ""
	return text
}

// ─── Playing path ───────────────────────────────────────────────────────────

// PlayingDecision is the outcome of a playing-state event.
type PlayingDecision struct {
	// Intercept means the cloud tried to seize playback while a server
	// response is in flight.
	Intercept bool
	// ScheduleAutoPlay means playback went idle with an active queue
	// and no pipeline running.
	ScheduleAutoPlay bool
}

// UpdatePlaying records the device-reported playback state and decides,
// under the lock, whether to intercept or advance the queue.
func (s *Session) UpdatePlaying(ps proto.PlayingState) PlayingDecision {
	s.mu.Lock()
	defer s.mu.Unlock()
	var d PlayingDecision
	if s.closed {
		return d
	}
	s.playingState = ps
	switch {
	case ps == proto.PlayingStatePlaying && s.pipelineActive:
		d.Intercept = true
	case ps == proto.PlayingStateIdle && s.queueActive && !s.pipelineActive:
		d.ScheduleAutoPlay = true
	}
	return d
}

// ─── Pipeline and auto-play gates ───────────────────────────────────────────

// StartPipeline activates the pipeline gate and cancels any scheduled
// auto-play task. Used by the audio-completion path; the instruction path
// activates the gate inside OnInstruction/DebounceFired.
func (s *Session) StartPipeline() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.cancelAutoPlayLocked()
	s.pipelineActive = true
}

// MarkResponding moves Processing to Responding before the response is
// emitted.
func (s *Session) MarkResponding() {
	s.mu.Lock()
	if !s.closed && s.listenState == StateProcessing {
		s.listenState = StateResponding
	}
	s.mu.Unlock()
}

// EndPipeline releases the pipeline gate. resetListen additionally returns
// the listening state machine to Idle; the audio path wants that, the
// instruction path never left Idle.
func (s *Session) EndPipeline(resetListen bool) {
	s.mu.Lock()
	if !s.closed {
		s.pipelineActive = false
		if resetListen {
			s.listenState = StateIdle
		}
	}
	s.mu.Unlock()
}

// ArmAutoPlay cancels any scheduled auto-play task and registers a new
// one, returning its context. Returns nil when the session is closed or a
// pipeline is active.
func (s *Session) ArmAutoPlay() context.Context {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.pipelineActive {
		return nil
	}
	s.cancelAutoPlayLocked()
	ctx, cancel := context.WithCancel(s.ctx)
	s.autoPlayCancel = cancel
	return ctx
}

// CancelAutoPlay cancels the scheduled auto-play task, if any.
func (s *Session) CancelAutoPlay() {
	s.mu.Lock()
	s.cancelAutoPlayLocked()
	s.mu.Unlock()
}

func (s *Session) cancelAutoPlayLocked() {
	if s.autoPlayCancel != nil {
		s.autoPlayCancel()
		s.autoPlayCancel = nil
	}
}

// ─── Flags and state accessors ──────────────────────────────────────────────

// ListenState returns the current microphone state.
func (s *Session) ListenState() ListenState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.listenState
}

// PlayingState returns the last device-reported playback state.
func (s *Session) PlayingState() proto.PlayingState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.playingState
}

// PipelineActive reports whether a server response is in flight.
func (s *Session) PipelineActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pipelineActive
}

// QueueActive reports whether the auto-play queue may advance.
func (s *Session) QueueActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.queueActive
}

// SetQueueActive flips the auto-play queue gate.
func (s *Session) SetQueueActive(active bool) {
	s.mu.Lock()
	if !s.closed {
		s.queueActive = active
	}
	s.mu.Unlock()
}

// ─── Pending action ─────────────────────────────────────────────────────────

// SetPendingAction stores a next-turn confirmation slot, replacing any
// existing one.
func (s *Session) SetPendingAction(pa *PendingAction) {
	s.mu.Lock()
	if !s.closed {
		s.pendingAction = pa
	}
	s.mu.Unlock()
}

// TakePendingAction consumes the confirmation slot. The caller checks
// expiry; an expired slot is still cleared.
func (s *Session) TakePendingAction() *PendingAction {
	s.mu.Lock()
	defer s.mu.Unlock()
	pa := s.pendingAction
	s.pendingAction = nil
	return pa
}

func (s *Session) stopWakeTimerLocked() {
	if s.wakeTimer != nil {
		s.wakeTimer.Stop()
		s.wakeTimer = nil
	}
}

func (s *Session) stopInstructionTimerLocked() {
	if s.instructionTimer != nil {
		s.instructionTimer.Stop()
		s.instructionTimer = nil
	}
}
