// Package coordinator interprets inbound device frames and drives the
// voice-interaction turn: wake, capture, endpoint, dispatch, response and
// auto-play queue advancement.
//
// The coordinator runs inside each session's read loop. Everything that can
// block — transcription, synthesis, handler work, the auto-play guard —
// runs in detached goroutines so later frames can still be observed and can
// cancel or intercept the work in flight. All race-disabling state writes
// happen inside the session's decision methods, under its lock, before any
// goroutine is spawned.
package coordinator

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxleaf/voxleaf/internal/handler"
	"github.com/voxleaf/voxleaf/internal/hub"
	"github.com/voxleaf/voxleaf/internal/observe"
	"github.com/voxleaf/voxleaf/internal/proto"
	"github.com/voxleaf/voxleaf/internal/session"
	"github.com/voxleaf/voxleaf/pkg/catalog"
	"github.com/voxleaf/voxleaf/pkg/playqueue"
)

// Pipeline is the slice of the processing pipeline the coordinator drives.
type Pipeline interface {
	ProcessAudio(ctx context.Context, sess *session.Session, pcm []byte) *handler.Response
	ProcessText(ctx context.Context, sess *session.Session, text string) *handler.Response
	Respond(ctx context.Context, sess *session.Session, resp *handler.Response)
}

// Config holds the coordinator's timing knobs.
type Config struct {
	// WakeTimeout returns the session to Idle when no audio follows a
	// wake word.
	WakeTimeout time.Duration

	// InstructionDebounce is how long after the last cloud ASR partial a
	// round is considered complete without a final marker.
	InstructionDebounce time.Duration

	// AutoPlayGuard delays queue advancement after playback goes idle,
	// absorbing the spurious idle between a prompt and the next track.
	AutoPlayGuard time.Duration

	// CaptureDevice is the ALSA device name sent with start_recording.
	CaptureDevice string
}

func (c Config) withDefaults() Config {
	if c.WakeTimeout <= 0 {
		c.WakeTimeout = 5 * time.Second
	}
	if c.InstructionDebounce <= 0 {
		c.InstructionDebounce = 1500 * time.Millisecond
	}
	if c.AutoPlayGuard <= 0 {
		c.AutoPlayGuard = 1500 * time.Millisecond
	}
	if c.CaptureDevice == "" {
		c.CaptureDevice = "noop"
	}
	return c
}

// autoPlayAttempts bounds how many unplayable queue entries the scheduler
// skips before giving up and disabling the queue.
const autoPlayAttempts = 5

// Coordinator implements [hub.Handler].
type Coordinator struct {
	pipeline Pipeline
	catalog  catalog.Store
	queue    playqueue.Store
	metrics  *observe.Metrics
	logger   *slog.Logger
	cfg      Config
}

var _ hub.Handler = (*Coordinator)(nil)

// New creates a Coordinator. Zero Config fields take their defaults.
func New(p Pipeline, cat catalog.Store, queue playqueue.Store, metrics *observe.Metrics, logger *slog.Logger, cfg Config) *Coordinator {
	if metrics == nil {
		metrics = observe.DefaultMetrics()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Coordinator{
		pipeline: p,
		catalog:  cat,
		queue:    queue,
		metrics:  metrics,
		logger:   logger,
		cfg:      cfg.withDefaults(),
	}
}

// ─── events ─────────────────────────────────────────────────────────────────

// HandleEvent implements [hub.Handler].
func (c *Coordinator) HandleEvent(ctx context.Context, s *session.Session, ev *proto.Event) {
	switch ev.Event {
	case proto.EventWake:
		c.onWake(ctx, s, ev)
	case proto.EventPlaying:
		c.onPlaying(ctx, s, ev)
	case proto.EventInstruction:
		c.onInstruction(ctx, s, ev)
	default:
		c.logger.Info("ignoring unrecognized event", "event", ev.Event, "device", s.DeviceID())
	}
}

// onWake interrupts the built-in assistant and opens the local microphone.
// start_recording is fire-and-forget: its outcome arrives later as an
// orphan response and, on failure, rolls the optimistic wake back.
func (c *Coordinator) onWake(ctx context.Context, s *session.Session, ev *proto.Event) {
	if !s.BeginWake(c.cfg.WakeTimeout, func() { c.onWakeTimeout(s) }) {
		return
	}
	c.logger.Info("wake word", "device", s.DeviceID(), "phrase", ev.TextData())

	c.shell(ctx, s, proto.ShellAbortAssistant())

	id := uuid.NewString()
	s.SetStartRecordingID(id)
	req, err := proto.NewRequest(id, proto.CmdStartRecording, proto.DefaultRecordingParams(c.cfg.CaptureDevice))
	if err != nil {
		c.logger.Error("build start_recording", "error", err)
		return
	}
	if err := s.Send(ctx, req); err != nil {
		c.logger.Warn("start_recording send failed", "device", s.DeviceID(), "error", err)
	}
}

func (c *Coordinator) onWakeTimeout(s *session.Session) {
	if !s.WakeTimedOut() {
		return
	}
	c.logger.Info("wake window closed with no speech", "device", s.DeviceID())
	c.send(s.Context(), s, proto.CmdStopRecording)
}

// HandleOrphanResponse implements [hub.Handler]. The only expected orphan
// is the asynchronous start_recording outcome.
func (c *Coordinator) HandleOrphanResponse(ctx context.Context, s *session.Session, resp *proto.Response) {
	if resp.OK() {
		c.logger.Debug("async response ok", "device", s.DeviceID(), "id", resp.ID)
		return
	}
	if s.RollbackWake(resp.ID) {
		c.logger.Warn("start_recording rejected, wake rolled back",
			"device", s.DeviceID(), "id", resp.ID, "msg", resp.Msg)
		return
	}
	c.logger.Warn("device reported failure", "device", s.DeviceID(), "id", resp.ID, "msg", resp.Msg)
}

// onPlaying tracks playback state, intercepts cloud playback grabs during
// an active pipeline, and schedules queue advancement on idle.
func (c *Coordinator) onPlaying(ctx context.Context, s *session.Session, ev *proto.Event) {
	ps, err := proto.ParsePlayingState(ev.TextData())
	if err != nil {
		c.logger.Warn("bad playing state", "device", s.DeviceID(), "data", ev.TextData())
		return
	}
	d := s.UpdatePlaying(ps)
	if d.Intercept {
		c.metrics.RecordInterception(ctx, "playing")
		c.logger.Info("intercepting cloud playback", "device", s.DeviceID())
		c.shell(ctx, s, proto.ShellAbortAssistant())
		c.shell(ctx, s, proto.ShellPause())
	}
	if d.ScheduleAutoPlay {
		c.scheduleAutoPlay(s)
	}
}

// onInstruction feeds cloud ASR partials through the session's debouncer.
func (c *Coordinator) onInstruction(ctx context.Context, s *session.Session, ev *proto.Event) {
	inst, ok, err := proto.ParseInstruction(ev.Data)
	if err != nil {
		c.logger.Warn("bad instruction", "device", s.DeviceID(), "error", err)
		return
	}
	if !ok {
		return
	}

	switch s.OnInstruction(inst, c.cfg.InstructionDebounce, func() { c.onDebounceFired(s) }) {
	case session.InstructionIntercept:
		c.metrics.RecordInterception(ctx, "instruction")
		c.logger.Info("intercepting cloud directive", "device", s.DeviceID(),
			"namespace", inst.Header.Namespace, "name", inst.Header.Name)
		c.shell(ctx, s, proto.ShellAbortAssistant())
		c.shell(ctx, s, proto.ShellPause())
	case session.InstructionDispatch:
		c.metrics.RecordDispatch(ctx, "final")
		// Silence the built-in assistant before yielding to the
		// scheduler; it acts on the same final within milliseconds.
		c.shell(ctx, s, proto.ShellAbortAssistant())
		c.shell(ctx, s, proto.ShellPause())
		go c.instructionComplete(s, false)
	}
}

func (c *Coordinator) onDebounceFired(s *session.Session) {
	if !s.DebounceFired() {
		return
	}
	c.metrics.RecordDispatch(s.Context(), "debounce")
	c.instructionComplete(s, true)
}

// instructionComplete consumes the debounced transcript and runs the text
// pipeline. The listening state machine never left Idle on this path, so
// only the pipeline gate is released at the end. interrupt is false when
// the caller already silenced the built-in assistant.
func (c *Coordinator) instructionComplete(s *session.Session, interrupt bool) {
	ctx := s.Context()
	defer s.EndPipeline(false)

	text := s.TakeInstructionText()
	if text == "" {
		return
	}
	c.logger.Info("instruction dispatched", "device", s.DeviceID(), "text", text)

	if interrupt {
		c.shell(ctx, s, proto.ShellAbortAssistant())
		c.shell(ctx, s, proto.ShellPause())
	}

	resp := c.pipeline.ProcessText(ctx, s, text)
	c.pipeline.Respond(ctx, s, resp)
}

// ─── audio ──────────────────────────────────────────────────────────────────

// HandleStream implements [hub.Handler]. Captured PCM feeds the endpointer;
// the endpoint decision transitions to Processing inside AppendAudio before
// the detached task is spawned.
func (c *Coordinator) HandleStream(ctx context.Context, s *session.Session, st *proto.Stream) {
	if st.Tag != proto.TagRecord {
		c.logger.Debug("ignoring stream", "tag", st.Tag, "device", s.DeviceID())
		return
	}
	d := s.AppendAudio(st.Bytes)
	if d.BecameListening {
		c.logger.Debug("listening", "device", s.DeviceID())
	}
	if d.Endpoint {
		c.metrics.RecordDispatch(ctx, "audio")
		go c.audioComplete(s)
	}
}

// audioComplete runs the full voice turn for a captured utterance.
func (c *Coordinator) audioComplete(s *session.Session) {
	ctx := s.Context()
	defer s.EndPipeline(true)

	c.send(ctx, s, proto.CmdStopRecording)
	pcm := s.DrainAudio()
	s.StartPipeline()

	c.logger.Info("utterance captured", "device", s.DeviceID(), "bytes", len(pcm))

	resp := c.pipeline.ProcessAudio(ctx, s, pcm)
	s.MarkResponding()
	c.pipeline.Respond(ctx, s, resp)
}

// ─── auto-play ──────────────────────────────────────────────────────────────

// scheduleAutoPlay arms a cancellable advancement task. Arming fails when a
// pipeline is active; any previously scheduled task is cancelled.
func (c *Coordinator) scheduleAutoPlay(s *session.Session) {
	ctx := s.ArmAutoPlay()
	if ctx == nil {
		return
	}
	go c.autoPlay(ctx, s)
}

// autoPlay advances the queue after the guard window, unless the user or a
// pipeline intervened in the meantime. Cancellation is the normal signal
// that they did.
func (c *Coordinator) autoPlay(ctx context.Context, s *session.Session) {
	select {
	case <-time.After(c.cfg.AutoPlayGuard):
	case <-ctx.Done():
		return
	}
	if s.PlayingState() == proto.PlayingStatePlaying || !s.QueueActive() || s.PipelineActive() {
		return
	}

	for attempt := 0; attempt < autoPlayAttempts; attempt++ {
		if ctx.Err() != nil {
			return
		}
		id, err := c.queue.GetNext(ctx, s.DeviceID(), false)
		if errors.Is(err, playqueue.ErrEmpty) {
			c.logger.Info("queue exhausted", "device", s.DeviceID())
			s.SetQueueActive(false)
			return
		}
		if err != nil {
			c.logger.Warn("queue advance failed", "device", s.DeviceID(), "error", err)
			return
		}

		content, err := c.catalog.GetContentByID(ctx, id)
		if err != nil || !content.Playable() {
			c.logger.Info("skipping unplayable queue entry", "device", s.DeviceID(), "content_id", id)
			continue
		}
		if err := c.catalog.IncrementPlayCount(ctx, id); err != nil {
			c.logger.Warn("increment play count failed", "content_id", id, "error", err)
		}
		c.metrics.AutoPlayAdvances.Add(ctx, 1)
		c.logger.Info("auto-play advance", "device", s.DeviceID(), "content_id", id)
		c.shell(ctx, s, proto.ShellPlayURL(content.URL))
		return
	}

	c.logger.Warn("auto-play gave up after unplayable entries", "device", s.DeviceID())
	s.SetQueueActive(false)
}

// ─── outbound helpers ───────────────────────────────────────────────────────

func (c *Coordinator) shell(ctx context.Context, s *session.Session, command string) {
	req, err := proto.NewShellRequest(uuid.NewString(), command)
	if err != nil {
		c.logger.Error("build shell request", "error", err)
		return
	}
	if err := s.Send(ctx, req); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		c.logger.Warn("shell send failed", "device", s.DeviceID(), "error", err)
	}
}

func (c *Coordinator) send(ctx context.Context, s *session.Session, command string) {
	req, err := proto.NewRequest(uuid.NewString(), command, nil)
	if err != nil {
		c.logger.Error("build request", "command", command, "error", err)
		return
	}
	if err := s.Send(ctx, req); err != nil && !errors.Is(err, session.ErrSessionClosed) {
		c.logger.Warn("send failed", "device", s.DeviceID(), "command", command, "error", err)
	}
}
