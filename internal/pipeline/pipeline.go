// Package pipeline turns captured audio or recognized text into device
// actions: transcription, intent recognition, handler dispatch and the
// response phase that plays the outcome back on the device.
//
// Every entry point returns a usable response; downstream failures degrade
// to a spoken apology instead of surfacing errors to the coordinator.
package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/voxleaf/voxleaf/internal/handler"
	"github.com/voxleaf/voxleaf/internal/nlu"
	"github.com/voxleaf/voxleaf/internal/observe"
	"github.com/voxleaf/voxleaf/internal/proto"
	"github.com/voxleaf/voxleaf/internal/session"
	"github.com/voxleaf/voxleaf/pkg/catalog"
	"github.com/voxleaf/voxleaf/pkg/convstore"
	"github.com/voxleaf/voxleaf/pkg/playqueue"
	"github.com/voxleaf/voxleaf/pkg/provider/asr"
	"github.com/voxleaf/voxleaf/pkg/provider/llm"
	"github.com/voxleaf/voxleaf/pkg/provider/tts"
)

// apologyText is spoken whenever recognition or handling fails.
const apologyText = "抱歉，我没有听清，请再说一遍"

// defaultVolumeStep is the relative volume change for up/down commands.
const defaultVolumeStep = 5

// speakTimeout bounds the wait for the device to finish a spoken prompt.
// Local synthesis runs synchronously on the device, so the reply marks the
// end of speech.
const speakTimeout = 30 * time.Second

// Options wires the pipeline's collaborators. ASR, Catalog and Queue are
// required; the rest degrade gracefully when absent.
type Options struct {
	ASR           asr.Provider
	TTS           tts.Provider
	Recognizer    nlu.Recognizer
	Registry      *handler.Registry
	Catalog       catalog.Store
	Queue         playqueue.Store
	Conversations convstore.Store
	LLM           llm.Provider
	Metrics       *observe.Metrics
	Logger        *slog.Logger

	Format     asr.AudioFormat
	VolumeStep int

	// PendingTimeout overrides how long confirmation slots stay valid.
	// Zero keeps [session.DefaultPendingTimeout].
	PendingTimeout time.Duration
}

// Pipeline is safe for concurrent use across device sessions.
type Pipeline struct {
	asr            asr.Provider
	tts            tts.Provider
	recognizer     nlu.Recognizer
	registry       *handler.Registry
	catalog        catalog.Store
	queue          playqueue.Store
	conversations  convstore.Store
	llm            llm.Provider
	metrics        *observe.Metrics
	logger         *slog.Logger
	format         asr.AudioFormat
	volumeStep     int
	pendingTimeout time.Duration
}

// New builds a Pipeline, filling in the rule recognizer, default registry
// and default metrics when the options leave them nil.
func New(opts Options) *Pipeline {
	p := &Pipeline{
		asr:            opts.ASR,
		tts:            opts.TTS,
		recognizer:     opts.Recognizer,
		registry:       opts.Registry,
		catalog:        opts.Catalog,
		queue:          opts.Queue,
		conversations:  opts.Conversations,
		llm:            opts.LLM,
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		format:         opts.Format,
		volumeStep:     opts.VolumeStep,
		pendingTimeout: opts.PendingTimeout,
	}
	if p.recognizer == nil {
		p.recognizer = nlu.NewRuleRecognizer()
	}
	if p.registry == nil {
		p.registry = handler.DefaultRegistry()
	}
	if p.metrics == nil {
		p.metrics = observe.DefaultMetrics()
	}
	if p.logger == nil {
		p.logger = slog.Default()
	}
	if p.format.SampleRate <= 0 {
		p.format = asr.AudioFormat{SampleRate: 16000, Channels: 1}
	}
	if p.volumeStep <= 0 {
		p.volumeStep = defaultVolumeStep
	}
	if p.llm != nil {
		p.llm = &meteredLLM{inner: p.llm, metrics: p.metrics}
	}
	return p
}

// meteredLLM wraps the chat provider with the same latency and error
// accounting the pipeline applies to ASR and TTS calls.
type meteredLLM struct {
	inner   llm.Provider
	metrics *observe.Metrics
}

func (m *meteredLLM) Chat(ctx context.Context, req llm.ChatRequest) (string, error) {
	start := time.Now()
	answer, err := m.inner.Chat(ctx, req)
	m.metrics.LLMDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		m.metrics.RecordProviderError(ctx, "llm", "chat")
	}
	return answer, err
}

// ─── processing ─────────────────────────────────────────────────────────────

// ProcessAudio transcribes a completed utterance and routes it. An empty or
// failed transcription answers with the apology.
func (p *Pipeline) ProcessAudio(ctx context.Context, sess *session.Session, pcm []byte) *handler.Response {
	start := time.Now()
	text, err := p.asr.Transcribe(ctx, pcm, p.format)
	p.metrics.ASRDuration.Record(ctx, time.Since(start).Seconds())
	if err != nil {
		p.logger.Warn("transcription failed", "device", sess.DeviceID(), "error", err)
		p.metrics.RecordProviderError(ctx, "asr", "transcribe")
		return &handler.Response{Text: apologyText}
	}
	if text == "" {
		p.logger.Info("empty transcription", "device", sess.DeviceID(), "bytes", len(pcm))
		return &handler.Response{Text: apologyText}
	}
	p.logger.Info("transcribed", "device", sess.DeviceID(), "text", text)
	return p.ProcessText(ctx, sess, text)
}

// ProcessText routes recognized text: a live pending action is consumed
// first and bypasses intent recognition; otherwise the utterance goes
// through NLU and the handler registry.
func (p *Pipeline) ProcessText(ctx context.Context, sess *session.Session, text string) *handler.Response {
	start := time.Now()
	defer func() {
		p.metrics.PipelineDuration.Record(ctx, time.Since(start).Seconds())
	}()

	env := p.env(sess, text)

	if pa := sess.TakePendingAction(); pa != nil && !pa.Expired(time.Now()) {
		if resp := p.confirm(ctx, pa, text, env); resp != nil {
			return resp
		}
		// Unroutable slot: fall through to normal recognition.
	}

	res := p.recognizer.Recognize(text)
	h, ok := p.registry.ForIntent(res.Intent)
	if !ok {
		p.logger.Warn("no handler for intent", "intent", res.Intent, "device", sess.DeviceID())
		return &handler.Response{Text: apologyText}
	}

	resp, err := h.Handle(ctx, res, env)
	if err != nil {
		p.logger.Error("handler failed", "intent", res.Intent, "device", sess.DeviceID(), "error", err)
		return &handler.Response{Text: apologyText}
	}
	if resp == nil {
		return &handler.Response{Text: apologyText}
	}
	p.logger.Info("handled", "intent", res.Intent, "device", sess.DeviceID())
	return resp
}

// confirm routes a follow-up turn to the handler that installed the pending
// action. A nil return means the slot could not be routed.
func (p *Pipeline) confirm(ctx context.Context, pa *session.PendingAction, text string, env *handler.Env) *handler.Response {
	h, ok := p.registry.ByName(pa.HandlerName)
	if !ok {
		p.logger.Warn("pending action names unknown handler", "handler", pa.HandlerName)
		return nil
	}
	c, ok := h.(handler.Confirmer)
	if !ok {
		p.logger.Warn("pending action handler cannot confirm", "handler", pa.HandlerName)
		return nil
	}
	resp, err := c.HandleConfirmation(ctx, text, pa.Data, env)
	if err != nil {
		p.logger.Error("confirmation failed", "handler", pa.HandlerName, "error", err)
		return &handler.Response{Text: apologyText}
	}
	return resp
}

// ─── response phase ─────────────────────────────────────────────────────────

// Respond plays a handler response back on the device: interrupt preamble,
// spoken text, media URL, control commands, queue reconciliation and the
// optional silent re-wake.
func (p *Pipeline) Respond(ctx context.Context, sess *session.Session, resp *handler.Response) {
	if resp == nil {
		return
	}

	if !resp.SkipInterrupt {
		p.shell(ctx, sess, proto.ShellAbortAssistant())
		p.shell(ctx, sess, proto.ShellPause())
	}

	if resp.Text != "" {
		p.speak(ctx, sess, resp.Text)
	}
	if resp.PlayURL != "" {
		p.shell(ctx, sess, proto.ShellPlayURL(resp.PlayURL))
	}

	for _, cmd := range resp.Commands {
		switch cmd.Name {
		case handler.CmdPause:
			p.shell(ctx, sess, proto.ShellPause())
		case handler.CmdPlay:
			p.shell(ctx, sess, proto.ShellResume())
		case handler.CmdVolumeUp:
			p.shell(ctx, sess, proto.ShellVolume(proto.VolumeUp, p.volumeStep))
		case handler.CmdVolumeDown:
			p.shell(ctx, sess, proto.ShellVolume(proto.VolumeDown, p.volumeStep))
		case handler.CmdVolumeSet:
			p.shell(ctx, sess, proto.ShellVolume(proto.VolumeSet, cmd.Value))
		default:
			p.logger.Warn("unknown command", "command", cmd.Name)
		}
	}

	switch resp.Queue {
	case handler.QueueEnable:
		sess.SetQueueActive(true)
	case handler.QueueDisable:
		sess.SetQueueActive(false)
	}

	if resp.ContinueListening {
		p.shell(ctx, sess, proto.ShellWake())
	}
}

// speak voices text on the device. A configured provider synthesizes a URL
// that is played to completion; the device's local synthesis command covers
// the no-provider case and synthesis failures.
func (p *Pipeline) speak(ctx context.Context, sess *session.Session, text string) {
	if p.tts != nil {
		start := time.Now()
		url, err := p.tts.Synthesize(ctx, text)
		p.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
		if err == nil {
			p.shellWait(ctx, sess, proto.ShellPlayURL(url))
			return
		}
		p.logger.Warn("synthesis failed, falling back to local tts", "device", sess.DeviceID(), "error", err)
		p.metrics.RecordProviderError(ctx, "tts", "synthesize")
	}
	p.shellWait(ctx, sess, proto.ShellSpeak(text))
}

// shell sends a fire-and-forget run_shell request.
func (p *Pipeline) shell(ctx context.Context, sess *session.Session, command string) {
	req, err := proto.NewShellRequest(uuid.NewString(), command)
	if err != nil {
		p.logger.Error("build shell request", "error", err)
		return
	}
	if err := sess.Send(ctx, req); err != nil {
		p.logger.Warn("shell send failed", "device", sess.DeviceID(), "error", err)
	}
}

// shellWait sends a run_shell request and waits for the device to finish
// executing it. Failures are logged; the response phase carries on.
func (p *Pipeline) shellWait(ctx context.Context, sess *session.Session, command string) {
	req, err := proto.NewShellRequest(uuid.NewString(), command)
	if err != nil {
		p.logger.Error("build shell request", "error", err)
		return
	}
	if _, err := sess.SendForReply(ctx, req, speakTimeout); err != nil {
		p.logger.Warn("shell reply missing", "device", sess.DeviceID(), "error", err)
	}
}

// env builds the per-turn handler environment.
func (p *Pipeline) env(sess *session.Session, utterance string) *handler.Env {
	setPending := func(pa *session.PendingAction) {
		if p.pendingTimeout > 0 {
			pa.Timeout = p.pendingTimeout
		}
		sess.SetPendingAction(pa)
	}
	return &handler.Env{
		DeviceID:         sess.DeviceID(),
		Utterance:        utterance,
		Catalog:          p.catalog,
		Queue:            p.queue,
		Conversations:    p.conversations,
		LLM:              p.llm,
		Version:          func(ctx context.Context) (string, error) { return p.deviceVersion(ctx, sess) },
		SetPendingAction: setPending,
		Logger:           p.logger,
	}
}

// deviceVersion asks the device agent for its firmware version.
func (p *Pipeline) deviceVersion(ctx context.Context, sess *session.Session) (string, error) {
	req, err := proto.NewRequest(uuid.NewString(), proto.CmdGetVersion, nil)
	if err != nil {
		return "", err
	}
	resp, err := sess.SendForReply(ctx, req, session.DefaultReplyTimeout)
	if err != nil {
		return "", err
	}
	if !resp.OK() {
		return "", fmt.Errorf("pipeline: get_version failed: %s", resp.Msg)
	}
	var version string
	if err := json.Unmarshal(resp.Data, &version); err == nil {
		return version, nil
	}
	var payload struct {
		Version string `json:"version"`
	}
	if err := json.Unmarshal(resp.Data, &payload); err != nil {
		return "", fmt.Errorf("pipeline: parse version payload: %w", err)
	}
	return payload.Version, nil
}
