package coordinator

import (
	"context"
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/voxleaf/voxleaf/internal/handler"
	"github.com/voxleaf/voxleaf/internal/proto"
	"github.com/voxleaf/voxleaf/internal/session"
	"github.com/voxleaf/voxleaf/pkg/audio"
	"github.com/voxleaf/voxleaf/pkg/catalog"
	"github.com/voxleaf/voxleaf/pkg/catalog/memstore"
	"github.com/voxleaf/voxleaf/pkg/playqueue"
)

// ─── test doubles ────────────────────────────────────────────────────────────

// deviceTransport records every outbound request.
type deviceTransport struct {
	mu   sync.Mutex
	reqs []request
}

type request struct {
	ID      string
	Command string
	Shell   string
	Payload json.RawMessage
}

func (t *deviceTransport) WriteText(ctx context.Context, data []byte) error {
	var frame struct {
		Request *struct {
			ID      string          `json:"id"`
			Command string          `json:"command"`
			Payload json.RawMessage `json:"payload"`
		} `json:"Request"`
	}
	if err := json.Unmarshal(data, &frame); err != nil || frame.Request == nil {
		return nil
	}
	r := request{ID: frame.Request.ID, Command: frame.Request.Command, Payload: frame.Request.Payload}
	if r.Command == "run_shell" {
		json.Unmarshal(r.Payload, &r.Shell)
	}
	t.mu.Lock()
	t.reqs = append(t.reqs, r)
	t.mu.Unlock()
	return nil
}

func (t *deviceTransport) Close() error { return nil }

func (t *deviceTransport) requests() []request {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]request(nil), t.reqs...)
}

func (t *deviceTransport) commands() []string {
	out := []string{}
	for _, r := range t.requests() {
		out = append(out, r.Command)
	}
	return out
}

func (t *deviceTransport) shells() []string {
	out := []string{}
	for _, r := range t.requests() {
		if r.Shell != "" {
			out = append(out, r.Shell)
		}
	}
	return out
}

func (t *deviceTransport) hasCommand(name string) bool {
	for _, c := range t.commands() {
		if c == name {
			return true
		}
	}
	return false
}

func (t *deviceTransport) hasShellContaining(substr string) bool {
	for _, s := range t.shells() {
		if strings.Contains(s, substr) {
			return true
		}
	}
	return false
}

// fakePipeline records calls and answers with a fixed response.
type fakePipeline struct {
	mu        sync.Mutex
	audio     [][]byte
	texts     []string
	responded []*handler.Response
}

func (p *fakePipeline) ProcessAudio(ctx context.Context, sess *session.Session, pcm []byte) *handler.Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.audio = append(p.audio, append([]byte(nil), pcm...))
	return &handler.Response{Text: "好的"}
}

func (p *fakePipeline) ProcessText(ctx context.Context, sess *session.Session, text string) *handler.Response {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.texts = append(p.texts, text)
	return &handler.Response{Text: "好的"}
}

func (p *fakePipeline) Respond(ctx context.Context, sess *session.Session, resp *handler.Response) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.responded = append(p.responded, resp)
}

func (p *fakePipeline) audioCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.audio)
}

func (p *fakePipeline) textCalls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]string(nil), p.texts...)
}

func (p *fakePipeline) respondCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.responded)
}

// ─── fixtures ────────────────────────────────────────────────────────────────

// endpointNow endpoints on the first audio chunk.
func endpointNow() audio.EndpointerConfig {
	return audio.EndpointerConfig{
		SampleRate:       16000,
		SampleWidth:      2,
		Channels:         1,
		SilenceThreshold: time.Hour,
		MaxDuration:      time.Nanosecond,
		MinDuration:      time.Hour,
		EnergyThreshold:  1e9,
	}
}

// endpointNever keeps the capture open for the whole test.
func endpointNever() audio.EndpointerConfig {
	cfg := endpointNow()
	cfg.MaxDuration = time.Hour
	return cfg
}

type fixture struct {
	coord     *Coordinator
	pipe      *fakePipeline
	sess      *session.Session
	transport *deviceTransport
	catalog   *memstore.Store
	queue     *playqueue.Memory
}

func newFixture(t *testing.T, epCfg audio.EndpointerConfig, cfg Config) *fixture {
	t.Helper()
	if cfg.WakeTimeout == 0 {
		cfg.WakeTimeout = time.Hour
	}
	if cfg.InstructionDebounce == 0 {
		cfg.InstructionDebounce = 40 * time.Millisecond
	}
	if cfg.AutoPlayGuard == 0 {
		cfg.AutoPlayGuard = 20 * time.Millisecond
	}

	pipe := &fakePipeline{}
	cat := memstore.New()
	queue := playqueue.NewMemory()
	transport := &deviceTransport{}
	sess := session.New("dev-1", transport, epCfg, nil)
	t.Cleanup(func() { sess.Close() })

	coord := New(pipe, cat, queue, nil, nil, cfg)
	return &fixture{coord: coord, pipe: pipe, sess: sess, transport: transport, catalog: cat, queue: queue}
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal(msg)
}

// ─── event builders ──────────────────────────────────────────────────────────

func wakeEvent() *proto.Event {
	return &proto.Event{ID: "e1", Event: proto.EventWake, Data: json.RawMessage(`"小爱同学"`)}
}

func playingEvent(state string) *proto.Event {
	data, _ := json.Marshal(state)
	return &proto.Event{ID: "e2", Event: proto.EventPlaying, Data: data}
}

func instructionEvent(t *testing.T, ns, name, text string, final bool) *proto.Event {
	t.Helper()
	inner, err := json.Marshal(map[string]any{
		"header": map[string]string{"namespace": ns, "name": name},
		"payload": map[string]any{
			"is_final": final,
			"results":  []map[string]any{{"text": text, "is_stop": false}},
		},
	})
	if err != nil {
		t.Fatalf("marshal inner: %v", err)
	}
	data, err := json.Marshal(map[string]string{"NewLine": string(inner)})
	if err != nil {
		t.Fatalf("marshal envelope: %v", err)
	}
	return &proto.Event{ID: "e3", Event: proto.EventInstruction, Data: data}
}

func recordStream(pcm []byte) *proto.Stream {
	return &proto.Stream{ID: "s1", Tag: proto.TagRecord, Bytes: proto.ByteArray(pcm)}
}

// ─── wake path ───────────────────────────────────────────────────────────────

func TestWakeInterruptsAndStartsRecording(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{})
	ctx := context.Background()

	f.coord.HandleEvent(ctx, f.sess, wakeEvent())

	if got := f.sess.ListenState(); got != session.StateWoken {
		t.Errorf("state = %v, want woken", got)
	}
	reqs := f.transport.requests()
	if len(reqs) != 2 {
		t.Fatalf("requests = %+v, want abort shell then start_recording", reqs)
	}
	if reqs[0].Shell != proto.ShellAbortAssistant() {
		t.Errorf("first request shell = %q", reqs[0].Shell)
	}
	if reqs[1].Command != proto.CmdStartRecording {
		t.Fatalf("second command = %q", reqs[1].Command)
	}
	var params proto.RecordingParams
	if err := json.Unmarshal(reqs[1].Payload, &params); err != nil {
		t.Fatalf("decode recording params: %v", err)
	}
	if params.PCM != "noop" || params.SampleRate != 16000 || params.Channels != 1 {
		t.Errorf("recording params = %+v", params)
	}
}

func TestStartRecordingFailureRollsBackWake(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{})
	ctx := context.Background()

	f.coord.HandleEvent(ctx, f.sess, wakeEvent())
	reqs := f.transport.requests()
	startID := reqs[len(reqs)-1].ID

	f.coord.HandleOrphanResponse(ctx, f.sess, &proto.Response{
		ID:   startID,
		Code: proto.CodeFailed,
		Msg:  "mic busy",
	})

	if got := f.sess.ListenState(); got != session.StateIdle {
		t.Errorf("state after rollback = %v, want idle", got)
	}
}

func TestWakeTimeoutStopsRecording(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{WakeTimeout: 20 * time.Millisecond})
	ctx := context.Background()

	f.coord.HandleEvent(ctx, f.sess, wakeEvent())

	waitFor(t, func() bool { return f.sess.ListenState() == session.StateIdle },
		"wake window never closed")
	waitFor(t, func() bool { return f.transport.hasCommand(proto.CmdStopRecording) },
		"stop_recording was not sent")
}

// ─── audio path ──────────────────────────────────────────────────────────────

func TestAudioEndpointDrivesPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNow(), Config{})
	ctx := context.Background()

	f.coord.HandleEvent(ctx, f.sess, wakeEvent())
	chunk := []byte{1, 2, 3, 4}
	f.coord.HandleStream(ctx, f.sess, recordStream(chunk))

	waitFor(t, func() bool { return f.pipe.audioCalls() == 1 }, "pipeline never ran")
	waitFor(t, func() bool { return f.pipe.respondCalls() == 1 }, "response never emitted")
	waitFor(t, func() bool { return f.sess.ListenState() == session.StateIdle },
		"state not reset after the turn")

	if f.sess.PipelineActive() {
		t.Error("pipeline gate left active")
	}
	if !f.transport.hasCommand(proto.CmdStopRecording) {
		t.Errorf("stop_recording missing: %q", f.transport.commands())
	}
	f.pipe.mu.Lock()
	got := f.pipe.audio[0]
	f.pipe.mu.Unlock()
	if string(got) != string(chunk) {
		t.Errorf("pipeline pcm = %v, want %v", got, chunk)
	}
}

func TestAudioIgnoredWhenIdle(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNow(), Config{})

	f.coord.HandleStream(context.Background(), f.sess, recordStream([]byte{1, 2}))

	time.Sleep(30 * time.Millisecond)
	if f.pipe.audioCalls() != 0 {
		t.Error("audio outside a wake round reached the pipeline")
	}
}

// ─── instruction path ────────────────────────────────────────────────────────

func TestInstructionFinalDispatchesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{})
	ctx := context.Background()

	ev := instructionEvent(t, "SpeechRecognizer", "RecognizeResult", "播放白雪公主", true)
	f.coord.HandleEvent(ctx, f.sess, ev)
	f.coord.HandleEvent(ctx, f.sess, ev)

	waitFor(t, func() bool { return len(f.pipe.textCalls()) >= 1 }, "final never dispatched")
	time.Sleep(30 * time.Millisecond)
	texts := f.pipe.textCalls()
	if len(texts) != 1 || texts[0] != "播放白雪公主" {
		t.Errorf("dispatched texts = %q, want one dispatch", texts)
	}
}

func TestInstructionDebounceDispatchesLatestText(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{InstructionDebounce: 30 * time.Millisecond})
	ctx := context.Background()

	f.coord.HandleEvent(ctx, f.sess, instructionEvent(t, "SpeechRecognizer", "RecognizeResult", "播放", false))
	f.coord.HandleEvent(ctx, f.sess, instructionEvent(t, "SpeechRecognizer", "RecognizeResult", "播放音乐", false))

	waitFor(t, func() bool { return len(f.pipe.textCalls()) >= 1 }, "debounce never fired")
	time.Sleep(60 * time.Millisecond)
	texts := f.pipe.textCalls()
	if len(texts) != 1 || texts[0] != "播放音乐" {
		t.Errorf("dispatched texts = %q, want latest partial once", texts)
	}
}

func TestFinalPreemptsDebounce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{InstructionDebounce: 40 * time.Millisecond})
	ctx := context.Background()

	f.coord.HandleEvent(ctx, f.sess, instructionEvent(t, "SpeechRecognizer", "RecognizeResult", "下一", false))
	f.coord.HandleEvent(ctx, f.sess, instructionEvent(t, "SpeechRecognizer", "RecognizeResult", "下一首", true))

	waitFor(t, func() bool { return len(f.pipe.textCalls()) >= 1 }, "final never dispatched")
	time.Sleep(80 * time.Millisecond)
	texts := f.pipe.textCalls()
	if len(texts) != 1 || texts[0] != "下一首" {
		t.Errorf("dispatched texts = %q, want the final text once", texts)
	}
}

func TestInstructionFinalInterruptsBeforeDispatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{})
	ctx := context.Background()

	f.coord.HandleEvent(ctx, f.sess, instructionEvent(t, "SpeechRecognizer", "RecognizeResult", "播放白雪公主", true))

	// The interrupt shells must already be on the wire when HandleEvent
	// returns, not after the detached dispatch gets scheduled.
	shells := f.transport.shells()
	if len(shells) != 2 || shells[0] != proto.ShellAbortAssistant() || shells[1] != proto.ShellPause() {
		t.Fatalf("shells after HandleEvent = %q, want abort then pause", shells)
	}

	waitFor(t, func() bool { return len(f.pipe.textCalls()) >= 1 }, "final never dispatched")
	time.Sleep(30 * time.Millisecond)
	aborts := 0
	for _, s := range f.transport.shells() {
		if s == proto.ShellAbortAssistant() {
			aborts++
		}
	}
	if aborts != 1 {
		t.Errorf("abort shell sent %d times, want once", aborts)
	}
}

func TestCloudPlaybackInterceptedDuringPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{})
	ctx := context.Background()

	f.sess.StartPipeline()
	f.coord.HandleEvent(ctx, f.sess, instructionEvent(t, "AudioPlayer", "Play", "", false))

	shells := f.transport.shells()
	want := []string{proto.ShellAbortAssistant(), proto.ShellPause()}
	if len(shells) != len(want) || shells[0] != want[0] || shells[1] != want[1] {
		t.Errorf("shells = %q, want abort then pause", shells)
	}
	if len(f.pipe.textCalls()) != 0 {
		t.Error("interception must not dispatch a pipeline turn")
	}
}

func TestPlayingGrabInterceptedDuringPipeline(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{})
	ctx := context.Background()

	f.sess.StartPipeline()
	f.coord.HandleEvent(ctx, f.sess, playingEvent("Playing"))

	shells := f.transport.shells()
	if len(shells) != 2 || shells[0] != proto.ShellAbortAssistant() || shells[1] != proto.ShellPause() {
		t.Errorf("shells = %q, want abort then pause", shells)
	}
}

// ─── auto-play ───────────────────────────────────────────────────────────────

func TestAutoPlayAdvancesQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{AutoPlayGuard: 10 * time.Millisecond})
	ctx := context.Background()

	current := f.catalog.Add(catalog.Content{Name: "晴天", Type: catalog.TypeMusic, URL: "http://cdn/a.mp3"})
	next := f.catalog.Add(catalog.Content{Name: "七里香", Type: catalog.TypeMusic, URL: "http://cdn/b.mp3"})
	if err := f.queue.SetQueue(ctx, f.sess.DeviceID(), []int64{current, next}, 0); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}
	f.sess.SetQueueActive(true)

	f.coord.HandleEvent(ctx, f.sess, playingEvent("Idle"))

	waitFor(t, func() bool { return f.transport.hasShellContaining("http://cdn/b.mp3") },
		"auto-play never advanced")
	c, err := f.catalog.GetContentByID(ctx, next)
	if err != nil {
		t.Fatalf("GetContentByID: %v", err)
	}
	if c.PlayCount != 1 {
		t.Errorf("play count = %d, want 1", c.PlayCount)
	}
}

func TestAutoPlaySkipsUnplayableAndDisablesQueue(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{AutoPlayGuard: 10 * time.Millisecond})
	ctx := context.Background()

	current := f.catalog.Add(catalog.Content{Name: "晴天", Type: catalog.TypeMusic, URL: "http://cdn/a.mp3"})
	broken1 := f.catalog.Add(catalog.Content{Name: "坏1", Type: catalog.TypeMusic})
	broken2 := f.catalog.Add(catalog.Content{Name: "坏2", Type: catalog.TypeMusic})
	if err := f.queue.SetQueue(ctx, f.sess.DeviceID(), []int64{current, broken1, broken2}, 0); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}
	f.sess.SetQueueActive(true)

	f.coord.HandleEvent(ctx, f.sess, playingEvent("Idle"))

	waitFor(t, func() bool { return !f.sess.QueueActive() }, "queue never disabled")
	if f.transport.hasShellContaining("player_play_url") {
		t.Errorf("unplayable entries must not be played: %q", f.transport.shells())
	}
}

func TestAutoPlayCancelledByInstructionPartial(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{AutoPlayGuard: 60 * time.Millisecond})
	ctx := context.Background()

	current := f.catalog.Add(catalog.Content{Name: "晴天", Type: catalog.TypeMusic, URL: "http://cdn/a.mp3"})
	next := f.catalog.Add(catalog.Content{Name: "七里香", Type: catalog.TypeMusic, URL: "http://cdn/b.mp3"})
	if err := f.queue.SetQueue(ctx, f.sess.DeviceID(), []int64{current, next}, 0); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}
	f.sess.SetQueueActive(true)

	f.coord.HandleEvent(ctx, f.sess, playingEvent("Idle"))
	f.coord.HandleEvent(ctx, f.sess, instructionEvent(t, "SpeechRecognizer", "RecognizeResult", "换一首", false))

	time.Sleep(120 * time.Millisecond)
	if f.transport.hasShellContaining("player_play_url") {
		t.Errorf("cancelled auto-play still advanced: %q", f.transport.shells())
	}
	idx, err := f.queue.Index(ctx, f.sess.DeviceID())
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if idx != 0 {
		t.Errorf("queue index = %d, want 0; advancement must not move the pointer", idx)
	}
}

func TestAutoPlayCancelledByWake(t *testing.T) {
	t.Parallel()
	f := newFixture(t, endpointNever(), Config{AutoPlayGuard: 60 * time.Millisecond})
	ctx := context.Background()

	id := f.catalog.Add(catalog.Content{Name: "晴天", Type: catalog.TypeMusic, URL: "http://cdn/a.mp3"})
	if err := f.queue.SetQueue(ctx, f.sess.DeviceID(), []int64{id, id}, 0); err != nil {
		t.Fatalf("SetQueue: %v", err)
	}
	f.sess.SetQueueActive(true)

	f.coord.HandleEvent(ctx, f.sess, playingEvent("Idle"))
	f.coord.HandleEvent(ctx, f.sess, wakeEvent())

	time.Sleep(120 * time.Millisecond)
	if f.transport.hasShellContaining("player_play_url") {
		t.Errorf("cancelled auto-play still advanced: %q", f.transport.shells())
	}
}
