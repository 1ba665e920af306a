// Package handler routes recognized intents to their behavior: content
// playback, queue control, device control, chat and catalog maintenance.
//
// Handlers return a [Response] describing what the device should do; the
// response phase of the pipeline turns it into device requests. A handler
// that needs a follow-up turn (e.g. "really delete these?") installs a
// pending action through the environment and implements [Confirmer].
package handler

import (
	"context"
	"log/slog"

	"github.com/voxleaf/voxleaf/internal/nlu"
	"github.com/voxleaf/voxleaf/internal/session"
	"github.com/voxleaf/voxleaf/pkg/catalog"
	"github.com/voxleaf/voxleaf/pkg/convstore"
	"github.com/voxleaf/voxleaf/pkg/playqueue"
	"github.com/voxleaf/voxleaf/pkg/provider/llm"
)

// ─── commands ───────────────────────────────────────────────────────────────

// Command names executed by the response phase, in order, after any spoken
// text. Next/previous never appear here: the control handler resolves them
// to a concrete play URL itself.
const (
	CmdPause      = "pause"
	CmdPlay       = "play"
	CmdVolumeUp   = "volume_up"
	CmdVolumeDown = "volume_down"
	CmdVolumeSet  = "volume_set"
)

// Command is one device control step. Value is only meaningful for
// volume_set.
type Command struct {
	Name  string
	Value int
}

func Pause() Command          { return Command{Name: CmdPause} }
func Play() Command           { return Command{Name: CmdPlay} }
func VolumeUp() Command       { return Command{Name: CmdVolumeUp} }
func VolumeDown() Command     { return Command{Name: CmdVolumeDown} }
func VolumeSet(v int) Command { return Command{Name: CmdVolumeSet, Value: v} }

// ─── response ───────────────────────────────────────────────────────────────

// QueueFlag is the tri-state queue reconciliation instruction. The zero
// value leaves the session's queue flag untouched.
type QueueFlag int

const (
	QueueUnchanged QueueFlag = iota
	QueueEnable
	QueueDisable
)

// Response is what a handler asks the device to do.
type Response struct {
	// Text is spoken before anything else plays.
	Text string

	// PlayURL is streamed after the spoken text.
	PlayURL string

	// Commands run in order after text and playback have been issued.
	Commands []Command

	// ContinueListening reopens the microphone without a wake word.
	ContinueListening bool

	// Queue enables or disables auto-play queue advancement.
	Queue QueueFlag

	// SkipInterrupt suppresses the abort+pause preamble. Needed when the
	// response must preserve the device's current playback, e.g. volume
	// changes and resume.
	SkipInterrupt bool
}

// ─── environment ────────────────────────────────────────────────────────────

// Env carries the per-turn collaborators a handler may use. The pipeline
// builds one per utterance.
type Env struct {
	DeviceID string

	// Utterance is the raw recognized text, needed by handlers that work
	// on free-form input (chat, confirmations).
	Utterance string

	Catalog       catalog.Store
	Queue         playqueue.Store
	Conversations convstore.Store
	LLM           llm.Provider

	// Version queries the connected device's firmware version.
	Version func(ctx context.Context) (string, error)

	// SetPendingAction installs a confirmation slot on the session.
	SetPendingAction func(*session.PendingAction)

	Logger *slog.Logger
}

func (e *Env) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// ─── registry ───────────────────────────────────────────────────────────────

// Handler executes one recognized intent.
type Handler interface {
	Handle(ctx context.Context, res nlu.Result, env *Env) (*Response, error)
}

// Confirmer is implemented by handlers that accept a follow-up turn routed
// through a pending action.
type Confirmer interface {
	HandleConfirmation(ctx context.Context, text string, data any, env *Env) (*Response, error)
}

// Registry maps intents to handlers for normal routing and handler names to
// handlers for pending-action routing.
type Registry struct {
	byIntent map[string]Handler
	byName   map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{
		byIntent: make(map[string]Handler),
		byName:   make(map[string]Handler),
	}
}

// Register adds a handler under its name and claims the given intents.
// Later registrations win on collision.
func (r *Registry) Register(name string, h Handler, intents ...string) {
	r.byName[name] = h
	for _, intent := range intents {
		r.byIntent[intent] = h
	}
}

// ForIntent returns the handler claiming the intent.
func (r *Registry) ForIntent(intent string) (Handler, bool) {
	h, ok := r.byIntent[intent]
	return h, ok
}

// ByName returns the handler registered under name. Used for pending-action
// routing.
func (r *Registry) ByName(name string) (Handler, bool) {
	h, ok := r.byName[name]
	return h, ok
}

// DefaultRegistry wires up the built-in handlers.
func DefaultRegistry() *Registry {
	r := NewRegistry()
	r.Register("story", &storyHandler{}, nlu.IntentPlayStory, nlu.IntentPlayContent)
	r.Register("music", &musicHandler{}, nlu.IntentPlayMusic, nlu.IntentPlayArtist)
	r.Register("english", &englishHandler{}, nlu.IntentLearnEnglish)
	r.Register("control", &controlHandler{},
		nlu.IntentPause, nlu.IntentStop, nlu.IntentResume,
		nlu.IntentVolumeUp, nlu.IntentVolumeDown,
		nlu.IntentNextTrack, nlu.IntentPreviousTrack, nlu.IntentPlayMode)
	r.Register("system", &systemHandler{}, nlu.IntentGetVersion, nlu.IntentVolumeSet)
	r.Register("chat", &chatHandler{}, nlu.IntentChat)
	r.Register("delete", &deleteHandler{}, nlu.IntentDeleteContent)
	return r
}
