// Package hub owns the set of live device sessions. It accepts websocket
// connections, assigns device ids, runs the per-connection read loop, and
// routes decoded frames to the interaction handler.
package hub

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxleaf/voxleaf/internal/observe"
	"github.com/voxleaf/voxleaf/internal/proto"
	"github.com/voxleaf/voxleaf/internal/session"
	"github.com/voxleaf/voxleaf/pkg/audio"
)

// maxFrameBytes bounds a single inbound frame. Audio chunks arrive as JSON
// integer arrays, which inflate the raw PCM size roughly fourfold.
const maxFrameBytes = 1 << 20

// ErrUnknownDevice is returned when a request targets a device id with no
// live session.
var ErrUnknownDevice = errors.New("hub: unknown device")

// Handler consumes decoded inbound frames for one session. The hub calls it
// from the session's read loop; long work must be detached by the handler.
type Handler interface {
	// HandleEvent processes a device event (kws, playing, instruction).
	HandleEvent(ctx context.Context, s *session.Session, ev *proto.Event)

	// HandleStream processes a binary audio stream chunk.
	HandleStream(ctx context.Context, s *session.Session, st *proto.Stream)

	// HandleOrphanResponse processes a response no reply future claimed,
	// e.g. the asynchronous start_recording outcome.
	HandleOrphanResponse(ctx context.Context, s *session.Session, resp *proto.Response)
}

// Hub is the connection manager.
type Hub struct {
	handler Handler
	epCfg   audio.EndpointerConfig
	logger  *slog.Logger
	metrics *observe.Metrics

	mu       sync.Mutex
	sessions map[string]*session.Session
}

// New creates a Hub that routes frames to handler. Sessions are created
// with the given endpointer configuration.
func New(handler Handler, epCfg audio.EndpointerConfig, logger *slog.Logger, metrics *observe.Metrics) *Hub {
	return &Hub{
		handler:  handler,
		epCfg:    epCfg,
		logger:   logger,
		metrics:  metrics,
		sessions: make(map[string]*session.Session),
	}
}

// wsTransport adapts a websocket connection to session.Transport.
type wsTransport struct {
	conn *websocket.Conn

	// coder/websocket allows one concurrent writer per message type;
	// requests and broadcasts can race, so writes are serialized here.
	mu sync.Mutex
}

var _ session.Transport = (*wsTransport)(nil)

func (t *wsTransport) WriteText(ctx context.Context, data []byte) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conn.Write(ctx, websocket.MessageText, data)
}

func (t *wsTransport) Close() error {
	return t.conn.Close(websocket.StatusNormalClosure, "session closed")
}

// ServeHTTP upgrades the request to a websocket and serves the device until
// it disconnects.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket accept failed", "error", err, "remote", r.RemoteAddr)
		return
	}
	conn.SetReadLimit(maxFrameBytes)

	sess := h.register(&wsTransport{conn: conn})
	h.logger.Info("device connected", "device", sess.DeviceID(), "remote", r.RemoteAddr)
	h.metrics.ActiveSessions.Add(r.Context(), 1)

	h.readLoop(sess, conn)

	h.unregister(sess.DeviceID())
	h.metrics.ActiveSessions.Add(context.Background(), -1)
	h.logger.Info("device disconnected", "device", sess.DeviceID())
}

// register creates a session with a fresh device id and stores it. If the
// id collides with a live session (programmatic reuse) the old session is
// closed best-effort before being replaced.
func (h *Hub) register(t session.Transport) *session.Session {
	deviceID := uuid.NewString()
	sess := session.New(deviceID, t, h.epCfg, h.logger)

	h.mu.Lock()
	prev := h.sessions[deviceID]
	h.sessions[deviceID] = sess
	h.mu.Unlock()

	if prev != nil {
		if err := prev.Close(); err != nil {
			h.logger.Warn("closing replaced session", "device", deviceID, "error", err)
		}
	}
	return sess
}

func (h *Hub) unregister(deviceID string) {
	h.mu.Lock()
	sess := h.sessions[deviceID]
	delete(h.sessions, deviceID)
	h.mu.Unlock()
	if sess != nil {
		sess.Close()
	}
}

// readLoop decodes inbound frames until the connection drops. Unparseable
// text frames are dropped with a warning; unrecognized events are counted
// and ignored by the handler.
func (h *Hub) readLoop(sess *session.Session, conn *websocket.Conn) {
	ctx := sess.Context()
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			if ctx.Err() == nil && websocket.CloseStatus(err) != websocket.StatusNormalClosure {
				h.logger.Debug("read loop ended", "device", sess.DeviceID(), "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageText:
			frame, err := proto.DecodeText(data)
			if err != nil {
				h.logger.Warn("dropping unparseable frame", "device", sess.DeviceID(), "error", err)
				continue
			}
			switch {
			case frame.Event != nil:
				h.metrics.RecordEvent(ctx, frame.Event.Event)
				h.handler.HandleEvent(ctx, sess, frame.Event)
			case frame.Response != nil:
				if !sess.ResolveReply(frame.Response) {
					h.handler.HandleOrphanResponse(ctx, sess, frame.Response)
				}
			case frame.Request != nil:
				h.logger.Warn("device sent a request frame, ignoring", "device", sess.DeviceID())
			}
		case websocket.MessageBinary:
			h.handler.HandleStream(ctx, sess, proto.DecodeBinary(data))
		}
	}
}

// Get returns the session for deviceID, or nil.
func (h *Hub) Get(deviceID string) *session.Session {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.sessions[deviceID]
}

// Len returns the number of live sessions.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// SendRequest writes a request to the given device. With waitForReply it
// blocks for the device's Response up to timeout; otherwise it returns nil
// immediately after the write.
func (h *Hub) SendRequest(ctx context.Context, deviceID string, req *proto.Request, waitForReply bool, timeout time.Duration) (*proto.Response, error) {
	sess := h.Get(deviceID)
	if sess == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDevice, deviceID)
	}
	if waitForReply {
		return sess.SendForReply(ctx, req, timeout)
	}
	return nil, sess.Send(ctx, req)
}

// Broadcast fire-and-forgets a request to every live session. Each session
// gets its own request id so replies stay distinguishable. Send failures
// are logged, not returned.
func (h *Hub) Broadcast(ctx context.Context, command string, payload any) {
	h.mu.Lock()
	targets := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		targets = append(targets, s)
	}
	h.mu.Unlock()

	for _, s := range targets {
		req, err := proto.NewRequest(uuid.NewString(), command, payload)
		if err != nil {
			h.logger.Warn("broadcast encode failed", "command", command, "error", err)
			return
		}
		if err := s.Send(ctx, req); err != nil {
			h.logger.Warn("broadcast send failed", "device", s.DeviceID(), "error", err)
		}
	}
}

// CloseAll tears down every session. Used at shutdown after the broadcast
// of stop_play.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	sessions := make([]*session.Session, 0, len(h.sessions))
	for _, s := range h.sessions {
		sessions = append(sessions, s)
	}
	h.sessions = make(map[string]*session.Session)
	h.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
}
