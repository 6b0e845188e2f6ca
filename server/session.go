package server

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/lumastream/luma/engine"
	"github.com/lumastream/luma/model"
	"github.com/lumastream/luma/pipeline"
	"github.com/lumastream/luma/protocol"
	"github.com/lumastream/luma/render"
)

// Session states. Transitions only move forward.
const (
	stateConnecting int32 = iota
	stateInitializing
	stateReady
	stateClosing
	stateClosed
)

// outbound is one queued write. frameReply marks messages that settle an
// in-flight frame: the pipeline is decremented when the write completes,
// succeeds or not.
type outbound struct {
	msg        interface{}
	frameReply bool
}

// Session owns one client connection: its engine, renderer, pipeline, and
// visualization state. All state is mutated only from the session's own
// read-pump goroutine; the write pump owns every socket write.
type Session struct {
	id   string
	gw   *Gateway
	conn *websocket.Conn
	log  *zap.SugaredLogger

	engine   *engine.Engine
	renderer *render.Renderer
	pipe     *pipeline.Pipeline

	// Visualization state, dispatch-goroutine only.
	vizMode render.Mode
	opacity float64
	filter  map[int]bool // nil = all classes

	sendQ      chan outbound
	state      atomic.Int32
	sawTraffic atomic.Bool // first client message arrived (ends idle window)
	closeOnce  sync.Once
}

// HandleWebSocket upgrades the connection and runs the session to
// completion. CONNECTING → INITIALIZING happens here; the read pump carries
// the session through READY.
func (g *Gateway) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.log.Warnw("WebSocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	s := &Session{
		id:      uuid.NewString()[:8],
		gw:      g,
		conn:    conn,
		engine:  engine.New(g.pool, g.cfg.Engine.WarmupIterations, g.log),
		pipe:    pipeline.New(g.cfg.Pipeline.MaxInFlight, time.Duration(g.cfg.Pipeline.MinIntervalMS)*time.Millisecond),
		vizMode: render.Filled,
		opacity: 0.6,
		sendQ:   make(chan outbound, sendQueueSize),
	}
	s.log = g.log.With("client_id", s.id)

	if !g.register(s) {
		s.log.Warnw("Max clients reached, rejecting connection")
		conn.Close()
		return
	}

	s.log.Infow("Client connected", "remote", r.RemoteAddr, "total_clients", g.ActiveSessions())

	g.wg.Add(2)
	go func() {
		defer g.wg.Done()
		s.writePump()
	}()
	go func() {
		defer g.wg.Done()
		s.run()
	}()
}

// run initializes the session and drives the read pump until close.
func (s *Session) run() {
	defer s.teardown()

	s.state.Store(stateInitializing)
	if err := s.initialize(); err != nil {
		// Init failed before the connected envelope: close without sending
		// a client-visible error — the connection may already be half-open.
		s.log.Warnw("Session init failed", "error", err)
		return
	}
	s.state.Store(stateReady)

	s.readPump()
}

// initialize allocates the session's engine state: set the default mode
// (loading the model on the pool's first sight of it), warm up (a no-op on
// every session after the first per mode), then announce readiness.
func (s *Session) initialize() error {
	ctx := s.gw.ctx

	mode, err := model.ParseMode(s.gw.cfg.Models.DefaultMode)
	if err != nil {
		return err
	}
	if err := s.engine.SetMode(ctx, mode); err != nil {
		return err
	}
	if err := s.engine.WarmUp(ctx, false); err != nil {
		return err
	}
	s.renderer = render.New(mode.Vocabulary().Palette())

	infos := make([]protocol.ModelInfo, 0, len(model.AllModes))
	for _, m := range model.AllModes {
		spec := m.Spec()
		infos = append(infos, protocol.ModelInfo{
			Mode:        m.String(),
			ModelID:     spec.ID,
			InputSize:   [2]int{spec.InputH, spec.InputW},
			Vocabulary:  spec.Vocabulary.String(),
			NumClasses:  spec.Vocabulary.NumClasses(),
			ExpectedFPS: spec.DisplayFPS,
			MemoryMB:    spec.DisplayMB,
		})
	}

	s.trySend(&protocol.ConnectedMessage{
		Type:            protocol.TypeConnected,
		Status:          "ready",
		AvailableModels: infos,
		ClassLabels:     mode.Vocabulary().Labels(),
		CurrentModel:    mode.String(),
	}, false)
	return nil
}

// readPump reads client envelopes until the connection dies. The initial
// read deadline is the idle timeout: a client that never sends anything
// after READY is torn down. Once traffic flows, messages and pongs keep the
// deadline fresh.
func (s *Session) readPump() {
	idle := time.Duration(s.gw.cfg.Session.IdleTimeoutSeconds) * time.Second

	s.conn.SetReadLimit(maxMessageSize)
	s.conn.SetReadDeadline(time.Now().Add(idle))
	s.conn.SetPongHandler(func(string) error {
		if s.sawTraffic.Load() {
			s.conn.SetReadDeadline(time.Now().Add(pongWait))
		}
		return nil
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.handleReadError(err)
			return
		}
		s.sawTraffic.Store(true)
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		msg, err := protocol.ParseInbound(data)
		if err != nil {
			s.log.Warnw("Unparseable client message",
				"error", err,
				"size_bytes", len(data),
			)
			continue
		}

		s.dispatch(msg)
	}
}

// handleReadError logs unexpected WebSocket read errors. Expected closure
// codes (going away, abnormal, no status) are part of normal client churn.
func (s *Session) handleReadError(err error) {
	if closeErr, ok := err.(*websocket.CloseError); ok {
		s.log.Infow("WebSocket closed", "code", closeErr.Code, "text", closeErr.Text)
		return
	}
	if websocket.IsUnexpectedCloseError(err,
		websocket.CloseGoingAway,
		websocket.CloseAbnormalClosure,
		websocket.CloseNoStatusReceived,
	) {
		s.log.Warnw("WebSocket read error", "error", err)
	}
}

// writePump owns every socket write: queued replies and keepalive pings. A
// failed write means the peer is gone; the failure is never surfaced as an
// error, the pump just settles remaining frame accounting and exits.
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
		s.drainSendQueue()
	}()

	for {
		select {
		case <-s.gw.ctx.Done():
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			s.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutdown"))
			return

		case out := <-s.sendQ:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			err := s.conn.WriteJSON(out.msg)
			if out.frameReply {
				s.pipe.Done()
			}
			if err != nil {
				// Peer closed mid-send: not an error, a race. Suppress and
				// run the close sequence.
				s.log.Debugw("Write failed, peer gone", "error", err)
				s.beginClose()
				return
			}

		case <-ticker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.beginClose()
				return
			}
		}
	}
}

// drainSendQueue settles frame accounting for writes that will never
// happen. Runs after the pump stops; the dispatch goroutine may still
// enqueue until it observes the closing state, so drain briefly rather
// than in a single pass.
func (s *Session) drainSendQueue() {
	for {
		select {
		case out := <-s.sendQ:
			if out.frameReply {
				s.pipe.Done()
			}
		case <-time.After(100 * time.Millisecond):
			return
		}
	}
}

// trySend queues a message for the write pump. Never blocks and never
// fails loudly: a full queue or a closing session drops the message, which
// is exactly the contract for a peer that has stopped reading. Returns
// whether the message was queued.
func (s *Session) trySend(msg interface{}, frameReply bool) bool {
	if s.state.Load() >= stateClosing {
		if frameReply {
			s.pipe.Done()
		}
		return false
	}
	select {
	case s.sendQ <- outbound{msg: msg, frameReply: frameReply}:
		return true
	default:
		s.log.Warnw("Send queue full, dropping message")
		if frameReply {
			s.pipe.Done()
		}
		return false
	}
}

// beginClose moves the session toward CLOSED. Safe to call from any
// goroutine, any number of times.
func (s *Session) beginClose() {
	if s.state.Load() < stateClosing {
		s.state.Store(stateClosing)
	}
	s.conn.Close()
}

// teardown releases the session after the read pump exits. The engine and
// renderer are garbage once unreachable; the shared pool stays.
func (s *Session) teardown() {
	s.closeOnce.Do(func() {
		s.beginClose()
		s.gw.unregister(s)
		s.state.Store(stateClosed)
		snap := s.engine.Stats()
		s.log.Infow("Client disconnected",
			"frames_processed", snap.FramesProcessed,
			"frames_dropped", s.pipe.Dropped(),
			"total_clients", s.gw.ActiveSessions(),
		)
	})
}
