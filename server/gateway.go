// Package server is the connection and session engine: it accepts WebSocket
// clients on /ws, owns one Session per connection, and exposes the small
// HTTP surface (/health, /version). The only shared mutable state underneath
// the sessions is the model pool.
package server

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/lumastream/luma/config"
	"github.com/lumastream/luma/model"
)

// WebSocket timeout constants following Gorilla best practices
// See: https://github.com/gorilla/websocket/blob/master/examples/chat/client.go
const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = 54 * time.Second

	// Maximum message size allowed from peer. Base64 JPEG webcam frames at
	// 1080p stay well under this.
	maxMessageSize = 10 * 1024 * 1024

	// Outbound queue depth per session: the in-flight frame cap plus
	// headroom for control replies.
	sendQueueSize = 16
)

// Gateway accepts client connections and tracks live sessions. One Gateway
// per process; the pool and config are constructed at startup and threaded
// in explicitly.
type Gateway struct {
	cfg  *config.Config
	pool *model.Pool
	log  *zap.SugaredLogger

	mu       sync.RWMutex
	sessions map[*Session]bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	upgrader   websocket.Upgrader
	httpServer *http.Server

	// Reloadable knobs (config watcher); guarded by mu.
	replyQuality int
}

// New creates a gateway over a shared model pool.
func New(cfg *config.Config, pool *model.Pool, log *zap.SugaredLogger) *Gateway {
	ctx, cancel := context.WithCancel(context.Background())
	return &Gateway{
		cfg:      cfg,
		pool:     pool,
		log:      log,
		sessions: make(map[*Session]bool),
		ctx:      ctx,
		cancel:   cancel,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1 << 20,
			WriteBufferSize: 1 << 20,
			// Cross-origin requests are unrestricted: browser clients are
			// served from arbitrary origins (tunnels, local files).
			CheckOrigin: func(*http.Request) bool { return true },
		},
		replyQuality: cfg.Reply.JPEGQuality,
	}
}

// Handler returns the gateway's full HTTP handler with permissive CORS.
func (g *Gateway) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc(g.cfg.Server.WSPath, g.HandleWebSocket)
	mux.HandleFunc("/health", g.HandleHealth)
	mux.HandleFunc("/version", g.HandleVersion)
	return cors.AllowAll().Handler(mux)
}

// ListenAndServe blocks serving the gateway until Shutdown.
func (g *Gateway) ListenAndServe() error {
	g.httpServer = &http.Server{
		Addr:              g.cfg.Server.ListenAddr,
		Handler:           g.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	g.log.Infow("Gateway listening",
		"addr", g.cfg.Server.ListenAddr,
		"ws_path", g.cfg.Server.WSPath,
	)
	return g.httpServer.ListenAndServe()
}

// Shutdown drains the gateway: stop accepting, close every session, wait
// for their goroutines, then evict the model pool.
func (g *Gateway) Shutdown(ctx context.Context) error {
	g.cancel()

	var err error
	if g.httpServer != nil {
		err = g.httpServer.Shutdown(ctx)
	}

	g.mu.RLock()
	open := make([]*Session, 0, len(g.sessions))
	for s := range g.sessions {
		open = append(open, s)
	}
	g.mu.RUnlock()
	for _, s := range open {
		s.beginClose()
	}

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = ctx.Err()
	}

	g.pool.Clear()
	g.log.Infow("Gateway stopped")
	return err
}

// ActiveSessions returns the number of live sessions.
func (g *Gateway) ActiveSessions() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.sessions)
}

// ReplyQuality returns the current reply JPEG quality (reloadable).
func (g *Gateway) ReplyQuality() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.replyQuality
}

// ApplyConfig applies the safe-to-reload subset of a fresh config. Wired to
// the config watcher; structural keys are ignored.
func (g *Gateway) ApplyConfig(cfg *config.Config) error {
	g.mu.Lock()
	g.replyQuality = cfg.Reply.JPEGQuality
	g.mu.Unlock()
	g.log.Infow("Applied reloaded config", "reply_jpeg_quality", cfg.Reply.JPEGQuality)
	return nil
}

// register adds a session, enforcing the optional connection cap.
func (g *Gateway) register(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.cfg.Server.MaxClients > 0 && len(g.sessions) >= g.cfg.Server.MaxClients {
		return false
	}
	g.sessions[s] = true
	return true
}

// unregister removes a session. Idempotent.
func (g *Gateway) unregister(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.sessions, s)
}
