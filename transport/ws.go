package transport

import (
	"context"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"

	"github.com/relaykit/agentbroker/auth"
	"github.com/relaykit/agentbroker/log"
)

// wsSocket adapts a coder/websocket connection to the Socket interface,
// grounded on api/claude.go's ClaudeSubscribeWebSocket read/write pump:
// a buffered send channel drained by one writer goroutine, and a reader
// goroutine feeding Messages() until the connection ends.
type wsSocket struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc

	send     chan []byte
	messages chan []byte

	closeOnce sync.Once
}

func newWSSocket(parent context.Context, conn *websocket.Conn) *wsSocket {
	ctx, cancel := context.WithCancel(parent)
	s := &wsSocket{
		conn:     conn,
		ctx:      ctx,
		cancel:   cancel,
		send:     make(chan []byte, 256),
		messages: make(chan []byte, 256),
	}
	go s.writePump()
	go s.readPump()
	return s
}

func (s *wsSocket) Send(payload []byte) error {
	select {
	case s.send <- payload:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *wsSocket) Close(code int, reason string) error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		err = s.conn.Close(websocket.StatusCode(code), reason)
	})
	return err
}

func (s *wsSocket) Messages() <-chan []byte {
	return s.messages
}

func (s *wsSocket) writePump() {
	for {
		select {
		case <-s.ctx.Done():
			return
		case data, ok := <-s.send:
			if !ok {
				return
			}
			if err := s.conn.Write(s.ctx, websocket.MessageText, data); err != nil {
				if s.ctx.Err() == nil {
					log.Debug().Err(err).Msg("transport: websocket write failed")
				}
				s.cancel()
				return
			}
		}
	}
}

func (s *wsSocket) readPump() {
	defer close(s.messages)
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			if s.ctx.Err() == nil {
				log.Debug().Err(err).Msg("transport: websocket read failed")
			}
			s.cancel()
			return
		}
		select {
		case s.messages <- data:
		case <-s.ctx.Done():
			return
		}
	}
}

// GinWebSocketTransport serves consumer WebSocket connections on a Gin
// router, per spec.md §6's "Consumer Transport: WebSocket at
// /ws/sessions/:sessionId, carrying an auth context {sessionId,
// transport}." Grounded on api/claude.go's ClaudeSubscribeWebSocket:
// websocket.Accept with InsecureSkipVerify (auth is handled by the
// bridge, not the transport), c.Abort() to stop Gin writing on the now
// hijacked connection, and a cancellable per-connection context wired
// to server shutdown.
type GinWebSocketTransport struct {
	addr   string
	path   string
	router *gin.Engine
	srv    *http.Server
}

// NewGinWebSocketTransport constructs a transport listening on addr,
// accepting consumer connections at path (expected to contain a
// ":sessionId" Gin param).
func NewGinWebSocketTransport(addr, path string) *GinWebSocketTransport {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	return &GinWebSocketTransport{addr: addr, path: path, router: r}
}

// Router exposes the underlying Gin engine so callers can register
// additional HTTP routes (a management API, health checks) alongside the
// WebSocket upgrade endpoint before calling Serve.
func (t *GinWebSocketTransport) Router() *gin.Engine {
	return t.router
}

// Serve blocks, accepting consumer connections until ctx is canceled.
func (t *GinWebSocketTransport) Serve(ctx context.Context, handler ConsumerHandler) error {
	t.router.GET(t.path, func(c *gin.Context) {
		t.handleUpgrade(ctx, c, handler)
	})

	t.srv = &http.Server{
		Addr:    t.addr,
		Handler: t.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithCancel(context.Background())
		defer cancel()
		if err := t.srv.Shutdown(shutdownCtx); err != nil {
			log.Warn().Err(err).Msg("transport: shutdown error")
		}
	}()

	log.Info().Str("addr", t.addr).Str("path", t.path).Msg("transport: websocket listener starting")
	if err := t.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown stops accepting new connections and closes the listener.
func (t *GinWebSocketTransport) Shutdown(ctx context.Context) error {
	if t.srv == nil {
		return nil
	}
	return t.srv.Shutdown(ctx)
}

func (t *GinWebSocketTransport) handleUpgrade(parent context.Context, c *gin.Context, handler ConsumerHandler) {
	sessionID := c.Param("sessionId")

	var w http.ResponseWriter = c.Writer
	if unwrapper, ok := c.Writer.(interface{ Unwrap() http.ResponseWriter }); ok {
		w = unwrapper.Unwrap()
	}

	// Compression disabled: the canonical envelope is small JSON, and the
	// per-connection memory overhead of permessage-deflate context takeover
	// is not worth it here.
	conn, err := websocket.Accept(w, c.Request, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		log.Error().Err(err).Str("sessionId", sessionID).Msg("transport: websocket upgrade failed")
		return
	}

	// Stop Gin from writing headers on what is now a hijacked connection.
	c.Abort()

	req := auth.Request{
		SessionID: sessionID,
		Headers:   c.Request.Header,
		Query:     c.Request.URL.Query(),
	}

	ctx, cancel := context.WithCancel(parent)
	defer cancel()
	go func() {
		select {
		case <-parent.Done():
			cancel()
		case <-ctx.Done():
		}
	}()

	socket := newWSSocket(ctx, conn)
	defer socket.Close(int(websocket.StatusNormalClosure), "")

	handler(ctx, socket, sessionID, req)
}

var _ Transport = (*GinWebSocketTransport)(nil)
var _ Socket = (*wsSocket)(nil)
