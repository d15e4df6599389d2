package sink

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"hwsampler/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBuffer     = 64
)

// Websocket streams records to a single connected consumer. A second
// consumer is refused with 409 until the first disconnects. A new consumer
// first receives the most recent record. Records written while nobody is
// connected, or while the consumer's buffer is full, are dropped.
type Websocket struct {
	addr     string
	msgType  int
	log      logger.Logger
	upgrader websocket.Upgrader

	mu      sync.Mutex
	client  *wsClient
	pending bool
	closed  bool
	dropped uint64
	latest  []byte
}

type wsClient struct {
	id   string
	conn *websocket.Conn
	send chan []byte
}

// NewWebsocket creates the sink. binary selects binary frames, used for
// CBOR records.
func NewWebsocket(addr string, binary bool, log logger.Logger) *Websocket {
	msgType := websocket.TextMessage
	if binary {
		msgType = websocket.BinaryMessage
	}

	return &Websocket{
		addr:    addr,
		msgType: msgType,
		log:     log,
	}
}

// ListenAndServe serves the stream on the configured address until ctx is
// cancelled.
func (s *Websocket) ListenAndServe(ctx context.Context) error {
	mux := http.NewServeMux()
	mux.Handle("/", s)

	srv := &http.Server{
		Addr:              s.addr,
		Handler:           mux,
		ReadHeaderTimeout: writeWait,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("ws: server shutdown error", "error", err)
		}
	}()

	s.log.Info("ws: listening", "address", s.addr)

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Websocket) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}
	if s.client != nil || s.pending {
		s.mu.Unlock()
		s.log.Warn("ws: consumer rejected, one already connected", "remote_addr", r.RemoteAddr)
		http.Error(w, "a consumer is already connected", http.StatusConflict)
		return
	}
	s.pending = true
	s.mu.Unlock()

	conn, err := s.upgrader.Upgrade(w, r, nil)

	s.mu.Lock()
	s.pending = false
	if err != nil {
		s.mu.Unlock()
		s.log.Error("ws: upgrade failed", "error", err)
		return
	}
	// Close ran while the handshake was in flight.
	if s.closed {
		s.mu.Unlock()
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}
	c := &wsClient{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan []byte, sendBuffer),
	}
	if s.latest != nil {
		c.send <- s.latest
	}
	s.client = c
	s.mu.Unlock()

	s.log.Info("ws: consumer connected", "id", c.id, "remote_addr", conn.RemoteAddr())

	go s.writePump(c)
	go s.readPump(c)
}

func (s *Websocket) Write(_ context.Context, record []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrClosed
	}
	s.latest = record
	if s.client == nil {
		return nil
	}

	select {
	case s.client.send <- record:
	default:
		s.dropped++
		s.log.Debug("ws: consumer too slow, record dropped", "id", s.client.id, "dropped", s.dropped)
	}

	return nil
}

// Connected reports whether a consumer is attached.
func (s *Websocket) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.client != nil
}

func (s *Websocket) Close() error {
	s.mu.Lock()
	s.closed = true
	c := s.client
	s.mu.Unlock()

	if c != nil {
		s.unregister(c)
	}
	return nil
}

// unregister detaches c; closing send tells writePump to say goodbye.
func (s *Websocket) unregister(c *wsClient) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.client != c {
		return
	}
	s.client = nil
	close(c.send)

	s.log.Info("ws: consumer disconnected", "id", c.id)
}

// readPump only services control frames; consumers have nothing to say.
func (s *Websocket) readPump(c *wsClient) {
	defer func() {
		s.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn("ws: consumer read error", "id", c.id, "error", err)
			}
			return
		}
	}
}

func (s *Websocket) writePump(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case record, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))

			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}

			if err := c.conn.WriteMessage(s.msgType, record); err != nil {
				s.log.Warn("ws: write failed", "id", c.id, "error", err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
