// Package logstream relays job console lines to browser subscribers over a
// websocket.
package logstream

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	defaultHistory    = 200
	defaultSendBuffer = 256
	writeWait         = 10 * time.Second
	pongWait          = 60 * time.Second
	pingPeriod        = pongWait * 9 / 10
)

// Config tunes the broadcaster.
type Config struct {
	// History is how many recent lines are replayed to a new subscriber.
	History int
	// SendBuffer is the per-subscriber queue; a subscriber that falls this far
	// behind is disconnected.
	SendBuffer int
	// AllowedOrigins restricts the websocket Origin header; empty allows any.
	AllowedOrigins []string
	Logger         *zap.Logger
}

type client struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// Broadcaster fans lines out to every connected subscriber. It implements
// io.Writer so it can sit behind a zap core.
type Broadcaster struct {
	cfg      Config
	upgrader websocket.Upgrader
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	history []string
	closed  bool
}

// New returns a Broadcaster.
func New(cfg Config) *Broadcaster {
	if cfg.History < 0 {
		cfg.History = 0
	} else if cfg.History == 0 {
		cfg.History = defaultHistory
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	b := &Broadcaster{
		cfg:     cfg,
		logger:  cfg.Logger,
		clients: make(map[*client]struct{}),
	}
	b.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     b.checkOrigin,
	}
	return b
}

func (b *Broadcaster) checkOrigin(r *http.Request) bool {
	if len(b.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	for _, allowed := range b.cfg.AllowedOrigins {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

// Broadcast sends one line to every subscriber and records it in history.
func (b *Broadcaster) Broadcast(line string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	if b.cfg.History > 0 {
		b.history = append(b.history, line)
		if over := len(b.history) - b.cfg.History; over > 0 {
			b.history = append(b.history[:0:0], b.history[over:]...)
		}
	}
	msg := []byte(line)
	for c := range b.clients {
		select {
		case c.send <- msg:
		default:
			delete(b.clients, c)
			c.close()
			b.logger.Warn("Dropping slow log subscriber")
		}
	}
}

// Write splits p into lines and broadcasts each non-empty one.
func (b *Broadcaster) Write(p []byte) (int, error) {
	for _, line := range strings.Split(string(p), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			b.Broadcast(line)
		}
	}
	return len(p), nil
}

// Sync implements zapcore.WriteSyncer.
func (b *Broadcaster) Sync() error {
	return nil
}

// History returns a copy of the retained lines.
func (b *Broadcaster) History() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append([]string(nil), b.history...)
}

// Subscribers reports the number of connected clients.
func (b *Broadcaster) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

// ServeHTTP upgrades the request and streams lines until the peer leaves.
func (b *Broadcaster) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		b.logger.Warn("Log socket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, b.cfg.SendBuffer)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		_ = conn.Close()
		return
	}
	for _, line := range b.history {
		select {
		case c.send <- []byte(line):
		default:
		}
	}
	b.clients[c] = struct{}{}
	b.mu.Unlock()

	go b.writePump(c)
	b.readPump(c)
}

// readPump discards inbound frames and unregisters the client on error.
func (b *Broadcaster) readPump(c *client) {
	defer func() {
		b.remove(c)
		_ = c.conn.Close()
	}()
	c.conn.SetReadLimit(512)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (b *Broadcaster) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (b *Broadcaster) remove(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.clients[c]; ok {
		delete(b.clients, c)
		c.close()
	}
}

// Close disconnects every subscriber and rejects new ones.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for c := range b.clients {
		delete(b.clients, c)
		c.close()
	}
}
