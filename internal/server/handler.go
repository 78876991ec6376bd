package server

import (
	"crypto/subtle"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// Constants for WebSocket timeouts
const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10

	subscriberBuffer = 64
)

// ProgressHub streams batch progress to WebSocket subscribers
type ProgressHub struct {
	upgrader       websocket.Upgrader
	authToken      string
	allowedOrigins []string
	logger         zerolog.Logger

	subscribers map[*subscriber]struct{}
	last        *models.Message
	closed      bool
	mutex       sync.RWMutex
}

// SubscriberInfo describes an active progress stream connection
type SubscriberInfo struct {
	RemoteAddr  string    `json:"remote_addr"`
	ConnectedAt time.Time `json:"connected_at"`
}

type subscriber struct {
	SubscriberInfo

	conn *websocket.Conn
	send chan *models.Message
	done chan struct{}
	once sync.Once
}

// NewProgressHub creates a new progress hub
func NewProgressHub(authToken string, logger zerolog.Logger, allowedOrigins ...string) *ProgressHub {
	h := &ProgressHub{
		authToken:      authToken,
		allowedOrigins: allowedOrigins,
		logger:         logger.With().Str("component", "progress_hub").Logger(),
		subscribers:    make(map[*subscriber]struct{}),
	}

	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}

	return h
}

// checkOrigin validates the incoming request's Origin against the configured allowlist
func (h *ProgressHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	// No Origin header means a non-browser client
	if origin == "" {
		return true
	}
	if h.originAllowed(origin, r.Host) {
		return true
	}
	h.logger.Warn().Str("origin", origin).Msg("Rejected WebSocket connection: origin not allowed")
	return false
}

// originAllowed accepts same-origin pages and the configured allowlist
func (h *ProgressHub) originAllowed(origin, host string) bool {
	for _, allowed := range h.allowedOrigins {
		if origin == allowed {
			return true
		}
	}
	u, err := url.Parse(origin)
	return err == nil && u.Host != "" && strings.EqualFold(u.Host, host)
}

// ServeHTTP handles WebSocket connection requests
func (h *ProgressHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if !h.authorize(r) {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing or invalid token")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error().Err(err).Msg("Failed to upgrade connection")
		return
	}

	h.handleConnection(conn)
}

// authorize admits bearer-token clients and browsers on an allowed origin
func (h *ProgressHub) authorize(r *http.Request) bool {
	if validateToken(r.Header.Get("Authorization"), h.authToken) {
		return true
	}
	origin := r.Header.Get("Origin")
	return origin != "" && h.originAllowed(origin, r.Host)
}

// validateToken checks a "Bearer <token>" header against want
func validateToken(authHeader, want string) bool {
	if want == "" || !strings.HasPrefix(authHeader, "Bearer ") {
		return false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	return subtle.ConstantTimeCompare([]byte(token), []byte(want)) == 1
}

// handleConnection manages a single WebSocket connection
func (h *ProgressHub) handleConnection(conn *websocket.Conn) {
	sub := &subscriber{
		SubscriberInfo: SubscriberInfo{
			RemoteAddr:  conn.RemoteAddr().String(),
			ConnectedAt: time.Now(),
		},
		conn: conn,
		send: make(chan *models.Message, subscriberBuffer),
		done: make(chan struct{}),
	}

	h.mutex.Lock()
	if h.closed {
		h.mutex.Unlock()
		conn.Close()
		return
	}
	h.subscribers[sub] = struct{}{}
	// late joiners see where the current batch stands
	if h.last != nil {
		sub.send <- h.last
	}
	h.mutex.Unlock()
	h.logger.Info().Str("remote", sub.RemoteAddr).Msg("Progress subscriber connected")

	go h.writeLoop(sub)
	defer h.removeSubscriber(sub)

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Subscribers don't send anything; reading drives pong and close handling
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn().Err(err).Msg("WebSocket error")
			}
			return
		}
	}
}

// writeLoop sends queued messages and keepalive pings
func (h *ProgressHub) writeLoop(sub *subscriber) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer sub.conn.Close()

	for {
		select {
		case <-sub.done:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			sub.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case msg := <-sub.send:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteJSON(msg); err != nil {
				h.logger.Warn().Err(err).Str("remote", sub.RemoteAddr).Msg("Failed to send progress")
				return
			}
		case <-ticker.C:
			sub.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := sub.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Publish fans msg out to every subscriber. Slow subscribers miss messages
// rather than stall the batch.
func (h *ProgressHub) Publish(msg *models.Message) {
	h.mutex.Lock()
	defer h.mutex.Unlock()

	switch msg.Type {
	case models.MessageTypeBatchDone, models.MessageTypeError:
		h.last = nil
	default:
		h.last = msg
	}

	for sub := range h.subscribers {
		select {
		case sub.send <- msg:
		default:
			h.logger.Debug().Str("remote", sub.RemoteAddr).Str("type", string(msg.Type)).Msg("Subscriber queue full, dropping message")
		}
	}
}

// removeSubscriber removes a subscriber and stops its writer
func (h *ProgressHub) removeSubscriber(sub *subscriber) {
	h.mutex.Lock()
	delete(h.subscribers, sub)
	h.mutex.Unlock()
	sub.once.Do(func() { close(sub.done) })
	h.logger.Info().Str("remote", sub.RemoteAddr).Msg("Progress subscriber disconnected")
}

// Subscribers returns the currently connected subscribers
func (h *ProgressHub) Subscribers() []SubscriberInfo {
	h.mutex.RLock()
	defer h.mutex.RUnlock()
	out := make([]SubscriberInfo, 0, len(h.subscribers))
	for sub := range h.subscribers {
		out = append(out, sub.SubscriberInfo)
	}
	return out
}

// Close disconnects every subscriber and rejects new ones
func (h *ProgressHub) Close() {
	h.mutex.Lock()
	h.closed = true
	subs := make([]*subscriber, 0, len(h.subscribers))
	for sub := range h.subscribers {
		subs = append(subs, sub)
	}
	h.mutex.Unlock()

	for _, sub := range subs {
		sub.once.Do(func() { close(sub.done) })
	}
}
