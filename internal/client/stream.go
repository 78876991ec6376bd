package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/room-balance-monitor/internal/models"
)

// ErrUnauthorized is returned when the server rejects the token. It is not retried.
var ErrUnauthorized = errors.New("progress stream: unauthorized")

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Handler receives every message from the stream. Returning false stops Run.
type Handler func(msg *models.Message) bool

// StreamConfig holds configuration for a progress stream
type StreamConfig struct {
	URL                  string
	AuthToken            string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	HandshakeTimeout     time.Duration
	ReadTimeout          time.Duration // longest silence before the connection is considered dead
}

// Stream follows the server's batch progress stream and reconnects with
// exponential backoff when the connection drops
type Stream struct {
	config  StreamConfig
	handler Handler
	logger  zerolog.Logger

	conn       *websocket.Conn
	state      ConnectionState
	stateMutex sync.RWMutex

	currentReconnectInterval time.Duration
}

// NewStream creates a progress stream follower
func NewStream(config StreamConfig, handler Handler, logger zerolog.Logger) *Stream {
	if config.ReconnectInterval <= 0 {
		config.ReconnectInterval = time.Second
	}
	if config.MaxReconnectInterval < config.ReconnectInterval {
		config.MaxReconnectInterval = config.ReconnectInterval
	}
	if config.HandshakeTimeout <= 0 {
		config.HandshakeTimeout = 10 * time.Second
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 90 * time.Second
	}
	return &Stream{
		config:                   config,
		handler:                  handler,
		logger:                   logger.With().Str("component", "progress_stream").Logger(),
		state:                    StateDisconnected,
		currentReconnectInterval: config.ReconnectInterval,
	}
}

// setState safely updates the connection state
func (s *Stream) setState(state ConnectionState) {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	s.state = state
	s.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (s *Stream) State() ConnectionState {
	s.stateMutex.RLock()
	defer s.stateMutex.RUnlock()
	return s.state
}

// IsConnected returns true if currently connected
func (s *Stream) IsConnected() bool {
	return s.State() == StateConnected
}

// Connect dials the progress endpoint
func (s *Stream) Connect(ctx context.Context) error {
	s.setState(StateConnecting)
	s.logger.Info().Str("url", s.config.URL).Msg("Connecting to progress stream")

	dialer := websocket.Dialer{HandshakeTimeout: s.config.HandshakeTimeout}

	header := http.Header{}
	if s.config.AuthToken != "" {
		header.Set("Authorization", "Bearer "+s.config.AuthToken)
	}

	conn, resp, err := dialer.DialContext(ctx, s.config.URL, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		s.setState(StateDisconnected)
		if resp != nil && resp.StatusCode == http.StatusUnauthorized {
			return ErrUnauthorized
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	s.stateMutex.Lock()
	s.conn = conn
	s.stateMutex.Unlock()
	s.setState(StateConnected)
	s.currentReconnectInterval = s.config.ReconnectInterval // reset backoff
	return nil
}

// Run follows the stream until ctx is cancelled or the handler returns false.
// Dropped connections are re-dialled with exponential backoff.
func (s *Stream) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		if err := s.Connect(ctx); err != nil {
			if errors.Is(err, ErrUnauthorized) {
				return err
			}
			s.logger.Warn().Err(err).Msg("Connection failed")
			s.waitBeforeReconnect(ctx)
			continue
		}

		if stopped := s.readLoop(ctx); stopped {
			return nil
		}

		s.logger.Info().Msg("Connection lost, will reconnect")
		s.waitBeforeReconnect(ctx)
	}
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (s *Stream) waitBeforeReconnect(ctx context.Context) {
	s.logger.Debug().Dur("delay", s.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(s.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	s.currentReconnectInterval *= 2
	if s.currentReconnectInterval > s.config.MaxReconnectInterval {
		s.currentReconnectInterval = s.config.MaxReconnectInterval
	}
}

// readLoop delivers messages until the connection fails or the handler stops.
// It reports whether the handler asked to stop.
func (s *Stream) readLoop(ctx context.Context) bool {
	conn := s.conn
	defer s.disconnect()

	// unblock ReadJSON on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				s.logger.Warn().Err(err).Msg("Read error")
			}
			return false
		}
		conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
		if !s.handler(&msg) {
			conn.WriteControl(
				websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(time.Second),
			)
			return true
		}
	}
}

// disconnect closes the WebSocket connection
func (s *Stream) disconnect() {
	s.stateMutex.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateDisconnected
	s.stateMutex.Unlock()
}

// Close sends a close frame and drops the connection
func (s *Stream) Close() error {
	s.stateMutex.Lock()
	defer s.stateMutex.Unlock()
	if s.conn != nil {
		s.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		s.conn.Close()
		s.conn = nil
	}
	s.state = StateDisconnected
	return nil
}

// UntilBatchDone returns a Handler that forwards messages to fn and stops
// after the first batch_done or error message
func UntilBatchDone(fn func(*models.Message)) Handler {
	return func(msg *models.Message) bool {
		fn(msg)
		return msg.Type != models.MessageTypeBatchDone && msg.Type != models.MessageTypeError
	}
}
