// Package realtime owns the lifecycle of the persistent bidirectional channel
// to the review server: connect, disconnect, bounded reconnect with backoff,
// and room re-subscription after every reconnect.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/reviewdeck/internal/events"
	"github.com/reviewdeck/internal/retry"
	"github.com/reviewdeck/pkg/shared"
)

const (
	pingInterval = 15 * time.Second
	pongWait     = 45 * time.Second
	writeWait    = 10 * time.Second
)

// ErrNotConnected is returned by emits while no live transport exists.
var ErrNotConnected = errors.New("realtime: not connected")

// Frame is the wire unit exchanged with the server. Inbound frames of type
// "event" fan out through the dispatcher; outbound frames are type "emit".
type Frame struct {
	Type    string          `json:"type"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Stats captures connection bookkeeping for the status surface.
type Stats struct {
	State       string     `json:"state"`
	Reason      string     `json:"reason,omitempty"`
	Attempts    int        `json:"attempts"`
	Reconnects  int        `json:"reconnects"`
	ConnectedAt *time.Time `json:"connected_at,omitempty"`
}

// Manager owns one persistent websocket connection. It is constructed by the
// application root and injected into consumers; there is no process-wide
// singleton, so tests can run isolated instances side by side.
type Manager struct {
	url      string
	dialer   *websocket.Dialer
	retryCfg retry.Config

	dispatcher *events.Dispatcher

	mu           sync.Mutex
	conn         *websocket.Conn
	state        ConnectionState
	stateReason  string
	identity     shared.Identity
	rooms        map[string]struct{}
	deliberate   bool
	attempts     int
	reconnects   int
	connectedAt  *time.Time
	onConnect    []func()
	onDisconnect []func(reason string)
	pumpDone     chan struct{}

	writeMu sync.Mutex
}

// Options configures a Manager.
type Options struct {
	URL        string
	Dispatcher *events.Dispatcher
	Retry      retry.Config // zero value falls back to retry.ConnectConfig
}

// NewManager creates a disconnected manager.
func NewManager(opts Options) *Manager {
	cfg := opts.Retry
	if cfg.MaxAttempts == 0 {
		cfg = retry.ConnectConfig()
	}
	dispatcher := opts.Dispatcher
	if dispatcher == nil {
		dispatcher = events.NewDispatcher()
	}
	return &Manager{
		url:        opts.URL,
		dialer:     &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		retryCfg:   cfg,
		dispatcher: dispatcher,
		state:      StateDisconnected,
		rooms:      make(map[string]struct{}),
	}
}

// Dispatcher exposes the event registry consumers subscribe through.
func (m *Manager) Dispatcher() *events.Dispatcher {
	return m.dispatcher
}

// OnConnect registers a hook invoked after every successful (re)connect.
// Registering twice means two invocations; the state layer relies on this to
// re-subscribe after each reconnect.
func (m *Manager) OnConnect(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnect = append(m.onConnect, fn)
}

// OnDisconnect registers a hook invoked whenever the transport drops.
func (m *Manager) OnDisconnect(fn func(reason string)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnect = append(m.onDisconnect, fn)
}

// Connect establishes the channel with the given identity. It returns once
// the handshake succeeds, or with an error after the attempt budget is spent.
// Calling Connect again after an exhausted budget resets the counter and
// tries anew. Connecting while connected is a no-op.
func (m *Manager) Connect(ctx context.Context, identity shared.Identity) error {
	m.mu.Lock()
	if m.state == StateConnected || m.state == StateConnecting || m.state == StateReconnecting {
		m.mu.Unlock()
		return nil
	}
	m.identity = identity
	m.deliberate = false
	m.attempts = 0 // manual connect resets the budget
	m.setStateLocked(StateConnecting, "")
	m.mu.Unlock()

	if err := m.establish(ctx, false); err != nil {
		return err
	}
	return nil
}

// establish runs the bounded dial loop shared by Connect and the reconnect
// path. reconnecting selects which state the loop advertises while retrying.
func (m *Manager) establish(ctx context.Context, reconnecting bool) error {
	var lastErr error

	for {
		m.mu.Lock()
		if m.deliberate {
			m.setStateLocked(StateDisconnected, "")
			m.mu.Unlock()
			return nil
		}
		if m.attempts >= m.retryCfg.MaxAttempts {
			reason := "connection attempts exhausted"
			if lastErr != nil {
				reason = fmt.Sprintf("connection attempts exhausted: %v", lastErr)
			}
			m.setStateLocked(StateError, reason)
			m.mu.Unlock()
			log.Error().
				Str("url", m.url).
				Int("attempts", m.retryCfg.MaxAttempts).
				Err(lastErr).
				Msg("Channel connect failed, attempt budget exhausted")
			return fmt.Errorf("realtime: %s", reason)
		}
		attempt := m.attempts
		m.attempts++
		token := m.identity.Token
		m.mu.Unlock()

		if attempt > 0 {
			delay := retry.Delay(m.retryCfg, attempt-1)
			select {
			case <-ctx.Done():
				m.mu.Lock()
				m.setStateLocked(StateError, ctx.Err().Error())
				m.mu.Unlock()
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		header := http.Header{}
		if token != "" {
			header.Set("Authorization", "Bearer "+token)
		}

		conn, _, err := m.dialer.DialContext(ctx, m.url, header)
		if err != nil {
			lastErr = err
			m.mu.Lock()
			if reconnecting {
				m.setStateLocked(StateReconnecting, err.Error())
			} else {
				m.setStateLocked(StateConnecting, err.Error())
			}
			m.mu.Unlock()
			log.Warn().
				Str("url", m.url).
				Int("attempt", attempt+1).
				Err(err).
				Msg("Channel dial failed")
			continue
		}

		m.mu.Lock()
		m.conn = conn
		m.attempts = 0 // success resets the budget
		now := time.Now()
		m.connectedAt = &now
		if reconnecting {
			m.reconnects++
		}
		m.setStateLocked(StateConnected, "")
		m.pumpDone = make(chan struct{})
		hooks := append([]func(){}, m.onConnect...)
		m.mu.Unlock()

		log.Info().Str("url", m.url).Bool("reconnect", reconnecting).Msg("Channel connected")

		go m.readPump(conn, m.pumpDone)

		// Reconnection is not a fresh session: restore every prior
		// subscription before anyone observes the connected state's effects.
		m.rejoinRooms()

		for _, fn := range hooks {
			fn()
		}
		return nil
	}
}

// Disconnect tears the transport down deliberately. Idempotent.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	m.deliberate = true
	conn := m.conn
	m.conn = nil
	if m.state != StateError {
		m.setStateLocked(StateDisconnected, "")
	}
	done := m.pumpDone
	m.mu.Unlock()

	if conn != nil {
		// Best effort close handshake before dropping the socket.
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		_ = conn.Close()
	}
	if done != nil {
		<-done
	}
}

// readPump consumes frames until the transport drops, then decides between a
// clean stop and the bounded reconnect path.
func (m *Manager) readPump(conn *websocket.Conn, done chan struct{}) {
	defer close(done)

	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	stopPing := make(chan struct{})
	defer close(stopPing)
	go m.pingLoop(conn, stopPing)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			m.handleDrop(conn, err)
			return
		}

		var frame Frame
		if unmarshalErr := json.Unmarshal(data, &frame); unmarshalErr != nil {
			log.Warn().Err(unmarshalErr).Msg("Discarding malformed channel frame")
			continue
		}
		if frame.Type != "event" || frame.Event == "" {
			continue
		}
		m.dispatcher.Emit(frame.Event, frame.Payload)
	}
}

func (m *Manager) pingLoop(conn *websocket.Conn, stop <-chan struct{}) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// handleDrop reacts to a read failure: deliberate teardown and server-sent
// normal closes end in Disconnected, anything else enters the reconnect path.
func (m *Manager) handleDrop(conn *websocket.Conn, err error) {
	_ = conn.Close()

	m.mu.Lock()
	if m.conn == conn {
		m.conn = nil
	}
	m.connectedAt = nil
	deliberate := m.deliberate
	serverClose := websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
	reason := err.Error()
	hooks := append([]func(reason string){}, m.onDisconnect...)

	if deliberate {
		m.mu.Unlock()
		for _, fn := range hooks {
			fn("client disconnect")
		}
		return
	}

	if serverClose {
		m.setStateLocked(StateDisconnected, reason)
		m.mu.Unlock()
		log.Info().Str("reason", reason).Msg("Channel closed by server")
		for _, fn := range hooks {
			fn(reason)
		}
		return
	}

	m.setStateLocked(StateReconnecting, reason)
	m.mu.Unlock()

	log.Warn().Str("reason", reason).Msg("Channel dropped, reconnecting")
	for _, fn := range hooks {
		fn(reason)
	}

	// Exhausting the budget surfaces as StateError; a later manual Connect
	// resets the counter and may recover.
	_ = m.establish(context.Background(), true)
}

func (m *Manager) setStateLocked(state ConnectionState, reason string) {
	m.state = state
	m.stateReason = reason
}

// State returns the current connection state and, for the error state, its
// reason.
func (m *Manager) State() (ConnectionState, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.stateReason
}

// Stats returns a snapshot of connection bookkeeping.
func (m *Manager) Stats() Stats {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := Stats{
		State:      m.state.String(),
		Reason:     m.stateReason,
		Attempts:   m.attempts,
		Reconnects: m.reconnects,
	}
	if m.connectedAt != nil {
		at := *m.connectedAt
		s.ConnectedAt = &at
	}
	return s
}

// Emit sends one named payload to the server.
func (m *Manager) Emit(event string, payload any) error {
	m.mu.Lock()
	conn := m.conn
	m.mu.Unlock()

	if conn == nil {
		return ErrNotConnected
	}

	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("realtime: marshal %s payload: %w", event, err)
		}
		raw = b
	}

	frame := Frame{Type: "emit", Event: event, Payload: raw}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(frame); err != nil {
		return fmt.Errorf("realtime: emit %s: %w", event, err)
	}
	return nil
}

// joinRoom records membership and emits the join. Rooms joined before a drop
// are replayed on every reconnect.
func (m *Manager) joinRoom(room string, event string, payload any) error {
	m.mu.Lock()
	m.rooms[room] = struct{}{}
	m.mu.Unlock()
	return m.Emit(event, payload)
}

// rejoinRooms replays every recorded room membership on the fresh transport.
func (m *Manager) rejoinRooms() {
	m.mu.Lock()
	rooms := make([]string, 0, len(m.rooms))
	for room := range m.rooms {
		rooms = append(rooms, room)
	}
	m.mu.Unlock()
	sort.Strings(rooms)

	for _, room := range rooms {
		event, payload := roomJoinFrame(room)
		if err := m.Emit(event, payload); err != nil {
			log.Warn().Str("room", room).Err(err).Msg("Room rejoin failed")
		}
	}
}
