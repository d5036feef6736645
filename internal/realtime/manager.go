// Package realtime owns the websocket channels to the backend: one
// connection per channel, automatic reconnect on unexpected close, and
// fan-out of inbound envelopes through the event bus.
package realtime

import (
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"doerhub-agent/internal/bus"
	"doerhub-agent/internal/common/errors"
	"doerhub-agent/internal/common/logger"
	"doerhub-agent/internal/common/metrics"
)

// TokenFunc supplies the access token appended to the websocket URL.
type TokenFunc func() string

// Options configures a Manager.
type Options struct {
	BaseURL          string // ws:// or wss:// origin
	Token            TokenFunc
	HandshakeTimeout time.Duration
	ReconnectDelay   time.Duration
}

type conn struct {
	channel Channel
	mu      sync.Mutex
	ws      *websocket.Conn
	state   State
	closed  chan struct{}
	once    sync.Once
}

// Manager maintains at most one live connection per channel key.
type Manager struct {
	opts   Options
	dialer *websocket.Dialer
	bus    *bus.Bus
	log    logger.Logger

	mu    sync.Mutex
	conns map[string]*conn
}

func NewManager(opts Options, b *bus.Bus, log logger.Logger) *Manager {
	if opts.HandshakeTimeout == 0 {
		opts.HandshakeTimeout = 10 * time.Second
	}
	if opts.ReconnectDelay == 0 {
		opts.ReconnectDelay = 3 * time.Second
	}
	return &Manager{
		opts: opts,
		dialer: &websocket.Dialer{
			HandshakeTimeout: opts.HandshakeTimeout,
		},
		bus:   b,
		log:   log,
		conns: make(map[string]*conn),
	}
}

// Open connects the channel. Opening an already open or connecting
// channel is a no-op, so there is never more than one socket per key.
// A failed first dial is not fatal: the channel moves to reconnecting
// and redials on the same timer as a dropped connection.
func (m *Manager) Open(ch Channel) error {
	key := ch.Key()

	m.mu.Lock()
	if _, exists := m.conns[key]; exists {
		m.mu.Unlock()
		return nil
	}
	c := &conn{
		channel: ch,
		state:   StateConnecting,
		closed:  make(chan struct{}),
	}
	m.conns[key] = c
	m.mu.Unlock()

	m.publishState(c, StateConnecting, nil)

	ws, err := m.dial(ch)
	if err != nil {
		m.log.Warn("channel dial failed, scheduling retry", map[string]interface{}{
			"channel": key,
			"error":   err.Error(),
		})
		c.mu.Lock()
		c.state = StateReconnecting
		c.mu.Unlock()
		m.publishState(c, StateReconnecting, err)

		go func() {
			if ws := m.reconnect(c); ws != nil {
				m.readLoop(c, ws)
			}
		}()
		return nil
	}

	c.mu.Lock()
	c.ws = ws
	c.state = StateOpen
	c.mu.Unlock()
	m.publishState(c, StateOpen, nil)

	go m.readLoop(c, ws)
	return nil
}

// Send marshals payload to JSON and writes it to the channel. There is
// no buffering: while the channel is not open the send fails.
func (m *Manager) Send(ch Channel, payload interface{}) error {
	key := ch.Key()

	m.mu.Lock()
	c := m.conns[key]
	m.mu.Unlock()

	if c == nil {
		return errors.NewNotConnectedError(key)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateOpen || c.ws == nil {
		return errors.NewNotConnectedError(key)
	}
	if err := c.ws.WriteJSON(payload); err != nil {
		return errors.NewTransportError(key, err)
	}
	return nil
}

// State reports the current state of the channel.
func (m *Manager) State(ch Channel) State {
	m.mu.Lock()
	c := m.conns[ch.Key()]
	m.mu.Unlock()

	if c == nil {
		return StateClosed
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Close shuts the channel down and stops its reconnect loop. Closing a
// channel that is not open is a no-op.
func (m *Manager) Close(ch Channel) {
	key := ch.Key()

	m.mu.Lock()
	c := m.conns[key]
	delete(m.conns, key)
	m.mu.Unlock()

	if c == nil {
		return
	}
	m.shutdown(c)
}

// CloseAll shuts down every open channel.
func (m *Manager) CloseAll() {
	m.mu.Lock()
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.conns = make(map[string]*conn)
	m.mu.Unlock()

	for _, c := range conns {
		m.shutdown(c)
	}
}

// SubscribeMessages registers a handler for inbound envelopes on the
// channel and returns an unsubscribe func.
func (m *Manager) SubscribeMessages(ch Channel, h func(Envelope)) func() {
	return m.bus.Subscribe(bus.TopicChannelMessage(ch.Key()), func(_ string, payload interface{}) {
		if env, ok := payload.(Envelope); ok {
			h(env)
		}
	})
}

// SubscribeState registers a handler for state changes on the channel.
func (m *Manager) SubscribeState(ch Channel, h func(StateChange)) func() {
	return m.bus.Subscribe(bus.TopicChannelState(ch.Key()), func(_ string, payload interface{}) {
		if sc, ok := payload.(StateChange); ok {
			h(sc)
		}
	})
}

func (m *Manager) shutdown(c *conn) {
	c.once.Do(func() {
		close(c.closed)
	})

	c.mu.Lock()
	ws := c.ws
	c.ws = nil
	c.state = StateClosed
	c.mu.Unlock()

	if ws != nil {
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second))
		_ = ws.Close()
	}
	m.publishState(c, StateClosed, nil)
}

func (m *Manager) dial(ch Channel) (*websocket.Conn, error) {
	u := m.opts.BaseURL + ch.Path()
	if m.opts.Token != nil {
		if tok := m.opts.Token(); tok != "" {
			u += "?token=" + url.QueryEscape(tok)
		}
	}
	ws, _, err := m.dialer.Dial(u, nil)
	return ws, err
}

// readLoop reads envelopes until the connection drops, then drives the
// reconnect cycle. It exits only when the channel is closed.
func (m *Manager) readLoop(c *conn, ws *websocket.Conn) {
	key := c.channel.Key()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}

			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				m.log.Warn("channel closed unexpectedly", map[string]interface{}{
					"channel": key,
					"error":   err.Error(),
				})
			}

			c.mu.Lock()
			c.ws = nil
			c.state = StateReconnecting
			c.mu.Unlock()
			m.publishState(c, StateReconnecting, err)

			ws = m.reconnect(c)
			if ws == nil {
				return
			}
			continue
		}

		env, perr := parseEnvelope(c.channel, data)
		if perr != nil {
			m.log.Warn("dropping malformed envelope", map[string]interface{}{
				"channel": key,
				"error":   perr.Error(),
			})
			continue
		}
		m.bus.Publish(bus.TopicChannelMessage(key), env)
	}
}

// reconnect redials at a fixed interval until it succeeds or the
// channel is closed. Returns the new socket, or nil when closed.
func (m *Manager) reconnect(c *conn) *websocket.Conn {
	key := c.channel.Key()
	timer := time.NewTimer(m.opts.ReconnectDelay)
	defer timer.Stop()

	for {
		select {
		case <-c.closed:
			return nil
		case <-timer.C:
		}

		metrics.ChannelReconnects.WithLabelValues(key).Inc()
		ws, err := m.dial(c.channel)
		if err == nil {
			c.mu.Lock()
			c.ws = ws
			c.state = StateOpen
			c.mu.Unlock()
			m.publishState(c, StateOpen, nil)
			m.log.Info("channel reconnected", map[string]interface{}{"channel": key})
			return ws
		}

		m.log.Warn("reconnect attempt failed", map[string]interface{}{
			"channel": key,
			"error":   err.Error(),
		})
		timer.Reset(m.opts.ReconnectDelay)
	}
}

func (m *Manager) publishState(c *conn, s State, err error) {
	key := c.channel.Key()
	if s == StateOpen {
		metrics.ChannelConnected.WithLabelValues(key).Set(1)
	} else {
		metrics.ChannelConnected.WithLabelValues(key).Set(0)
	}
	m.bus.Publish(bus.TopicChannelState(key), StateChange{
		Channel: c.channel,
		State:   s,
		Err:     err,
	})
}
