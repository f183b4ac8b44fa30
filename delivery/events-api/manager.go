package eventsapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/desain-gratis/realtime/lib/eventhub"
	"github.com/desain-gratis/realtime/lib/schema"
	"github.com/desain-gratis/realtime/usecase/session"
)

const (
	// OutgoingQueue carries events from the application to connections.
	OutgoingQueue = "outgoing"

	// IncomingQueue carries events published by connections.
	IncomingQueue = "incoming"
)

type Config struct {
	OriginPatterns []string

	// QueueSize bounds the deliveries waiting for one connection's writer.
	QueueSize int

	// RefreshInterval throttles principal re-validation. Zero re-validates every delivery.
	RefreshInterval time.Duration

	WriteTimeout   time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
}

func DefaultConfig() Config {
	return Config{
		QueueSize:      256,
		WriteTimeout:   10 * time.Second,
		PingInterval:   30 * time.Second,
		MaxMessageSize: 32 << 10,
	}
}

// Manager owns the connections of this process and the outgoing hub they listen on.
type Manager struct {
	hub          *eventhub.Hub
	schema       *schema.Schema
	authenticate Authenticate
	publisher    RemotePublisher
	cfg          Config

	mu      sync.Mutex
	conns   map[string]*conn
	closing bool
	wg      sync.WaitGroup
}

type ManagerOption func(m *Manager)

func WithConfig(cfg Config) ManagerOption {
	return func(m *Manager) {
		m.cfg = cfg
	}
}

func WithAuthenticate(fn Authenticate) ManagerOption {
	return func(m *Manager) {
		m.authenticate = fn
	}
}

func WithPublisher(p RemotePublisher) ManagerOption {
	return func(m *Manager) {
		m.publisher = p
	}
}

func NewManager(hub *eventhub.Hub, s *schema.Schema, opts ...ManagerOption) *Manager {
	m := &Manager{
		hub:    hub,
		schema: s,
		cfg:    DefaultConfig(),
		conns:  make(map[string]*conn),
		authenticate: func(r *http.Request) Principal {
			return session.Guest(r.URL.Query().Get(session.LocaleParam))
		},
	}

	for _, opt := range opts {
		opt(m)
	}

	if m.publisher == nil {
		m.publisher = NewHubPublisher(hub, s, IncomingQueue)
	}
	def := DefaultConfig()
	if m.cfg.QueueSize <= 0 {
		m.cfg.QueueSize = def.QueueSize
	}
	if m.cfg.WriteTimeout <= 0 {
		m.cfg.WriteTimeout = def.WriteTimeout
	}
	if m.cfg.PingInterval <= 0 {
		m.cfg.PingInterval = def.PingInterval
	}
	if m.cfg.MaxMessageSize <= 0 {
		m.cfg.MaxMessageSize = def.MaxMessageSize
	}

	return m
}

func (m *Manager) Hub() *eventhub.Hub {
	return m.hub
}

func (m *Manager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	return len(m.conns)
}

func (m *Manager) register(c *conn) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closing {
		return false
	}
	m.conns[c.id] = c
	m.wg.Add(1)
	return true
}

func (m *Manager) unregister(c *conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.conns, c.id)
}

// Close disconnects every connection and waits for their handlers to return.
// New connections are refused afterwards.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closing = true
	conns := make([]*conn, 0, len(m.conns))
	for _, c := range m.conns {
		conns = append(conns, c)
	}
	m.mu.Unlock()

	for _, c := range conns {
		c.shutdown(websocket.StatusGoingAway, "server is shutting down")
	}

	m.wg.Wait()
}
