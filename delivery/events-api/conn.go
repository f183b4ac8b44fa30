package eventsapi

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/lib/eventhub"
	"github.com/desain-gratis/realtime/lib/events"
)

const (
	eventConnect    = "connect"
	eventDisconnect = "disconnect"
)

// conn is one websocket client. Its events client is linked to the outgoing hub;
// fan-out listeners enqueue deliveries and the write pump sends them.
type conn struct {
	id        string
	m         *Manager
	ws        *websocket.Conn
	principal Principal
	client    *events.Client
	ctx       context.Context

	mu            sync.Mutex
	subscriptions map[string]*eventhub.Listener

	queue     chan eventhub.Event
	done      chan struct{}
	closeOnce sync.Once
	closed    atomic.Bool

	lastRefresh time.Time
}

func newConn(ctx context.Context, m *Manager, ws *websocket.Conn, p Principal) *conn {
	c := &conn{
		id:            uuid.NewString(),
		m:             m,
		ws:            ws,
		principal:     p,
		ctx:           ctx,
		subscriptions: make(map[string]*eventhub.Listener),
		queue:         make(chan eventhub.Event, m.cfg.QueueSize),
		done:          make(chan struct{}),
	}

	c.client = events.New(
		events.WithID(c.id),
		events.WithLocalEvents(eventConnect, eventDisconnect, MethodSubscribe, MethodUnsubscribe, MethodPublish),
	)

	err := c.client.Link(m.hub, events.LinkOptions{
		Receive: map[string]events.Route{
			OutgoingQueue: {Subscriber: func(name string) []string {
				return Channels(p, name)
			}},
		},
	})
	if err != nil {
		// a fresh client is never linked
		log.Panic().Err(err).Msgf("link connection %v", c.id)
	}

	c.client.On(MethodSubscribe, eventhub.NewListener(func(ev eventhub.Event) {
		c.subscribe(params(ev))
	}))
	c.client.On(MethodUnsubscribe, eventhub.NewListener(func(ev eventhub.Event) {
		c.unsubscribe(params(ev))
	}))
	c.client.On(MethodPublish, eventhub.NewListener(func(ev eventhub.Event) {
		c.publish(params(ev))
	}))

	return c
}

func params(ev eventhub.Event) []json.RawMessage {
	if len(ev.Args) == 0 {
		return nil
	}
	p, _ := ev.Args[0].([]json.RawMessage)
	return p
}

// handle turns one inbound frame into a local event. Malformed frames are dropped.
func (c *conn) handle(payload []byte) {
	msg, err := decodeMessage(payload)
	if err != nil {
		log.Debug().Str("conn", c.id).Msgf("dropping malformed message")
		return
	}

	c.client.Emit(msg.Method, msg.Params)
}

func (c *conn) subscribe(p []json.RawMessage) {
	names, err := decodeNames(p)
	if err != nil {
		return
	}

	for _, name := range names {
		if c.client.IsLocal(name) {
			continue
		}

		c.mu.Lock()
		_, subscribed := c.subscriptions[name]
		c.mu.Unlock()
		if subscribed {
			continue
		}

		if !c.m.schema.Allows(name) {
			if c.m.schema.Development {
				log.Debug().Str("conn", c.id).Msgf("subscription to undeclared event %v ignored", name)
			}
			continue
		}

		l := eventhub.NewListener(c.fanout)

		c.mu.Lock()
		c.subscriptions[name] = l
		c.mu.Unlock()

		c.client.On(name, l)
	}
}

func (c *conn) unsubscribe(p []json.RawMessage) {
	names, err := decodeNames(p)
	if err != nil {
		return
	}

	for _, name := range names {
		c.mu.Lock()
		l := c.subscriptions[name]
		delete(c.subscriptions, name)
		c.mu.Unlock()

		if l != nil {
			c.client.Off(name, l)
		}
	}
}

func (c *conn) publish(p []json.RawMessage) {
	name, args, err := decodePublish(p)
	if err != nil {
		return
	}

	if err := c.m.publisher.PublishRemoteIncomingEvent(c.ctx, c.principal, c.id, name, args); err != nil {
		log.Debug().Err(err).Str("conn", c.id).Msgf("publish %v rejected", name)
	}
}

// fanout runs on the publisher's goroutine and must not block.
func (c *conn) fanout(ev eventhub.Event) {
	if c.closed.Load() || ev.Publisher == c.id {
		return
	}

	select {
	case c.queue <- ev:
	default:
		log.Warn().Str("conn", c.id).Msgf("delivery queue full, dropping %v", ev.Name)
	}
}

func (c *conn) writePump(ctx context.Context) {
	ticker := time.NewTicker(c.m.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			pctx, cancel := context.WithTimeout(ctx, c.m.cfg.WriteTimeout)
			err := c.ws.Ping(pctx)
			cancel()
			if err != nil {
				c.shutdown(websocket.StatusGoingAway, "ping timeout")
				return
			}
		case ev := <-c.queue:
			if err := c.deliver(ctx, ev); err != nil {
				if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
					log.Warn().Err(err).Str("conn", c.id).Msgf("failed to write")
				}
				c.shutdown(websocket.StatusInternalError, "write failed")
				return
			}
		}
	}
}

// deliver re-validates the principal for identity bound channels, then writes the
// serialized push message. Stale principals drop the delivery, not the subscription.
func (c *conn) deliver(ctx context.Context, ev eventhub.Event) error {
	if c.closed.Load() {
		return nil
	}

	if !immutable(scopeOf(ev.Name, ev.Channel)) {
		if err := c.revalidate(ctx); err != nil {
			log.Debug().Err(err).Str("conn", c.id).Msgf("re-validation failed, dropping %v", ev.Name)
			return nil
		}
		if !c.principal.Active() {
			return nil
		}
		if !slices.Contains(Channels(c.principal, ev.Name), ev.Channel) {
			return nil
		}
	}

	locale := c.principal.Locale()
	payload, err := ev.Memo.Do(ev.Name+"\x00"+locale, func() ([]byte, error) {
		return encodePublish(ev.Name, ev.Args, locale)
	})
	if err != nil {
		log.Err(err).Msgf("failed to encode %v", ev.Name)
		return nil
	}

	wctx, cancel := context.WithTimeout(ctx, c.m.cfg.WriteTimeout)
	defer cancel()

	return c.ws.Write(wctx, websocket.MessageText, payload)
}

// revalidate is only called from the write pump.
func (c *conn) revalidate(ctx context.Context) error {
	if interval := c.m.cfg.RefreshInterval; interval > 0 && time.Since(c.lastRefresh) < interval {
		return nil
	}

	if err := c.principal.Update(ctx); err != nil {
		return err
	}
	c.lastRefresh = time.Now()
	return nil
}

func (c *conn) readPump(ctx context.Context) error {
	c.ws.SetReadLimit(c.m.cfg.MaxMessageSize)

	for {
		typ, payload, err := c.ws.Read(ctx)
		if err != nil {
			return err
		}
		if typ != websocket.MessageText {
			continue
		}
		c.handle(payload)
	}
}

// shutdown clears every subscription before the socket is closed.
func (c *conn) shutdown(code websocket.StatusCode, reason string) {
	c.closeOnce.Do(func() {
		c.closed.Store(true)

		c.client.Emit(eventDisconnect)
		c.client.Close()

		c.mu.Lock()
		c.subscriptions = make(map[string]*eventhub.Listener)
		c.mu.Unlock()

		close(c.done)
		c.m.unregister(c)

		if err := c.ws.Close(code, reason); err != nil && websocket.CloseStatus(err) == -1 {
			log.Debug().Err(err).Str("conn", c.id).Msgf("close")
		}
	})
}
