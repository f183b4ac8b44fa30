package events

import (
	"sync"

	"github.com/desain-gratis/realtime/lib/eventhub"
)

type hubListener struct {
	queue    string
	channel  string
	listener *eventhub.Listener
}

// binding holds the hub listeners created for one local event name.
type binding struct {
	hub *eventhub.Hub

	mu        sync.Mutex
	closed    bool
	listeners []hubListener
}

func (b *binding) register(queue, channel string, l *eventhub.Listener) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.listeners = append(b.listeners, hubListener{queue: queue, channel: channel, listener: l})
	b.mu.Unlock()

	b.hub.On(queue, channel, l)

	// closed while registering
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()

	if closed {
		b.hub.Off(queue, channel, l)
	}
}

func (b *binding) close() {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.closed = true
	listeners := b.listeners
	b.listeners = nil
	b.mu.Unlock()

	for _, hl := range listeners {
		b.hub.Off(hl.queue, hl.channel, hl.listener)
	}
}

// channels returns the hub event names this binding listens on.
func (b *binding) channels() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	result := make([]string, 0, len(b.listeners))
	for _, hl := range b.listeners {
		result = append(result, hl.channel)
	}
	return result
}

// Channels returns the hub event names wired for a local name.
func (c *Client) Channels(name string) []string {
	c.mu.Lock()
	b := c.bindings[name]
	c.mu.Unlock()

	if b == nil {
		return nil
	}
	return b.channels()
}
