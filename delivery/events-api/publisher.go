package eventsapi

import (
	"context"
	"errors"

	"github.com/desain-gratis/realtime/lib/eventhub"
	"github.com/desain-gratis/realtime/lib/schema"
)

var (
	ErrNotAccepted = errors.New("event not accepted from clients")
)

// RemotePublisher handles /publish requests sent by connected clients.
type RemotePublisher interface {
	PublishRemoteIncomingEvent(ctx context.Context, p Principal, connID, name string, args []any) error
}

var _ RemotePublisher = &HubPublisher{}

// HubPublisher puts accepted client events on the incoming queue of a hub,
// published as the connection so the sender does not get its own event back.
type HubPublisher struct {
	hub    *eventhub.Hub
	schema *schema.Schema
	queue  string
}

func NewHubPublisher(hub *eventhub.Hub, s *schema.Schema, queue string) *HubPublisher {
	return &HubPublisher{
		hub:    hub,
		schema: s,
		queue:  queue,
	}
}

func (h *HubPublisher) PublishRemoteIncomingEvent(ctx context.Context, p Principal, connID, name string, args []any) error {
	if !h.schema.Accepts(name) {
		return ErrNotAccepted
	}
	if !p.Active() {
		return nil
	}

	h.hub.Publish(h.queue, name, args, connID)
	return nil
}
