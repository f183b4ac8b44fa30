package eventhub

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

var (
	ErrAlreadyLinked = errors.New("hub already linked")
	ErrSelfLink      = errors.New("cannot link hub to itself")
)

// AllQueues can be passed to Forward to tap every queue.
const AllQueues = ""

// Hub is the per process broker. Listener state is partitioned by queue;
// two queues never see each other's events.
//
// Dispatch is synchronous. Callbacks are always invoked without the hub lock held,
// so a listener may publish, register or unregister on the same hub.
type Hub struct {
	id string

	mu         sync.Mutex
	queues     map[string]*Registry
	watchers   map[string][]*Watcher
	forwarders map[string][]*Listener
	links      map[*Hub]*link
}

type Option func(h *Hub)

func WithID(id string) Option {
	return func(h *Hub) {
		h.id = id
	}
}

func New(opts ...Option) *Hub {
	h := &Hub{
		queues:     make(map[string]*Registry),
		watchers:   make(map[string][]*Watcher),
		forwarders: make(map[string][]*Listener),
		links:      make(map[*Hub]*link),
	}

	for _, opt := range opts {
		opt(h)
	}

	if h.id == "" {
		h.id = uuid.NewString()
	}

	return h
}

func (h *Hub) ID() string {
	return h.id
}

func (h *Hub) On(queue, name string, l *Listener) {
	h.add(queue, name, l, false)
}

// Once registers a listener that is removed right before its first invocation.
func (h *Hub) Once(queue, name string, l *Listener) {
	h.add(queue, name, l, true)
}

func (h *Hub) add(queue, name string, l *Listener, once bool) {
	var notify []*Watcher

	func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		reg, ok := h.queues[queue]
		if !ok {
			reg = NewRegistry()
			h.queues[queue] = reg
		}

		_, first := reg.Add(name, l, once)
		if first {
			notify = slices.Clone(h.watchers[queue])
		}
	}()

	h.notify(notify, WatchEvent{Queue: queue, Name: name, Kind: Subscribe})
}

func (h *Hub) Off(queue, name string, l *Listener) {
	var notify []*Watcher

	func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		reg, ok := h.queues[queue]
		if !ok {
			return
		}

		_, last := reg.Remove(name, l)
		if reg.Size() == 0 {
			delete(h.queues, queue)
		}
		if last {
			notify = slices.Clone(h.watchers[queue])
		}
	}()

	h.notify(notify, WatchEvent{Queue: queue, Name: name, Kind: Unsubscribe})
}

// OffAll removes every listener of a queue.
func (h *Hub) OffAll(queue string) {
	var names []string
	var notify []*Watcher

	func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		reg, ok := h.queues[queue]
		if !ok {
			return
		}
		delete(h.queues, queue)

		names = reg.Clear()
		notify = slices.Clone(h.watchers[queue])
	}()

	for _, name := range names {
		h.notify(notify, WatchEvent{Queue: queue, Name: name, Kind: Unsubscribe})
	}
}

// Publish dispatches to the listeners of (queue, name) and then to the forwarders of queue.
// Events published with the hub's own id are ignored.
func (h *Hub) Publish(queue, name string, args []any, publisher string) {
	h.PublishEvent(Event{
		Queue:     queue,
		Name:      name,
		Args:      args,
		Publisher: publisher,
	})
}

// PublishEvent is Publish with a complete event; the relay path (Via) is kept.
func (h *Hub) PublishEvent(ev Event) {
	if ev.Publisher == h.id || ev.RelayedBy(h.id) {
		return
	}

	ev.Memo = NewMemo()
	ev.Channel = ""

	var fire []*Listener
	var forward []*Listener
	var notify []*Watcher

	func() {
		h.mu.Lock()
		defer h.mu.Unlock()

		if reg, ok := h.queues[ev.Queue]; ok {
			var emptied bool
			fire, emptied = reg.Take(ev.Name)
			if reg.Size() == 0 {
				delete(h.queues, ev.Queue)
			}
			if emptied {
				notify = slices.Clone(h.watchers[ev.Queue])
			}
		}

		forward = slices.Clone(h.forwarders[ev.Queue])
		if ev.Queue != AllQueues {
			forward = append(forward, h.forwarders[AllQueues]...)
		}
	}()

	h.notify(notify, WatchEvent{Queue: ev.Queue, Name: ev.Name, Kind: Unsubscribe})

	for _, l := range fire {
		l.Call(ev)
	}

	for _, f := range forward {
		f.Call(ev)
	}
}

// relay publishes an event coming from another hub on queue.
func (h *Hub) relay(queue string, ev Event, from string) {
	next := ev.Hop(from)
	next.Queue = queue
	h.PublishEvent(next)
}

func (h *Hub) Watch(queue string, w *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if slices.Contains(h.watchers[queue], w) {
		return
	}
	h.watchers[queue] = append(h.watchers[queue], w)
}

func (h *Hub) Unwatch(queue string, w *Watcher) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.watchers[queue] = slices.DeleteFunc(h.watchers[queue], func(x *Watcher) bool { return x == w })
	if len(h.watchers[queue]) == 0 {
		delete(h.watchers, queue)
	}
}

// Forward taps every event published on queue, with or without local listeners.
// Use AllQueues to tap everything.
func (h *Hub) Forward(queue string, l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if slices.Contains(h.forwarders[queue], l) {
		return
	}
	h.forwarders[queue] = append(h.forwarders[queue], l)
}

func (h *Hub) Unforward(queue string, l *Listener) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.forwarders[queue] = slices.DeleteFunc(h.forwarders[queue], func(x *Listener) bool { return x == l })
	if len(h.forwarders[queue]) == 0 {
		delete(h.forwarders, queue)
	}
}

// notifyWatchers fires watch notifications as if they happened on this hub.
func (h *Hub) notifyWatchers(ev WatchEvent) {
	h.mu.Lock()
	notify := slices.Clone(h.watchers[ev.Queue])
	h.mu.Unlock()

	h.notify(notify, ev)
}

func (h *Hub) notify(watchers []*Watcher, ev WatchEvent) {
	for _, w := range watchers {
		w.Call(ev)
	}
}

func (h *Hub) HasListeners(queue, name string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	reg, ok := h.queues[queue]
	return ok && reg.Has(name)
}

// Names returns the event names of queue that have listeners.
func (h *Hub) Names(queue string) []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	reg, ok := h.queues[queue]
	if !ok {
		return nil
	}
	return reg.Names()
}

// ListenerCount is the number of listener registrations on queue.
func (h *Hub) ListenerCount(queue string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	reg, ok := h.queues[queue]
	if !ok {
		return 0
	}
	return reg.Size()
}

type QueueStats struct {
	Names      int `json:"names"`
	Listeners  int `json:"listeners"`
	Watchers   int `json:"watchers"`
	Forwarders int `json:"forwarders"`
}

type Stats struct {
	ID     string                `json:"id"`
	Queues map[string]QueueStats `json:"queues"`
	Links  int                   `json:"links"`
}

// Stats for the metric endpoint
func (h *Hub) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	queues := make(map[string]QueueStats)
	for queue, reg := range h.queues {
		s := queues[queue]
		s.Names = len(reg.events)
		s.Listeners = reg.Size()
		queues[queue] = s
	}
	for queue, ws := range h.watchers {
		s := queues[queue]
		s.Watchers = len(ws)
		queues[queue] = s
	}
	for queue, fs := range h.forwarders {
		s := queues[queue]
		s.Forwarders = len(fs)
		queues[queue] = s
	}

	return Stats{
		ID:     h.id,
		Queues: queues,
		Links:  len(h.links),
	}
}

func (h *Hub) debugf(format string, v ...any) {
	log.Debug().Str("hub", h.id).Msgf(format, v...)
}
