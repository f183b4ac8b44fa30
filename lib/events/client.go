package events

import (
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/lib/eventhub"
)

var (
	ErrAlreadyLinked = errors.New("events client already linked")
)

// DefaultLocalEvents are connection lifecycle signals; they never leave the process.
var DefaultLocalEvents = []string{"connect", "disconnect"}

// Route tells the client how events of one hub queue become local events.
type Route struct {
	// Prefix is prepended (as "prefix:") to hub event names before local dispatch.
	Prefix string

	// Subscriber expands a local name (without prefix) into the hub event names to listen on.
	// Nil means the name itself.
	Subscriber func(name string) []string
}

// local strips the route prefix from a local name.
func (r Route) local(name string) (string, bool) {
	if r.Prefix == "" {
		return name, true
	}
	return strings.CutPrefix(name, r.Prefix+":")
}

type LinkOptions struct {
	// Send maps a local name prefix (text before the first ':', "" for none) to a hub queue.
	Send map[string]string

	// Receive maps a hub queue to the route its events take into the client.
	Receive map[string]Route
}

// Client merges local listeners, hub routed listeners and a remote transport into one
// subscribe / publish surface.
type Client struct {
	id           string
	localEvents  map[string]struct{}
	remote       Remote
	canSubscribe func(name string) bool

	mu              sync.Mutex
	listeners       *eventhub.Registry
	bindings        map[string]*binding
	remoteListening map[string]struct{}
	hubInterest     map[string]struct{}
	fetching        map[string]struct{}

	hub      *eventhub.Hub
	link     LinkOptions
	watchers map[string]*eventhub.Watcher
	taps     map[string]*eventhub.Listener

	// serializes Subscribe/UnsubscribeFromRemote calls
	remoteMu sync.Mutex
}

type Option func(c *Client)

func WithID(id string) Option {
	return func(c *Client) {
		c.id = id
	}
}

// WithLocalEvents replaces the default local event names.
func WithLocalEvents(names ...string) Option {
	return func(c *Client) {
		c.localEvents = make(map[string]struct{}, len(names))
		for _, name := range names {
			c.localEvents[name] = struct{}{}
		}
	}
}

func WithRemote(remote Remote) Option {
	return func(c *Client) {
		c.remote = remote
	}
}

// WithCanSubscribe installs a veto hook consulted by On / Once.
func WithCanSubscribe(fn func(name string) bool) Option {
	return func(c *Client) {
		c.canSubscribe = fn
	}
}

func New(opts ...Option) *Client {
	c := &Client{
		listeners:       eventhub.NewRegistry(),
		bindings:        make(map[string]*binding),
		remoteListening: make(map[string]struct{}),
		hubInterest:     make(map[string]struct{}),
		fetching:        make(map[string]struct{}),
		watchers:        make(map[string]*eventhub.Watcher),
		taps:            make(map[string]*eventhub.Listener),
	}

	WithLocalEvents(DefaultLocalEvents...)(c)

	for _, opt := range opts {
		opt(c)
	}

	if c.id == "" {
		c.id = uuid.NewString()
	}

	return c
}

func (c *Client) ID() string {
	return c.id
}

func (c *Client) IsLocal(name string) bool {
	_, ok := c.localEvents[name]
	return ok
}

// On registers l for name. It returns false when the subscription was vetoed.
func (c *Client) On(name string, l *eventhub.Listener) bool {
	return c.add(name, l, false)
}

func (c *Client) Once(name string, l *eventhub.Listener) bool {
	return c.add(name, l, true)
}

func (c *Client) add(name string, l *eventhub.Listener, once bool) bool {
	if c.canSubscribe != nil && !c.canSubscribe(name) {
		return false
	}

	c.mu.Lock()
	_, first := c.listeners.Add(name, l, once)
	c.mu.Unlock()

	if first && !c.IsLocal(name) {
		c.acquire(name)
	}

	return true
}

// Off removes l. When it was the last listener of name, the hub listeners are removed
// and the remote is told to stop sending before Off returns.
func (c *Client) Off(name string, l *eventhub.Listener) {
	c.mu.Lock()
	_, last := c.listeners.Remove(name, l)
	c.mu.Unlock()

	if last && !c.IsLocal(name) {
		c.release(name)
	}
}

// OffAll removes every local listener.
func (c *Client) OffAll() {
	c.mu.Lock()
	names := c.listeners.Clear()
	c.mu.Unlock()

	for _, name := range names {
		if !c.IsLocal(name) {
			c.release(name)
		}
	}
}

func (c *Client) HasListeners(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.listeners.Has(name)
}

// Names of every local event with listeners.
func (c *Client) Names() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.listeners.Names()
}

// RemoteListening reports whether a remote peer asked for name.
func (c *Client) RemoteListening(name string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.remoteListening[name]
	return ok
}

func (c *Client) acquire(name string) {
	c.bindHub(name)
	c.syncRemote(name)
}

func (c *Client) release(name string) {
	c.unbindHub(name)
	c.syncRemote(name)
}

// Emit fires local listeners and the hub. Remote peers are not told.
func (c *Client) Emit(name string, args ...any) {
	c.dispatch(eventhub.Event{
		Name:      name,
		Args:      args,
		Publisher: c.id,
		Memo:      eventhub.NewMemo(),
	})
	c.sendToHub(name, args, c.id)
}

// Publish fires local listeners, the hub and remote peers listening for name.
func (c *Client) Publish(name string, args ...any) {
	c.PublishAs(c.id, name, args...)
}

// PublishAs is Publish with another publisher id.
func (c *Client) PublishAs(publisher, name string, args ...any) {
	c.dispatch(eventhub.Event{
		Name:      name,
		Args:      args,
		Publisher: publisher,
		Memo:      eventhub.NewMemo(),
	})
	c.sendToHub(name, args, publisher)

	if c.remote == nil || c.IsLocal(name) || !c.RemoteListening(name) {
		return
	}
	c.remote.PublishToRemote(name, args, publisher)
}

func (c *Client) dispatch(ev eventhub.Event) {
	c.mu.Lock()
	fire, emptied := c.listeners.Take(ev.Name)
	c.mu.Unlock()

	if emptied && !c.IsLocal(ev.Name) {
		c.release(ev.Name)
	}

	for _, l := range fire {
		l.Call(ev)
	}
}

func (c *Client) sendToHub(name string, args []any, publisher string) {
	if c.IsLocal(name) {
		return
	}

	c.mu.Lock()
	hub, send := c.hub, c.link.Send
	c.mu.Unlock()

	if hub == nil {
		return
	}

	prefix, rest := splitName(name)
	queue, ok := send[prefix]
	if !ok {
		queue, ok = send[""]
		rest = name
	}
	if !ok {
		return
	}

	hub.PublishEvent(eventhub.Event{
		Queue:     queue,
		Name:      rest,
		Args:      args,
		Publisher: publisher,
		Via:       []string{c.id},
	})
}

// Link wires the client to a hub.
func (c *Client) Link(hub *eventhub.Hub, opts LinkOptions) error {
	c.mu.Lock()
	if c.hub != nil {
		c.mu.Unlock()
		return ErrAlreadyLinked
	}
	c.hub = hub
	c.link = opts
	names := c.listeners.Names()
	c.mu.Unlock()

	for _, name := range names {
		if !c.IsLocal(name) {
			c.bindHub(name)
		}
	}

	if c.remote == nil {
		return nil
	}

	// hub events leaving towards remote peers
	for prefix, queue := range opts.Send {
		prefix := prefix
		tap := eventhub.NewListener(func(ev eventhub.Event) {
			c.forwardToRemote(prefix, ev)
		})

		c.mu.Lock()
		c.taps[queue+"\x00"+prefix] = tap
		c.mu.Unlock()

		hub.Forward(queue, tap)
	}

	// hub interest is mirrored to remote peers
	for _, queue := range sortedQueues(opts.Receive) {
		route := opts.Receive[queue]
		w := eventhub.NewWatcher(func(ev eventhub.WatchEvent) {
			c.onHubWatch(route, ev)
		})

		c.mu.Lock()
		c.watchers[queue] = w
		c.mu.Unlock()

		hub.Watch(queue, w)
		for _, name := range hub.Names(queue) {
			c.onHubWatch(route, eventhub.WatchEvent{Queue: queue, Name: name, Kind: eventhub.Subscribe})
		}
	}

	return nil
}

// Unlink removes every hub listener, watcher and tap the client installed.
func (c *Client) Unlink() {
	c.mu.Lock()
	hub := c.hub
	if hub == nil {
		c.mu.Unlock()
		return
	}

	bindings := c.bindings
	watchers := c.watchers
	taps := c.taps
	interest := make([]string, 0, len(c.hubInterest))
	for name := range c.hubInterest {
		interest = append(interest, name)
	}

	c.hub = nil
	c.link = LinkOptions{}
	c.bindings = make(map[string]*binding)
	c.watchers = make(map[string]*eventhub.Watcher)
	c.taps = make(map[string]*eventhub.Listener)
	c.hubInterest = make(map[string]struct{})
	c.mu.Unlock()

	for _, b := range bindings {
		b.close()
	}

	for queue, w := range watchers {
		hub.Unwatch(queue, w)
	}

	for key, tap := range taps {
		queue, _, _ := strings.Cut(key, "\x00")
		hub.Unforward(queue, tap)
	}

	sort.Strings(interest)
	for _, name := range interest {
		c.syncRemote(name)
	}
}

// Close drops every listener and the hub link.
func (c *Client) Close() {
	c.OffAll()
	c.Unlink()
}

func (c *Client) bindHub(name string) {
	c.mu.Lock()
	if c.hub == nil || c.bindings[name] != nil || !c.listeners.Has(name) {
		c.mu.Unlock()
		return
	}
	b := &binding{hub: c.hub}
	c.bindings[name] = b
	receive := c.link.Receive
	c.mu.Unlock()

	for _, queue := range sortedQueues(receive) {
		route := receive[queue]
		rest, ok := route.local(name)
		if !ok {
			continue
		}

		channels := []string{rest}
		if route.Subscriber != nil {
			channels = route.Subscriber(rest)
		}

		for _, channel := range channels {
			b.register(queue, channel, eventhub.NewListener(func(ev eventhub.Event) {
				c.receiveFromHub(name, ev)
			}))
		}
	}
}

func (c *Client) unbindHub(name string) {
	c.mu.Lock()
	b := c.bindings[name]
	delete(c.bindings, name)
	c.mu.Unlock()

	if b != nil {
		b.close()
	}
}

func (c *Client) receiveFromHub(name string, ev eventhub.Event) {
	// sent by this client, local listeners already had it
	if ev.RelayedBy(c.id) || c.IsLocal(name) {
		return
	}

	ev.Channel = ev.Name
	ev.Name = name
	c.dispatch(ev)
}

func (c *Client) forwardToRemote(prefix string, ev eventhub.Event) {
	if ev.RelayedBy(c.id) {
		return
	}

	name := joinName(prefix, ev.Name)
	if c.IsLocal(name) || !c.RemoteListening(name) {
		return
	}

	c.remote.PublishToRemote(name, ev.Args, ev.Publisher)
}

func (c *Client) onHubWatch(route Route, ev eventhub.WatchEvent) {
	name := joinName(route.Prefix, ev.Name)
	if c.IsLocal(name) {
		return
	}

	c.mu.Lock()
	switch ev.Kind {
	case eventhub.Subscribe:
		c.hubInterest[name] = struct{}{}
	case eventhub.Unsubscribe:
		delete(c.hubInterest, name)
	}
	c.mu.Unlock()

	c.syncRemote(name)
}

// syncRemote tells the remote to start or stop sending name so that it sends exactly
// the names with local listeners or hub interest.
func (c *Client) syncRemote(name string) {
	if c.remote == nil || c.IsLocal(name) {
		return
	}

	c.remoteMu.Lock()
	defer c.remoteMu.Unlock()

	c.mu.Lock()
	_, hubWants := c.hubInterest[name]
	want := c.listeners.Has(name) || hubWants
	_, have := c.fetching[name]
	if want && !have {
		c.fetching[name] = struct{}{}
	} else if !want && have {
		delete(c.fetching, name)
	}
	c.mu.Unlock()

	switch {
	case want && !have:
		log.Debug().Str("client", c.id).Msgf("subscribe to remote: %v", name)
		c.remote.SubscribeToRemote(name)
	case !want && have:
		log.Debug().Str("client", c.id).Msgf("unsubscribe from remote: %v", name)
		c.remote.UnsubscribeFromRemote(name)
	}
}

// Fetching returns the names the remote was asked to send.
func (c *Client) Fetching() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	names := make([]string, 0, len(c.fetching))
	for name := range c.fetching {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (c *Client) OnRemoteSubscribe(name string) {
	if c.IsLocal(name) {
		return
	}

	c.mu.Lock()
	c.remoteListening[name] = struct{}{}
	c.mu.Unlock()
}

func (c *Client) OnRemoteUnsubscribe(name string) {
	c.mu.Lock()
	delete(c.remoteListening, name)
	c.mu.Unlock()
}

func (c *Client) OnRemoteUnsubscribeAll() {
	c.mu.Lock()
	c.remoteListening = make(map[string]struct{})
	c.mu.Unlock()
}

// OnRemotePublish dispatches a remote event locally and to the hub, never back to the remote.
func (c *Client) OnRemotePublish(name string, args []any, publisher string) {
	if c.IsLocal(name) {
		return
	}

	c.dispatch(eventhub.Event{
		Name:      name,
		Args:      args,
		Publisher: publisher,
		Memo:      eventhub.NewMemo(),
	})
	c.sendToHub(name, args, publisher)
}

func splitName(name string) (prefix, rest string) {
	prefix, rest, ok := strings.Cut(name, ":")
	if !ok {
		return "", name
	}
	return prefix, rest
}

func joinName(prefix, name string) string {
	if prefix == "" {
		return name
	}
	return prefix + ":" + name
}

func sortedQueues(receive map[string]Route) []string {
	queues := make([]string, 0, len(receive))
	for queue := range receive {
		queues = append(queues, queue)
	}
	sort.Strings(queues)
	return queues
}
