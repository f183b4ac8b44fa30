package relay

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/lib/events"
)

const DefaultTimeout = 5 * time.Second

// Sender puts one encoded message on the shared channel.
type Sender interface {
	Send(ctx context.Context, payload []byte) error
}

var _ events.Remote = &Remote{}

// Remote implements events.Remote on top of a broadcast channel shared by every process.
// Interest from peers is tracked per origin so that one peer leaving does not
// silence a name another peer still wants.
type Remote struct {
	origin  string
	sender  Sender
	timeout time.Duration

	mu     sync.Mutex
	wanted map[string]struct{}
	peers  map[string]map[string]struct{}
}

type Option func(r *Remote)

func WithTimeout(timeout time.Duration) Option {
	return func(r *Remote) {
		r.timeout = timeout
	}
}

func NewRemote(sender Sender, origin string, opts ...Option) *Remote {
	r := &Remote{
		origin:  origin,
		sender:  sender,
		timeout: DefaultTimeout,
		wanted:  make(map[string]struct{}),
		peers:   make(map[string]map[string]struct{}),
	}

	for _, opt := range opts {
		opt(r)
	}
	if r.timeout <= 0 {
		r.timeout = DefaultTimeout
	}

	return r
}

func (r *Remote) Origin() string {
	return r.origin
}

func (r *Remote) SubscribeToRemote(name string) {
	r.mu.Lock()
	r.wanted[name] = struct{}{}
	r.mu.Unlock()

	r.send(Message{Type: TypeSubscribe, Name: name})
}

func (r *Remote) UnsubscribeFromRemote(name string) {
	r.mu.Lock()
	delete(r.wanted, name)
	r.mu.Unlock()

	r.send(Message{Type: TypeUnsubscribe, Name: name})
}

func (r *Remote) PublishToRemote(name string, args []any, publisher string) {
	r.send(Message{Type: TypePublish, Name: name, Args: args, Publisher: publisher})
}

// Wanted returns the names this process asked its peers for.
func (r *Remote) Wanted() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.wanted))
	for name := range r.wanted {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Announce sends a subscribe message for every wanted name.
func (r *Remote) Announce() {
	for _, name := range r.Wanted() {
		r.send(Message{Type: TypeSubscribe, Name: name})
	}
}

// Hello asks every peer to announce its names. Sent after (re)connecting.
func (r *Remote) Hello() {
	r.send(Message{Type: TypeHello})
}

// Leave tells peers this process no longer wants anything.
func (r *Remote) Leave() {
	r.send(Message{Type: TypeUnsubscribeAll})
}

// Receive decodes one payload from the shared channel and hands it to inbound.
func (r *Remote) Receive(inbound events.Inbound, payload []byte) {
	msg, err := Decode(payload)
	if err != nil {
		log.Warn().Err(err).Msgf("dropping relay payload: %v", string(payload))
		return
	}

	r.Dispatch(inbound, msg)
}

// Dispatch routes a decoded message to the inbound hooks. Messages sent by this
// process are ignored.
func (r *Remote) Dispatch(inbound events.Inbound, msg Message) {
	if msg.Origin == r.origin {
		return
	}

	switch msg.Type {
	case TypeSubscribe:
		r.mu.Lock()
		names, ok := r.peers[msg.Origin]
		if !ok {
			names = make(map[string]struct{})
			r.peers[msg.Origin] = names
		}
		names[msg.Name] = struct{}{}
		r.mu.Unlock()

		inbound.OnRemoteSubscribe(msg.Name)

	case TypeUnsubscribe:
		r.mu.Lock()
		delete(r.peers[msg.Origin], msg.Name)
		if len(r.peers[msg.Origin]) == 0 {
			delete(r.peers, msg.Origin)
		}
		last := !r.peerWants(msg.Name)
		r.mu.Unlock()

		if last {
			inbound.OnRemoteUnsubscribe(msg.Name)
		}

	case TypeUnsubscribeAll:
		r.mu.Lock()
		names := r.peers[msg.Origin]
		delete(r.peers, msg.Origin)
		var released []string
		for name := range names {
			if !r.peerWants(name) {
				released = append(released, name)
			}
		}
		everyone := len(r.peers) == 0
		r.mu.Unlock()

		if everyone {
			inbound.OnRemoteUnsubscribeAll()
			return
		}

		sort.Strings(released)
		for _, name := range released {
			inbound.OnRemoteUnsubscribe(name)
		}

	case TypePublish:
		r.mu.Lock()
		_, ok := r.wanted[msg.Name]
		r.mu.Unlock()

		if !ok {
			return
		}
		inbound.OnRemotePublish(msg.Name, msg.Args, msg.Publisher)

	case TypeHello:
		r.Announce()
	}
}

// peerWants must be called with r.mu held.
func (r *Remote) peerWants(name string) bool {
	for _, names := range r.peers {
		if _, ok := names[name]; ok {
			return true
		}
	}
	return false
}

func (r *Remote) send(msg Message) {
	msg.Origin = r.origin

	payload, err := Encode(msg)
	if err != nil {
		log.Error().Err(err).Msgf("failed to encode relay message %v %v", msg.Type, msg.Name)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	if err := r.sender.Send(ctx, payload); err != nil {
		log.Error().Err(err).Msgf("failed to send relay message %v %v", msg.Type, msg.Name)
	}
}
