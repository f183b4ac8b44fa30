package eventhub

import (
	"sync"
)

// LinkSpec describes how two hubs relay events. Map keys are queues of the hub
// Link is called on, values are queues of the peer.
type LinkSpec struct {
	// Send forwards every local event of the queue to the peer.
	Send map[string]string

	// Recv forwards every peer event of the queue into the local queue.
	Recv map[string]string

	// SendOnListen forwards local events to the peer only for names the peer has listeners for.
	SendOnListen map[string]string

	// RecvOnListen fetches peer events only for names that have local listeners.
	RecvOnListen map[string]string

	// Watch forwards subscribe / unsubscribe notifications without data.
	Watch map[string]string
}

// bindingKey identifies one on-listen relay: events of name on src queue sq
// going to dst queue dq.
type bindingKey struct {
	src  *Hub
	sq   string
	dst  *Hub
	dq   string
	name string
}

// link records everything a Link call installed so Unlink can remove it exactly.
type link struct {
	a, b *Hub

	mu      sync.Mutex
	closed  bool
	undo    []func()
	dynamic map[bindingKey]*Listener
}

// Link wires h to peer. A pair of hubs can be linked only once, whichever side calls it;
// linking again without Unlink returns ErrAlreadyLinked.
func (h *Hub) Link(peer *Hub, spec LinkSpec) error {
	if peer == h {
		return ErrSelfLink
	}

	l := &link{
		a:       h,
		b:       peer,
		dynamic: make(map[bindingKey]*Listener),
	}

	h.mu.Lock()
	if _, ok := h.links[peer]; ok {
		h.mu.Unlock()
		return ErrAlreadyLinked
	}
	h.links[peer] = l
	h.mu.Unlock()

	peer.mu.Lock()
	if _, ok := peer.links[h]; ok {
		peer.mu.Unlock()

		h.mu.Lock()
		delete(h.links, peer)
		h.mu.Unlock()
		return ErrAlreadyLinked
	}
	peer.links[h] = l
	peer.mu.Unlock()

	for lq, rq := range spec.Send {
		l.send(h, peer, lq, rq)
	}

	for lq, rq := range spec.Recv {
		l.send(peer, h, rq, lq)
	}

	for lq, rq := range spec.SendOnListen {
		l.sendOnListen(h, peer, lq, rq)
	}

	for lq, rq := range spec.RecvOnListen {
		l.sendOnListen(peer, h, rq, lq)
	}

	for lq, rq := range spec.Watch {
		l.watch(h, peer, lq, rq)
	}

	h.debugf("linked to %v", peer.id)

	return nil
}

// Unlink removes everything installed by the link between h and peer.
// Unknown peers are ignored.
func (h *Hub) Unlink(peer *Hub) {
	h.mu.Lock()
	l, ok := h.links[peer]
	if ok {
		delete(h.links, peer)
	}
	h.mu.Unlock()

	if !ok {
		return
	}

	peer.mu.Lock()
	if peer.links[h] == l {
		delete(peer.links, h)
	}
	peer.mu.Unlock()

	l.close()

	h.debugf("unlinked from %v", peer.id)
}

func (h *Hub) UnlinkAll() {
	h.mu.Lock()
	peers := make([]*Hub, 0, len(h.links))
	for peer := range h.links {
		peers = append(peers, peer)
	}
	h.mu.Unlock()

	for _, peer := range peers {
		h.Unlink(peer)
	}
}

func (h *Hub) Linked(peer *Hub) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	_, ok := h.links[peer]
	return ok
}

// send relays every event of src queue sq into dst queue dq.
func (l *link) send(src, dst *Hub, sq, dq string) {
	f := NewListener(func(ev Event) {
		dst.relay(dq, ev, src.id)
	})

	src.Forward(sq, f)
	l.onClose(func() { src.Unforward(sq, f) })
}

// sendOnListen relays events of src queue sq into dst queue dq,
// but only for names dst has listeners for on dq.
func (l *link) sendOnListen(src, dst *Hub, sq, dq string) {
	w := NewWatcher(func(ev WatchEvent) {
		key := bindingKey{src: src, sq: sq, dst: dst, dq: dq, name: ev.Name}
		switch ev.Kind {
		case Subscribe:
			l.bind(key)
		case Unsubscribe:
			l.unbind(key)
		}
	})

	dst.Watch(dq, w)
	l.onClose(func() { dst.Unwatch(dq, w) })

	for _, name := range dst.Names(dq) {
		l.bind(bindingKey{src: src, sq: sq, dst: dst, dq: dq, name: name})
	}
}

// watch mirrors subscribe / unsubscribe notifications of src queue sq to the watchers of dst queue dq.
func (l *link) watch(src, dst *Hub, sq, dq string) {
	w := NewWatcher(func(ev WatchEvent) {
		dst.notifyWatchers(WatchEvent{Queue: dq, Name: ev.Name, Kind: ev.Kind})
	})

	src.Watch(sq, w)
	l.onClose(func() { src.Unwatch(sq, w) })
}

func (l *link) onClose(fn func()) {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		fn()
		return
	}
	l.undo = append(l.undo, fn)
	l.mu.Unlock()
}

func (l *link) bind(key bindingKey) {
	l.mu.Lock()
	if _, exist := l.dynamic[key]; exist || l.closed {
		l.mu.Unlock()
		return
	}
	lis := NewListener(func(ev Event) {
		key.dst.relay(key.dq, ev, key.src.id)
	})
	l.dynamic[key] = lis
	l.mu.Unlock()

	key.src.On(key.sq, key.name, lis)

	// unbind or close may have run while we were registering
	l.mu.Lock()
	stillBound := !l.closed && l.dynamic[key] == lis
	l.mu.Unlock()

	if !stillBound {
		key.src.Off(key.sq, key.name, lis)
	}
}

func (l *link) unbind(key bindingKey) {
	l.mu.Lock()
	lis, ok := l.dynamic[key]
	if ok {
		delete(l.dynamic, key)
	}
	l.mu.Unlock()

	if ok {
		key.src.Off(key.sq, key.name, lis)
	}
}

func (l *link) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	undo := l.undo
	dynamic := l.dynamic
	l.undo = nil
	l.dynamic = make(map[bindingKey]*Listener)
	l.mu.Unlock()

	for i := len(undo) - 1; i >= 0; i-- {
		undo[i]()
	}

	for key, lis := range dynamic {
		key.src.Off(key.sq, key.name, lis)
	}
}
