package eventhub

import (
	"slices"
	"sync"
)

// Event is what listeners receive on every dispatch.
type Event struct {
	Queue string
	Name  string

	// Channel is the hub event name the event arrived on.
	// Set by the events client when it re-dispatches a hub event under a local name.
	Channel string

	Args      []any
	Publisher string

	// Via lists the hub / client ids the event was relayed through.
	Via []string

	// Memo is shared by every listener of one dispatch pass.
	Memo *Memo
}

// RelayedBy reports whether id already relayed this event
func (e Event) RelayedBy(id string) bool {
	return slices.Contains(e.Via, id)
}

// Hop returns a copy of the event with id appended to the relay path.
// The memo is reset; the next hub starts its own dispatch pass.
func (e Event) Hop(id string) Event {
	via := make([]string, 0, len(e.Via)+1)
	via = append(via, e.Via...)
	e.Via = append(via, id)
	e.Memo = nil
	e.Channel = ""
	return e
}

// Listener is the registration handle. The pointer is the identity used by Off;
// registering the same *Listener twice under the same event is a no-op.
type Listener struct {
	fn func(Event)
}

func NewListener(fn func(Event)) *Listener {
	return &Listener{fn: fn}
}

func (l *Listener) Call(ev Event) {
	l.fn(ev)
}

type WatchKind int

const (
	Subscribe WatchKind = iota + 1
	Unsubscribe
)

func (k WatchKind) String() string {
	switch k {
	case Subscribe:
		return "subscribe"
	case Unsubscribe:
		return "unsubscribe"
	}
	return "unknown"
}

// WatchEvent is fired when the first listener of (Queue, Name) appears
// or the last one goes away.
type WatchEvent struct {
	Queue string
	Name  string
	Kind  WatchKind
}

type Watcher struct {
	fn func(WatchEvent)
}

func NewWatcher(fn func(WatchEvent)) *Watcher {
	return &Watcher{fn: fn}
}

func (w *Watcher) Call(ev WatchEvent) {
	w.fn(ev)
}

// Memo memoizes values (typically serialized payloads) for one dispatch pass.
// Listeners may hand the event to other goroutines, so it is safe for concurrent use.
type Memo struct {
	mu      sync.Mutex
	entries map[string]*memoEntry
}

type memoEntry struct {
	once sync.Once
	val  []byte
	err  error
}

func NewMemo() *Memo {
	return &Memo{entries: make(map[string]*memoEntry)}
}

// Do returns the value stored under key, computing it with fn the first time.
// A nil memo just calls fn.
func (m *Memo) Do(key string, fn func() ([]byte, error)) ([]byte, error) {
	if m == nil {
		return fn()
	}

	m.mu.Lock()
	e, ok := m.entries[key]
	if !ok {
		e = &memoEntry{}
		m.entries[key] = e
	}
	m.mu.Unlock()

	e.once.Do(func() {
		e.val, e.err = fn()
	})

	return e.val, e.err
}
