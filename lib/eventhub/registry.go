package eventhub

import "sort"

type registration struct {
	listener *Listener
	once     bool
}

// listenerSet keeps insertion order; dispatch follows it.
type listenerSet struct {
	order []*registration
	index map[*Listener]*registration
}

func (s *listenerSet) remove(l *Listener) {
	delete(s.index, l)
	for i, r := range s.order {
		if r.listener == l {
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Registry maps event name -> listener -> once flag.
// It is not safe for concurrent use, the owner (hub or events client) locks.
type Registry struct {
	events map[string]*listenerSet
	size   int
}

func NewRegistry() *Registry {
	return &Registry{
		events: make(map[string]*listenerSet),
	}
}

// Add registers l under name. Adding the same listener again only updates its once flag.
// first is true when name had no listener before.
func (r *Registry) Add(name string, l *Listener, once bool) (added, first bool) {
	set, ok := r.events[name]
	if !ok {
		set = &listenerSet{index: make(map[*Listener]*registration)}
		r.events[name] = set
	}

	if reg, exist := set.index[l]; exist {
		reg.once = once
		return false, false
	}

	reg := &registration{listener: l, once: once}
	set.index[l] = reg
	set.order = append(set.order, reg)
	r.size++

	return true, len(set.order) == 1
}

// Remove unregisters l. last is true when name has no listener anymore.
func (r *Registry) Remove(name string, l *Listener) (removed, last bool) {
	set, ok := r.events[name]
	if !ok {
		return false, false
	}

	if _, exist := set.index[l]; !exist {
		return false, false
	}

	set.remove(l)
	r.size--

	if len(set.order) == 0 {
		delete(r.events, name)
		return true, true
	}

	return true, false
}

// Take returns the listeners to fire for one dispatch pass.
// Once listeners are removed before they are returned.
func (r *Registry) Take(name string) (fire []*Listener, emptied bool) {
	set, ok := r.events[name]
	if !ok {
		return nil, false
	}

	fire = make([]*Listener, 0, len(set.order))
	for _, reg := range set.order {
		fire = append(fire, reg.listener)
	}

	for _, l := range fire {
		if reg := set.index[l]; reg.once {
			set.remove(l)
			r.size--
		}
	}

	if len(set.order) == 0 {
		delete(r.events, name)
		emptied = true
	}

	return fire, emptied
}

func (r *Registry) Has(name string) bool {
	_, ok := r.events[name]
	return ok
}

func (r *Registry) Len(name string) int {
	set, ok := r.events[name]
	if !ok {
		return 0
	}
	return len(set.order)
}

// Names of every event with at least one listener, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.events))
	for name := range r.events {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Size is the number of registrations across every name.
func (r *Registry) Size() int {
	return r.size
}

// Clear drops everything and returns the names that had listeners.
func (r *Registry) Clear() []string {
	names := r.Names()
	r.events = make(map[string]*listenerSet)
	r.size = 0
	return names
}
