package inmemory

import (
	"context"
	"maps"
	"sync"

	"github.com/desain-gratis/realtime/repository/principal"
)

var _ principal.Repository = &handler{}

type handler struct {
	lock *sync.RWMutex
	data map[string]principal.Status
}

func New(statuses ...principal.Status) *handler {
	h := &handler{
		lock: &sync.RWMutex{},
		data: make(map[string]principal.Status),
	}
	for _, s := range statuses {
		h.Put(s)
	}
	return h
}

func (h *handler) Put(s principal.Status) {
	h.lock.Lock()
	defer h.lock.Unlock()

	s.Permissions = maps.Clone(s.Permissions)
	h.data[s.UserID] = s
}

func (h *handler) Delete(userID string) {
	h.lock.Lock()
	defer h.lock.Unlock()

	delete(h.data, userID)
}

func (h *handler) Get(ctx context.Context, userID string) (principal.Status, error) {
	h.lock.RLock()
	defer h.lock.RUnlock()

	s, ok := h.data[userID]
	if !ok {
		return principal.Status{}, principal.ErrNotFound
	}
	s.Permissions = maps.Clone(s.Permissions)
	return s, nil
}
