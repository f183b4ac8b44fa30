package cached

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
	"golang.org/x/sync/singleflight"

	"github.com/desain-gratis/realtime/repository/principal"
)

var _ principal.Repository = &handler{}

// handler keeps statuses in process memory for ttl. Concurrent misses for the same
// user share one call to the underlying repository.
type handler struct {
	next  principal.Repository
	cache *cache.Cache
	group singleflight.Group
}

func New(next principal.Repository, ttl time.Duration) *handler {
	return &handler{
		next:  next,
		cache: cache.New(ttl, 2*ttl),
	}
}

func (h *handler) Get(ctx context.Context, userID string) (principal.Status, error) {
	if v, ok := h.cache.Get(userID); ok {
		return v.(principal.Status), nil
	}

	v, err, _ := h.group.Do(userID, func() (interface{}, error) {
		status, err := h.next.Get(ctx, userID)
		if err != nil {
			return nil, err
		}
		h.cache.SetDefault(userID, status)
		return status, nil
	})
	if err != nil {
		return principal.Status{}, err
	}

	return v.(principal.Status), nil
}

func (h *handler) Invalidate(userID string) {
	h.cache.Delete(userID)
}
