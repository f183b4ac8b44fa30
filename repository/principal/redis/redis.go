package redis

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/repository/principal"
)

var _ principal.Repository = &handler{}

// Client is the part of *redis.Client the cache uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
}

// handler is a read-through cache shared by every process in front of another repository.
type handler struct {
	client Client
	next   principal.Repository
	prefix string
	ttl    time.Duration
}

func New(client Client, next principal.Repository, prefix string, ttl time.Duration) *handler {
	return &handler{
		client: client,
		next:   next,
		prefix: prefix,
		ttl:    ttl,
	}
}

func (h *handler) key(userID string) string {
	return h.prefix + "|" + userID
}

func (h *handler) Get(ctx context.Context, userID string) (principal.Status, error) {
	str := h.client.Get(ctx, h.key(userID))
	if str.Err() == nil {
		var status principal.Status
		if err := json.Unmarshal([]byte(str.Val()), &status); err == nil {
			return status, nil
		}
		log.Warn().Msgf("corrupt cached principal %v", userID)
	} else if str.Err() != redis.Nil {
		log.Warn().Err(str.Err()).Msgf("principal cache unavailable")
	}

	status, err := h.next.Get(ctx, userID)
	if err != nil {
		return principal.Status{}, err
	}

	b, err := json.Marshal(status)
	if err != nil {
		return status, nil
	}
	if err := h.client.Set(ctx, h.key(userID), b, h.ttl).Err(); err != nil {
		log.Warn().Err(err).Msgf("failed to cache principal %v", userID)
	}

	return status, nil
}
