package redis

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/desain-gratis/realtime/repository/principal"
	"github.com/desain-gratis/realtime/repository/principal/inmemory"
)

type fakeClient struct {
	values map[string]string
	ttl    map[string]time.Duration
	down   bool
}

func newFakeClient() *fakeClient {
	return &fakeClient{
		values: make(map[string]string),
		ttl:    make(map[string]time.Duration),
	}
}

func (f *fakeClient) Get(ctx context.Context, key string) *redis.StringCmd {
	if f.down {
		return redis.NewStringResult("", errors.New("connection refused"))
	}
	v, ok := f.values[key]
	if !ok {
		return redis.NewStringResult("", redis.Nil)
	}
	return redis.NewStringResult(v, nil)
}

func (f *fakeClient) Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd {
	if f.down {
		return redis.NewStatusResult("", errors.New("connection refused"))
	}
	switch v := value.(type) {
	case []byte:
		f.values[key] = string(v)
	case string:
		f.values[key] = v
	}
	f.ttl[key] = expiration
	return redis.NewStatusResult("OK", nil)
}

type countingRepo struct {
	principal.Repository
	calls int
}

func (c *countingRepo) Get(ctx context.Context, userID string) (principal.Status, error) {
	c.calls++
	return c.Repository.Get(ctx, userID)
}

func TestHandler_ReadThrough(t *testing.T) {
	client := newFakeClient()
	next := &countingRepo{Repository: inmemory.New(principal.Status{
		UserID:      "42",
		Enabled:     true,
		Permissions: map[string]bool{"orders:read": true},
	})}
	h := New(client, next, "principal", time.Minute)

	for i := 0; i < 3; i++ {
		got, err := h.Get(context.Background(), "42")
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.UserID != "42" || !got.Permissions["orders:read"] {
			t.Errorf("Get() = %+v", got)
		}
	}

	if next.calls != 1 {
		t.Errorf("next called %v times, want 1", next.calls)
	}
	if ttl := client.ttl["principal|42"]; ttl != time.Minute {
		t.Errorf("cached with ttl %v, want %v", ttl, time.Minute)
	}
}

func TestHandler_Fallback(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(c *fakeClient)
	}{
		{"cache down", func(c *fakeClient) { c.down = true }},
		{"corrupt entry", func(c *fakeClient) { c.values["principal|42"] = "{" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := newFakeClient()
			tt.prepare(client)
			next := &countingRepo{Repository: inmemory.New(principal.Status{UserID: "42", Enabled: true})}
			h := New(client, next, "principal", time.Minute)

			got, err := h.Get(context.Background(), "42")
			if err != nil || got.UserID != "42" {
				t.Fatalf("Get() = %+v, %v", got, err)
			}
			if next.calls != 1 {
				t.Errorf("next called %v times, want 1", next.calls)
			}
		})
	}
}

func TestHandler_NotFound(t *testing.T) {
	client := newFakeClient()
	h := New(client, inmemory.New(), "principal", time.Minute)

	if _, err := h.Get(context.Background(), "missing"); !errors.Is(err, principal.ErrNotFound) {
		t.Errorf("Get() error = %v, want ErrNotFound", err)
	}
	if len(client.values) != 0 {
		t.Errorf("not found result was cached: %v", client.values)
	}
}
