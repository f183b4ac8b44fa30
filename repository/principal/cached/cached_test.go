package cached

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/desain-gratis/realtime/repository/principal"
)

type countingRepo struct {
	calls   atomic.Int32
	release chan struct{}
}

func (c *countingRepo) Get(ctx context.Context, userID string) (principal.Status, error) {
	c.calls.Add(1)
	if c.release != nil {
		<-c.release
	}
	if userID == "missing" {
		return principal.Status{}, principal.ErrNotFound
	}
	return principal.Status{UserID: userID, Enabled: true}, nil
}

func TestHandler_Caches(t *testing.T) {
	repo := &countingRepo{}
	h := New(repo, time.Minute)

	for i := 0; i < 3; i++ {
		got, err := h.Get(context.Background(), "42")
		if err != nil || got.UserID != "42" {
			t.Fatalf("Get() = %+v, %v", got, err)
		}
	}
	if n := repo.calls.Load(); n != 1 {
		t.Errorf("repository called %v times, want 1", n)
	}

	h.Invalidate("42")
	h.Get(context.Background(), "42")
	if n := repo.calls.Load(); n != 2 {
		t.Errorf("repository called %v times after Invalidate, want 2", n)
	}
}

func TestHandler_NotFoundIsNotCached(t *testing.T) {
	repo := &countingRepo{}
	h := New(repo, time.Minute)

	for i := 0; i < 2; i++ {
		if _, err := h.Get(context.Background(), "missing"); !errors.Is(err, principal.ErrNotFound) {
			t.Errorf("Get() error = %v, want ErrNotFound", err)
		}
	}
	if n := repo.calls.Load(); n != 2 {
		t.Errorf("repository called %v times, want 2", n)
	}
}

func TestHandler_CollapsesConcurrentMisses(t *testing.T) {
	repo := &countingRepo{release: make(chan struct{})}
	h := New(repo, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			h.Get(context.Background(), "42")
		}()
	}

	// let the goroutines pile up on the in-flight call
	time.Sleep(50 * time.Millisecond)
	close(repo.release)
	wg.Wait()

	if n := repo.calls.Load(); n > 2 {
		t.Errorf("repository called %v times, want collapsed calls", n)
	}
}
