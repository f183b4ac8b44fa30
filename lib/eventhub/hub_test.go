package eventhub

import (
	"reflect"
	"testing"
)

type recorder struct {
	events []Event
}

func (r *recorder) listener() *Listener {
	return NewListener(func(ev Event) {
		r.events = append(r.events, ev)
	})
}

func (r *recorder) names() []string {
	var names []string
	for _, ev := range r.events {
		names = append(names, ev.Name)
	}
	return names
}

type watchRecorder struct {
	events []WatchEvent
}

func (w *watchRecorder) watcher() *Watcher {
	return NewWatcher(func(ev WatchEvent) {
		w.events = append(w.events, ev)
	})
}

func TestHub_Publish(t *testing.T) {
	h := New(WithID("hub"))

	var rec recorder
	h.On("app", "orders", rec.listener())

	h.Publish("app", "orders", []any{1, "a"}, "someone")
	h.Publish("app", "users", nil, "someone")
	h.Publish("other", "orders", nil, "someone")

	if len(rec.events) != 1 {
		t.Fatalf("got %v events, want 1", len(rec.events))
	}
	got := rec.events[0]
	if got.Queue != "app" || got.Name != "orders" || got.Publisher != "someone" {
		t.Errorf("Publish() event = %+v", got)
	}
	if !reflect.DeepEqual(got.Args, []any{1, "a"}) {
		t.Errorf("Publish() args = %v", got.Args)
	}
	if got.Memo == nil {
		t.Errorf("Publish() memo is nil")
	}
}

func TestHub_PublishOwnID(t *testing.T) {
	h := New(WithID("hub"))

	var rec, fwd recorder
	h.On("app", "orders", rec.listener())
	h.Forward("app", fwd.listener())

	h.Publish("app", "orders", nil, "hub")

	if len(rec.events) != 0 || len(fwd.events) != 0 {
		t.Errorf("hub dispatched an event published with its own id")
	}
}

func TestHub_InsertionOrder(t *testing.T) {
	h := New()

	var order []int
	for i := 0; i < 5; i++ {
		i := i
		h.On("app", "orders", NewListener(func(Event) { order = append(order, i) }))
	}

	h.Publish("app", "orders", nil, "")

	want := []int{0, 1, 2, 3, 4}
	if !reflect.DeepEqual(order, want) {
		t.Errorf("dispatch order = %v, want %v", order, want)
	}
}

func TestHub_Once(t *testing.T) {
	h := New()

	var rec recorder
	h.Once("app", "orders", rec.listener())

	h.Publish("app", "orders", nil, "")
	if h.HasListeners("app", "orders") {
		t.Errorf("once listener still registered after firing")
	}
	h.Publish("app", "orders", nil, "")

	if len(rec.events) != 1 {
		t.Errorf("once listener fired %v times, want 1", len(rec.events))
	}
}

func TestHub_OnceRemovedBeforeInvoke(t *testing.T) {
	h := New()

	calls := 0
	var l *Listener
	l = NewListener(func(Event) {
		calls++
		if h.HasListeners("app", "orders") {
			t.Errorf("once listener visible during its own invocation")
		}
		// re-entrant publish must not fire l again
		h.Publish("app", "orders", nil, "")
	})
	h.Once("app", "orders", l)

	h.Publish("app", "orders", nil, "")

	if calls != 1 {
		t.Errorf("calls = %v, want 1", calls)
	}
}

func TestHub_IdempotentRegistration(t *testing.T) {
	h := New()

	var rec recorder
	l := rec.listener()
	h.On("app", "orders", l)
	h.On("app", "orders", l)

	h.Publish("app", "orders", nil, "")

	if len(rec.events) != 1 {
		t.Errorf("listener fired %v times, want 1", len(rec.events))
	}
	if got := h.ListenerCount("app"); got != 1 {
		t.Errorf("ListenerCount() = %v, want 1", got)
	}
}

func TestHub_Watch(t *testing.T) {
	h := New()

	var w watchRecorder
	h.Watch("app", w.watcher())

	a := NewListener(func(Event) {})
	b := NewListener(func(Event) {})

	h.On("app", "orders", a)
	h.On("app", "orders", b)
	h.Off("app", "orders", a)
	h.Off("app", "orders", b)
	h.Off("app", "orders", b)
	h.On("other", "orders", a)

	want := []WatchEvent{
		{Queue: "app", Name: "orders", Kind: Subscribe},
		{Queue: "app", Name: "orders", Kind: Unsubscribe},
	}
	if !reflect.DeepEqual(w.events, want) {
		t.Errorf("watch events = %v, want %v", w.events, want)
	}
}

func TestHub_WatchOnceFired(t *testing.T) {
	h := New()

	var w watchRecorder
	h.Watch("app", w.watcher())
	h.Once("app", "orders", NewListener(func(Event) {}))
	h.Publish("app", "orders", nil, "")

	want := []WatchEvent{
		{Queue: "app", Name: "orders", Kind: Subscribe},
		{Queue: "app", Name: "orders", Kind: Unsubscribe},
	}
	if !reflect.DeepEqual(w.events, want) {
		t.Errorf("watch events = %v, want %v", w.events, want)
	}
}

func TestHub_Unwatch(t *testing.T) {
	h := New()

	var w watchRecorder
	watcher := w.watcher()
	h.Watch("app", watcher)
	h.Unwatch("app", watcher)

	h.On("app", "orders", NewListener(func(Event) {}))

	if len(w.events) != 0 {
		t.Errorf("watcher notified after Unwatch")
	}
}

func TestHub_Forward(t *testing.T) {
	h := New()

	var queue, all recorder
	h.Forward("app", queue.listener())
	h.Forward(AllQueues, all.listener())

	// no listener at all, forward still happens
	h.Publish("app", "orders", nil, "p")
	h.Publish("other", "users", nil, "p")

	if !reflect.DeepEqual(queue.names(), []string{"orders"}) {
		t.Errorf("queue forwarder got %v", queue.names())
	}
	if !reflect.DeepEqual(all.names(), []string{"orders", "users"}) {
		t.Errorf("wildcard forwarder got %v", all.names())
	}
}

func TestHub_OffAll(t *testing.T) {
	h := New()

	var w watchRecorder
	h.Watch("app", w.watcher())

	h.On("app", "a", NewListener(func(Event) {}))
	h.On("app", "b", NewListener(func(Event) {}))
	w.events = nil

	h.OffAll("app")

	if h.ListenerCount("app") != 0 {
		t.Errorf("ListenerCount() = %v after OffAll", h.ListenerCount("app"))
	}
	if len(w.events) != 2 {
		t.Errorf("got %v unsubscribe notifications, want 2", len(w.events))
	}
}

func TestHub_ReentrantPublish(t *testing.T) {
	h := New()

	var rec recorder
	h.On("app", "inner", rec.listener())
	h.On("app", "outer", NewListener(func(ev Event) {
		h.Publish("app", "inner", ev.Args, "")
		h.On("app", "late", NewListener(func(Event) {}))
	}))

	h.Publish("app", "outer", []any{"x"}, "")

	if len(rec.events) != 1 {
		t.Errorf("nested publish fired %v times, want 1", len(rec.events))
	}
	if !h.HasListeners("app", "late") {
		t.Errorf("listener registered from inside dispatch is missing")
	}
}

func TestHub_MemoSharedPerPass(t *testing.T) {
	h := New()

	var memos []*Memo
	for i := 0; i < 3; i++ {
		h.On("app", "orders", NewListener(func(ev Event) { memos = append(memos, ev.Memo) }))
	}

	h.Publish("app", "orders", nil, "")
	h.Publish("app", "orders", nil, "")

	if memos[0] != memos[1] || memos[1] != memos[2] {
		t.Errorf("listeners of one pass got different memos")
	}
	if memos[0] == memos[3] {
		t.Errorf("two passes share one memo")
	}
}

func TestHub_Stats(t *testing.T) {
	h := New(WithID("hub"))
	h.On("app", "a", NewListener(func(Event) {}))
	h.On("app", "b", NewListener(func(Event) {}))
	h.Watch("app", NewWatcher(func(WatchEvent) {}))

	got := h.Stats()
	want := QueueStats{Names: 2, Listeners: 2, Watchers: 1}
	if got.ID != "hub" || !reflect.DeepEqual(got.Queues["app"], want) {
		t.Errorf("Stats() = %+v", got)
	}
}
