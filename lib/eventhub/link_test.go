package eventhub

import (
	"errors"
	"reflect"
	"testing"
)

func TestHub_LinkSend(t *testing.T) {
	a := New(WithID("a"))
	b := New(WithID("b"))

	var rec recorder
	b.On("y", "orders", rec.listener())

	if err := a.Link(b, LinkSpec{Send: map[string]string{"x": "y"}}); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	a.Publish("x", "orders", []any{42}, "publisher")

	if len(rec.events) != 1 {
		t.Fatalf("peer got %v events, want 1", len(rec.events))
	}
	got := rec.events[0]
	if got.Queue != "y" || got.Publisher != "publisher" || !reflect.DeepEqual(got.Via, []string{"a"}) {
		t.Errorf("relayed event = %+v", got)
	}

	a.Unlink(b)
	a.Publish("x", "orders", []any{42}, "publisher")

	if len(rec.events) != 1 {
		t.Errorf("peer still receives after Unlink")
	}
	if a.Stats().Queues["x"].Forwarders != 0 {
		t.Errorf("forwarder left on a after Unlink")
	}
}

func TestHub_LinkRecv(t *testing.T) {
	a := New(WithID("a"))
	b := New(WithID("b"))

	var rec recorder
	a.On("local", "orders", rec.listener())

	if err := a.Link(b, LinkSpec{Recv: map[string]string{"local": "remote"}}); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	b.Publish("remote", "orders", nil, "p")
	a.Publish("remote", "orders", nil, "p")

	if !reflect.DeepEqual(rec.names(), []string{"orders"}) {
		t.Errorf("local got %v", rec.names())
	}

	b.Unlink(a)
	b.Publish("remote", "orders", nil, "p")

	if len(rec.events) != 1 {
		t.Errorf("local still receives after Unlink from the peer side")
	}
	if a.Linked(b) || b.Linked(a) {
		t.Errorf("hubs still linked")
	}
}

func TestHub_LinkTwice(t *testing.T) {
	a := New()
	b := New()

	if err := a.Link(b, LinkSpec{}); err != nil {
		t.Fatalf("Link() error = %v", err)
	}
	if err := a.Link(b, LinkSpec{}); !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("second Link() error = %v, want ErrAlreadyLinked", err)
	}
	if err := b.Link(a, LinkSpec{}); !errors.Is(err, ErrAlreadyLinked) {
		t.Errorf("reverse Link() error = %v, want ErrAlreadyLinked", err)
	}
	if err := a.Link(a, LinkSpec{}); !errors.Is(err, ErrSelfLink) {
		t.Errorf("self Link() error = %v, want ErrSelfLink", err)
	}

	a.Unlink(b)
	a.Unlink(b)
	if err := b.Link(a, LinkSpec{}); err != nil {
		t.Errorf("Link() after Unlink error = %v", err)
	}
}

func TestHub_LinkLoop(t *testing.T) {
	a := New(WithID("a"))
	b := New(WithID("b"))

	if err := a.Link(b, LinkSpec{
		Send: map[string]string{"q": "q"},
		Recv: map[string]string{"q": "q"},
	}); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	var recA, recB recorder
	a.On("q", "ping", recA.listener())
	b.On("q", "ping", recB.listener())

	a.Publish("q", "ping", nil, "p")

	if len(recA.events) != 1 || len(recB.events) != 1 {
		t.Errorf("a got %v, b got %v, want 1 each", len(recA.events), len(recB.events))
	}
}

func TestHub_LinkSendOnListen(t *testing.T) {
	a := New(WithID("a"))
	b := New(WithID("b"))

	var early recorder
	earlyListener := early.listener()
	b.On("y", "early", earlyListener)

	if err := a.Link(b, LinkSpec{SendOnListen: map[string]string{"x": "y"}}); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	// existing peer interest is bound at link time
	if !a.HasListeners("x", "early") {
		t.Errorf("no relay listener for a name the peer listened before Link")
	}
	if a.HasListeners("x", "orders") {
		t.Errorf("relay listener bound without peer interest")
	}

	var rec recorder
	l := rec.listener()
	b.On("y", "orders", l)

	if !a.HasListeners("x", "orders") {
		t.Fatalf("peer subscribe did not bind a relay listener")
	}

	a.Publish("x", "orders", nil, "p")
	a.Publish("x", "early", nil, "p")
	if len(rec.events) != 1 || len(early.events) != 1 {
		t.Errorf("orders got %v, early got %v, want 1 each", len(rec.events), len(early.events))
	}

	b.Off("y", "orders", l)
	if a.HasListeners("x", "orders") {
		t.Errorf("relay listener kept after peer unsubscribe")
	}

	a.Unlink(b)
	if a.ListenerCount("x") != 0 {
		t.Errorf("ListenerCount(x) = %v after Unlink, want 0", a.ListenerCount("x"))
	}
	if b.Stats().Queues["y"].Watchers != 0 {
		t.Errorf("watcher left on peer after Unlink")
	}
}

func TestHub_LinkRecvOnListen(t *testing.T) {
	a := New(WithID("a"))
	b := New(WithID("b"))

	if err := a.Link(b, LinkSpec{RecvOnListen: map[string]string{"local": "remote"}}); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	if b.ListenerCount("remote") != 0 {
		t.Errorf("peer has listeners without local interest")
	}

	var rec recorder
	l := rec.listener()
	a.On("local", "orders", l)

	if !b.HasListeners("remote", "orders") {
		t.Fatalf("local subscribe did not fetch from the peer")
	}

	b.Publish("remote", "orders", nil, "p")
	b.Publish("remote", "users", nil, "p")
	if !reflect.DeepEqual(rec.names(), []string{"orders"}) {
		t.Errorf("local got %v", rec.names())
	}

	a.Off("local", "orders", l)
	if b.HasListeners("remote", "orders") {
		t.Errorf("peer listener kept after local unsubscribe")
	}

	a.On("local", "orders", l)
	a.UnlinkAll()
	if b.ListenerCount("remote") != 0 {
		t.Errorf("peer listeners left after UnlinkAll")
	}
}

func TestHub_LinkRecvOnListenSharedSource(t *testing.T) {
	a := New(WithID("a"))
	b := New(WithID("b"))

	if err := a.Link(b, LinkSpec{RecvOnListen: map[string]string{"x": "y", "z": "y"}}); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	var recX, recZ recorder
	lx, lz := recX.listener(), recZ.listener()
	a.On("x", "n", lx)
	a.On("z", "n", lz)

	b.Publish("y", "n", nil, "p")
	if len(recX.names()) != 1 || len(recZ.names()) != 1 {
		t.Fatalf("x got %v, z got %v, want one each", recX.names(), recZ.names())
	}

	// dropping one destination keeps the other relay
	a.Off("x", "n", lx)
	b.Publish("y", "n", nil, "p")
	if len(recX.names()) != 1 || len(recZ.names()) != 2 {
		t.Errorf("after Off: x got %v, z got %v", recX.names(), recZ.names())
	}

	a.Off("z", "n", lz)
	if b.HasListeners("y", "n") {
		t.Errorf("peer listener kept after every destination unsubscribed")
	}
}

func TestHub_LinkWatch(t *testing.T) {
	a := New()
	b := New()

	if err := a.Link(b, LinkSpec{Watch: map[string]string{"local": "remote"}}); err != nil {
		t.Fatalf("Link() error = %v", err)
	}

	var w watchRecorder
	b.Watch("remote", w.watcher())

	var rec recorder
	l := rec.listener()
	a.On("local", "orders", l)
	a.Publish("local", "orders", nil, "p")
	a.Off("local", "orders", l)

	want := []WatchEvent{
		{Queue: "remote", Name: "orders", Kind: Subscribe},
		{Queue: "remote", Name: "orders", Kind: Unsubscribe},
	}
	if !reflect.DeepEqual(w.events, want) {
		t.Errorf("peer watch events = %v, want %v", w.events, want)
	}
	if b.ListenerCount("remote") != 0 {
		t.Errorf("watch link must not forward data")
	}
}
