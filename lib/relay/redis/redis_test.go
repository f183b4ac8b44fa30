package redis

import (
	"context"
	"reflect"
	"testing"

	"github.com/go-redis/redis/v8"

	"github.com/desain-gratis/realtime/lib/eventhub"
	"github.com/desain-gratis/realtime/lib/events"
	"github.com/desain-gratis/realtime/lib/relay"
)

type sender struct {
	sent []relay.Message
}

func (s *sender) Send(ctx context.Context, payload []byte) error {
	msg, err := relay.Decode(payload)
	if err != nil {
		return err
	}
	s.sent = append(s.sent, msg)
	return nil
}

func (s *sender) types() []relay.Type {
	var result []relay.Type
	for _, msg := range s.sent {
		result = append(result, msg.Type)
	}
	return result
}

func newTestTransport() (*Transport, *sender) {
	s := &sender{}
	t := &Transport{channel: "realtime_events"}
	t.Remote = relay.NewRemote(s, "a")
	return t, s
}

func TestTransport_Resubscribe(t *testing.T) {
	tr, s := newTestTransport()
	c := events.New(events.WithRemote(tr))
	c.On("orders", eventhub.NewListener(func(eventhub.Event) {}))

	s.sent = nil
	tr.handle(c, &redis.Subscription{Kind: "subscribe", Channel: "realtime_events", Count: 1})

	want := []relay.Type{relay.TypeSubscribe, relay.TypeHello}
	if !reflect.DeepEqual(s.types(), want) {
		t.Fatalf("sent %v, want %v", s.types(), want)
	}
	if s.sent[0].Name != "orders" {
		t.Errorf("announced %v, want orders", s.sent[0].Name)
	}

	s.sent = nil
	tr.handle(c, &redis.Subscription{Kind: "unsubscribe", Channel: "realtime_events"})
	if len(s.sent) != 0 {
		t.Errorf("unsubscribe confirmation sent %v", s.types())
	}
}

func TestTransport_Message(t *testing.T) {
	tr, _ := newTestTransport()
	c := events.New(events.WithRemote(tr))

	var got []eventhub.Event
	c.On("orders", eventhub.NewListener(func(ev eventhub.Event) {
		got = append(got, ev)
	}))

	payload, err := relay.Encode(relay.Message{Type: relay.TypePublish, Origin: "b", Name: "orders", Args: []any{"x"}, Publisher: "p"})
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	tr.handle(c, &redis.Message{Channel: "realtime_events", Payload: string(payload)})
	tr.handle(c, &redis.Message{Channel: "realtime_events", Payload: "not json"})

	if len(got) != 1 || got[0].Publisher != "p" || !reflect.DeepEqual(got[0].Args, []any{"x"}) {
		t.Errorf("got %+v", got)
	}
}
