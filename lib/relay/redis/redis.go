package redis

import (
	"context"

	"github.com/go-redis/redis/v8"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/lib/events"
	"github.com/desain-gratis/realtime/lib/relay"
)

const channelSize = 100

// Transport relays events between processes with redis PUBLISH / SUBSCRIBE.
type Transport struct {
	*relay.Remote

	client  *redis.Client
	channel string
}

func New(client *redis.Client, channel, origin string, opts ...relay.Option) *Transport {
	t := &Transport{
		client:  client,
		channel: channel,
	}
	t.Remote = relay.NewRemote(t, origin, opts...)
	return t
}

func (t *Transport) Send(ctx context.Context, payload []byte) error {
	return t.client.Publish(ctx, t.channel, payload).Err()
}

// Start subscribes to the channel and feeds inbound until ctx is done.
func (t *Transport) Start(ctx context.Context, inbound events.Inbound) error {
	sub := t.client.Subscribe(ctx, t.channel)
	defer sub.Close()

	// wait for the subscription confirmation before asking peers to announce
	if _, err := sub.Receive(ctx); err != nil {
		return err
	}

	t.Hello()

	ch := sub.ChannelWithSubscriptions(ctx, channelSize)
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				log.Warn().Msgf("redis relay channel %v closed", t.channel)
				return nil
			}
			t.handle(inbound, msg)
		}
	}
}

// handle takes one item of the subscription channel. go-redis resubscribes silently
// after a reconnect; the resubscription is the only sign messages may have been lost.
func (t *Transport) handle(inbound events.Inbound, msg interface{}) {
	switch m := msg.(type) {
	case *redis.Message:
		t.Receive(inbound, []byte(m.Payload))
	case *redis.Subscription:
		if m.Kind != "subscribe" {
			return
		}
		log.Info().Msgf("relay %v resubscribed, announcing", t.channel)
		t.Announce()
		t.Hello()
	}
}

// Close tells peers this process is gone. The redis client is owned by the caller.
func (t *Transport) Close() error {
	t.Leave()
	return nil
}
