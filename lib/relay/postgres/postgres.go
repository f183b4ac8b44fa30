package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/lib/events"
	"github.com/desain-gratis/realtime/lib/relay"
)

// MaxPayload is the NOTIFY payload limit of a default postgres build.
const MaxPayload = 8000

const pingInterval = 90 * time.Second

var (
	ErrPayloadTooLarge = errors.New("notify payload too large")
)

// Transport relays events between processes with LISTEN / NOTIFY.
type Transport struct {
	*relay.Remote

	db       *sqlx.DB
	listener *pq.Listener
	channel  string
}

func New(db *sqlx.DB, listener *pq.Listener, channel, origin string, opts ...relay.Option) *Transport {
	t := &Transport{
		db:       db,
		listener: listener,
		channel:  channel,
	}
	t.Remote = relay.NewRemote(t, origin, opts...)
	return t
}

func (t *Transport) Send(ctx context.Context, payload []byte) error {
	if len(payload) > MaxPayload {
		return fmt.Errorf("%w: %v bytes", ErrPayloadTooLarge, len(payload))
	}

	_, err := t.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", t.channel, string(payload))
	return err
}

// Start listens on the channel and feeds inbound until ctx is done.
func (t *Transport) Start(ctx context.Context, inbound events.Inbound) error {
	if err := t.listener.Listen(t.channel); err != nil {
		return err
	}
	defer func() {
		if err := t.listener.Unlisten(t.channel); err != nil {
			log.Warn().Err(err).Msgf("failed to unlisten %v", t.channel)
		}
	}()

	t.Hello()

	for {
		select {
		case <-ctx.Done():
			return nil
		case n := <-t.listener.Notify:
			if n == nil {
				// reconnected, notifications may have been lost
				log.Info().Msgf("relay %v reconnected, announcing", t.channel)
				t.Announce()
				t.Hello()
				continue
			}
			t.Receive(inbound, []byte(n.Extra))
		case <-time.After(pingInterval):
			go func() {
				if err := t.listener.Ping(); err != nil {
					log.Warn().Err(err).Msgf("postgres listener ping")
				}
			}()
		}
	}
}

// Close tells peers this process is gone.
func (t *Transport) Close() error {
	t.Leave()
	return t.listener.Close()
}
