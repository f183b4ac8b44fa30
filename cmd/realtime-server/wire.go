package main

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/lib/events"
	"github.com/desain-gratis/realtime/lib/relay"
	relaypg "github.com/desain-gratis/realtime/lib/relay/postgres"
	relayredis "github.com/desain-gratis/realtime/lib/relay/redis"
	"github.com/desain-gratis/realtime/lib/schema"
	"github.com/desain-gratis/realtime/repository/principal"
	"github.com/desain-gratis/realtime/repository/principal/cached"
	"github.com/desain-gratis/realtime/repository/principal/inmemory"
	pgprincipal "github.com/desain-gratis/realtime/repository/principal/postgres"
	redisprincipal "github.com/desain-gratis/realtime/repository/principal/redis"
	"github.com/desain-gratis/realtime/utility/pg"
	jwthmac "github.com/desain-gratis/realtime/utility/secret/hmac"
	"github.com/desain-gratis/realtime/utility/secret/hmac/hardcode"
)

type relayTransport interface {
	events.Remote
	Origin() string
	Start(ctx context.Context, inbound events.Inbound) error
	Close() error
}

func loadSchema(c SchemaConfig) (*schema.Schema, error) {
	s := schema.New(c.AllowAllEvents, c.Emits...)
	if c.Dir != "" {
		loaded, err := schema.LoadDir(c.Dir)
		if err != nil {
			return nil, fmt.Errorf("loading schema: %w", err)
		}
		loaded.AllowAllEvents = loaded.AllowAllEvents || c.AllowAllEvents
		for _, name := range c.Emits {
			loaded.Emits[name] = struct{}{}
		}
		s = loaded
	}
	s.Development = c.Development

	log.Info().Msgf("schema: allow all %v, events %v", s.AllowAllEvents, s.Names())
	return s, nil
}

func newKeys(c PrincipalConfig) (jwthmac.Utility, error) {
	keys := hardcode.New()

	secret := c.Secret
	if secret == "" {
		secret = uuid.NewString()
		log.Warn().Msgf("principal.secret is empty, tokens will not survive a restart")
	}

	if err := keys.Store(c.KeyID, secret); err != nil {
		return nil, err
	}
	return keys, nil
}

func newRepository(ctx context.Context, c PrincipalConfig) (principal.Repository, error) {
	var repo principal.Repository

	if c.Postgres.DSN != "" {
		db, err := pg.GetConnection(c.Postgres.DSN)
		if err != nil {
			return nil, fmt.Errorf("connecting principal database: %w", err)
		}
		pgRepo := pgprincipal.New(db, c.Postgres.Table, c.Postgres.TimeoutMs)
		if err := pgRepo.Migrate(ctx); err != nil {
			return nil, fmt.Errorf("migrating principal table: %w", err)
		}
		repo = pgRepo
	} else {
		mem := inmemory.New()
		for _, u := range c.Users {
			mem.Put(u.Status())
		}
		repo = mem
		log.Info().Msgf("using in-memory principals (%v users)", len(c.Users))
	}

	if c.Redis.Address != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		repo = redisprincipal.New(client, repo, "principal", c.Redis.TTL)
	}

	if c.CacheTTL > 0 {
		repo = cached.New(repo, c.CacheTTL)
	}

	return repo, nil
}

func newRelay(c RelayConfig, origin string) (relayTransport, error) {
	opts := []relay.Option{relay.WithTimeout(c.Timeout)}

	switch c.Driver {
	case "", "none":
		return nil, nil
	case "postgres":
		db, err := pg.GetConnection(c.Postgres)
		if err != nil {
			return nil, fmt.Errorf("connecting relay database: %w", err)
		}
		return relaypg.New(db, pg.NewListener(c.Postgres), c.Channel, origin, opts...), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     c.Redis.Address,
			Password: c.Redis.Password,
			DB:       c.Redis.DB,
		})
		return relayredis.New(client, c.Channel, origin, opts...), nil
	default:
		return nil, fmt.Errorf("unknown relay driver %q", c.Driver)
	}
}
