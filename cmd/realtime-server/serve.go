package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	eventsapi "github.com/desain-gratis/realtime/delivery/events-api"
	"github.com/desain-gratis/realtime/lib/eventhub"
	"github.com/desain-gratis/realtime/lib/events"
	"github.com/desain-gratis/realtime/usecase/session"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve websocket connections",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	appCtx, appCancel := context.WithCancelCause(context.Background())
	defer appCancel(nil)

	s, err := loadSchema(cfg.Schema)
	if err != nil {
		return err
	}

	keys, err := newKeys(cfg.Principal)
	if err != nil {
		return err
	}

	repo, err := newRepository(appCtx, cfg.Principal)
	if err != nil {
		return err
	}

	auth := session.NewTokenAuthenticator(keys, repo, cfg.Principal.KeyID)

	hub := eventhub.New(eventhub.WithID(cfg.Hub.ID))
	log.Info().Msgf("hub id: %v", hub.ID())

	m := eventsapi.NewManager(hub, s,
		eventsapi.WithConfig(eventsapi.Config{
			OriginPatterns:  cfg.HTTP.OriginPatterns,
			QueueSize:       cfg.HTTP.QueueSize,
			RefreshInterval: cfg.HTTP.RefreshInterval,
			WriteTimeout:    cfg.HTTP.WriteTimeout,
			PingInterval:    cfg.HTTP.PingInterval,
			MaxMessageSize:  cfg.HTTP.MaxMessageSize,
		}),
		eventsapi.WithAuthenticate(func(r *http.Request) eventsapi.Principal {
			return auth.Authenticate(r)
		}),
	)

	a := eventsapi.NewAPI(m)
	router := httprouter.New()
	router.GET("/ws", a.Websocket(appCtx))
	router.GET("/metrics", a.Metrics)
	if cfg.HTTP.Debug {
		router.GET("/tail", a.Tail)
		router.POST("/publish", a.Publish)
	}

	// global cors handling
	router.HandleOPTIONS = true
	router.GlobalOPTIONS = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	withCors := func(router http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := w.Header()
			header.Set("Access-Control-Allow-Methods", header.Get("Allow"))
			header.Set("Access-Control-Allow-Origin", "*")
			header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
			router.ServeHTTP(w, r)
		})
	}

	server := http.Server{
		Addr:        cfg.HTTP.Address,
		Handler:     withCors(router),
		ReadTimeout: cfg.HTTP.ReadTimeout,

		// no WriteTimeout, websocket connections are long running

		BaseContext: func(l net.Listener) context.Context {
			return appCtx
		},
	}

	g, gctx := errgroup.WithContext(appCtx)

	transport, err := newRelay(cfg.Relay, hub.ID())
	if err != nil {
		return err
	}
	if transport != nil {
		relayClient := events.New(
			events.WithID("relay-"+hub.ID()),
			events.WithRemote(transport),
		)
		err := relayClient.Link(hub, events.LinkOptions{
			Send: map[string]string{
				"":   eventsapi.OutgoingQueue,
				"in": eventsapi.IncomingQueue,
			},
			Receive: map[string]events.Route{
				eventsapi.OutgoingQueue: {},
				eventsapi.IncomingQueue: {Prefix: "in"},
			},
		})
		if err != nil {
			return err
		}

		g.Go(func() error {
			log.Info().Msgf("relay started (%v, origin %v)", cfg.Relay.Driver, transport.Origin())
			return transport.Start(gctx, relayClient)
		})
	}

	g.Go(func() error {
		log.Info().Msgf("Serving at %v..", cfg.HTTP.Address)
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(sig)

		select {
		case <-sig:
			log.Info().Msgf("SIGINT RECEIVED")
		case <-gctx.Done():
		}

		appCancel(errors.New("server is shutting down"))

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()

		log.Info().Msgf("Shutting down HTTP server..")
		if err := server.Shutdown(ctx); err != nil {
			log.Err(err).Msgf("HTTP server Shutdown")
		}

		log.Info().Msgf("Waiting for websocket connection to close..")
		m.Close()

		if transport != nil {
			if err := transport.Close(); err != nil {
				log.Err(err).Msgf("close relay")
			}
		}

		return nil
	})

	err = g.Wait()
	log.Info().Msgf("Bye bye")
	return err
}
