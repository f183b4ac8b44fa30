package eventsapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/coder/websocket"
	"github.com/julienschmidt/httprouter"
	"github.com/rs/zerolog/log"

	"github.com/desain-gratis/realtime/lib/eventhub"
	types "github.com/desain-gratis/realtime/types/http"
)

const tailBuffer = 256

type api struct {
	m *Manager
}

func NewAPI(m *Manager) *api {
	return &api{m: m}
}

// Websocket serves one connection until the client leaves or appCtx is done.
func (a *api) Websocket(appCtx context.Context) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if appCtx.Err() != nil {
			http.Error(w, "server is shutting down", http.StatusServiceUnavailable)
			return
		}

		principal := a.m.authenticate(r)

		ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: a.m.cfg.OriginPatterns,
		})
		if err != nil {
			log.Error().Msgf("error accept %v", err)
			return
		}

		ctx, cancel := context.WithCancel(appCtx)
		defer cancel()

		c := newConn(ctx, a.m, ws, principal)
		if !a.m.register(c) {
			c.shutdown(websocket.StatusGoingAway, "server is shutting down")
			return
		}
		defer a.m.wg.Done()

		go c.writePump(ctx)

		c.client.Emit(eventConnect)
		log.Debug().Str("conn", c.id).Msgf("websocket connected (user %q)", principal.UserID())

		err = c.readPump(ctx)
		if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
			log.Debug().Err(err).Str("conn", c.id).Msgf("read")
		}

		code := websocket.StatusNormalClosure
		if appCtx.Err() != nil {
			code = websocket.StatusGoingAway
		}
		c.shutdown(code, "bye bye")

		log.Debug().Str("conn", c.id).Msgf("websocket connection closed")
	}
}

type tailLine struct {
	Queue     string `json:"queue"`
	Name      string `json:"name"`
	Args      []any  `json:"args,omitempty"`
	Publisher string `json:"publisher,omitempty"`
}

// Tail streams every event published on the hub, one JSON document per line.
// For debugging; slow readers miss events.
func (a *api) Tail(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := make(chan eventhub.Event, tailBuffer)
	tap := eventhub.NewListener(func(ev eventhub.Event) {
		select {
		case ch <- ev:
		default:
		}
	})

	hub := a.m.Hub()
	hub.Forward(eventhub.AllQueues, tap)
	defer hub.Unforward(eventhub.AllQueues, tap)

	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case ev := <-ch:
			data, err := json.Marshal(tailLine{Queue: ev.Queue, Name: ev.Name, Args: ev.Args, Publisher: ev.Publisher})
			if err != nil {
				log.Err(err).Msgf("marshal tail %v", ev.Name)
				continue
			}

			if _, err := fmt.Fprintf(w, "%v\n", string(data)); err != nil {
				return
			}
			flusher.Flush()
		}
	}
}

type publishRequest struct {
	Queue     string `json:"queue"`
	Name      string `json:"name"`
	Args      []any  `json:"args"`
	Publisher string `json:"publisher"`
}

// Publish puts an event on the hub directly.
// For debugging only; it reaches consumers of this process and its relay.
func (a *api) Publish(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	b, err := io.ReadAll(r.Body)
	if err != nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	var req publishRequest
	if err := json.Unmarshal(b, &req); err != nil || req.Name == "" {
		w.WriteHeader(http.StatusBadRequest)
		w.Write(types.SerializeError(&types.CommonError{
			Errors: []types.Error{
				{HTTPCode: http.StatusBadRequest, Code: "INVALID_EVENT", Message: "Expected {queue, name, args}."},
			},
		}))
		return
	}

	if req.Queue == "" {
		req.Queue = OutgoingQueue
	}

	a.m.Hub().Publish(req.Queue, req.Name, req.Args, req.Publisher)
	w.WriteHeader(http.StatusAccepted)
}

type metrics struct {
	Connections int            `json:"connections"`
	Hub         eventhub.Stats `json:"hub"`
}

func (a *api) Metrics(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
	payload, err := json.Marshal(metrics{
		Connections: a.m.Count(),
		Hub:         a.m.Hub().Stats(),
	})
	if err != nil {
		http.Error(w, "failed to parse metric", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.Write(payload)
}
