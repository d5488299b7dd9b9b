package api

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// wsUpgrader upgrades admin-UI connections to the live event stream. Origin
// checking is left to the reverse proxy in front of this service, same as
// the rest of the API's CORS policy.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

const wsWriteTimeout = 10 * time.Second

// HandleWSEvents upgrades to a websocket and relays every join/uplink/
// downlink event published on the internal NATS bus to the client, for the
// admin UI's live event log. One NATS subscription per connection: fan-out
// across connections is NATS's job, not this handler's.
func (s *RESTServer) HandleWSEvents(w http.ResponseWriter, r *http.Request) {
	if s.nc == nil {
		s.respondError(w, http.StatusServiceUnavailable, "event stream unavailable: NATS not connected")
		return
	}

	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	msgs := make(chan *nats.Msg, 64)
	sub, err := s.nc.Subscribe("application.*.device.*.*", func(m *nats.Msg) {
		select {
		case msgs <- m:
		default:
			log.Warn().Str("subject", m.Subject).Msg("ws events client too slow, dropping message")
		}
	})
	if err != nil {
		log.Error().Err(err).Msg("subscribe to event bus for websocket client")
		return
	}
	defer sub.Unsubscribe()

	// readPump drains and discards client frames; its only job is noticing
	// the connection closed so the write loop below can exit.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-closed:
			return
		case m := <-msgs:
			conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, m.Data); err != nil {
				return
			}
		}
	}
}
