package webapp

import (
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/he"
	"github.com/ts4z/floorman/permission"
	"github.com/ts4z/floorman/urlpath"
	"github.com/ts4z/floorman/varz"
)

var (
	listenersOpened = varz.NewInt("listenersOpened")
	listenersClosed = varz.NewInt("listenersClosed")
	listenStalled   = varz.NewInt("listenStalled")
	listenWriteErrs = varz.NewInt("listenWriteErrors")
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

// listenTopics works out what a listen request may subscribe to.  Anyone
// can follow a tournament or a club; a user feed is only for that user.
func listenTopics(r *http.Request) ([]gossip.Topic, error) {
	var topics []gossip.Topic
	for _, p := range []struct {
		name  string
		topic func(uuid.UUID) gossip.Topic
	}{
		{"tournament", gossip.TournamentTopic},
		{"club", gossip.ClubTopic},
		{"user", gossip.UserTopic},
	} {
		id, err := urlpath.UUIDQuery(r, p.name)
		if err != nil {
			return nil, err
		}
		if id == uuid.Nil {
			continue
		}
		if p.name == "user" {
			self, ok := permission.UserID(r.Context())
			if !ok {
				return nil, he.New(http.StatusUnauthorized, permission.ErrUnauthenticated)
			}
			if self != id {
				return nil, he.HTTPCodedErrorf(http.StatusForbidden, "%v: can only listen to your own user feed", permission.ErrPermissionDenied)
			}
		}
		topics = append(topics, p.topic(id))
	}
	if len(topics) == 0 {
		return nil, he.HTTPCodedErrorf(http.StatusBadRequest, "nothing to listen to; need tournament, club or user")
	}
	return topics, nil
}

// handleListen upgrades to a websocket and forwards events for the
// requested topics until the client goes away, the server shuts down, or the
// registry gives up on a slow reader.
func (app *App) handleListen(w http.ResponseWriter, r *http.Request) {
	topics, err := listenTopics(r)
	if err != nil {
		sendError(w, "listen", err)
		return
	}
	// Subscribe first, so nothing published after the handshake is missed.
	sub := app.registry.Subscribe(topics...)
	defer sub.Close()

	conn, err := app.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already answered the client.
		log.Debug().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	listenersOpened.Add(1)
	defer listenersClosed.Add(1)

	// Reads are only for control frames and noticing the client leave.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		conn.SetReadLimit(512)
		conn.SetReadDeadline(time.Now().Add(pongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(pongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(pingPeriod)
	defer ping.Stop()
	ctx := r.Context()
	for {
		select {
		case ev, ok := <-sub.C():
			if !ok {
				listenStalled.Add(1)
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "too slow"),
					time.Now().Add(writeWait))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				listenWriteErrs.Add(1)
				log.Debug().Err(err).Msg("websocket write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		case <-gone:
			return
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
				time.Now().Add(writeWait))
			return
		}
	}
}
