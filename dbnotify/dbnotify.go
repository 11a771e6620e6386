/*
package dbnotify relays events between floormand processes through Postgres
LISTEN/NOTIFY.

Each process tags what it sends with its origin id.  A process republishes
what it hears to its local subscribers, except its own events, which were
already delivered locally.
*/
package dbnotify

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/gossip"
	"github.com/ts4z/floorman/varz"
)

const (
	Channel          = "floorman_events"
	sleepOnErrorTime = 5 * time.Second
	// Postgres rejects NOTIFY payloads of 8000 bytes or more.
	maxPayload = 7999
)

var (
	sent      = varz.NewInt("sent")
	oversized = varz.NewInt("oversized")
	received  = varz.NewInt("received")
	echoes    = varz.NewInt("echoes")
)

// Notifier sends events to other processes.
type Notifier struct {
	db     *sql.DB
	origin uuid.UUID
}

var _ gossip.Publisher = (*Notifier)(nil)

func NewNotifier(db *sql.DB, origin uuid.UUID) *Notifier {
	return &Notifier{db: db, origin: origin}
}

func (n *Notifier) Publish(ctx context.Context, ev *gossip.Event) error {
	out := *ev
	out.Origin = n.origin
	payload, err := json.Marshal(&out)
	if err != nil {
		return err
	}
	if len(payload) > maxPayload {
		oversized.Add(1)
		return fmt.Errorf("event %s for %v is %d bytes, too big to notify", ev.Type, ev.TournamentID, len(payload))
	}
	if _, err := n.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", Channel, string(payload)); err != nil {
		return fmt.Errorf("pg_notify: %w", err)
	}
	sent.Add(1)
	return nil
}

// Listener receives events from other processes and hands them to a local
// publisher, normally the gossip.Registry.
type Listener struct {
	db     *sql.DB
	origin uuid.UUID
	local  gossip.Publisher
}

func NewListener(db *sql.DB, origin uuid.UUID, local gossip.Publisher) *Listener {
	return &Listener{db: db, origin: origin, local: local}
}

// Run listens until ctx is done, reconnecting after errors.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		log.Warn().Err(err).Dur("retry_in", sleepOnErrorTime).Msg("db notification listener failed")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(sleepOnErrorTime):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := l.db.Conn(ctx)
	if err != nil {
		return fmt.Errorf("failed to get connection: %w", err)
	}
	defer conn.Close()

	var pgxConn *stdlib.Conn
	err = conn.Raw(func(driverConn any) error {
		c, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("driver connection is %T, not pgx", driverConn)
		}
		pgxConn = c
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to get pgx connection: %w", err)
	}

	if _, err := pgxConn.Conn().Exec(ctx, "LISTEN "+Channel); err != nil {
		return fmt.Errorf("failed to listen on channel %s: %w", Channel, err)
	}
	log.Info().Str("channel", Channel).Msg("listening for db notifications")

	for {
		notification, err := pgxConn.Conn().WaitForNotification(ctx)
		if err != nil {
			return fmt.Errorf("error waiting for notification: %w", err)
		}
		l.handleNotification(ctx, notification)
	}
}

func (l *Listener) handleNotification(ctx context.Context, n *pgconn.Notification) {
	log.Trace().Uint32("pid", n.PID).Int("bytes", len(n.Payload)).Msg("db notification")
	l.Handle(ctx, []byte(n.Payload))
}

// Handle decodes one notification payload and republishes it locally
// unless this process sent it.
func (l *Listener) Handle(ctx context.Context, payload []byte) {
	ev := &gossip.Event{}
	if err := json.Unmarshal(payload, ev); err != nil {
		log.Warn().Err(err).Str("payload", string(payload)).Msg("can't unmarshal notification payload")
		return
	}
	if ev.Origin == l.origin {
		echoes.Add(1)
		return
	}
	received.Add(1)
	log.Debug().Str("type", ev.Type).Stringer("tournament_id", ev.TournamentID).Stringer("origin", ev.Origin).Msg("received db notification")
	if err := l.local.Publish(ctx, ev); err != nil {
		log.Warn().Err(err).Str("type", ev.Type).Msg("can't republish notification")
	}
}
