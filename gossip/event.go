package gossip

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindTournament Kind = "tournament"
	KindUser       Kind = "user"
	KindClub       Kind = "club"
)

type Topic struct {
	Kind Kind      `json:"kind"`
	ID   uuid.UUID `json:"id"`
}

func (t Topic) String() string {
	return fmt.Sprintf("%s:%s", t.Kind, t.ID)
}

func TournamentTopic(id uuid.UUID) Topic { return Topic{KindTournament, id} }
func UserTopic(id uuid.UUID) Topic       { return Topic{KindUser, id} }
func ClubTopic(id uuid.UUID) Topic       { return Topic{KindClub, id} }

// Event types.
const (
	EventClock        = "clock"
	EventActivity     = "activity"
	EventPayout       = "payout"
	EventRegistration = "registration"
	EventStatus       = "status"
	EventStartingSoon = "tournament_starting_soon"
	EventEntryStats   = "entry_stats"
)

// Event is one notification.  Payload is already JSON so an event can be
// relayed between processes without knowing its type.
type Event struct {
	Type         string          `json:"type"`
	TournamentID uuid.UUID       `json:"tournament_id"`
	Topics       []Topic         `json:"topics"`
	At           time.Time       `json:"at"`
	Payload      json.RawMessage `json:"payload"`
	// Origin is the process that published the event.  It's how a process
	// recognizes its own events coming back from Postgres.
	Origin uuid.UUID `json:"origin"`
}

func NewEvent(typ string, tournamentID uuid.UUID, at time.Time, payload any, topics ...Topic) (*Event, error) {
	bytes, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling %s event: %w", typ, err)
	}
	return &Event{
		Type:         typ,
		TournamentID: tournamentID,
		Topics:       topics,
		At:           at,
		Payload:      bytes,
	}, nil
}
