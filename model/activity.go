package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

type ActivityCategory string

const (
	CategoryClock        ActivityCategory = "clock"
	CategoryRegistration ActivityCategory = "registration"
	CategorySeating      ActivityCategory = "seating"
	CategoryEntry        ActivityCategory = "entry"
	CategoryResult       ActivityCategory = "result"
	CategoryTournament   ActivityCategory = "tournament"
)

func ParseActivityCategory(s string) (ActivityCategory, error) {
	switch c := ActivityCategory(s); c {
	case CategoryClock, CategoryRegistration, CategorySeating, CategoryEntry, CategoryResult, CategoryTournament:
		return c, nil
	}
	return "", fmt.Errorf("unknown activity category %q", s)
}

// Actions recorded in the activity log.
const (
	ActionStart              = "start"
	ActionPause              = "pause"
	ActionResume             = "resume"
	ActionLevelAdvance       = "level_advance"
	ActionManualAdvance      = "manual_advance"
	ActionManualRevert       = "manual_revert"
	ActionStop               = "stop"
	ActionFinalLevelComplete = "final_level_complete"

	ActionStatusChanged      = "status_changed"
	ActionAutoFinishedStale  = "auto_finished_stale"
	ActionTournamentCreated  = "tournament_created"
	ActionEntryAdded         = "entry_added"
	ActionEntryRemoved       = "entry_removed"
	ActionPlayerRegistered   = "player_registered"
	ActionRegistrationStatus = "registration_status_changed"
	ActionPayoutRecalculated = "payout_recalculated"
	ActionStructureReplaced  = "structure_replaced"
)

const ReasonNoMoreLevels = "No more levels in structure"

// ActivityLogEntry is append-only.  Once written it is never changed.
type ActivityLogEntry struct {
	ID           uuid.UUID        `json:"id"`
	TournamentID uuid.UUID        `json:"tournament_id"`
	Category     ActivityCategory `json:"category"`
	Action       string           `json:"action"`
	ActorID      *uuid.UUID       `json:"actor_id,omitempty"`
	SubjectID    *uuid.UUID       `json:"subject_id,omitempty"`
	EventTime    time.Time        `json:"event_time"`
	Metadata     map[string]any   `json:"metadata,omitempty"`
}

// ActivityPage is one page of a tournament's log, newest first.
type ActivityPage struct {
	Entries []*ActivityLogEntry `json:"entries"`
	Total   int                 `json:"total"`
	Offset  int                 `json:"offset"`
	Limit   int                 `json:"limit"`
}
