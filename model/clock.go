package model

import (
	"time"

	"github.com/google/uuid"
)

type ClockStatus string

const (
	ClockStopped ClockStatus = "stopped"
	ClockRunning ClockStatus = "running"
	ClockPaused  ClockStatus = "paused"
)

// Clock is the persisted clock row, one per tournament.
//
// LevelEndTime is set iff the clock is running.  RemainingMillis is set iff
// the clock is paused; we don't know when it will be resumed, so the end time
// isn't meaningful.
type Clock struct {
	TournamentID   uuid.UUID   `json:"tournament_id"`
	Status         ClockStatus `json:"status"`
	CurrentLevel   int         `json:"current_level"`
	LevelStartedAt *time.Time  `json:"level_started_at,omitempty"`
	LevelEndTime   *time.Time  `json:"level_end_time,omitempty"`
	// RemainingMillis is the time left in the level when it was paused.
	RemainingMillis *int64     `json:"remaining_ms,omitempty"`
	PauseStartedAt  *time.Time `json:"pause_started_at,omitempty"`
	// TotalPauseMillis is the time spent paused since the clock started.
	// An open pause is not included until it ends.
	TotalPauseMillis int64     `json:"total_pause_ms"`
	AutoAdvance      bool      `json:"auto_advance"`
	Version          int64     `json:"version"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// NewClock is the clock every tournament gets when it is created.
func NewClock(tournamentID uuid.UUID, now time.Time) *Clock {
	return &Clock{
		TournamentID: tournamentID,
		Status:       ClockStopped,
		CurrentLevel: 1,
		AutoAdvance:  true,
		Version:      1,
		UpdatedAt:    now,
	}
}

func (c *Clock) Clone() *Clock {
	cc := *c
	cc.LevelStartedAt = cloneTime(c.LevelStartedAt)
	cc.LevelEndTime = cloneTime(c.LevelEndTime)
	cc.PauseStartedAt = cloneTime(c.PauseStartedAt)
	if c.RemainingMillis != nil {
		v := *c.RemainingMillis
		cc.RemainingMillis = &v
	}
	return &cc
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// ClockState is what clients see: the clock plus the computed remaining time
// and the blinds in play.
type ClockState struct {
	TournamentID    uuid.UUID   `json:"tournament_id"`
	Status          ClockStatus `json:"status"`
	CurrentLevel    int         `json:"current_level"`
	TotalLevels     int         `json:"total_levels"`
	LevelStartedAt  *time.Time  `json:"level_started_at,omitempty"`
	LevelEndTime    *time.Time  `json:"level_end_time,omitempty"`
	RemainingMillis int64       `json:"remaining_ms"`
	// TotalPauseMillis includes a pause still in progress.
	TotalPauseMillis int64       `json:"total_pause_ms"`
	AutoAdvance      bool        `json:"auto_advance"`
	Level            *BlindLevel `json:"level,omitempty"`
	NextLevel        *BlindLevel `json:"next_level,omitempty"`
	Version          int64       `json:"version"`
}
