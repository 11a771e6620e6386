package tournament

import (
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/ts"
)

var epoch = time.Date(2026, 3, 14, 19, 0, 0, 0, time.UTC)

func mustLevels(t *testing.T, text string) model.Structure {
	t.Helper()
	s, err := model.ParseLevels(text)
	if err != nil {
		t.Fatalf("ParseLevels: %v", err)
	}
	return s
}

func newTestMutator() (*Mutator, *clockwork.FakeClock) {
	fc := clockwork.NewFakeClockAt(epoch)
	return NewMutator(ts.NewClock(fc)), fc
}

// checkInvariant is the one thing that must hold after every operation.
func checkInvariant(t *testing.T, c *model.Clock) {
	t.Helper()
	switch c.Status {
	case model.ClockRunning:
		if c.LevelEndTime == nil || c.RemainingMillis != nil {
			t.Errorf("running clock: end=%v remaining=%v", c.LevelEndTime, c.RemainingMillis)
		}
	case model.ClockPaused:
		if c.LevelEndTime != nil || c.RemainingMillis == nil {
			t.Errorf("paused clock: end=%v remaining=%v", c.LevelEndTime, c.RemainingMillis)
		}
	case model.ClockStopped:
		if c.LevelEndTime != nil || c.RemainingMillis != nil {
			t.Errorf("stopped clock: end=%v remaining=%v", c.LevelEndTime, c.RemainingMillis)
		}
	}
}

func TestStartPauseResume(t *testing.T) {
	tm, fc := newTestMutator()
	s := mustLevels(t, "20 -- 25/50\n20 -- 50/100\n")
	c := model.NewClock(uuid.New(), epoch)

	if err := tm.Start(c, s); err != nil {
		t.Fatalf("Start: %v", err)
	}
	checkInvariant(t, c)
	if want := epoch.Add(20 * time.Minute); !c.LevelEndTime.Equal(want) {
		t.Errorf("end = %v, want %v", c.LevelEndTime, want)
	}

	fc.Advance(5 * time.Minute)
	if err := tm.Pause(c); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	checkInvariant(t, c)
	if got := *c.RemainingMillis; got != (15 * time.Minute).Milliseconds() {
		t.Errorf("remaining = %d, want 15m", got)
	}

	// Time spent paused doesn't count.
	fc.Advance(time.Hour)
	if err := tm.Resume(c, s); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	checkInvariant(t, c)
	if want := epoch.Add(80 * time.Minute); !c.LevelEndTime.Equal(want) {
		t.Errorf("end after resume = %v, want %v", c.LevelEndTime, want)
	}
}

func TestInvalidTransitions(t *testing.T) {
	s := mustLevels(t, "20 -- 25/50\n20 -- 50/100\n")
	tests := []struct {
		name   string
		status model.ClockStatus
		op     func(tm *Mutator, c *model.Clock) error
	}{
		{"start running", model.ClockRunning, func(tm *Mutator, c *model.Clock) error { return tm.Start(c, s) }},
		{"start paused", model.ClockPaused, func(tm *Mutator, c *model.Clock) error { return tm.Start(c, s) }},
		{"pause stopped", model.ClockStopped, func(tm *Mutator, c *model.Clock) error { return tm.Pause(c) }},
		{"pause paused", model.ClockPaused, func(tm *Mutator, c *model.Clock) error { return tm.Pause(c) }},
		{"resume running", model.ClockRunning, func(tm *Mutator, c *model.Clock) error { return tm.Resume(c, s) }},
		{"resume stopped", model.ClockStopped, func(tm *Mutator, c *model.Clock) error { return tm.Resume(c, s) }},
		{"advance stopped", model.ClockStopped, func(tm *Mutator, c *model.Clock) error { return tm.Advance(c, s) }},
		{"revert stopped", model.ClockStopped, func(tm *Mutator, c *model.Clock) error { return tm.Revert(c, s) }},
		{"revert level 1", model.ClockRunning, func(tm *Mutator, c *model.Clock) error { return tm.Revert(c, s) }},
		{"stop stopped", model.ClockStopped, func(tm *Mutator, c *model.Clock) error { return tm.Stop(c) }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tm, _ := newTestMutator()
			c := model.NewClock(uuid.New(), epoch)
			switch tt.status {
			case model.ClockRunning:
				tm.Start(c, s)
			case model.ClockPaused:
				tm.Start(c, s)
				tm.Pause(c)
			}
			before := *c
			err := tt.op(tm, c)
			if !errors.Is(err, ErrInvalidState) {
				t.Fatalf("err = %v, want ErrInvalidState", err)
			}
			if c.Status != before.Status || c.CurrentLevel != before.CurrentLevel || c.UpdatedAt != before.UpdatedAt {
				t.Errorf("clock changed by a rejected operation: %+v", c)
			}
		})
	}
}

func TestAdvanceAnchorsToNow(t *testing.T) {
	tm, fc := newTestMutator()
	s := mustLevels(t, "20 -- 25/50\n20 -- 50/100\n30 -- 100/200\n")
	c := model.NewClock(uuid.New(), epoch)
	tm.Start(c, s)

	// The scheduler is late; the new level still gets its full duration.
	fc.Advance(23 * time.Minute)
	if err := tm.Advance(c, s); err != nil {
		t.Fatalf("Advance: %v", err)
	}
	checkInvariant(t, c)
	if c.CurrentLevel != 2 {
		t.Errorf("level = %d, want 2", c.CurrentLevel)
	}
	if want := epoch.Add(43 * time.Minute); !c.LevelEndTime.Equal(want) {
		t.Errorf("end = %v, want %v", c.LevelEndTime, want)
	}
	if !c.LevelStartedAt.Equal(epoch.Add(23 * time.Minute)) {
		t.Errorf("level started at %v", c.LevelStartedAt)
	}
}

func TestAdvanceAndRevertWhilePausedRun(t *testing.T) {
	for _, op := range []string{"advance", "revert"} {
		tm, fc := newTestMutator()
		s := mustLevels(t, "20 -- 25/50\n30 -- 50/100\n40 -- 100/200\n")
		c := model.NewClock(uuid.New(), epoch)
		tm.Start(c, s)
		if op == "revert" {
			tm.Advance(c, s)
			tm.Advance(c, s)
		}
		fc.Advance(5 * time.Minute)
		tm.Pause(c)
		fc.Advance(time.Minute)

		var err error
		if op == "advance" {
			err = tm.Advance(c, s)
		} else {
			err = tm.Revert(c, s)
		}
		if err != nil {
			t.Fatalf("%s: %v", op, err)
		}
		checkInvariant(t, c)
		if c.Status != model.ClockRunning {
			t.Fatalf("%s: status = %s, want running", op, c.Status)
		}
		if c.CurrentLevel != 2 {
			t.Errorf("%s: level = %d, want 2", op, c.CurrentLevel)
		}
		now := epoch.Add(6 * time.Minute)
		if want := now.Add(30 * time.Minute); !c.LevelEndTime.Equal(want) {
			t.Errorf("%s: end = %v, want %v", op, c.LevelEndTime, want)
		}
		if c.PauseStartedAt != nil {
			t.Errorf("%s: pause started at %v, want nil", op, c.PauseStartedAt)
		}
		if c.TotalPauseMillis != time.Minute.Milliseconds() {
			t.Errorf("%s: total pause = %d, want 1m", op, c.TotalPauseMillis)
		}
	}
}

func TestPauseTimeAccumulates(t *testing.T) {
	tm, fc := newTestMutator()
	s := mustLevels(t, "20 -- 25/50\n30 -- 50/100\n")
	c := model.NewClock(uuid.New(), epoch)
	tm.Start(c, s)

	fc.Advance(5 * time.Minute)
	tm.Pause(c)
	fc.Advance(2 * time.Minute)
	if err := tm.Resume(c, s); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	if got := c.TotalPauseMillis; got != (2 * time.Minute).Milliseconds() {
		t.Errorf("total after resume = %d, want 2m", got)
	}

	tm.Pause(c)
	fc.Advance(3 * time.Minute)
	// An open pause shows in the state but not yet in the clock.
	if got := tm.State(c, s).TotalPauseMillis; got != (5 * time.Minute).Milliseconds() {
		t.Errorf("state total while paused = %d, want 5m", got)
	}
	if got := c.TotalPauseMillis; got != (2 * time.Minute).Milliseconds() {
		t.Errorf("clock total while paused = %d, want 2m", got)
	}

	if err := tm.Stop(c); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := tm.Start(c, s); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.TotalPauseMillis != 0 {
		t.Errorf("total after restart = %d, want 0", c.TotalPauseMillis)
	}
}

func TestRevertRestartsLevel(t *testing.T) {
	tm, fc := newTestMutator()
	s := mustLevels(t, "20 -- 25/50\n30 -- 50/100\n")
	c := model.NewClock(uuid.New(), epoch)
	tm.Start(c, s)
	tm.Advance(c, s)
	fc.Advance(10 * time.Minute)

	if err := tm.Revert(c, s); err != nil {
		t.Fatalf("Revert: %v", err)
	}
	checkInvariant(t, c)
	if c.CurrentLevel != 1 {
		t.Errorf("level = %d, want 1", c.CurrentLevel)
	}
	if want := epoch.Add(30 * time.Minute); !c.LevelEndTime.Equal(want) {
		t.Errorf("end = %v, want %v", c.LevelEndTime, want)
	}
}

func TestAdvancePastLastLevel(t *testing.T) {
	for _, paused := range []bool{false, true} {
		tm, _ := newTestMutator()
		s := mustLevels(t, "20 -- 25/50\n")
		c := model.NewClock(uuid.New(), epoch)
		tm.Start(c, s)
		if paused {
			tm.Pause(c)
		}
		err := tm.Advance(c, s)
		if !errors.Is(err, ErrStructureExhausted) {
			t.Fatalf("paused=%v: err = %v, want ErrStructureExhausted", paused, err)
		}
		checkInvariant(t, c)
		if c.Status != model.ClockStopped || c.CurrentLevel != 1 {
			t.Errorf("paused=%v: clock %s at level %d, want stopped at 1", paused, c.Status, c.CurrentLevel)
		}
	}
}

func TestStopThenStartResetsToLevelOne(t *testing.T) {
	tm, _ := newTestMutator()
	s := mustLevels(t, "20 -- 25/50\n20 -- 50/100\n")
	c := model.NewClock(uuid.New(), epoch)
	tm.Start(c, s)
	tm.Advance(c, s)
	if err := tm.Stop(c); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	checkInvariant(t, c)
	if err := tm.Start(c, s); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if c.CurrentLevel != 1 {
		t.Errorf("level = %d after restart, want 1", c.CurrentLevel)
	}
}

func TestBreakUsesBreakDuration(t *testing.T) {
	tm, _ := newTestMutator()
	s := mustLevels(t, "20 -- 25/50\n15 -- BREAK\n")
	c := model.NewClock(uuid.New(), epoch)
	tm.Start(c, s)
	tm.Advance(c, s)
	if want := epoch.Add(15 * time.Minute); !c.LevelEndTime.Equal(want) {
		t.Errorf("break ends %v, want %v", c.LevelEndTime, want)
	}
}

func TestIsDue(t *testing.T) {
	end := epoch.Add(20 * time.Minute)
	running := &model.Clock{Status: model.ClockRunning, AutoAdvance: true, LevelEndTime: &end}
	manual := &model.Clock{Status: model.ClockRunning, AutoAdvance: false, LevelEndTime: &end}
	paused := &model.Clock{Status: model.ClockPaused, AutoAdvance: true}

	tests := []struct {
		c    *model.Clock
		now  time.Time
		want bool
	}{
		{running, epoch.Add(19 * time.Minute), false},
		{running, end, true},
		{running, end.Add(time.Second), true},
		{manual, end.Add(time.Hour), false},
		{paused, end.Add(time.Hour), false},
	}
	for i, tt := range tests {
		if got := IsDue(tt.c, tt.now); got != tt.want {
			t.Errorf("%d: IsDue = %v, want %v", i, got, tt.want)
		}
	}
}

func TestState(t *testing.T) {
	tm, fc := newTestMutator()
	s := mustLevels(t, "20 -- 25/50\n20 -- 50/100\n")
	c := model.NewClock(uuid.New(), epoch)

	st := tm.State(c, s)
	if st.RemainingMillis != (20*time.Minute).Milliseconds() || st.TotalLevels != 2 {
		t.Errorf("stopped state = %+v", st)
	}

	tm.Start(c, s)
	fc.Advance(90 * time.Second)
	st = tm.State(c, s)
	if st.RemainingMillis != (18*time.Minute + 30*time.Second).Milliseconds() {
		t.Errorf("remaining = %d", st.RemainingMillis)
	}
	if st.Level.BigBlind != 50 || st.NextLevel.BigBlind != 100 {
		t.Errorf("levels = %+v / %+v", st.Level, st.NextLevel)
	}

	// Overdue clocks show zero, not negative.
	fc.Advance(time.Hour)
	if st = tm.State(c, s); st.RemainingMillis != 0 {
		t.Errorf("overdue remaining = %d", st.RemainingMillis)
	}
}
