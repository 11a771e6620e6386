package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog/log"

	"github.com/ts4z/floorman/dbutil"
	"github.com/ts4z/floorman/model"
	"github.com/ts4z/floorman/paytable"
)

//go:embed schema.sql
var Schema string

// DBStorage is Postgres storage.  Every tournament transaction starts by
// locking the tournament row, which serializes writers to one tournament
// without touching any other.
type DBStorage struct {
	db *sql.DB
}

var _ Storage = &DBStorage{}

func NewDBStorage(db *sql.DB) *DBStorage {
	return &DBStorage{db: db}
}

func (s *DBStorage) DB() *sql.DB {
	return s.db
}

func (s *DBStorage) Close() {
	s.db.Close()
}

// Migrate applies the schema.  It's safe to run repeatedly.
func (s *DBStorage) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("applying schema: %w", err)
	}
	return nil
}

// queryer is satisfied by both *sql.DB and *sql.Tx.
type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// classify turns Postgres serialization failures into
// ErrConcurrentModification and missing rows into ErrNotFound.
func classify(err error, what string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", what, ErrNotFound)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%s: %s: %w", what, pgErr.Message, ErrConcurrentModification)
		}
	}
	return fmt.Errorf("%s: %w", what, err)
}

const tournamentColumns = `id, club_id, name, buy_in_cents, seat_cap, live_status, status_changed_at,
	start_time, starting_soon_sent, version, created_at`

func scanTournament(row scanner) (*model.Tournament, error) {
	t := &model.Tournament{}
	err := row.Scan(&t.ID, &t.ClubID, &t.Name, &t.BuyInCents, &t.SeatCap, &t.LiveStatus, &t.StatusChangedAt,
		&t.StartTime, &t.StartingSoonSent, &t.Version, &t.CreatedAt)
	if err != nil {
		return nil, err
	}
	return t, nil
}

const clockColumns = `tournament_id, status, current_level, level_started_at, level_end_time, remaining_ms,
	pause_started_at, total_pause_ms, auto_advance, version, updated_at`

func fetchClock(ctx context.Context, q queryer, id uuid.UUID) (*model.Clock, error) {
	c := &model.Clock{}
	err := q.QueryRowContext(ctx, `SELECT `+clockColumns+` FROM tournament_clocks WHERE tournament_id = $1`, id).
		Scan(&c.TournamentID, &c.Status, &c.CurrentLevel, &c.LevelStartedAt, &c.LevelEndTime, &c.RemainingMillis,
			&c.PauseStartedAt, &c.TotalPauseMillis, &c.AutoAdvance, &c.Version, &c.UpdatedAt)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("clock for tournament %v", id))
	}
	return c, nil
}

func fetchStructure(ctx context.Context, q queryer, id uuid.UUID) (model.Structure, error) {
	rows, err := q.QueryContext(ctx, `SELECT level_number, small_blind, big_blind, ante, duration_minutes,
		is_break, break_duration_minutes FROM blind_levels WHERE tournament_id = $1 ORDER BY level_number`, id)
	if err != nil {
		return nil, classify(err, "fetching structure")
	}
	defer rows.Close()

	levels := model.Structure{}
	for rows.Next() {
		l := &model.BlindLevel{}
		if err := rows.Scan(&l.LevelNumber, &l.SmallBlind, &l.BigBlind, &l.Ante, &l.DurationMinutes,
			&l.IsBreak, &l.BreakDurationMinutes); err != nil {
			return nil, err
		}
		levels = append(levels, l)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return levels, nil
}

func fetchPayout(ctx context.Context, q queryer, id uuid.UUID) (*model.Payout, error) {
	p := &model.Payout{}
	var positions []byte
	err := q.QueryRowContext(ctx, `SELECT tournament_id, template_id, player_count, total_prize_pool_cents,
		positions, updated_at FROM tournament_payouts WHERE tournament_id = $1`, id).
		Scan(&p.TournamentID, &p.TemplateID, &p.PlayerCount, &p.TotalPrizePoolCents, &positions, &p.UpdatedAt)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("payout for tournament %v", id))
	}
	if err := json.Unmarshal(positions, &p.Positions); err != nil {
		return nil, fmt.Errorf("payout for tournament %v has bad positions: %w", id, err)
	}
	return p, nil
}

func entryStats(ctx context.Context, q queryer, id uuid.UUID) (*model.EntryStats, error) {
	stats := &model.EntryStats{}
	err := q.QueryRowContext(ctx, `SELECT count(DISTINCT user_id), count(*), coalesce(sum(amount_cents), 0)
		FROM entries WHERE tournament_id = $1`, id).
		Scan(&stats.UniquePlayers, &stats.EntryCount, &stats.TotalAmountCents)
	if err != nil {
		return nil, classify(err, "entry stats")
	}
	return stats, nil
}

func appendActivity(ctx context.Context, q queryer, e *model.ActivityLogEntry) error {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	metadata := e.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	bytes, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("marshalling activity metadata: %w", err)
	}
	_, err = q.ExecContext(ctx, `INSERT INTO activity_log
		(id, tournament_id, category, action, actor_id, subject_id, event_time, metadata)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		e.ID, e.TournamentID, e.Category, e.Action, e.ActorID, e.SubjectID, e.EventTime, bytes)
	return classify(err, "appending activity")
}

func (s *DBStorage) CreateTournament(ctx context.Context, t *model.Tournament, levels model.Structure, c *model.Clock, created *model.ActivityLogEntry) error {
	err := dbutil.InTx(ctx, s.db, func(tx *dbutil.Tx) error {
		return insertTournament(ctx, tx, t, levels, c, created)
	})
	return classify(err, "creating tournament")
}

func insertTournament(ctx context.Context, tx *dbutil.Tx, t *model.Tournament, levels model.Structure, c *model.Clock, created *model.ActivityLogEntry) error {
	if _, err := tx.Exec(ctx, `INSERT INTO tournaments (`+tournamentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		t.ID, t.ClubID, t.Name, t.BuyInCents, t.SeatCap, t.LiveStatus, t.StatusChangedAt,
		t.StartTime, t.StartingSoonSent, t.Version, t.CreatedAt); err != nil {
		return classify(err, "inserting tournament")
	}
	if err := insertLevels(ctx, tx, t.ID, levels); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `INSERT INTO tournament_clocks (`+clockColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		c.TournamentID, c.Status, c.CurrentLevel, c.LevelStartedAt, c.LevelEndTime, c.RemainingMillis,
		c.PauseStartedAt, c.TotalPauseMillis, c.AutoAdvance, c.Version, c.UpdatedAt); err != nil {
		return classify(err, "inserting clock")
	}
	if created != nil {
		return appendActivity(ctx, tx.Tx(), created)
	}
	return nil
}

func (s *DBStorage) FetchTournament(ctx context.Context, id uuid.UUID) (*model.Tournament, error) {
	t, err := scanTournament(s.db.QueryRowContext(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1`, id))
	if err != nil {
		return nil, classify(err, fmt.Sprintf("tournament %v", id))
	}
	return t, nil
}

func insertLevels(ctx context.Context, tx *dbutil.Tx, id uuid.UUID, levels model.Structure) error {
	for _, l := range levels {
		if _, err := tx.Exec(ctx, `INSERT INTO blind_levels (tournament_id, level_number, small_blind,
			big_blind, ante, duration_minutes, is_break, break_duration_minutes)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			id, l.LevelNumber, l.SmallBlind, l.BigBlind, l.Ante, l.DurationMinutes, l.IsBreak,
			l.BreakDurationMinutes); err != nil {
			return classify(err, fmt.Sprintf("inserting level %d", l.LevelNumber))
		}
	}
	return nil
}

func (s *DBStorage) FetchClock(ctx context.Context, id uuid.UUID) (*model.Clock, error) {
	return fetchClock(ctx, s.db, id)
}

func (s *DBStorage) FetchStructure(ctx context.Context, id uuid.UUID) (model.Structure, error) {
	return fetchStructure(ctx, s.db, id)
}

func (s *DBStorage) FetchPayout(ctx context.Context, id uuid.UUID) (*model.Payout, error) {
	return fetchPayout(ctx, s.db, id)
}

func (s *DBStorage) EntryStats(ctx context.Context, id uuid.UUID) (*model.EntryStats, error) {
	return entryStats(ctx, s.db, id)
}

func (s *DBStorage) ListActivity(ctx context.Context, id uuid.UUID, category *model.ActivityCategory, offset, limit int) (*model.ActivityPage, error) {
	var cat *string
	if category != nil {
		c := string(*category)
		cat = &c
	}
	page := &model.ActivityPage{Offset: offset, Limit: limit, Entries: []*model.ActivityLogEntry{}}
	if err := s.db.QueryRowContext(ctx, `SELECT count(*) FROM activity_log
		WHERE tournament_id = $1 AND ($2::text IS NULL OR category = $2)`, id, cat).Scan(&page.Total); err != nil {
		return nil, classify(err, "counting activity")
	}

	rows, err := s.db.QueryContext(ctx, `SELECT id, tournament_id, category, action, actor_id, subject_id,
		event_time, metadata FROM activity_log
		WHERE tournament_id = $1 AND ($2::text IS NULL OR category = $2)
		ORDER BY event_time DESC, seq DESC OFFSET $3 LIMIT $4`, id, cat, offset, limit)
	if err != nil {
		return nil, classify(err, "listing activity")
	}
	defer rows.Close()
	for rows.Next() {
		e := &model.ActivityLogEntry{}
		var metadata []byte
		if err := rows.Scan(&e.ID, &e.TournamentID, &e.Category, &e.Action, &e.ActorID, &e.SubjectID,
			&e.EventTime, &metadata); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(metadata, &e.Metadata); err != nil {
			log.Warn().Err(err).Stringer("activity_id", e.ID).Msg("bad activity metadata")
		}
		page.Entries = append(page.Entries, e)
	}
	return page, rows.Err()
}

func (s *DBStorage) DueClocks(ctx context.Context, now time.Time) ([]DueClock, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT c.tournament_id, c.current_level, c.level_end_time
		FROM tournament_clocks c JOIN tournaments t ON t.id = c.tournament_id
		WHERE c.status = 'running' AND c.auto_advance AND c.level_end_time <= $1
		AND t.live_status <> 'finished'
		ORDER BY c.level_end_time`, now)
	if err != nil {
		return nil, classify(err, "querying due clocks")
	}
	defer rows.Close()
	due := []DueClock{}
	for rows.Next() {
		var d DueClock
		if err := rows.Scan(&d.TournamentID, &d.CurrentLevel, &d.LevelEndTime); err != nil {
			return nil, err
		}
		due = append(due, d)
	}
	return due, rows.Err()
}

func (s *DBStorage) StaleTournaments(ctx context.Context, before time.Time) ([]uuid.UUID, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM tournaments
		WHERE live_status = 'in_progress' AND status_changed_at <= $1`, before)
	if err != nil {
		return nil, classify(err, "querying stale tournaments")
	}
	defer rows.Close()
	ids := []uuid.UUID{}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *DBStorage) StartingSoon(ctx context.Context, from, to time.Time) ([]*model.Tournament, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+tournamentColumns+` FROM tournaments
		WHERE live_status IN ('not_started', 'registration_open') AND NOT starting_soon_sent
		AND start_time BETWEEN $1 AND $2`, from, to)
	if err != nil {
		return nil, classify(err, "querying tournaments starting soon")
	}
	defer rows.Close()
	out := []*model.Tournament{}
	for rows.Next() {
		t, err := scanTournament(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (s *DBStorage) FetchPayoutTemplates(ctx context.Context) ([]*paytable.Template, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, name, min_players, max_players, positions
		FROM payout_templates ORDER BY min_players, name`)
	if err != nil {
		return nil, classify(err, "fetching payout templates")
	}
	defer rows.Close()
	out := []*paytable.Template{}
	for rows.Next() {
		t := &paytable.Template{}
		var positions []byte
		if err := rows.Scan(&t.ID, &t.Name, &t.MinPlayers, &t.MaxPlayers, &positions); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(positions, &t.Positions); err != nil {
			log.Warn().Err(err).Str("template", t.Name).Msg("skipping payout template with bad positions")
			continue
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// CreatePayoutTemplate replaces any template with the same id.
func (s *DBStorage) CreatePayoutTemplate(ctx context.Context, t *paytable.Template) error {
	positions, err := json.Marshal(t.Positions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO payout_templates (id, name, min_players, max_players, positions)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, min_players = EXCLUDED.min_players,
		max_players = EXCLUDED.max_players, positions = EXCLUDED.positions`,
		t.ID, t.Name, t.MinPlayers, t.MaxPlayers, positions)
	return classify(err, fmt.Sprintf("saving payout template %q", t.Name))
}

func (s *DBStorage) DeletePayoutTemplate(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM payout_templates WHERE id = $1`, id)
	if err != nil {
		return classify(err, "deleting payout template")
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n == 0 {
		return fmt.Errorf("payout template %v: %w", id, ErrNotFound)
	}
	return nil
}

func (s *DBStorage) InTournament(ctx context.Context, id uuid.UUID, fn func(TournamentTx) error) error {
	committing := false
	err := dbutil.InTx(ctx, s.db, func(tx *dbutil.Tx) error {
		t, err := scanTournament(tx.QueryRow(ctx, `SELECT `+tournamentColumns+` FROM tournaments WHERE id = $1 FOR UPDATE`, id))
		if err != nil {
			return classify(err, fmt.Sprintf("locking tournament %v", id))
		}
		if err := fn(&dbTx{tx: tx, t: t}); err != nil {
			return err
		}
		committing = true
		return nil
	})
	if err != nil && committing {
		return classify(err, fmt.Sprintf("committing tournament %v", id))
	}
	return err
}

type dbTx struct {
	tx *dbutil.Tx
	t  *model.Tournament
}

func (d *dbTx) Tournament() *model.Tournament {
	return d.t.Clone()
}

func (d *dbTx) SaveTournament(ctx context.Context, t *model.Tournament) error {
	result, err := d.tx.Exec(ctx, `UPDATE tournaments SET name = $3, live_status = $4, status_changed_at = $5,
		start_time = $6, starting_soon_sent = $7, seat_cap = $8, version = version + 1
		WHERE id = $1 AND version = $2`,
		t.ID, t.Version, t.Name, t.LiveStatus, t.StatusChangedAt, t.StartTime, t.StartingSoonSent, t.SeatCap)
	if err != nil {
		return classify(err, "saving tournament")
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("tournament %v version %d: %w", t.ID, t.Version, ErrConcurrentModification)
	}
	t.Version++
	d.t = t.Clone()
	return nil
}

func (d *dbTx) FetchClock(ctx context.Context) (*model.Clock, error) {
	return fetchClock(ctx, d.tx.Tx(), d.t.ID)
}

func (d *dbTx) SaveClock(ctx context.Context, c *model.Clock) error {
	result, err := d.tx.Exec(ctx, `UPDATE tournament_clocks SET status = $3, current_level = $4,
		level_started_at = $5, level_end_time = $6, remaining_ms = $7, pause_started_at = $8,
		total_pause_ms = $9, auto_advance = $10, updated_at = $11, version = version + 1
		WHERE tournament_id = $1 AND version = $2`,
		c.TournamentID, c.Version, c.Status, c.CurrentLevel, c.LevelStartedAt, c.LevelEndTime,
		c.RemainingMillis, c.PauseStartedAt, c.TotalPauseMillis, c.AutoAdvance, c.UpdatedAt)
	if err != nil {
		return classify(err, "saving clock")
	}
	if n, err := result.RowsAffected(); err != nil {
		return err
	} else if n != 1 {
		return fmt.Errorf("clock %v version %d: %w", c.TournamentID, c.Version, ErrConcurrentModification)
	}
	c.Version++
	return nil
}

func (d *dbTx) FetchStructure(ctx context.Context) (model.Structure, error) {
	return fetchStructure(ctx, d.tx.Tx(), d.t.ID)
}

func (d *dbTx) ReplaceStructure(ctx context.Context, levels model.Structure) error {
	if _, err := d.tx.Exec(ctx, `DELETE FROM blind_levels WHERE tournament_id = $1`, d.t.ID); err != nil {
		return classify(err, "deleting levels")
	}
	return insertLevels(ctx, d.tx, d.t.ID, levels)
}

func (d *dbTx) InsertEntry(ctx context.Context, e *model.Entry) error {
	_, err := d.tx.Exec(ctx, `INSERT INTO entries (id, tournament_id, user_id, entry_type, amount_cents, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		e.ID, e.TournamentID, e.UserID, e.Type, e.AmountCents, e.CreatedAt)
	return classify(err, "inserting entry")
}

func (d *dbTx) DeleteEntry(ctx context.Context, entryID uuid.UUID) (*model.Entry, error) {
	e := &model.Entry{}
	err := d.tx.QueryRow(ctx, `DELETE FROM entries WHERE id = $1 AND tournament_id = $2
		RETURNING id, tournament_id, user_id, entry_type, amount_cents, created_at`, entryID, d.t.ID).
		Scan(&e.ID, &e.TournamentID, &e.UserID, &e.Type, &e.AmountCents, &e.CreatedAt)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("entry %v", entryID))
	}
	return e, nil
}

func (d *dbTx) EntryStats(ctx context.Context) (*model.EntryStats, error) {
	return entryStats(ctx, d.tx.Tx(), d.t.ID)
}

func (d *dbTx) FetchPayout(ctx context.Context) (*model.Payout, error) {
	return fetchPayout(ctx, d.tx.Tx(), d.t.ID)
}

func (d *dbTx) UpsertPayout(ctx context.Context, p *model.Payout) error {
	positions, err := json.Marshal(p.Positions)
	if err != nil {
		return err
	}
	_, err = d.tx.Exec(ctx, `INSERT INTO tournament_payouts (tournament_id, template_id, player_count,
		total_prize_pool_cents, positions, updated_at) VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (tournament_id) DO UPDATE SET template_id = EXCLUDED.template_id,
		player_count = EXCLUDED.player_count, total_prize_pool_cents = EXCLUDED.total_prize_pool_cents,
		positions = EXCLUDED.positions, updated_at = EXCLUDED.updated_at`,
		p.TournamentID, p.TemplateID, p.PlayerCount, p.TotalPrizePoolCents, positions, p.UpdatedAt)
	return classify(err, "upserting payout")
}

func (d *dbTx) FetchRegistration(ctx context.Context, userID uuid.UUID) (*model.Registration, error) {
	r := &model.Registration{}
	err := d.tx.QueryRow(ctx, `SELECT tournament_id, user_id, status, registered_at, updated_at
		FROM registrations WHERE tournament_id = $1 AND user_id = $2`, d.t.ID, userID).
		Scan(&r.TournamentID, &r.UserID, &r.Status, &r.RegisteredAt, &r.UpdatedAt)
	if err != nil {
		return nil, classify(err, fmt.Sprintf("registration for %v", userID))
	}
	return r, nil
}

func (d *dbTx) UpsertRegistration(ctx context.Context, r *model.Registration) error {
	_, err := d.tx.Exec(ctx, `INSERT INTO registrations (tournament_id, user_id, status, registered_at, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (tournament_id, user_id) DO UPDATE SET status = EXCLUDED.status,
		updated_at = EXCLUDED.updated_at`,
		r.TournamentID, r.UserID, r.Status, r.RegisteredAt, r.UpdatedAt)
	return classify(err, "upserting registration")
}

func (d *dbTx) AppendActivity(ctx context.Context, e *model.ActivityLogEntry) error {
	return appendActivity(ctx, d.tx.Tx(), e)
}
