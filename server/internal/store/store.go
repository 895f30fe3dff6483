package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pitwatch/pitwatch/pkg/types"
)

// ErrNotFound is returned when a keyed lookup matches nothing. Callers map
// it to an explicit empty/404 result rather than an error path.
var ErrNotFound = errors.New("store: not found")

// Store wraps the SQLite database holding all durable state.
// All methods are safe for concurrent use; cross-writer races on session
// creation are resolved by the conditional upsert statements, not by locks.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at dsn and runs migrations.
// Use ":memory:" for tests.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	// In-memory SQLite gives each connection its own database. Pin to a
	// single connection so schema and data are shared across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: migrate: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			session_id   TEXT PRIMARY KEY,
			started_at   INTEGER,
			last_seen_at INTEGER NOT NULL DEFAULT 0,
			seen_count   INTEGER NOT NULL DEFAULT 0,
			status       TEXT NOT NULL DEFAULT 'unknown',
			created_at   INTEGER NOT NULL,
			ended_at     INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS assignments (
			session_id  TEXT NOT NULL,
			probe_id    TEXT NOT NULL,
			item_type   TEXT,
			item_weight REAL,
			min_alert   REAL,
			max_alert   REAL,
			recipient   TEXT,
			PRIMARY KEY (session_id, probe_id)
		)`,
		`CREATE TABLE IF NOT EXISTS readings (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			ts_raw      TEXT,
			epoch       INTEGER,
			probes      TEXT NOT NULL,
			received_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_readings_session ON readings(session_id, epoch)`,
		`CREATE TABLE IF NOT EXISTS gate_state (
			session_id TEXT NOT NULL,
			probe_id   TEXT NOT NULL,
			direction  TEXT NOT NULL DEFAULT 'none',
			updated_at INTEGER NOT NULL,
			PRIMARY KEY (session_id, probe_id)
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			id         TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			probe_id   TEXT NOT NULL,
			direction  TEXT NOT NULL,
			value      REAL NOT NULL,
			threshold  REAL NOT NULL,
			recipient  TEXT,
			fired_at   INTEGER NOT NULL,
			message    TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_fired ON alerts(fired_at)`,
		`CREATE TABLE IF NOT EXISTS item_types (
			name        TEXT PRIMARY KEY,
			description TEXT
		)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec %q: %w", m[:40], err)
		}
	}
	return s.seedItemTypes()
}

// seedItemTypes fills the reference catalog on first boot. INSERT OR IGNORE
// keeps operator-added or edited rows intact across restarts.
func (s *Store) seedItemTypes() error {
	seed := []types.ItemType{
		{Name: "brisket", Description: "Beef brisket, full packer or flat"},
		{Name: "pork_shoulder", Description: "Pork shoulder / Boston butt"},
		{Name: "pork_ribs", Description: "Spare or baby back pork ribs"},
		{Name: "beef_ribs", Description: "Beef plate or back ribs"},
		{Name: "chicken", Description: "Whole chicken or parts"},
		{Name: "turkey", Description: "Whole turkey or breast"},
		{Name: "sausage", Description: "Fresh or smoked sausage links"},
		{Name: "other", Description: "Anything else on the pit"},
	}
	for _, it := range seed {
		_, err := s.db.Exec(
			`INSERT OR IGNORE INTO item_types (name, description) VALUES (?, ?)`,
			it.Name, it.Description,
		)
		if err != nil {
			return fmt.Errorf("seed item type %q: %w", it.Name, err)
		}
	}
	return nil
}

// --- sessions ---------------------------------------------------------------

// UpsertSessionOnEvent records one telemetry event for sid.
//
// Semantics match the tracker contract:
//   - started_at is set to startCandidate only if currently unset
//     (first-writer-wins — a concurrent loser's value is silently discarded)
//   - last_seen_at advances to max(current, eventEpoch)
//   - seen_count increments
//   - status becomes active unless the session has already ended
//
// startCandidate == 0 means "no parseable start"; NULL is stored so a later
// event with a real start can still win the first write.
func (s *Store) UpsertSessionOnEvent(ctx context.Context, sid string, startCandidate, eventEpoch, now int64) error {
	start := sql.NullInt64{Int64: startCandidate, Valid: startCandidate != 0}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (session_id, started_at, last_seen_at, seen_count, status, created_at)
		VALUES (?, ?, ?, 1, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			started_at   = COALESCE(sessions.started_at, excluded.started_at),
			last_seen_at = MAX(sessions.last_seen_at, excluded.last_seen_at),
			seen_count   = sessions.seen_count + 1,
			status       = CASE WHEN sessions.status = ? THEN sessions.status ELSE ? END`,
		sid, start, eventEpoch, types.StatusActive, now,
		types.StatusEnded, types.StatusActive,
	)
	if err != nil {
		return fmt.Errorf("store: upsert session %q: %w", sid, err)
	}
	return nil
}

// CreateSessionIfAbsent inserts a session record only when none exists.
// Used by backfill reconciliation; repeated or concurrent runs never
// overwrite an existing record. Reports whether a row was created.
func (s *Store) CreateSessionIfAbsent(ctx context.Context, sid string, startedAt, now int64) (bool, error) {
	start := sql.NullInt64{Int64: startedAt, Valid: startedAt != 0}
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO sessions (session_id, started_at, last_seen_at, seen_count, status, created_at)
		VALUES (?, ?, 0, 0, ?, ?)`,
		sid, start, types.StatusUnknown, now,
	)
	if err != nil {
		return false, fmt.Errorf("store: create session %q: %w", sid, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// GetSession returns the session record for sid, or ErrNotFound.
func (s *Store) GetSession(ctx context.Context, sid string) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, started_at, last_seen_at, seen_count, status, created_at, ended_at
		FROM sessions WHERE session_id = ?`, sid)
	return scanSession(row)
}

// LatestSession returns the most recently started session — higher
// started_at wins, then higher created_at. ErrNotFound when no sessions
// exist.
func (s *Store) LatestSession(ctx context.Context) (*types.Session, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT session_id, started_at, last_seen_at, seen_count, status, created_at, ended_at
		FROM sessions
		ORDER BY COALESCE(started_at, 0) DESC, created_at DESC
		LIMIT 1`)
	return scanSession(row)
}

// ListSessions returns every session record, newest start first.
func (s *Store) ListSessions(ctx context.Context) ([]*types.Session, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, started_at, last_seen_at, seen_count, status, created_at, ended_at
		FROM sessions
		ORDER BY COALESCE(started_at, 0) DESC, created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("store: list sessions: %w", err)
	}
	defer rows.Close()

	var out []*types.Session
	for rows.Next() {
		sess, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, sess)
	}
	return out, rows.Err()
}

// SetSessionStatus updates a session's liveness status. It refuses to move a
// session out of the terminal ended state.
func (s *Store) SetSessionStatus(ctx context.Context, sid, status string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ? WHERE session_id = ? AND status != ?`,
		status, sid, types.StatusEnded)
	if err != nil {
		return fmt.Errorf("store: set status %q on %q: %w", status, sid, err)
	}
	return nil
}

// EndSession marks a session ended and stamps its end time. This is the only
// write path into the terminal state. Idempotent: an already-ended session
// keeps its original ended_at.
func (s *Store) EndSession(ctx context.Context, sid string, endedAt int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE sessions SET status = ?, ended_at = ? WHERE session_id = ? AND status != ?`,
		types.StatusEnded, endedAt, sid, types.StatusEnded)
	if err != nil {
		return fmt.Errorf("store: end session %q: %w", sid, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(r rowScanner) (*types.Session, error) {
	var (
		sess    types.Session
		started sql.NullInt64
		ended   sql.NullInt64
	)
	err := r.Scan(&sess.SessionID, &started, &sess.LastSeenAt, &sess.SeenCount,
		&sess.Status, &sess.CreatedAt, &ended)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: scan session: %w", err)
	}
	sess.StartedAt = started.Int64
	sess.EndedAt = ended.Int64
	return &sess, nil
}

// --- assignments ------------------------------------------------------------

// AssignmentPatch is a partial update for one probe assignment. Nil fields
// leave the stored value unchanged; non-nil fields replace it.
type AssignmentPatch struct {
	SessionID  string
	ProbeID    string
	ItemType   *string
	ItemWeight *float64
	MinAlert   *float64
	MaxAlert   *float64
	Recipient  *string
}

// UpsertAssignment creates or partially updates the assignment keyed by
// (session_id, probe_id).
func (s *Store) UpsertAssignment(ctx context.Context, p AssignmentPatch) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO assignments (session_id, probe_id, item_type, item_weight, min_alert, max_alert, recipient)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(session_id, probe_id) DO UPDATE SET
			item_type   = COALESCE(excluded.item_type, assignments.item_type),
			item_weight = COALESCE(excluded.item_weight, assignments.item_weight),
			min_alert   = COALESCE(excluded.min_alert, assignments.min_alert),
			max_alert   = COALESCE(excluded.max_alert, assignments.max_alert),
			recipient   = COALESCE(excluded.recipient, assignments.recipient)`,
		p.SessionID, p.ProbeID, p.ItemType, p.ItemWeight, p.MinAlert, p.MaxAlert, p.Recipient,
	)
	if err != nil {
		return fmt.Errorf("store: upsert assignment %s/%s: %w", p.SessionID, p.ProbeID, err)
	}
	return nil
}

// ListAssignments returns all probe assignments for a session. An empty
// slice is a valid result — no assignments is not an error.
func (s *Store) ListAssignments(ctx context.Context, sid string) ([]*types.Assignment, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT session_id, probe_id, item_type, item_weight, min_alert, max_alert, recipient
		FROM assignments WHERE session_id = ? ORDER BY probe_id`, sid)
	if err != nil {
		return nil, fmt.Errorf("store: list assignments %q: %w", sid, err)
	}
	defer rows.Close()

	out := make([]*types.Assignment, 0)
	for rows.Next() {
		var (
			a         types.Assignment
			itemType  sql.NullString
			weight    sql.NullFloat64
			minAlert  sql.NullFloat64
			maxAlert  sql.NullFloat64
			recipient sql.NullString
		)
		if err := rows.Scan(&a.SessionID, &a.ProbeID, &itemType, &weight, &minAlert, &maxAlert, &recipient); err != nil {
			return nil, fmt.Errorf("store: scan assignment: %w", err)
		}
		a.ItemType = itemType.String
		a.Recipient = recipient.String
		if weight.Valid {
			v := weight.Float64
			a.ItemWeight = &v
		}
		if minAlert.Valid {
			v := minAlert.Float64
			a.MinAlert = &v
		}
		if maxAlert.Valid {
			v := maxAlert.Float64
			a.MaxAlert = &v
		}
		out = append(out, &a)
	}
	return out, rows.Err()
}

// --- item types -------------------------------------------------------------

// ListItemTypes returns the reference catalog of smokable items, sorted by
// name.
func (s *Store) ListItemTypes(ctx context.Context) ([]*types.ItemType, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, COALESCE(description, '') FROM item_types ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("store: list item types: %w", err)
	}
	defer rows.Close()

	var out []*types.ItemType
	for rows.Next() {
		var it types.ItemType
		if err := rows.Scan(&it.Name, &it.Description); err != nil {
			return nil, fmt.Errorf("store: scan item type: %w", err)
		}
		out = append(out, &it)
	}
	return out, rows.Err()
}

// UpsertItemType adds or updates one catalog entry.
func (s *Store) UpsertItemType(ctx context.Context, it types.ItemType) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO item_types (name, description) VALUES (?, ?)
		ON CONFLICT(name) DO UPDATE SET description = excluded.description`,
		it.Name, it.Description,
	)
	if err != nil {
		return fmt.Errorf("store: upsert item type %q: %w", it.Name, err)
	}
	return nil
}

// --- readings ---------------------------------------------------------------

// InsertReading persists one telemetry reading. Epoch 0 is stored as NULL so
// unparseable timestamps never pollute last-reading queries.
func (s *Store) InsertReading(ctx context.Context, r *types.Reading, receivedAt int64) error {
	probes, err := json.Marshal(r.Probes)
	if err != nil {
		return fmt.Errorf("store: encode probes: %w", err)
	}
	epoch := sql.NullInt64{Int64: r.Epoch, Valid: r.Epoch != 0}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO readings (id, session_id, ts_raw, epoch, probes, received_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.SessionID, string(r.Timestamp), epoch, string(probes), receivedAt,
	)
	if err != nil {
		return fmt.Errorf("store: insert reading %q: %w", r.ID, err)
	}
	return nil
}

// LastReadingEpoch returns the newest parseable reading timestamp for sid.
// ok is false when the session has no readings with a usable timestamp.
func (s *Store) LastReadingEpoch(ctx context.Context, sid string) (int64, bool, error) {
	var epoch sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(epoch) FROM readings WHERE session_id = ?`, sid).Scan(&epoch)
	if err != nil {
		return 0, false, fmt.Errorf("store: last reading epoch %q: %w", sid, err)
	}
	return epoch.Int64, epoch.Valid, nil
}

// RecentReadings returns up to limit readings for sid, newest first by
// embedded timestamp (arrival order is not trusted).
func (s *Store) RecentReadings(ctx context.Context, sid string, limit int) ([]*types.Reading, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, ts_raw, epoch, probes
		FROM readings WHERE session_id = ?
		ORDER BY COALESCE(epoch, 0) DESC, received_at DESC
		LIMIT ?`, sid, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent readings %q: %w", sid, err)
	}
	defer rows.Close()

	out := make([]*types.Reading, 0, limit)
	for rows.Next() {
		var (
			r      types.Reading
			tsRaw  sql.NullString
			epoch  sql.NullInt64
			probes string
		)
		if err := rows.Scan(&r.ID, &r.SessionID, &tsRaw, &epoch, &probes); err != nil {
			return nil, fmt.Errorf("store: scan reading: %w", err)
		}
		r.Timestamp = json.RawMessage(tsRaw.String)
		r.Epoch = epoch.Int64
		if err := json.Unmarshal([]byte(probes), &r.Probes); err != nil {
			return nil, fmt.Errorf("store: decode probes for %q: %w", r.ID, err)
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// DistinctSessionIDs returns every session identifier present in the
// readings history. Used by the backfill reconciliation pass.
func (s *Store) DistinctSessionIDs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT session_id FROM readings`)
	if err != nil {
		return nil, fmt.Errorf("store: distinct session ids: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sid string
		if err := rows.Scan(&sid); err != nil {
			return nil, err
		}
		if sid != "" {
			out = append(out, sid)
		}
	}
	return out, rows.Err()
}

// --- dedup gate -------------------------------------------------------------

// GateDirection returns the last alert direction recorded for the probe, or
// "none" when no gate state exists yet.
func (s *Store) GateDirection(ctx context.Context, sid, probeID string) (string, error) {
	var dir string
	err := s.db.QueryRowContext(ctx, `
		SELECT direction FROM gate_state WHERE session_id = ? AND probe_id = ?`,
		sid, probeID).Scan(&dir)
	if errors.Is(err, sql.ErrNoRows) {
		return types.DirectionNone, nil
	}
	if err != nil {
		return "", fmt.Errorf("store: gate direction %s/%s: %w", sid, probeID, err)
	}
	return dir, nil
}

// SetGateDirection records the probe's current alert direction.
func (s *Store) SetGateDirection(ctx context.Context, sid, probeID, direction string, now int64) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO gate_state (session_id, probe_id, direction, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(session_id, probe_id) DO UPDATE SET
			direction = excluded.direction,
			updated_at = excluded.updated_at`,
		sid, probeID, direction, now,
	)
	if err != nil {
		return fmt.Errorf("store: set gate %s/%s: %w", sid, probeID, err)
	}
	return nil
}

// --- alert history ----------------------------------------------------------

// InsertAlert appends one delivered alert to the history.
func (s *Store) InsertAlert(ctx context.Context, a *types.AlertEvent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alerts (id, session_id, probe_id, direction, value, threshold, recipient, fired_at, message)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SessionID, a.ProbeID, a.Direction, a.Value, a.Threshold, a.Recipient, a.FiredAt, a.Message,
	)
	if err != nil {
		return fmt.Errorf("store: insert alert %q: %w", a.ID, err)
	}
	return nil
}

// RecentAlerts returns up to limit alerts, newest first.
func (s *Store) RecentAlerts(ctx context.Context, limit int) ([]*types.AlertEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, session_id, probe_id, direction, value, threshold, recipient, fired_at, message
		FROM alerts ORDER BY fired_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: recent alerts: %w", err)
	}
	defer rows.Close()

	out := make([]*types.AlertEvent, 0, limit)
	for rows.Next() {
		var (
			a         types.AlertEvent
			recipient sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.SessionID, &a.ProbeID, &a.Direction, &a.Value,
			&a.Threshold, &recipient, &a.FiredAt, &a.Message); err != nil {
			return nil, fmt.Errorf("store: scan alert: %w", err)
		}
		a.Recipient = recipient.String
		out = append(out, &a)
	}
	return out, rows.Err()
}
