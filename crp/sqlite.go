package crp

import (
	"context"
	"database/sql"
	"sync"
	"time"

	"github.com/pkg/errors"
	_ "modernc.org/sqlite"

	"github.com/gregschmit/puflib/bitstr"
	"github.com/gregschmit/puflib/puf"
)

// SQLiteStore keeps enrollments in a single-file SQLite database.
//
// Schema:
//   - devices: one row per enrolled device
//   - crps: one row per recorded pair, keyed by (device_id, idx)
//
// Use ":memory:" for a throwaway database.
type SQLiteStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	closed bool
}

// NewSQLiteStore opens (creating if needed) the database at path.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	// SQLite supports one writer at a time; a single connection also keeps
	// ":memory:" databases alive.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	ctx := context.Background()
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA foreign_keys=ON",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, errors.Wrapf(err, "sqlite %q", pragma)
		}
	}
	s := &SQLiteStore{db: db}
	if err := s.createTables(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "create tables")
	}
	return s, nil
}

func (s *SQLiteStore) createTables(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS devices (
			id TEXT PRIMARY KEY,
			kind TEXT NOT NULL,
			stages INTEGER NOT NULL,
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS crps (
			device_id TEXT NOT NULL REFERENCES devices(id) ON DELETE CASCADE,
			idx INTEGER NOT NULL,
			challenge TEXT NOT NULL,
			response TEXT NOT NULL,
			stability REAL NOT NULL,
			used INTEGER NOT NULL DEFAULT 0,
			PRIMARY KEY (device_id, idx)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_crps_unused ON crps(device_id, used)`,
	}
	for _, q := range stmts {
		if _, err := s.db.ExecContext(ctx, q); err != nil {
			return err
		}
	}
	return nil
}

func (s *SQLiteStore) check() error {
	if s.closed {
		return errors.New("crp: store is closed")
	}
	return nil
}

// Save replaces any previous enrollment of the same device.
func (s *SQLiteStore) Save(ctx context.Context, e *Enrollment) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM crps WHERE device_id = ?`, e.DeviceID); err != nil {
		return errors.Wrap(err, "clear crps")
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM devices WHERE id = ?`, e.DeviceID); err != nil {
		return errors.Wrap(err, "clear device")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO devices (id, kind, stages, created_at) VALUES (?, ?, ?, ?)`,
		e.DeviceID, string(e.Kind), e.Stages, e.CreatedAt.UTC().Format(time.RFC3339Nano),
	); err != nil {
		return errors.Wrap(err, "insert device")
	}
	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO crps (device_id, idx, challenge, response, stability, used) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "prepare crps")
	}
	defer stmt.Close()
	for i, r := range e.CRPs {
		used := 0
		if r.Used {
			used = 1
		}
		if _, err := stmt.ExecContext(ctx, e.DeviceID, i, string(r.Challenge), r.Response.String(), r.Stability, used); err != nil {
			return errors.Wrapf(err, "insert pair %d", i)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

func (s *SQLiteStore) Load(ctx context.Context, id string) (*Enrollment, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	e := &Enrollment{DeviceID: id}
	var kind, created string
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, stages, created_at FROM devices WHERE id = ?`, id,
	).Scan(&kind, &e.Stages, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "query device")
	}
	e.Kind = puf.Kind(kind)
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT challenge, response, stability, used FROM crps WHERE device_id = ? ORDER BY idx`, id)
	if err != nil {
		return nil, errors.Wrap(err, "query crps")
	}
	defer rows.Close()
	for rows.Next() {
		var (
			ch, resp string
			rec      Record
			used     int
		)
		if err := rows.Scan(&ch, &resp, &rec.Stability, &used); err != nil {
			return nil, errors.Wrap(err, "scan pair")
		}
		if rec.Challenge, err = bitstr.Parse(ch); err != nil {
			return nil, err
		}
		if err := rec.Response.UnmarshalText([]byte(resp)); err != nil {
			return nil, err
		}
		rec.Used = used != 0
		e.CRPs = append(e.CRPs, rec)
	}
	return e, errors.Wrap(rows.Err(), "iterate crps")
}

func (s *SQLiteStore) List(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if err := s.check(); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM devices ORDER BY id`)
	if err != nil {
		return nil, errors.Wrap(err, "query devices")
	}
	defer rows.Close()
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan device")
		}
		ids = append(ids, id)
	}
	return ids, errors.Wrap(rows.Err(), "iterate devices")
}

func (s *SQLiteStore) MarkUsed(ctx context.Context, id string, idx []int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()
	for _, i := range idx {
		res, err := tx.ExecContext(ctx, `UPDATE crps SET used = 1 WHERE device_id = ? AND idx = ?`, id, i)
		if err != nil {
			return errors.Wrapf(err, "mark pair %d", i)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return errors.Wrapf(ErrNotFound, "%s pair %d", id, i)
		}
	}
	return errors.Wrap(tx.Commit(), "commit")
}

// Claim selects and marks pairs in one transaction. Each update is guarded
// by used = 0 so a pair spent by another connection aborts the claim.
func (s *SQLiteStore) Claim(ctx context.Context, id string, n int) ([]int, []Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.check(); err != nil {
		return nil, nil, err
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback() }()

	var one int
	err = tx.QueryRowContext(ctx, `SELECT 1 FROM devices WHERE id = ?`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil, errors.Wrapf(ErrNotFound, "%s", id)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "query device")
	}
	rows, err := tx.QueryContext(ctx,
		`SELECT idx, challenge, response, stability FROM crps WHERE device_id = ? AND used = 0 ORDER BY idx LIMIT ?`, id, n)
	if err != nil {
		return nil, nil, errors.Wrap(err, "query unused")
	}
	var (
		picked []int
		recs   []Record
	)
	for rows.Next() {
		var (
			idx      int
			ch, resp string
			rec      Record
		)
		if err := rows.Scan(&idx, &ch, &resp, &rec.Stability); err != nil {
			rows.Close()
			return nil, nil, errors.Wrap(err, "scan pair")
		}
		if rec.Challenge, err = bitstr.Parse(ch); err != nil {
			rows.Close()
			return nil, nil, err
		}
		if err := rec.Response.UnmarshalText([]byte(resp)); err != nil {
			rows.Close()
			return nil, nil, err
		}
		rec.Used = true
		picked = append(picked, idx)
		recs = append(recs, rec)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, nil, errors.Wrap(err, "iterate unused")
	}
	if len(picked) < n {
		return nil, nil, errors.Wrapf(ErrExhausted, "%d left, %d requested", len(picked), n)
	}
	for _, idx := range picked {
		res, err := tx.ExecContext(ctx, `UPDATE crps SET used = 1 WHERE device_id = ? AND idx = ? AND used = 0`, id, idx)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "claim pair %d", idx)
		}
		if ra, err := res.RowsAffected(); err != nil || ra != 1 {
			return nil, nil, errors.Wrapf(ErrExhausted, "pair %d claimed concurrently", idx)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, nil, errors.Wrap(err, "commit")
	}
	return picked, recs, nil
}

func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}
