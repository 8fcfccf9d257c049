package playlist

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mattn/go-sqlite3"
)

// SQLiteStore persists records in a single SQLite table. Insertion order is
// the autoincrement sequence, so ListAll never depends on wall-clock time.
type SQLiteStore struct {
	conn *sql.DB

	insertStmt *sql.Stmt
	listStmt   *sql.Stmt
	getStmt    *sql.Stmt
	countStmt  *sql.Stmt
}

const createSubmissionsTable = `
CREATE TABLE IF NOT EXISTS submissions (
	seq INTEGER PRIMARY KEY AUTOINCREMENT,
	id TEXT NOT NULL UNIQUE,
	url TEXT NOT NULL,
	effect_mode TEXT NOT NULL,
	created_at TEXT NOT NULL
);`

// OpenSQLite opens (or creates) the database at path. WAL journaling with
// synchronous=FULL makes a committed append durable before Append returns.
func OpenSQLite(path string) (*SQLiteStore, error) {
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000&_txlock=immediate", path)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	conn.SetMaxOpenConns(4)
	conn.SetMaxIdleConns(2)
	conn.SetConnMaxLifetime(15 * time.Minute)

	if _, err := conn.Exec(createSubmissionsTable); err != nil {
		conn.Close()
		return nil, fmt.Errorf("create tables: %w", err)
	}

	s := &SQLiteStore{conn: conn}
	if err := s.prepareStatements(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("prepare statements: %w", err)
	}
	return s, nil
}

func (s *SQLiteStore) prepareStatements() error {
	var err error
	if s.insertStmt, err = s.conn.Prepare(
		`INSERT INTO submissions (id, url, effect_mode, created_at) VALUES (?, ?, ?, ?)`); err != nil {
		return err
	}
	if s.listStmt, err = s.conn.Prepare(
		`SELECT id, url, effect_mode, created_at FROM submissions ORDER BY seq`); err != nil {
		return err
	}
	if s.getStmt, err = s.conn.Prepare(
		`SELECT id, url, effect_mode, created_at FROM submissions WHERE id = ?`); err != nil {
		return err
	}
	if s.countStmt, err = s.conn.Prepare(`SELECT COUNT(*) FROM submissions`); err != nil {
		return err
	}
	return nil
}

// Append implements Store.Append.
func (s *SQLiteStore) Append(ctx context.Context, rec Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	_, err := s.insertStmt.ExecContext(ctx,
		rec.ID, rec.URL, string(rec.EffectMode), rec.CreatedAt.UTC().Format(time.RFC3339Nano))
	if err != nil {
		var se sqlite3.Error
		if errors.As(err, &se) && se.ExtendedCode == sqlite3.ErrConstraintUnique {
			return ErrDuplicateID
		}
		return unavailable("append", err)
	}
	return nil
}

// ListAll implements Store.ListAll.
func (s *SQLiteStore) ListAll(ctx context.Context) ([]Record, error) {
	rows, err := s.listStmt.QueryContext(ctx)
	if err != nil {
		return nil, unavailable("list", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, unavailable("list", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list", err)
	}
	return out, nil
}

// Get implements Store.Get.
func (s *SQLiteStore) Get(ctx context.Context, id string) (Record, bool, error) {
	rec, err := scanRecord(s.getStmt.QueryRowContext(ctx, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, unavailable("get", err)
	}
	return rec, true, nil
}

// Count implements Store.Count.
func (s *SQLiteStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.countStmt.QueryRowContext(ctx).Scan(&n); err != nil {
		return 0, unavailable("count", err)
	}
	return n, nil
}

// Close releases prepared statements and the connection pool.
func (s *SQLiteStore) Close() error {
	for _, st := range []*sql.Stmt{s.insertStmt, s.listStmt, s.getStmt, s.countStmt} {
		if st != nil {
			st.Close()
		}
	}
	return s.conn.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		rec       Record
		mode      string
		createdAt string
	)
	if err := row.Scan(&rec.ID, &rec.URL, &mode, &createdAt); err != nil {
		return Record{}, err
	}
	rec.EffectMode = EffectMode(mode)
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Record{}, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = t
	return rec, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %v", ErrStoreUnavailable, op, err)
}
