package inlineimages

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Store is the SQLite node store for content records. It implements Source.
type Store struct {
	db *sql.DB
}

// NewStore opens (or creates) the SQLite database at path, ensures the data
// directory exists, and creates the schema.
func NewStore(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// WAL lets the preview server read while a run writes; the busy timeout
	// makes writers wait instead of failing with SQLITE_BUSY.
	if _, err := db.Exec(`
		PRAGMA journal_mode=WAL;
		PRAGMA busy_timeout=5000;
		PRAGMA synchronous=NORMAL;
		PRAGMA cache_size=-8000;
	`); err != nil {
		db.Close()
		return nil, err
	}
	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(4)
	s := &Store{db: db}
	if err := s.ensureSchema(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) ensureSchema() error {
	_, err := s.db.Exec(`
CREATE TABLE IF NOT EXISTS records (
    id TEXT PRIMARY KEY,
    type TEXT NOT NULL,
    owner TEXT NOT NULL,
    content TEXT NOT NULL,
    auxiliary TEXT NOT NULL DEFAULT '',
    updated_at TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS records_owner_type ON records (owner, type);
`)
	return err
}

const recordColumns = `id, type, owner, content, auxiliary, updated_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*ContentRecord, error) {
	var rec ContentRecord
	var aux, updated string
	if err := row.Scan(&rec.ID, &rec.Type, &rec.Owner, &rec.Content, &aux, &updated); err != nil {
		return nil, err
	}
	if aux != "" {
		if err := json.Unmarshal([]byte(aux), &rec.Auxiliary); err != nil {
			return nil, fmt.Errorf("record %s: decode auxiliary: %w", rec.ID, err)
		}
	}
	if updated != "" {
		if t, err := time.Parse(time.RFC3339Nano, updated); err == nil {
			rec.UpdatedAt = t
		}
	}
	return &rec, nil
}

// Records returns every record ordered by id.
func (s *Store) Records(ctx context.Context) ([]*ContentRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+recordColumns+` FROM records ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*ContentRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

// Record returns a single record by id.
func (s *Store) Record(ctx context.Context, id string) (*ContentRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+recordColumns+` FROM records WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return rec, err
}

// Save upserts rec and stamps UpdatedAt.
func (s *Store) Save(ctx context.Context, rec *ContentRecord) error {
	return s.save(ctx, s.db, rec)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func (s *Store) save(ctx context.Context, db execer, rec *ContentRecord) error {
	if rec.ID == "" {
		return errors.New("record id is required")
	}
	aux := ""
	if rec.Auxiliary != nil {
		b, err := json.Marshal(rec.Auxiliary)
		if err != nil {
			return fmt.Errorf("record %s: encode auxiliary: %w", rec.ID, err)
		}
		aux = string(b)
	}
	rec.UpdatedAt = time.Now().UTC()
	_, err := db.ExecContext(ctx, `INSERT OR REPLACE INTO records (`+recordColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Type, rec.Owner, rec.Content, aux, rec.UpdatedAt.Format(time.RFC3339Nano))
	return err
}

// Import saves recs in one transaction.
func (s *Store) Import(ctx context.Context, recs []*ContentRecord) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		if err := s.save(ctx, tx, rec); err != nil {
			tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// Delete removes a record by id.
func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM records WHERE id = ?`, id)
	return err
}
