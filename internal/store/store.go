// Package store persists segmented transcripts and their block rows in
// SQLite or PostgreSQL.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/dgallion1/callgest/internal/results"
)

// Supported drivers.
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// ErrDuplicate is returned by SaveTranscript when a transcript with the same
// content hash and no failed blocks is already stored.
var ErrDuplicate = errors.New("transcript already stored")

// TranscriptRecord is the per-file header row.
type TranscriptRecord struct {
	ID          string    `json:"id"`
	Filename    string    `json:"filename"`
	ContentHash string    `json:"content_hash"`
	Ticker      string    `json:"ticker,omitempty"`
	Quarter     string    `json:"quarter,omitempty"`
	Year        string    `json:"year,omitempty"`
	Date        string    `json:"date,omitempty"`
	ExtraID     string    `json:"extra_id,omitempty"`
	Degraded    bool      `json:"degraded"`
	Blocks      int       `json:"blocks"`
	CreatedAt   time.Time `json:"created_at"`
}

// Store wraps a database/sql handle.
type Store struct {
	db     *sql.DB
	driver string
}

// Open connects to the database and applies pending migrations.
func Open(ctx context.Context, driver, dsn string) (*Store, error) {
	switch driver {
	case DriverSQLite, DriverPostgres:
	case "postgresql":
		driver = DriverPostgres
	default:
		return nil, fmt.Errorf("unsupported db driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if driver == DriverSQLite {
		// A single connection keeps :memory: databases shared and avoids
		// SQLITE_BUSY from concurrent writers.
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	s := &Store{db: db, driver: driver}
	if err := s.migrate(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// rebind rewrites ? placeholders as $n for PostgreSQL.
func (s *Store) rebind(query string) string {
	if s.driver != DriverPostgres {
		return query
	}
	var sb strings.Builder
	sb.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

var migrations = []struct {
	name  string
	stmts []string
}{
	{
		name: "001_transcripts_blocks",
		stmts: []string{
			`CREATE TABLE IF NOT EXISTS transcripts (
				id TEXT PRIMARY KEY,
				filename TEXT NOT NULL,
				content_hash TEXT NOT NULL,
				ticker TEXT NOT NULL DEFAULT '',
				quarter TEXT NOT NULL DEFAULT '',
				year TEXT NOT NULL DEFAULT '',
				date TEXT NOT NULL DEFAULT '',
				extra_id TEXT NOT NULL DEFAULT '',
				degraded BOOLEAN NOT NULL DEFAULT FALSE,
				blocks INTEGER NOT NULL DEFAULT 0,
				created_at BIGINT NOT NULL
			)`,
			`CREATE UNIQUE INDEX IF NOT EXISTS transcripts_content_hash ON transcripts (content_hash)`,
			`CREATE TABLE IF NOT EXISTS blocks (
				transcript_id TEXT NOT NULL REFERENCES transcripts(id) ON DELETE CASCADE,
				block_index INTEGER NOT NULL,
				section TEXT NOT NULL DEFAULT '',
				speaker_role TEXT NOT NULL DEFAULT '',
				text TEXT NOT NULL DEFAULT '',
				sentiment_json TEXT NOT NULL DEFAULT '',
				revenue TEXT NOT NULL DEFAULT '',
				expenses TEXT NOT NULL DEFAULT '',
				profitability TEXT NOT NULL DEFAULT '',
				guidance TEXT NOT NULL DEFAULT '',
				uncertainty TEXT NOT NULL DEFAULT '',
				error TEXT NOT NULL DEFAULT '',
				PRIMARY KEY (transcript_id, block_index)
			)`,
		},
	},
}

func (s *Store) migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS migrations (
		name TEXT PRIMARY KEY,
		applied_at BIGINT NOT NULL
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	for _, m := range migrations {
		var exists int
		err := s.db.QueryRowContext(ctx, s.rebind(`SELECT COUNT(*) FROM migrations WHERE name = ?`), m.name).Scan(&exists)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", m.name, err)
		}
		if exists > 0 {
			continue
		}

		tx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", m.name, err)
		}
		for _, stmt := range m.stmts {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				tx.Rollback()
				return fmt.Errorf("migration %s: %w", m.name, err)
			}
		}
		if _, err := tx.ExecContext(ctx, s.rebind(`INSERT INTO migrations (name, applied_at) VALUES (?, ?)`), m.name, time.Now().Unix()); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", m.name, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", m.name, err)
		}
	}
	return nil
}

// SaveTranscript stores rec and its block rows in one transaction. An empty
// rec.ID is filled with a new UUID; the stored record is returned. File-level
// error rows (BlockIndex 0) are not stored.
//
// A stored transcript with the same hash is replaced when any of its blocks
// failed; otherwise the save returns ErrDuplicate.
func (s *Store) SaveTranscript(ctx context.Context, rec TranscriptRecord, rows []results.Row) (TranscriptRecord, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return rec, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	var existingID string
	var failedBlocks int
	err = tx.QueryRowContext(ctx, s.rebind(`
		SELECT t.id, (SELECT COUNT(*) FROM blocks b WHERE b.transcript_id = t.id AND b.error <> '')
		FROM transcripts t
		WHERE t.content_hash = ?`), rec.ContentHash).Scan(&existingID, &failedBlocks)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return rec, fmt.Errorf("check content hash: %w", err)
	case failedBlocks == 0:
		return rec, ErrDuplicate
	default:
		if err := deleteTranscript(ctx, tx, s.rebind, existingID); err != nil {
			return rec, err
		}
	}

	_, err = tx.ExecContext(ctx, s.rebind(`
		INSERT INTO transcripts (id, filename, content_hash, ticker, quarter, year, date, extra_id, degraded, blocks, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		rec.ID, rec.Filename, rec.ContentHash, rec.Ticker, rec.Quarter, rec.Year,
		rec.Date, rec.ExtraID, rec.Degraded, rec.Blocks, rec.CreatedAt.Unix())
	if isUniqueViolation(err) {
		// A concurrent save of the same content committed first.
		return rec, ErrDuplicate
	}
	if err != nil {
		return rec, fmt.Errorf("insert transcript: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, s.rebind(`
		INSERT INTO blocks (transcript_id, block_index, section, speaker_role, text, sentiment_json,
			revenue, expenses, profitability, guidance, uncertainty, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`))
	if err != nil {
		return rec, fmt.Errorf("prepare block insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range rows {
		if r.BlockIndex <= 0 {
			continue
		}
		if _, err := stmt.ExecContext(ctx, rec.ID, r.BlockIndex, r.Section, r.SpeakerRole, r.Text,
			r.SentimentJSON, r.Revenue, r.Expenses, r.Profitability, r.Guidance, r.Uncertainty, r.Error); err != nil {
			return rec, fmt.Errorf("insert block %d: %w", r.BlockIndex, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return rec, fmt.Errorf("commit: %w", err)
	}
	return rec, nil
}

// FindByHash returns the transcript with the given content hash, or nil if
// none was stored. Transcripts with failed blocks are not returned, so their
// content is classified again on resubmission.
func (s *Store) FindByHash(ctx context.Context, hash string) (*TranscriptRecord, error) {
	row := s.db.QueryRowContext(ctx, s.rebind(`
		SELECT id, filename, content_hash, ticker, quarter, year, date, extra_id, degraded, blocks, created_at
		FROM transcripts t
		WHERE content_hash = ?
		AND NOT EXISTS (SELECT 1 FROM blocks b WHERE b.transcript_id = t.id AND b.error <> '')`), hash)

	var rec TranscriptRecord
	var createdAt int64
	err := row.Scan(&rec.ID, &rec.Filename, &rec.ContentHash, &rec.Ticker, &rec.Quarter,
		&rec.Year, &rec.Date, &rec.ExtraID, &rec.Degraded, &rec.Blocks, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan transcript: %w", err)
	}
	rec.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &rec, nil
}

func deleteTranscript(ctx context.Context, tx *sql.Tx, rebind func(string) string, id string) error {
	if _, err := tx.ExecContext(ctx, rebind(`DELETE FROM blocks WHERE transcript_id = ?`), id); err != nil {
		return fmt.Errorf("delete blocks of %s: %w", id, err)
	}
	if _, err := tx.ExecContext(ctx, rebind(`DELETE FROM transcripts WHERE id = ?`), id); err != nil {
		return fmt.Errorf("delete transcript %s: %w", id, err)
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return pqErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) {
		code := liteErr.Code()
		return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT
	}
	return false
}

// Rows returns the stored block rows of a transcript in block order, with
// the transcript metadata filled in.
func (s *Store) Rows(ctx context.Context, transcriptID string) ([]results.Row, error) {
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT t.filename, t.ticker, t.quarter, t.year, t.date, t.extra_id,
			b.block_index, b.section, b.speaker_role, b.text, b.sentiment_json,
			b.revenue, b.expenses, b.profitability, b.guidance, b.uncertainty, b.error
		FROM blocks b
		JOIN transcripts t ON t.id = b.transcript_id
		WHERE b.transcript_id = ?
		ORDER BY b.block_index ASC`), transcriptID)
	if err != nil {
		return nil, fmt.Errorf("query blocks: %w", err)
	}
	defer rows.Close()

	var out []results.Row
	for rows.Next() {
		var r results.Row
		if err := rows.Scan(&r.Filename, &r.Ticker, &r.Quarter, &r.Year, &r.Date, &r.ExtraID,
			&r.BlockIndex, &r.Section, &r.SpeakerRole, &r.Text, &r.SentimentJSON,
			&r.Revenue, &r.Expenses, &r.Profitability, &r.Guidance, &r.Uncertainty, &r.Error); err != nil {
			return nil, fmt.Errorf("scan block: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Transcripts lists stored transcripts, newest first.
func (s *Store) Transcripts(ctx context.Context, limit int) ([]TranscriptRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, s.rebind(`
		SELECT id, filename, content_hash, ticker, quarter, year, date, extra_id, degraded, blocks, created_at
		FROM transcripts
		ORDER BY created_at DESC, filename ASC
		LIMIT ?`), limit)
	if err != nil {
		return nil, fmt.Errorf("query transcripts: %w", err)
	}
	defer rows.Close()

	var out []TranscriptRecord
	for rows.Next() {
		var rec TranscriptRecord
		var createdAt int64
		if err := rows.Scan(&rec.ID, &rec.Filename, &rec.ContentHash, &rec.Ticker, &rec.Quarter,
			&rec.Year, &rec.Date, &rec.ExtraID, &rec.Degraded, &rec.Blocks, &createdAt); err != nil {
			return nil, fmt.Errorf("scan transcript: %w", err)
		}
		rec.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, rec)
	}
	return out, rows.Err()
}
