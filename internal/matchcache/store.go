package matchcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/joelkehle/tmsearch/internal/tmsearch"
)

// Store persists match records keyed by (term, source).
type Store interface {
	Get(ctx context.Context, term string) (map[string]tmsearch.RawRecord, error)
	GetBySource(ctx context.Context, term string, source tmsearch.Source) (tmsearch.RawRecord, bool, error)
	Put(ctx context.Context, rec tmsearch.RawRecord) (tmsearch.RawRecord, error)
	Ping(ctx context.Context) error
}

// SQLiteStore keeps one row per term and source. The full record is kept
// as JSON so fields written by newer stage scripts survive a round trip.
type SQLiteStore struct {
	db  *sqlx.DB
	now func() time.Time
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS matches (
	term        TEXT NOT NULL,
	source      TEXT NOT NULL,
	record      TEXT NOT NULL,
	search_date TEXT NOT NULL DEFAULT '',
	updated_at  TEXT NOT NULL,
	PRIMARY KEY (term, source)
);
`

type matchRow struct {
	Term       string `db:"term"`
	Source     string `db:"source"`
	Record     string `db:"record"`
	SearchDate string `db:"search_date"`
	UpdatedAt  string `db:"updated_at"`
}

func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite", dbPath+"?_pragma=journal_mode(wal)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Get(ctx context.Context, term string) (map[string]tmsearch.RawRecord, error) {
	var rows []matchRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT term, source, record, search_date, updated_at FROM matches WHERE term = ? ORDER BY source`,
		normalizeTerm(term))
	if err != nil {
		return nil, fmt.Errorf("select matches: %w", err)
	}
	out := make(map[string]tmsearch.RawRecord, len(rows))
	for _, row := range rows {
		rec, err := row.decode()
		if err != nil {
			return nil, err
		}
		out[row.Source] = rec
	}
	return out, nil
}

func (s *SQLiteStore) GetBySource(ctx context.Context, term string, source tmsearch.Source) (tmsearch.RawRecord, bool, error) {
	var row matchRow
	err := s.db.GetContext(ctx, &row,
		`SELECT term, source, record, search_date, updated_at FROM matches WHERE term = ? AND source = ?`,
		normalizeTerm(term), string(source))
	if errors.Is(err, sql.ErrNoRows) {
		return tmsearch.RawRecord{}, false, nil
	}
	if err != nil {
		return tmsearch.RawRecord{}, false, fmt.Errorf("select match: %w", err)
	}
	rec, err := row.decode()
	if err != nil {
		return tmsearch.RawRecord{}, false, err
	}
	return rec, true, nil
}

// Put upserts rec under its lowercased term. The record itself keeps the
// term as entered and a missing search date is stamped with the current time.
func (s *SQLiteStore) Put(ctx context.Context, rec tmsearch.RawRecord) (tmsearch.RawRecord, error) {
	key := normalizeTerm(rec.TermValue())
	if key == "" || strings.TrimSpace(string(rec.Source)) == "" {
		return tmsearch.RawRecord{}, tmsearch.NewValidationError("term and source are required")
	}
	rec.Term = rec.TermValue()
	now := s.now().UTC()
	if rec.SearchDate == "" {
		rec.SearchDate = now.Format(time.RFC3339)
	}
	blob, err := json.Marshal(rec)
	if err != nil {
		return tmsearch.RawRecord{}, fmt.Errorf("encode match: %w", err)
	}
	_, err = s.db.NamedExecContext(ctx, `
		INSERT INTO matches (term, source, record, search_date, updated_at)
		VALUES (:term, :source, :record, :search_date, :updated_at)
		ON CONFLICT(term, source) DO UPDATE SET
			record = excluded.record,
			search_date = excluded.search_date,
			updated_at = excluded.updated_at`,
		matchRow{
			Term:       key,
			Source:     string(rec.Source),
			Record:     string(blob),
			SearchDate: rec.SearchDate,
			UpdatedAt:  now.Format(time.RFC3339Nano),
		})
	if err != nil {
		return tmsearch.RawRecord{}, fmt.Errorf("upsert match: %w", err)
	}
	return rec, nil
}

func (r matchRow) decode() (tmsearch.RawRecord, error) {
	var rec tmsearch.RawRecord
	if err := json.Unmarshal([]byte(r.Record), &rec); err != nil {
		return tmsearch.RawRecord{}, fmt.Errorf("decode match %s/%s: %w", r.Term, r.Source, err)
	}
	return rec, nil
}
