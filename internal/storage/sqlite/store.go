// Package sqlite provides a single-file indicator repository backed by the
// pure-Go modernc SQLite driver.
package sqlite

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode"

	msqlite "modernc.org/sqlite"

	"github.com/JakeFAU/indicator-analyzer/internal/clock/system"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

// foldFunc lowercases with Unicode rules; the builtin LOWER only folds ASCII.
const foldFunc = "fold_lower"

func init() {
	msqlite.MustRegisterDeterministicScalarFunction(foldFunc, 1, foldLower)
}

func foldLower(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
	switch v := args[0].(type) {
	case nil:
		return nil, nil
	case string:
		return strings.ToLower(v), nil
	case []byte:
		return strings.ToLower(string(v)), nil
	default:
		return v, nil
	}
}

// Memory opens a private in-memory database.
const Memory = ":memory:"

// timeLayout is fixed width so text comparison orders chronologically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

const schema = `
CREATE TABLE IF NOT EXISTS indicators (
	id                   INTEGER PRIMARY KEY AUTOINCREMENT,
	url                  TEXT NOT NULL UNIQUE,
	name                 TEXT NOT NULL,
	description          TEXT NOT NULL DEFAULT '',
	functionality        TEXT NOT NULL DEFAULT '',
	usage_guidelines     TEXT NOT NULL DEFAULT '',
	user_feedback        TEXT NOT NULL DEFAULT '{}',
	additional_insights  TEXT NOT NULL DEFAULT '',
	profitability_rating INTEGER NOT NULL CHECK (profitability_rating BETWEEN 0 AND 10),
	reliability_rating   INTEGER NOT NULL CHECK (reliability_rating BETWEEN 0 AND 10),
	placeholder          INTEGER NOT NULL DEFAULT 0,
	raw_data             TEXT,
	analyzed_date        TEXT NOT NULL,
	created_at           TEXT NOT NULL,
	updated_at           TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS indicators_created_at_idx ON indicators (created_at);

CREATE TABLE IF NOT EXISTS analysis_logs (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	indicator_url  TEXT NOT NULL,
	status         TEXT NOT NULL,
	stage          TEXT NOT NULL,
	error_message  TEXT,
	execution_time REAL NOT NULL,
	created_at     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS analysis_logs_url_idx ON analysis_logs (indicator_url, created_at);
`

// Store implements indicator.Repository on SQLite.
type Store struct {
	db    *sql.DB
	clock indicator.Clock
}

var _ indicator.Repository = (*Store)(nil)

// Open opens (creating when missing) the database at path and applies the
// schema. Pass Memory for a throwaway database.
func Open(ctx context.Context, path string, clock indicator.Clock) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	if clock == nil {
		clock = system.New()
	}
	dsn := path
	if path != Memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
		dsn = "file:" + path +
			"?_pragma=busy_timeout(10000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if path == Memory {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, &indicator.PersistenceError{Op: "ensure schema", Err: err}
	}
	return &Store{db: db, clock: clock}, nil
}

// Snapshot writes a consistent copy of the database to path, which must not
// exist yet.
func (s *Store) Snapshot(ctx context.Context, path string) error {
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("snapshot target %s already exists", path)
	}
	if _, err := s.db.ExecContext(ctx, "VACUUM INTO ?", path); err != nil {
		return &indicator.PersistenceError{Op: "snapshot", Err: err}
	}
	return nil
}

// Close releases the database handle.
func (s *Store) Close() {
	if s == nil || s.db == nil {
		return
	}
	_ = s.db.Close()
}

const upsertSQL = `
INSERT INTO indicators (
	url, name, description, functionality, usage_guidelines, user_feedback,
	additional_insights, profitability_rating, reliability_rating, placeholder,
	raw_data, analyzed_date, created_at, updated_at
) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT (url) DO UPDATE SET
	name = excluded.name,
	description = excluded.description,
	functionality = excluded.functionality,
	usage_guidelines = excluded.usage_guidelines,
	user_feedback = excluded.user_feedback,
	additional_insights = excluded.additional_insights,
	profitability_rating = excluded.profitability_rating,
	reliability_rating = excluded.reliability_rating,
	placeholder = excluded.placeholder,
	raw_data = excluded.raw_data,
	analyzed_date = excluded.analyzed_date,
	updated_at = excluded.updated_at`

// Upsert inserts the record or fully replaces the row with the same URL.
func (s *Store) Upsert(ctx context.Context, record indicator.AnalysisRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	feedback, err := json.Marshal(record.UserFeedback)
	if err != nil {
		return fmt.Errorf("marshal user feedback: %w", err)
	}
	var raw any
	if len(record.RawData) > 0 {
		raw = string(record.RawData)
	}
	now := s.clock.Now()
	analyzedAt := record.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = now
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &indicator.PersistenceError{Op: "upsert", Err: fmt.Errorf("begin: %w", err)}
	}
	_, err = tx.ExecContext(ctx, upsertSQL,
		record.URL,
		record.Title,
		record.Description,
		record.Functionality,
		record.UsageGuidelines,
		string(feedback),
		record.AdditionalInsights,
		record.ProfitabilityRating,
		record.ReliabilityRating,
		record.Placeholder,
		raw,
		formatTime(analyzedAt),
		formatTime(now),
		formatTime(now),
	)
	if err != nil {
		_ = tx.Rollback()
		return &indicator.PersistenceError{Op: "upsert", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &indicator.PersistenceError{Op: "upsert", Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

const selectColumns = `id, url, name, description, functionality, usage_guidelines, user_feedback,
	additional_insights, profitability_rating, reliability_rating, placeholder, raw_data,
	analyzed_date, created_at, updated_at`

// Get returns the record stored for url.
func (s *Store) Get(ctx context.Context, url string) (indicator.AnalysisRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM indicators WHERE url = ?`, url)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return indicator.AnalysisRecord{}, indicator.ErrNotFound
	}
	if err != nil {
		return indicator.AnalysisRecord{}, &indicator.PersistenceError{Op: "get", Err: err}
	}
	return rec, nil
}

// ListAll returns every record ordered by id.
func (s *Store) ListAll(ctx context.Context) ([]indicator.AnalysisRecord, error) {
	return s.queryRecords(ctx, "list", `SELECT `+selectColumns+` FROM indicators ORDER BY id`)
}

// Search applies the AND-composed filters, newest first.
func (s *Store) Search(ctx context.Context, filters indicator.SearchFilters) ([]indicator.AnalysisRecord, error) {
	f := filters.Normalize()
	var (
		where []string
		args  []any
	)
	if q := strings.TrimSpace(f.Query); q != "" {
		pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
		where = append(where, `(`+foldFunc+`(name) LIKE ? ESCAPE '\' OR `+foldFunc+`(functionality) LIKE ? ESCAPE '\')`)
		args = append(args, pattern, pattern)
	}
	if f.MinProfitability != nil {
		where = append(where, "profitability_rating >= ?")
		args = append(args, *f.MinProfitability)
	}
	if f.MinReliability != nil {
		where = append(where, "reliability_rating >= ?")
		args = append(args, *f.MinReliability)
	}
	if f.CreatedFrom != nil {
		where = append(where, "created_at >= ?")
		args = append(args, formatTime(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		where = append(where, "created_at <= ?")
		args = append(args, formatTime(*f.CreatedTo))
	}
	query := `SELECT ` + selectColumns + ` FROM indicators`
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?"
	args = append(args, f.Limit, f.Offset)
	return s.queryRecords(ctx, "search", query, args...)
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

// Statistics aggregates the live record set at call time.
func (s *Store) Statistics(ctx context.Context) (indicator.Statistics, error) {
	since := formatTime(s.clock.Now().Add(-indicator.RecentWindow))
	var st indicator.Statistics
	err := s.db.QueryRowContext(ctx, `
SELECT COUNT(*),
	COALESCE(AVG(profitability_rating), 0),
	COALESCE(AVG(reliability_rating), 0),
	COALESCE(SUM(CASE WHEN created_at >= ? THEN 1 ELSE 0 END), 0)
FROM indicators`, since).Scan(&st.TotalCount, &st.AvgProfitability, &st.AvgReliability, &st.RecentCount)
	if err != nil {
		return indicator.Statistics{}, &indicator.PersistenceError{Op: "statistics", Err: err}
	}
	return st, nil
}

// TopRated returns the records with the highest combined rating.
func (s *Store) TopRated(ctx context.Context, limit int) ([]indicator.AnalysisRecord, error) {
	if limit <= 0 {
		limit = 10
	}
	return s.queryRecords(ctx, "top rated", `SELECT `+selectColumns+` FROM indicators
ORDER BY (profitability_rating + reliability_rating) DESC, created_at DESC, id DESC LIMIT ?`, limit)
}

// Similar ranks other records by the number of distinct words they share
// with the target's title and description.
func (s *Store) Similar(ctx context.Context, url string, limit int) ([]indicator.AnalysisRecord, error) {
	target, err := s.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	others, err := s.queryRecords(ctx, "similar", `SELECT `+selectColumns+` FROM indicators WHERE url <> ? ORDER BY id`, url)
	if err != nil {
		return nil, err
	}

	want := terms(target.Title + " " + target.Description)
	type scored struct {
		rec   indicator.AnalysisRecord
		score int
	}
	var ranked []scored
	for _, rec := range others {
		score := 0
		for t := range terms(rec.Title + " " + rec.Description) {
			if _, ok := want[t]; ok {
				score++
			}
		}
		if score > 0 {
			ranked = append(ranked, scored{rec: rec, score: score})
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]indicator.AnalysisRecord, 0, min(limit, len(ranked)))
	for i := 0; i < len(ranked) && i < limit; i++ {
		out = append(out, ranked[i].rec)
	}
	return out, nil
}

// terms returns the distinct lower-case words of at least three characters.
func terms(text string) map[string]struct{} {
	out := map[string]struct{}{}
	for _, w := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		if len([]rune(w)) >= 3 {
			out[w] = struct{}{}
		}
	}
	return out
}

// LogAnalysis appends one audit entry.
func (s *Store) LogAnalysis(ctx context.Context, entry indicator.AnalysisLog) error {
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = s.clock.Now()
	}
	var msg any
	if entry.ErrorMessage != "" {
		msg = entry.ErrorMessage
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO analysis_logs (indicator_url, status, stage, error_message, execution_time, created_at)
VALUES (?,?,?,?,?,?)`,
		entry.URL, string(entry.Status), string(entry.Stage), msg, entry.ExecutionTime, formatTime(entry.LoggedAt))
	if err != nil {
		return &indicator.PersistenceError{Op: "log analysis", Err: err}
	}
	return nil
}

// AnalysisHistory returns the audit entries for url, newest first.
func (s *Store) AnalysisHistory(ctx context.Context, url string) ([]indicator.AnalysisLog, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT id, indicator_url, status, stage, error_message, execution_time, created_at
FROM analysis_logs WHERE indicator_url = ? ORDER BY created_at DESC, id DESC`, url)
	if err != nil {
		return nil, &indicator.PersistenceError{Op: "analysis history", Err: err}
	}
	defer rows.Close()

	var out []indicator.AnalysisLog
	for rows.Next() {
		var (
			entry         indicator.AnalysisLog
			status, stage string
			msg           sql.NullString
			loggedAt      string
		)
		if err := rows.Scan(&entry.ID, &entry.URL, &status, &stage, &msg, &entry.ExecutionTime, &loggedAt); err != nil {
			return nil, &indicator.PersistenceError{Op: "analysis history", Err: err}
		}
		entry.Status = indicator.LogStatus(status)
		entry.Stage = indicator.Stage(stage)
		entry.ErrorMessage = msg.String
		if entry.LoggedAt, err = parseTime(loggedAt); err != nil {
			return nil, &indicator.PersistenceError{Op: "analysis history", Err: err}
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &indicator.PersistenceError{Op: "analysis history", Err: err}
	}
	return out, nil
}

func (s *Store) queryRecords(ctx context.Context, op, query string, args ...any) ([]indicator.AnalysisRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &indicator.PersistenceError{Op: op, Err: err}
	}
	defer rows.Close()

	out := []indicator.AnalysisRecord{}
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, &indicator.PersistenceError{Op: op, Err: err}
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, &indicator.PersistenceError{Op: op, Err: err}
	}
	return out, nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (indicator.AnalysisRecord, error) {
	var (
		rec                            indicator.AnalysisRecord
		feedback                       string
		raw                            sql.NullString
		analyzedAt, createdAt, updated string
	)
	err := row.Scan(
		&rec.ID,
		&rec.URL,
		&rec.Title,
		&rec.Description,
		&rec.Functionality,
		&rec.UsageGuidelines,
		&feedback,
		&rec.AdditionalInsights,
		&rec.ProfitabilityRating,
		&rec.ReliabilityRating,
		&rec.Placeholder,
		&raw,
		&analyzedAt,
		&createdAt,
		&updated,
	)
	if err != nil {
		return indicator.AnalysisRecord{}, err
	}
	if feedback != "" {
		if err := json.Unmarshal([]byte(feedback), &rec.UserFeedback); err != nil {
			return indicator.AnalysisRecord{}, fmt.Errorf("decode user_feedback: %w", err)
		}
	}
	if raw.Valid && raw.String != "" {
		rec.RawData = json.RawMessage(raw.String)
	}
	for _, f := range []struct {
		dst *time.Time
		src string
	}{{&rec.AnalyzedAt, analyzedAt}, {&rec.CreatedAt, createdAt}, {&rec.UpdatedAt, updated}} {
		if *f.dst, err = parseTime(f.src); err != nil {
			return indicator.AnalysisRecord{}, err
		}
	}
	return rec, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t, nil
}
