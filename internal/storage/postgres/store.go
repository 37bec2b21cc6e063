// Package postgres provides the Postgres-backed indicator repository.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/indicator-analyzer/internal/clock/system"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
)

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	// ApplySchema runs Schema on startup.
	ApplySchema bool
}

type pgxIface interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements indicator.Repository on Postgres.
type Store struct {
	pool  pgxIface
	clock indicator.Clock
}

var _ indicator.Repository = (*Store)(nil)

// New connects to Postgres using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	s := &Store{pool: pool, clock: system.New()}
	if cfg.ApplySchema {
		if err := s.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, err
		}
	}
	return s, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(pool pgxIface, clock indicator.Clock) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if clock == nil {
		clock = system.New()
	}
	return &Store{pool: pool, clock: clock}, nil
}

// EnsureSchema creates the tables when missing.
func (s *Store) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, Schema); err != nil {
		return &indicator.PersistenceError{Op: "ensure schema", Err: err}
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

const upsertSQL = `
INSERT INTO indicators (
	url, name, description, functionality, usage_guidelines, user_feedback,
	additional_insights, profitability_rating, reliability_rating, placeholder,
	raw_data, analyzed_date, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
ON CONFLICT (url) DO UPDATE SET
	name = EXCLUDED.name,
	description = EXCLUDED.description,
	functionality = EXCLUDED.functionality,
	usage_guidelines = EXCLUDED.usage_guidelines,
	user_feedback = EXCLUDED.user_feedback,
	additional_insights = EXCLUDED.additional_insights,
	profitability_rating = EXCLUDED.profitability_rating,
	reliability_rating = EXCLUDED.reliability_rating,
	placeholder = EXCLUDED.placeholder,
	raw_data = EXCLUDED.raw_data,
	analyzed_date = EXCLUDED.analyzed_date,
	updated_at = EXCLUDED.updated_at`

// Upsert inserts the record or fully replaces the row with the same URL.
// created_at of an existing row is preserved.
func (s *Store) Upsert(ctx context.Context, record indicator.AnalysisRecord) error {
	if err := record.Validate(); err != nil {
		return err
	}
	feedback, err := json.Marshal(record.UserFeedback)
	if err != nil {
		return fmt.Errorf("marshal user feedback: %w", err)
	}
	var raw []byte
	if len(record.RawData) > 0 {
		raw = record.RawData
	}
	now := s.clock.Now()
	analyzedAt := record.AnalyzedAt
	if analyzedAt.IsZero() {
		analyzedAt = now
	}
	return s.withTx(ctx, "upsert", func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertSQL,
			record.URL,
			record.Title,
			record.Description,
			record.Functionality,
			record.UsageGuidelines,
			feedback,
			record.AdditionalInsights,
			record.ProfitabilityRating,
			record.ReliabilityRating,
			record.Placeholder,
			raw,
			analyzedAt,
			now,
		)
		return err
	})
}

func (s *Store) withTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return &indicator.PersistenceError{Op: op, Err: fmt.Errorf("begin: %w", err)}
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		return &indicator.PersistenceError{Op: op, Err: err}
	}
	if err := tx.Commit(ctx); err != nil {
		return &indicator.PersistenceError{Op: op, Err: fmt.Errorf("commit: %w", err)}
	}
	return nil
}

const selectColumns = `id, url, name, description, functionality, usage_guidelines, user_feedback,
	additional_insights, profitability_rating, reliability_rating, placeholder, raw_data,
	analyzed_date, created_at, updated_at`

// Get returns the record stored for url.
func (s *Store) Get(ctx context.Context, url string) (indicator.AnalysisRecord, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+selectColumns+` FROM indicators WHERE url = $1`, url)
	rec, err := scanRecord(row)
	if errors.Is(err, pgx.ErrNoRows) {
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
	query, args := buildSearch(filters.Normalize())
	return s.queryRecords(ctx, "search", query, args...)
}

func buildSearch(f indicator.SearchFilters) (string, []any) {
	var (
		where []string
		args  []any
	)
	next := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}
	if q := strings.TrimSpace(f.Query); q != "" {
		p := next("%" + escapeLike(q) + "%")
		where = append(where, fmt.Sprintf("(name ILIKE %s OR functionality ILIKE %s)", p, p))
	}
	if f.MinProfitability != nil {
		where = append(where, "profitability_rating >= "+next(*f.MinProfitability))
	}
	if f.MinReliability != nil {
		where = append(where, "reliability_rating >= "+next(*f.MinReliability))
	}
	if f.CreatedFrom != nil {
		where = append(where, "created_at >= "+next(*f.CreatedFrom))
	}
	if f.CreatedTo != nil {
		where = append(where, "created_at <= "+next(*f.CreatedTo))
	}

	var b strings.Builder
	b.WriteString("SELECT " + selectColumns + " FROM indicators")
	if len(where) > 0 {
		b.WriteString(" WHERE " + strings.Join(where, " AND "))
	}
	b.WriteString(" ORDER BY created_at DESC, id DESC")
	b.WriteString(" LIMIT " + next(f.Limit))
	b.WriteString(" OFFSET " + next(f.Offset))
	return b.String(), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// Statistics aggregates the live record set at call time.
func (s *Store) Statistics(ctx context.Context) (indicator.Statistics, error) {
	since := s.clock.Now().Add(-indicator.RecentWindow)
	var st indicator.Statistics
	err := s.pool.QueryRow(ctx, `
SELECT COUNT(*),
	COALESCE(AVG(profitability_rating), 0)::float8,
	COALESCE(AVG(reliability_rating), 0)::float8,
	COUNT(*) FILTER (WHERE created_at >= $1)
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
ORDER BY (profitability_rating + reliability_rating) DESC, created_at DESC, id DESC LIMIT $1`, limit)
}

// Similar ranks other records by trigram similarity of title and description.
func (s *Store) Similar(ctx context.Context, url string, limit int) ([]indicator.AnalysisRecord, error) {
	target, err := s.Get(ctx, url)
	if err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = 5
	}
	return s.queryRecords(ctx, "similar", `SELECT `+selectColumns+` FROM indicators
WHERE url <> $1
ORDER BY similarity(name || ' ' || description, $2) DESC, id
LIMIT $3`, url, target.Title+" "+target.Description, limit)
}

// LogAnalysis appends one audit entry.
func (s *Store) LogAnalysis(ctx context.Context, entry indicator.AnalysisLog) error {
	if entry.LoggedAt.IsZero() {
		entry.LoggedAt = s.clock.Now()
	}
	var msg *string
	if entry.ErrorMessage != "" {
		msg = &entry.ErrorMessage
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO analysis_logs (indicator_url, status, stage, error_message, execution_time, created_at)
VALUES ($1,$2,$3,$4,$5,$6)`,
		entry.URL, string(entry.Status), string(entry.Stage), msg, entry.ExecutionTime, entry.LoggedAt)
	if err != nil {
		return &indicator.PersistenceError{Op: "log analysis", Err: err}
	}
	return nil
}

// AnalysisHistory returns the audit entries for url, newest first.
func (s *Store) AnalysisHistory(ctx context.Context, url string) ([]indicator.AnalysisLog, error) {
	rows, err := s.pool.Query(ctx, `
SELECT id, indicator_url, status, stage, error_message, execution_time, created_at
FROM analysis_logs WHERE indicator_url = $1 ORDER BY created_at DESC, id DESC`, url)
	if err != nil {
		return nil, &indicator.PersistenceError{Op: "analysis history", Err: err}
	}
	defer rows.Close()

	var out []indicator.AnalysisLog
	for rows.Next() {
		var (
			entry         indicator.AnalysisLog
			status, stage string
			msg           *string
		)
		if err := rows.Scan(&entry.ID, &entry.URL, &status, &stage, &msg, &entry.ExecutionTime, &entry.LoggedAt); err != nil {
			return nil, &indicator.PersistenceError{Op: "analysis history", Err: err}
		}
		entry.Status = indicator.LogStatus(status)
		entry.Stage = indicator.Stage(stage)
		if msg != nil {
			entry.ErrorMessage = *msg
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, &indicator.PersistenceError{Op: "analysis history", Err: err}
	}
	return out, nil
}

func (s *Store) queryRecords(ctx context.Context, op, query string, args ...any) ([]indicator.AnalysisRecord, error) {
	rows, err := s.pool.Query(ctx, query, args...)
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

func scanRecord(row pgx.Row) (indicator.AnalysisRecord, error) {
	var (
		rec      indicator.AnalysisRecord
		feedback []byte
		raw      []byte
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
		&rec.AnalyzedAt,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if err != nil {
		return indicator.AnalysisRecord{}, err
	}
	if len(feedback) > 0 {
		if err := json.Unmarshal(feedback, &rec.UserFeedback); err != nil {
			return indicator.AnalysisRecord{}, fmt.Errorf("decode user_feedback: %w", err)
		}
	}
	if len(raw) > 0 {
		rec.RawData = json.RawMessage(raw)
	}
	return rec, nil
}
