// Package export writes the full indicator set as a flat CSV file to a local
// path or a Cloud Storage object.
package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/storage"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/gcs"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/local"
)

// TimeLayout formats every timestamp column.
const TimeLayout = "2006-01-02 15:04:05"

// ContentType of the export file.
const ContentType = "text/csv"

// Columns is the header row, mirroring the indicators table.
var Columns = []string{
	"id", "url", "name", "description", "functionality", "usage_guidelines",
	"user_feedback", "additional_insights", "profitability_rating", "reliability_rating",
	"placeholder", "analyzed_date", "created_at", "updated_at",
}

// Lister is the read side of the store needed for an export.
type Lister interface {
	ListAll(ctx context.Context) ([]indicator.AnalysisRecord, error)
}

// Resolver maps a parsed destination onto a blob store and object path.
type Resolver interface {
	Resolve(dest storage.Destination) (storage.BlobStore, string, error)
}

// Targets resolves local paths and, when configured, gs:// destinations.
type Targets struct {
	GCS *gcs.BlobStore
}

// Resolve implements Resolver.
func (t Targets) Resolve(dest storage.Destination) (storage.BlobStore, string, error) {
	if dest.Remote() {
		if t.GCS == nil {
			return nil, "", fmt.Errorf("cloud storage is not configured for %s%s/%s", storage.GCSScheme, dest.Bucket, dest.Path)
		}
		return t.GCS.ForBucket(dest.Bucket), dest.Path, nil
	}
	store, err := local.New(local.Config{BaseDir: filepath.Dir(dest.Path)})
	if err != nil {
		return nil, "", err
	}
	return store, filepath.Base(dest.Path), nil
}

// Result reports one export. Outcome is indicator.ErrNoRecords when there
// was nothing to write; it is informational, not a failure.
type Result struct {
	Exported int
	URI      string
	Outcome  error
}

// Exporter serializes the record set.
type Exporter struct {
	store    Lister
	resolver Resolver
	logger   *zap.Logger
}

// New builds an Exporter.
func New(store Lister, resolver Resolver, logger *zap.Logger) *Exporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = Targets{}
	}
	return &Exporter{store: store, resolver: resolver, logger: logger.Named("export")}
}

// Export writes every record to destination.
func (e *Exporter) Export(ctx context.Context, destination string) (Result, error) {
	dest, err := storage.ParseDestination(destination)
	if err != nil {
		return Result{}, &indicator.ValidationError{Field: "destination", Value: destination, Reason: err.Error()}
	}
	records, err := e.store.ListAll(ctx)
	if err != nil {
		return Result{}, err
	}
	if len(records) == 0 {
		e.logger.Info("no indicators to export", zap.String("destination", destination))
		return Result{Outcome: indicator.ErrNoRecords}, nil
	}

	var buf bytes.Buffer
	if err := WriteCSV(&buf, records); err != nil {
		return Result{}, err
	}
	blob, path, err := e.resolver.Resolve(dest)
	if err != nil {
		return Result{}, fmt.Errorf("resolve export destination: %w", err)
	}
	uri, err := blob.PutObject(ctx, path, ContentType, &buf)
	if err != nil {
		return Result{}, fmt.Errorf("write export: %w", err)
	}
	e.logger.Info("exported indicators", zap.Int("count", len(records)), zap.String("uri", uri))
	return Result{Exported: len(records), URI: uri}, nil
}

// WriteCSV writes the header and one row per record.
func WriteCSV(w io.Writer, records []indicator.AnalysisRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Columns); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}
	for _, r := range records {
		row, err := toRow(r)
		if err != nil {
			return err
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("flush csv: %w", err)
	}
	return nil
}

func toRow(r indicator.AnalysisRecord) ([]string, error) {
	feedback, err := json.Marshal(r.UserFeedback)
	if err != nil {
		return nil, fmt.Errorf("marshal user feedback for %s: %w", r.URL, err)
	}
	return []string{
		strconv.FormatInt(r.ID, 10),
		r.URL,
		r.Title,
		r.Description,
		r.Functionality,
		r.UsageGuidelines,
		string(feedback),
		r.AdditionalInsights,
		strconv.Itoa(r.ProfitabilityRating),
		strconv.Itoa(r.ReliabilityRating),
		strconv.FormatBool(r.Placeholder),
		formatTime(r.AnalyzedAt),
		formatTime(r.CreatedAt),
		formatTime(r.UpdatedAt),
	}, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(TimeLayout)
}
