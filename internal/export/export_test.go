package export

import (
	"context"
	"encoding/csv"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/storage"
	"github.com/JakeFAU/indicator-analyzer/internal/storage/memory"
)

type fakeLister struct {
	records []indicator.AnalysisRecord
	err     error
}

func (f fakeLister) ListAll(context.Context) ([]indicator.AnalysisRecord, error) {
	return f.records, f.err
}

type memoryResolver struct {
	blobs *memory.BlobStore
}

func (m memoryResolver) Resolve(dest storage.Destination) (storage.BlobStore, string, error) {
	return m.blobs, dest.Bucket + "/" + dest.Path, nil
}

func sample() []indicator.AnalysisRecord {
	ts := time.Date(2024, 2, 3, 4, 5, 6, 789, time.UTC)
	return []indicator.AnalysisRecord{{
		ID:                  1,
		URL:                 "https://example.com/script/abc",
		Title:               "Momentum, Fast",
		Description:         "line one\nline two",
		Functionality:       "tracks \"momentum\"",
		UserFeedback:        indicator.Feedback{Positive: []string{"good"}, Negative: []string{}},
		ProfitabilityRating: 7,
		ReliabilityRating:   6,
		AnalyzedAt:          ts,
		CreatedAt:           ts,
		UpdatedAt:           ts.Add(time.Hour),
	}}
}

func TestExportLocalFile(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "out", "indicators.csv")
	res, err := New(fakeLister{records: sample()}, nil, nil).Export(context.Background(), dest)
	require.NoError(t, err)
	require.NoError(t, res.Outcome)
	require.Equal(t, 1, res.Exported)
	require.True(t, strings.HasPrefix(res.URI, "file://"))

	f, err := os.Open(dest)
	require.NoError(t, err)
	defer f.Close()
	rows, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	require.Equal(t, Columns, rows[0])

	row := rows[1]
	require.Equal(t, "1", row[0])
	require.Equal(t, "Momentum, Fast", row[2])
	require.Equal(t, "line one\nline two", row[3])
	require.Equal(t, `tracks "momentum"`, row[4])
	require.JSONEq(t, `{"positive":["good"],"negative":[]}`, row[6])
	require.Equal(t, "7", row[8])
	require.Equal(t, "false", row[10])
	require.Equal(t, "2024-02-03 04:05:06", row[11])
	require.Equal(t, "2024-02-03 05:05:06", row[13])
}

func TestExportEmptySetIsReportedNotFailed(t *testing.T) {
	t.Parallel()

	dest := filepath.Join(t.TempDir(), "indicators.csv")
	res, err := New(fakeLister{}, nil, nil).Export(context.Background(), dest)
	require.NoError(t, err)
	require.ErrorIs(t, res.Outcome, indicator.ErrNoRecords)
	require.Zero(t, res.Exported)
	_, statErr := os.Stat(dest)
	require.ErrorIs(t, statErr, os.ErrNotExist)
}

func TestExportRemoteDestination(t *testing.T) {
	t.Parallel()

	blobs := memory.NewBlobStore()
	res, err := New(fakeLister{records: sample()}, memoryResolver{blobs: blobs}, nil).
		Export(context.Background(), "gs://bucket/exports/indicators.csv")
	require.NoError(t, err)
	require.Equal(t, "memory://bucket/exports/indicators.csv", res.URI)

	body, ok := blobs.Object("bucket/exports/indicators.csv")
	require.True(t, ok)
	require.True(t, strings.HasPrefix(string(body), strings.Join(Columns, ",")+"\n"))
}

func TestExportRemoteWithoutCloudStorage(t *testing.T) {
	t.Parallel()

	_, err := New(fakeLister{records: sample()}, Targets{}, nil).
		Export(context.Background(), "gs://bucket/indicators.csv")
	require.ErrorContains(t, err, "cloud storage is not configured")
}

func TestExportErrors(t *testing.T) {
	t.Parallel()

	_, err := New(fakeLister{}, nil, nil).Export(context.Background(), "  ")
	require.True(t, indicator.IsValidation(err))

	storeErr := &indicator.PersistenceError{Op: "list", Err: errors.New("down")}
	_, err = New(fakeLister{err: storeErr}, nil, nil).Export(context.Background(), "x.csv")
	require.ErrorIs(t, err, storeErr)

	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))
	_, err = New(fakeLister{records: sample()}, nil, nil).Export(context.Background(), filepath.Join(file, "out.csv"))
	require.Error(t, err, "parent path is a file")
}
