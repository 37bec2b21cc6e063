// Package backup takes timestamped, gzip-compressed snapshots of the SQLite
// database and writes them to a local directory or a Cloud Storage prefix.
package backup

import (
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/indicator-analyzer/internal/clock/system"
	"github.com/JakeFAU/indicator-analyzer/internal/export"
	"github.com/JakeFAU/indicator-analyzer/internal/indicator"
	"github.com/JakeFAU/indicator-analyzer/internal/storage"
)

// ContentType of a backup object.
const ContentType = "application/gzip"

// nameLayout stamps snapshot names to the second.
const nameLayout = "20060102_150405"

// ErrUnsupported is returned when the configured store cannot be snapshotted.
var ErrUnsupported = errors.New("backup is only supported for the sqlite driver")

// Snapshotter copies a consistent image of the database to a new file.
type Snapshotter interface {
	Snapshot(ctx context.Context, path string) error
}

// Result reports one backup.
type Result struct {
	URI   string
	Name  string
	Bytes int64
}

// Service writes snapshots through a destination resolver.
type Service struct {
	source   Snapshotter
	resolver export.Resolver
	clock    indicator.Clock
	logger   *zap.Logger
}

// New builds a Service. A nil source makes every Backup fail with
// ErrUnsupported.
func New(source Snapshotter, resolver export.Resolver, clock indicator.Clock, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	if resolver == nil {
		resolver = export.Targets{}
	}
	if clock == nil {
		clock = system.New()
	}
	return &Service{source: source, resolver: resolver, clock: clock, logger: logger.Named("backup")}
}

// Name returns the object name used for a snapshot taken by this service now.
func (s *Service) Name() string {
	return "indicators_backup_" + s.clock.Now().UTC().Format(nameLayout) + ".db.gz"
}

// Backup snapshots the database into dir, a local directory or a
// gs://bucket/prefix.
func (s *Service) Backup(ctx context.Context, dir string) (Result, error) {
	if s.source == nil {
		return Result{}, ErrUnsupported
	}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return Result{}, &indicator.ValidationError{Field: "destination", Reason: "is required"}
	}
	name := s.Name()
	dest, err := storage.ParseDestination(joinDestination(dir, name))
	if err != nil {
		return Result{}, &indicator.ValidationError{Field: "destination", Value: dir, Reason: err.Error()}
	}

	tmpDir, err := os.MkdirTemp("", "indicator-backup-")
	if err != nil {
		return Result{}, fmt.Errorf("create backup scratch dir: %w", err)
	}
	defer os.RemoveAll(tmpDir)

	snapshot := filepath.Join(tmpDir, "snapshot.db")
	if err := s.source.Snapshot(ctx, snapshot); err != nil {
		return Result{}, err
	}
	f, err := os.Open(snapshot)
	if err != nil {
		return Result{}, fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close()

	blob, path, err := s.resolver.Resolve(dest)
	if err != nil {
		return Result{}, fmt.Errorf("resolve backup destination: %w", err)
	}

	pr, pw := io.Pipe()
	counter := &countingReader{r: pr}
	go func() {
		gw := gzip.NewWriter(pw)
		if _, err := io.Copy(gw, f); err != nil {
			_ = pw.CloseWithError(fmt.Errorf("gzip snapshot: %w", err))
			return
		}
		_ = pw.CloseWithError(gw.Close())
	}()

	uri, err := blob.PutObject(ctx, path, ContentType, counter)
	_ = pr.CloseWithError(io.ErrClosedPipe)
	if err != nil {
		return Result{}, fmt.Errorf("write backup: %w", err)
	}
	s.logger.Info("database backed up", zap.String("uri", uri), zap.Int64("bytes", counter.n))
	return Result{URI: uri, Name: name, Bytes: counter.n}, nil
}

func joinDestination(dir, name string) string {
	if strings.HasPrefix(dir, storage.GCSScheme) {
		return strings.TrimRight(dir, "/") + "/" + name
	}
	return filepath.Join(dir, name)
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
