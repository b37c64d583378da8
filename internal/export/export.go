// Package export snapshots the archive database and hands the copy to a blob
// store (a GCS bucket or a local directory).
package export

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/ocsync/internal/hash/sha256"
	"github.com/JakeFAU/ocsync/internal/storage/sqlite"
)

const (
	contentType       = "application/vnd.sqlite3"
	digestContentType = "text/plain; charset=utf-8"
)

// BlobStore receives the snapshot stream.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, r io.Reader) (string, error)
}

// Config controls snapshot naming.
type Config struct {
	// Prefix is prepended to every object name.
	Prefix string
	// TempDir holds the snapshot while it uploads; empty means os.TempDir.
	TempDir string
}

// Exporter copies the archive with VACUUM INTO and uploads the copy.
type Exporter struct {
	db     *sql.DB
	blobs  BlobStore
	cfg    Config
	now    func() time.Time
	logger *zap.Logger
}

// New constructs an Exporter.
func New(db *sql.DB, blobs BlobStore, cfg Config, now func() time.Time, logger *zap.Logger) *Exporter {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Exporter{db: db, blobs: blobs, cfg: cfg, now: now, logger: logger}
}

// ObjectName returns the object path for a snapshot taken at t.
func (x *Exporter) ObjectName(t time.Time) string {
	name := "archive-" + t.UTC().Format("20060102T150405Z") + ".db"
	if x.cfg.Prefix == "" {
		return name
	}
	return path.Join(x.cfg.Prefix, name)
}

// Export writes the snapshot and returns the URI reported by the blob store.
// A "<object>.sha256" sidecar holding the hex digest is written next to it.
func (x *Exporter) Export(ctx context.Context) (string, error) {
	dir, err := os.MkdirTemp(x.cfg.TempDir, "ocsync-export-*")
	if err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	defer os.RemoveAll(dir) //nolint:errcheck

	snapshot := filepath.Join(dir, "archive.db")
	if err := sqlite.VacuumInto(ctx, x.db, snapshot); err != nil {
		return "", err
	}
	f, err := os.Open(snapshot) // #nosec G304 -- path built above inside our temp dir.
	if err != nil {
		return "", fmt.Errorf("open snapshot: %w", err)
	}
	defer f.Close() //nolint:errcheck

	name := x.ObjectName(x.now())
	digest := sha256.New()
	uri, err := x.blobs.PutObject(ctx, name, contentType, io.TeeReader(f, digest))
	if err != nil {
		return "", fmt.Errorf("upload snapshot %s: %w", name, err)
	}
	sum := digest.Hex()
	if _, err := x.blobs.PutObject(ctx, name+".sha256", digestContentType, strings.NewReader(sum+"\n")); err != nil {
		return "", fmt.Errorf("upload digest of %s: %w", name, err)
	}
	x.logger.Info("archive exported", zap.String("uri", uri), zap.String("sha256", sum))
	return uri, nil
}
