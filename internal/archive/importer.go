package archive

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/ocsync/internal/store"
)

// Exporter publishes the archive after a successful import.
type Exporter interface {
	Export(ctx context.Context) (string, error)
}

// Importer runs the primary and comment engines side by side. A failure in
// one does not stop the other.
type Importer struct {
	engines  []*Engine
	state    store.SyncState
	exporter Exporter
	logger   *zap.Logger
	now      func() time.Time
}

// ImporterOption customises an Importer.
type ImporterOption func(*Importer)

// WithExporter uploads the archive after every fully successful run.
func WithExporter(x Exporter) ImporterOption { return func(i *Importer) { i.exporter = x } }

// WithClock overrides time.Now.
func WithClock(now func() time.Time) ImporterOption { return func(i *Importer) { i.now = now } }

// NewImporter builds an Importer over engines.
func NewImporter(state store.SyncState, logger *zap.Logger, engines []*Engine, opts ...ImporterOption) (*Importer, error) {
	if state == nil {
		return nil, fmt.Errorf("sync state is required")
	}
	if len(engines) == 0 {
		return nil, fmt.Errorf("at least one engine is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Importer{
		engines: engines,
		state:   state,
		logger:  logger,
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(i)
	}
	return i, nil
}

// Run executes every engine. The active flag is informational; overlapping
// runs are safe because every step starts from the archive's own state.
func (i *Importer) Run(ctx context.Context) error {
	active, err := i.state.GetBool(ctx, store.ArchiveImportActive)
	switch {
	case err != nil:
		i.logger.Warn("read archive import flag", zap.Error(err))
	case active:
		i.logger.Warn("previous archive import still flagged active")
	}
	if err := i.state.SetTrue(ctx, store.ArchiveImportActive); err != nil {
		return err
	}
	started := i.now()

	var g errgroup.Group
	errs := make([]error, len(i.engines))
	for idx, e := range i.engines {
		g.Go(func() error {
			if err := e.Execute(ctx); err != nil {
				i.logger.Error("archive import failed", zap.String("import", e.Name()), zap.Error(err))
				errs[idx] = fmt.Errorf("%s import: %w", e.Name(), err)
			}
			return nil
		})
	}
	_ = g.Wait()
	runErr := errors.Join(errs...)

	if runErr == nil && i.exporter != nil {
		uri, err := i.exporter.Export(ctx)
		if err != nil {
			runErr = fmt.Errorf("export archive: %w", err)
		} else {
			i.logger.Info("archive exported", zap.String("uri", uri))
		}
	}

	if err := i.state.SetFalse(ctx, store.ArchiveImportActive); err != nil {
		runErr = errors.Join(runErr, err)
	}
	if runErr == nil {
		if err := i.state.SetString(ctx, store.LastArchiveImportAt, started.Format(time.RFC3339)); err != nil {
			runErr = err
		}
	}
	i.logger.Info("archive import done", zap.Duration("elapsed", i.now().Sub(started)), zap.Error(runErr))
	return runErr
}
