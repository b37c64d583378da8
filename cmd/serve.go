package cmd

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// newServeCmd creates the 'serve' subcommand: an hourly scheduler plus the
// ops listener, until SIGINT or SIGTERM.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Runs the hourly scheduler and serves /metrics, /healthz and /status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			cfg := appInstance.Config()
			logger := appInstance.Logger()

			ctx, stop := context.WithCancel(cmd.Context())
			defer stop()

			srv := &http.Server{
				Addr:              cfg.Metrics.Addr,
				Handler:           appInstance.OpsHandler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				logger.Info("ops listener started", zap.String("addr", cfg.Metrics.Addr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("ops listener error", zap.Error(err))
					stop()
				}
			}()

			s := newScheduler(appInstance.Run, cfg.Orchestrator.ScheduleMinute, logger)
			s.loop(ctx)
			logger.Info("shutdown initiated")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("ops listener shutdown error", zap.Error(err))
			}
			appInstance.WaitImports()
			logger.Info("shutdown complete")
			return nil
		},
	}
}

// scheduler starts one run per hour at a fixed minute. A tick that finds the
// previous run still going is skipped.
type scheduler struct {
	run    func(ctx context.Context) error
	minute int
	now    func() time.Time
	after  func(d time.Duration) <-chan time.Time
	logger *zap.Logger

	running atomic.Bool
	wg      sync.WaitGroup
}

func newScheduler(run func(ctx context.Context) error, minute int, logger *zap.Logger) *scheduler {
	return &scheduler{run: run, minute: minute, now: time.Now, after: time.After, logger: logger}
}

// nextRun returns the first time strictly after now at the given minute.
func nextRun(now time.Time, minute int) time.Time {
	next := now.Truncate(time.Hour).Add(time.Duration(minute) * time.Minute)
	if !next.After(now) {
		next = next.Add(time.Hour)
	}
	return next
}

// loop blocks until ctx is done and every started run returned.
func (s *scheduler) loop(ctx context.Context) {
	defer s.wg.Wait()
	for {
		now := s.now()
		next := nextRun(now, s.minute)
		s.logger.Debug("next run scheduled", zap.Time("at", next))
		select {
		case <-ctx.Done():
			return
		case <-s.after(next.Sub(now)):
		}
		s.trigger(ctx)
	}
}

func (s *scheduler) trigger(ctx context.Context) {
	if !s.running.CompareAndSwap(false, true) {
		s.logger.Warn("previous run still in progress, skipping this hour")
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.running.Store(false)
		if err := s.run(ctx); err != nil {
			s.logger.Error("scheduled run failed", zap.Error(err))
		}
	}()
}
