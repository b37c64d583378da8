package orchestrator

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Runner is the archive import.
type Runner interface {
	Run(ctx context.Context) error
}

// GoroutineSpawner runs the import on a goroutine detached from the caller's
// context. Wait lets the process finish the import before it exits.
type GoroutineSpawner struct {
	runner  Runner
	timeout time.Duration
	logger  *zap.Logger
	wg      sync.WaitGroup
}

// NewGoroutineSpawner constructs a GoroutineSpawner.
func NewGoroutineSpawner(runner Runner, timeout time.Duration, logger *zap.Logger) *GoroutineSpawner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GoroutineSpawner{runner: runner, timeout: timeout, logger: logger}
}

// Spawn starts the import and returns immediately.
func (s *GoroutineSpawner) Spawn(ctx context.Context) error {
	runCtx := context.WithoutCancel(ctx)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.timeout > 0 {
			var cancel context.CancelFunc
			runCtx, cancel = context.WithTimeout(runCtx, s.timeout)
			defer cancel()
		}
		if err := s.runner.Run(runCtx); err != nil {
			s.logger.Error("archive import failed", zap.Error(err))
		}
	}()
	return nil
}

// Wait blocks until every spawned import returned.
func (s *GoroutineSpawner) Wait() {
	s.wg.Wait()
}

// ExecSpawner starts "ocsync import" as an independent child process and
// does not wait for it.
type ExecSpawner struct {
	binary string
	args   []string
	logger *zap.Logger
}

// NewExecSpawner builds a spawner for binary; empty means the running
// executable. args are placed before the subcommand.
func NewExecSpawner(binary string, args []string, logger *zap.Logger) (*ExecSpawner, error) {
	if binary == "" {
		self, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("resolve executable: %w", err)
		}
		binary = self
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExecSpawner{binary: binary, args: args, logger: logger}, nil
}

// Spawn starts the child and releases it.
func (s *ExecSpawner) Spawn(_ context.Context) error {
	args := append(slices.Clone(s.args), "import")
	// The child must outlive this run, so it gets no context.
	cmd := exec.Command(s.binary, args...) // #nosec G204 -- binary and args come from our own configuration.
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start import process: %w", err)
	}
	pid := cmd.Process.Pid
	if err := cmd.Process.Release(); err != nil {
		return fmt.Errorf("release import process %d: %w", pid, err)
	}
	s.logger.Info("archive import spawned", zap.Int("pid", pid))
	return nil
}
