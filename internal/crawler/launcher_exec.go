package crawler

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"slices"

	"go.uber.org/zap"
)

// ExecLauncher runs each task as a child process of the ocsync binary
// ("fetch-partition --task ... --cycle ..."). Children share the primary
// store for flags and a file stage for entities.
type ExecLauncher struct {
	binary string
	args   []string
	logger *zap.Logger
}

// NewExecLauncher builds a launcher for binary. Empty binary means the running
// executable. args are placed before the subcommand, e.g. "--config", path.
func NewExecLauncher(binary string, args []string, logger *zap.Logger) (*ExecLauncher, error) {
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
	return &ExecLauncher{binary: binary, args: args, logger: logger}, nil
}

// Launch starts the child process and returns immediately.
func (l *ExecLauncher) Launch(ctx context.Context, task Task) (*Job, error) {
	args := slices.Clone(l.args)
	args = append(args, "fetch-partition", "--task", EncodeTask(task.Partitions), "--cycle", task.Cycle)
	cmd := exec.CommandContext(ctx, l.binary, args...)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start fetch process: %w", err)
	}
	l.logger.Debug("fetch process started",
		zap.Int("pid", cmd.Process.Pid),
		zap.String("task", EncodeTask(task.Partitions)),
	)
	job := NewJob()
	go func() {
		err := cmd.Wait()
		if err != nil {
			err = fmt.Errorf("fetch process %d: %w", cmd.Process.Pid, err)
		}
		job.Finish(err)
	}()
	return job, nil
}
