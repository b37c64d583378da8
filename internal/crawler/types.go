package crawler

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/ocsync/internal/feed"
)

var (
	// ErrCanceled is returned when a kill flag stopped a fetch loop.
	ErrCanceled = errors.New("crawl canceled by kill flag")
	// ErrTooManyErrors is returned when the extended crawl saw too many
	// consecutive transport failures.
	ErrTooManyErrors = errors.New("too many consecutive feed errors")
	// ErrQueueClosed is returned by a Queue that no longer delivers tasks.
	ErrQueueClosed = errors.New("queue closed")
)

// CycleOf names the crawl cycle a point in time belongs to: the start of its
// hour in UTC. Partitions merged for a cycle are skipped when the same cycle
// runs again.
func CycleOf(t time.Time) string {
	return t.UTC().Truncate(time.Hour).Format(time.RFC3339)
}

// Task is one unit of fetch work: up to two partitions fetched back to back.
type Task struct {
	Partitions []feed.Partition
	Cycle      string
}

// EncodeTask renders partitions as the task argument, e.g. "ranking:17,rising:2".
func EncodeTask(partitions []feed.Partition) string {
	parts := make([]string, len(partitions))
	for i, p := range partitions {
		parts[i] = p.String()
	}
	return strings.Join(parts, ",")
}

// ParseTask is the inverse of EncodeTask.
func ParseTask(raw string) ([]feed.Partition, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("empty task")
	}
	var out []feed.Partition
	for _, item := range strings.Split(raw, ",") {
		p, err := feed.ParsePartition(item)
		if err != nil {
			return nil, fmt.Errorf("parse task: %w", err)
		}
		out = append(out, p)
	}
	return out, nil
}

// QueueItem carries a task through the in-process worker queue.
type QueueItem struct {
	Task Task
	Job  *Job
}

// Job reports the completion of launched fetch work.
type Job struct {
	done chan struct{}
	once sync.Once
	err  error
}

// NewJob returns an unfinished Job.
func NewJob() *Job {
	return &Job{done: make(chan struct{})}
}

// Finish records the outcome. Only the first call has any effect.
func (j *Job) Finish(err error) {
	j.once.Do(func() {
		j.err = err
		close(j.done)
	})
}

// Done is closed once the job finished.
func (j *Job) Done() <-chan struct{} {
	return j.done
}

// Err returns the job outcome; it is only meaningful after Done is closed.
func (j *Job) Err() error {
	select {
	case <-j.done:
		return j.err
	default:
		return nil
	}
}

// Finished reports whether Finish was called.
func (j *Job) Finished() bool {
	select {
	case <-j.done:
		return true
	default:
		return false
	}
}
