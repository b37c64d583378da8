package crawler_test

import (
	"context"
	"sync"
	"time"

	"github.com/JakeFAU/ocsync/internal/crawler"
)

var base = time.Date(2024, 5, 1, 10, 15, 0, 0, time.UTC)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

// steppingClock advances by step on every read.
type steppingClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now
	c.now = c.now.Add(c.step)
	return now
}

// fakeLauncher runs every task on its own goroutine.
type fakeLauncher struct {
	mu    sync.Mutex
	tasks []string
	run   func(ctx context.Context, task crawler.Task) error
}

func (l *fakeLauncher) Launch(ctx context.Context, task crawler.Task) (*crawler.Job, error) {
	l.mu.Lock()
	l.tasks = append(l.tasks, crawler.EncodeTask(task.Partitions))
	l.mu.Unlock()
	job := crawler.NewJob()
	go func() {
		job.Finish(l.run(context.WithoutCancel(ctx), task))
	}()
	return job, nil
}

func (l *fakeLauncher) Tasks() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.tasks...)
}
