// Package notify delivers free-text operational messages. Delivery is
// fire-and-forget: failures are logged, never returned to the caller.
package notify

import (
	"context"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Notifier accepts one operational message.
type Notifier interface {
	Notify(ctx context.Context, message string)
}

// Log writes messages to a zap logger.
type Log struct {
	logger *zap.Logger
}

// NewLog returns a Notifier logging at info level.
func NewLog(logger *zap.Logger) *Log {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Log{logger: logger}
}

// Notify logs message.
func (l *Log) Notify(_ context.Context, message string) {
	l.logger.Info("notification", zap.String("message", message))
}

// Throttled forwards the first message and then every Nth one after it.
type Throttled struct {
	next  Notifier
	every uint64
	count atomic.Uint64
}

// NewThrottled wraps next. every <= 1 forwards everything.
func NewThrottled(next Notifier, every int) *Throttled {
	if every < 1 {
		every = 1
	}
	return &Throttled{next: next, every: uint64(every)}
}

// Notify forwards message when its sequence number is 1, N+1, 2N+1, ...
func (t *Throttled) Notify(ctx context.Context, message string) {
	n := t.count.Add(1)
	if (n-1)%t.every != 0 {
		return
	}
	t.next.Notify(ctx, message)
}

// Fanout delivers every message to each notifier in order.
type Fanout []Notifier

// Notify forwards message to every member.
func (f Fanout) Notify(ctx context.Context, message string) {
	for _, n := range f {
		n.Notify(ctx, message)
	}
}

// Recorder keeps messages in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []string
}

// Notify records message.
func (r *Recorder) Notify(_ context.Context, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
}

// Messages returns a copy of every recorded message.
func (r *Recorder) Messages() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.messages...)
}
