package notify

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestThrottledForwardsFirstAndEveryNth(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	throttled := NewThrottled(rec, 3)
	for _, m := range []string{"1", "2", "3", "4", "5", "6", "7"} {
		throttled.Notify(context.Background(), m)
	}
	require.Equal(t, []string{"1", "4", "7"}, rec.Messages())
}

func TestThrottledEveryOneForwardsAll(t *testing.T) {
	t.Parallel()

	rec := &Recorder{}
	throttled := NewThrottled(rec, 0)
	throttled.Notify(context.Background(), "a")
	throttled.Notify(context.Background(), "b")
	require.Equal(t, []string{"a", "b"}, rec.Messages())
}

func TestLogNotifierWritesMessage(t *testing.T) {
	t.Parallel()

	core, logs := observer.New(zap.InfoLevel)
	NewLog(zap.New(core)).Notify(context.Background(), "healed")

	entries := logs.All()
	require.Len(t, entries, 1)
	require.Equal(t, "healed", entries[0].ContextMap()["message"])
}

func TestFanout(t *testing.T) {
	t.Parallel()

	a, b := &Recorder{}, &Recorder{}
	Fanout{a, b}.Notify(context.Background(), "x")
	require.Equal(t, []string{"x"}, a.Messages())
	require.Equal(t, []string{"x"}, b.Messages())
}
