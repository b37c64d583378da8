package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ocsync/internal/store"
)

func TestSyncStateMissingFlagsReadAsDefaults(t *testing.T) {
	t.Parallel()

	s := NewSyncState()
	ctx := context.Background()

	v, err := s.GetBool(ctx, store.RankingKill)
	require.NoError(t, err)
	require.False(t, v)

	str, ok, err := s.GetString(ctx, store.CacheVersion)
	require.NoError(t, err)
	require.False(t, ok)
	require.Empty(t, str)
}

func TestSyncStateColumnsAreIndependent(t *testing.T) {
	t.Parallel()

	s := NewSyncState()
	ctx := context.Background()

	require.NoError(t, s.SetString(ctx, store.HourlyTaskActive, "2024-01-01T10:00:00Z"))
	require.NoError(t, s.SetTrue(ctx, store.HourlyTaskActive))
	require.NoError(t, s.SetFalse(ctx, store.HourlyTaskActive))

	str, ok, err := s.GetString(ctx, store.HourlyTaskActive)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024-01-01T10:00:00Z", str)

	require.NoError(t, s.SetTrue(ctx, store.HourlyTaskActive))
	require.NoError(t, s.SetString(ctx, store.HourlyTaskActive, "later"))
	v, err := s.GetBool(ctx, store.HourlyTaskActive)
	require.NoError(t, err)
	require.True(t, v)
}
