package memory

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/ocsync/internal/feed"
)

func TestCatalogMergeCreatesThenUpdatesOnlyOnChange(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	ctx := context.Background()
	e := feed.Entity{EMID: "emid-1", Name: "chat", ImageHash: "img", MemberCount: 10}

	res, err := c.MergeOpenChat(ctx, e)
	require.NoError(t, err)
	require.True(t, res.Created)

	res, err = c.MergeOpenChat(ctx, e)
	require.NoError(t, err)
	require.False(t, res.Created)
	require.False(t, res.Updated)
	require.Equal(t, 10, res.PrevMember)

	e.MemberCount = 12
	res, err = c.MergeOpenChat(ctx, e)
	require.NoError(t, err)
	require.True(t, res.Updated)
	require.Equal(t, 10, res.PrevMember)
	require.Len(t, c.OpenChats(), 1)
}

func TestCatalogConcurrentMergesKeepOneRowPerEMID(t *testing.T) {
	t.Parallel()

	c := NewCatalog()
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			for n := 0; n < 50; n++ {
				_, err := c.MergeOpenChat(ctx, feed.Entity{
					EMID:        fmt.Sprintf("emid-%d", n),
					Name:        "chat",
					ImageHash:   "img",
					MemberCount: worker + 1,
				})
				assert.NoError(t, err)
			}
		}(i)
	}
	wg.Wait()

	rows := c.OpenChats()
	require.Len(t, rows, 50)
	seen := make(map[string]bool)
	for _, r := range rows {
		require.False(t, seen[r.EMID], "duplicate emid %s", r.EMID)
		seen[r.EMID] = true
	}
}
