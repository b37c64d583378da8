package feed

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionRoundTrip(t *testing.T) {
	p := Partition{Sort: SortRising, Category: 8}
	parsed, err := ParsePartition(p.String())
	require.NoError(t, err)
	assert.Equal(t, p, parsed)

	for _, bad := range []string{"ranking", "weekly:1", "rising:x"} {
		_, err := ParsePartition(bad)
		assert.Error(t, err, bad)
	}
}

func TestPartitionsOrder(t *testing.T) {
	got := Partitions([]int{0, 5})
	assert.Equal(t, []Partition{
		{Sort: SortRising, Category: 0},
		{Sort: SortRising, Category: 5},
		{Sort: SortRanking, Category: 0},
		{Sort: SortRanking, Category: 5},
	}, got)
}

func TestValidate(t *testing.T) {
	ok := Entity{EMID: "e1", Name: "n", ImageHash: "h", MemberCount: 3, Badges: []int{1}}
	require.NoError(t, Validate(ok))

	bad := ok
	bad.MemberCount = 0
	bad.InvitationURL = "not a url"
	err := Validate(bad)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "e1", verr.EMID)
	assert.ElementsMatch(t, []string{"MemberCount", "InvitationURL"}, verr.Fields)
}
