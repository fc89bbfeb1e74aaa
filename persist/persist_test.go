package persist

import (
	"strconv"
	"testing"
	"time"

	"github.com/agentuity/go-guildcache/member"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var epoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

func members(n int, roles ...string) []member.Member {
	out := make([]member.Member, n)
	for i := range out {
		id := strconv.Itoa(i + 1)
		out[i] = member.Member{
			ID:          id,
			Username:    "user" + id,
			DisplayName: "User " + id,
			JoinedAt:    epoch.Add(-time.Duration(i) * time.Hour),
			Roles:       roles,
		}
	}
	return out
}

func snapshot(guildID string, n int, at time.Time) *member.Snapshot {
	return member.NewSnapshot(guildID, members(n, "STAFF"), at)
}

func TestEncodeDecode(t *testing.T) {
	snap := snapshot("G1", 3, epoch)
	data, err := encode(snap)
	require.NoError(t, err)

	got, err := decode(data)
	require.NoError(t, err)
	assert.Equal(t, "G1", got.GuildID())
	assert.True(t, epoch.Equal(got.LastUpdate()))
	assert.Equal(t, snap.Members(), got.Members())
}

func TestDecodeGarbage(t *testing.T) {
	_, err := decode([]byte("not msgpack"))
	assert.Error(t, err)
}
