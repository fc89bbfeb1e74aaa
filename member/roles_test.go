package member

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func roleRoster() []Member {
	return []Member{
		mem("a", "STAFF"),
		mem("b", "MOD"),
		mem("c", "STAFF", "MOD"),
		mem("d"),
		mem("e", "OTHER"),
	}
}

func TestGetMembersByRoleUnion(t *testing.T) {
	p := newFakePlatform()
	p.setRoster("G1", roleRoster()...)
	svc, _, _ := newTestService(t, p)

	set, err := svc.GetMembersByRole(context.Background(), g1, "STAFF", "MOD", "STAFF")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, set.IDs())
	assert.Equal(t, 2, p.calls("G1"), "one enumeration per distinct role")
}

func TestGetMembersByRoleNoRoles(t *testing.T) {
	p := newFakePlatform()
	svc, _, _ := newTestService(t, p)

	set, err := svc.GetMembersByRole(context.Background(), g1)
	require.NoError(t, err)
	assert.Empty(t, set)
	assert.Equal(t, 0, p.calls("G1"))
}

func TestGetMembersByRoleIsolatesFailedRole(t *testing.T) {
	p := newFakePlatform()
	p.setRoster("G1", roleRoster()...)
	p.fullErrs = []error{errors.New("rate limited"), nil}
	svc, _, log := newTestService(t, p, WithConfig(Config{RoleConcurrency: 1}))

	set, err := svc.GetMembersByRole(context.Background(), g1, "OTHER", "MOD")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, set.IDs())
	assert.True(t, log.Contains("WARNING", "role OTHER failed"))
}

func TestGetMembersByRoleFallsBackToCachedSnapshot(t *testing.T) {
	p := newFakePlatform()
	p.setRoster("G1", roleRoster()...)
	svc, clk, _ := newTestService(t, p)

	require.True(t, svc.GetAllMembers(context.Background(), g1).IsFresh())
	clk.Add(3 * time.Hour)
	p.setFullErr(errors.New("gateway closed"))

	set, err := svc.GetMembersByRole(context.Background(), g1, "STAFF")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c"}, set.IDs())
}

func TestGetMembersByRoleUnavailableFallsBack(t *testing.T) {
	p := newFakePlatform()
	p.setRoster("G1", roleRoster()...)
	svc, _, _ := newTestService(t, p, WithConfig(Config{RoleConcurrency: 1}))

	require.True(t, svc.GetAllMembers(context.Background(), g1).IsFresh())
	p.setRoster("G1", mem("z", "MOD"))
	p.fullErrs = []error{nil, ErrUnavailable}

	set, err := svc.GetMembersByRole(context.Background(), g1, "MOD", "STAFF")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, set.IDs(), "unavailable platform serves the cached snapshot")
}

func TestGetMembersByRoleExhausted(t *testing.T) {
	p := newFakePlatform()
	p.setFullErr(errors.New("connection refused"))
	svc, _, _ := newTestService(t, p)

	set, err := svc.GetMembersByRole(context.Background(), g1, "STAFF", "MOD")
	require.Error(t, err)
	assert.Nil(t, set)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.True(t, errors.Is(err, ErrTransient))
}

func TestGetMembersByRoleSingleRoleTimeoutWithoutSnapshot(t *testing.T) {
	p := newFakePlatform()
	p.setFullErr(context.DeadlineExceeded)
	svc, _, _ := newTestService(t, p)

	set, err := svc.GetMembersByRole(context.Background(), g1, "STAFF")
	require.Error(t, err)
	assert.Nil(t, set)
	assert.True(t, errors.Is(err, ErrExhausted))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
}

func TestGetMembersByRoleUpsertsKeepingLastUpdate(t *testing.T) {
	p := newFakePlatform()
	p.setRoster("G1", roleRoster()...)
	svc, clk, _ := newTestService(t, p)

	first := svc.GetAllMembers(context.Background(), g1)
	require.True(t, first.IsFresh())

	clk.Add(10 * time.Minute)
	promoted := mem("d", "STAFF")
	p.setRoster("G1", append(roleRoster()[:3], promoted)...)

	set, err := svc.GetMembersByRole(context.Background(), g1, "STAFF")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "c", "d"}, set.IDs())

	snap, ok := svc.Store().Get("G1")
	require.True(t, ok)
	assert.Equal(t, first.Snapshot.LastUpdate(), snap.LastUpdate())
	got, ok := snap.Member("d")
	require.True(t, ok)
	assert.Equal(t, []string{"STAFF"}, got.Roles)
	assert.Equal(t, 5, snap.Len())

	// the published snapshot is untouched
	old, _ := first.Snapshot.Member("d")
	assert.Empty(t, old.Roles)
}

func TestGetMembersByRoleWithoutSnapshotDoesNotCreateOne(t *testing.T) {
	p := newFakePlatform()
	p.setRoster("G1", roleRoster()...)
	svc, _, _ := newTestService(t, p)

	_, err := svc.GetMembersByRole(context.Background(), g1, "STAFF")
	require.NoError(t, err)
	_, ok := svc.Store().Get("G1")
	assert.False(t, ok)
}

// A large guild is warming in the background when a role query arrives.
func TestRoleQueryDuringLargeGuildWarm(t *testing.T) {
	large := Guild{ID: "G1", MemberCount: 12000}

	run := func(t *testing.T, shared bool) *fakePlatform {
		p := newFakePlatform()
		p.guilds = []Guild{large}
		p.setRoster("G1", roleRoster()...)
		gate := p.gate("G1")
		svc, _, _ := newTestService(t, p, WithSharedRoleFetches(shared))

		require.NoError(t, svc.WarmCache(context.Background()))
		p.waitStarted(t, 1)

		var (
			wg  sync.WaitGroup
			set MemberSet
			err error
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			set, err = svc.GetMembersByRole(context.Background(), large, "STAFF")
		}()
		if !shared {
			p.waitStarted(t, 1)
		}
		time.Sleep(50 * time.Millisecond)
		close(gate)
		wg.Wait()
		require.NoError(t, svc.Drain(context.Background()))

		require.NoError(t, err)
		assert.Equal(t, []string{"a", "c"}, set.IDs())
		assert.True(t, svc.Store().IsValid("G1", time.Hour))
		return p
	}

	t.Run("independent", func(t *testing.T) {
		p := run(t, false)
		assert.Equal(t, 2, p.calls("G1"))
		assert.Equal(t, 2, p.maxRunning)
	})

	t.Run("shared", func(t *testing.T) {
		p := run(t, true)
		assert.Equal(t, 1, p.calls("G1"))
		assert.Equal(t, 1, p.maxRunning)
	})
}
