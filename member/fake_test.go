package member

import (
	"context"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/agentuity/go-guildcache/logger"
	"github.com/benbjohnson/clock"
)

type fakePlatform struct {
	mu sync.Mutex

	guilds    []Guild
	guildsErr error
	rosters   map[string][]Member

	// fullErrs is consumed one error per FetchMembers call; fullErr applies
	// once it is exhausted.
	fullErrs  []error
	fullErr   error
	memberErr error
	batchErr  error
	panicFull bool

	// gates block FetchMembers for a guild until closed.
	gates   map[string]chan struct{}
	started chan string

	fullCalls   map[string]int
	memberCalls int
	batchCalls  int
	batchIDs    [][]string
	deadlines   []time.Duration
	running     int
	maxRunning  int
	chunkSizes  []int
}

func newFakePlatform() *fakePlatform {
	return &fakePlatform{
		rosters:   make(map[string][]Member),
		gates:     make(map[string]chan struct{}),
		started:   make(chan string, 100),
		fullCalls: make(map[string]int),
	}
}

func (f *fakePlatform) setRoster(guildID string, members ...Member) {
	f.mu.Lock()
	f.rosters[guildID] = members
	f.mu.Unlock()
}

func (f *fakePlatform) gate(guildID string) chan struct{} {
	ch := make(chan struct{})
	f.mu.Lock()
	f.gates[guildID] = ch
	f.mu.Unlock()
	return ch
}

func (f *fakePlatform) setFullErr(err error) {
	f.mu.Lock()
	f.fullErr = err
	f.mu.Unlock()
}

func (f *fakePlatform) calls(guildID string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fullCalls[guildID]
}

func (f *fakePlatform) Guilds(ctx context.Context) ([]Guild, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.guilds, f.guildsErr
}

func (f *fakePlatform) FetchMembers(ctx context.Context, guildID string, params FetchParams) ([]Member, error) {
	f.mu.Lock()
	f.fullCalls[guildID]++
	f.chunkSizes = append(f.chunkSizes, params.ChunkSize)
	if dl, ok := ctx.Deadline(); ok {
		f.deadlines = append(f.deadlines, time.Until(dl))
	}
	f.running++
	if f.running > f.maxRunning {
		f.maxRunning = f.running
	}
	gate := f.gates[guildID]
	panicFull := f.panicFull
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.running--
		f.mu.Unlock()
	}()

	f.started <- guildID
	if panicFull {
		panic("boom")
	}
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.fullErrs) > 0 {
		err := f.fullErrs[0]
		f.fullErrs = f.fullErrs[1:]
		if err != nil {
			return nil, err
		}
	} else if f.fullErr != nil {
		return nil, f.fullErr
	}
	return append([]Member(nil), f.rosters[guildID]...), nil
}

func (f *fakePlatform) FetchMember(ctx context.Context, guildID, memberID string) (Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.memberCalls++
	if f.memberErr != nil {
		return Member{}, f.memberErr
	}
	for _, m := range f.rosters[guildID] {
		if m.ID == memberID {
			return m, nil
		}
	}
	return Member{}, ErrNotFound
}

func (f *fakePlatform) FetchMembersByID(ctx context.Context, guildID string, memberIDs []string) ([]Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batchCalls++
	ids := append([]string(nil), memberIDs...)
	sort.Strings(ids)
	f.batchIDs = append(f.batchIDs, ids)
	want := toSet(memberIDs)
	var out []Member
	for _, m := range f.rosters[guildID] {
		if _, ok := want[m.ID]; ok {
			out = append(out, m)
		}
	}
	if f.batchErr != nil && len(out) > 0 {
		// drop the last match to simulate a partial failure
		out = out[:len(out)-1]
	}
	return out, f.batchErr
}

// waitStarted blocks until n FetchMembers calls have begun.
func (f *fakePlatform) waitStarted(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		select {
		case <-f.started:
		case <-time.After(5 * time.Second):
			t.Fatalf("fetch %d of %d never started", i+1, n)
		}
	}
}

type fakePersister struct {
	mu      sync.Mutex
	saved   map[string]*Snapshot
	deleted []string
	loadErr error
}

func newFakePersister() *fakePersister {
	return &fakePersister{saved: make(map[string]*Snapshot)}
}

func (p *fakePersister) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.saved[snap.GuildID()] = snap
	return nil
}

func (p *fakePersister) LoadSnapshots(ctx context.Context) ([]*Snapshot, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.loadErr != nil {
		return nil, p.loadErr
	}
	var out []*Snapshot
	for _, s := range p.saved {
		out = append(out, s)
	}
	return out, nil
}

func (p *fakePersister) DeleteSnapshots(ctx context.Context, guildIDs ...string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, id := range guildIDs {
		delete(p.saved, id)
		p.deleted = append(p.deleted, id)
	}
	return nil
}

func mem(id string, roles ...string) Member {
	return Member{
		ID:          id,
		Username:    "user" + id,
		DisplayName: "User " + id,
		JoinedAt:    time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC),
		Roles:       roles,
	}
}

func roster(n int) []Member {
	out := make([]Member, n)
	for i := range out {
		out[i] = mem(strconv.Itoa(i + 1))
	}
	return out
}

func newTestService(t *testing.T, p Platform, opts ...Option) (*Service, *clock.Mock, *logger.TestLogger) {
	t.Helper()
	clk := clock.NewMock()
	clk.Set(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC))
	log := logger.NewTestLogger()
	base := []Option{WithClock(clk), WithLogger(log)}
	svc := New(p, append(base, opts...)...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Drain(ctx)
	})
	return svc, clk, log
}
