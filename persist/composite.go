package persist

import (
	"context"

	"github.com/agentuity/go-guildcache/member"
	"go.uber.org/multierr"
)

// Composite fans snapshots out to several stores.
type Composite struct {
	stores []Store
}

var _ Store = (*Composite)(nil)

// NewComposite chains stores. Writes and deletes go to every store; loads
// keep the newest snapshot of each guild. Panics if stores is empty.
func NewComposite(stores ...Store) *Composite {
	if len(stores) == 0 {
		panic("persist: NewComposite requires at least one store")
	}
	return &Composite{stores: stores}
}

func (c *Composite) SaveSnapshot(ctx context.Context, snap *member.Snapshot) error {
	var err error
	for _, s := range c.stores {
		err = multierr.Append(err, s.SaveSnapshot(ctx, snap))
	}
	return err
}

// LoadSnapshots merges every store. It fails only when no store could be read.
func (c *Composite) LoadSnapshots(ctx context.Context) ([]*member.Snapshot, error) {
	var (
		err    error
		failed int
		newest = make(map[string]*member.Snapshot)
		order  []string
	)
	for _, s := range c.stores {
		snaps, lerr := s.LoadSnapshots(ctx)
		if lerr != nil {
			err = multierr.Append(err, lerr)
			failed++
			continue
		}
		for _, snap := range snaps {
			cur, ok := newest[snap.GuildID()]
			if !ok {
				order = append(order, snap.GuildID())
			}
			if !ok || snap.LastUpdate().After(cur.LastUpdate()) {
				newest[snap.GuildID()] = snap
			}
		}
	}
	if failed == len(c.stores) {
		return nil, err
	}
	out := make([]*member.Snapshot, 0, len(order))
	for _, id := range order {
		out = append(out, newest[id])
	}
	return out, nil
}

func (c *Composite) DeleteSnapshots(ctx context.Context, guildIDs ...string) error {
	var err error
	for _, s := range c.stores {
		err = multierr.Append(err, s.DeleteSnapshots(ctx, guildIDs...))
	}
	return err
}

func (c *Composite) Close() error {
	var err error
	for _, s := range c.stores {
		err = multierr.Append(err, s.Close())
	}
	return err
}
