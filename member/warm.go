package member

import (
	"context"

	"github.com/cockroachdb/errors"
)

// WarmCache fetches every guild known to the platform client. With large
// guild mode on, guilds above the threshold are fetched in the background and
// WarmCache moves on without waiting; all other guilds are fetched in turn.
// Fetch failures are logged. Only a failure to list guilds is returned.
func (s *Service) WarmCache(ctx context.Context) error {
	var guilds []Guild
	err := call(func() (err error) {
		guilds, err = s.platform.Guilds(ctx)
		return err
	})
	if err != nil {
		return errors.Wrap(err, "listing guilds")
	}
	s.logger.Info("warming member cache for %d guilds", len(guilds))
	for _, guild := range guilds {
		if err := ctx.Err(); err != nil {
			return err
		}
		log := s.guildLogger(guild.ID)
		if s.cfg.LargeGuildMode && s.cfg.IsLarge(guild) {
			log.Info("guild has %d members, fetching in the background", guild.MemberCount)
			s.goFetch(ctx, guild)
			continue
		}
		res := s.GetAllMembers(ctx, guild)
		switch {
		case res.IsFailed():
			log.Error("warming failed: %v", res.Err)
		case res.IsStale():
			log.Warn("warming kept stale snapshot: %v", res.Err)
		}
	}
	return nil
}

// RefreshCache refetches guild in the background, ignoring the TTL. Failures
// are logged.
func (s *Service) RefreshCache(ctx context.Context, guild Guild) {
	s.goFetch(ctx, guild, Force())
}

func (s *Service) goFetch(ctx context.Context, guild Guild, opts ...FetchOption) {
	ctx = context.WithoutCancel(ctx)
	log := s.guildLogger(guild.ID)
	s.background.Add(1)
	go func() {
		defer s.background.Done()
		res := s.GetAllMembers(ctx, guild, opts...)
		switch {
		case res.IsFailed():
			log.Error("background member fetch failed: %v", res.Err)
		case res.IsStale():
			log.Warn("background member fetch failed, stale snapshot kept: %v", res.Err)
		}
	}()
}

// Drain waits for background fetches started by WarmCache and RefreshCache.
func (s *Service) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.background.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
