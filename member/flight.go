package member

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

type fetchOptions struct {
	force bool
}

// FetchOption tunes GetAllMembers.
type FetchOption func(*fetchOptions)

// Force skips the TTL check. A fetch already running for the guild is still
// joined rather than duplicated.
func Force() FetchOption {
	return func(o *fetchOptions) { o.force = true }
}

// GetAllMembers returns the full roster of guild.
//
// A snapshot inside the TTL is returned without I/O unless Force is given.
// Otherwise the call joins the fetch in flight for the guild or starts one.
// The fetch runs detached from ctx under the guild's fetch deadline, so it
// completes for the other waiters even if this caller gives up.
func (s *Service) GetAllMembers(ctx context.Context, guild Guild, opts ...FetchOption) Result {
	var o fetchOptions
	for _, opt := range opts {
		opt(&o)
	}
	if !o.force {
		if snap, ok := s.validEntry(guild.ID); ok {
			s.metrics.lookup("all", true)
			return fresh(snap)
		}
	}
	s.metrics.lookup("all", false)

	ch := s.flights.DoChan(guild.ID, func() (interface{}, error) {
		return s.fetchAll(ctx, guild, o.force), nil
	})
	select {
	case res := <-ch:
		r := res.Val.(Result)
		s.metrics.served(r.Status)
		return r
	case <-ctx.Done():
		err := classify(ctx.Err())
		if snap, ok := s.store.Get(guild.ID); ok {
			s.metrics.served(StatusStale)
			return stale(snap, err)
		}
		s.metrics.served(StatusFailed)
		return failed(exhausted(err, guild.ID))
	}
}

// fetchAll is the body of the single flight for one guild.
func (s *Service) fetchAll(parent context.Context, guild Guild, force bool) Result {
	// A caller that missed the cache may claim the flight just after the
	// previous one stored its snapshot.
	if !force {
		if snap, ok := s.validEntry(guild.ID); ok {
			return fresh(snap)
		}
	}

	s.markFetching(guild.ID)
	defer s.unmarkFetching(guild.ID)

	fetchID := uuid.NewString()
	log := s.guildLogger(guild.ID).With(map[string]interface{}{"fetch": fetchID})
	timeout := s.cfg.FullFetchTimeout(guild)

	ctx, cancel := context.WithTimeout(context.WithoutCancel(parent), timeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "member.FetchAll", trace.WithAttributes(
		attribute.String("guild.id", guild.ID),
		attribute.Int("guild.member_count", guild.MemberCount),
		attribute.String("fetch.id", fetchID),
		attribute.Bool("fetch.force", force),
		attribute.Int64("fetch.timeout_ms", timeout.Milliseconds()),
	))
	defer span.End()

	log.Debug("fetching all members (timeout %s)", timeout)
	started := time.Now()
	var members []Member
	err := call(func() (err error) {
		members, err = s.platform.FetchMembers(ctx, guild.ID, FetchParams{ChunkSize: s.cfg.ChunkSize})
		return err
	})
	s.metrics.fetched("all", err, time.Since(started))

	if err != nil {
		err = classify(errors.Wrap(err, "fetching guild members"))
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		if snap, ok := s.store.Get(guild.ID); ok {
			span.SetAttributes(attribute.Bool("fetch.stale_fallback", true))
			log.Warn("member fetch failed, serving stale snapshot of %d members from %s: %v",
				snap.Len(), snap.Age(s.clock.Now()).Round(time.Second), err)
			return stale(snap, err)
		}
		log.Error("member fetch failed and no snapshot is cached: %v", err)
		return failed(exhausted(err, guild.ID))
	}

	snap := NewSnapshot(guild.ID, members, s.clock.Now())
	s.store.Set(snap)
	span.SetAttributes(attribute.Int("fetch.members", snap.Len()))
	log.Info("cached %d members in %s", snap.Len(), time.Since(started).Round(time.Millisecond))
	s.persist(ctx, snap, log)
	return fresh(snap)
}
