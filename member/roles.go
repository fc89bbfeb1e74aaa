package member

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// GetMembersByRole returns the members holding at least one of roleIDs, each
// member once.
//
// Each role is resolved by its own enumeration of the guild, independent of
// any full fetch in flight, unless the service was built with
// WithSharedRoleFetches. A role whose fetch fails contributes nothing and the
// others still count. When every role fails, or the platform is unavailable,
// the cached snapshot of any age is filtered instead; without one the error
// matches ErrExhausted. A query for a single role is therefore never answered
// with an empty set because its fetch failed: it falls back or errors.
func (s *Service) GetMembersByRole(ctx context.Context, guild Guild, roleIDs ...string) (MemberSet, error) {
	roles := uniq(roleIDs)
	if len(roles) == 0 {
		return MemberSet{}, nil
	}
	if s.cfg.SharedRoleFetches {
		snap, err := s.GetAllMembers(ctx, guild).Unwrap()
		if err != nil {
			return nil, err
		}
		return snap.WithRoles(roles...), nil
	}

	log := s.guildLogger(guild.ID)
	var (
		mu     sync.Mutex
		merged = make(MemberSet)
		errs   []error
		g      errgroup.Group
	)
	g.SetLimit(s.cfg.RoleConcurrency)
	for _, role := range roles {
		g.Go(func() error {
			matched, err := s.fetchRole(ctx, guild, role)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Warn("fetching members with role %s failed: %v", role, err)
				errs = append(errs, errors.Wrapf(err, "role %s", role))
				return nil
			}
			for id, m := range matched {
				merged[id] = m
			}
			return nil
		})
	}
	_ = g.Wait()

	if len(errs) == len(roles) || errors.Is(multierr.Combine(errs...), ErrUnavailable) {
		err := multierr.Combine(errs...)
		if snap, ok := s.store.Get(guild.ID); ok {
			log.Warn("role fetch failed, filtering cached snapshot from %s: %v", snap.LastUpdate().Format(time.RFC3339), err)
			return snap.WithRoles(roles...), nil
		}
		return nil, exhausted(err, guild.ID)
	}

	s.store.Upsert(guild.ID, merged.Slice()...)
	return merged, nil
}

func (s *Service) fetchRole(ctx context.Context, guild Guild, role string) (MemberSet, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.FullFetchTimeout(guild))
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "member.FetchRole", trace.WithAttributes(
		attribute.String("guild.id", guild.ID),
		attribute.String("role.id", role),
	))
	defer span.End()

	started := time.Now()
	var members []Member
	err := call(func() (err error) {
		members, err = s.platform.FetchMembers(ctx, guild.ID, FetchParams{ChunkSize: s.cfg.ChunkSize})
		return err
	})
	s.metrics.fetched("role", err, time.Since(started))
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "fetch failed")
		return nil, err
	}
	out := make(MemberSet)
	for _, m := range members {
		if m.HasRole(role) {
			out[m.ID] = m
		}
	}
	span.SetAttributes(attribute.Int("role.members", len(out)))
	return out, nil
}
