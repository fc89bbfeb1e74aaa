package member

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// GetMember returns one member of guild. A member present in a valid snapshot
// is returned without I/O; otherwise it is fetched and upserted into the
// guild's snapshot. found is false when the member is not in the guild.
//
// When the fetch fails, a copy held by a stale snapshot is returned instead.
func (s *Service) GetMember(ctx context.Context, guild Guild, memberID string) (m Member, found bool, err error) {
	if snap, ok := s.validEntry(guild.ID); ok {
		if m, ok := snap.Member(memberID); ok {
			s.metrics.lookup("member", true)
			return m, true, nil
		}
	}
	s.metrics.lookup("member", false)

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "member.FetchMember", trace.WithAttributes(
		attribute.String("guild.id", guild.ID),
		attribute.String("member.id", memberID),
	))
	defer span.End()

	started := time.Now()
	err = call(func() (err error) {
		m, err = s.platform.FetchMember(ctx, guild.ID, memberID)
		return err
	})
	s.metrics.fetched("member", err, time.Since(started))

	switch {
	case err == nil:
		s.store.Upsert(guild.ID, m)
		return m, true, nil
	case errors.Is(err, ErrNotFound):
		span.SetAttributes(attribute.Bool("member.found", false))
		return Member{}, false, nil
	}

	err = classify(err)
	span.RecordError(err)
	span.SetStatus(codes.Error, "fetch failed")
	log := s.guildLogger(guild.ID)
	if snap, ok := s.store.Get(guild.ID); ok {
		if cached, ok := snap.Member(memberID); ok {
			log.Warn("fetching member %s failed, serving stale copy: %v", memberID, err)
			return cached, true, nil
		}
	}
	log.Error("fetching member %s failed: %v", memberID, err)
	return Member{}, false, exhausted(err, guild.ID)
}

// GetMembersBatch returns the requested members of guild. Ids found in a valid
// snapshot are served from it and the rest are fetched in one batch and
// upserted. Ids that are not in the guild, or whose lookup failed, are absent
// from the result; failures are logged, never returned.
func (s *Service) GetMembersBatch(ctx context.Context, guild Guild, memberIDs []string) MemberSet {
	ids := uniq(memberIDs)
	out := make(MemberSet, len(ids))
	missing := ids
	if snap, ok := s.validEntry(guild.ID); ok {
		missing = make([]string, 0, len(ids))
		for _, id := range ids {
			if m, ok := snap.Member(id); ok {
				out[id] = m
				continue
			}
			missing = append(missing, id)
		}
	}
	s.metrics.lookupN("batch", len(out), len(missing))
	if len(missing) == 0 {
		return out
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()
	ctx, span := s.tracer.Start(ctx, "member.FetchBatch", trace.WithAttributes(
		attribute.String("guild.id", guild.ID),
		attribute.Int("batch.requested", len(ids)),
		attribute.Int("batch.missing", len(missing)),
	))
	defer span.End()

	started := time.Now()
	var members []Member
	err := call(func() (err error) {
		members, err = s.platform.FetchMembersByID(ctx, guild.ID, missing)
		return err
	})
	s.metrics.fetched("batch", err, time.Since(started))

	wanted := toSet(missing)
	fetched := make([]Member, 0, len(members))
	for _, m := range members {
		if _, ok := wanted[m.ID]; !ok {
			continue
		}
		out[m.ID] = m
		fetched = append(fetched, m)
	}
	if err != nil {
		err = classify(err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch partially failed")
		s.guildLogger(guild.ID).Warn("batch lookup returned %d of %d members: %v", len(fetched), len(missing), err)
	}
	s.store.Upsert(guild.ID, fetched...)
	span.SetAttributes(attribute.Int("batch.fetched", len(fetched)))
	return out
}
