// Package discord implements member.Platform on top of discordgo.
package discord

import (
	"context"
	"slices"
	"sync"

	"github.com/agentuity/go-guildcache/logger"
	"github.com/agentuity/go-guildcache/member"
	"github.com/agentuity/go-guildcache/resilience"
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

// MaxPageSize is the largest page the list guild members endpoint returns.
const MaxPageSize = 1000

// DefaultLookupConcurrency bounds concurrent point lookups in FetchMembersByID.
const DefaultLookupConcurrency = 8

// Session is the part of *discordgo.Session the client calls.
type Session interface {
	GuildMembers(guildID string, after string, limit int, options ...discordgo.RequestOption) ([]*discordgo.Member, error)
	GuildMember(guildID, userID string, options ...discordgo.RequestOption) (*discordgo.Member, error)
}

var _ Session = (*discordgo.Session)(nil)

// Client reads guild membership through a discordgo session. Guild listings
// come from the session state, which the gateway keeps current.
type Client struct {
	session     Session
	state       *discordgo.State
	logger      logger.Logger
	breaker     *resilience.CircuitBreaker
	concurrency int
}

var _ member.Platform = (*Client)(nil)

type Option func(*Client)

func WithLogger(l logger.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithCircuitBreaker replaces the breaker guarding REST calls.
func WithCircuitBreaker(cb *resilience.CircuitBreaker) Option {
	return func(c *Client) { c.breaker = cb }
}

// WithLookupConcurrency bounds concurrent point lookups in a batch.
func WithLookupConcurrency(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.concurrency = n
		}
	}
}

// NewClient returns a Client using s for REST calls and its state for guild listings.
func NewClient(s *discordgo.Session, opts ...Option) *Client {
	return New(s, s.State, opts...)
}

// New returns a Client over an arbitrary session implementation. state may
// be nil, in which case Guilds reports member.ErrUnavailable.
func New(session Session, state *discordgo.State, opts ...Option) *Client {
	c := &Client{
		session:     session,
		state:       state,
		concurrency: DefaultLookupConcurrency,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = logger.NewConsoleLogger()
	}
	c.logger = c.logger.WithPrefix("[discord]")
	if c.breaker == nil {
		c.breaker = NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig(), c.logger)
	}
	return c
}

// NewCircuitBreaker returns a breaker that ignores member-not-found and
// cancelled calls and logs its transitions to log.
func NewCircuitBreaker(cfg resilience.CircuitBreakerConfig, log logger.Logger, opts ...resilience.Option) *resilience.CircuitBreaker {
	cfg.IsFailure = func(err error) bool {
		return !errors.IsAny(err, member.ErrNotFound, context.Canceled)
	}
	opts = append(opts, resilience.WithStateChange(func(from, to resilience.CircuitBreakerState) {
		if to == resilience.StateOpen {
			log.Warn("platform circuit opened after repeated failures")
			return
		}
		log.Info("platform circuit %s -> %s", from, to)
	}))
	return resilience.NewCircuitBreaker(cfg, opts...)
}

func (c *Client) do(fn func() error) error {
	err := c.breaker.Execute(fn)
	if errors.Is(err, resilience.ErrCircuitBreakerOpen) {
		return errors.Mark(err, member.ErrUnavailable)
	}
	return err
}

// Guilds lists the guilds of the session state with their member counts.
func (c *Client) Guilds(ctx context.Context) ([]member.Guild, error) {
	if c.state == nil {
		return nil, errors.Wrap(member.ErrUnavailable, "session state is disabled")
	}
	c.state.RLock()
	defer c.state.RUnlock()
	guilds := make([]member.Guild, 0, len(c.state.Guilds))
	for _, g := range c.state.Guilds {
		count := g.MemberCount
		if count == 0 {
			count = g.ApproximateMemberCount
		}
		guilds = append(guilds, member.Guild{ID: g.ID, Name: g.Name, MemberCount: count})
	}
	return guilds, nil
}

// FetchMembers pages through the full member list of the guild.
func (c *Client) FetchMembers(ctx context.Context, guildID string, params member.FetchParams) ([]member.Member, error) {
	limit := params.ChunkSize
	if limit <= 0 || limit > MaxPageSize {
		limit = MaxPageSize
	}
	var (
		out   []member.Member
		after string
		pages int
	)
	for {
		if err := ctx.Err(); err != nil {
			return nil, mapError(errors.Wrapf(err, "after %d pages", pages))
		}
		var page []*discordgo.Member
		err := c.do(func() (err error) {
			page, err = c.session.GuildMembers(guildID, after, limit, discordgo.WithContext(ctx))
			return mapError(err)
		})
		if err != nil {
			return nil, errors.Wrapf(err, "listing members of guild %s after %q", guildID, after)
		}
		pages++
		for _, m := range page {
			if mm, ok := toMember(m); ok {
				out = append(out, mm)
				after = mm.ID
			}
		}
		if len(page) < limit {
			break
		}
	}
	c.logger.Trace("fetched %d members of guild %s in %d pages", len(out), guildID, pages)
	return out, nil
}

// FetchMember looks up a single member.
func (c *Client) FetchMember(ctx context.Context, guildID, memberID string) (member.Member, error) {
	var m *discordgo.Member
	err := c.do(func() (err error) {
		m, err = c.session.GuildMember(guildID, memberID, discordgo.WithContext(ctx))
		return mapError(err)
	})
	if err != nil {
		return member.Member{}, errors.Wrapf(err, "member %s of guild %s", memberID, guildID)
	}
	mm, ok := toMember(m)
	if !ok {
		return member.Member{}, errors.Wrapf(member.ErrNotFound, "member %s of guild %s", memberID, guildID)
	}
	return mm, nil
}

// FetchMembersByID looks up each id concurrently. Members that are not in
// the guild are skipped; other failures are combined into the returned error
// next to the members that were found.
func (c *Client) FetchMembersByID(ctx context.Context, guildID string, memberIDs []string) ([]member.Member, error) {
	var (
		mu   sync.Mutex
		out  = make([]member.Member, 0, len(memberIDs))
		errs error
		g    errgroup.Group
	)
	g.SetLimit(c.concurrency)
	for _, id := range memberIDs {
		g.Go(func() error {
			m, err := c.FetchMember(ctx, guildID, id)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				out = append(out, m)
			case !errors.Is(err, member.ErrNotFound):
				errs = multierr.Append(errs, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	slices.SortFunc(out, func(a, b member.Member) int {
		return compareIDs(a.ID, b.ID)
	})
	return out, errs
}

// compareIDs orders snowflakes numerically without parsing them.
func compareIDs(a, b string) int {
	if len(a) != len(b) {
		return len(a) - len(b)
	}
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}

func toMember(m *discordgo.Member) (member.Member, bool) {
	if m == nil || m.User == nil || m.User.ID == "" {
		return member.Member{}, false
	}
	return member.Member{
		ID:          m.User.ID,
		Username:    m.User.Username,
		DisplayName: m.DisplayName(),
		GlobalName:  m.User.GlobalName,
		Avatar:      m.AvatarURL(""),
		Nick:        m.Nick,
		JoinedAt:    m.JoinedAt,
		Roles:       slices.Clone(m.Roles),
	}, true
}
