package discord

import (
	"context"
	"fmt"
	"sync"

	"github.com/agentuity/go-guildcache/logger"
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
)

// Intents are the gateway intents needed to enumerate guild members.
const Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMembers

// BridgeLogger returns a function suitable for discordgo.Logger that forwards
// the library's messages to log.
func BridgeLogger(log logger.Logger) func(msgL, caller int, format string, a ...interface{}) {
	log = log.WithPrefix("[discordgo]")
	return func(msgL, caller int, format string, a ...interface{}) {
		msg := fmt.Sprintf(format, a...)
		switch msgL {
		case discordgo.LogError:
			log.Error("%s", msg)
		case discordgo.LogWarning:
			log.Warn("%s", msg)
		case discordgo.LogInformational:
			log.Debug("%s", msg)
		default:
			log.Trace("%s", msg)
		}
	}
}

// sessionLogLevel maps the logger's level onto discordgo's.
func sessionLogLevel(log logger.Logger) int {
	switch {
	case log.IsLevelEnabled(logger.LevelTrace):
		return discordgo.LogDebug
	case log.IsLevelEnabled(logger.LevelDebug):
		return discordgo.LogInformational
	default:
		return discordgo.LogWarning
	}
}

// readiness tracks the guilds announced in READY until each has arrived in a
// GUILD_CREATE, which is when their member counts are known.
type readiness struct {
	mu      sync.Mutex
	ready   bool
	pending map[string]struct{}
	once    sync.Once
	done    chan struct{}
}

func newReadiness() *readiness {
	return &readiness{pending: make(map[string]struct{}), done: make(chan struct{})}
}

func (r *readiness) onReady(_ *discordgo.Session, ev *discordgo.Ready) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = true
	for _, g := range ev.Guilds {
		r.pending[g.ID] = struct{}{}
	}
	r.check()
}

func (r *readiness) onGuildCreate(_ *discordgo.Session, ev *discordgo.GuildCreate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, ev.ID)
	r.check()
}

func (r *readiness) check() {
	if r.ready && len(r.pending) == 0 {
		r.once.Do(func() { close(r.done) })
	}
}

// Open connects a bot session with the member intents and waits until every
// guild of the READY payload is available in the session state.
func Open(ctx context.Context, token string, log logger.Logger) (*discordgo.Session, error) {
	discordgo.Logger = BridgeLogger(log)
	s, err := discordgo.New("Bot " + token)
	if err != nil {
		return nil, errors.Wrap(err, "creating discord session")
	}
	s.Identify.Intents = Intents
	s.StateEnabled = true
	s.LogLevel = sessionLogLevel(log)

	r := newReadiness()
	removeReady := s.AddHandler(r.onReady)
	removeCreate := s.AddHandler(r.onGuildCreate)
	defer removeReady()
	defer removeCreate()

	if err := s.Open(); err != nil {
		return nil, errors.Wrap(err, "opening discord gateway")
	}
	select {
	case <-r.done:
	case <-ctx.Done():
		_ = s.Close()
		return nil, errors.Wrap(ctx.Err(), "waiting for guilds")
	}
	s.State.RLock()
	n := len(s.State.Guilds)
	name := "unknown"
	if s.State.User != nil {
		name = s.State.User.Username
	}
	s.State.RUnlock()
	log.Info("connected to discord as %s with %d guilds", name, n)
	return s, nil
}
