package member

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNotFound is returned by a Platform when the member is not in the guild.
	ErrNotFound = errors.New("member not found")
	// ErrTimeout marks a fetch that exceeded its deadline.
	ErrTimeout = errors.New("member fetch timed out")
	// ErrTransient marks a network or rate limit failure from the platform.
	ErrTransient = errors.New("platform request failed")
	// ErrUnavailable is returned by a Platform that cannot serve requests at all.
	ErrUnavailable = errors.New("platform client unavailable")
	// ErrExhausted marks a failed fetch for a guild with no cached snapshot.
	ErrExhausted = errors.New("no cached members available")
)

// classify marks err as ErrTimeout or ErrTransient unless it already carries a class.
func classify(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.IsAny(err, ErrTimeout, ErrTransient, ErrUnavailable):
		return err
	case errors.Is(err, context.DeadlineExceeded):
		return errors.Mark(err, ErrTimeout)
	default:
		return errors.Mark(err, ErrTransient)
	}
}

func exhausted(err error, guildID string) error {
	return errors.Mark(errors.Wrapf(classify(err), "guild %s", guildID), ErrExhausted)
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
