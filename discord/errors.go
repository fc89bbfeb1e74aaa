package discord

import (
	"context"
	"net/http"

	"github.com/agentuity/go-guildcache/member"
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
)

// mapError marks a discordgo error with the member error class it belongs to.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsAny(err, member.ErrNotFound, member.ErrTimeout, member.ErrTransient, member.ErrUnavailable) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return errors.Mark(err, member.ErrTimeout)
	}
	var rerr *discordgo.RESTError
	if errors.As(err, &rerr) {
		if rerr.Message != nil {
			switch rerr.Message.Code {
			case discordgo.ErrCodeUnknownMember, discordgo.ErrCodeUnknownUser:
				return errors.Mark(err, member.ErrNotFound)
			}
		}
		if rerr.Response != nil {
			switch rerr.Response.StatusCode {
			case http.StatusUnauthorized:
				return errors.Mark(err, member.ErrUnavailable)
			case http.StatusNotFound:
				if rerr.Message == nil {
					return errors.Mark(err, member.ErrNotFound)
				}
			}
		}
	}
	return errors.Mark(err, member.ErrTransient)
}
