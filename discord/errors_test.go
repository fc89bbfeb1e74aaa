package discord

import (
	"context"
	"net/http"
	"testing"

	"github.com/agentuity/go-guildcache/member"
	"github.com/bwmarrin/discordgo"
	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
)

func TestMapError(t *testing.T) {
	assert.Nil(t, mapError(nil))

	tests := []struct {
		name string
		err  error
		want error
	}{
		{"unknown member", unknownMember(), member.ErrNotFound},
		{"unknown user", &discordgo.RESTError{Message: &discordgo.APIErrorMessage{Code: discordgo.ErrCodeUnknownUser}}, member.ErrNotFound},
		{"bare 404", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusNotFound}}, member.ErrNotFound},
		{"unauthorized", &discordgo.RESTError{Response: &http.Response{StatusCode: http.StatusUnauthorized}}, member.ErrUnavailable},
		{"server error", serverError(), member.ErrTransient},
		{"deadline", errors.Wrap(context.DeadlineExceeded, "Get"), member.ErrTimeout},
		{"other", errors.New("EOF"), member.ErrTransient},
		{"already classified", member.ErrUnavailable, member.ErrUnavailable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.True(t, errors.Is(mapError(tt.err), tt.want))
		})
	}
}
