package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/agentuity/go-guildcache/member"
	"github.com/agentuity/go-guildcache/tui"
	"github.com/spf13/cobra"
)

var memberHeaders = []string{"ID", "Username", "Display name", "Joined", "Roles"}

func asJSON(cmd *cobra.Command) bool {
	v, _ := cmd.Flags().GetBool("json")
	return v
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func memberRows(members []member.Member) [][]string {
	rows := make([][]string, 0, len(members))
	for _, m := range members {
		joined := ""
		if !m.JoinedAt.IsZero() {
			joined = m.JoinedAt.UTC().Format("2006-01-02")
		}
		rows = append(rows, []string{m.ID, m.Username, m.DisplayName, joined, strings.Join(m.Roles, ",")})
	}
	return rows
}

func printMembers(cmd *cobra.Command, members []member.Member) error {
	out := cmd.OutOrStdout()
	if asJSON(cmd) {
		return writeJSON(out, members)
	}
	if len(members) == 0 {
		_, err := fmt.Fprintln(out, "no members")
		return err
	}
	_, err := fmt.Fprintf(out, "%s\n%d members\n", tui.Table(memberHeaders, memberRows(members)), len(members))
	return err
}
