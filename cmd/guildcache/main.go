// Command guildcache warms and inspects the guild membership cache and can
// serve its statistics and metrics over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/agentuity/go-guildcache/config"
	"github.com/agentuity/go-guildcache/member"
	"github.com/agentuity/go-guildcache/tui"
	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "guildcache",
		Short:         "Guild membership cache",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.AddFlags(root)
	root.PersistentFlags().Bool("json", false, "print results as JSON")
	root.AddCommand(
		newWarmCommand(),
		newMembersCommand(),
		newRolesCommand(),
		newMemberCommand(),
		newStatsCommand(),
		newServeCommand(),
	)
	return root
}

// withRuntime runs fn with a runtime that is closed afterwards.
func withRuntime(fn func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		rt, err := newRuntime(ctx, cmd)
		if err != nil {
			return err
		}
		defer rt.close()
		return fn(ctx, cmd, rt, args)
	}
}

func newWarmCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "warm",
		Short: "Fetch the members of every guild the bot belongs to",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(ctx context.Context, cmd *cobra.Command, rt *runtime, _ []string) error {
			if err := rt.service.WarmCache(ctx); err != nil {
				return err
			}
			if err := rt.service.Drain(ctx); err != nil {
				return err
			}
			return printStats(cmd, rt.service.Stats())
		}),
	}
}

func newMembersCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "members <guild-id>",
		Short: "List every member of a guild",
		Args:  cobra.ExactArgs(1),
		RunE: withRuntime(func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			guild, err := rt.guild(ctx, args[0])
			if err != nil {
				return err
			}
			var opts []member.FetchOption
			if force, _ := cmd.Flags().GetBool("force"); force {
				opts = append(opts, member.Force())
			}
			res := rt.service.GetAllMembers(ctx, guild, opts...)
			snap, err := res.Unwrap()
			if err != nil {
				return err
			}
			if res.IsStale() {
				rt.logger.Warn("showing stale members from %s: %v", snap.LastUpdate().Format("2006-01-02 15:04:05"), res.Err)
			}
			return printMembers(cmd, snap.Members())
		}),
	}
	cmd.Flags().Bool("force", false, "bypass the cached snapshot")
	return cmd
}

func newRolesCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "roles <guild-id> <role-id>...",
		Short: "List the members holding any of the roles",
		Args:  cobra.MinimumNArgs(2),
		RunE: withRuntime(func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			guild, err := rt.guild(ctx, args[0])
			if err != nil {
				return err
			}
			set, err := rt.service.GetMembersByRole(ctx, guild, args[1:]...)
			if err != nil {
				return err
			}
			return printMembers(cmd, set.Slice())
		}),
	}
}

func newMemberCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "member <guild-id> <member-id>...",
		Short: "Look up members by id",
		Args:  cobra.MinimumNArgs(2),
		RunE: withRuntime(func(ctx context.Context, cmd *cobra.Command, rt *runtime, args []string) error {
			guild, err := rt.guild(ctx, args[0])
			if err != nil {
				return err
			}
			ids := args[1:]
			if len(ids) == 1 {
				m, ok, err := rt.service.GetMember(ctx, guild, ids[0])
				if err != nil {
					return err
				}
				if !ok {
					return errors.Newf("member %s not found in guild %s", ids[0], guild.ID)
				}
				return printMembers(cmd, []member.Member{m})
			}
			set := rt.service.GetMembersBatch(ctx, guild, ids)
			return printMembers(cmd, set.Slice())
		}),
	}
}

func newStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show the cache state restored from the persisted snapshots",
		Args:  cobra.NoArgs,
		RunE: withRuntime(func(_ context.Context, cmd *cobra.Command, rt *runtime, _ []string) error {
			return printStats(cmd, rt.service.Stats())
		}),
	}
}

func printStats(cmd *cobra.Command, stats member.CacheStats) error {
	if asJSON(cmd) {
		return writeJSON(cmd.OutOrStdout(), stats)
	}
	return tui.WriteStats(cmd.OutOrStdout(), stats, tui.HasTTY)
}
