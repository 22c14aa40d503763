package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/dabubble/common/structures"
	"github.com/spf13/cobra"
)

var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage channels",
}

var channelsCmd = &cobra.Command{
	Use:   "channels",
	Short: "List the signed in user's channels",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}

			store := a.membership(s)
			selected, err := store.LoadFirstAvailableChannel(ctx)
			if err != nil {
				return err
			}
			list, err := store.Channels(ctx)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, m := range list {
				mark := " "
				if selected != nil && selected.ID == m.ChannelID {
					mark = "*"
				}
				fmt.Fprintf(out, "%s %s\t%s\t%d members\n", mark, m.ChannelID, m.Name, len(m.Members))
			}
			if selected != nil {
				fmt.Fprintln(out)
				for _, member := range selected.Members {
					fmt.Fprintf(out, "  %s\n", member.Name)
				}
			}
			return nil
		})
	},
}

var createDescription string

var channelCreateCmd = &cobra.Command{
	Use:   "create <name> [uid...]",
	Short: "Create a channel with the signed in user and the given members",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}
			members, err := lookupMembers(ctx, a, args[1:])
			if err != nil {
				return err
			}
			ch, err := a.directory.CreateChannel(ctx, s.User(), args[0], createDescription, members)
			if ch != nil {
				fmt.Fprintln(cmd.OutOrStdout(), ch.ID)
			}
			return err
		})
	},
}

var channelRenameCmd = &cobra.Command{
	Use:   "rename <channel> <name>",
	Short: "Rename a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			_, err := a.directory.RenameChannel(ctx, args[0], args[1])
			return err
		})
	},
}

var channelDescribeCmd = &cobra.Command{
	Use:   "describe <channel> <description>",
	Short: "Change a channel's description",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			_, err := a.directory.DescribeChannel(ctx, args[0], strings.Join(args[1:], " "))
			return err
		})
	},
}

var channelAddCmd = &cobra.Command{
	Use:   "add <channel> <uid...>",
	Short: "Add users to a channel",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			members, err := lookupMembers(ctx, a, args[1:])
			if err != nil {
				return err
			}
			_, err = a.directory.AddMembers(ctx, args[0], members, structures.Channel{Name: args[0]})
			return err
		})
	},
}

var channelLeaveCmd = &cobra.Command{
	Use:   "leave <channel>",
	Short: "Leave a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}
			return a.directory.LeaveChannel(ctx, args[0], s.UID())
		})
	},
}

func lookupMembers(ctx context.Context, a *app, uids []string) ([]structures.Member, error) {
	members := make([]structures.Member, 0, len(uids))
	for _, id := range uids {
		u, err := a.users.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if u == nil {
			return nil, fmt.Errorf("user %s does not exist", id)
		}
		members = append(members, u.Member())
	}
	return members, nil
}

func init() {
	channelCreateCmd.Flags().StringVar(&createDescription, "description", "", "channel description")

	channelCmd.AddCommand(channelCreateCmd, channelRenameCmd, channelDescribeCmd, channelAddCmd, channelLeaveCmd)
	rootCmd.AddCommand(channelCmd, channelsCmd)
}
