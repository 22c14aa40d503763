package main

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/dabubble/common/docstore"
	"github.com/dabubble/common/messages"
	"github.com/dabubble/common/structures"
	"github.com/spf13/cobra"
)

// target selects a channel, a thread of a channel message or a direct conversation.
var target struct {
	thread string
	direct bool
}

func addTargetFlags(cmd *cobra.Command) {
	cmd.Flags().StringVar(&target.thread, "thread", "", "parent message id of a thread")
	cmd.Flags().BoolVar(&target.direct, "direct", false, "treat the first argument as a user id for a direct conversation")
}

var sendCmd = &cobra.Command{
	Use:   "send <channel|uid> <text...>",
	Short: "Send a message to every member",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}

			d := messages.Draft{Text: strings.Join(args[1:], " "), Author: s.Author()}
			var id string
			switch {
			case target.direct:
				id, err = a.messages.SendDirectMessage(ctx, s.UID(), args[0], d)
			case target.thread != "":
				id, err = a.messages.SendThreadReply(ctx, s.UID(), args[0], target.thread, d)
			default:
				id, err = a.messages.SendMessage(ctx, s.UID(), args[0], d)
			}
			if id != "" {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return err
		})
	},
}

var editCmd = &cobra.Command{
	Use:   "edit <channel|uid> <message> <text...>",
	Short: "Change the text of a message",
	Args:  cobra.MinimumNArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}

			text := strings.Join(args[2:], " ")
			switch {
			case target.direct:
				return a.messages.UpdateDirectMessage(ctx, s.UID(), args[0], args[1], text)
			case target.thread != "":
				return a.messages.UpdateThreadReply(ctx, s.UID(), args[0], target.thread, args[1], text)
			}
			return a.messages.UpdateMessage(ctx, s.UID(), args[0], args[1], text)
		})
	},
}

var reactCmd = &cobra.Command{
	Use:   "react <channel|uid> <message> <emoji>",
	Short: "Toggle a reaction on a message",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}

			user := s.User().ReactionUser()
			var reactions []structures.Reaction
			switch {
			case target.direct:
				reactions, err = a.messages.ToggleDirectReaction(ctx, s.UID(), args[0], args[1], args[2], user)
			case target.thread != "":
				reactions, err = a.messages.ToggleThreadReaction(ctx, s.UID(), args[0], target.thread, args[1], args[2], user)
			default:
				reactions, err = a.messages.ToggleReaction(ctx, s.UID(), args[0], args[1], args[2], user)
			}
			for _, r := range reactions {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %d\n", r.EmojiID, r.EmojiCount)
			}
			return err
		})
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch <channel|uid>",
	Short: "Print the conversation on every change until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}

			var subs docstore.Registry
			defer subs.Close()

			out := cmd.OutOrStdout()
			show := func(list []structures.Message) { printMessages(out, list) }

			var sub docstore.Subscription
			switch {
			case target.direct:
				sub, err = a.messages.ListenDirectMessages(ctx, s.UID(), args[0], show)
			case target.thread != "":
				sub, err = a.messages.ListenThread(ctx, s.UID(), args[0], target.thread, show)
			default:
				sub, err = a.messages.ListenMessages(ctx, s.UID(), args[0], show)
			}
			if err != nil {
				return err
			}
			subs.Add(sub)

			<-ctx.Done()
			return nil
		})
	},
}

func printMessages(w io.Writer, list []structures.Message) {
	fmt.Fprintln(w, "---")
	for _, m := range list {
		fmt.Fprintf(w, "%s %s [%s] %s", m.CreatedAt.Format("15:04:05"), m.ID, m.Author.Username, m.Text)
		if m.RepliesCount > 0 {
			fmt.Fprintf(w, " (%d replies)", m.RepliesCount)
		}
		for _, r := range m.Reactions {
			fmt.Fprintf(w, " :%s: %d", r.EmojiID, r.EmojiCount)
		}
		fmt.Fprintln(w)
	}
}

func init() {
	for _, cmd := range []*cobra.Command{sendCmd, editCmd, reactCmd, watchCmd} {
		addTargetFlags(cmd)
		rootCmd.AddCommand(cmd)
	}
}
