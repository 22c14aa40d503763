package main

import (
	"context"
	"fmt"

	"github.com/dabubble/common/structures"
	"github.com/dabubble/common/utils/uid"
	"github.com/spf13/cobra"
)

var signupFlags struct {
	uid    string
	name   string
	email  string
	avatar string
}

var signupCmd = &cobra.Command{
	Use:   "signup",
	Short: "Create a user, join the default channel and sign in",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			u := structures.User{
				UID:    signupFlags.uid,
				Name:   signupFlags.name,
				Email:  signupFlags.email,
				Avatar: signupFlags.avatar,
			}
			if u.UID == "" {
				u.UID = uid.NewId()
			}

			if err := a.users.Create(ctx, u); err != nil {
				return err
			}
			if err := a.directory.EnsureDefaultChannelAndAddUser(ctx, u.UID, u.Name, u.Avatar, u.Email); err != nil {
				a.logger.WithError(err).Warn("joined default channel with incomplete sync")
			}
			if _, err := a.sessions.Save(ctx, u); err != nil {
				return err
			}

			fmt.Fprintln(cmd.OutOrStdout(), u.UID)
			return nil
		})
	},
}

var loginCmd = &cobra.Command{
	Use:   "login <uid>",
	Short: "Sign in as an existing user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			u, err := a.users.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if u == nil {
				return fmt.Errorf("user %s does not exist", args[0])
			}
			_, err = a.sessions.Save(ctx, *u)
			return err
		})
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget the signed in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}
			if a.presence != nil {
				if err := a.presence.MarkOffline(ctx, s.UID()); err != nil {
					a.logger.WithError(err).Warn("failed to mark offline")
				}
			}
			return a.sessions.Clear(ctx)
		})
	},
}

var whoamiCmd = &cobra.Command{
	Use:   "whoami",
	Short: "Print the signed in user",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}
			u := s.User()
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\t%s\n", u.UID, u.Name, u.Email)
			return nil
		})
	},
}

var profileFlags struct {
	name   string
	avatar string
}

var profileCmd = &cobra.Command{
	Use:   "profile",
	Short: "Change the signed in user's name or avatar",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}

			u := s.User()
			if profileFlags.name != "" {
				u.Name = profileFlags.name
			}
			if profileFlags.avatar != "" {
				u.Avatar = profileFlags.avatar
			}
			if err := a.users.UpdateProfile(ctx, u.UID, u.Name, u.Avatar); err != nil {
				return err
			}
			_, err = a.sessions.Save(ctx, u)
			return err
		})
	},
}

var navigateCmd = &cobra.Command{
	Use:   "navigate <path>",
	Short: "Report a navigation so presence follows the signed in user",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(cmd, func(ctx context.Context, a *app) error {
			if a.presence == nil {
				return fmt.Errorf("presence is disabled")
			}
			s, err := a.session(ctx)
			if err != nil || s == nil {
				return err
			}
			return a.presence.Navigate(ctx, s.UID(), args[0])
		})
	},
}

func init() {
	signupCmd.Flags().StringVar(&signupFlags.uid, "uid", "", "user id, generated when empty")
	signupCmd.Flags().StringVar(&signupFlags.name, "name", "", "display name")
	signupCmd.Flags().StringVar(&signupFlags.email, "email", "", "email address")
	signupCmd.Flags().StringVar(&signupFlags.avatar, "avatar", "", "avatar url")
	_ = signupCmd.MarkFlagRequired("name")

	profileCmd.Flags().StringVar(&profileFlags.name, "name", "", "new display name")
	profileCmd.Flags().StringVar(&profileFlags.avatar, "avatar", "", "new avatar url")

	rootCmd.AddCommand(signupCmd, loginCmd, logoutCmd, whoamiCmd, profileCmd, navigateCmd)
}
