package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"chatsync/internal/app/chat"
	"chatsync/internal/app/model"
	"chatsync/internal/app/user"
	"chatsync/internal/pkg/auth/jwt"
	"chatsync/internal/pkg/errs"
)

// withApp opens the backends for the duration of run.
func (c *cli) withApp(cmd *cobra.Command, run func(ctx context.Context, a *app) error) error {
	ctx := cmd.Context()
	a, err := c.open(ctx, c.cfg)
	if err != nil {
		return err
	}
	defer a.Close()
	return run(ctx, a)
}

// withSession opens the backends and a started chat session.
func (c *cli) withSession(cmd *cobra.Command, run func(ctx context.Context, s *chat.Session) error) error {
	return c.withApp(cmd, func(ctx context.Context, a *app) error {
		s, err := a.newSession(ctx, c.cfg)
		if err != nil {
			return err
		}
		return run(ctx, s)
	})
}

func newRoomsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "rooms",
		Short: "List and create rooms",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List rooms, most recently active first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *chat.Session) error {
				rooms, err := s.Rooms(ctx)
				if err != nil {
					return err
				}
				printRooms(cmd.OutOrStdout(), rooms)
				return nil
			})
		},
	}

	var description string
	var anonymous bool
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a room",
		Long:  "Create a room. Whether posts are anonymous is fixed at creation and cannot be changed later.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *chat.Session) error {
				room, err := s.CreateRoom(ctx, args[0], description, anonymous)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created room %s (%s)\n", room.Name, room.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&description, "description", "", "room description")
	create.Flags().BoolVar(&anonymous, "anonymous", false, "every post in the room uses a per-room pseudonym")

	cmd.AddCommand(list, create)
	return cmd
}

func newMessagesCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "messages",
		Aliases: []string{"msg"},
		Short:   "Read and write messages",
	}

	list := &cobra.Command{
		Use:   "list <room-id>",
		Short: "Print the messages of a room, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *chat.Session) error {
				if _, err := s.SelectRoom(ctx, args[0]); err != nil {
					return err
				}
				if err := s.Reload(ctx); err != nil {
					return err
				}
				printMessages(cmd.OutOrStdout(), s.Messages())
				return nil
			})
		},
	}

	var replyTo string
	var code bool
	send := &cobra.Command{
		Use:   "send <room-id> <text>",
		Short: "Post a message",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *chat.Session) error {
				if _, err := s.SelectRoom(ctx, args[0]); err != nil {
					return err
				}
				s.SetDraft(strings.Join(args[1:], " "))
				s.ReplyTo(replyTo)

				kind := model.KindText
				if code {
					kind = model.KindCode
				}
				msg, err := s.Send(ctx, kind)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Sent %s as %s\n", msg.ID, msg.Sender.DisplayName())
				return nil
			})
		},
	}
	send.Flags().StringVar(&replyTo, "reply-to", "", "ID of the message being answered")
	send.Flags().BoolVar(&code, "code", false, "send as a code snippet")

	edit := &cobra.Command{
		Use:   "edit <message-id> <text>",
		Short: "Replace the text of one of your messages",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *chat.Session) error {
				msg, err := s.Edit(ctx, args[0], strings.Join(args[1:], " "))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Edited %s\n", msg.ID)
				return nil
			})
		},
	}

	var yes bool
	del := &cobra.Command{
		Use:   "delete <message-id>",
		Short: "Delete one of your messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *chat.Session) error {
				confirm := promptConfirmer(c.stdin, cmd.OutOrStdout())
				if yes {
					confirm = chat.ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })
				}
				if err := s.Delete(ctx, args[0], confirm); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
				return nil
			})
		},
	}
	del.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(list, send, edit, del)
	return cmd
}

// promptConfirmer asks on out and reads a y/yes answer from in.
func promptConfirmer(in io.Reader, out io.Writer) chat.Confirmer {
	return chat.ConfirmFunc(func(_ context.Context, prompt string) (bool, error) {
		fmt.Fprintf(out, "%s [y/N] ", prompt)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && line == "" {
			return false, nil
		}
		switch strings.ToLower(strings.TrimSpace(line)) {
		case "y", "yes":
			return true, nil
		}
		return false, nil
	})
}

func newMigrateCmd(c *cli) *cobra.Command {
	var status bool
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Create or upgrade the chat tables",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if a.migrate == nil {
					return fmt.Errorf("the configured store has no schema to migrate")
				}
				if !status {
					if err := a.migrate(ctx); err != nil {
						return err
					}
				}
				version, err := a.schemaVersion(ctx)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schema version %d\n", version)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&status, "status", false, "only print the applied schema version")
	return cmd
}

func newProfileCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage the signed-in profile",
	}

	show := &cobra.Command{
		Use:   "show",
		Short: "Print the signed-in profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				p, err := a.caller.CurrentUser(ctx)
				if err != nil {
					return err
				}
				printProfile(cmd.OutOrStdout(), p)
				return nil
			})
		},
	}

	var username, displayName, avatarURL string
	var onboarded bool
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update the signed-in profile",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if c.cfg.UserToken == "" {
				return errs.NewError(errs.ErrUnauthorized)
			}
			payload, err := jwt.ParseToken(c.cfg.UserToken, c.cfg.JWTSecret)
			if err != nil {
				return errs.NewError(errs.ErrUnauthorized).Wrap(err)
			}

			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				if a.profiles == nil {
					return fmt.Errorf("the configured store cannot write profiles")
				}
				p := user.Profile{
					ID:                  payload.ID,
					Username:            username,
					DisplayName:         strings.TrimSpace(displayName),
					AvatarURL:           avatarURL,
					OnboardingCompleted: onboarded,
				}
				if p.Username == "" {
					p.Username = payload.ID
				}
				if err := a.profiles.UpsertProfile(ctx, p); err != nil {
					return err
				}
				a.caller.Refresh()
				printProfile(cmd.OutOrStdout(), &p)
				return nil
			})
		},
	}
	set.Flags().StringVar(&username, "username", "", "login handle")
	set.Flags().StringVar(&displayName, "name", "", "display name shown in identity rooms")
	set.Flags().StringVar(&avatarURL, "avatar", "", "avatar image URL")
	set.Flags().BoolVar(&onboarded, "onboarded", true, "mark onboarding as completed")

	token := &cobra.Command{
		Use:   "token <user-id>",
		Short: "Issue a user identity token signed with JWT_SECRET",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := c.v.GetString("JWT_SECRET")
			if secret == "" {
				return fmt.Errorf("JWT_SECRET is required to issue tokens")
			}
			t, err := jwt.GenerateToken(&jwt.Payload{ID: args[0], UserType: jwt.UserTypeRegistered}, secret, jwt.UserIdentityExpiration)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), t)
			return nil
		},
	}

	cmd.AddCommand(show, set, token)
	return cmd
}

func newPrefsCmd(c *cli) *cobra.Command {
	var theme string
	var anonymous string
	var step int

	cmd := &cobra.Command{
		Use:   "prefs",
		Short: "Show or change the locally stored preferences",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withApp(cmd, func(ctx context.Context, a *app) error {
				state, err := chat.NewState(ctx, a.persister)
				if err != nil {
					return err
				}

				if cmd.Flags().Changed("theme") {
					if err := state.SetTheme(ctx, theme); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("anonymous") {
					on, err := parseOnOff(anonymous)
					if err != nil {
						return err
					}
					if err := state.SetAnonymousMode(ctx, on); err != nil {
						return err
					}
				}
				if cmd.Flags().Changed("onboarding-step") {
					if err := state.SetOnboardingStep(ctx, step); err != nil {
						return err
					}
				}

				printPrefs(cmd.OutOrStdout(), state.Snapshot().Prefs)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&theme, "theme", "", "color theme")
	cmd.Flags().StringVar(&anonymous, "anonymous", "", "post anonymously in identity rooms: on or off")
	cmd.Flags().IntVar(&step, "onboarding-step", 0, "onboarding progress")
	return cmd
}

func parseOnOff(v string) (bool, error) {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "on", "true", "yes", "1":
		return true, nil
	case "off", "false", "no", "0":
		return false, nil
	}
	return false, errs.NewError(errs.ErrInvalidParams)
}
