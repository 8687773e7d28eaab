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
	"chatsync/internal/pkg/errs"
)

func newWatchCmd(c *cli) *cobra.Command {
	var readOnly bool
	cmd := &cobra.Command{
		Use:   "watch <room-id>",
		Short: "Follow a room live",
		Long: `Enter a room and print new messages, typing and presence as they happen.
Each line typed on stdin is sent as a message unless --read-only is given.
Interrupt to leave.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return c.withSession(cmd, func(ctx context.Context, s *chat.Session) error {
				room, err := s.SelectRoom(ctx, args[0])
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Watching %s. Press Ctrl+C to leave.\n", room.Name)

				if !readOnly {
					go composeLoop(ctx, s, c.stdin, cmd.ErrOrStderr())
				}
				return watchLoop(ctx, s, out, cmd.ErrOrStderr())
			})
		},
	}
	cmd.Flags().BoolVar(&readOnly, "read-only", false, "do not send stdin lines")
	return cmd
}

// watchLoop prints session events until ctx ends or the session closes.
// Only messages not printed before are shown; an edit prints the message again.
func watchLoop(ctx context.Context, s *chat.Session, out, errOut io.Writer) error {
	seen := make(map[string]string)

	for {
		select {
		case <-ctx.Done():
			return nil
		case e, ok := <-s.Events():
			if !ok {
				return nil
			}
			switch e.Kind {
			case chat.EventMessagesLoaded:
				for _, m := range e.Messages {
					if seen[m.ID] == m.Content {
						continue
					}
					seen[m.ID] = m.Content
					printMessage(out, m)
				}
			case chat.EventTypingChanged:
				printTypists(out, e.Typists)
			case chat.EventPresenceChanged:
				printPresence(out, e.Present)
			case chat.EventError:
				reportError(errOut, e.Err)
				if errs.CategoryOf(e.Err) == errs.CategoryConfiguration {
					return e.Err
				}
			}
		}
	}
}

// composeLoop sends every non-empty line read from in until ctx ends or in is exhausted.
func composeLoop(ctx context.Context, s *chat.Session, in io.Reader, errOut io.Writer) {
	scanner := bufio.NewScanner(in)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		_ = s.Typing(ctx)
		s.SetDraft(line)
		if _, err := s.Send(ctx, model.KindText); err != nil {
			reportError(errOut, err)
			_ = s.StopTyping(ctx)
		}
	}
}
