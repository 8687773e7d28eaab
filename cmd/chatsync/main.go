/*
Package main is the chatsync command line client.

It talks to the chat database directly, joins room topics on the configured
broadcast backend and keeps its session token and preferences in a local
buntdb file. Settings come from the environment (see internal/configs) and
can be overridden with the persistent flags.
*/
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"chatsync/internal/configs"
	"chatsync/internal/pkg/errs"
	"chatsync/internal/pkg/logx"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCmd(openApp, os.Stdin)
	if err := root.ExecuteContext(ctx); err != nil {
		reportError(root.ErrOrStderr(), err)
		os.Exit(1)
	}
}

// reportError prints err followed by what the user can do about it.
func reportError(w io.Writer, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	if hint := errs.Guidance(err); hint != "" && errs.CategoryOf(err) != errs.CategoryValidation {
		fmt.Fprintf(w, "%s\n", hint)
	}
}

// cli carries what every subcommand needs.
type cli struct {
	v     *viper.Viper
	open  opener
	stdin io.Reader
	cfg   *configs.ClientConfig
}

func newRootCmd(open opener, stdin io.Reader) *cobra.Command {
	c := &cli{v: configs.NewViper(), open: open, stdin: stdin}

	root := &cobra.Command{
		Use:           "chatsync",
		Short:         "Realtime community chat from the terminal",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := configs.LoadClientConfig(c.v)
			if err != nil {
				return err
			}
			c.cfg = cfg
			logx.InitCLILogger(cmd.ErrOrStderr(), cfg.LogLevel)
			return nil
		},
	}

	flags := root.PersistentFlags()
	flags.String("db", "", "PostgreSQL connection string (DATABASE_URL)")
	flags.String("broadcast", "", "broadcast backend: memory, relay or redis (BROADCAST_BACKEND)")
	flags.String("relay-url", "", "relay server base URL (RELAY_URL)")
	flags.String("redis-url", "", "Redis URL for the redis broadcast backend (REDIS_URL)")
	flags.String("token", "", "signed-in user identity token (USER_TOKEN)")
	flags.String("state", "", "path of the local state file (STATE_PATH)")
	flags.String("log-level", "", "log level written to stderr (LOG_LEVEL)")

	for key, flag := range map[string]string{
		"DATABASE_URL":      "db",
		"BROADCAST_BACKEND": "broadcast",
		"RELAY_URL":         "relay-url",
		"REDIS_URL":         "redis-url",
		"USER_TOKEN":        "token",
		"STATE_PATH":        "state",
		"LOG_LEVEL":         "log-level",
	} {
		_ = c.v.BindPFlag(key, flags.Lookup(flag))
	}

	root.AddCommand(
		newRoomsCmd(c),
		newMessagesCmd(c),
		newWatchCmd(c),
		newMigrateCmd(c),
		newProfileCmd(c),
		newPrefsCmd(c),
	)
	return root
}
