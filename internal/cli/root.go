// Package cli implements the recordctl commands.
package cli

import (
	"context"
	"io"
	"os"

	"roomrec/internal/client"
	"roomrec/internal/core/domain"

	"github.com/spf13/cobra"
)

type Dependencies struct {
	Config *Config
	Out    io.Writer

	client *client.Client
}

func (d *Dependencies) formatter() *Formatter {
	if d.Out == nil {
		return NewFormatter(os.Stdout)
	}
	return NewFormatter(d.Out)
}

func NewRootCmd(deps *Dependencies, version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:           "recordctl",
		Short:         "Control room recordings on a recordd server",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&deps.Config.Server, "server", deps.Config.Server, "recordd base URL")
	rootCmd.PersistentFlags().StringVar(&deps.Config.Token, "token", deps.Config.Token, "API token")
	rootCmd.PersistentFlags().DurationVar(&deps.Config.Timeout, "timeout", deps.Config.Timeout, "request timeout")

	rootCmd.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		c, err := client.New(client.Config{
			BaseURL: deps.Config.Server,
			Token:   deps.Config.Token,
			Timeout: deps.Config.Timeout,
		}, nil)
		if err != nil {
			return err
		}
		deps.client = c
		return nil
	}

	rootCmd.AddCommand(NewOpenCmd(deps))
	rootCmd.AddCommand(NewListCmd(deps))
	rootCmd.AddCommand(NewStatusCmd(deps))
	rootCmd.AddCommand(NewCloseCmd(deps))
	rootCmd.AddCommand(NewRecordingCmd(deps, "start", "Start recording a session", (*client.Client).Start))
	rootCmd.AddCommand(NewRecordingCmd(deps, "stop", "Stop recording a session", (*client.Client).Stop))
	rootCmd.AddCommand(NewRecordingCmd(deps, "toggle", "Start or stop recording, whichever applies", (*client.Client).Toggle))
	rootCmd.AddCommand(NewWatchCmd(deps))

	return rootCmd
}

func sessionArg(args []string) domain.SessionID {
	return domain.SessionID(args[0])
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
