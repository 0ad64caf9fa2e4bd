package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"roomrec/internal/client"
	"roomrec/internal/core/domain"

	"github.com/spf13/cobra"
)

type recordingCommand func(*client.Client, context.Context, domain.SessionID) (client.CommandResult, error)

func NewRecordingCmd(deps *Dependencies, verb, short string, run recordingCommand) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <session-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := run(deps.client, commandContext(cmd), sessionArg(args))
			if err != nil {
				return err
			}
			deps.formatter().Command(verb, res.Issued, res.Recording)
			return nil
		},
	}
}

func NewWatchCmd(deps *Dependencies) *cobra.Command {
	var untilIdle bool

	cmd := &cobra.Command{
		Use:   "watch <session-id>",
		Short: "Follow recording status changes until the session closes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(commandContext(cmd), os.Interrupt, syscall.SIGTERM)
			defer stop()

			out := deps.formatter()
			seenActive := false
			err := deps.client.Watch(ctx, sessionArg(args), func(msg domain.StatusMessage) error {
				out.StatusMessage(msg)
				if msg.Recording == nil || !untilIdle {
					return nil
				}
				if msg.Recording.Status != domain.StatusIdle {
					seenActive = true
				} else if seenActive {
					return client.ErrStopWatch
				}
				return nil
			})
			if ctx.Err() != nil {
				return nil
			}
			return err
		},
	}

	cmd.Flags().BoolVar(&untilIdle, "until-idle", false, "exit once a recording has finished")
	return cmd
}
