package cli

import (
	"fmt"

	"roomrec/internal/client"

	"github.com/spf13/cobra"
)

func NewOpenCmd(deps *Dependencies) *cobra.Command {
	var (
		token      string
		autoRecord bool
	)

	cmd := &cobra.Command{
		Use:   "open <room>",
		Short: "Join a room and open a recording session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if token == "" {
				return fmt.Errorf("--participant-token is required")
			}
			info, err := deps.client.Open(commandContext(cmd), client.OpenRequest{
				RoomName:   args[0],
				Token:      token,
				AutoRecord: autoRecord,
			})
			if err != nil {
				return err
			}
			deps.formatter().Session(info)
			return nil
		},
	}

	cmd.Flags().StringVar(&token, "participant-token", "", "conferencing access token for the room")
	cmd.Flags().BoolVar(&autoRecord, "auto-record", false, "start recording once connected")
	return cmd
}

func NewListCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List open sessions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := deps.client.List(commandContext(cmd))
			if err != nil {
				return err
			}
			deps.formatter().SessionList(infos)
			return nil
		},
	}
}

func NewStatusCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "status <session-id>",
		Short: "Show a session and its recording",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			info, err := deps.client.Get(commandContext(cmd), sessionArg(args))
			if err != nil {
				return err
			}
			deps.formatter().Session(info)
			return nil
		},
	}
}

func NewCloseCmd(deps *Dependencies) *cobra.Command {
	return &cobra.Command{
		Use:   "close <session-id>",
		Short: "Leave the room; an active recording is stopped",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := deps.client.Close(commandContext(cmd), sessionArg(args)); err != nil {
				return err
			}
			deps.formatter().Info(fmt.Sprintf("Session %s closing", args[0]))
			return nil
		},
	}
}
