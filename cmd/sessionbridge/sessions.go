package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/codefionn/sessionbridge/internal/hostapi"
)

func newSessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect sessions",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show <id>",
		Short: "Print the host's record of a session as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			sess, err := client.GetSession(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("get session %s: %w", args[0], err)
			}
			data, err := json.MarshalIndent(sess, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	})

	var ignoreMissing bool
	end := &cobra.Command{
		Use:   "end <id>",
		Short: "Terminate a session on the host",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			if err := client.DeleteSession(cmd.Context(), args[0]); err != nil {
				if ignoreMissing && hostapi.IsNotFound(err) {
					return nil
				}
				return fmt.Errorf("end session %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Ended session %s\n", args[0])
			return nil
		},
	}
	end.Flags().BoolVar(&ignoreMissing, "ignore-missing", false, "Succeed even if the session does not exist")
	cmd.AddCommand(end)

	return cmd
}
