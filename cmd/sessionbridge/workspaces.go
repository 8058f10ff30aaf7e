package main

import (
	"fmt"
	"strconv"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"github.com/codefionn/sessionbridge/internal/hostapi"
	"github.com/codefionn/sessionbridge/internal/protocol"
)

func newWorkspacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "workspaces",
		Aliases: []string{"ws"},
		Short:   "List, create and delete workspaces",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List workspaces on the host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			workspaces, err := client.ListWorkspaces(cmd.Context())
			if err != nil {
				return fmt.Errorf("list workspaces: %w", err)
			}
			if len(workspaces) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No workspaces.")
				return nil
			}
			fmt.Fprintln(cmd.OutOrStdout(), workspaceTable(workspaces))
			return nil
		},
	})

	var sourceURL string
	create := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			ws, err := client.CreateWorkspace(cmd.Context(), hostapi.CreateWorkspaceRequest{Name: args[0], SourceURL: sourceURL})
			if err != nil {
				return fmt.Errorf("create workspace %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created workspace %s at %s\n", ws.Name, ws.Path)
			return nil
		},
	}
	create.Flags().StringVar(&sourceURL, "source", "", "Repository URL to populate the workspace from")
	cmd.AddCommand(create)

	var force bool
	del := &cobra.Command{
		Use:   "delete <name>",
		Short: "Delete a workspace",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newClient(cfg)
			if err != nil {
				return err
			}
			if err := client.DeleteWorkspace(cmd.Context(), args[0], force); err != nil {
				if hostapi.IsConflict(err) && !force {
					return fmt.Errorf("delete workspace %s: %w (use --force to terminate its sessions)", args[0], err)
				}
				return fmt.Errorf("delete workspace %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted workspace %s\n", args[0])
			return nil
		},
	}
	del.Flags().BoolVar(&force, "force", false, "Delete even if sessions are using the workspace")
	cmd.AddCommand(del)

	return cmd
}

func workspaceTable(workspaces []protocol.Workspace) *table.Table {
	rows := make([][]string, 0, len(workspaces))
	for _, ws := range workspaces {
		branch := "-"
		if ws.CurrentBranch != nil {
			branch = *ws.CurrentBranch
		}
		rows = append(rows, []string{
			ws.Name,
			ws.Path,
			strconv.FormatBool(ws.IsGitRepo),
			branch,
			strconv.Itoa(ws.FileCount),
			strconv.FormatFloat(ws.SizeMB, 'f', 1, 64),
		})
	}

	return table.New().
		Border(lipgloss.NormalBorder()).
		Headers("NAME", "PATH", "GIT", "BRANCH", "FILES", "SIZE MB").
		Rows(rows...)
}
