package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/codefionn/sessionbridge/internal/config"
	"github.com/codefionn/sessionbridge/internal/hostsim"
	"github.com/codefionn/sessionbridge/internal/lockfile"
	"github.com/codefionn/sessionbridge/internal/logger"
)

func newDevHostCmd() *cobra.Command {
	var (
		addr       string
		workspaces []string
		token      string
		noScript   bool
		lockPath   string
	)

	cmd := &cobra.Command{
		Use:   "dev-host",
		Short: "Run a local development session host",
		Long: `Run a local session host that serves the workspace, session and stream
endpoints in memory. Sessions run a short scripted conversation: a greeting,
one permission request, and an echo of every input line until "exit".

Only one dev-host runs per lock file; "dev-host status" reports it.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			// The host logs to stderr so its activity is visible while it runs
			hostLog := logger.NewWriter(logger.ParseLevel(cfg.LogLevel), cmd.ErrOrStderr(), "hostsim")

			if holder, err := lockfile.Read(lockPath); err == nil {
				return fmt.Errorf("%w: pid %d on %s", lockfile.ErrLocked, holder.PID, holder.Addr)
			}

			opts := []hostsim.Option{
				hostsim.WithLogger(hostLog),
				hostsim.WithWorkspaces(workspaces...),
			}
			if token != "" {
				opts = append(opts, hostsim.WithToken(token))
			}
			if !noScript {
				opts = append(opts, hostsim.WithDemoScript())
			}

			var lock *lockfile.Lockfile
			defer func() {
				if lock == nil {
					return
				}
				if err := lock.Release(); err != nil {
					hostLog.Warn("%v", err)
				}
			}()

			host := hostsim.New(opts...)
			return host.Serve(ctx, addr, func(bound net.Addr) {
				l, err := lockfile.Acquire(lockPath, bound.String())
				if err != nil {
					// Serving without a lock only costs status reporting
					hostLog.Warn("not recording dev-host in %s: %v", lockPath, err)
				} else {
					lock = l
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Development host listening on http://%s (stream ws://%s/stream)\n", bound, bound)
			})
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8940", "Listen address")
	cmd.Flags().StringSliceVar(&workspaces, "workspace", []string{"demo"}, "Workspaces to create at startup")
	cmd.Flags().StringVar(&token, "require-token", "", "Require this bearer token on every request")
	cmd.Flags().BoolVar(&noScript, "no-script", false, "Do not run the demo conversation on new streams")
	cmd.PersistentFlags().StringVar(&lockPath, "lock", config.DevHostLockPath(), "Lock file recording the running dev-host")

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether a development host is running",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			holder, err := lockfile.Read(lockPath)
			if errors.Is(err, lockfile.ErrNoHost) {
				fmt.Fprintln(cmd.OutOrStdout(), "No development host is running.")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Development host pid %d listening on http://%s since %s\n",
				holder.PID, holder.Addr, holder.Started.Local().Format("2006-01-02 15:04:05"))
			return nil
		},
	})
	return cmd
}
