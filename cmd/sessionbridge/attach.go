package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/codefionn/sessionbridge/internal/bridge"
	"github.com/codefionn/sessionbridge/internal/config"
	"github.com/codefionn/sessionbridge/internal/logger"
	"github.com/codefionn/sessionbridge/internal/protocol"
	"github.com/codefionn/sessionbridge/internal/sink"
	"github.com/codefionn/sessionbridge/internal/state"
	"github.com/codefionn/sessionbridge/internal/tui"
)

var errStreamLost = errors.New("stream lost")

func newAttachCmd() *cobra.Command {
	var (
		prompt string
		plain  bool
	)

	cmd := &cobra.Command{
		Use:   "attach <workspace>",
		Short: "Start a session in a workspace and attach to it",
		Long: `Start a session in a workspace and attach to it.

In the interactive screen, type input and press Enter; answer permission
prompts with y or n; ctrl+r reconnects, ctrl+e dismisses the error banner,
ctrl+c detaches and ends the session.

With --plain (or when stdout is not a terminal) output is written as-is and
input is read line by line from stdin. Lines are held until the session waits
for input; while a permission request is pending the next line answers it.
If the stream drops while the session is live it is reopened once; a second
loss ends the command with an error.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			watchConfig(ctx)

			interactive := !plain && term.IsTerminal(int(os.Stdout.Fd())) && term.IsTerminal(int(os.Stdin.Fd()))
			if interactive {
				return attachInteractive(ctx, args[0], prompt)
			}
			return attachPlain(ctx, cmd.InOrStdin(), cmd.OutOrStdout(), args[0], prompt)
		},
	}

	cmd.Flags().StringVar(&prompt, "prompt", "", "Initial prompt for the session")
	cmd.Flags().BoolVar(&plain, "plain", false, "Line-oriented mode without the interactive screen")
	return cmd
}

// watchConfig hot-applies log level changes from the config file
func watchConfig(ctx context.Context) {
	err := config.Watch(ctx, configPath(), func(updated *config.Config) {
		level := logger.ParseLevel(updated.LogLevel)
		if logLevel != "" {
			level = logger.ParseLevel(logLevel)
		}
		logger.Global().SetLevel(level)
		logger.Info("log level set to %s", level)
	})
	if err != nil {
		logger.Debug("not watching config: %v", err)
	}
}

func attachInteractive(ctx context.Context, workspace, prompt string) error {
	coord, err := newCoordinator(cfg)
	if err != nil {
		return err
	}
	defer coord.Close()

	if _, err := coord.StartSession(ctx, workspace, prompt); err != nil {
		return err
	}
	return tui.Run(ctx, coord, coord.Store(), workspace)
}

func attachPlain(ctx context.Context, in io.Reader, out io.Writer, workspace, prompt string) error {
	terminal := sink.NewTerminalSink(out)
	if f, ok := out.(*os.File); ok {
		if width, _, err := term.GetSize(int(f.Fd())); err == nil {
			terminal.SetWidth(width)
		}
	}

	coord, err := newCoordinator(cfg, bridge.WithSink(terminal))
	if err != nil {
		return err
	}
	defer coord.Close()

	store := coord.Store()
	changes := make(chan struct{}, 1)
	unsubscribe := store.Subscribe(func(state.State) {
		select {
		case changes <- struct{}{}:
		default:
		}
	})
	defer unsubscribe()

	sess, err := coord.StartSession(ctx, workspace, prompt)
	if err != nil {
		return err
	}
	logger.Info("attached to session %s", sess.SessionID)

	if f, ok := out.(*os.File); ok {
		if cols, rows, err := term.GetSize(int(f.Fd())); err == nil {
			coord.ResizeTerminal(rows, cols)
		}
	}

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	var (
		queue       []string
		prompted    string
		reconnected bool
	)
	for {
		select {
		case <-ctx.Done():
			snap := store.Snapshot()
			if snap.SessionState.IsTerminal() {
				return sessionResult(snap)
			}
			return fmt.Errorf("detached from session %s while %s: %w", sess.SessionID, snap.SessionState, ctx.Err())
		case line, ok := <-lines:
			if !ok {
				// stdin closed; keep streaming until the session finishes
				lines = nil
				continue
			}
			queue = append(queue, line)
		case <-changes:
		}

		snap := store.Snapshot()
		if req := snap.PendingPermission; req != nil && req.ID != prompted {
			prompted = req.ID
			printPermission(out, *req)
		}
		queue = deliverInput(coord, queue)

		if snap.Connected || snap.Connecting {
			continue
		}
		if snap.SessionState.IsTerminal() {
			return sessionResult(snap)
		}

		// The stream is gone but the session is still live on the host
		if reconnected {
			return fmt.Errorf("%w: session %s is still %s", errStreamLost, sess.SessionID, snap.SessionState)
		}
		reconnected = true
		logger.Info("stream for session %s lost, reconnecting once", sess.SessionID)
		if err := coord.Reconnect(ctx); err != nil {
			return fmt.Errorf("%w: %v", errStreamLost, err)
		}
		terminal.WriteLine(state.OutputLine{Kind: state.KindSystem, Text: "Reconnected to session " + sess.SessionID})
	}
}

// deliverInput sends queued lines while the session is ready for them: a
// pending permission request takes the next line as its answer, and
// waiting_input takes lines as input
func deliverInput(coord *bridge.Coordinator, queue []string) []string {
	for len(queue) > 0 {
		snap := coord.Store().Snapshot()
		line := queue[0]

		switch {
		case snap.PendingPermission != nil:
			switch strings.ToLower(strings.TrimSpace(line)) {
			case "y", "yes":
				coord.RespondToPermission(true)
			case "n", "no":
				coord.RespondToPermission(false)
			default:
				logger.Warn("ignoring %q while a permission request is pending", line)
			}
		case snap.SessionState == protocol.StateWaitingInput:
			coord.SendInput(line + "\n")
		default:
			return queue
		}
		queue = queue[1:]
	}
	return queue
}

func printPermission(out io.Writer, req protocol.PermissionRequest) {
	fmt.Fprintf(out, "\nPermission requested (%s): %s\n", req.ToolType, req.Description)
	if req.Command != nil {
		fmt.Fprintf(out, "  $ %s\n", *req.Command)
	}
	if req.FilePath != nil {
		fmt.Fprintf(out, "  file: %s\n", *req.FilePath)
	}
	fmt.Fprint(out, "Approve? [y/n] ")
}

func sessionResult(snap state.State) error {
	switch snap.SessionState {
	case protocol.StateError:
		return errors.New("session failed")
	case protocol.StateTerminated:
		return errors.New("session was terminated by the host")
	}
	return nil
}
