package hostsim

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/sessionbridge/internal/bridge"
	"github.com/codefionn/sessionbridge/internal/hostapi"
	"github.com/codefionn/sessionbridge/internal/logger"
	"github.com/codefionn/sessionbridge/internal/protocol"
	"github.com/codefionn/sessionbridge/internal/state"
	"github.com/codefionn/sessionbridge/internal/transport"
)

const (
	waitFor = 3 * time.Second
	tick    = 10 * time.Millisecond
)

type stack struct {
	host  *Host
	coord *bridge.Coordinator
}

func newStack(t *testing.T, opts ...Option) *stack {
	t.Helper()
	h, srv := newTestHost(t, opts...)
	client := newTestClient(t, srv, "")
	dialer, err := transport.NewWebSocketDialer(streamURL(srv), "")
	require.NoError(t, err)

	coord := bridge.New(client, client, dialer, state.NewStore(),
		bridge.WithLogger(logger.NewWriter(logger.LevelNone, nil, "bridge")))
	t.Cleanup(coord.Close)
	return &stack{host: h, coord: coord}
}

func (s *stack) snapshot() state.State {
	return s.coord.Store().Snapshot()
}

func (s *stack) eventually(t *testing.T, msg string, cond func(state.State) bool) {
	t.Helper()
	require.Eventually(t, func() bool { return cond(s.snapshot()) }, waitFor, tick, msg)
}

func countLines(snap state.State, kind state.OutputKind, text string) int {
	n := 0
	for _, line := range snap.Output {
		if line.Kind == kind && line.Text == text {
			n++
		}
	}
	return n
}

func TestEndToEndPermissionFlow(t *testing.T) {
	s := newStack(t)
	ctx := context.Background()

	_, err := s.coord.CreateWorkspace(ctx, "demo", "")
	require.NoError(t, err)

	sess, err := s.coord.StartSession(ctx, "demo", "")
	require.NoError(t, err)
	assert.Equal(t, protocol.StateStarting, sess.State)
	s.eventually(t, "stream attached", func(state.State) bool { return s.host.Streams(sess.SessionID) == 1 })

	require.NoError(t, s.host.Push(sess.SessionID, protocol.EventTypeStateChange, map[string]string{"state": "running"}))
	s.eventually(t, "running", func(st state.State) bool { return st.SessionState == protocol.StateRunning })

	require.NoError(t, s.host.Push(sess.SessionID, protocol.EventTypePermissionRequest, map[string]interface{}{
		"id": "p1", "toolType": "bash", "description": "run tests", "command": "pytest", "filePath": nil,
	}))
	s.eventually(t, "waiting for permission", func(st state.State) bool {
		return st.SessionState == protocol.StateWaitingPermission && st.PendingPermission != nil && st.PendingPermission.ID == "p1"
	})

	s.coord.RespondToPermission(true)
	assert.Nil(t, s.snapshot().PendingPermission)
	require.Eventually(t, func() bool {
		frames := s.host.Frames(sess.SessionID)
		return len(frames) == 1 && frames[0] == protocol.Frame(protocol.PermissionFrame{Approved: true})
	}, waitFor, tick)

	require.NoError(t, s.host.Push(sess.SessionID, protocol.EventTypeCompleted, map[string]int{"exit_code": 0}))
	s.eventually(t, "completed", func(st state.State) bool { return st.SessionState == protocol.StateCompleted })
	assert.Equal(t, 1, countLines(s.snapshot(), state.KindSystem, "Session completed (exit code 0)"))

	record, ok := s.host.Session(sess.SessionID)
	require.True(t, ok)
	assert.Equal(t, protocol.StateCompleted, record.State)
}

func TestEndToEndUnexpectedDisconnect(t *testing.T) {
	s := newStack(t, WithWorkspaces("demo"))
	ctx := context.Background()

	sess, err := s.coord.StartSession(ctx, "demo", "")
	require.NoError(t, err)
	s.eventually(t, "stream attached", func(state.State) bool { return s.host.Streams(sess.SessionID) == 1 })

	require.NoError(t, s.host.Push(sess.SessionID, protocol.EventTypeStateChange, map[string]string{"state": "running"}))
	s.eventually(t, "running", func(st state.State) bool { return st.SessionState == protocol.StateRunning })

	s.host.Drop(sess.SessionID)

	s.eventually(t, "disconnect noticed", func(st state.State) bool {
		return !st.Connected && countLines(st, state.KindSystem, "Disconnected from session") == 1
	})
	snap := s.snapshot()
	assert.Equal(t, protocol.StateRunning, snap.SessionState)
	assert.True(t, strings.HasPrefix(snap.Error, "connection error: "), snap.Error)

	// The session is still tracked, so the stream can be reopened
	require.NoError(t, s.coord.Reconnect(ctx))
	s.eventually(t, "reconnected", func(st state.State) bool { return st.Connected })
	s.eventually(t, "stream reattached", func(state.State) bool { return s.host.Streams(sess.SessionID) == 1 })
	assert.Equal(t, 1, countLines(s.snapshot(), state.KindSystem, "Disconnected from session"))
}

func TestEndToEndDeleteWorkspace(t *testing.T) {
	s := newStack(t, WithWorkspaces("demo"))
	ctx := context.Background()

	s.coord.LoadWorkspaces(ctx)
	_, err := s.coord.StartSession(ctx, "demo", "")
	require.NoError(t, err)

	err = s.coord.DeleteWorkspace(ctx, "demo", false)
	require.Error(t, err)
	assert.True(t, hostapi.IsConflict(err))
	assert.NotEmpty(t, s.snapshot().Error)
	assert.Len(t, s.snapshot().Workspaces, 1)

	require.NoError(t, s.coord.DeleteWorkspace(ctx, "demo", true))
	assert.Empty(t, s.snapshot().Workspaces)
	assert.Empty(t, s.host.Workspaces())
}

func TestEndToEndEndSession(t *testing.T) {
	s := newStack(t, WithWorkspaces("demo"))
	ctx := context.Background()

	first, err := s.coord.StartSession(ctx, "demo", "")
	require.NoError(t, err)
	second, err := s.coord.StartSession(ctx, "demo", "")
	require.NoError(t, err)

	_, ok := s.host.Session(first.SessionID)
	assert.False(t, ok, "starting a session deletes the previous one")
	s.eventually(t, "second stream attached", func(state.State) bool { return s.host.Streams(second.SessionID) == 1 })

	s.coord.EndSession(ctx)
	_, ok = s.host.Session(second.SessionID)
	assert.False(t, ok)

	snap := s.snapshot()
	assert.False(t, snap.HasSession())
	assert.False(t, snap.Connected)
	assert.Zero(t, countLines(snap, state.KindSystem, "Disconnected from session"))
}

func TestEndToEndDemoScript(t *testing.T) {
	s := newStack(t, WithWorkspaces("demo"), WithDemoScript())
	ctx := context.Background()

	_, err := s.coord.StartSession(ctx, "demo", "hello there")
	require.NoError(t, err)

	s.eventually(t, "demo asks permission", func(st state.State) bool { return st.PendingPermission != nil })
	assert.Equal(t, "bash", s.snapshot().PendingPermission.ToolType)
	assert.Equal(t, 1, countLines(s.snapshot(), state.KindOutput, "> hello there\n"))

	s.coord.RespondToPermission(true)
	s.eventually(t, "waiting for input", func(st state.State) bool { return st.SessionState == protocol.StateWaitingInput })

	s.coord.SendInput("ping\n")
	s.eventually(t, "input echoed", func(st state.State) bool { return countLines(st, state.KindOutput, "echo: ping\n") == 1 })

	s.coord.SendInput("exit\n")
	s.eventually(t, "completed and closed", func(st state.State) bool {
		return st.SessionState == protocol.StateCompleted && !st.Connected
	})
	snap := s.snapshot()
	assert.Equal(t, 1, countLines(snap, state.KindSystem, "Session completed (exit code 0)"))
	assert.Zero(t, countLines(snap, state.KindSystem, "Disconnected from session"))
}
