package hostsim

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codefionn/sessionbridge/internal/hostapi"
	"github.com/codefionn/sessionbridge/internal/logger"
	"github.com/codefionn/sessionbridge/internal/protocol"
	"github.com/codefionn/sessionbridge/internal/transport"
)

func quietLogger() *logger.Logger {
	return logger.NewWriter(logger.LevelNone, io.Discard, "hostsim")
}

func newTestHost(t *testing.T, opts ...Option) (*Host, *httptest.Server) {
	t.Helper()
	h := New(append([]Option{WithLogger(quietLogger())}, opts...)...)
	srv := httptest.NewServer(h.Handler())
	t.Cleanup(srv.Close)
	return h, srv
}

func newTestClient(t *testing.T, srv *httptest.Server, token string) *hostapi.Client {
	t.Helper()
	client, err := hostapi.NewClient(hostapi.Config{BaseURL: srv.URL, AuthToken: token, Timeout: 5 * time.Second})
	require.NoError(t, err)
	return client
}

func streamURL(srv *httptest.Server) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + "/stream"
}

func TestWorkspaceEndpoints(t *testing.T) {
	_, srv := newTestHost(t, WithWorkspaces("beta"))
	client := newTestClient(t, srv, "")
	ctx := context.Background()

	ws, err := client.CreateWorkspace(ctx, hostapi.CreateWorkspaceRequest{Name: "alpha", SourceURL: "https://example.com/a.git"})
	require.NoError(t, err)
	assert.Equal(t, "alpha", ws.Name)
	assert.Equal(t, "/workspaces/alpha", ws.Path)

	list, err := client.ListWorkspaces(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "alpha", list[0].Name)
	assert.Equal(t, "beta", list[1].Name)

	_, err = client.CreateWorkspace(ctx, hostapi.CreateWorkspaceRequest{Name: "alpha"})
	assert.True(t, hostapi.IsConflict(err))

	_, err = client.CreateWorkspace(ctx, hostapi.CreateWorkspaceRequest{Name: "../escape"})
	var apiErr *hostapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)

	require.NoError(t, client.DeleteWorkspace(ctx, "alpha", false))
	assert.True(t, hostapi.IsNotFound(client.DeleteWorkspace(ctx, "alpha", false)))
}

func TestDeleteWorkspaceReferencedBySession(t *testing.T) {
	h, srv := newTestHost(t, WithWorkspaces("demo"))
	client := newTestClient(t, srv, "")
	ctx := context.Background()

	sess, err := client.CreateSession(ctx, hostapi.CreateSessionRequest{Workspace: "demo"})
	require.NoError(t, err)

	err = client.DeleteWorkspace(ctx, "demo", false)
	require.Error(t, err)
	assert.True(t, hostapi.IsConflict(err))
	assert.Equal(t, []string{"demo"}, h.Workspaces())

	require.NoError(t, client.DeleteWorkspace(ctx, "demo", true))
	assert.Empty(t, h.Workspaces())
	_, ok := h.Session(sess.SessionID)
	assert.False(t, ok, "forced delete removes referencing sessions")
}

func TestSessionEndpoints(t *testing.T) {
	_, srv := newTestHost(t, WithWorkspaces("demo"))
	client := newTestClient(t, srv, "")
	ctx := context.Background()

	_, err := client.CreateSession(ctx, hostapi.CreateSessionRequest{Workspace: "missing"})
	assert.True(t, hostapi.IsNotFound(err))

	sess, err := client.CreateSession(ctx, hostapi.CreateSessionRequest{Workspace: "demo", InitialPrompt: "fix the build"})
	require.NoError(t, err)
	_, err = uuid.Parse(sess.SessionID)
	assert.NoError(t, err, "session ids are UUIDs")
	assert.Equal(t, protocol.StateStarting, sess.State)
	assert.Equal(t, "demo", sess.Workspace)
	assert.False(t, sess.CreatedAt.IsZero())

	got, err := client.GetSession(ctx, sess.SessionID)
	require.NoError(t, err)
	assert.Equal(t, sess.SessionID, got.SessionID)

	require.NoError(t, client.DeleteSession(ctx, sess.SessionID))
	assert.True(t, hostapi.IsNotFound(client.DeleteSession(ctx, sess.SessionID)))
	_, err = client.GetSession(ctx, sess.SessionID)
	assert.True(t, hostapi.IsNotFound(err))
}

func TestTokenRequired(t *testing.T) {
	h, srv := newTestHost(t, WithToken("s3cret"), WithWorkspaces("demo"))
	ctx := context.Background()

	_, err := newTestClient(t, srv, "").ListWorkspaces(ctx)
	var apiErr *hostapi.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.StatusCode)
	assert.Equal(t, "unauthorized", apiErr.Message)

	client := newTestClient(t, srv, "s3cret")
	list, err := client.ListWorkspaces(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)

	sess, err := client.CreateSession(ctx, hostapi.CreateSessionRequest{Workspace: "demo"})
	require.NoError(t, err)

	anonymous, err := transport.NewWebSocketDialer(streamURL(srv), "")
	require.NoError(t, err)
	_, err = anonymous.Dial(ctx, sess.SessionID, transport.Handlers{})
	assert.Error(t, err)

	authed, err := transport.NewWebSocketDialer(streamURL(srv), "s3cret")
	require.NoError(t, err)
	conn, err := authed.Dial(ctx, sess.SessionID, transport.Handlers{})
	require.NoError(t, err)
	defer conn.Close()
	assert.Eventually(t, func() bool { return h.Streams(sess.SessionID) == 1 }, 2*time.Second, 10*time.Millisecond)
}

func TestStreamUnknownSession(t *testing.T) {
	_, srv := newTestHost(t)
	dialer, err := transport.NewWebSocketDialer(streamURL(srv), "")
	require.NoError(t, err)

	_, err = dialer.Dial(context.Background(), "nope", transport.Handlers{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 404")
}

func TestPushBeforeAttachIsDelivered(t *testing.T) {
	h, srv := newTestHost(t, WithWorkspaces("demo"))
	client := newTestClient(t, srv, "")
	sess, err := client.CreateSession(context.Background(), hostapi.CreateSessionRequest{Workspace: "demo"})
	require.NoError(t, err)

	require.NoError(t, h.Push(sess.SessionID, protocol.EventTypeOutput, "early\n"))
	require.NoError(t, h.Push(sess.SessionID, protocol.EventTypeStateChange, map[string]string{"state": "running"}))
	assert.ErrorIs(t, h.Push("unknown", protocol.EventTypeOutput, "x"), ErrUnknownSession)

	record, _ := h.Session(sess.SessionID)
	assert.Equal(t, protocol.StateRunning, record.State)

	received := make(chan protocol.Event, 4)
	dialer, err := transport.NewWebSocketDialer(streamURL(srv), "")
	require.NoError(t, err)
	conn, err := dialer.Dial(context.Background(), sess.SessionID, transport.Handlers{
		OnMessage: func(raw []byte) {
			event, err := protocol.DecodeEvent(raw)
			if err == nil {
				received <- event
			}
		},
	})
	require.NoError(t, err)
	defer conn.Close()

	first := <-received
	second := <-received
	assert.Equal(t, "early\n", first.(protocol.OutputEvent).Text)
	assert.Equal(t, protocol.StateRunning, second.(protocol.StateChangeEvent).State)
}

func TestFramesAreObserved(t *testing.T) {
	observed := make(chan protocol.Frame, 4)
	h, srv := newTestHost(t, WithWorkspaces("demo"), WithFrameObserver(func(id string, frame protocol.Frame) {
		observed <- frame
	}))
	client := newTestClient(t, srv, "")
	sess, err := client.CreateSession(context.Background(), hostapi.CreateSessionRequest{Workspace: "demo"})
	require.NoError(t, err)

	dialer, err := transport.NewWebSocketDialer(streamURL(srv), "")
	require.NoError(t, err)
	conn, err := dialer.Dial(context.Background(), sess.SessionID, transport.Handlers{})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.Send(protocol.InputFrame{Text: "hi\n"}))
	require.NoError(t, conn.Send(protocol.ResizeFrame{Rows: 24, Cols: 80}))

	assert.Equal(t, protocol.InputFrame{Text: "hi\n"}, <-observed)
	assert.Equal(t, protocol.ResizeFrame{Rows: 24, Cols: 80}, <-observed)
	assert.Equal(t, []protocol.Frame{
		protocol.InputFrame{Text: "hi\n"},
		protocol.ResizeFrame{Rows: 24, Cols: 80},
	}, h.Frames(sess.SessionID))
}

func TestServeShutsDownOnCancel(t *testing.T) {
	h := New(WithLogger(quietLogger()), WithWorkspaces("demo"))
	ctx, cancel := context.WithCancel(context.Background())

	addrCh := make(chan string, 1)
	errCh := make(chan error, 1)
	go func() {
		errCh <- h.Serve(ctx, "127.0.0.1:0", func(addr net.Addr) { addrCh <- addr.String() })
	}()

	addr := <-addrCh
	resp, err := http.Get("http://" + addr + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
