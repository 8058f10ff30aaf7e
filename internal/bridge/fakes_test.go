package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"testing"

	"github.com/codefionn/sessionbridge/internal/hostapi"
	"github.com/codefionn/sessionbridge/internal/protocol"
	"github.com/codefionn/sessionbridge/internal/transport"
	"github.com/stretchr/testify/require"
)

// fakeHost implements hostapi.WorkspaceDirectory and hostapi.SessionHost in memory
type fakeHost struct {
	mu         sync.Mutex
	workspaces []protocol.Workspace
	sessions   map[string]protocol.Session
	nextID     int
	calls      []string

	listErr   error
	createErr error
}

func newFakeHost(names ...string) *fakeHost {
	h := &fakeHost{sessions: make(map[string]protocol.Session)}
	for _, name := range names {
		h.workspaces = append(h.workspaces, protocol.Workspace{Name: name, Path: "/workspaces/" + name})
	}
	return h
}

func (h *fakeHost) record(call string) {
	h.calls = append(h.calls, call)
}

func (h *fakeHost) Calls() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string(nil), h.calls...)
}

func (h *fakeHost) ListWorkspaces(ctx context.Context) ([]protocol.Workspace, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("ListWorkspaces")
	if h.listErr != nil {
		return nil, h.listErr
	}
	return append([]protocol.Workspace(nil), h.workspaces...), nil
}

func (h *fakeHost) CreateWorkspace(ctx context.Context, req hostapi.CreateWorkspaceRequest) (protocol.Workspace, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("CreateWorkspace " + req.Name)
	for _, ws := range h.workspaces {
		if ws.Name == req.Name {
			return protocol.Workspace{}, &hostapi.APIError{StatusCode: http.StatusConflict, Message: "workspace already exists"}
		}
	}
	ws := protocol.Workspace{Name: req.Name, Path: "/workspaces/" + req.Name}
	h.workspaces = append(h.workspaces, ws)
	return ws, nil
}

func (h *fakeHost) DeleteWorkspace(ctx context.Context, name string, force bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record(fmt.Sprintf("DeleteWorkspace %s force=%t", name, force))
	if !force {
		for _, sess := range h.sessions {
			if sess.Workspace == name {
				return &hostapi.APIError{StatusCode: http.StatusConflict, Message: "workspace has active sessions"}
			}
		}
	}
	for i, ws := range h.workspaces {
		if ws.Name == name {
			h.workspaces = append(h.workspaces[:i], h.workspaces[i+1:]...)
			return nil
		}
	}
	return &hostapi.APIError{StatusCode: http.StatusNotFound, Message: "workspace not found"}
}

func (h *fakeHost) CreateSession(ctx context.Context, req hostapi.CreateSessionRequest) (protocol.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("CreateSession " + req.Workspace)
	if h.createErr != nil {
		return protocol.Session{}, h.createErr
	}
	h.nextID++
	sess := protocol.Session{
		SessionID: fmt.Sprintf("s%d", h.nextID),
		Workspace: req.Workspace,
		State:     protocol.StateStarting,
	}
	h.sessions[sess.SessionID] = sess
	return sess, nil
}

func (h *fakeHost) GetSession(ctx context.Context, sessionID string) (protocol.Session, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("GetSession " + sessionID)
	sess, ok := h.sessions[sessionID]
	if !ok {
		return protocol.Session{}, &hostapi.APIError{StatusCode: http.StatusNotFound, Message: "session not found"}
	}
	return sess, nil
}

func (h *fakeHost) DeleteSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.record("DeleteSession " + sessionID)
	if _, ok := h.sessions[sessionID]; !ok {
		return &hostapi.APIError{StatusCode: http.StatusNotFound, Message: "session not found"}
	}
	delete(h.sessions, sessionID)
	return nil
}

func (h *fakeHost) setState(sessionID string, st protocol.SessionState) {
	h.mu.Lock()
	defer h.mu.Unlock()
	sess := h.sessions[sessionID]
	sess.State = st
	h.sessions[sessionID] = sess
}

// fakeDialer hands out fakeConns and tracks how many are open at once
type fakeDialer struct {
	mu      sync.Mutex
	conns   []*fakeConn
	open    int
	maxOpen int
	err     error
}

func (d *fakeDialer) Dial(ctx context.Context, sessionID string, h transport.Handlers) (transport.Conn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}
	conn := &fakeConn{dialer: d, sessionID: sessionID, handlers: h, open: true}
	d.conns = append(d.conns, conn)
	d.open++
	if d.open > d.maxOpen {
		d.maxOpen = d.open
	}
	if h.OnOpen != nil {
		h.OnOpen()
	}
	return conn, nil
}

func (d *fakeDialer) last(t *testing.T) *fakeConn {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	require.NotEmpty(t, d.conns, "no connection dialed")
	return d.conns[len(d.conns)-1]
}

func (d *fakeDialer) dialed() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.conns)
}

func (d *fakeDialer) peakOpen() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.maxOpen
}

type fakeConn struct {
	dialer    *fakeDialer
	sessionID string
	handlers  transport.Handlers

	mu     sync.Mutex
	open   bool
	sent   []protocol.Frame
	closes int
}

func (c *fakeConn) Send(frame protocol.Frame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.open {
		return transport.ErrClosed
	}
	c.sent = append(c.sent, frame)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	if !c.open {
		return nil
	}
	c.open = false
	c.dialer.mu.Lock()
	c.dialer.open--
	c.dialer.mu.Unlock()
	return nil
}

func (c *fakeConn) IsOpen() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open
}

func (c *fakeConn) Sent() []protocol.Frame {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]protocol.Frame(nil), c.sent...)
}

// push delivers a server frame the way the read pump would
func (c *fakeConn) push(t *testing.T, eventType string, data interface{}) {
	t.Helper()
	env, err := protocol.NewEnvelope(eventType, data)
	require.NoError(t, err)
	raw, err := json.Marshal(env)
	require.NoError(t, err)
	c.handlers.OnMessage(raw)
}

func (c *fakeConn) pushRaw(raw string) {
	c.handlers.OnMessage([]byte(raw))
}

// drop simulates the peer going away: error, then close
func (c *fakeConn) drop(err error) {
	_ = c.Close()
	if err != nil {
		c.handlers.OnError(err)
	}
	c.handlers.OnClose()
}

// fireClose delivers a late close callback, as the reader does after Close
func (c *fakeConn) fireClose() {
	c.handlers.OnClose()
}

var errReset = errors.New("connection reset by peer")
