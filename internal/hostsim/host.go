// Package hostsim is an in-process session host for development and tests.
//
// It serves the workspace and session HTTP endpoints and the per-session
// WebSocket stream. It does not run an assistant: frames are pushed by the
// caller with Push, or by the built-in demo script when enabled.
package hostsim

import (
	"errors"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/sessionbridge/internal/logger"
	"github.com/codefionn/sessionbridge/internal/protocol"
)

var (
	// ErrUnknownSession is returned for session ids the host does not track
	ErrUnknownSession = errors.New("unknown session")
)

// FrameObserver is called for every client frame a stream receives
type FrameObserver func(sessionID string, frame protocol.Frame)

// Option configures a Host
type Option func(*Host)

// WithToken requires "Authorization: Bearer <token>" on every request
func WithToken(token string) Option {
	return func(h *Host) {
		h.token = token
	}
}

// WithDemoScript makes new streams run the built-in demo conversation
func WithDemoScript() Option {
	return func(h *Host) {
		h.scripted = true
	}
}

// WithFrameObserver registers fn for client frames
func WithFrameObserver(fn FrameObserver) Option {
	return func(h *Host) {
		h.observer = fn
	}
}

// WithLogger overrides the component logger
func WithLogger(l *logger.Logger) Option {
	return func(h *Host) {
		h.log = l
	}
}

// WithWorkspaces pre-creates workspaces
func WithWorkspaces(names ...string) Option {
	return func(h *Host) {
		for _, name := range names {
			h.workspaces[name] = newWorkspace(name)
		}
	}
}

// Host tracks workspaces and sessions and serves them over HTTP
type Host struct {
	mu         sync.Mutex
	workspaces map[string]protocol.Workspace
	sessions   map[string]*session

	router   *httprouter.Router
	upgrader websocket.Upgrader
	log      *logger.Logger
	token    string
	scripted bool
	observer FrameObserver
	newID    func() string
	now      func() time.Time
}

type session struct {
	record        protocol.Session
	initialPrompt string
	streams       map[*stream]struct{}
	// backlog holds frames pushed while no stream is attached
	backlog [][]byte
	frames  []protocol.Frame
	// pendingPermission is the id of the unanswered request, if any
	pendingPermission string
	scriptStarted     bool
}

// New creates a Host
func New(opts ...Option) *Host {
	h := &Host{
		workspaces: make(map[string]protocol.Workspace),
		sessions:   make(map[string]*session),
		router:     httprouter.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true // Allow all origins for local development
			},
		},
		newID: func() string { return uuid.NewString() },
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.log == nil {
		h.log = logger.Global().WithPrefix("hostsim")
	}

	h.setupRoutes()
	return h
}

// Handler returns the HTTP handler serving all endpoints
func (h *Host) Handler() http.Handler {
	return h.router
}

// Workspaces returns the workspace names in sorted order
func (h *Host) Workspaces() []string {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.sortedWorkspaceNamesLocked()
}

// Session returns the host's record for id
func (h *Host) Session(id string) (protocol.Session, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[id]
	if !ok {
		return protocol.Session{}, false
	}
	return sess.record, true
}

// Sessions returns the host's session records ordered by id
func (h *Host) Sessions() []protocol.Session {
	h.mu.Lock()
	defer h.mu.Unlock()

	records := make([]protocol.Session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		records = append(records, sess.record)
	}
	sort.Slice(records, func(i, j int) bool { return records[i].SessionID < records[j].SessionID })
	return records
}

// Frames returns the client frames received for a session, in arrival order
func (h *Host) Frames(id string) []protocol.Frame {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[id]
	if !ok {
		return nil
	}
	return append([]protocol.Frame(nil), sess.frames...)
}

// Streams reports how many streams are attached to a session
func (h *Host) Streams(id string) int {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess, ok := h.sessions[id]; ok {
		return len(sess.streams)
	}
	return 0
}

func newWorkspace(name string) protocol.Workspace {
	return protocol.Workspace{
		Name: name,
		Path: "/workspaces/" + name,
	}
}

// applyEventLocked mirrors a pushed event into the session record
func (s *session) applyEventLocked(event protocol.Event, now time.Time) {
	s.record.LastActivity = now
	if s.record.State.IsTerminal() {
		return
	}

	switch ev := event.(type) {
	case protocol.StateChangeEvent:
		s.record.State = ev.State
	case protocol.PermissionRequestEvent:
		s.record.State = protocol.StateWaitingPermission
		s.pendingPermission = ev.Request.ID
	case protocol.ErrorEvent:
		s.record.State = protocol.StateError
	case protocol.CompletedEvent:
		s.record.State = protocol.StateCompleted
	}
}
