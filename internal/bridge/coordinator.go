package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/codefionn/sessionbridge/internal/hostapi"
	"github.com/codefionn/sessionbridge/internal/logger"
	"github.com/codefionn/sessionbridge/internal/protocol"
	"github.com/codefionn/sessionbridge/internal/sink"
	"github.com/codefionn/sessionbridge/internal/state"
	"github.com/codefionn/sessionbridge/internal/transport"
)

var (
	// ErrNoSession is returned when an operation needs a tracked session
	ErrNoSession = errors.New("no active session")
	// ErrSessionFinished is returned when reconnecting to a session in a terminal state
	ErrSessionFinished = errors.New("session already finished")
	// ErrClosed is returned after Close
	ErrClosed = errors.New("coordinator closed")
)

const closeTimeout = 5 * time.Second

// Option configures a Coordinator
type Option func(*Coordinator)

// WithSink forwards every appended output line to s
func WithSink(s sink.Sink) Option {
	return func(c *Coordinator) {
		c.sink = s
	}
}

// WithLogger overrides the component logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Coordinator) {
		c.log = l
	}
}

// WithClock overrides the time source for output timestamps
func WithClock(now func() time.Time) Option {
	return func(c *Coordinator) {
		c.now = now
	}
}

// Coordinator owns the active session, its stream, and the permission gate
type Coordinator struct {
	directory hostapi.WorkspaceDirectory
	host      hostapi.SessionHost
	dialer    transport.Dialer
	store     *state.Store
	sink      sink.Sink
	log       *logger.Logger
	now       func() time.Time

	// opMu serializes session lifecycle operations (start, end, reconnect)
	opMu sync.Mutex

	// mu guards the connection and serializes stream event handling
	mu         sync.Mutex
	conn       transport.Conn
	generation uint64
	closed     bool
}

// New creates a Coordinator
func New(directory hostapi.WorkspaceDirectory, host hostapi.SessionHost, dialer transport.Dialer, store *state.Store, opts ...Option) *Coordinator {
	c := &Coordinator{
		directory: directory,
		host:      host,
		dialer:    dialer,
		store:     store,
		sink:      sink.Discard,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.log == nil {
		c.log = logger.Global().WithPrefix("bridge")
	}
	if c.store == nil {
		c.store = state.NewStore()
	}
	return c
}

// Store returns the observable state container
func (c *Coordinator) Store() *state.Store {
	return c.store
}

// LoadWorkspaces replaces the workspace list. Failures are recorded, not
// returned; the previous list is returned unchanged in that case.
func (c *Coordinator) LoadWorkspaces(ctx context.Context) []protocol.Workspace {
	c.store.Update(func(s *state.State) { s.Loading = true })

	workspaces, err := c.directory.ListWorkspaces(ctx)
	if err != nil {
		c.log.Warn("failed to load workspaces: %v", err)
		var current []protocol.Workspace
		c.store.Update(func(s *state.State) {
			s.Loading = false
			s.Error = errorText(err)
			current = append([]protocol.Workspace(nil), s.Workspaces...)
		})
		return current
	}

	c.store.Update(func(s *state.State) {
		s.Workspaces = workspaces
		s.Loading = false
	})
	return workspaces
}

// CreateWorkspace creates a workspace and selects it
func (c *Coordinator) CreateWorkspace(ctx context.Context, name, sourceURL string) (protocol.Workspace, error) {
	ws, err := c.directory.CreateWorkspace(ctx, hostapi.CreateWorkspaceRequest{Name: name, SourceURL: sourceURL})
	if err != nil {
		c.recordError(err)
		return protocol.Workspace{}, fmt.Errorf("create workspace %s: %w", name, err)
	}

	c.store.Update(func(s *state.State) {
		s.Workspaces = append(s.Workspaces, ws)
		s.SelectedWorkspace = ws.Name
	})
	c.log.Info("created workspace %s", ws.Name)
	return ws, nil
}

// DeleteWorkspace deletes a workspace and drops it from the local list
func (c *Coordinator) DeleteWorkspace(ctx context.Context, name string, force bool) error {
	if err := c.directory.DeleteWorkspace(ctx, name, force); err != nil {
		c.recordError(err)
		return fmt.Errorf("delete workspace %s: %w", name, err)
	}

	c.store.Update(func(s *state.State) {
		kept := s.Workspaces[:0:0]
		for _, ws := range s.Workspaces {
			if ws.Name != name {
				kept = append(kept, ws)
			}
		}
		s.Workspaces = kept
		if s.SelectedWorkspace == name {
			s.SelectedWorkspace = ""
		}
	})
	c.log.Info("deleted workspace %s (force=%t)", name, force)
	return nil
}

// SelectWorkspace marks a workspace as selected; an empty name clears it
func (c *Coordinator) SelectWorkspace(name string) {
	c.store.Update(func(s *state.State) { s.SelectedWorkspace = name })
}

// ClearError empties the error slot
func (c *Coordinator) ClearError() {
	c.store.Update(func(s *state.State) { s.Error = "" })
}

// StartSession ends any current session, creates a new one in workspace and
// opens its stream. A failure to open the stream is recorded but does not fail
// the call: the session exists and Reconnect can be used.
func (c *Coordinator) StartSession(ctx context.Context, workspace, initialPrompt string) (protocol.Session, error) {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	if c.isClosed() {
		return protocol.Session{}, ErrClosed
	}

	c.endSession(ctx)

	c.store.Update(func(s *state.State) {
		s.Connecting = true
		s.Output = nil
		s.Dropped = 0
		s.Error = ""
	})

	sess, err := c.host.CreateSession(ctx, hostapi.CreateSessionRequest{Workspace: workspace, InitialPrompt: initialPrompt})
	if err != nil {
		c.log.Warn("failed to create session in %s: %v", workspace, err)
		c.store.Update(func(s *state.State) {
			s.Error = errorText(err)
			s.Connecting = false
		})
		return protocol.Session{}, fmt.Errorf("start session in %s: %w", workspace, err)
	}

	if !sess.State.Valid() {
		sess.State = protocol.StateStarting
	}
	if sess.Workspace == "" {
		sess.Workspace = workspace
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	tracked := sess
	c.store.Update(func(s *state.State) {
		s.Session = &tracked
		s.SessionState = sess.State
		s.PendingPermission = nil
		s.Connecting = false
	})
	c.log.Info("session %s created in workspace %s", sess.SessionID, workspace)

	dialErr := c.connectLocked(ctx, sess.SessionID)
	c.appendLocked(state.KindSystem, "Connected to workspace: "+workspace, time.Time{})
	if dialErr != nil {
		// The stream never opened; report it the way a dropped stream is reported
		c.notifyDisconnectedLocked()
	}

	return sess, nil
}

// EndSession closes the stream and best-effort deletes the session on the
// host. It is safe to call at any time and never fails.
func (c *Coordinator) EndSession(ctx context.Context) {
	c.opMu.Lock()
	defer c.opMu.Unlock()
	c.endSession(ctx)
}

func (c *Coordinator) endSession(ctx context.Context) {
	c.mu.Lock()
	c.closeConnLocked()
	c.mu.Unlock()

	snap := c.store.Snapshot()
	if snap.Session == nil {
		return
	}

	sessionID := snap.Session.SessionID
	if err := c.host.DeleteSession(ctx, sessionID); err != nil {
		c.log.Debug("ignoring failure deleting session %s: %v", sessionID, err)
	}

	c.store.Update(func(s *state.State) {
		s.Session = nil
		s.SessionState = ""
		s.PendingPermission = nil
		s.Connected = false
	})
	c.log.Info("session %s ended", sessionID)
}

// Reconnect reopens the stream for the tracked session
func (c *Coordinator) Reconnect(ctx context.Context) error {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	snap := c.store.Snapshot()
	if snap.Session == nil {
		return ErrNoSession
	}
	if snap.SessionState.IsTerminal() {
		return ErrSessionFinished
	}
	return c.ConnectStream(ctx, snap.Session.SessionID)
}

// RefreshSession fetches the host's record of the tracked session and adopts
// its state unless the local state is already terminal
func (c *Coordinator) RefreshSession(ctx context.Context) (protocol.Session, error) {
	snap := c.store.Snapshot()
	if snap.Session == nil {
		return protocol.Session{}, ErrNoSession
	}

	sess, err := c.host.GetSession(ctx, snap.Session.SessionID)
	if err != nil {
		c.recordError(err)
		return protocol.Session{}, fmt.Errorf("refresh session %s: %w", snap.Session.SessionID, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.store.Update(func(s *state.State) {
		if s.Session == nil || s.Session.SessionID != sess.SessionID {
			return
		}
		record := sess
		if s.SessionState.IsTerminal() || !record.State.Valid() {
			record.State = s.SessionState
		}
		s.Session = &record
		s.SessionState = record.State
	})
	return sess, nil
}

// Close ends the session and rejects further sessions
func (c *Coordinator) Close() {
	c.opMu.Lock()
	defer c.opMu.Unlock()

	c.mu.Lock()
	c.closed = true
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	c.endSession(ctx)
}

func (c *Coordinator) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Coordinator) recordError(err error) {
	c.log.Warn("%v", err)
	c.store.Update(func(s *state.State) { s.Error = errorText(err) })
}

// errorText is the user-facing message for err
func errorText(err error) string {
	var apiErr *hostapi.APIError
	if errors.As(err, &apiErr) {
		return apiErr.Message
	}
	return err.Error()
}
