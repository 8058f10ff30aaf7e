// Package state holds the process-wide session bridge state.
//
// A Store owns one State value. Mutations go through Update, which applies a
// function under the store lock and then notifies subscribers with a
// snapshot. Subscribers are notified in mutation order and must not call
// Update synchronously from their callback.
//
// Output history is append-only, so snapshots share it with the store instead
// of copying it. The lines of a snapshot's Output are read-only; appending to
// it is safe.
package state

import (
	"sync"
	"time"

	"github.com/codefionn/sessionbridge/internal/protocol"
)

// OutputKind classifies an output line for rendering
type OutputKind string

const (
	KindOutput OutputKind = "output"
	KindError  OutputKind = "error"
	KindSystem OutputKind = "system"
)

// OutputLine is one entry of the append-only output history
type OutputLine struct {
	Text      string
	Timestamp time.Time
	Kind      OutputKind
}

// State is the observable record shared by all frontends
type State struct {
	Workspaces        []protocol.Workspace
	SelectedWorkspace string
	Loading           bool

	Session      *protocol.Session
	SessionState protocol.SessionState
	Connecting   bool
	Connected    bool

	PendingPermission *protocol.PermissionRequest

	// Output is in arrival order
	Output []OutputLine
	// Dropped counts lines evicted by the history limit
	Dropped int

	// Error is the single last-error slot
	Error string
}

// HasSession reports whether a session is tracked
func (s State) HasSession() bool {
	return s.Session != nil
}

// AppendOutput appends a line; the store enforces the history limit afterwards
func (s *State) AppendOutput(kind OutputKind, text string, ts time.Time) OutputLine {
	line := OutputLine{Text: text, Timestamp: ts, Kind: kind}
	s.Output = append(s.Output, line)
	return line
}

// SetSessionState updates the live state and the tracked session record together
func (s *State) SetSessionState(st protocol.SessionState) {
	s.SessionState = st
	if s.Session != nil {
		sess := *s.Session
		sess.State = st
		s.Session = &sess
	}
}

// clone copies everything a subscriber could otherwise mutate. Output is shared
// with its capacity clipped so an append by either side never writes into the
// other's view.
func (s State) clone() State {
	out := s
	out.Workspaces = append([]protocol.Workspace(nil), s.Workspaces...)
	out.Output = s.Output[:len(s.Output):len(s.Output)]
	if s.Session != nil {
		sess := *s.Session
		out.Session = &sess
	}
	if s.PendingPermission != nil {
		req := *s.PendingPermission
		out.PendingPermission = &req
	}
	return out
}

// Listener receives a snapshot after each update
type Listener func(State)

// Option configures a Store
type Option func(*Store)

// WithHistoryLimit caps retained output lines; zero or less keeps everything
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		s.historyLimit = n
	}
}

// Store is the reactive container for State
type Store struct {
	mu           sync.Mutex
	state        State
	historyLimit int

	// notifyMu orders notifications so listeners see updates in mutation order
	notifyMu  sync.Mutex
	listeners map[int]Listener
	nextID    int
}

// NewStore creates an empty store
func NewStore(opts ...Option) *Store {
	s := &Store{listeners: make(map[int]Listener)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot returns a copy of the current state
func (s *Store) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state.clone()
}

// Update applies fn atomically and notifies listeners
func (s *Store) Update(fn func(*State)) {
	s.notifyMu.Lock()
	defer s.notifyMu.Unlock()

	s.mu.Lock()
	fn(&s.state)
	s.trimLocked()
	snap := s.state.clone()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, id := range s.sortedIDsLocked() {
		listeners = append(listeners, s.listeners[id])
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(snap)
	}
}

// Subscribe registers l and returns a function that removes it
func (s *Store) Subscribe(l Listener) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = l
	s.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.listeners, id)
			s.mu.Unlock()
		})
	}
}

func (s *Store) trimLocked() {
	if s.historyLimit <= 0 {
		return
	}
	// Reslicing leaves the dropped prefix to be released when append next
	// grows the backing array, so trimming stays amortized constant time
	if excess := len(s.state.Output) - s.historyLimit; excess > 0 {
		s.state.Output = s.state.Output[excess:]
		s.state.Dropped += excess
	}
}

// sortedIDsLocked returns listener ids in registration order
func (s *Store) sortedIDsLocked() []int {
	ids := make([]int, 0, len(s.listeners))
	for id := 0; id < s.nextID && len(ids) < len(s.listeners); id++ {
		if _, ok := s.listeners[id]; ok {
			ids = append(ids, id)
		}
	}
	return ids
}
