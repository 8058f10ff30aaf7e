package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/codefionn/sessionbridge/internal/protocol"
	"github.com/codefionn/sessionbridge/internal/state"
	"github.com/codefionn/sessionbridge/internal/transport"
)

const (
	disconnectedNotice = "Disconnected from session"
	defaultErrorText   = "Session error"
)

// ConnectStream closes any current stream and opens a new one for sessionID.
// Events from the previous stream are discarded from this point on.
func (c *Coordinator) ConnectStream(ctx context.Context, sessionID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClosed
	}
	return c.connectLocked(ctx, sessionID)
}

// connectLocked holds mu across Dial so the reader cannot deliver an event
// before the connection and its generation are registered
func (c *Coordinator) connectLocked(ctx context.Context, sessionID string) error {
	c.closeConnLocked()

	c.generation++
	gen := c.generation

	c.store.Update(func(s *state.State) { s.Connecting = true })

	conn, err := c.dialer.Dial(ctx, sessionID, transport.Handlers{
		OnOpen: func() {
			c.log.Debug("stream for session %s open", sessionID)
		},
		OnMessage: func(raw []byte) {
			c.handleMessage(gen, raw)
		},
		OnError: func(err error) {
			c.handleError(gen, err)
		},
		OnClose: func() {
			c.handleClose(gen)
		},
	})
	if err != nil {
		c.log.Warn("failed to open stream for session %s: %v", sessionID, err)
		c.store.Update(func(s *state.State) {
			s.Connecting = false
			s.Connected = false
			s.Error = fmt.Sprintf("connection error: %v", err)
		})
		return fmt.Errorf("connect session %s: %w", sessionID, err)
	}

	c.conn = conn
	c.store.Update(func(s *state.State) {
		s.Connecting = false
		s.Connected = true
	})
	c.log.Info("connected to session %s", sessionID)
	return nil
}

// closeConnLocked closes the current stream, if any. The generation is bumped
// first so the stream's own close callback is treated as expected.
func (c *Coordinator) closeConnLocked() {
	if c.conn == nil {
		return
	}

	c.generation++
	if err := c.conn.Close(); err != nil {
		c.log.Debug("closing stream: %v", err)
	}
	c.conn = nil
	c.store.Update(func(s *state.State) { s.Connected = false })
}

// SendInput forwards text to the session's stdin. Dropped when not connected.
func (c *Coordinator) SendInput(text string) {
	c.sendFrame(protocol.InputFrame{Text: text})
}

// ResizeTerminal announces the viewer's terminal size. Dropped when not connected.
func (c *Coordinator) ResizeTerminal(rows, cols int) {
	c.sendFrame(protocol.ResizeFrame{Rows: rows, Cols: cols})
}

// RespondToPermission answers the pending permission request. The pending
// request is cleared even if the answer could not be sent.
func (c *Coordinator) RespondToPermission(approved bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.sendLocked(protocol.PermissionFrame{Approved: approved})
	c.store.Update(func(s *state.State) { s.PendingPermission = nil })
}

func (c *Coordinator) sendFrame(frame protocol.Frame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sendLocked(frame)
}

func (c *Coordinator) sendLocked(frame protocol.Frame) {
	if c.conn == nil || !c.conn.IsOpen() {
		c.log.Debug("dropping %s frame: not connected", frame.FrameType())
		return
	}
	if err := c.conn.Send(frame); err != nil {
		c.log.Debug("dropping %s frame: %v", frame.FrameType(), err)
	}
}

func (c *Coordinator) handleMessage(gen uint64, raw []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		c.log.Debug("discarding event from replaced stream")
		return
	}

	event, err := protocol.DecodeEvent(raw)
	if err != nil {
		c.log.Warn("dropping stream message: %v", err)
		return
	}
	c.applyLocked(event)
}

func (c *Coordinator) applyLocked(event protocol.Event) {
	snap := c.store.Snapshot()
	if snap.Session == nil {
		c.log.Debug("discarding %s event: no session", event.EventType())
		return
	}
	finished := snap.SessionState.IsTerminal()

	switch ev := event.(type) {
	case protocol.OutputEvent:
		c.appendLocked(state.KindOutput, ev.Text, ev.Time())

	case protocol.PermissionRequestEvent:
		if finished {
			c.log.Warn("ignoring permission request %s: session is %s", ev.Request.ID, snap.SessionState)
			return
		}
		if pending := snap.PendingPermission; pending != nil && pending.ID != ev.Request.ID {
			c.log.Warn("permission request %s replaces unanswered request %s", ev.Request.ID, pending.ID)
		}
		req := ev.Request
		c.store.Update(func(s *state.State) {
			s.PendingPermission = &req
			s.SetSessionState(protocol.StateWaitingPermission)
		})

	case protocol.StateChangeEvent:
		if finished {
			c.log.Warn("ignoring state change to %s: session is %s", ev.State, snap.SessionState)
			return
		}
		if !ev.State.Valid() {
			c.log.Warn("ignoring unknown session state %q", ev.State)
			return
		}
		c.store.Update(func(s *state.State) { s.SetSessionState(ev.State) })

	case protocol.ErrorEvent:
		text := ev.Message
		if text == "" {
			text = defaultErrorText
		}
		c.appendLocked(state.KindError, text, ev.Time())
		if finished {
			c.log.Warn("error event after session reached %s: %s", snap.SessionState, text)
			return
		}
		c.store.Update(func(s *state.State) { s.SetSessionState(protocol.StateError) })

	case protocol.CompletedEvent:
		c.appendLocked(state.KindSystem, fmt.Sprintf("Session completed (exit code %d)", ev.ExitCode), ev.Time())
		if finished {
			c.log.Warn("completion after session reached %s", snap.SessionState)
			return
		}
		c.store.Update(func(s *state.State) { s.SetSessionState(protocol.StateCompleted) })

	default:
		c.log.Warn("unhandled event type %s", event.EventType())
	}
}

func (c *Coordinator) handleError(gen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}
	c.log.Warn("stream error: %v", err)
	c.store.Update(func(s *state.State) { s.Error = fmt.Sprintf("connection error: %v", err) })
}

func (c *Coordinator) handleClose(gen uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return
	}
	c.conn = nil
	c.store.Update(func(s *state.State) {
		s.Connected = false
		s.Connecting = false
	})
	c.notifyDisconnectedLocked()
}

// notifyDisconnectedLocked records an unexpected loss of the stream unless the
// session already ended on its own
func (c *Coordinator) notifyDisconnectedLocked() {
	snap := c.store.Snapshot()
	if snap.Session == nil {
		return
	}
	switch snap.SessionState {
	case protocol.StateCompleted, protocol.StateTerminated:
		c.log.Debug("stream closed after session %s", snap.SessionState)
		return
	}
	c.log.Info("stream for session %s closed unexpectedly", snap.Session.SessionID)
	c.appendLocked(state.KindSystem, disconnectedNotice, time.Time{})
}

// appendLocked adds a line to the history and forwards it to the sink. A zero
// ts is replaced with the current time.
func (c *Coordinator) appendLocked(kind state.OutputKind, text string, ts time.Time) {
	if ts.IsZero() {
		ts = c.now()
	}
	var line state.OutputLine
	c.store.Update(func(s *state.State) { line = s.AppendOutput(kind, text, ts) })
	c.sink.WriteLine(line)
}
