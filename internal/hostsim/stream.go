package hostsim

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/sessionbridge/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024

	sendBufferSize = 256
)

// stream is one attached viewer of a session
type stream struct {
	host      *Host
	sessionID string
	conn      *websocket.Conn
	send      chan []byte

	closeOnce sync.Once
	done      chan struct{}
}

func (h *Host) handleStream(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")
	if _, ok := h.Session(id); !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Error("failed to upgrade stream for session %s: %v", id, err)
		return
	}

	st := &stream{
		host:      h,
		sessionID: id,
		conn:      conn,
		send:      make(chan []byte, sendBufferSize),
		done:      make(chan struct{}),
	}
	go st.writePump()

	h.mu.Lock()
	sess, ok := h.sessions[id]
	if !ok {
		// Deleted while upgrading
		h.mu.Unlock()
		st.close()
		return
	}
	sess.streams[st] = struct{}{}
	for _, raw := range sess.backlog {
		st.enqueue(raw)
	}
	sess.backlog = nil
	runScript := h.scripted && !sess.scriptStarted
	sess.scriptStarted = true
	workspace, prompt := sess.record.Workspace, sess.initialPrompt
	h.mu.Unlock()

	h.log.Info("stream attached to session %s", id)
	if runScript {
		h.scriptAttached(id, workspace, prompt)
	}

	st.readPump()
}

// Push sends a server frame to every stream of a session and mirrors state
// events into the session record. Frames pushed while no stream is attached
// are delivered when one attaches.
func (h *Host) Push(sessionID, eventType string, data interface{}) error {
	env, err := protocol.NewEnvelope(eventType, data)
	if err != nil {
		return err
	}
	event, err := env.Decode()
	if err != nil {
		return fmt.Errorf("push %s: %w", eventType, err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return err
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[sessionID]
	if !ok {
		return ErrUnknownSession
	}
	sess.applyEventLocked(event, h.now().UTC())

	if len(sess.streams) == 0 {
		sess.backlog = append(sess.backlog, raw)
		return nil
	}
	for st := range sess.streams {
		st.enqueue(raw)
	}
	return nil
}

// Drop tears down a session's streams without a close handshake, the way a
// crashed host or a broken network would
func (h *Host) Drop(sessionID string) {
	for _, st := range h.detachAll(sessionID) {
		_ = st.conn.Close()
		st.close()
	}
}

// CloseStreams closes a session's streams with a normal close frame
func (h *Host) CloseStreams(sessionID string) {
	closeStreams(h.detachAll(sessionID))
}

func (h *Host) detachAll(sessionID string) []*stream {
	h.mu.Lock()
	defer h.mu.Unlock()

	sess, ok := h.sessions[sessionID]
	if !ok {
		return nil
	}
	streams := make([]*stream, 0, len(sess.streams))
	for st := range sess.streams {
		streams = append(streams, st)
		delete(sess.streams, st)
	}
	return streams
}

func (h *Host) detach(st *stream) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if sess, ok := h.sessions[st.sessionID]; ok {
		delete(sess.streams, st)
	}
}

func (h *Host) receive(sessionID string, frame protocol.Frame) {
	h.mu.Lock()
	sess, ok := h.sessions[sessionID]
	if ok {
		sess.frames = append(sess.frames, frame)
		sess.record.LastActivity = h.now().UTC()
		if _, answer := frame.(protocol.PermissionFrame); answer {
			sess.pendingPermission = ""
		}
	}
	h.mu.Unlock()

	if !ok {
		return
	}
	if h.observer != nil {
		h.observer(sessionID, frame)
	}
	if h.scripted {
		h.scriptFrame(sessionID, frame)
	}
}

func closeStreams(streams []*stream) {
	for _, st := range streams {
		st.close()
	}
}

// enqueue blocks while the send buffer is full unless the stream closes
func (st *stream) enqueue(raw []byte) {
	select {
	case st.send <- raw:
	case <-st.done:
	}
}

func (st *stream) close() {
	st.closeOnce.Do(func() {
		close(st.done)
	})
}

func (st *stream) readPump() {
	defer func() {
		st.host.detach(st)
		st.close()
	}()

	st.conn.SetReadLimit(maxMessageSize)

	for {
		_, message, err := st.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				st.host.log.Warn("stream read error for session %s: %v", st.sessionID, err)
			}
			return
		}

		frame, err := protocol.DecodeFrame(message)
		if err != nil {
			st.host.log.Warn("dropping client frame for session %s: %v", st.sessionID, err)
			continue
		}
		st.host.receive(st.sessionID, frame)
	}
}

func (st *stream) writePump() {
	defer st.conn.Close()

	for {
		select {
		case message := <-st.send:
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				st.host.log.Debug("stream write for session %s failed: %v", st.sessionID, err)
				st.close()
				return
			}

		case <-st.done:
			st.drain()
			_ = st.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}

// drain writes frames already queued before the stream was closed
func (st *stream) drain() {
	for {
		select {
		case message := <-st.send:
			_ = st.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := st.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			return
		}
	}
}
