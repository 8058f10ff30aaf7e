package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/codefionn/sessionbridge/internal/logger"
	"github.com/codefionn/sessionbridge/internal/protocol"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer. Output frames can be large.
	maxMessageSize = 1 << 20

	sendBufferSize = 256
)

// WebSocketDialer dials <BaseURL>/<sessionID> over WebSocket
type WebSocketDialer struct {
	// BaseURL is the ws:// or wss:// stream root
	BaseURL string
	// Header is sent with the handshake, e.g. Authorization
	Header http.Header
	// Dialer overrides websocket.DefaultDialer
	Dialer *websocket.Dialer
}

// NewWebSocketDialer creates a dialer, sending authToken as a bearer token when set
func NewWebSocketDialer(baseURL, authToken string) (*WebSocketDialer, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid stream URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid stream URL %q: scheme must be ws or wss", baseURL)
	}

	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}
	return &WebSocketDialer{BaseURL: baseURL, Header: header}, nil
}

// URLFor derives the stream address for a session id
func (d *WebSocketDialer) URLFor(sessionID string) string {
	return strings.TrimRight(d.BaseURL, "/") + "/" + url.PathEscape(sessionID)
}

// Dial opens the stream and starts its pumps
func (d *WebSocketDialer) Dial(ctx context.Context, sessionID string, h Handlers) (Conn, error) {
	if sessionID == "" {
		return nil, errors.New("session id is required")
	}

	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}

	target := d.URLFor(sessionID)
	ws, resp, err := dialer.DialContext(ctx, target, d.Header)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect to %s: %w (status %d)", target, err, resp.StatusCode)
		}
		return nil, fmt.Errorf("failed to connect to %s: %w", target, err)
	}

	c := &wsConn{
		ws:       ws,
		handlers: h,
		send:     make(chan protocol.Frame, sendBufferSize),
		done:     make(chan struct{}),
		log:      logger.Global().WithPrefix("transport"),
	}
	c.open.Store(true)

	if h.OnOpen != nil {
		h.OnOpen()
	}

	go c.writePump()
	go c.readPump()

	return c, nil
}

type wsConn struct {
	ws       *websocket.Conn
	handlers Handlers
	send     chan protocol.Frame
	open     atomic.Bool

	closeOnce sync.Once
	done      chan struct{}
	// notifyOnce guards OnClose
	notifyOnce sync.Once

	log *logger.Logger
}

func (c *wsConn) IsOpen() bool {
	return c.open.Load()
}

func (c *wsConn) Send(frame protocol.Frame) error {
	if !c.open.Load() {
		return ErrClosed
	}
	select {
	case <-c.done:
		return ErrClosed
	case c.send <- frame:
		return nil
	default:
		c.log.Warn("send buffer full, dropping %s frame", frame.FrameType())
		return ErrSendBufferFull
	}
}

// Close stops both pumps. It does not wait for the reader to drain, so it is
// safe to call from inside a handler.
func (c *wsConn) Close() error {
	var err error
	c.closeOnce.Do(func() {
		c.open.Store(false)
		close(c.done)
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(writeWait))
		err = c.ws.Close()
	})
	return err
}

func (c *wsConn) notifyClose() {
	c.notifyOnce.Do(func() {
		if c.handlers.OnClose != nil {
			c.handlers.OnClose()
		}
	})
}

// readPump delivers frames to OnMessage until the connection ends
func (c *wsConn) readPump() {
	defer func() {
		c.open.Store(false)
		_ = c.Close()
		c.notifyClose()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		msgType, message, err := c.ws.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Closed locally; not an error worth reporting
			default:
				if !isExpectedClose(err) {
					c.log.Warn("stream read error: %v", err)
					if c.handlers.OnError != nil {
						c.handlers.OnError(err)
					}
				}
			}
			return
		}

		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		if c.handlers.OnMessage != nil {
			c.handlers.OnMessage(message)
		}
	}
}

// writePump serializes outgoing frames and keeps the connection alive
func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return

		case frame := <-c.send:
			data, err := json.Marshal(frame)
			if err != nil {
				c.log.Error("failed to marshal %s frame: %v", frame.FrameType(), err)
				continue
			}
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.log.Warn("failed to write %s frame: %v", frame.FrameType(), err)
				_ = c.Close()
				return
			}

		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		}
	}
}

// isExpectedClose reports whether err is the peer ending the stream cleanly
func isExpectedClose(err error) bool {
	var closeErr *websocket.CloseError
	if !errors.As(err, &closeErr) {
		return false
	}
	return closeErr.Code == websocket.CloseNormalClosure || closeErr.Code == websocket.CloseGoingAway
}
