package protocol

import (
	"encoding/json"
	"time"
)

// Client frame types
const (
	FrameTypeInput      = "input"
	FrameTypePermission = "permission"
	FrameTypeResize     = "resize"
)

// Frame is a client-to-server message
type Frame interface {
	FrameType() string
}

// InputFrame sends text to the remote process
type InputFrame struct {
	Text string
}

// PermissionFrame answers the pending permission request
type PermissionFrame struct {
	Approved bool
}

// ResizeFrame reports the client's terminal size
type ResizeFrame struct {
	Rows int
	Cols int
}

func (InputFrame) FrameType() string      { return FrameTypeInput }
func (PermissionFrame) FrameType() string { return FrameTypePermission }
func (ResizeFrame) FrameType() string     { return FrameTypeResize }

func (f InputFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}{FrameTypeInput, f.Text})
}

func (f PermissionFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type     string `json:"type"`
		Approved bool   `json:"approved"`
	}{FrameTypePermission, f.Approved})
}

func (f ResizeFrame) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		Type string `json:"type"`
		Rows int    `json:"rows"`
		Cols int    `json:"cols"`
	}{FrameTypeResize, f.Rows, f.Cols})
}

// DecodeFrame parses a client frame. The session host side uses it.
func DecodeFrame(raw []byte) (Frame, error) {
	var f struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Approved bool   `json:"approved"`
		Rows     int    `json:"rows"`
		Cols     int    `json:"cols"`
	}
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, err
	}
	switch f.Type {
	case FrameTypeInput:
		return InputFrame{Text: f.Text}, nil
	case FrameTypePermission:
		return PermissionFrame{Approved: f.Approved}, nil
	case FrameTypeResize:
		return ResizeFrame{Rows: f.Rows, Cols: f.Cols}, nil
	default:
		return nil, ErrUnknownEventType
	}
}

// NewEnvelope builds a server frame; used by session hosts and tests
func NewEnvelope(eventType string, data interface{}) (*Envelope, error) {
	env := &Envelope{
		Type:      eventType,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, err
		}
		env.Data = raw
	}
	return env, nil
}
