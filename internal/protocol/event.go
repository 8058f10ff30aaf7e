package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Server frame types
const (
	EventTypeOutput            = "output"
	EventTypePermissionRequest = "permission_request"
	EventTypeStateChange       = "state_change"
	EventTypeError             = "error"
	EventTypeCompleted         = "completed"
)

var (
	// ErrMalformedFrame is returned when a frame is not a valid envelope or its payload does not match its type
	ErrMalformedFrame = errors.New("malformed frame")
	// ErrUnknownEventType is returned for envelopes with an unrecognized type
	ErrUnknownEventType = errors.New("unknown event type")
)

// Envelope is the wire shape shared by all server frames
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"`
}

// Event is a decoded server frame. The concrete types are OutputEvent,
// PermissionRequestEvent, StateChangeEvent, ErrorEvent and CompletedEvent.
type Event interface {
	EventType() string
	// Time is the server timestamp. It is advisory; arrival order is authoritative.
	Time() time.Time
}

// Meta carries the fields common to every event
type Meta struct {
	Timestamp time.Time
}

// Time returns the server timestamp, zero if absent or unparseable
func (m Meta) Time() time.Time { return m.Timestamp }

// OutputEvent carries text produced by the remote process
type OutputEvent struct {
	Meta
	Text string
}

// PermissionRequestEvent opens the permission gate
type PermissionRequestEvent struct {
	Meta
	Request PermissionRequest
}

// StateChangeEvent reports a new session state
type StateChangeEvent struct {
	Meta
	State SessionState
}

// ErrorEvent reports a fatal error in the remote process
type ErrorEvent struct {
	Meta
	Message string
}

// CompletedEvent reports that the remote process exited
type CompletedEvent struct {
	Meta
	ExitCode int
}

func (OutputEvent) EventType() string            { return EventTypeOutput }
func (PermissionRequestEvent) EventType() string { return EventTypePermissionRequest }
func (StateChangeEvent) EventType() string       { return EventTypeStateChange }
func (ErrorEvent) EventType() string             { return EventTypeError }
func (CompletedEvent) EventType() string         { return EventTypeCompleted }

// DecodeEvent parses a raw server frame into a typed Event
func DecodeEvent(raw []byte) (Event, error) {
	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if env.Type == "" {
		return nil, fmt.Errorf("%w: missing type", ErrMalformedFrame)
	}
	return env.Decode()
}

// Decode converts the envelope payload into the Event matching its type
func (env Envelope) Decode() (Event, error) {
	meta := Meta{Timestamp: parseTimestamp(env.Timestamp)}

	switch env.Type {
	case EventTypeOutput:
		text, err := stringifyData(env.Data)
		if err != nil {
			return nil, err
		}
		return OutputEvent{Meta: meta, Text: text}, nil

	case EventTypePermissionRequest:
		var req PermissionRequest
		if err := unmarshalData(env.Data, &req); err != nil {
			return nil, err
		}
		if req.ID == "" {
			return nil, fmt.Errorf("%w: permission_request without id", ErrMalformedFrame)
		}
		return PermissionRequestEvent{Meta: meta, Request: req}, nil

	case EventTypeStateChange:
		var payload struct {
			State SessionState `json:"state"`
		}
		if err := unmarshalData(env.Data, &payload); err != nil {
			return nil, err
		}
		if !payload.State.Valid() {
			return nil, fmt.Errorf("%w: unknown state %q", ErrMalformedFrame, payload.State)
		}
		return StateChangeEvent{Meta: meta, State: payload.State}, nil

	case EventTypeError:
		msg, err := errorMessage(env.Data)
		if err != nil {
			return nil, err
		}
		return ErrorEvent{Meta: meta, Message: msg}, nil

	case EventTypeCompleted:
		var payload struct {
			ExitCode int `json:"exit_code"`
		}
		if len(env.Data) > 0 && !isNull(env.Data) {
			if err := unmarshalData(env.Data, &payload); err != nil {
				return nil, err
			}
		}
		return CompletedEvent{Meta: meta, ExitCode: payload.ExitCode}, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}
}

func unmarshalData(data json.RawMessage, v interface{}) error {
	if len(data) == 0 || isNull(data) {
		return fmt.Errorf("%w: missing data", ErrMalformedFrame)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return nil
}

// stringifyData returns string payloads verbatim and compact JSON for anything else
func stringifyData(data json.RawMessage) (string, error) {
	if len(data) == 0 || isNull(data) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, data); err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return buf.String(), nil
}

// errorMessage accepts either a bare string or an object with a message field
func errorMessage(data json.RawMessage) (string, error) {
	if len(data) == 0 || isNull(data) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		return s, nil
	}
	var payload struct {
		Message string `json:"message"`
		Error   string `json:"error"`
	}
	if err := unmarshalData(data, &payload); err != nil {
		return "", err
	}
	if payload.Message != "" {
		return payload.Message, nil
	}
	if payload.Error != "" {
		return payload.Error, nil
	}
	return stringifyData(data)
}

func isNull(data json.RawMessage) bool {
	return strings.TrimSpace(string(data)) == "null"
}

// timestampLayouts are tried in order. The zone-less forms are what Python's
// isoformat emits for naive datetimes; they are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

func parseTimestamp(s string) time.Time {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// parseTimestampValue accepts a JSON string timestamp; anything else is zero
func parseTimestampValue(data json.RawMessage) time.Time {
	var s string
	if len(data) == 0 || json.Unmarshal(data, &s) != nil {
		return time.Time{}
	}
	return parseTimestamp(s)
}
