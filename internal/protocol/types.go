package protocol

import (
	"encoding/json"
	"time"
)

// SessionState is the lifecycle state of a remote session
type SessionState string

const (
	StateStarting          SessionState = "starting"
	StateRunning           SessionState = "running"
	StateWaitingPermission SessionState = "waiting_permission"
	StateWaitingInput      SessionState = "waiting_input"
	StateCompleted         SessionState = "completed"
	StateError             SessionState = "error"
	StateTerminated        SessionState = "terminated"
)

// IsTerminal reports whether no further transitions are accepted from s
func (s SessionState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateError, StateTerminated:
		return true
	}
	return false
}

// Valid reports whether s is one of the known states
func (s SessionState) Valid() bool {
	switch s {
	case StateStarting, StateRunning, StateWaitingPermission, StateWaitingInput,
		StateCompleted, StateError, StateTerminated:
		return true
	}
	return false
}

// Workspace is a named, isolated working directory on the host
type Workspace struct {
	Name          string  `json:"name"`
	Path          string  `json:"path"`
	IsGitRepo     bool    `json:"is_git_repo"`
	SizeMB        float64 `json:"size_mb"`
	FileCount     int     `json:"file_count"`
	CurrentBranch *string `json:"current_branch"`
}

// Session is the host's record of one running remote process
type Session struct {
	SessionID    string       `json:"session_id"`
	Workspace    string       `json:"workspace"`
	State        SessionState `json:"state"`
	CreatedAt    time.Time    `json:"created_at"`
	LastActivity time.Time    `json:"last_activity"`
}

// UnmarshalJSON parses the timestamps leniently. They are informational, so a
// value in an unknown format decodes as the zero time instead of failing.
func (s *Session) UnmarshalJSON(data []byte) error {
	type plain Session
	var raw struct {
		plain
		CreatedAt    json.RawMessage `json:"created_at"`
		LastActivity json.RawMessage `json:"last_activity"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*s = Session(raw.plain)
	s.CreatedAt = parseTimestampValue(raw.CreatedAt)
	s.LastActivity = parseTimestampValue(raw.LastActivity)
	return nil
}

// PermissionRequest is a gate the remote process blocks on until answered
type PermissionRequest struct {
	ID          string  `json:"id"`
	ToolType    string  `json:"tool_type"`
	Description string  `json:"description"`
	Command     *string `json:"command"`
	FilePath    *string `json:"file_path"`
}

// UnmarshalJSON accepts both snake_case and camelCase keys; hosts disagree
func (r *PermissionRequest) UnmarshalJSON(data []byte) error {
	var raw struct {
		ID            string  `json:"id"`
		ToolType      string  `json:"tool_type"`
		ToolTypeCamel string  `json:"toolType"`
		Description   string  `json:"description"`
		Command       *string `json:"command"`
		FilePath      *string `json:"file_path"`
		FilePathCamel *string `json:"filePath"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*r = PermissionRequest{
		ID:          raw.ID,
		ToolType:    raw.ToolType,
		Description: raw.Description,
		Command:     raw.Command,
		FilePath:    raw.FilePath,
	}
	if r.ToolType == "" {
		r.ToolType = raw.ToolTypeCamel
	}
	if r.FilePath == nil {
		r.FilePath = raw.FilePathCamel
	}
	return nil
}
