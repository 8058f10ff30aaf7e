package hostsim

import (
	"fmt"
	"strings"

	"github.com/codefionn/sessionbridge/internal/protocol"
)

const demoCommand = "ls -la"

// scriptAttached opens the demo conversation: greet, then ask for permission
func (h *Host) scriptAttached(sessionID, workspace, prompt string) {
	h.pushAll(sessionID,
		scripted{protocol.EventTypeStateChange, stateData(protocol.StateRunning)},
		scripted{protocol.EventTypeOutput, fmt.Sprintf("Development host attached to workspace %s\n", workspace)},
	)
	if prompt != "" {
		h.pushAll(sessionID, scripted{protocol.EventTypeOutput, "> " + prompt + "\n"})
	}

	command := demoCommand
	h.pushAll(sessionID, scripted{protocol.EventTypePermissionRequest, protocol.PermissionRequest{
		ID:          "perm-" + h.newID(),
		ToolType:    "bash",
		Description: "List the workspace files",
		Command:     &command,
	}})
}

// scriptFrame reacts to client frames once the conversation is running
func (h *Host) scriptFrame(sessionID string, frame protocol.Frame) {
	switch f := frame.(type) {
	case protocol.PermissionFrame:
		result := "Permission denied, skipping command\n"
		if f.Approved {
			result = "$ " + demoCommand + "\ntotal 0\n"
		}
		h.pushAll(sessionID,
			scripted{protocol.EventTypeStateChange, stateData(protocol.StateRunning)},
			scripted{protocol.EventTypeOutput, result},
			scripted{protocol.EventTypeOutput, "Type a message, or \"exit\" to finish.\n"},
			scripted{protocol.EventTypeStateChange, stateData(protocol.StateWaitingInput)},
		)

	case protocol.InputFrame:
		text := strings.TrimSpace(f.Text)
		if text == "exit" {
			h.pushAll(sessionID, scripted{protocol.EventTypeCompleted, map[string]int{"exit_code": 0}})
			h.CloseStreams(sessionID)
			return
		}
		h.pushAll(sessionID,
			scripted{protocol.EventTypeStateChange, stateData(protocol.StateRunning)},
			scripted{protocol.EventTypeOutput, "echo: " + text + "\n"},
			scripted{protocol.EventTypeStateChange, stateData(protocol.StateWaitingInput)},
		)

	case protocol.ResizeFrame:
		h.log.Debug("session %s resized to %dx%d", sessionID, f.Cols, f.Rows)
	}
}

type scripted struct {
	eventType string
	data      interface{}
}

func (h *Host) pushAll(sessionID string, frames ...scripted) {
	for _, f := range frames {
		if err := h.Push(sessionID, f.eventType, f.data); err != nil {
			h.log.Warn("demo script for session %s stopped: %v", sessionID, err)
			return
		}
	}
}

func stateData(st protocol.SessionState) map[string]string {
	return map[string]string{"state": string(st)}
}
