package hostsim

import (
	"encoding/json"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/codefionn/sessionbridge/internal/hostapi"
	"github.com/codefionn/sessionbridge/internal/protocol"
)

// setupRoutes configures all HTTP routes
func (h *Host) setupRoutes() {
	h.router.GET("/health", h.handleHealth)

	h.router.GET("/workspaces", h.authorized(h.handleListWorkspaces))
	h.router.POST("/workspaces", h.authorized(h.handleCreateWorkspace))
	h.router.DELETE("/workspaces/:name", h.authorized(h.handleDeleteWorkspace))

	h.router.POST("/sessions", h.authorized(h.handleCreateSession))
	h.router.GET("/sessions/:id", h.authorized(h.handleGetSession))
	h.router.DELETE("/sessions/:id", h.authorized(h.handleDeleteSession))

	h.router.GET("/stream/:id", h.authorized(h.handleStream))
}

func (h *Host) authorized(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		if h.token != "" && r.Header.Get("Authorization") != "Bearer "+h.token {
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r, ps)
	}
}

func (h *Host) handleHealth(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *Host) handleListWorkspaces(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	h.mu.Lock()
	list := make([]protocol.Workspace, 0, len(h.workspaces))
	for _, name := range h.sortedWorkspaceNamesLocked() {
		list = append(list, h.workspaces[name])
	}
	h.mu.Unlock()

	writeJSON(w, http.StatusOK, list)
}

func (h *Host) handleCreateWorkspace(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req hostapi.CreateWorkspaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !validName(req.Name) {
		writeError(w, http.StatusBadRequest, "workspace name must be non-empty and contain only letters, digits, '-', '_' or '.'")
		return
	}

	h.mu.Lock()
	if _, exists := h.workspaces[req.Name]; exists {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "workspace already exists")
		return
	}
	ws := newWorkspace(req.Name)
	h.workspaces[req.Name] = ws
	h.mu.Unlock()

	if req.SourceURL != "" {
		h.log.Info("workspace %s created (source %s not fetched)", req.Name, req.SourceURL)
	} else {
		h.log.Info("workspace %s created", req.Name)
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (h *Host) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	name := ps.ByName("name")
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))

	h.mu.Lock()
	if _, ok := h.workspaces[name]; !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	var referencing []string
	for id, sess := range h.sessions {
		if sess.record.Workspace == name {
			referencing = append(referencing, id)
		}
	}
	if len(referencing) > 0 && !force {
		h.mu.Unlock()
		writeError(w, http.StatusConflict, "workspace has active sessions; use force to delete")
		return
	}

	var streams []*stream
	for _, id := range referencing {
		streams = append(streams, h.removeSessionLocked(id)...)
	}
	delete(h.workspaces, name)
	h.mu.Unlock()

	closeStreams(streams)
	h.log.Info("workspace %s deleted (force=%t, sessions terminated: %d)", name, force, len(referencing))
	w.WriteHeader(http.StatusNoContent)
}

func (h *Host) handleCreateSession(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
	var req hostapi.CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	h.mu.Lock()
	if _, ok := h.workspaces[req.Workspace]; !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "workspace not found")
		return
	}

	now := h.now().UTC()
	sess := &session{
		record: protocol.Session{
			SessionID:    h.newID(),
			Workspace:    req.Workspace,
			State:        protocol.StateStarting,
			CreatedAt:    now,
			LastActivity: now,
		},
		initialPrompt: req.InitialPrompt,
		streams:       make(map[*stream]struct{}),
	}
	h.sessions[sess.record.SessionID] = sess
	record := sess.record
	h.mu.Unlock()

	h.log.Info("session %s created in workspace %s", record.SessionID, record.Workspace)
	writeJSON(w, http.StatusCreated, record)
}

func (h *Host) handleGetSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	record, ok := h.Session(ps.ByName("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *Host) handleDeleteSession(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
	id := ps.ByName("id")

	h.mu.Lock()
	if _, ok := h.sessions[id]; !ok {
		h.mu.Unlock()
		writeError(w, http.StatusNotFound, "session not found")
		return
	}
	streams := h.removeSessionLocked(id)
	h.mu.Unlock()

	closeStreams(streams)
	h.log.Info("session %s deleted", id)
	w.WriteHeader(http.StatusNoContent)
}

// removeSessionLocked forgets a session and returns its streams for closing
// outside the lock
func (h *Host) removeSessionLocked(id string) []*stream {
	sess := h.sessions[id]
	delete(h.sessions, id)

	streams := make([]*stream, 0, len(sess.streams))
	for st := range sess.streams {
		streams = append(streams, st)
	}
	return streams
}

func (h *Host) sortedWorkspaceNamesLocked() []string {
	names := make([]string, 0, len(h.workspaces))
	for name := range h.workspaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func validName(name string) bool {
	if name == "" || name == "." || name == ".." {
		return false
	}
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
