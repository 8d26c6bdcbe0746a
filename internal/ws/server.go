// Package ws serves the broker's HTTP and WebSocket surface: session
// start/stop, session listing, workspace file access, and the real-time
// event socket.
package ws

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/agent-broker/backend/internal/config"
	"github.com/agent-broker/backend/internal/session"
	"github.com/agent-broker/backend/internal/workspace"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// errValidation marks request errors that reject before any session
// exists (missing fields, unknown provider, unresolvable API key).
var errValidation = errors.New("invalid request")

type Server struct {
	cfg        *config.Config
	registry   *session.Registry
	controller *session.Controller
	// engineUp records the startup capability probe of the backing
	// engine service; false selects the scripted stand-in for every
	// session.
	engineUp       bool
	allowedOrigins map[string]bool
	allowedHosts   map[string]bool
	authToken      string
	startedAt      time.Time
}

func NewServer(cfg *config.Config, registry *session.Registry, controller *session.Controller, engineUp bool) *Server {
	s := &Server{
		cfg:            cfg,
		registry:       registry,
		controller:     controller,
		engineUp:       engineUp,
		allowedOrigins: make(map[string]bool),
		allowedHosts:   make(map[string]bool),
		authToken:      cfg.Server.AuthToken,
		startedAt:      time.Now(),
	}

	for _, origin := range cfg.Server.AllowedOrigins {
		trimmed := strings.TrimSpace(origin)
		if trimmed == "" {
			continue
		}
		s.allowedOrigins[trimmed] = true
		if parsed, err := url.Parse(trimmed); err == nil && parsed.Host != "" {
			s.allowedHosts[parsed.Host] = true
		}
	}

	return s
}

func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws", s.handleWS)
	mux.HandleFunc("/api/session/init", s.handleInit)
	mux.HandleFunc("/api/session/", s.handleSessionRoutes)
	mux.HandleFunc("/api/sessions", s.handleSessions)
	mux.HandleFunc("/api/files/read", s.handleFileRead)
	mux.HandleFunc("/api/files/list", s.handleFileList)
	mux.HandleFunc("/healthz", s.handleHealth)
	mux.HandleFunc("/", s.handleRoot)
}

type healthResponse struct {
	Service            string  `json:"service"`
	Status             string  `json:"status"`
	EngineAvailable    bool    `json:"engineAvailable"`
	ActiveSessions     int     `json:"activeSessions"`
	UptimeSeconds      int64   `json:"uptimeSeconds"`
	ProcessRSSBytes    uint64  `json:"processRssBytes,omitempty"`
	HostMemUsedPercent float64 `json:"hostMemUsedPercent,omitempty"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	s.handleHealth(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := healthResponse{
		Service:         "agent-broker",
		Status:          "healthy",
		EngineAvailable: s.engineUp,
		ActiveSessions:  s.registry.Len(),
		UptimeSeconds:   int64(time.Since(s.startedAt).Seconds()),
	}

	// Process and host stats are best-effort decoration.
	if proc, err := process.NewProcess(int32(os.Getpid())); err == nil {
		if mi, err := proc.MemoryInfo(); err == nil {
			resp.ProcessRSSBytes = mi.RSS
		}
	}
	if vm, err := mem.VirtualMemory(); err == nil {
		resp.HostMemUsedPercent = vm.UsedPercent
	}

	writeJSON(w, http.StatusOK, resp)
}

type initResponse struct {
	Status    string `json:"status"`
	SessionID string `json:"sessionId"`
	Message   string `json:"message"`
}

func (s *Server) handleInit(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req initRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Task == "" {
		writeError(w, http.StatusBadRequest, "missing required field: task")
		return
	}

	ownerKey := r.Header.Get("X-User-ID")
	if ownerKey == "" {
		ownerKey = req.ProjectID
	}
	if ownerKey == "" {
		ownerKey = "default_user"
	}

	sess, err := s.createSession(r.Context(), ownerKey, req.Handshake())
	if err != nil {
		s.writeCreateError(w, err)
		return
	}

	admitted, isNew := s.controller.Admit(s.admissionKey(sess), sess)
	if !isNew {
		writeJSON(w, http.StatusOK, initResponse{
			Status:    "active",
			SessionID: admitted.ID,
			Message:   "Existing active session returned",
		})
		return
	}

	status, message := "ready", "Agent session initialized. Connect via WebSocket to start."
	if !s.engineUp {
		status = "mock"
		message = "Mock session created: no backing engine is configured."
	}
	log.Printf("session %s: created for owner %s (status=%s)", admitted.ID, ownerKey, status)
	writeJSON(w, http.StatusOK, initResponse{Status: status, SessionID: admitted.ID, Message: message})
}

func (s *Server) writeCreateError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errValidation):
		writeError(w, http.StatusBadRequest, err.Error())
	case isAuthErr(err):
		writeError(w, http.StatusUnauthorized, "Invalid API key")
	default:
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to initialize session: %v", err))
	}
}

// handleSessionRoutes parses /api/session/{id}/stop.
func (s *Server) handleSessionRoutes(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/api/session/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[1] != "stop" {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	id, err := url.PathUnescape(parts[0])
	if err != nil {
		http.Error(w, "invalid session id", http.StatusBadRequest)
		return
	}

	if !s.controller.DestroyByID(id) {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}

	writeJSON(w, http.StatusOK, initResponse{
		Status:    "stopped",
		SessionID: id,
		Message:   "Session stopped and resources cleaned up",
	})
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	sessions := s.registry.List()
	infos := make([]session.Info, 0, len(sessions))
	for _, sess := range sessions {
		infos = append(infos, sess.Info())
	}
	writeJSON(w, http.StatusOK, map[string][]session.Info{"sessions": infos})
}

func (s *Server) handleFileRead(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.URL.Query().Get("session_id")
	path := r.URL.Query().Get("path")
	if id == "" || path == "" {
		writeError(w, http.StatusBadRequest, "session_id and path are required")
		return
	}

	sess, _, ok := s.registry.FindByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}

	content, err := sess.Workspace.ReadFile(r.Context(), path)
	switch {
	case errors.Is(err, workspace.ErrTraversal):
		writeError(w, http.StatusBadRequest, "path traversal not allowed")
	case err != nil:
		writeError(w, http.StatusNotFound, fmt.Sprintf("file not found or unreadable: %s", path))
	default:
		writeJSON(w, http.StatusOK, map[string]string{"content": content})
	}
}

func (s *Server) handleFileList(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(r) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	id := r.URL.Query().Get("session_id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "session_id is required")
		return
	}

	sess, _, ok := s.registry.FindByID(id)
	if !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("session %s not found", id))
		return
	}

	tree := workspace.BuildTree(r.Context(), sess.Workspace)
	writeJSON(w, http.StatusOK, map[string]any{"tree": tree})
}

// admissionKey picks the registry key for a session: the owner key in
// one-live-session-per-owner mode, otherwise the session's own id.
func (s *Server) admissionKey(sess *session.Session) string {
	if session.AdmissionFromString(s.cfg.Session.Admission) == session.AdmitPerOwner && sess.OwnerKey != "" {
		return sess.OwnerKey
	}
	return sess.ID
}

func (s *Server) authorize(r *http.Request) bool {
	if s.authToken == "" {
		return true
	}

	if r.URL.Query().Get("token") == s.authToken {
		return true
	}

	if r.Header.Get("X-Agent-Broker-Token") == s.authToken {
		return true
	}

	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == s.authToken {
		return true
	}

	return false
}

func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}

	if len(s.allowedOrigins) > 0 {
		if s.allowedOrigins[origin] {
			return true
		}
		if parsed, err := url.Parse(origin); err == nil && parsed.Host != "" {
			return s.allowedHosts[parsed.Host]
		}
		return false
	}

	parsed, err := url.Parse(origin)
	if err != nil {
		return false
	}

	host := parsed.Host
	if host == "" {
		return false
	}

	if host == r.Host {
		return true
	}

	if strings.HasPrefix(host, "localhost:") || host == "localhost" {
		return true
	}
	if strings.HasPrefix(host, "127.0.0.1:") || host == "127.0.0.1" {
		return true
	}
	if strings.HasPrefix(host, "[::1]:") || host == "::1" {
		return true
	}

	return false
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"status": "error", "message": message})
}

func ListenAndServe(host string, port int, mux *http.ServeMux) error {
	addr := fmt.Sprintf("%s:%d", host, port)
	log.Printf("Server listening on %s", addr)
	return http.ListenAndServe(addr, mux)
}
