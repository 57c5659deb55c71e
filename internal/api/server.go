// Package api is the REST admin surface: health, metrics, session
// directory management, and cross-cutting broadcast hooks for other backend
// services. No collaboration logic lives here, only HTTP handling and JSON
// serialization.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"surveysync/internal/database"
	"surveysync/internal/session"
	"surveysync/pkg/interfaces"
	"surveysync/pkg/types"
)

// RegistryStats is the narrow slice of the connection registry the health
// endpoint reports on.
type RegistryStats interface {
	Stats() map[string]int
}

// Server wires the admin endpoints onto a gorilla/mux router.
type Server struct {
	directory   interfaces.SessionDirectory
	store       *session.Store
	broadcaster interfaces.SessionPeerBroadcaster
	registry    RegistryStats
	router      *mux.Router
}

// NewServer creates the admin API server. The WebSocket endpoint is mounted
// by the caller so this package stays transport-agnostic.
func NewServer(directory interfaces.SessionDirectory, store *session.Store, broadcaster interfaces.SessionPeerBroadcaster, registry RegistryStats) *Server {
	s := &Server{
		directory:   directory,
		store:       store,
		broadcaster: broadcaster,
		registry:    registry,
		router:      mux.NewRouter(),
	}

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(s.corsMiddleware)

	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.healthCheck).Methods(http.MethodGet)

	api := s.router.PathPrefix("/api/v1").Subrouter()
	api.Use(s.jsonMiddleware)
	api.HandleFunc("/sessions", s.listSessions).Methods(http.MethodGet)
	api.HandleFunc("/sessions", s.createSession).Methods(http.MethodPost)
	api.HandleFunc("/sessions/{id}", s.getSession).Methods(http.MethodGet)
	api.HandleFunc("/sessions/{id}/broadcast", s.broadcastToSession).Methods(http.MethodPost)
	api.HandleFunc("/users/{id}/notifications", s.notifyUser).Methods(http.MethodPost)
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router exposes the underlying mux so the application can mount the
// WebSocket endpoint alongside the REST routes.
func (s *Server) Router() *mux.Router {
	return s.router
}

type CreateSessionRequest struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	OwnerID string `json:"ownerId"`
}

type CreateSessionResponse struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	OwnerID string `json:"ownerId"`
}

type ListSessionsResponse struct {
	Sessions []session.SessionInfo `json:"sessions"`
}

type BroadcastRequest struct {
	Action   string      `json:"action"`
	Field    string      `json:"field,omitempty"`
	UserID   string      `json:"userId,omitempty"`
	Username string      `json:"username,omitempty"`
	Payload  interface{} `json:"payload,omitempty"`
}

type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}

type HealthResponse struct {
	Status      string         `json:"status"`
	Timestamp   time.Time      `json:"timestamp"`
	Database    string         `json:"database"`
	Connections map[string]int `json:"connections"`
	Sessions    int            `json:"sessions"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// createSession inserts a directory row so WebSocket joins validate. An
// omitted identifier gets a generated UUID.
func (s *Server) createSession(w http.ResponseWriter, r *http.Request) {
	var req CreateSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}

	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if !types.IsValidSessionID(req.ID) {
		s.sendError(w, "Invalid session ID", http.StatusBadRequest)
		return
	}
	if req.Title == "" {
		s.sendError(w, "Session title is required", http.StatusBadRequest)
		return
	}
	if !types.IsValidUserID(req.OwnerID) {
		s.sendError(w, "Invalid owner ID", http.StatusBadRequest)
		return
	}

	if err := s.directory.CreateSession(r.Context(), req.ID, req.Title, req.OwnerID); err != nil {
		if errors.Is(err, database.ErrSessionAlreadyExists) {
			s.sendError(w, "Session already exists", http.StatusConflict)
			return
		}
		log.Printf("Session creation failed: session=%s err=%v", req.ID, err)
		s.sendError(w, "Failed to create session", http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusCreated)
	s.encode(w, CreateSessionResponse{ID: req.ID, Title: req.Title, OwnerID: req.OwnerID})
}

// listSessions reports the live in-memory sessions, not the directory;
// operators use it to see what the reaper has not yet evicted.
func (s *Server) listSessions(w http.ResponseWriter, r *http.Request) {
	s.encode(w, ListSessionsResponse{Sessions: s.store.List()})
}

// getSession returns the full live snapshot of one session.
func (s *Server) getSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	snap, ok := s.store.Snapshot(sessionID)
	if !ok {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}
	s.encode(w, snap)
}

// broadcastToSession pushes a server-originated event to every connected
// participant of a session. Used by sibling services (publishing, review
// assignment) that need to reach editors in real time.
func (s *Server) broadcastToSession(w http.ResponseWriter, r *http.Request) {
	sessionID := mux.Vars(r)["id"]

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		req.Action = types.ActionNotification
	}

	if _, ok := s.store.Snapshot(sessionID); !ok {
		s.sendError(w, "Session not found", http.StatusNotFound)
		return
	}

	delivered := s.broadcaster.BroadcastToSession(sessionID, &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		SessionID: sessionID,
		Action:    req.Action,
		Field:     req.Field,
		UserID:    req.UserID,
		Username:  req.Username,
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
	})

	s.encode(w, BroadcastResponse{Delivered: delivered})
}

// notifyUser pushes an event to every live connection of one user across
// all sessions.
func (s *Server) notifyUser(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["id"]

	var req BroadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, "Invalid JSON", http.StatusBadRequest)
		return
	}
	if req.Action == "" {
		req.Action = types.ActionNotification
	}

	delivered := s.broadcaster.BroadcastToUser(userID, &types.ServerEvent{
		Type:      types.MessageTypeUpdate,
		Action:    req.Action,
		Field:     req.Field,
		UserID:    userID,
		Payload:   req.Payload,
		Timestamp: time.Now().UTC(),
	})

	s.encode(w, BroadcastResponse{Delivered: delivered})
}

// healthCheck reports overall status; the directory being unreachable makes
// the whole service unhealthy since joins cannot validate.
func (s *Server) healthCheck(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "healthy"
	dbStatus := "healthy"

	if err := s.directory.HealthCheck(ctx); err != nil {
		status = "unhealthy"
		dbStatus = fmt.Sprintf("error: %v", err)
	}

	response := HealthResponse{
		Status:      status,
		Timestamp:   time.Now().UTC(),
		Database:    dbStatus,
		Connections: s.registry.Stats(),
		Sessions:    s.store.Len(),
	}

	w.Header().Set("Content-Type", "application/json")
	if status == "unhealthy" {
		w.WriteHeader(http.StatusServiceUnavailable)
	} else {
		w.WriteHeader(http.StatusOK)
	}
	s.encode(w, response)
}

func (s *Server) encode(w http.ResponseWriter, v interface{}) {
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Response encoding failed: %v", err)
	}
}

func (s *Server) sendError(w http.ResponseWriter, message string, code int) {
	w.WriteHeader(code)
	s.encode(w, ErrorResponse{
		Error:   http.StatusText(code),
		Code:    code,
		Message: message,
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		w.Header().Set("Access-Control-Max-Age", "86400")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) jsonMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		next.ServeHTTP(w, r)
	})
}
