// Package devserver is a self-contained stand-in for the production chat
// backend. It serves the conversation REST endpoints and a bot-echo
// websocket speaking the same envelope protocol, so a widget session can be
// exercised end to end without real infrastructure.
package devserver

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
)

// Server hosts the development backend.
type Server struct {
	mu            sync.Mutex
	nextID        int
	conversations map[int][]map[string]any

	upgrader   websocket.Upgrader
	httpServer *http.Server
}

// NewServer creates a development backend with no conversations.
func NewServer() *Server {
	return &Server{
		nextID:        1,
		conversations: make(map[int][]map[string]any),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}
}

// Start begins serving on the given port and blocks until the server stops.
func (s *Server) Start(port int) error {
	router := s.setupRoutes()
	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // websocket connections stay open
	}
	log.Printf("devserver listening on :%d", port)
	return s.httpServer.ListenAndServe()
}

// Stop shuts the server down gracefully.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) setupRoutes() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.corsMiddleware)

	api := router.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/conversations", s.handleCreateConversation).Methods("POST")
	api.HandleFunc("/conversations/{id}/history", s.handleHistory).Methods("GET")
	api.HandleFunc("/health", s.handleHealth).Methods("GET")

	router.HandleFunc("/ws", s.handleWebSocket)
	return router
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.Printf("devserver: write response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, map[string]any{
		"status": "ok",
		"time":   time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleCreateConversation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
		BotID  string `json:"botId"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.UserID == "" || req.BotID == "" {
		s.writeError(w, "userId and botId are required", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.conversations[id] = []map[string]any{}
	s.mu.Unlock()

	log.Printf("devserver: created conversation %d for user %s", id, req.UserID)
	s.writeJSON(w, map[string]any{"conversationId": id})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.Atoi(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, "invalid conversation id", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	history, ok := s.conversations[id]
	msgs := make([]map[string]any, len(history))
	copy(msgs, history)
	s.mu.Unlock()

	if !ok {
		s.writeError(w, "conversation not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, msgs)
}

// appendMessage stores a raw message shape on a conversation's history.
func (s *Server) appendMessage(conversationID int, msg map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conversations[conversationID] = append(s.conversations[conversationID], msg)
}

func (s *Server) conversationExists(id int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conversations[id]
	return ok
}
