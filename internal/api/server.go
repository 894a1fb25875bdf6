package api

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/chatterstack/chatterhub/internal/auth"
	"github.com/chatterstack/chatterhub/internal/config"
	"github.com/chatterstack/chatterhub/internal/hub"
	"github.com/gorilla/handlers"
)

// HubServer is the hub's HTTP surface: the WebSocket upgrade
// endpoint, the internal publish hook for the REST service, and
// health/metrics.
type HubServer struct {
	log            *log.Logger
	hub            *hub.Hub
	validator      auth.TokenValidator
	srv            *http.Server
	allowedOrigins []string
	internalToken  string
}

func NewHubServer(mux *http.ServeMux, logger *log.Logger, h *hub.Hub, validator auth.TokenValidator, cfg *config.Config) *HubServer {
	s := &HubServer{
		log:            logger,
		hub:            h,
		validator:      validator,
		allowedOrigins: cfg.AllowedOrigins,
		internalToken:  cfg.InternalToken,
	}

	mux.HandleFunc("GET /ws", s.serveWs)
	mux.HandleFunc("GET /healthz", s.healthz)
	mux.HandleFunc("POST /internal/rooms/{room_id}/members", s.internalAuth(s.memberAdded))

	handler := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	handler = s.errorHandler(handler)

	s.srv = &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: handler,
	}

	return s
}

func (s *HubServer) Start() error {
	s.log.Printf("starting server on %s\n", s.srv.Addr)
	return s.srv.ListenAndServe()
}

func (s *HubServer) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.srv.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}

func (s *HubServer) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *HubServer) healthz(w http.ResponseWriter, _ *http.Request) {
	s.writeJson(w, http.StatusOK, map[string]string{"status": "ok"})
}
