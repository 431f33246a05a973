// Package httpapi exposes the bridge over HTTP: submit a chat message, get a
// token back, poll the token until the response is ready.
package httpapi

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/relaylabs/chatbridge/internal/bridge"
	"github.com/relaylabs/chatbridge/internal/jsoncodec"
	"github.com/relaylabs/chatbridge/internal/logging"
)

type chatRequest struct {
	Message string `json:"message"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

type statusResponse struct {
	Status string `json:"status"`
}

type chatResponse struct {
	Response string `json:"response"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// Server is the HTTP front-end. It owns no broker state: it publishes through
// the bridge Publisher and reads results from the Ledger.
type Server struct {
	publisher      *bridge.Publisher
	ledger         *bridge.Ledger
	logger         logging.ServiceLogger
	allowedOrigins []string

	httpServer *http.Server
}

// New builds a Server. allowedOrigins configures CORS; empty disables the
// headers entirely.
func New(publisher *bridge.Publisher, ledger *bridge.Ledger, logger logging.ServiceLogger, allowedOrigins []string) *Server {
	return &Server{
		publisher:      publisher,
		ledger:         ledger,
		logger:         logger,
		allowedOrigins: allowedOrigins,
	}
}

// Router builds the route table.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()
	router.Use(s.loggingMiddleware)
	router.Use(s.corsMiddleware)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/chat", s.handleSubmit).Methods(http.MethodPost, http.MethodOptions)
	api.HandleFunc("/chat/{token}", s.handlePoll).Methods(http.MethodGet, http.MethodOptions)

	router.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)

	return router
}

// Start serves HTTP on the given address until Shutdown is called.
func (s *Server) Start(address string) error {
	s.httpServer = &http.Server{
		Addr:              address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	s.logger.Info("starting HTTP server", logging.LogFields{"address": address})
	err := s.httpServer.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown drains in-flight requests within the context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := jsoncodec.Decode(r.Body, &req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if req.Message == "" {
		s.writeJSON(w, http.StatusBadRequest, errorResponse{Error: "message is required"})
		return
	}

	token, err := s.publisher.Publish(r.Context(), req.Message)
	if err != nil {
		s.logger.Error("failed to accept chat message", err, nil)
		s.writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "could not accept message"})
		return
	}

	s.writeJSON(w, http.StatusOK, tokenResponse{Token: token})
}

func (s *Server) handlePoll(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	payload, status := s.ledger.TakeIfReady(token)
	switch status {
	case bridge.StatusReady:
		s.writeJSON(w, http.StatusOK, chatResponse{Response: payload})
	case bridge.StatusPending:
		s.writeJSON(w, http.StatusOK, statusResponse{Status: "processing"})
	case bridge.StatusFailed:
		s.writeJSON(w, http.StatusOK, statusResponse{Status: "failed"})
	default:
		s.writeJSON(w, http.StatusOK, statusResponse{Status: "not_found"})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, statusResponse{Status: "ok"})
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := jsoncodec.Encode(w, body); err != nil {
		s.logger.Error("failed to encode response", err, nil)
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("handled request", logging.LogFields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"duration": time.Since(start).String(),
		})
	})
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if origin := r.Header.Get("Origin"); origin != "" && s.originAllowed(origin) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) originAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || strings.EqualFold(allowed, origin) {
			return true
		}
	}
	return false
}
