// Package httpapi exposes the provider registry over HTTP. Routing is
// uniform: every adapter operation is reachable as
// /api/{provider}/{endpoint} with up to four positional parameters.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/openmobility/transithub/gtfs"
	"github.com/openmobility/transithub/provider"
)

// Nginx convention for a client that went away before the response.
const statusClientClosedRequest = 499

const maxBodySize = 1 << 20

type Server struct {
	logger   *zap.Logger
	registry *provider.Registry
	router   *mux.Router
}

func New(logger *zap.Logger, registry *provider.Registry) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		logger:   logger,
		registry: registry,
		router:   mux.NewRouter(),
	}

	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	s.router.HandleFunc("/api/providers", s.handleProviders).Methods("GET")
	s.router.HandleFunc("/api/docs", s.handleDocs).Methods("GET")
	s.router.HandleFunc("/api/{provider}/{endpoint}", s.handleCall).Methods("GET", "POST")
	s.router.HandleFunc("/api/{provider}/{endpoint}/{p1}", s.handleCall).Methods("GET", "POST")
	s.router.HandleFunc("/api/{provider}/{endpoint}/{p1}/{p2}", s.handleCall).Methods("GET", "POST")
	s.router.HandleFunc("/api/{provider}/{endpoint}/{p1}/{p2}/{p3}", s.handleCall).Methods("GET", "POST")
	s.router.HandleFunc("/api/{provider}/{endpoint}/{p1}/{p2}/{p3}/{p4}", s.handleCall).Methods("GET", "POST")

	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		errc <- server.ListenAndServe()
	}()

	s.logger.Info("http server listening", zap.String("addr", addr))

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleProviders(w http.ResponseWriter, r *http.Request) {
	providers := map[string][]string{}
	for _, name := range s.registry.Names() {
		endpoints, err := s.registry.Endpoints(name)
		if err != nil {
			continue
		}
		providers[name] = endpoints
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"providers": providers})
}

func (s *Server) handleDocs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.Docs(r.Context()))
}

type errorResponse struct {
	Error              string   `json:"error"`
	Details            string   `json:"details,omitempty"`
	AvailableProviders []string `json:"available_providers,omitempty"`
	AvailableEndpoints []string `json:"available_endpoints,omitempty"`
	RetryAfterSeconds  int      `json:"retry_after_s,omitempty"`
}

func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	providerName := vars["provider"]
	endpoint := vars["endpoint"]

	params := []string{}
	for _, key := range []string{"p1", "p2", "p3", "p4"} {
		p, ok := vars[key]
		if !ok {
			break
		}
		params = append(params, p)
	}

	var body []byte
	if r.Method == http.MethodPost {
		var err error
		body, err = io.ReadAll(io.LimitReader(r.Body, maxBodySize))
		if err != nil {
			s.writeError(w, r, providerName, fmt.Errorf("%w: reading body: %v", provider.ErrBadRequest, err))
			return
		}
	}

	result, err := s.registry.Call(r.Context(), providerName, endpoint, params, body)
	if err != nil {
		s.writeError(w, r, providerName, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, providerName string, err error) {
	// A cancelled request gets a log line, not a payload the client
	// will never read.
	if r.Context().Err() != nil {
		s.logger.Debug("client disconnected",
			zap.String("path", r.URL.Path))
		w.WriteHeader(statusClientClosedRequest)
		return
	}

	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	switch {
	case errors.Is(err, provider.ErrNotFound), errors.Is(err, provider.ErrUnsupported):
		status = http.StatusNotFound
		if _, perr := s.registry.Get(providerName); perr != nil {
			resp.AvailableProviders = s.registry.Names()
		} else if endpoints, eerr := s.registry.Endpoints(providerName); eerr == nil {
			resp.AvailableEndpoints = endpoints
		}
	case errors.Is(err, provider.ErrBadRequest):
		status = http.StatusBadRequest
	case errors.Is(err, provider.ErrRateLimited):
		status = http.StatusTooManyRequests
		resp.RetryAfterSeconds = 30
	case errors.Is(err, gtfs.ErrFeedNotReady):
		status = http.StatusServiceUnavailable
		resp.Details = "static feed is still loading, retry shortly"
		resp.RetryAfterSeconds = 10
	case errors.Is(err, provider.ErrUpstream):
		status = http.StatusBadGateway
	}

	if status >= 500 {
		s.logger.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	} else {
		s.logger.Debug("request rejected",
			zap.String("path", r.URL.Path),
			zap.Int("status", status),
			zap.Error(err))
	}

	writeJSON(w, status, resp)
}

func writeJSON(w http.ResponseWriter, status int, value interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(value)
}
