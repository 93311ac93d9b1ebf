package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/syncbridge/syncbridge/pkg/engine"
	"github.com/syncbridge/syncbridge/pkg/log"
	"github.com/syncbridge/syncbridge/pkg/metrics"
	"github.com/syncbridge/syncbridge/pkg/types"
)

// Server exposes the sync engine over HTTP.
type Server struct {
	engine *engine.Engine
	router *mux.Router
	http   *http.Server
	logger zerolog.Logger
}

// NewServer builds the HTTP server and its routes.
func NewServer(eng *engine.Engine) *Server {
	s := &Server{
		engine: eng,
		router: mux.NewRouter(),
		logger: log.WithComponent("api"),
	}

	s.router.HandleFunc("/sync", s.submitHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/sync/status/{id}", s.statusHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/providers", s.registerProviderHandler).Methods(http.MethodPost)
	s.router.HandleFunc("/providers", s.listProvidersHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/providers/{name}", s.deregisterProviderHandler).Methods(http.MethodDelete)
	s.router.HandleFunc("/providers/{name}/status", s.providerStatusHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics/queue", s.queueMetricsHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/metrics/providers", s.providerMetricsHandler).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.healthHandler).Methods(http.MethodGet)
	s.router.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	return s
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler { return s.router }

// Start serves HTTP on addr until Shutdown.
func (s *Server) Start(addr string) error {
	s.http = &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.logger.Info().Str("addr", addr).Msg("http api listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error().Err(err).Msg("failed to encode response")
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) submitHandler(w http.ResponseWriter, r *http.Request) {
	var op types.Operation
	if err := json.NewDecoder(r.Body).Decode(&op); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	id, err := s.engine.Submit(r.Context(), &op)
	if err != nil {
		var unknown *engine.UnknownProviderError
		if errors.As(err, &unknown) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]any{
		"operation_id": id.String(),
		"status":       types.StatusPending,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}

	result, err := s.engine.Status(r.Context(), id)
	if err != nil {
		if errors.Is(err, engine.ErrOperationNotFound) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) registerProviderHandler(w http.ResponseWriter, r *http.Request) {
	var cfg types.ProviderConfig
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.engine.RegisterProvider(&cfg); err != nil {
		s.writeError(w, http.StatusBadRequest, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, map[string]string{"name": cfg.Name})
}

func (s *Server) listProvidersHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string][]string{"providers": s.engine.Providers()})
}

func (s *Server) deregisterProviderHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	if err := s.engine.DeregisterProvider(name); err != nil {
		s.writeError(w, http.StatusNotFound, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) providerStatusHandler(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]
	st, err := s.engine.ProviderStatus(r.Context(), name)
	if err != nil {
		var unknown *engine.UnknownProviderError
		if errors.As(err, &unknown) {
			s.writeError(w, http.StatusNotFound, err)
			return
		}
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, st)
}

func (s *Server) queueMetricsHandler(w http.ResponseWriter, r *http.Request) {
	qm, err := s.engine.QueueMetrics(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, qm)
}

func (s *Server) providerMetricsHandler(w http.ResponseWriter, r *http.Request) {
	pm, err := s.engine.ProviderMetrics(r.Context())
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, err)
		return
	}
	s.writeJSON(w, http.StatusOK, pm)
}
