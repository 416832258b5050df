// Package api serves collected data and manages the instance registry over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/newrelic/nri-mysql-collector/src/registry"
	"github.com/newrelic/nri-mysql-collector/src/secrets"
	constants "github.com/newrelic/nri-mysql-collector/src/slow-query-monitoring/constants"
	"github.com/newrelic/nri-mysql-collector/src/store"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Pools is the part of the pool manager the instance routes act on.
type Pools interface {
	// Reset clears the unavailable mark of an instance pool.
	Reset(name string)
	// Drop closes the pool so that the next cycle reconnects with the saved descriptor.
	Drop(name string)
}

// Backends are the stores and services the handlers read from and write to.
type Backends struct {
	SlowQueries store.SlowQuerySink
	Status      store.StatusStore
	Aurora      store.AuroraStore
	Registry    registry.Editor
	Secrets     secrets.Encrypter
	Pools       Pools
}

type Server struct {
	Backends
	logger *logrus.Logger
	now    func() time.Time
	router *mux.Router
}

func NewServer(backends Backends, logger *logrus.Logger) *Server {
	s := &Server{
		Backends: backends,
		logger:   logger,
		now:      time.Now,
		router:   mux.NewRouter(),
	}

	s.router.Use(s.logRequests)
	s.router.HandleFunc("/slow-queries", s.slowQueries).Methods(http.MethodGet)
	s.router.HandleFunc("/api/mysql_slow_query", s.slowQueries).Methods(http.MethodGet)
	s.router.HandleFunc("/statistics", s.statistics).Methods(http.MethodGet)
	s.router.HandleFunc("/mysql-status", s.commandStatus).Methods(http.MethodGet)
	s.router.HandleFunc("/disk-usage", s.diskUsage).Methods(http.MethodGet)
	s.router.HandleFunc("/aurora-clusters", s.auroraClusters).Methods(http.MethodGet)
	s.router.HandleFunc("/aurora-metrics", s.auroraMetrics).Methods(http.MethodGet)
	s.router.HandleFunc("/instances", s.listInstances).Methods(http.MethodGet)
	s.router.HandleFunc("/instances", s.addInstance).Methods(http.MethodPost)
	s.router.HandleFunc("/instances", s.deleteInstance).Methods(http.MethodDelete)
	s.router.HandleFunc("/instances/{name}/reset", s.resetInstance).Methods(http.MethodPost)
	s.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	return s
}

func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is done, then gives in-flight requests a moment to finish.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.WithField("addr", addr).Info("API listening")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), constants.APIShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errCh; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type response struct {
	Status  string      `json:"status"`
	Data    interface{} `json:"data,omitempty"`
	Message string      `json:"message,omitempty"`
}

// internalError logs the cause and answers with a generic message.
func (s *Server) internalError(w http.ResponseWriter, err error, message string) {
	s.logger.WithError(err).Error(message)
	writeError(w, http.StatusInternalServerError, errors.New(message))
}

func writeMessage(w http.ResponseWriter, code int, message string) {
	writeJSON(w, code, response{Status: "success", Message: message})
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, response{Status: "error", Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
