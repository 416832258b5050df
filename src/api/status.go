package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/newrelic/nri-mysql-collector/src/models"
	"github.com/newrelic/nri-mysql-collector/src/store"
)

var (
	errMissingInstance = errors.New("missing instance name")
	errItemNotFound    = errors.New("item not found")
)

type ioStatusRow struct {
	Timestamp     time.Time `json:"timestamp"`
	Command       string    `json:"command"`
	Total         int64     `json:"total"`
	AvgForHours   float64   `json:"avgForHours"`
	AvgForSeconds float64   `json:"avgForSeconds"`
}

func (s *Server) commandStatus(w http.ResponseWriter, r *http.Request) {
	instance := r.URL.Query().Get("instance_name")
	if instance == "" {
		writeError(w, http.StatusBadRequest, errMissingInstance)
		return
	}

	status, err := s.Status.CommandStatus(r.Context(), instance)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errItemNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err, "failed to read command status")
		return
	}
	commands := status.Commands
	if commands == nil {
		commands = []models.CommandCounter{}
	}
	writeJSON(w, http.StatusOK, commands)
}

// diskUsage flattens every IO sample of an instance into one row per counter, newest sample first.
// Repeated command parameters restrict the counters returned.
func (s *Server) diskUsage(w http.ResponseWriter, r *http.Request) {
	instance := r.URL.Query().Get("instance_name")
	if instance == "" {
		writeError(w, http.StatusBadRequest, errMissingInstance)
		return
	}

	samples, err := s.Status.IOStatus(r.Context(), instance)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, errItemNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err, "failed to read disk usage")
		return
	}

	writeJSON(w, http.StatusOK, ioStatusRows(samples, r.URL.Query()["command"]))
}

func ioStatusRows(samples []models.IOStatus, commands []string) []ioStatusRow {
	wanted := make(map[string]struct{}, len(commands))
	for _, command := range commands {
		wanted[command] = struct{}{}
	}

	rows := []ioStatusRow{}
	for _, sample := range samples {
		for _, counter := range sample.Counters {
			if _, ok := wanted[counter.Command]; len(wanted) > 0 && !ok {
				continue
			}
			rows = append(rows, ioStatusRow{
				Timestamp:     sample.Timestamp.UTC(),
				Command:       counter.Command,
				Total:         counter.Total,
				AvgForHours:   counter.AvgForHours,
				AvgForSeconds: counter.AvgForSeconds,
			})
		}
	}
	return rows
}
