package api

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/newrelic/nri-mysql-collector/src/models"
)

const (
	defaultDays = 1
	maxDays     = 30
)

var ErrInvalidDays = fmt.Errorf("days must be an integer between 1 and %d", maxDays)

// slowQueries returns records started within the last days, newest first.
func (s *Server) slowQueries(w http.ResponseWriter, r *http.Request) {
	days, err := parseDays(r.URL.Query().Get("days"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	to := s.now().UTC()
	from := to.AddDate(0, 0, -days)
	queries, err := s.SlowQueries.Query(r.Context(), r.URL.Query().Get("instance"), from, to)
	if err != nil {
		s.internalError(w, err, "failed to read slow queries")
		return
	}
	if queries == nil {
		queries = []models.CompletedQuery{}
	}
	writeJSON(w, http.StatusOK, response{Status: "success", Data: queries})
}

func parseDays(value string) (int, error) {
	if value == "" {
		return defaultDays, nil
	}
	days, err := strconv.Atoi(value)
	if err != nil || days < 1 || days > maxDays {
		return 0, ErrInvalidDays
	}
	return days, nil
}

func (s *Server) statistics(w http.ResponseWriter, r *http.Request) {
	stats, err := s.SlowQueries.Statistics(r.Context())
	if err != nil {
		s.internalError(w, err, "failed to aggregate slow queries")
		return
	}
	if stats == nil {
		stats = []models.SlowQueryStat{}
	}
	writeJSON(w, http.StatusOK, stats)
}
