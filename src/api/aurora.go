package api

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/newrelic/nri-mysql-collector/src/aurora"
	"github.com/newrelic/nri-mysql-collector/src/models"
)

const metricsWindowDays = 7

var errMissingMetric = errors.New("metric_name is required")

func (s *Server) auroraClusters(w http.ResponseWriter, r *http.Request) {
	infos, err := s.Aurora.ClusterInfos(r.Context())
	if err != nil {
		s.internalError(w, err, "failed to read cluster info")
		return
	}
	if infos == nil {
		infos = []models.ClusterInfo{}
	}
	writeJSON(w, http.StatusOK, infos)
}

// auroraMetrics returns the last week of one metric for a comma separated list of instances,
// every registered instance by default.
func (s *Server) auroraMetrics(w http.ResponseWriter, r *http.Request) {
	metric := r.URL.Query().Get("metric_name")
	if metric == "" {
		writeError(w, http.StatusBadRequest, errMissingMetric)
		return
	}
	if !isInstanceMetric(metric) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid metric name: %s", metric))
		return
	}

	instances := splitNames(r.URL.Query().Get("instance_name"))
	if len(instances) == 0 {
		registered, err := s.Registry.List(r.Context())
		if err != nil {
			s.internalError(w, err, "failed to list instances")
			return
		}
		for _, instance := range registered {
			instances = append(instances, instance.InstanceName)
		}
	}
	if len(instances) == 0 {
		writeJSON(w, http.StatusOK, []models.MetricSample{})
		return
	}

	to := s.now().UTC()
	samples, err := s.Aurora.MetricSamples(r.Context(), metric, instances, to.AddDate(0, 0, -metricsWindowDays), to)
	if err != nil {
		s.internalError(w, err, "failed to read metric samples")
		return
	}
	if samples == nil {
		samples = []models.MetricSample{}
	}
	writeJSON(w, http.StatusOK, samples)
}

func isInstanceMetric(name string) bool {
	for _, metric := range aurora.InstanceMetrics {
		if metric == name {
			return true
		}
	}
	return false
}

func splitNames(value string) []string {
	var names []string
	for _, name := range strings.Split(value, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
