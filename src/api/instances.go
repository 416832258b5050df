package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/newrelic/nri-mysql-collector/src/registry"
)

var (
	errInstanceNotFound = errors.New("instance not found")
	errInstanceExists   = errors.New("instance already exists, use action=update to replace it")
)

// instanceRequest carries the plaintext password; only its encrypted form is stored.
type instanceRequest struct {
	ClusterName  string `json:"cluster_name"`
	InstanceName string `json:"instance_name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Region       string `json:"region"`
	User         string `json:"user"`
	Password     string `json:"password"`
	DB           string `json:"db"`
}

func (req instanceRequest) validate() error {
	required := []struct{ field, value string }{
		{"instance_name", req.InstanceName},
		{"host", req.Host},
		{"user", req.User},
		{"password", req.Password},
	}
	for _, r := range required {
		if r.value == "" {
			return fmt.Errorf("%s is required", r.field)
		}
	}
	if req.Port < 0 || req.Port > 65535 {
		return fmt.Errorf("port %d is out of range", req.Port)
	}
	return nil
}

type instanceView struct {
	ClusterName  string `json:"cluster_name"`
	InstanceName string `json:"instance_name"`
	Host         string `json:"host"`
	Port         int    `json:"port"`
	Region       string `json:"region"`
	User         string `json:"user"`
	DB           string `json:"db"`
}

// listInstances never returns passwords, not even encrypted.
func (s *Server) listInstances(w http.ResponseWriter, r *http.Request) {
	instances, err := s.Registry.List(r.Context())
	if err != nil {
		s.internalError(w, err, "failed to list instances")
		return
	}

	views := make([]instanceView, 0, len(instances))
	for _, instance := range instances {
		views = append(views, instanceView{
			ClusterName:  instance.ClusterName,
			InstanceName: instance.InstanceName,
			Host:         instance.Host,
			Port:         instance.Port,
			Region:       instance.Region,
			User:         instance.User,
			DB:           instance.DB,
		})
	}
	writeJSON(w, http.StatusOK, map[string][]instanceView{"instances": views})
}

// addInstance registers an instance. An instance with the same name or host is only replaced
// with action=update; action=cancel leaves it alone.
func (s *Server) addInstance(w http.ResponseWriter, r *http.Request) {
	var req instanceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid instance: %w", err))
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	encrypted, err := s.Secrets.Encrypt(req.Password)
	if err != nil {
		s.internalError(w, err, "failed to encrypt password")
		return
	}
	instance := registry.InstanceDescriptor{
		ClusterName:  req.ClusterName,
		InstanceName: req.InstanceName,
		Host:         req.Host,
		Port:         req.Port,
		Region:       req.Region,
		User:         req.User,
		Password:     encrypted,
		DB:           req.DB,
	}

	existing, err := s.Registry.List(r.Context())
	if err != nil {
		s.internalError(w, err, "failed to list instances")
		return
	}
	var replaced []string
	for _, registered := range existing {
		if registered.Matches(instance) {
			replaced = append(replaced, registered.InstanceName)
		}
	}
	exists := len(replaced) > 0

	action := r.URL.Query().Get("action")
	switch {
	case exists && action == "cancel":
		writeMessage(w, http.StatusOK, "Instance addition cancelled")
		return
	case exists && action != "update":
		writeError(w, http.StatusConflict, errInstanceExists)
		return
	}

	if err := s.Registry.Save(r.Context(), instance); err != nil {
		s.internalError(w, err, "failed to save instance")
		return
	}
	for _, name := range replaced {
		s.Pools.Drop(name)
	}
	s.logger.WithField("instance", instance.InstanceName).Info("Instance saved")
	if exists {
		writeMessage(w, http.StatusOK, "Instance updated")
		return
	}
	writeMessage(w, http.StatusCreated, "Instance added")
}

func (s *Server) deleteInstance(w http.ResponseWriter, r *http.Request) {
	name := r.URL.Query().Get("instance_name")
	if name == "" {
		writeError(w, http.StatusBadRequest, errMissingInstance)
		return
	}

	err := s.Registry.Delete(r.Context(), name)
	if errors.Is(err, registry.ErrInstanceNotFound) {
		writeError(w, http.StatusNotFound, errInstanceNotFound)
		return
	}
	if err != nil {
		s.internalError(w, err, "failed to delete instance")
		return
	}
	s.logger.WithField("instance", name).Info("Instance deleted")
	writeMessage(w, http.StatusOK, "Instance deleted")
}

// resetInstance lets the next cycle retry the pool of an instance that was marked unavailable.
func (s *Server) resetInstance(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	instances, err := s.Registry.List(r.Context())
	if err != nil {
		s.internalError(w, err, "failed to list instances")
		return
	}
	for _, instance := range instances {
		if instance.InstanceName == name {
			s.Pools.Reset(name)
			s.logger.WithField("instance", name).Info("Instance pool reset")
			writeMessage(w, http.StatusOK, "Instance pool reset")
			return
		}
	}
	writeError(w, http.StatusNotFound, errInstanceNotFound)
}
