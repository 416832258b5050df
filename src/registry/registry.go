package registry

import (
	"context"
	"errors"
)

const (
	DefaultPort        = 3306
	DefaultRegion      = "ap-northeast-2"
	DefaultDB          = "information_schema"
	DefaultClusterName = "Non-Cluster"
)

var (
	ErrInstanceNotFound = errors.New("instance not found")
	ErrInvalidRegistry  = errors.New("instance registry is not valid")
	ErrMissingName      = errors.New("instance name is required")
)

// InstanceDescriptor holds the identity and connection details of one monitored instance.
// Password is stored encrypted and only decrypted when a pool is created.
type InstanceDescriptor struct {
	ClusterName  string `json:"cluster_name" bson:"cluster_name"`
	InstanceName string `json:"instance_name" bson:"instance_name"`
	Host         string `json:"host" bson:"host"`
	Port         int    `json:"port" bson:"port"`
	Region       string `json:"region" bson:"region"`
	User         string `json:"user" bson:"user"`
	Password     string `json:"password" bson:"password"`
	DB           string `json:"db" bson:"db"`
}

// Registry is the source of monitored instances.
type Registry interface {
	List(ctx context.Context) ([]InstanceDescriptor, error)
}

// Editor is a registry that instances can be added to and removed from.
type Editor interface {
	Registry
	// Save adds an instance, or replaces the one with the same name or host.
	Save(ctx context.Context, instance InstanceDescriptor) error
	// Delete returns ErrInstanceNotFound when no instance has the name.
	Delete(ctx context.Context, name string) error
}

// Matches reports whether two descriptors name the same instance or point at the same host.
func (d InstanceDescriptor) Matches(other InstanceDescriptor) bool {
	return d.InstanceName == other.InstanceName || d.Host == other.Host
}

func (d InstanceDescriptor) withDefaults() InstanceDescriptor {
	if d.Port == 0 {
		d.Port = DefaultPort
	}
	if d.Region == "" {
		d.Region = DefaultRegion
	}
	if d.DB == "" {
		d.DB = DefaultDB
	}
	if d.ClusterName == "" {
		d.ClusterName = DefaultClusterName
	}
	return d
}

// Filter drops ignored and unnamed instances, keeping the first descriptor of a duplicated name.
func Filter(instances []InstanceDescriptor, ignored []string) []InstanceDescriptor {
	skip := make(map[string]struct{}, len(ignored))
	for _, name := range ignored {
		skip[name] = struct{}{}
	}

	seen := make(map[string]struct{}, len(instances))
	result := make([]InstanceDescriptor, 0, len(instances))
	for _, instance := range instances {
		if instance.InstanceName == "" {
			continue
		}
		if _, ok := skip[instance.InstanceName]; ok {
			continue
		}
		if _, ok := seen[instance.InstanceName]; ok {
			continue
		}
		seen[instance.InstanceName] = struct{}{}
		result = append(result, instance)
	}
	return result
}
