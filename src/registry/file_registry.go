package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/xeipuuv/gojsonschema"
)

const instancesSchema = `{
	"type": "array",
	"items": {
		"type": "object",
		"required": ["instance_name", "host", "user", "password"],
		"properties": {
			"cluster_name": {"type": "string"},
			"instance_name": {"type": "string", "minLength": 1},
			"host": {"type": "string", "minLength": 1},
			"port": {"type": "integer", "minimum": 1, "maximum": 65535},
			"region": {"type": "string"},
			"user": {"type": "string"},
			"password": {"type": "string"},
			"db": {"type": "string"}
		}
	}
}`

// FileRegistry keeps instances in a JSON file.
type FileRegistry struct {
	path string
	mu   sync.Mutex
}

func NewFileRegistry(path string) *FileRegistry {
	return &FileRegistry{path: path}
}

// List returns every registered instance. A missing file is an empty registry.
func (r *FileRegistry) List(_ context.Context) ([]InstanceDescriptor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.read()
}

func (r *FileRegistry) Save(_ context.Context, instance InstanceDescriptor) error {
	if instance.InstanceName == "" {
		return ErrMissingName
	}
	instance = instance.withDefaults()

	r.mu.Lock()
	defer r.mu.Unlock()

	instances, err := r.read()
	if err != nil {
		return err
	}

	replaced := false
	for i := range instances {
		if instances[i].Matches(instance) {
			instances[i] = instance
			replaced = true
		}
	}
	if !replaced {
		instances = append(instances, instance)
	}
	return r.write(instances)
}

func (r *FileRegistry) Delete(_ context.Context, name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	instances, err := r.read()
	if err != nil {
		return err
	}

	kept := instances[:0]
	for _, instance := range instances {
		if instance.InstanceName != name {
			kept = append(kept, instance)
		}
	}
	if len(kept) == len(instances) {
		return fmt.Errorf("%w: %s", ErrInstanceNotFound, name)
	}
	return r.write(kept)
}

func (r *FileRegistry) read() ([]InstanceDescriptor, error) {
	data, err := os.ReadFile(r.path)
	if errors.Is(err, os.ErrNotExist) {
		return []InstanceDescriptor{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("error reading instance registry: %w", err)
	}
	return parseInstances(data)
}

func (r *FileRegistry) write(instances []InstanceDescriptor) error {
	data, err := json.MarshalIndent(instances, "", "    ")
	if err != nil {
		return fmt.Errorf("error encoding instance registry: %w", err)
	}
	tmp := r.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("error writing instance registry: %w", err)
	}
	return os.Rename(tmp, r.path)
}

func parseInstances(data []byte) ([]InstanceDescriptor, error) {
	result, err := gojsonschema.Validate(gojsonschema.NewStringLoader(instancesSchema), gojsonschema.NewBytesLoader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRegistry, err)
	}
	if !result.Valid() {
		descriptions := make([]string, 0, len(result.Errors()))
		for _, desc := range result.Errors() {
			descriptions = append(descriptions, desc.String())
		}
		return nil, fmt.Errorf("%w: %s", ErrInvalidRegistry, strings.Join(descriptions, "; "))
	}

	var instances []InstanceDescriptor
	if err := json.Unmarshal(data, &instances); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrInvalidRegistry, err)
	}
	for i := range instances {
		instances[i] = instances[i].withDefaults()
	}
	return instances, nil
}
