package capability

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"
)

var (
	// ErrAlreadyRegistered is returned when a provider name is taken
	ErrAlreadyRegistered = errors.New("provider already registered")
	// ErrRegistrySealed is returned by Register after Seal
	ErrRegistrySealed = errors.New("registry is sealed")
)

// Param describes one argument in an object schema
type Param struct {
	Name        string
	Type        string // string, number, integer, boolean, object, array
	Description string
	Required    bool
	Default     interface{}
	Enum        []interface{}
}

var validParamTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
	"object": true, "array": true, "integer": true,
}

// ObjectSchema builds a closed JSON object schema from params
func ObjectSchema(params ...Param) map[string]interface{} {
	properties := make(map[string]interface{}, len(params))
	required := []string{}

	for _, p := range params {
		prop := map[string]interface{}{
			"type":        p.Type,
			"description": p.Description,
		}
		if p.Default != nil {
			prop["default"] = p.Default
		}
		if len(p.Enum) > 0 {
			prop["enum"] = p.Enum
		}
		properties[p.Name] = prop

		if p.Required {
			required = append(required, p.Name)
		}
	}

	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type entry struct {
	provider Provider
	desc     Descriptor
	schema   *gojsonschema.Schema
}

// Registry holds the providers available to a loop
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	sealed  bool
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		entries: make(map[string]*entry),
	}
}

// Register validates p's descriptor and adds it
func (r *Registry) Register(p Provider) error {
	if p == nil {
		return fmt.Errorf("provider cannot be nil")
	}
	desc := p.Descriptor()
	if err := validateDescriptor(desc); err != nil {
		return fmt.Errorf("invalid provider descriptor: %w", err)
	}

	schema, err := compileSchema(desc.InputSchema)
	if err != nil {
		return fmt.Errorf("invalid input schema for %s: %w", desc.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot register %s", ErrRegistrySealed, desc.Name)
	}
	if _, exists := r.entries[desc.Name]; exists {
		return fmt.Errorf("%w: %s", ErrAlreadyRegistered, desc.Name)
	}

	r.entries[desc.Name] = &entry{provider: p, desc: desc, schema: schema}

	log.Info().Str("provider", desc.Name).Msg("Provider registered")
	return nil
}

// MustRegister registers each provider and panics on error
func (r *Registry) MustRegister(providers ...Provider) {
	for _, p := range providers {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
}

// Seal freezes the provider set
func (r *Registry) Seal() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sealed = true
}

// Sealed reports whether Seal was called
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup returns the provider registered under name
func (r *Registry) Lookup(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.entries[name]
	if !ok {
		return nil, false
	}
	return e.provider, true
}

// Validate checks args against the provider's input schema
func (r *Registry) Validate(name string, args map[string]interface{}) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrProviderNotFound, name)
	}
	if e.schema == nil {
		return nil
	}
	if args == nil {
		args = map[string]interface{}{}
	}

	result, err := e.schema.Validate(gojsonschema.NewGoLoader(args))
	if err != nil {
		return err
	}
	if !result.Valid() {
		msgs := make([]string, 0, len(result.Errors()))
		for _, verr := range result.Errors() {
			msgs = append(msgs, verr.String())
		}
		return fmt.Errorf("argument validation failed: %v", msgs)
	}
	return nil
}

// Descriptors returns all descriptors sorted by name
func (r *Registry) Descriptors() []Descriptor {
	r.mu.RLock()
	descs := make([]Descriptor, 0, len(r.entries))
	for _, e := range r.entries {
		descs = append(descs, e.desc)
	}
	r.mu.RUnlock()

	sort.Slice(descs, func(i, j int) bool { return descs[i].Name < descs[j].Name })
	return descs
}

// Names returns the registered names in sorted order
func (r *Registry) Names() []string {
	descs := r.Descriptors()
	names := make([]string, len(descs))
	for i, d := range descs {
		names[i] = d.Name
	}
	return names
}

// Len returns the number of registered providers
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

func validateDescriptor(desc Descriptor) error {
	if desc.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}
	if desc.Description == "" {
		return fmt.Errorf("description cannot be empty for %s", desc.Name)
	}
	if desc.InputSchema == nil {
		return nil
	}

	props, _ := desc.InputSchema["properties"].(map[string]interface{})
	for name, raw := range props {
		prop, ok := raw.(map[string]interface{})
		if !ok {
			return fmt.Errorf("property %s must be an object", name)
		}
		typ, _ := prop["type"].(string)
		if typ != "" && !validParamTypes[typ] {
			return fmt.Errorf("invalid type %s for %s", typ, name)
		}
	}
	return nil
}

func compileSchema(schema map[string]interface{}) (*gojsonschema.Schema, error) {
	if schema == nil {
		return nil, nil
	}
	return gojsonschema.NewSchema(gojsonschema.NewGoLoader(schema))
}
