// Package schema describes resource types, their attributes, and their
// relationships. The shape is static after startup: build a Schema once
// during initialization and share it freely afterwards.
package schema

import (
	"fmt"
	"sort"
	"sync"
)

// Cardinality says whether a relationship reaches at most one object
// or a collection.
type Cardinality string

const (
	ToOne  Cardinality = "to_one"
	ToMany Cardinality = "to_many"
)

// Relationship is one named edge from an owning resource type to a
// target resource type. The column fields carry the join metadata the
// SQL renderer needs; JoinTable is set only for many-to-many edges that
// traverse an association table.
type Relationship struct {
	Name        string
	Target      string
	Cardinality Cardinality

	LocalColumn      string
	RemoteColumn     string
	JoinTable        string
	JoinLocalColumn  string
	JoinRemoteColumn string
}

// ResourceType maps attribute names to table columns and relationship
// names to edges.
type ResourceType struct {
	Name          string
	Table         string
	Attributes    map[string]string
	Relationships map[string]Relationship
}

// Schema is a registry of resource types. Populate it during startup;
// reads after that need no locking.
type Schema struct {
	types map[string]ResourceType
}

func New() *Schema {
	return &Schema{types: map[string]ResourceType{}}
}

// AddResource registers a resource type. Attribute and relationship
// maps may be nil; they are normalized to empty maps.
func (s *Schema) AddResource(rt ResourceType) error {
	if rt.Name == "" {
		return fmt.Errorf("schema: resource name required")
	}
	if _, ok := s.types[rt.Name]; ok {
		return fmt.Errorf("schema: resource %q already registered", rt.Name)
	}
	if rt.Table == "" {
		rt.Table = rt.Name
	}
	if rt.Attributes == nil {
		rt.Attributes = map[string]string{}
	}
	if rt.Relationships == nil {
		rt.Relationships = map[string]Relationship{}
	}
	s.types[rt.Name] = rt
	return nil
}

// Resource returns the named resource type.
func (s *Schema) Resource(name string) (ResourceType, bool) {
	rt, ok := s.types[name]
	return rt, ok
}

// Resources returns all registered resource type names, sorted.
func (s *Schema) Resources() []string {
	names := make([]string, 0, len(s.types))
	for name := range s.types {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Resolver answers relationship lookups with a process-lifetime cache.
// Each hop of a multi-hop traversal resolves independently, so the
// cache key is just (resource, relationship).
type Resolver struct {
	schema *Schema
	mu     sync.RWMutex
	cache  map[string]Relationship
}

func NewResolver(s *Schema) *Resolver {
	return &Resolver{schema: s, cache: map[string]Relationship{}}
}

// Resolve reports the target type and cardinality of a named
// relationship on a resource type.
func (r *Resolver) Resolve(resource, relationship string) (Relationship, error) {
	key := resource + "\x00" + relationship
	r.mu.RLock()
	rel, ok := r.cache[key]
	r.mu.RUnlock()
	if ok {
		return rel, nil
	}
	rt, ok := r.schema.Resource(resource)
	if !ok {
		return Relationship{}, fmt.Errorf("schema: unknown resource %q", resource)
	}
	rel, ok = rt.Relationships[relationship]
	if !ok {
		return Relationship{}, fmt.Errorf("schema: resource %q has no relationship %q", resource, relationship)
	}
	r.mu.Lock()
	r.cache[key] = rel
	r.mu.Unlock()
	return rel, nil
}
