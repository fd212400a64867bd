package schema

import (
	"errors"
	"sync"
	"time"

	"github.com/kartikbazzad/docbase/internal/util"
)

// ErrSchemaNotFound is returned by registry operations that target a
// collection with no registered schema.
var ErrSchemaNotFound = errors.New("collection has no registered schema")

// entry pairs a collection's schema with whether validation is currently
// enforced and when the entry was created/last touched, mirroring the
// original registry's collection schema record.
type entry struct {
	def       *Definition
	enabled   bool
	createdAt time.Time
	updatedAt time.Time
}

// RegistryStats summarizes the schemas a Registry currently holds.
type RegistryStats struct {
	TotalCollections    int
	EnabledCollections  int
	DisabledCollections int
	OldestSchemaDate    *time.Time
	NewestSchemaDate    *time.Time
}

// Registry holds one schema Definition per collection, plus the shared
// validation engine used to check documents against it.
type Registry struct {
	mu      sync.RWMutex
	schemas map[string]*entry
	engine  *Engine
}

// NewRegistry creates an empty schema registry with the given validation
// options applied to every lookup.
func NewRegistry(opts Options) *Registry {
	return &Registry{
		schemas: make(map[string]*entry),
		engine:  NewEngine(opts),
	}
}

// Set installs or replaces the schema for collection, enabling validation.
// If an entry already exists its created_at is preserved.
func (r *Registry) Set(collection string, def *Definition) {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	if existing, ok := r.schemas[collection]; ok {
		existing.def = def
		existing.updatedAt = now
		return
	}
	r.schemas[collection] = &entry{def: def, enabled: true, createdAt: now, updatedAt: now}
}

// Get returns the schema for collection, if one was set.
func (r *Registry) Get(collection string) (*Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.schemas[collection]
	if !ok {
		return nil, false
	}
	return e.def, true
}

// Remove drops the schema for collection.
func (r *Registry) Remove(collection string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.schemas, collection)
}

// Collections lists every collection with a registered schema.
func (r *Registry) Collections() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.schemas))
	for name := range r.schemas {
		names = append(names, name)
	}
	return names
}

// SetValidationEnabled toggles whether documents written to collection are
// checked against its schema, without discarding the schema itself. It
// fails if collection has no registered schema.
func (r *Registry) SetValidationEnabled(collection string, enabled bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.schemas[collection]
	if !ok {
		return ErrSchemaNotFound
	}
	e.enabled = enabled
	e.updatedAt = time.Now().UTC()
	return nil
}

// IsValidationEnabled reports whether collection currently enforces its
// schema. A collection with no schema is reported disabled.
func (r *Registry) IsValidationEnabled(collection string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.schemas[collection]
	return ok && e.enabled
}

// Validate checks doc against collection's registered schema. A collection
// with no registered schema, or with validation disabled, always validates
// successfully (schemas are opt-in per the store's document model).
func (r *Registry) Validate(collection string, doc map[string]interface{}) error {
	r.mu.RLock()
	e, ok := r.schemas[collection]
	r.mu.RUnlock()
	if !ok || !e.enabled {
		return nil
	}
	errs := r.engine.Validate(e.def, doc)
	if len(errs) == 0 {
		return nil
	}
	return &util.SchemaValidationError{Path: collection, Message: "document failed schema validation", Errors: errs}
}

// Stats summarizes every schema currently registered: how many
// collections carry one, how many have validation enabled versus
// disabled, and the oldest/newest schema creation timestamps.
func (r *Registry) Stats() RegistryStats {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := RegistryStats{TotalCollections: len(r.schemas)}
	var oldest, newest *entry
	for _, e := range r.schemas {
		if e.enabled {
			stats.EnabledCollections++
		} else {
			stats.DisabledCollections++
		}
		if oldest == nil || e.createdAt.Before(oldest.createdAt) {
			oldest = e
		}
		if newest == nil || e.createdAt.After(newest.createdAt) {
			newest = e
		}
	}
	if oldest != nil {
		t := oldest.createdAt
		stats.OldestSchemaDate = &t
	}
	if newest != nil {
		t := newest.createdAt
		stats.NewestSchemaDate = &t
	}
	return stats
}
