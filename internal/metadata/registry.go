package metadata

import (
	"fmt"
	"sort"
	"sync"
)

// Registry holds every registered entity, relation and app group. It is
// populated once at startup and read-only afterwards; the lock exists only to
// make Load safe if a future reload path appears.
type Registry struct {
	mu                sync.RWMutex
	entities          map[string]*Entity
	entityOrder       []string
	apps              map[string]*AppConfig
	relationsBySource map[string][]*Relation
	relationsByName   map[string]*Relation
}

func NewRegistry() *Registry {
	return &Registry{
		entities:          make(map[string]*Entity),
		apps:              make(map[string]*AppConfig),
		relationsBySource: make(map[string][]*Relation),
		relationsByName:   make(map[string]*Relation),
	}
}

// GetEntity returns the entity with the given name, or nil.
func (r *Registry) GetEntity(name string) *Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.entities[name]
}

// AllEntities returns all registered entities in registration order.
func (r *Registry) AllEntities() []*Entity {
	r.mu.RLock()
	defer r.mu.RUnlock()
	entities := make([]*Entity, 0, len(r.entityOrder))
	for _, name := range r.entityOrder {
		entities = append(entities, r.entities[name])
	}
	return entities
}

// Apps returns the registered app groups.
func (r *Registry) Apps() map[string]*AppConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.apps
}

// AppNames returns registered app names, sorted for stable catalog output.
func (r *Registry) AppNames() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.apps))
	for name := range r.apps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetRelation returns a relation by name, or nil.
func (r *Registry) GetRelation(name string) *Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsByName[name]
}

// GetRelationsForSource returns all relations where source matches the given entity.
func (r *Registry) GetRelationsForSource(entityName string) []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.relationsBySource[entityName]
}

// ManyToManyFields maps payload field name to relation for every
// many-to-many relation declared on the given source entity.
func (r *Registry) ManyToManyFields(entityName string) map[string]*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fields := make(map[string]*Relation)
	for _, rel := range r.relationsBySource[entityName] {
		if rel.IsManyToMany() {
			fields[rel.FieldName()] = rel
		}
	}
	return fields
}

// AllRelations returns all registered relations.
func (r *Registry) AllRelations() []*Relation {
	r.mu.RLock()
	defer r.mu.RUnlock()
	relations := make([]*Relation, 0, len(r.relationsByName))
	for _, rel := range r.relationsByName {
		relations = append(relations, rel)
	}
	return relations
}

// Load replaces the registry contents. It enforces the schema invariants:
// field names are unique within an entity, and every relation endpoint and
// foreign-key target names a registered entity.
func (r *Registry) Load(entities []*Entity, relations []*Relation, apps map[string]*AppConfig) error {
	byName := make(map[string]*Entity, len(entities))
	var order []string
	for _, e := range entities {
		if _, dup := byName[e.Name]; dup {
			return fmt.Errorf("duplicate entity: %s", e.Name)
		}
		seen := make(map[string]bool, len(e.Fields))
		for _, f := range e.Fields {
			if seen[f.Name] {
				return fmt.Errorf("entity %s: duplicate field %s", e.Name, f.Name)
			}
			seen[f.Name] = true
		}
		byName[e.Name] = e
		order = append(order, e.Name)
	}

	for _, e := range entities {
		for _, f := range e.ForeignKeyFields() {
			if f.References == "" {
				return fmt.Errorf("entity %s: foreign key %s has no target", e.Name, f.Name)
			}
			if f.Name == "author" {
				continue // author resolves against the identity store, not an entity
			}
			if _, ok := byName[f.References]; !ok {
				return fmt.Errorf("entity %s: foreign key %s references unknown entity %s", e.Name, f.Name, f.References)
			}
		}
	}

	bySource := make(map[string][]*Relation)
	relByName := make(map[string]*Relation, len(relations))
	for _, rel := range relations {
		if _, ok := byName[rel.Source]; !ok {
			return fmt.Errorf("relation %s: unknown source entity %s", rel.Name, rel.Source)
		}
		if _, ok := byName[rel.Target]; !ok {
			return fmt.Errorf("relation %s: unknown target entity %s", rel.Name, rel.Target)
		}
		relByName[rel.Name] = rel
		bySource[rel.Source] = append(bySource[rel.Source], rel)
	}

	if apps == nil {
		apps = make(map[string]*AppConfig)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.entities = byName
	r.entityOrder = order
	r.relationsBySource = bySource
	r.relationsByName = relByName
	r.apps = apps
	return nil
}
