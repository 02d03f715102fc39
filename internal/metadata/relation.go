package metadata

// Relation describes a many-to-many link between two entities, stored in a
// join table. Foreign keys live on the entity's own field list; only
// multi-reference relations need a separate declaration.
type Relation struct {
	Name          string `json:"name"`
	Kind          string `json:"kind"` // many_to_many
	Source        string `json:"source"`
	Field         string `json:"field"` // payload field name on the source entity
	Target        string `json:"target"`
	JoinTable     string `json:"join_table"`
	SourceJoinKey string `json:"source_join_key"`
	TargetJoinKey string `json:"target_join_key"`
}

// IsManyToMany returns true for many_to_many relations. Kept as a method so
// additional kinds can be introduced without touching call sites.
func (r *Relation) IsManyToMany() bool {
	return r.Kind == "many_to_many" || r.Kind == ""
}

// FieldName returns the payload field name the relation is written through,
// defaulting to the relation name.
func (r *Relation) FieldName() string {
	if r.Field != "" {
		return r.Field
	}
	return r.Name
}
