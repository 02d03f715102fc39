package metadata

import "fmt"

type Entity struct {
	Name              string        `json:"name"`
	App               string        `json:"app"`
	Table             string        `json:"table"`
	VerboseName       string        `json:"verbose_name"`
	VerboseNamePlural string        `json:"verbose_name_plural"`
	PrimaryKey        PrimaryKey    `json:"primary_key"`
	SoftDelete        bool          `json:"soft_delete"`
	ReprField         string        `json:"repr_field,omitempty"`
	Fields            []Field       `json:"fields"`
	FieldKeys         []string      `json:"field_keys,omitempty"`
	SearchKeys        []string      `json:"search_keys,omitempty"`
	Rules             []Rule        `json:"rules,omitempty"`
	Presentation      *Presentation `json:"presentation,omitempty"`
}

type PrimaryKey struct {
	Field     string `json:"field"`
	Type      string `json:"type"` // int, bigint, uuid, string
	Generated bool   `json:"generated"`
}

// GetField returns a pointer to the field with the given name, or nil.
func (e *Entity) GetField(name string) *Field {
	for i := range e.Fields {
		if e.Fields[i].Name == name {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasField returns true if the entity has a field with the given name.
func (e *Entity) HasField(name string) bool {
	return e.GetField(name) != nil
}

// FieldNames returns all field names in declaration order.
func (e *Entity) FieldNames() []string {
	names := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		names[i] = f.Name
	}
	return names
}

// ForeignKeyFields returns the fields requiring single-reference resolution,
// in declaration order.
func (e *Entity) ForeignKeyFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.IsForeignKey() {
			fields = append(fields, f)
		}
	}
	return fields
}

// ImageField returns the entity's image-bearing field, or nil. Entities carry
// at most one image field.
func (e *Entity) ImageField() *Field {
	for i := range e.Fields {
		if e.Fields[i].Type == "image" {
			return &e.Fields[i]
		}
	}
	return nil
}

// HasAuthorField reports whether an "author" column must be populated from
// the acting identity on writes.
func (e *Entity) HasAuthorField() bool {
	return e.HasField("author")
}

// TimestampFieldNames returns the names of all timestamp and date fields.
// SQLite hands these back as text; responses re-parse only these columns.
func (e *Entity) TimestampFieldNames() []string {
	var names []string
	for _, f := range e.Fields {
		if f.Type == "timestamp" || f.Type == "date" {
			names = append(names, f.Name)
		}
	}
	return names
}

// BoolFieldNames returns the names of all boolean fields. Used to normalize
// SQLite integer booleans in responses.
func (e *Entity) BoolFieldNames() []string {
	var names []string
	for _, f := range e.Fields {
		if f.Type == "boolean" {
			names = append(names, f.Name)
		}
	}
	return names
}

// WritableFields returns fields that can be set by the client.
// Excludes auto-generated PKs and auto-timestamp fields.
func (e *Entity) WritableFields() []Field {
	var fields []Field
	for _, f := range e.Fields {
		if f.Name == e.PrimaryKey.Field && e.PrimaryKey.Generated {
			continue
		}
		if f.IsAuto() {
			continue
		}
		fields = append(fields, f)
	}
	return fields
}

// Repr builds the string representation of a record, used for audit entries.
// Falls back to "<verbose name> <pk>" when no repr field is configured.
func (e *Entity) Repr(record map[string]any) string {
	if e.ReprField != "" {
		if v, ok := record[e.ReprField]; ok && v != nil {
			if s, ok := v.(string); ok && s != "" {
				return s
			}
		}
	}
	name := e.VerboseName
	if name == "" {
		name = e.Name
	}
	if pk, ok := record[e.PrimaryKey.Field]; ok && pk != nil {
		return name + " " + Stringify(pk)
	}
	return name
}

// Stringify renders any value the way audit diffs and reprs compare it.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	return fmt.Sprintf("%v", v)
}
