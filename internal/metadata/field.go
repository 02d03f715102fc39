package metadata

type Field struct {
	Name       string   `json:"name"`
	Type       string   `json:"type"`
	Verbose    string   `json:"verbose,omitempty"`
	Required   bool     `json:"required,omitempty"`
	Unique     bool     `json:"unique,omitempty"`
	Default    any      `json:"default,omitempty"`
	Nullable   bool     `json:"nullable,omitempty"`
	Enum       []string `json:"enum,omitempty"`
	References string   `json:"references,omitempty"` // target entity for foreign_key fields
	Auto       string   `json:"auto,omitempty"`       // "create" or "update"
}

// IsForeignKey returns true if the field holds a single reference to another
// registered entity.
func (f Field) IsForeignKey() bool {
	return f.Type == "foreign_key"
}

// IsAuto returns true if the field is auto-managed by the engine.
func (f Field) IsAuto() bool {
	return f.Auto == "create" || f.Auto == "update"
}

// VerboseName returns the human-readable field label, defaulting to the
// column name.
func (f Field) VerboseName() string {
	if f.Verbose != "" {
		return f.Verbose
	}
	return f.Name
}

// TypeName returns the serializer-style type name exposed by the metadata
// catalog. The names match what the form-builder frontend already consumes.
func (f Field) TypeName() string {
	switch f.Type {
	case "string":
		return "CharField"
	case "text":
		return "TextField"
	case "int", "bigint":
		return "IntegerField"
	case "decimal":
		return "DecimalField"
	case "boolean":
		return "BooleanField"
	case "timestamp":
		return "DateTimeField"
	case "date":
		return "DateField"
	case "json":
		return "JSONField"
	case "image":
		return "ImageField"
	case "foreign_key":
		return "PrimaryKeyRelatedField"
	default:
		return "CharField"
	}
}
