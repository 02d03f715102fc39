package metadata

// Presentation carries the declarative, frontend-facing attributes of an
// entity. The engine treats it as opaque; the metadata catalog passes it
// through verbatim. Absent attributes serialize as null rather than being
// omitted, matching what the form-builder expects.
type Presentation struct {
	AutoFormLabel     string            `json:"autoform_label,omitempty"`
	LongDescription   string            `json:"long_description,omitempty"`
	ShortDescription  string            `json:"short_description,omitempty"`
	PagesAssociated   map[string]string `json:"pages_associated,omitempty"`
	IncludePreview    bool              `json:"include_preview,omitempty"`
	Icon              string            `json:"icon,omitempty"`
	IconClass         *string           `json:"icon_class,omitempty"`
	Slug              string            `json:"slug,omitempty"`
	Tags              []string          `json:"tags,omitempty"`
	RelatedComponents []string          `json:"related_components,omitempty"`
	Visibility        bool              `json:"visibility,omitempty"`
	AccessLevel       string            `json:"access_level,omitempty"`
	InfoDump          map[string]any    `json:"info_dump,omitempty"`
	FilterOptions     []string          `json:"filter_options,omitempty"`
}

// AppConfig describes one registered app group for the metadata catalog.
type AppConfig struct {
	Icon       string            `json:"icon,omitempty"`
	Links      map[string]string `json:"links,omitempty"`
	Visibility *bool             `json:"visibility,omitempty"`
}
