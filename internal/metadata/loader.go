package metadata

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
)

// SchemaFile is the on-disk shape of the schema declarations. Loaded once at
// process start; the registry never mutates afterwards.
type SchemaFile struct {
	Apps      map[string]*AppConfig `json:"apps"`
	Entities  []*Entity             `json:"entities"`
	Relations []*Relation           `json:"relations"`
}

// LoadFile reads entity/relation/app declarations from a JSON file and
// populates the registry. Schema errors are fatal: a registry that fails its
// invariants must never serve requests.
func LoadFile(path string, reg *Registry) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read schema file: %w", err)
	}
	return LoadBytes(raw, reg)
}

// LoadBytes populates the registry from raw JSON schema declarations.
func LoadBytes(raw []byte, reg *Registry) error {
	var file SchemaFile
	if err := json.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse schema file: %w", err)
	}

	for _, rel := range file.Relations {
		if rel.Kind == "" {
			rel.Kind = "many_to_many"
		}
	}

	if err := reg.Load(file.Entities, file.Relations, file.Apps); err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	log.Printf("Loaded %d entities, %d relations, %d apps into registry",
		len(file.Entities), len(file.Relations), len(file.Apps))
	return nil
}
