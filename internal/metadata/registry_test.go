package metadata

import (
	"strings"
	"testing"
)

func testEntities() []*Entity {
	return []*Entity{
		{
			Name: "article", Table: "article",
			PrimaryKey: PrimaryKey{Field: "id", Type: "bigint", Generated: true},
			Fields: []Field{
				{Name: "id", Type: "bigint"},
				{Name: "title", Type: "string", Required: true},
				{Name: "tag", Type: "foreign_key", References: "tag"},
				{Name: "author", Type: "foreign_key", References: "users"},
			},
		},
		{
			Name: "tag", Table: "tag",
			PrimaryKey: PrimaryKey{Field: "id", Type: "bigint", Generated: true},
			Fields: []Field{
				{Name: "id", Type: "bigint"},
				{Name: "name", Type: "string", Unique: true},
			},
		},
	}
}

func TestRegistryLoad_ValidSchema(t *testing.T) {
	reg := NewRegistry()
	rels := []*Relation{{
		Name: "article_tags", Kind: "many_to_many",
		Source: "article", Field: "tags", Target: "tag",
		JoinTable: "article_tags", SourceJoinKey: "article_id", TargetJoinKey: "tag_id",
	}}
	if err := reg.Load(testEntities(), rels, nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	if reg.GetEntity("article") == nil {
		t.Fatal("article not registered")
	}
	if reg.GetEntity("nonexistent") != nil {
		t.Fatal("expected nil for unknown entity")
	}

	names := []string{}
	for _, e := range reg.AllEntities() {
		names = append(names, e.Name)
	}
	if len(names) != 2 || names[0] != "article" || names[1] != "tag" {
		t.Fatalf("expected registration order [article tag], got %v", names)
	}

	mtm := reg.ManyToManyFields("article")
	if len(mtm) != 1 || mtm["tags"] == nil {
		t.Fatalf("expected tags relation, got %v", mtm)
	}
	if mtm["tags"].JoinTable != "article_tags" {
		t.Fatalf("wrong join table: %s", mtm["tags"].JoinTable)
	}
	if len(reg.ManyToManyFields("tag")) != 0 {
		t.Fatal("tag should have no m2m fields")
	}
}

func TestRegistryLoad_DuplicateEntity(t *testing.T) {
	reg := NewRegistry()
	entities := testEntities()
	entities = append(entities, &Entity{Name: "article", Table: "article2"})
	err := reg.Load(entities, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "duplicate entity") {
		t.Fatalf("expected duplicate entity error, got %v", err)
	}
}

func TestRegistryLoad_DuplicateField(t *testing.T) {
	reg := NewRegistry()
	err := reg.Load([]*Entity{{
		Name: "note", Table: "note",
		Fields: []Field{{Name: "body"}, {Name: "body"}},
	}}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "duplicate field") {
		t.Fatalf("expected duplicate field error, got %v", err)
	}
}

func TestRegistryLoad_UnknownForeignKeyTarget(t *testing.T) {
	reg := NewRegistry()
	err := reg.Load([]*Entity{{
		Name: "article", Table: "article",
		Fields: []Field{{Name: "category", Type: "foreign_key", References: "category"}},
	}}, nil, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown entity") {
		t.Fatalf("expected unknown target error, got %v", err)
	}
}

// The author column resolves against the identity store, so its target is
// exempt from entity registration.
func TestRegistryLoad_AuthorTargetExempt(t *testing.T) {
	reg := NewRegistry()
	err := reg.Load([]*Entity{{
		Name: "article", Table: "article",
		Fields: []Field{{Name: "author", Type: "foreign_key", References: "users"}},
	}}, nil, nil)
	if err != nil {
		t.Fatalf("author target should not require registration: %v", err)
	}
}

func TestRegistryLoad_UnknownRelationEndpoint(t *testing.T) {
	reg := NewRegistry()
	rels := []*Relation{{
		Name: "article_categories", Source: "article", Target: "category",
	}}
	err := reg.Load(testEntities(), rels, nil)
	if err == nil || !strings.Contains(err.Error(), "unknown target entity") {
		t.Fatalf("expected unknown endpoint error, got %v", err)
	}
}

func TestLoadBytes_DefaultsRelationKind(t *testing.T) {
	reg := NewRegistry()
	raw := []byte(`{
		"entities": [
			{"name": "a", "table": "a", "primary_key": {"field": "id"}, "fields": [{"name": "id", "type": "bigint"}]},
			{"name": "b", "table": "b", "primary_key": {"field": "id"}, "fields": [{"name": "id", "type": "bigint"}]}
		],
		"relations": [
			{"name": "a_b", "source": "a", "field": "bs", "target": "b", "join_table": "a_b", "source_join_key": "a_id", "target_join_key": "b_id"}
		]
	}`)
	if err := LoadBytes(raw, reg); err != nil {
		t.Fatalf("load: %v", err)
	}
	rel := reg.GetRelation("a_b")
	if rel == nil || !rel.IsManyToMany() {
		t.Fatalf("relation kind should default to many_to_many, got %+v", rel)
	}
}

func TestEntityRepr(t *testing.T) {
	e := &Entity{
		Name:       "article",
		ReprField:  "title",
		PrimaryKey: PrimaryKey{Field: "id"},
		Fields:     []Field{{Name: "id"}, {Name: "title"}},
	}
	got := e.Repr(map[string]any{"id": int64(3), "title": "Hello"})
	if got != "Hello" {
		t.Fatalf("expected repr from title, got %q", got)
	}
	e.ReprField = ""
	got = e.Repr(map[string]any{"id": int64(3), "title": "Hello"})
	if got != "article 3" {
		t.Fatalf("expected fallback repr, got %q", got)
	}
}
