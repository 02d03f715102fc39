package engine

import (
	"testing"

	"syrup-backend/internal/metadata"
)

func auditEntity() *metadata.Entity {
	return &metadata.Entity{
		Name: "service", VerboseName: "Service",
		PrimaryKey: metadata.PrimaryKey{Field: "id"},
		Fields: []metadata.Field{
			{Name: "id", Type: "bigint"},
			{Name: "title", Type: "string"},
			{Name: "price", Type: "decimal"},
			{Name: "icon", Type: "string"},
		},
	}
}

func TestDiff_FollowsFieldOrder(t *testing.T) {
	before := map[string]any{"id": int64(1), "title": "Old", "price": 10.0, "icon": "a"}
	after := map[string]any{"id": int64(1), "title": "New", "price": 10.0, "icon": "b"}

	changes := Diff(auditEntity(), before, after)
	if len(changes) != 2 {
		t.Fatalf("expected 2 changes, got %d: %+v", len(changes), changes)
	}
	if changes[0].Field != "title" || changes[1].Field != "icon" {
		t.Fatalf("changes out of declaration order: %+v", changes)
	}
}

func TestDiff_IgnoresPrimaryKey(t *testing.T) {
	before := map[string]any{"id": int64(1)}
	after := map[string]any{"id": int64(2)}
	if changes := Diff(auditEntity(), before, after); len(changes) != 0 {
		t.Fatalf("primary key must not appear in diff: %+v", changes)
	}
}

func TestDiff_EquivalentValuesAcrossTypes(t *testing.T) {
	// A numeric read back from the driver can change Go type without the
	// stored value changing.
	before := map[string]any{"price": int64(10)}
	after := map[string]any{"price": "10"}
	if changes := Diff(auditEntity(), before, after); len(changes) != 0 {
		t.Fatalf("same rendered value must not diff: %+v", changes)
	}
}

func TestRenderChanges(t *testing.T) {
	changes := []FieldChange{
		{Field: "title", Old: "Old", New: "New"},
		{Field: "price", Old: 10.0, New: 12.5},
	}
	got := RenderChanges(changes)
	want := "title: Old -> New, price: 10 -> 12.5"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestRenderChanges_Empty(t *testing.T) {
	if got := RenderChanges(nil); got != "" {
		t.Fatalf("expected empty render, got %q", got)
	}
}
