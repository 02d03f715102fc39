package engine

import (
	"context"
	"fmt"
	"strings"

	"syrup-backend/internal/metadata"
	"syrup-backend/internal/store"
)

// Embedder attaches related rows to query results. Each include costs one
// extra query per batch regardless of the number of parent rows.
type Embedder struct {
	registry *metadata.Registry
	dialect  store.Dialect
}

func NewEmbedder(reg *metadata.Registry, dialect store.Dialect) *Embedder {
	return &Embedder{registry: reg, dialect: dialect}
}

// Embed resolves each requested include against the record batch in place.
func (e *Embedder) Embed(ctx context.Context, q store.Querier, entity *metadata.Entity, records []map[string]any, includes []string) error {
	if len(records) == 0 || len(includes) == 0 {
		return nil
	}
	mtm := e.registry.ManyToManyFields(entity.Name)
	for _, name := range includes {
		if rel, ok := mtm[name]; ok {
			if err := e.embedManyToMany(ctx, q, entity, records, rel); err != nil {
				return err
			}
			continue
		}
		f := entity.GetField(name)
		if f == nil || !f.IsForeignKey() {
			return fmt.Errorf("include %s does not name a relation on %s", name, entity.Name)
		}
		if err := e.embedForeignKey(ctx, q, entity, records, f); err != nil {
			return err
		}
	}
	return nil
}

func (e *Embedder) embedForeignKey(ctx context.Context, q store.Querier, entity *metadata.Entity, records []map[string]any, f *metadata.Field) error {
	target := e.registry.GetEntity(f.References)
	if target == nil {
		return fmt.Errorf("field %s.%s references unknown entity %s", entity.Name, f.Name, f.References)
	}

	ids := collectValues(records, f.Name)
	if len(ids) == 0 {
		return nil
	}

	pb := e.dialect.NewParamBuilder()
	cond := e.dialect.InExpr(target.PrimaryKey.Field, pb, ids)
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(target.FieldNames(), ", "), target.Table, cond)
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("embed %s on %s: %w", f.Name, entity.Name, err)
	}
	e.normalize(target, rows)

	byID := make(map[string]map[string]any, len(rows))
	for _, r := range rows {
		byID[metadata.Stringify(r[target.PrimaryKey.Field])] = r
	}
	key := f.Name + "_detail"
	for _, rec := range records {
		if v := rec[f.Name]; v != nil {
			rec[key] = byID[metadata.Stringify(v)]
		}
	}
	return nil
}

func (e *Embedder) embedManyToMany(ctx context.Context, q store.Querier, entity *metadata.Entity, records []map[string]any, rel *metadata.Relation) error {
	target := e.registry.GetEntity(rel.Target)
	if target == nil {
		return fmt.Errorf("relation %s targets unknown entity %s", rel.Name, rel.Target)
	}

	ids := collectValues(records, entity.PrimaryKey.Field)
	if len(ids) == 0 {
		return nil
	}

	cols := make([]string, len(target.Fields))
	for i, f := range target.Fields {
		cols[i] = "t." + f.Name
	}
	pb := e.dialect.NewParamBuilder()
	cond := e.dialect.InExpr("j."+rel.SourceJoinKey, pb, ids)
	sqlStr := fmt.Sprintf(
		"SELECT j.%s AS _source_id, %s FROM %s j JOIN %s t ON t.%s = j.%s WHERE %s",
		rel.SourceJoinKey, strings.Join(cols, ", "), rel.JoinTable,
		target.Table, target.PrimaryKey.Field, rel.TargetJoinKey, cond)
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("embed %s on %s: %w", rel.FieldName(), entity.Name, err)
	}
	e.normalize(target, rows)

	grouped := make(map[string][]map[string]any)
	for _, r := range rows {
		src := metadata.Stringify(r["_source_id"])
		delete(r, "_source_id")
		grouped[src] = append(grouped[src], r)
	}

	key := rel.FieldName()
	for _, rec := range records {
		id := metadata.Stringify(rec[entity.PrimaryKey.Field])
		related := grouped[id]
		if related == nil {
			related = []map[string]any{}
		}
		rec[key] = related
	}
	return nil
}

func (e *Embedder) normalize(target *metadata.Entity, rows []map[string]any) {
	if e.dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, target.BoolFieldNames())
	}
	store.NormalizeTimestamps(rows, target.TimestampFieldNames())
}

func collectValues(records []map[string]any, field string) []any {
	seen := make(map[string]bool)
	var vals []any
	for _, r := range records {
		v := r[field]
		if v == nil {
			continue
		}
		k := metadata.Stringify(v)
		if seen[k] {
			continue
		}
		seen[k] = true
		vals = append(vals, v)
	}
	return vals
}
