package engine

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"syrup-backend/internal/metadata"
	"syrup-backend/internal/store"
)

var mtmKeyPattern = regexp.MustCompile(`^([A-Za-z0-9_]+)\[(\d+)\]\[id\]$`)
var numericPattern = regexp.MustCompile(`^\d+$`)

// Resolver normalizes relation values in a raw payload against the schema:
// foreign keys by numeric id, the tag field by get-or-create on name, the
// author field from the acting identity, and bracket-notation many-to-many
// keys into per-field reference lists. All lookups run on the caller's
// transaction so no partial relation state can outlive a failed request.
type Resolver struct {
	registry *metadata.Registry
	dialect  store.Dialect
}

func NewResolver(reg *metadata.Registry, dialect store.Dialect) *Resolver {
	return &Resolver{registry: reg, dialect: dialect}
}

// Resolved carries the outcome of payload resolution. ManyToMany holds, per
// payload field name, the target ids to apply post-save; the matched bracket
// keys have been removed from the payload by the time Resolve returns.
type Resolved struct {
	ManyToMany map[string][]any
}

// Resolve rewrites payload relation values in place. The pre-image stays
// untouched so the audit diff can still see the replaced references.
func (r *Resolver) Resolve(ctx context.Context, q store.Querier, entity *metadata.Entity, payload map[string]any, actor *metadata.ActorContext) (*Resolved, error) {
	res := &Resolved{ManyToMany: make(map[string][]any)}

	for _, f := range entity.ForeignKeyFields() {
		if f.Name == "author" {
			continue // handled below from the acting identity
		}
		raw, ok := payload[f.Name]
		if !ok || raw == nil {
			continue
		}
		id, err := r.resolveForeignKey(ctx, q, f, raw)
		if err != nil {
			return nil, err
		}
		payload[f.Name] = id
	}

	if err := r.extractManyToMany(ctx, q, entity, payload, res); err != nil {
		return nil, err
	}

	if entity.HasAuthorField() {
		if err := r.resolveAuthor(ctx, q, payload, actor); err != nil {
			return nil, err
		}
	}

	return res, nil
}

// resolveForeignKey turns a raw payload value into the target's primary key.
// A numeric value must name an existing row. The tag field accepts a name
// and gets-or-creates it; any other non-numeric value is rejected.
func (r *Resolver) resolveForeignKey(ctx context.Context, q store.Querier, f metadata.Field, raw any) (any, error) {
	target := r.registry.GetEntity(f.References)
	if target == nil {
		return nil, fmt.Errorf("foreign key %s references unregistered entity %s", f.Name, f.References)
	}

	if isNumeric(raw) {
		return r.lookupByID(ctx, q, target, raw)
	}

	if f.Name == "tag" {
		name, _ := raw.(string)
		return r.getOrCreateByName(ctx, q, target, name)
	}

	return nil, ValidationError([]ErrorDetail{{
		Field:   f.Name,
		Rule:    "reference",
		Message: fmt.Sprintf("Expected a numeric %s id, got %v", f.References, raw),
	}})
}

func (r *Resolver) lookupByID(ctx context.Context, q store.Querier, target *metadata.Entity, id any) (any, error) {
	pb := r.dialect.NewParamBuilder()
	pk := target.PrimaryKey.Field
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", pk, target.Table, pk, pb.Add(id))
	if target.SoftDelete {
		sqlStr += " AND deleted_at IS NULL"
	}
	row, err := store.QueryRow(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		if err == store.ErrNotFound {
			return nil, NotFoundError(target.VerboseName, id)
		}
		return nil, fmt.Errorf("resolve %s reference: %w", target.Name, err)
	}
	return row[pk], nil
}

func (r *Resolver) getOrCreateByName(ctx context.Context, q store.Querier, target *metadata.Entity, name string) (any, error) {
	pk := target.PrimaryKey.Field
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE name = %s", pk, target.Table, pb.Add(name))
	row, err := store.QueryRow(ctx, q, sqlStr, pb.Params()...)
	if err == nil {
		return row[pk], nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("lookup %s by name: %w", target.Name, err)
	}

	pb = r.dialect.NewParamBuilder()
	insSQL := fmt.Sprintf("INSERT INTO %s (name) VALUES (%s) RETURNING %s", target.Table, pb.Add(name), pk)
	row, err = store.QueryRow(ctx, q, insSQL, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("create %s %q: %w", target.Name, name, err)
	}
	return row[pk], nil
}

// getOrCreateByID ensures a row with the given id exists, inserting a bare
// one when missing. Used for many-to-many references arriving by id.
func (r *Resolver) getOrCreateByID(ctx context.Context, q store.Querier, target *metadata.Entity, id any) (any, error) {
	pk := target.PrimaryKey.Field
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s", pk, target.Table, pk, pb.Add(id))
	row, err := store.QueryRow(ctx, q, sqlStr, pb.Params()...)
	if err == nil {
		return row[pk], nil
	}
	if err != store.ErrNotFound {
		return nil, fmt.Errorf("lookup %s by id: %w", target.Name, err)
	}

	pb = r.dialect.NewParamBuilder()
	insSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s", target.Table, pk, pb.Add(id), pk)
	row, err = store.QueryRow(ctx, q, insSQL, pb.Params()...)
	if err != nil {
		return nil, fmt.Errorf("create %s with id %v: %w", target.Name, id, err)
	}
	return row[pk], nil
}

// extractManyToMany pulls bracket-notation keys out of the payload. Only
// keys shaped exactly like name[<digit>][id] contribute a reference; every
// key whose base name is a many-to-many field is removed either way, since
// relation values are applied post-save rather than as columns.
func (r *Resolver) extractManyToMany(ctx context.Context, q store.Querier, entity *metadata.Entity, payload map[string]any, res *Resolved) error {
	mtmFields := r.registry.ManyToManyFields(entity.Name)
	if len(mtmFields) == 0 {
		return nil
	}

	var popKeys []string
	for key, value := range payload {
		base := key
		if i := strings.IndexByte(key, '['); i >= 0 {
			base = key[:i]
		}
		rel, ok := mtmFields[base]
		if !ok {
			continue
		}

		if m := mtmKeyPattern.FindStringSubmatch(key); m != nil && m[1] == base {
			target := r.registry.GetEntity(rel.Target)
			if target == nil {
				return fmt.Errorf("relation %s targets unregistered entity %s", rel.Name, rel.Target)
			}
			id, err := r.getOrCreateByID(ctx, q, target, value)
			if err != nil {
				return err
			}
			res.ManyToMany[base] = append(res.ManyToMany[base], id)
		}
		popKeys = append(popKeys, key)
	}

	for _, key := range popKeys {
		delete(payload, key)
	}
	return nil
}

// resolveAuthor stamps the payload's author with the acting identity's id,
// verifying the identity exists in the store.
func (r *Resolver) resolveAuthor(ctx context.Context, q store.Querier, payload map[string]any, actor *metadata.ActorContext) error {
	if actor == nil || actor.ID == "" {
		return NotFoundError("User", "")
	}
	pb := r.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT id FROM _users WHERE id = %s", pb.Add(actor.ID))
	row, err := store.QueryRow(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		if err == store.ErrNotFound {
			return NotFoundError("User", actor.ID)
		}
		return fmt.Errorf("resolve author: %w", err)
	}
	payload["author"] = row["id"]
	return nil
}

// ApplyManyToMany replaces each resolved field's join rows for the given
// record, inside the caller's transaction.
func (r *Resolver) ApplyManyToMany(ctx context.Context, q store.Querier, entity *metadata.Entity, recordID any, res *Resolved) error {
	if res == nil || len(res.ManyToMany) == 0 {
		return nil
	}
	mtmFields := r.registry.ManyToManyFields(entity.Name)

	for field, targetIDs := range res.ManyToMany {
		rel := mtmFields[field]
		if rel == nil {
			continue
		}
		pb := r.dialect.NewParamBuilder()
		delSQL := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", rel.JoinTable, rel.SourceJoinKey, pb.Add(recordID))
		if _, err := store.Exec(ctx, q, delSQL, pb.Params()...); err != nil {
			return fmt.Errorf("clear join rows in %s: %w", rel.JoinTable, err)
		}
		for _, targetID := range targetIDs {
			pb := r.dialect.NewParamBuilder()
			insSQL := fmt.Sprintf("INSERT INTO %s (%s, %s) VALUES (%s, %s)",
				rel.JoinTable, rel.SourceJoinKey, rel.TargetJoinKey, pb.Add(recordID), pb.Add(targetID))
			if _, err := store.Exec(ctx, q, insSQL, pb.Params()...); err != nil {
				return fmt.Errorf("insert join row in %s: %w", rel.JoinTable, err)
			}
		}
	}
	return nil
}

// isNumeric reports whether the value is an integer or a digits-only string.
func isNumeric(v any) bool {
	switch val := v.(type) {
	case int, int32, int64, uint, uint32, uint64:
		return true
	case float64:
		return val == float64(int64(val))
	case string:
		return numericPattern.MatchString(val)
	default:
		return false
	}
}
