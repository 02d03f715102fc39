package engine

import (
	"context"
	"fmt"
	"strings"

	"syrup-backend/internal/metadata"
	"syrup-backend/internal/store"
)

// FieldChange captures a single field transition in an audit entry.
type FieldChange struct {
	Field string `json:"field"`
	Old   any    `json:"old"`
	New   any    `json:"new"`
}

// Diff compares two row snapshots and returns the fields whose values
// changed, in field declaration order. Only scalar columns participate;
// association tables are audited through their owning row.
func Diff(entity *metadata.Entity, before, after map[string]any) []FieldChange {
	var changes []FieldChange
	for _, f := range entity.Fields {
		if f.Name == entity.PrimaryKey.Field {
			continue
		}
		oldVal, hadOld := before[f.Name]
		newVal, hadNew := after[f.Name]
		if !hadOld && !hadNew {
			continue
		}
		if metadata.Stringify(oldVal) == metadata.Stringify(newVal) {
			continue
		}
		changes = append(changes, FieldChange{Field: f.Name, Old: oldVal, New: newVal})
	}
	return changes
}

// RenderChanges flattens a diff into the textual form persisted alongside
// the structured record: "field: old -> new" entries joined with ", ".
func RenderChanges(changes []FieldChange) string {
	parts := make([]string, len(changes))
	for i, ch := range changes {
		parts[i] = fmt.Sprintf("%s: %s -> %s", ch.Field, metadata.Stringify(ch.Old), metadata.Stringify(ch.New))
	}
	return strings.Join(parts, ", ")
}

// Auditor writes change records. Writes run on the caller's transaction so
// a failed audit insert rolls the mutation back with it.
type Auditor struct {
	dialect store.Dialect
}

func NewAuditor(dialect store.Dialect) *Auditor {
	return &Auditor{dialect: dialect}
}

func (a *Auditor) Record(ctx context.Context, q store.Querier, entity *metadata.Entity, record map[string]any, action string, actor *metadata.ActorContext, changes []FieldChange) error {
	pb := a.dialect.NewParamBuilder()

	recordID := metadata.Stringify(record[entity.PrimaryKey.Field])
	actorID := ""
	if actor != nil {
		actorID = actor.ID
	}

	sqlStr := fmt.Sprintf(
		"INSERT INTO _audit_log (entity, record_id, record_repr, action, actor, changes) VALUES (%s, %s, %s, %s, %s, %s)",
		pb.Add(entity.Name), pb.Add(recordID), pb.Add(entity.Repr(record)),
		pb.Add(action), pb.Add(actorID), pb.Add(RenderChanges(changes)))

	_, err := q.ExecContext(ctx, sqlStr, pb.Params()...)
	if err != nil {
		return fmt.Errorf("audit %s on %s/%s: %w", action, entity.Name, recordID, err)
	}
	return nil
}

// History returns the audit trail for one record, newest first.
func (a *Auditor) History(ctx context.Context, q store.Querier, entity *metadata.Entity, id any) ([]map[string]any, error) {
	pb := a.dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf(
		"SELECT id, entity, record_id, record_repr, action, actor, changes, created_at FROM _audit_log WHERE entity = %s AND record_id = %s ORDER BY id DESC",
		pb.Add(entity.Name), pb.Add(metadata.Stringify(id)))
	rows, err := store.QueryRows(ctx, q, sqlStr, pb.Params()...)
	if err != nil {
		return nil, err
	}
	store.NormalizeTimestamps(rows, []string{"created_at"})
	return rows, nil
}
