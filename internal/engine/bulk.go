package engine

import (
	"context"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"syrup-backend/internal/metadata"
	"syrup-backend/internal/store"
)

type bulkRequest struct {
	IDs   []any `json:"ids"`
	Field any   `json:"field"`
	Value any   `json:"value"`
}

// BulkDelete removes every matched record in one statement. Image files
// for the matched rows are deleted first. Inbox-style entities answer with
// the remaining unread count instead of a bare status.
func (h *Handler) BulkDelete(c *fiber.Ctx) error {
	entity, err := h.entityFromParams(c)
	if err != nil {
		return err
	}
	req, err := parseBulkRequest(c)
	if err != nil {
		return err
	}
	if len(req.IDs) == 0 {
		return NewAppError("INVALID_PAYLOAD", 400, "Field ids must be a non-empty array")
	}

	if entity.ImageField() != nil {
		rows, err := h.fetchByIDs(c.Context(), entity, req.IDs)
		if err != nil {
			return err
		}
		for _, row := range rows {
			h.images.Remove(c.Context(), entity, row)
		}
	}

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pb := h.store.Dialect.NewParamBuilder()
	cond := h.store.Dialect.InExpr(entity.PrimaryKey.Field, pb, req.IDs)
	var sqlStr string
	if entity.SoftDelete {
		sqlStr = fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s AND deleted_at IS NULL",
			entity.Table, h.store.Dialect.NowExpr(), cond)
	} else {
		sqlStr = fmt.Sprintf("DELETE FROM %s WHERE %s", entity.Table, cond)
		for _, rel := range h.registry.GetRelationsForSource(entity.Name) {
			if !rel.IsManyToMany() {
				continue
			}
			jpb := h.store.Dialect.NewParamBuilder()
			jcond := h.store.Dialect.InExpr(rel.SourceJoinKey, jpb, req.IDs)
			jsql := fmt.Sprintf("DELETE FROM %s WHERE %s", rel.JoinTable, jcond)
			if _, err := store.Exec(c.Context(), tx, jsql, jpb.Params()...); err != nil {
				return h.store.MapError(err)
			}
		}
	}
	deleted, err := store.Exec(c.Context(), tx, sqlStr, pb.Params()...)
	if err != nil {
		return h.store.MapError(err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if isInbox(entity) {
		count, err := h.unreadCount(c.Context(), entity)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"count": count})
	}
	if deleted == 0 {
		return NotFoundError(entity.VerboseNamePlural, req.IDs)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// BulkUpdate sets one field across the matched records. Read and archive
// flags on inbox entities move together: archiving marks the records read,
// and un-reading un-archives them. Those paths answer with the remaining
// unread count.
func (h *Handler) BulkUpdate(c *fiber.Ctx) error {
	entity, err := h.entityFromParams(c)
	if err != nil {
		return err
	}
	req, err := parseBulkRequest(c)
	if err != nil {
		return err
	}
	if len(req.IDs) == 0 {
		return NewAppError("INVALID_PAYLOAD", 400, "Field ids must be a non-empty array")
	}
	fieldName := firstScalar(req.Field)
	value := firstScalar(req.Value)
	if fieldName == nil || value == nil {
		return NewAppError("INVALID_PAYLOAD", 400, "Fields field and value are required")
	}

	name := metadata.Stringify(fieldName)
	f := entity.GetField(name)
	if f == nil {
		return ValidationError([]ErrorDetail{{
			Field:   name,
			Rule:    "unknown",
			Message: fmt.Sprintf("Unknown field: %s", name),
		}})
	}
	coerced, err := CoerceValue(f, value)
	if err != nil {
		return ValidationError([]ErrorDetail{{Field: name, Rule: "type", Message: err.Error()}})
	}

	sets := map[string]any{name: coerced}
	if name == "is_archived" && entity.HasField("is_read") {
		sets["is_read"] = true
	}
	if name == "is_read" && coerced == false && entity.HasField("is_archived") {
		sets["is_archived"] = false
	}

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	pb := h.store.Dialect.NewParamBuilder()
	setSQL := ""
	for _, fld := range entity.Fields {
		v, ok := sets[fld.Name]
		if !ok {
			continue
		}
		if setSQL != "" {
			setSQL += ", "
		}
		setSQL += fmt.Sprintf("%s = %s", fld.Name, pb.Add(v))
	}
	cond := h.store.Dialect.InExpr(entity.PrimaryKey.Field, pb, req.IDs)
	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s", entity.Table, setSQL, cond)
	if entity.SoftDelete {
		sqlStr += " AND deleted_at IS NULL"
	}
	updated, err := store.Exec(c.Context(), tx, sqlStr, pb.Params()...)
	if err != nil {
		return h.store.MapError(err)
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	if name == "is_read" && entity.HasField("is_read") {
		count, err := h.unreadCount(c.Context(), entity)
		if err != nil {
			return err
		}
		return c.JSON(fiber.Map{"count": count})
	}
	if updated == 0 {
		return NotFoundError(entity.VerboseNamePlural, req.IDs)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

func parseBulkRequest(c *fiber.Ctx) (*bulkRequest, error) {
	var req bulkRequest
	if err := c.BodyParser(&req); err != nil {
		return nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
	}
	return &req, nil
}

// firstScalar unwraps single-element arrays; clients send field and value
// both bare and wrapped.
func firstScalar(v any) any {
	if arr, ok := v.([]any); ok {
		if len(arr) == 0 {
			return nil
		}
		return arr[0]
	}
	return v
}

func isInbox(entity *metadata.Entity) bool {
	return entity.HasField("is_read")
}

func (h *Handler) unreadCount(ctx context.Context, entity *metadata.Entity) (int64, error) {
	cond := "is_read = " + h.boolLiteral(false)
	if entity.SoftDelete {
		cond += " AND deleted_at IS NULL"
	}
	return store.CountWhere(ctx, h.store.DB, entity.Table, cond)
}

func (h *Handler) boolLiteral(v bool) string {
	if h.store.Dialect.NeedsBoolFix() {
		if v {
			return "1"
		}
		return "0"
	}
	if v {
		return "TRUE"
	}
	return "FALSE"
}

func (h *Handler) fetchByIDs(ctx context.Context, entity *metadata.Entity, ids []any) ([]map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	cond := h.store.Dialect.InExpr(entity.PrimaryKey.Field, pb, ids)
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s",
		strings.Join(entity.FieldNames(), ", "), entity.Table, cond)
	if entity.SoftDelete {
		sqlStr += " AND deleted_at IS NULL"
	}
	rows, err := store.QueryRows(ctx, h.store.DB, sqlStr, pb.Params()...)
	if err != nil {
		return nil, h.store.MapError(err)
	}
	return rows, nil
}
