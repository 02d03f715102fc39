package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"syrup-backend/internal/auth"
	"syrup-backend/internal/metadata"
	"syrup-backend/internal/store"
)

// Handler serves the generic entity surface. Every route resolves its
// entity from the path, so one handler covers the whole schema.
type Handler struct {
	store    *store.Store
	registry *metadata.Registry
	resolver *Resolver
	rules    *RuleEngine
	auditor  *Auditor
	embedder *Embedder
	images   *ImageManager
}

func NewHandler(st *store.Store, reg *metadata.Registry, images *ImageManager) *Handler {
	return &Handler{
		store:    st,
		registry: reg,
		resolver: NewResolver(reg, st.Dialect),
		rules:    NewRuleEngine(),
		auditor:  NewAuditor(st.Dialect),
		embedder: NewEmbedder(reg, st.Dialect),
		images:   images,
	}
}

func (h *Handler) entityFromParams(c *fiber.Ctx) (*metadata.Entity, error) {
	name := c.Params("entity")
	entity := h.registry.GetEntity(name)
	if entity == nil {
		return nil, UnknownEntityError(name)
	}
	return entity, nil
}

// List returns the full collection, filtered and sorted per query params.
func (h *Handler) List(c *fiber.Ctx) error {
	entity, err := h.entityFromParams(c)
	if err != nil {
		return err
	}
	plan, err := ParseQueryParams(c, entity, h.registry)
	if err != nil {
		return err
	}

	q := BuildSelectSQL(h.store.Dialect, plan)
	rows, err := store.QueryRows(c.Context(), h.store.DB, q.SQL, q.Params...)
	if err != nil {
		return h.store.MapError(err)
	}
	h.normalize(entity, rows)

	if err := h.embedder.Embed(c.Context(), h.store.DB, entity, rows, plan.Includes); err != nil {
		return err
	}
	return c.JSON(rows)
}

// GetByID returns a single record or 404.
func (h *Handler) GetByID(c *fiber.Ctx) error {
	entity, err := h.entityFromParams(c)
	if err != nil {
		return err
	}
	record, err := h.fetchByID(c.Context(), h.store.DB, entity, c.Params("id"))
	if err != nil {
		return err
	}

	if inc := c.Query("include"); inc != "" {
		plan, err := ParseQueryParams(c, entity, h.registry)
		if err != nil {
			return err
		}
		if err := h.embedder.Embed(c.Context(), h.store.DB, entity, []map[string]any{record}, plan.Includes); err != nil {
			return err
		}
	}
	return c.JSON(record)
}

// Create inserts a new record. The row insert, association writes and the
// audit entry commit together; file storage happens before the insert, so
// a failed transaction can orphan a file but never the reverse.
func (h *Handler) Create(c *fiber.Ctx) error {
	entity, err := h.entityFromParams(c)
	if err != nil {
		return err
	}
	payload, err := ParsePayload(c, entity)
	if err != nil {
		return err
	}
	actor := auth.GetActor(c)

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	resolved, err := h.resolver.Resolve(c.Context(), tx, entity, payload.Fields, actor)
	if err != nil {
		return err
	}
	applyDefaults(entity, payload.Fields)
	if err := ValidateFields(entity, payload.Fields, true); err != nil {
		return err
	}
	if err := h.rules.Check(entity, payload.Fields, map[string]any{}, "create"); err != nil {
		return err
	}

	if imgField := entity.ImageField(); imgField != nil {
		if payload.Image != nil {
			path, err := h.images.Save(c.Context(), entity, payload.Image)
			if err != nil {
				return err
			}
			payload.Fields[imgField.Name] = path
		} else if imgField.Required {
			return ValidationError([]ErrorDetail{{
				Field:   imgField.Name,
				Rule:    "required",
				Message: fmt.Sprintf("Field %s is required", imgField.Name),
			}})
		}
	}

	q := BuildInsertSQL(h.store.Dialect, entity, payload.Fields)
	created, err := store.QueryRow(c.Context(), tx, q.SQL, q.Params...)
	if err != nil {
		return h.store.MapError(err)
	}

	id := created[entity.PrimaryKey.Field]
	if err := h.resolver.ApplyManyToMany(c.Context(), tx, entity, id, resolved); err != nil {
		return err
	}
	if err := h.auditor.Record(c.Context(), tx, entity, created, "create", actor, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	h.normalizeOne(entity, created)
	c.Set("Location", fmt.Sprintf("/api/%s/%v", entity.Name, id))
	return c.Status(fiber.StatusCreated).JSON(created)
}

// Update applies a partial write. The prior row is read inside the same
// transaction so the audit diff reflects exactly what the write replaced.
func (h *Handler) Update(c *fiber.Ctx) error {
	entity, err := h.entityFromParams(c)
	if err != nil {
		return err
	}
	payload, err := ParsePayload(c, entity)
	if err != nil {
		return err
	}
	actor := auth.GetActor(c)
	id := c.Params("id")

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	live, err := h.fetchByID(c.Context(), tx, entity, id)
	if err != nil {
		return err
	}

	resolved, err := h.resolver.Resolve(c.Context(), tx, entity, payload.Fields, actor)
	if err != nil {
		return err
	}
	if err := ValidateFields(entity, payload.Fields, false); err != nil {
		return err
	}

	if err := h.applyImageUpdate(c.Context(), entity, payload, live); err != nil {
		return err
	}

	merged := make(map[string]any, len(live))
	for k, v := range live {
		merged[k] = v
	}
	for k, v := range payload.Fields {
		merged[k] = v
	}
	if err := h.rules.Check(entity, merged, live, "update"); err != nil {
		return err
	}

	q := BuildUpdateSQL(h.store.Dialect, entity, live[entity.PrimaryKey.Field], payload.Fields)
	if q.SQL != "" {
		if _, err := store.Exec(c.Context(), tx, q.SQL, q.Params...); err != nil {
			return h.store.MapError(err)
		}
	}
	if err := h.resolver.ApplyManyToMany(c.Context(), tx, entity, live[entity.PrimaryKey.Field], resolved); err != nil {
		return err
	}

	updated, err := h.fetchByID(c.Context(), tx, entity, id)
	if err != nil {
		return err
	}
	// An empty diff still leaves a record: the trail shows the write happened.
	changes := Diff(entity, live, updated)
	if err := h.auditor.Record(c.Context(), tx, entity, updated, "update", actor, changes); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return c.JSON(updated)
}

// Delete removes a record. The image file goes first; a stale file on disk
// is recoverable, a row pointing at a missing file is not.
func (h *Handler) Delete(c *fiber.Ctx) error {
	entity, err := h.entityFromParams(c)
	if err != nil {
		return err
	}
	actor := auth.GetActor(c)
	id := c.Params("id")

	live, err := h.fetchByID(c.Context(), h.store.DB, entity, id)
	if err != nil {
		return err
	}
	h.images.Remove(c.Context(), entity, live)

	tx, err := h.store.BeginTx(c.Context())
	if err != nil {
		return err
	}
	defer tx.Rollback()

	var q QueryResult
	if entity.SoftDelete {
		q = BuildSoftDeleteSQL(h.store.Dialect, entity, live[entity.PrimaryKey.Field])
	} else {
		q = BuildHardDeleteSQL(h.store.Dialect, entity, live[entity.PrimaryKey.Field])
		if err := h.clearAssociations(c.Context(), tx, entity, live[entity.PrimaryKey.Field]); err != nil {
			return err
		}
	}
	affected, err := store.Exec(c.Context(), tx, q.SQL, q.Params...)
	if err != nil {
		return h.store.MapError(err)
	}
	if affected == 0 {
		return NotFoundError(entity.VerboseName, id)
	}

	if err := h.auditor.Record(c.Context(), tx, entity, live, "delete", actor, nil); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// History exposes the audit trail for one record.
func (h *Handler) History(c *fiber.Ctx) error {
	entity, err := h.entityFromParams(c)
	if err != nil {
		return err
	}
	if _, err := h.fetchByID(c.Context(), h.store.DB, entity, c.Params("id")); err != nil {
		return err
	}
	rows, err := h.auditor.History(c.Context(), h.store.DB, entity, c.Params("id"))
	if err != nil {
		return err
	}
	return c.JSON(rows)
}

func (h *Handler) fetchByID(ctx context.Context, q store.Querier, entity *metadata.Entity, id any) (map[string]any, error) {
	pb := h.store.Dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("SELECT %s FROM %s WHERE %s = %s",
		strings.Join(entity.FieldNames(), ", "), entity.Table, entity.PrimaryKey.Field, pb.Add(id))
	if entity.SoftDelete {
		sqlStr += " AND deleted_at IS NULL"
	}
	record, err := store.QueryRow(ctx, q, sqlStr, pb.Params()...)
	if errors.Is(err, store.ErrNotFound) {
		return nil, NotFoundError(entity.VerboseName, id)
	}
	if err != nil {
		return nil, h.store.MapError(err)
	}
	h.normalizeOne(entity, record)
	return record, nil
}

func (h *Handler) applyImageUpdate(ctx context.Context, entity *metadata.Entity, payload *Payload, live map[string]any) error {
	imgField := entity.ImageField()
	if imgField == nil {
		return nil
	}
	if payload.Image != nil {
		path, err := h.images.Replace(ctx, entity, live, payload.Image)
		if err != nil {
			return err
		}
		payload.Fields[imgField.Name] = path
		return nil
	}
	// Without a new upload, an explicit null or empty value clears the
	// column and deletes the file; anything else keeps the current one.
	if v, ok := payload.Fields[imgField.Name]; ok {
		if v == nil || metadata.Stringify(v) == "" {
			h.images.Remove(ctx, entity, live)
			payload.Fields[imgField.Name] = nil
		} else {
			delete(payload.Fields, imgField.Name)
		}
	}
	return nil
}

func (h *Handler) clearAssociations(ctx context.Context, q store.Querier, entity *metadata.Entity, id any) error {
	for _, rel := range h.registry.GetRelationsForSource(entity.Name) {
		if !rel.IsManyToMany() {
			continue
		}
		pb := h.store.Dialect.NewParamBuilder()
		sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", rel.JoinTable, rel.SourceJoinKey, pb.Add(id))
		if _, err := store.Exec(ctx, q, sqlStr, pb.Params()...); err != nil {
			return h.store.MapError(err)
		}
	}
	return nil
}

func (h *Handler) normalize(entity *metadata.Entity, rows []map[string]any) {
	if h.store.Dialect.NeedsBoolFix() {
		store.NormalizeBooleans(rows, entity.BoolFieldNames())
	}
	store.NormalizeTimestamps(rows, entity.TimestampFieldNames())
}

func (h *Handler) normalizeOne(entity *metadata.Entity, record map[string]any) {
	h.normalize(entity, []map[string]any{record})
}

func applyDefaults(entity *metadata.Entity, fields map[string]any) {
	for _, f := range entity.Fields {
		if f.Default == nil || f.IsAuto() {
			continue
		}
		if _, ok := fields[f.Name]; !ok {
			fields[f.Name] = f.Default
		}
	}
}
