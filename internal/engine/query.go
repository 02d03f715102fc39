package engine

import (
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"

	"syrup-backend/internal/metadata"
	"syrup-backend/internal/store"
)

type QueryPlan struct {
	Entity   *metadata.Entity
	Filters  []WhereClause
	Sorts    []OrderClause
	Includes []string
}

type WhereClause struct {
	Field    string
	Operator string
	Value    any
}

type OrderClause struct {
	Field string
	Dir   string // ASC or DESC
}

type QueryResult struct {
	SQL    string
	Params []any
}

// ParseQueryParams parses list query parameters into a QueryPlan.
// Collections are returned whole; there is no pagination on this surface.
func ParseQueryParams(c *fiber.Ctx, entity *metadata.Entity, reg *metadata.Registry) (*QueryPlan, error) {
	plan := &QueryPlan{Entity: entity}

	// Parse filters: filter[field]=val or filter[field.op]=val
	queries := c.Queries()
	for key, val := range queries {
		if !strings.HasPrefix(key, "filter[") || !strings.HasSuffix(key, "]") {
			continue
		}
		inner := key[7 : len(key)-1]
		field, op := parseFilterKey(inner)

		if !entity.HasField(field) {
			return nil, &AppError{
				Code:    "UNKNOWN_FIELD",
				Status:  400,
				Message: fmt.Sprintf("Unknown filter field: %s", field),
			}
		}

		coerced, err := coerceFilterValue(entity.GetField(field), val, op)
		if err != nil {
			return nil, &AppError{
				Code:    "INVALID_PAYLOAD",
				Status:  400,
				Message: fmt.Sprintf("Invalid filter value for %s: %v", field, err),
			}
		}

		plan.Filters = append(plan.Filters, WhereClause{Field: field, Operator: op, Value: coerced})
	}

	// Parse sort: sort=-created_at,name
	if sortParam := c.Query("sort"); sortParam != "" {
		for _, part := range strings.Split(sortParam, ",") {
			part = strings.TrimSpace(part)
			dir := "ASC"
			field := part
			if strings.HasPrefix(part, "-") {
				dir = "DESC"
				field = part[1:]
			}
			if !entity.HasField(field) {
				return nil, &AppError{
					Code:    "UNKNOWN_FIELD",
					Status:  400,
					Message: fmt.Sprintf("Unknown sort field: %s", field),
				}
			}
			plan.Sorts = append(plan.Sorts, OrderClause{Field: field, Dir: dir})
		}
	}

	// Parse includes: include=tags,tag
	if inc := c.Query("include"); inc != "" {
		for _, name := range strings.Split(inc, ",") {
			name = strings.TrimSpace(name)
			if name == "" {
				continue
			}
			if !includeExists(reg, entity, name) {
				return nil, &AppError{
					Code:    "UNKNOWN_FIELD",
					Status:  400,
					Message: fmt.Sprintf("Unknown include: %s", name),
				}
			}
			plan.Includes = append(plan.Includes, name)
		}
	}

	return plan, nil
}

func includeExists(reg *metadata.Registry, entity *metadata.Entity, name string) bool {
	if _, ok := reg.ManyToManyFields(entity.Name)[name]; ok {
		return true
	}
	if f := entity.GetField(name); f != nil && f.IsForeignKey() && f.Name != "author" {
		return true
	}
	return false
}

// BuildSelectSQL builds a parameterized SELECT statement from the query plan.
func BuildSelectSQL(dialect store.Dialect, plan *QueryPlan) QueryResult {
	pb := dialect.NewParamBuilder()
	entity := plan.Entity

	sqlStr := fmt.Sprintf("SELECT %s FROM %s", strings.Join(entity.FieldNames(), ", "), entity.Table)

	where := buildWhere(dialect, entity, plan.Filters, pb)
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	if len(plan.Sorts) > 0 {
		var orderParts []string
		for _, s := range plan.Sorts {
			orderParts = append(orderParts, fmt.Sprintf("%s %s", s.Field, s.Dir))
		}
		sqlStr += " ORDER BY " + strings.Join(orderParts, ", ")
	}

	return QueryResult{SQL: sqlStr, Params: pb.Params()}
}

// BuildCountSQL builds a COUNT query with the same filters as the select.
func BuildCountSQL(dialect store.Dialect, plan *QueryPlan) QueryResult {
	pb := dialect.NewParamBuilder()
	entity := plan.Entity

	sqlStr := fmt.Sprintf("SELECT COUNT(*) AS count FROM %s", entity.Table)
	where := buildWhere(dialect, entity, plan.Filters, pb)
	if len(where) > 0 {
		sqlStr += " WHERE " + strings.Join(where, " AND ")
	}

	return QueryResult{SQL: sqlStr, Params: pb.Params()}
}

func buildWhere(dialect store.Dialect, entity *metadata.Entity, filters []WhereClause, pb store.ParamBuilder) []string {
	var where []string
	if entity.SoftDelete {
		where = append(where, "deleted_at IS NULL")
	}
	for _, f := range filters {
		where = append(where, buildWhereClause(dialect, f, pb))
	}
	return where
}

func buildWhereClause(dialect store.Dialect, f WhereClause, pb store.ParamBuilder) string {
	switch f.Operator {
	case "eq", "":
		return fmt.Sprintf("%s = %s", f.Field, pb.Add(f.Value))
	case "neq":
		return fmt.Sprintf("%s != %s", f.Field, pb.Add(f.Value))
	case "gt":
		return fmt.Sprintf("%s > %s", f.Field, pb.Add(f.Value))
	case "gte":
		return fmt.Sprintf("%s >= %s", f.Field, pb.Add(f.Value))
	case "lt":
		return fmt.Sprintf("%s < %s", f.Field, pb.Add(f.Value))
	case "lte":
		return fmt.Sprintf("%s <= %s", f.Field, pb.Add(f.Value))
	case "in":
		return dialect.InExpr(f.Field, pb, toSlice(f.Value))
	case "not_in":
		return dialect.NotInExpr(f.Field, pb, toSlice(f.Value))
	case "like":
		return fmt.Sprintf("%s LIKE %s", f.Field, pb.Add(f.Value))
	default:
		return fmt.Sprintf("%s = %s", f.Field, pb.Add(f.Value))
	}
}

func toSlice(v any) []any {
	if s, ok := v.([]any); ok {
		return s
	}
	return []any{v}
}

// parseFilterKey splits "total.gte" into ("total", "gte") or "status" into ("status", "eq").
func parseFilterKey(key string) (string, string) {
	parts := strings.SplitN(key, ".", 2)
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return key, "eq"
}

// BuildInsertSQL builds an INSERT returning the full row. Columns follow
// field declaration order for stable statements.
func BuildInsertSQL(dialect store.Dialect, entity *metadata.Entity, fields map[string]any) QueryResult {
	pb := dialect.NewParamBuilder()
	var cols, placeholders []string

	for _, f := range entity.Fields {
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		cols = append(cols, f.Name)
		placeholders = append(placeholders, pb.Add(v))
	}

	returning := strings.Join(entity.FieldNames(), ", ")
	var sqlStr string
	if len(cols) == 0 {
		sqlStr = fmt.Sprintf("INSERT INTO %s DEFAULT VALUES RETURNING %s", entity.Table, returning)
	} else {
		sqlStr = fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s) RETURNING %s",
			entity.Table, strings.Join(cols, ", "), strings.Join(placeholders, ", "), returning)
	}
	return QueryResult{SQL: sqlStr, Params: pb.Params()}
}

// BuildUpdateSQL builds a partial UPDATE for the fields present in the map.
// Returns an empty SQL string when nothing is updatable.
func BuildUpdateSQL(dialect store.Dialect, entity *metadata.Entity, id any, fields map[string]any) QueryResult {
	pb := dialect.NewParamBuilder()
	var sets []string

	for _, f := range entity.Fields {
		if f.Name == entity.PrimaryKey.Field {
			continue
		}
		v, ok := fields[f.Name]
		if !ok {
			continue
		}
		sets = append(sets, fmt.Sprintf("%s = %s", f.Name, pb.Add(v)))
	}

	if len(sets) == 0 {
		return QueryResult{}
	}

	sqlStr := fmt.Sprintf("UPDATE %s SET %s WHERE %s = %s",
		entity.Table, strings.Join(sets, ", "), entity.PrimaryKey.Field, pb.Add(id))
	if entity.SoftDelete {
		sqlStr += " AND deleted_at IS NULL"
	}
	return QueryResult{SQL: sqlStr, Params: pb.Params()}
}

// BuildHardDeleteSQL deletes a single row by primary key.
func BuildHardDeleteSQL(dialect store.Dialect, entity *metadata.Entity, id any) QueryResult {
	pb := dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("DELETE FROM %s WHERE %s = %s", entity.Table, entity.PrimaryKey.Field, pb.Add(id))
	return QueryResult{SQL: sqlStr, Params: pb.Params()}
}

// BuildSoftDeleteSQL stamps deleted_at for a single row by primary key.
func BuildSoftDeleteSQL(dialect store.Dialect, entity *metadata.Entity, id any) QueryResult {
	pb := dialect.NewParamBuilder()
	sqlStr := fmt.Sprintf("UPDATE %s SET deleted_at = %s WHERE %s = %s AND deleted_at IS NULL",
		entity.Table, dialect.NowExpr(), entity.PrimaryKey.Field, pb.Add(id))
	return QueryResult{SQL: sqlStr, Params: pb.Params()}
}
