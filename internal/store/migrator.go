package store

import (
	"context"
	"fmt"
	"log"
	"strings"

	"syrup-backend/internal/metadata"
)

type Migrator struct {
	store *Store
}

func NewMigrator(store *Store) *Migrator {
	return &Migrator{store: store}
}

// MigrateAll ensures tables exist for every registered entity and join
// tables for every many-to-many relation. Run once at startup, after the
// registry has loaded.
func (m *Migrator) MigrateAll(ctx context.Context, reg *metadata.Registry) error {
	for _, entity := range reg.AllEntities() {
		if err := m.Migrate(ctx, entity); err != nil {
			return fmt.Errorf("migrate %s: %w", entity.Name, err)
		}
	}
	for _, rel := range reg.AllRelations() {
		if !rel.IsManyToMany() {
			continue
		}
		if err := m.MigrateJoinTable(ctx, rel); err != nil {
			return fmt.Errorf("migrate join table %s: %w", rel.JoinTable, err)
		}
	}
	return nil
}

// Migrate ensures the table matches the entity metadata. Creates the table
// if it doesn't exist, or adds missing columns.
func (m *Migrator) Migrate(ctx context.Context, entity *metadata.Entity) error {
	exists, err := m.tableExists(ctx, entity.Table)
	if err != nil {
		return fmt.Errorf("check table exists: %w", err)
	}

	if !exists {
		return m.createTable(ctx, entity)
	}

	return m.alterTable(ctx, entity)
}

// MigrateJoinTable creates a join table for a many-to-many relation if it
// doesn't exist.
func (m *Migrator) MigrateJoinTable(ctx context.Context, rel *metadata.Relation) error {
	exists, err := m.tableExists(ctx, rel.JoinTable)
	if err != nil {
		return fmt.Errorf("check join table exists: %w", err)
	}
	if exists {
		return nil
	}

	keyType := m.store.Dialect.ColumnType("foreign_key")
	sqlStr := fmt.Sprintf(
		`CREATE TABLE %s (
			%s %s NOT NULL,
			%s %s NOT NULL,
			PRIMARY KEY (%s, %s)
		)`,
		rel.JoinTable,
		rel.SourceJoinKey, keyType,
		rel.TargetJoinKey, keyType,
		rel.SourceJoinKey, rel.TargetJoinKey,
	)
	if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create join table %s: %w", rel.JoinTable, err)
	}
	log.Printf("Created join table %s", rel.JoinTable)
	return nil
}

func (m *Migrator) tableExists(ctx context.Context, table string) (bool, error) {
	return m.store.Dialect.TableExists(ctx, m.store.DB, table)
}

func (m *Migrator) createTable(ctx context.Context, entity *metadata.Entity) error {
	var cols []string
	cols = append(cols, m.store.Dialect.PrimaryKeyDDL(entity.PrimaryKey.Field))

	for _, f := range entity.Fields {
		if f.Name == entity.PrimaryKey.Field {
			continue
		}
		cols = append(cols, m.columnDDL(f))
	}
	if entity.SoftDelete && !entity.HasField("deleted_at") {
		cols = append(cols, "deleted_at "+m.store.Dialect.ColumnType("timestamp"))
	}

	sqlStr := fmt.Sprintf("CREATE TABLE %s (\n\t%s\n)", entity.Table, strings.Join(cols, ",\n\t"))
	if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
		return fmt.Errorf("create table %s: %w", entity.Table, err)
	}

	if entity.SoftDelete {
		if _, err := m.store.DB.ExecContext(ctx, m.store.Dialect.SoftDeleteIndexSQL(entity.Table)); err != nil {
			return fmt.Errorf("create soft delete index: %w", err)
		}
	}

	log.Printf("Created table %s", entity.Table)
	return nil
}

// alterTable adds columns present in metadata but missing from the table.
// Dropped fields are left in place; removing columns is a manual operation.
func (m *Migrator) alterTable(ctx context.Context, entity *metadata.Entity) error {
	existing, err := m.store.Dialect.GetColumns(ctx, m.store.DB, entity.Table)
	if err != nil {
		return fmt.Errorf("get columns: %w", err)
	}

	for _, f := range entity.Fields {
		if f.Name == entity.PrimaryKey.Field {
			continue
		}
		if _, ok := existing[f.Name]; ok {
			continue
		}
		sqlStr := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", entity.Table, m.columnDDL(f))
		if _, err := m.store.DB.ExecContext(ctx, sqlStr); err != nil {
			return fmt.Errorf("add column %s.%s: %w", entity.Table, f.Name, err)
		}
		log.Printf("Added column %s.%s", entity.Table, f.Name)
	}
	return nil
}

func (m *Migrator) columnDDL(f metadata.Field) string {
	colType := m.store.Dialect.ColumnType(f.Type)
	if f.IsForeignKey() && f.Name == "author" {
		// author references the identity store's TEXT ids
		colType = m.store.Dialect.ColumnType("string")
	}
	ddl := f.Name + " " + colType
	if f.Required && !f.Nullable {
		ddl += " NOT NULL"
	}
	if f.Unique {
		ddl += " UNIQUE"
	}
	if f.Auto == "create" && f.Type == "timestamp" {
		// SQLite requires parens around expression defaults
		ddl += " DEFAULT (" + m.store.Dialect.NowExpr() + ")"
	}
	return ddl
}
