package engine

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"syrup-backend/internal/metadata"
	"syrup-backend/internal/store"
)

// MetaHandler serves the schema catalog the form-builder frontend renders
// its admin surface from.
type MetaHandler struct {
	store    *store.Store
	registry *metadata.Registry
}

func NewMetaHandler(st *store.Store, reg *metadata.Registry) *MetaHandler {
	return &MetaHandler{store: st, registry: reg}
}

// Catalog returns every registered app and entity with its field metadata.
// Output is grouped per app: configs hold app chrome, models hold the
// entity descriptors in registration order.
func (m *MetaHandler) Catalog(c *fiber.Ctx) error {
	configs := make(map[string]*metadata.AppConfig)
	models := make(map[string][]fiber.Map)

	for name, cfg := range m.registry.Apps() {
		configs[name] = cfg
		models[name] = []fiber.Map{}
	}

	for _, entity := range m.registry.AllEntities() {
		if entity.App == "" {
			continue
		}
		models[entity.App] = append(models[entity.App], m.describeEntity(entity))
	}

	return c.JSON(fiber.Map{
		"configs": configs,
		"models":  models,
	})
}

// Stats summarizes the catalog: model and object counts per app, with a
// per-model breakdown.
func (m *MetaHandler) Stats(c *fiber.Ctx) error {
	apps := make(map[string]fiber.Map)

	for _, entity := range m.registry.AllEntities() {
		if entity.App == "" {
			continue
		}
		cond := "1=1"
		if entity.SoftDelete {
			cond = "deleted_at IS NULL"
		}
		objects, err := store.CountWhere(c.Context(), m.store.DB, entity.Table, cond)
		if err != nil {
			return m.store.MapError(err)
		}

		app, ok := apps[entity.App]
		if !ok {
			app = fiber.Map{"num_models": 0, "num_objects": int64(0), "models": []fiber.Map{}}
			apps[entity.App] = app
		}
		app["num_models"] = app["num_models"].(int) + 1
		app["num_objects"] = app["num_objects"].(int64) + objects

		stat := fiber.Map{
			"name":        entity.VerboseName,
			"num_objects": objects,
		}
		if p := entity.Presentation; p != nil {
			stat["icon"] = p.Icon
			stat["related_components"] = p.RelatedComponents
			stat["related_components_count"] = len(p.RelatedComponents)
			stat["visibility"] = p.Visibility
		}
		app["models"] = append(app["models"].([]fiber.Map), stat)
	}

	return c.JSON(apps)
}

func (m *MetaHandler) describeEntity(entity *metadata.Entity) fiber.Map {
	fields := make(map[string]fiber.Map)
	for _, f := range entity.Fields {
		if f.Name == entity.PrimaryKey.Field {
			continue
		}
		desc := fiber.Map{
			"type":         f.TypeName(),
			"verbose_name": f.VerboseName(),
		}
		if len(f.Enum) > 0 {
			choices := make(map[string]string, len(f.Enum))
			for _, choice := range f.Enum {
				choices[choice] = choice
			}
			desc["choices"] = choices
		}
		fields[f.Name] = desc
	}

	for fieldName := range m.registry.ManyToManyFields(entity.Name) {
		fields[fieldName] = fiber.Map{
			"type":         "ManyRelatedField",
			"verbose_name": fieldName,
		}
	}

	keys := entity.FieldKeys
	if keys == nil {
		keys = []string{}
	}

	desc := fiber.Map{
		"app_name":            entity.App,
		"model_name":          entity.Name,
		"verbose_name":        entity.VerboseName,
		"verbose_name_plural": entity.VerboseNamePlural,
		"url":                 fmt.Sprintf("/%s/", entity.Name),
		"metadata":            fields,
		"keys":                keys,
	}

	p := entity.Presentation
	if p == nil {
		p = &metadata.Presentation{}
	}
	desc["autoFormLabel"] = orNil(p.AutoFormLabel)
	desc["longDescription"] = orNil(p.LongDescription)
	desc["shortDescription"] = orNil(p.ShortDescription)
	desc["pagesAssociated"] = p.PagesAssociated
	desc["preview"] = p.IncludePreview
	desc["icon"] = orNil(p.Icon)
	desc["icon_class"] = p.IconClass
	desc["slug"] = orNil(p.Slug)
	desc["tags"] = p.Tags
	desc["relatedComponents"] = p.RelatedComponents
	desc["visibility"] = p.Visibility
	desc["access_level"] = orNil(p.AccessLevel)
	desc["info_dump"] = p.InfoDump
	desc["filter_options"] = p.FilterOptions

	if len(entity.SearchKeys) > 0 {
		desc["search_keys"] = entity.SearchKeys
	}
	return desc
}

func orNil(s string) any {
	if s == "" {
		return nil
	}
	return s
}
