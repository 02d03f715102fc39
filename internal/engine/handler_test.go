package engine_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"syrup-backend/internal/config"
	"syrup-backend/internal/engine"
	"syrup-backend/internal/metadata"
	"syrup-backend/internal/storage"
	"syrup-backend/internal/store"
)

const testSchema = `{
	"apps": {
		"articles": {"icon": "Article", "visibility": true},
		"communications": {"icon": "Email", "visibility": false}
	},
	"entities": [
		{
			"name": "article", "app": "articles", "table": "article",
			"verbose_name": "Article", "verbose_name_plural": "Articles",
			"primary_key": {"field": "id", "type": "bigint", "generated": true},
			"repr_field": "title", "soft_delete": true,
			"fields": [
				{"name": "id", "type": "bigint"},
				{"name": "title", "type": "string", "required": true},
				{"name": "content", "type": "text"},
				{"name": "tag", "type": "foreign_key", "references": "tag"},
				{"name": "author", "type": "foreign_key", "references": "users"},
				{"name": "published", "type": "boolean", "default": false}
			],
			"field_keys": ["title", "content", "tag", "author", "published"],
			"presentation": {"autoform_label": "Article", "icon": "Article", "visibility": true}
		},
		{
			"name": "tag", "app": "articles", "table": "tag",
			"verbose_name": "Tag", "verbose_name_plural": "Tags",
			"primary_key": {"field": "id", "type": "bigint", "generated": true},
			"repr_field": "name",
			"fields": [
				{"name": "id", "type": "bigint"},
				{"name": "name", "type": "string", "unique": true}
			]
		},
		{
			"name": "messages", "app": "communications", "table": "messages",
			"verbose_name": "Message", "verbose_name_plural": "Messages",
			"primary_key": {"field": "id", "type": "bigint", "generated": true},
			"repr_field": "subject",
			"fields": [
				{"name": "id", "type": "bigint"},
				{"name": "subject", "type": "string", "required": true},
				{"name": "body", "type": "text"},
				{"name": "is_read", "type": "boolean", "default": false},
				{"name": "is_archived", "type": "boolean", "default": false}
			]
		},
		{
			"name": "service", "app": "articles", "table": "service",
			"verbose_name": "Service", "verbose_name_plural": "Services",
			"primary_key": {"field": "id", "type": "bigint", "generated": true},
			"repr_field": "title",
			"fields": [
				{"name": "id", "type": "bigint"},
				{"name": "title", "type": "string", "required": true, "unique": true},
				{"name": "price", "type": "decimal"}
			],
			"rules": [
				{"field": "price", "expr": "record.price == nil || record.price >= 0", "message": "Price must not be negative"}
			]
		}
	],
	"relations": [
		{
			"name": "article_tags", "kind": "many_to_many",
			"source": "article", "field": "tags", "target": "tag",
			"join_table": "article_tags", "source_join_key": "article_id", "target_join_key": "tag_id"
		}
	]
}`

type testEnv struct {
	app   *fiber.App
	store *store.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	ctx := context.Background()

	s, err := store.New(ctx, config.DatabaseConfig{
		Driver: "sqlite",
		Name:   "test",
		Path:   t.TempDir(),
	})
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(s.Close)

	if err := s.Bootstrap(ctx); err != nil {
		t.Fatalf("bootstrap: %v", err)
	}

	reg := metadata.NewRegistry()
	if err := metadata.LoadBytes([]byte(testSchema), reg); err != nil {
		t.Fatalf("load schema: %v", err)
	}
	if err := store.NewMigrator(s).MigrateAll(ctx, reg); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	if _, err := store.Exec(ctx, s.DB,
		"INSERT INTO _users (id, username, email) VALUES (?1, ?2, ?3)",
		"u-1", "alice", "alice@example.com"); err != nil {
		t.Fatalf("seed user: %v", err)
	}

	images := engine.NewImageManager(storage.NewLocalStorage(t.TempDir()), 1<<20)

	app := fiber.New(fiber.Config{ErrorHandler: engine.ErrorHandler})
	api := app.Group("/api", func(c *fiber.Ctx) error {
		c.Locals("actor", &metadata.ActorContext{ID: "u-1", Roles: []string{"admin"}})
		return c.Next()
	})
	engine.RegisterRoutes(api, engine.NewHandler(s, reg, images), engine.NewMetaHandler(s, reg))

	return &testEnv{app: app, store: s}
}

func (e *testEnv) request(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		reader = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, path, reader)
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := e.app.Test(req, -1)
	if err != nil {
		t.Fatalf("execute request: %v", err)
	}
	return resp
}

func decodeMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	b, _ := io.ReadAll(resp.Body)
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return m
}

func decodeList(t *testing.T, resp *http.Response) []map[string]any {
	t.Helper()
	b, _ := io.ReadAll(resp.Body)
	var l []map[string]any
	if err := json.Unmarshal(b, &l); err != nil {
		t.Fatalf("decode %q: %v", b, err)
	}
	return l
}

func TestCreateArticle_ResolvesRelationsAndAuthor(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/article", map[string]any{
		"title":       "First Post",
		"content":     "Hello",
		"tag":         "news",
		"tags[0][id]": 10,
		"tags[1][id]": 11,
	})
	if resp.StatusCode != 201 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, b)
	}
	if loc := resp.Header.Get("Location"); !strings.HasPrefix(loc, "/api/article/") {
		t.Fatalf("missing Location header, got %q", loc)
	}

	created := decodeMap(t, resp)
	if created["author"] != "u-1" {
		t.Fatalf("author not populated from actor: %v", created["author"])
	}
	// "news" did not exist, so the tag write got-or-created it by name
	tagID := created["tag"]
	if tagID == nil {
		t.Fatal("tag not resolved")
	}
	tagResp := env.request(t, "GET", fmt.Sprintf("/api/tag/%v", tagID), nil)
	if tagResp.StatusCode != 200 {
		t.Fatalf("resolved tag not readable: %d", tagResp.StatusCode)
	}
	if tag := decodeMap(t, tagResp); tag["name"] != "news" {
		t.Fatalf("expected tag name news, got %v", tag["name"])
	}

	// Association rows were written for both bracket entries
	listResp := env.request(t, "GET", fmt.Sprintf("/api/article/%v?include=tags", created["id"]), nil)
	article := decodeMap(t, listResp)
	tags, ok := article["tags"].([]any)
	if !ok || len(tags) != 2 {
		t.Fatalf("expected 2 embedded tags, got %v", article["tags"])
	}
}

func TestCreateArticle_NumericTagMiss(t *testing.T) {
	env := newTestEnv(t)
	// article.tag references tag: a numeric id that does not exist is a 404,
	// never a silent insert
	resp := env.request(t, "POST", "/api/article", map[string]any{
		"title": "x", "tag": 999,
	})
	if resp.StatusCode != 404 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 404, got %d: %s", resp.StatusCode, b)
	}
	body := decodeMap(t, resp)
	msg := body["error"].(map[string]any)["message"].(string)
	if !strings.Contains(msg, "999") {
		t.Fatalf("message should name the missing id: %s", msg)
	}
}

func TestGetByID_Unknown(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "GET", "/api/article/42", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeMap(t, resp)
	msg := body["error"].(map[string]any)["message"].(string)
	if msg != "Article with id 42 does not exist" {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestUnknownEntity(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "GET", "/api/nonexistent", nil)
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeMap(t, resp)
	if code := body["error"].(map[string]any)["code"]; code != "UNKNOWN_ENTITY" {
		t.Fatalf("expected UNKNOWN_ENTITY, got %v", code)
	}
}

func TestUpdate_WritesAuditDiff(t *testing.T) {
	env := newTestEnv(t)

	resp := env.request(t, "POST", "/api/service", map[string]any{"title": "Design", "price": 100})
	created := decodeMap(t, resp)
	id := created["id"]

	resp = env.request(t, "PUT", fmt.Sprintf("/api/service/%v", id), map[string]any{"price": 150})
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("update failed: %d %s", resp.StatusCode, b)
	}

	resp = env.request(t, "GET", fmt.Sprintf("/api/service/%v/history", id), nil)
	entries := decodeList(t, resp)
	if len(entries) != 2 {
		t.Fatalf("expected create+update audit entries, got %d", len(entries))
	}
	// newest first
	latest := entries[0]
	if latest["action"] != "update" || latest["actor"] != "u-1" {
		t.Fatalf("unexpected audit entry: %+v", latest)
	}
	if latest["record_repr"] != "Design" {
		t.Fatalf("expected repr from title, got %v", latest["record_repr"])
	}
	changes := latest["changes"].(string)
	if !strings.Contains(changes, "price: 100 -> 150") {
		t.Fatalf("unexpected changes: %s", changes)
	}
}

func TestUpdate_AuditsForeignKeyChange(t *testing.T) {
	env := newTestEnv(t)

	newsID := decodeMap(t, env.request(t, "POST", "/api/tag", map[string]any{"name": "news"}))["id"]
	techID := decodeMap(t, env.request(t, "POST", "/api/tag", map[string]any{"name": "tech"}))["id"]

	resp := env.request(t, "POST", "/api/article", map[string]any{"title": "Post", "tag": newsID})
	articleID := decodeMap(t, resp)["id"]

	resp = env.request(t, "PUT", fmt.Sprintf("/api/article/%v", articleID), map[string]any{"tag": techID})
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("update failed: %d %s", resp.StatusCode, b)
	}

	entries := decodeList(t, env.request(t, "GET", fmt.Sprintf("/api/article/%v/history", articleID), nil))
	if len(entries) < 2 {
		t.Fatalf("expected create+update audit entries, got %d", len(entries))
	}
	changes := entries[0]["changes"].(string)
	want := fmt.Sprintf("tag: %v -> %v", newsID, techID)
	if !strings.Contains(changes, want) {
		t.Fatalf("reference change missing from audit diff: %q (want %q)", changes, want)
	}
}

func TestUpdate_EmptyPayloadStillAudited(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "POST", "/api/service", map[string]any{"title": "Design", "price": 100})
	id := decodeMap(t, resp)["id"]

	resp = env.request(t, "PUT", fmt.Sprintf("/api/service/%v", id), map[string]any{})
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("no-op update should succeed: %d %s", resp.StatusCode, b)
	}

	entries := decodeList(t, env.request(t, "GET", fmt.Sprintf("/api/service/%v/history", id), nil))
	if len(entries) != 2 {
		t.Fatalf("expected create+update audit entries, got %d", len(entries))
	}
	latest := entries[0]
	if latest["action"] != "update" {
		t.Fatalf("expected update entry, got %v", latest["action"])
	}
	if latest["changes"] != "" {
		t.Fatalf("no-op update should record an empty diff, got %q", latest["changes"])
	}
}

func TestCreate_IgnoresClientSuppliedID(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "POST", "/api/service", map[string]any{"id": 99, "title": "X"})
	if resp.StatusCode != 201 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 201, got %d: %s", resp.StatusCode, b)
	}
	created := decodeMap(t, resp)
	if created["id"] == float64(99) {
		t.Fatalf("client-supplied id must not be honored: %v", created["id"])
	}
}

func TestUpdate_AcceptsRetrievedRecordVerbatim(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "POST", "/api/service", map[string]any{"title": "Round Trip", "price": 50})
	id := decodeMap(t, resp)["id"]

	record := decodeMap(t, env.request(t, "GET", fmt.Sprintf("/api/service/%v", id), nil))
	record["price"] = 75

	resp = env.request(t, "PUT", fmt.Sprintf("/api/service/%v", id), record)
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("PUT of a retrieved record should succeed: %d %s", resp.StatusCode, b)
	}
	if updated := decodeMap(t, resp); updated["price"] != float64(75) {
		t.Fatalf("expected price 75, got %v", updated["price"])
	}
}

func TestUpdate_RuleRejection(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "POST", "/api/service", map[string]any{"title": "Design", "price": 100})
	id := decodeMap(t, resp)["id"]

	resp = env.request(t, "PUT", fmt.Sprintf("/api/service/%v", id), map[string]any{"price": -5})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
	body := decodeMap(t, resp)
	if code := body["error"].(map[string]any)["code"]; code != "VALIDATION_FAILED" {
		t.Fatalf("expected VALIDATION_FAILED, got %v", code)
	}
}

func TestTextField_KeepsDateShapedContent(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "POST", "/api/article", map[string]any{
		"title": "Log", "content": "2024-01-01 10:00:00",
	})
	created := decodeMap(t, resp)
	if created["content"] != "2024-01-01 10:00:00" {
		t.Fatalf("text content mangled on create: %v", created["content"])
	}

	got := decodeMap(t, env.request(t, "GET", fmt.Sprintf("/api/article/%v", created["id"]), nil))
	if got["content"] != "2024-01-01 10:00:00" {
		t.Fatalf("text content mangled on read: %v", got["content"])
	}
}

func TestCreate_UniqueConflict(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, "POST", "/api/service", map[string]any{"title": "Design"})
	resp := env.request(t, "POST", "/api/service", map[string]any{"title": "Design"})
	if resp.StatusCode != 409 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 409, got %d: %s", resp.StatusCode, b)
	}
}

func TestDelete_SoftDeleteHidesRecord(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "POST", "/api/article", map[string]any{"title": "Gone"})
	id := decodeMap(t, resp)["id"]

	resp = env.request(t, "DELETE", fmt.Sprintf("/api/article/%v", id), nil)
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp = env.request(t, "GET", fmt.Sprintf("/api/article/%v", id), nil)
	if resp.StatusCode != 404 {
		t.Fatalf("soft-deleted record still readable: %d", resp.StatusCode)
	}
}

func seedMessages(t *testing.T, env *testEnv, n int) []any {
	t.Helper()
	ids := make([]any, 0, n)
	for i := 0; i < n; i++ {
		resp := env.request(t, "POST", "/api/messages", map[string]any{
			"subject": fmt.Sprintf("msg %d", i),
		})
		if resp.StatusCode != 201 {
			t.Fatalf("seed message: %d", resp.StatusCode)
		}
		ids = append(ids, decodeMap(t, resp)["id"])
	}
	return ids
}

func TestBulkUpdate_MarkReadReturnsUnreadCount(t *testing.T) {
	env := newTestEnv(t)
	ids := seedMessages(t, env, 3)

	resp := env.request(t, "PATCH", "/api/messages/bulk", map[string]any{
		"ids": ids[:2], "field": []any{"is_read"}, "value": true,
	})
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, b)
	}
	body := decodeMap(t, resp)
	if body["count"] != float64(1) {
		t.Fatalf("expected 1 unread left, got %v", body["count"])
	}
}

func TestBulkUpdate_ArchiveForcesRead(t *testing.T) {
	env := newTestEnv(t)
	ids := seedMessages(t, env, 2)

	resp := env.request(t, "PATCH", "/api/messages/bulk", map[string]any{
		"ids": ids, "field": "is_archived", "value": true,
	})
	if resp.StatusCode != 204 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 204, got %d: %s", resp.StatusCode, b)
	}

	list := decodeList(t, env.request(t, "GET", "/api/messages", nil))
	for _, m := range list {
		if m["is_read"] != true || m["is_archived"] != true {
			t.Fatalf("archiving must mark read: %+v", m)
		}
	}
}

func TestBulkUpdate_UnreadUnarchives(t *testing.T) {
	env := newTestEnv(t)
	ids := seedMessages(t, env, 2)

	env.request(t, "PATCH", "/api/messages/bulk", map[string]any{
		"ids": ids, "field": "is_archived", "value": true,
	})
	resp := env.request(t, "PATCH", "/api/messages/bulk", map[string]any{
		"ids": ids, "field": "is_read", "value": false,
	})
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if body := decodeMap(t, resp); body["count"] != float64(2) {
		t.Fatalf("expected 2 unread, got %v", body["count"])
	}
	list := decodeList(t, env.request(t, "GET", "/api/messages", nil))
	for _, m := range list {
		if m["is_archived"] != false {
			t.Fatalf("un-reading must un-archive: %+v", m)
		}
	}
}

func TestBulkUpdate_MissingIDs(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "PATCH", "/api/messages/bulk", map[string]any{
		"field": "is_read", "value": true,
	})
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestBulkDelete_InboxCount(t *testing.T) {
	env := newTestEnv(t)
	ids := seedMessages(t, env, 3)

	resp := env.request(t, "DELETE", "/api/messages/bulk", map[string]any{"ids": ids[:2]})
	if resp.StatusCode != 200 {
		b, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200 with count, got %d: %s", resp.StatusCode, b)
	}
	if body := decodeMap(t, resp); body["count"] != float64(1) {
		t.Fatalf("expected 1 unread left, got %v", body["count"])
	}
}

func TestBulkDelete_EmptyIDs(t *testing.T) {
	env := newTestEnv(t)
	for _, body := range []map[string]any{{}, {"ids": []any{}}} {
		resp := env.request(t, "DELETE", "/api/service/bulk", body)
		if resp.StatusCode != 400 {
			t.Fatalf("expected 400 for %v, got %d", body, resp.StatusCode)
		}
	}
}

func TestBulkDelete_PlainEntity(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "POST", "/api/service", map[string]any{"title": "A"})
	id := decodeMap(t, resp)["id"]

	resp = env.request(t, "DELETE", "/api/service/bulk", map[string]any{"ids": []any{id}})
	if resp.StatusCode != 204 {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}
	resp = env.request(t, "DELETE", "/api/service/bulk", map[string]any{"ids": []any{id}})
	if resp.StatusCode != 404 {
		t.Fatalf("expected 404 when nothing matched, got %d", resp.StatusCode)
	}
}

func TestList_FiltersAndSort(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, "POST", "/api/service", map[string]any{"title": "A", "price": 10})
	env.request(t, "POST", "/api/service", map[string]any{"title": "B", "price": 20})
	env.request(t, "POST", "/api/service", map[string]any{"title": "C", "price": 30})

	list := decodeList(t, env.request(t, "GET", "/api/service?filter[price.gte]=20&sort=-price", nil))
	if len(list) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(list))
	}
	if list[0]["title"] != "C" || list[1]["title"] != "B" {
		t.Fatalf("wrong order: %v, %v", list[0]["title"], list[1]["title"])
	}
}

func TestList_UnknownFilterField(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "GET", "/api/service?filter[bogus]=1", nil)
	if resp.StatusCode != 400 {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestMetaCatalog(t *testing.T) {
	env := newTestEnv(t)
	resp := env.request(t, "GET", "/api/meta", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeMap(t, resp)

	configs := body["configs"].(map[string]any)
	if configs["articles"] == nil || configs["communications"] == nil {
		t.Fatalf("missing app configs: %v", configs)
	}

	models := body["models"].(map[string]any)
	articleModels := models["articles"].([]any)
	var articleDesc map[string]any
	for _, m := range articleModels {
		desc := m.(map[string]any)
		if desc["model_name"] == "article" {
			articleDesc = desc
		}
	}
	if articleDesc == nil {
		t.Fatal("article missing from catalog")
	}
	if articleDesc["url"] != "/article/" {
		t.Fatalf("unexpected url: %v", articleDesc["url"])
	}

	fields := articleDesc["metadata"].(map[string]any)
	if _, ok := fields["id"]; ok {
		t.Fatal("primary key must not appear in field metadata")
	}
	title := fields["title"].(map[string]any)
	if title["type"] != "CharField" {
		t.Fatalf("expected CharField, got %v", title["type"])
	}
	tagField := fields["tag"].(map[string]any)
	if tagField["type"] != "PrimaryKeyRelatedField" {
		t.Fatalf("expected PrimaryKeyRelatedField, got %v", tagField["type"])
	}
	if tags := fields["tags"].(map[string]any); tags["type"] != "ManyRelatedField" {
		t.Fatalf("expected ManyRelatedField for association, got %v", tags["type"])
	}
}

func TestMetaStats(t *testing.T) {
	env := newTestEnv(t)
	env.request(t, "POST", "/api/service", map[string]any{"title": "A"})
	resp := env.request(t, "GET", "/api/meta/stats", nil)
	if resp.StatusCode != 200 {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	body := decodeMap(t, resp)
	articles := body["articles"].(map[string]any)
	if articles["num_models"] != float64(3) {
		t.Fatalf("expected 3 models in articles app, got %v", articles["num_models"])
	}
	if articles["num_objects"] != float64(1) {
		t.Fatalf("expected 1 object, got %v", articles["num_objects"])
	}
}
