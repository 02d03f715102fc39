package main

import (
	"context"
	"fmt"
	"log"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"syrup-backend/internal/auth"
	"syrup-backend/internal/config"
	"syrup-backend/internal/engine"
	"syrup-backend/internal/metadata"
	"syrup-backend/internal/storage"
	"syrup-backend/internal/store"
)

func main() {
	ctx := context.Background()

	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (port: %d, db driver: %s)", cfg.Server.Port, cfg.Database.Driver)

	// 2. Connect to database
	db, err := store.New(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	log.Println("Database connected")

	// 3. Bootstrap system tables
	if err := db.Bootstrap(ctx); err != nil {
		log.Fatalf("Failed to bootstrap system tables: %v", err)
	}
	log.Println("System tables ready")

	// 4. Load the schema into the registry
	reg := metadata.NewRegistry()
	if err := metadata.LoadFile(cfg.SchemaFile, reg); err != nil {
		log.Fatalf("Failed to load schema %s: %v", cfg.SchemaFile, err)
	}

	// 5. Migrate entity and join tables
	migrator := store.NewMigrator(db)
	if err := migrator.MigrateAll(ctx, reg); err != nil {
		log.Fatalf("Failed to migrate schema: %v", err)
	}
	log.Println("Schema migrated")

	// 6. File storage for image columns
	files := storage.NewLocalStorage(cfg.Storage.LocalPath)
	images := engine.NewImageManager(files, cfg.Storage.MaxFileSize)

	// 7. Create Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: engine.ErrorHandler,
	})
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
	}))
	app.Use(logger.New(logger.Config{
		Format: "${time} ${status} ${method} ${path} ${latency}\n",
	}))

	// 8. Health check
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok"})
	})

	// 9. Serve stored uploads
	app.Static("/uploads", cfg.Storage.LocalPath)

	// 10. Entity and catalog routes behind the identity middleware
	api := app.Group("/api", auth.Middleware(cfg.JWTSecret))
	handler := engine.NewHandler(db, reg, images)
	meta := engine.NewMetaHandler(db, reg)
	engine.RegisterRoutes(api, handler, meta)

	// 11. Start server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	log.Printf("Starting server on %s", addr)
	log.Fatal(app.Listen(addr))
}
