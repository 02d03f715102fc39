package engine

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"syrup-backend/internal/store"
)

// RegisterRoutes mounts the generic entity surface. The meta routes go
// first so the catalog path never resolves as an entity name, and the bulk
// route precedes the id route for the same reason.
func RegisterRoutes(api fiber.Router, h *Handler, meta *MetaHandler) {
	api.Get("/meta", meta.Catalog)
	api.Get("/meta/stats", meta.Stats)

	api.Get("/:entity", h.List)
	api.Post("/:entity", h.Create)
	api.Delete("/:entity/bulk", h.BulkDelete)
	api.Patch("/:entity/bulk", h.BulkUpdate)
	api.Put("/:entity/bulk", h.BulkUpdate)
	api.Get("/:entity/:id", h.GetByID)
	api.Get("/:entity/:id/history", h.History)
	api.Put("/:entity/:id", h.Update)
	api.Patch("/:entity/:id", h.Update)
	api.Delete("/:entity/:id", h.Delete)
}

// ErrorHandler converts application errors into the JSON error envelope.
// Unclassified errors surface as 500 without leaking internals.
func ErrorHandler(c *fiber.Ctx, err error) error {
	if appErr, ok := err.(*AppError); ok {
		return c.Status(appErr.Status).JSON(ErrorResponse{Error: appErr})
	}
	if errors.Is(err, store.ErrUniqueViolation) {
		return c.Status(fiber.StatusConflict).JSON(ErrorResponse{
			Error: ConflictError("A record with the same unique value already exists"),
		})
	}
	if errors.Is(err, store.ErrNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(ErrorResponse{
			Error: &AppError{Code: "NOT_FOUND", Status: 404, Message: "Record not found"},
		})
	}
	if fiberErr, ok := err.(*fiber.Error); ok {
		return c.Status(fiberErr.Code).JSON(ErrorResponse{
			Error: &AppError{Code: "HTTP_ERROR", Status: fiberErr.Code, Message: fiberErr.Message},
		})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(ErrorResponse{
		Error: &AppError{Code: "INTERNAL", Status: 500, Message: "Internal server error"},
	})
}
