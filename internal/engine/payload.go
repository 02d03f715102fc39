package engine

import (
	"encoding/json"
	"mime/multipart"
	"strings"

	"github.com/gofiber/fiber/v2"

	"syrup-backend/internal/metadata"
)

// Payload is a request body normalized into a flat field map, plus the
// uploaded image file when the entity declares an image field. Form payloads
// arrive as strings; JSON payloads keep their decoded types. Either way the
// validator coerces before persistence.
type Payload struct {
	Fields map[string]any
	Image  *multipart.FileHeader
}

// ParsePayload reads the request body in any of the accepted encodings:
// JSON, urlencoded form, or multipart form (the only one that can carry an
// image file).
func ParsePayload(c *fiber.Ctx, entity *metadata.Entity) (*Payload, error) {
	p := &Payload{Fields: make(map[string]any)}

	ctype := string(c.Request().Header.ContentType())
	switch {
	case strings.HasPrefix(ctype, fiber.MIMEApplicationJSON):
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &p.Fields); err != nil {
				return nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid JSON body")
			}
		}

	case strings.HasPrefix(ctype, fiber.MIMEMultipartForm):
		form, err := c.MultipartForm()
		if err != nil {
			return nil, NewAppError("INVALID_PAYLOAD", 400, "Invalid multipart body")
		}
		for key, values := range form.Value {
			if len(values) > 0 {
				p.Fields[key] = values[0]
			}
		}
		if img := entity.ImageField(); img != nil {
			if files := form.File[img.Name]; len(files) > 0 {
				p.Image = files[0]
			}
		}

	case strings.HasPrefix(ctype, fiber.MIMEApplicationForm):
		args := c.Request().PostArgs()
		args.VisitAll(func(key, value []byte) {
			k := string(key)
			if _, exists := p.Fields[k]; !exists {
				p.Fields[k] = string(value)
			}
		})

	default:
		// Empty or unspecified body is allowed (partial update with no fields)
		if len(c.Body()) > 0 {
			if err := json.Unmarshal(c.Body(), &p.Fields); err != nil {
				return nil, NewAppError("INVALID_PAYLOAD", 400, "Unsupported content type")
			}
		}
	}

	return p, nil
}
