package httpapi

import (
	"errors"
	"io"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"

	"traffic-map/internal/dataset"
	"traffic-map/internal/store"
	"traffic-map/internal/surface"
	"traffic-map/internal/traffic"
)

var validate = validator.New()

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, service *traffic.Service) {
	v1 := app.Group("/api/v1")

	// Replace the active dataset wholesale. Accepts raw JSON or a multipart
	// upload under the "file" field.
	v1.Post("/dataset", func(c *fiber.Ctx) error {
		raw, err := datasetBody(c)
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		report, err := service.ReplaceDataset(c.UserContext(), raw, "upload")
		if err != nil {
			var verr *dataset.ValidationError
			switch {
			case errors.As(err, &verr):
				// Rejected wholesale; the map is unchanged. Every defect is
				// returned so the caller can present all problems at once.
				return c.Status(fiber.StatusUnprocessableEntity).JSON(fiber.Map{
					"error":   true,
					"message": "dataset rejected",
					"defects": verr.Defects,
				})
			case errors.Is(err, surface.ErrUnavailable), errors.Is(err, surface.ErrNotReady):
				return fiber.NewError(fiber.StatusServiceUnavailable, "map unavailable")
			case errors.Is(err, traffic.ErrSuperseded):
				return c.Status(fiber.StatusConflict).JSON(fiber.Map{
					"error":   true,
					"message": err.Error(),
					"report":  report,
				})
			default:
				return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
					"error":   true,
					"message": err.Error(),
					"report":  report,
				})
			}
		}

		return c.JSON(report)
	})

	v1.Get("/locations", func(c *fiber.Ctx) error {
		ds, err := service.Locations()
		if err != nil {
			if errors.Is(err, store.ErrNoDataset) {
				return fiber.NewError(fiber.StatusNotFound, "no dataset loaded")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch locations")
		}
		return c.JSON(fiber.Map{
			"count":     len(ds),
			"locations": ds,
		})
	})

	v1.Get("/status", func(c *fiber.Ctx) error {
		return c.JSON(service.Status())
	})

	v1.Get("/uploads", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"reports": service.Reports(),
		})
	})

	// Click routing from the UI into the overlay coordinator. A key that no
	// longer exists is a benign race with reconciliation, not an error.
	v1.Post("/markers/click", func(c *fiber.Ctx) error {
		var req clickRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if err := service.HandleMarkerClick(c.UserContext(), dataset.Key(req.Key)); err != nil {
			if errors.Is(err, surface.ErrUnavailable) || errors.Is(err, surface.ErrNotReady) {
				return fiber.NewError(fiber.StatusServiceUnavailable, "map unavailable")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to open overlay")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})

	v1.Post("/overlays/close", func(c *fiber.Ctx) error {
		if err := service.CloseOverlays(c.UserContext()); err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to close overlay")
		}
		return c.SendStatus(fiber.StatusNoContent)
	})
}

// clickRequest identifies the clicked marker by its identity key.
type clickRequest struct {
	Key string `json:"key" validate:"required"`
}

// datasetBody returns the uploaded document: the "file" multipart field when
// present, the raw request body otherwise.
func datasetBody(c *fiber.Ctx) ([]byte, error) {
	fh, err := c.FormFile("file")
	if err != nil {
		body := c.Body()
		if len(body) == 0 {
			return nil, errors.New("empty dataset upload")
		}
		return body, nil
	}

	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return io.ReadAll(f)
}
