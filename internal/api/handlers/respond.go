package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/medassist/backend/internal/inference"
	"github.com/medassist/backend/internal/orchestrator"
	"github.com/medassist/backend/internal/storage/mysql"
	"github.com/medassist/backend/internal/upstream"
)

// errorResponse maps the pipeline error taxonomy onto client-facing status
// codes. Raw upstream payloads and store details never leave the process;
// only summaries do.
func errorResponse(c *fiber.Ctx, err error) error {
	var validationErr *orchestrator.ValidationError
	if errors.As(err, &validationErr) {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": validationErr.Error(),
		})
	}

	var conflictErr *mysql.ConceptConflictError
	if errors.As(err, &conflictErr) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": conflictErr.Error(),
		})
	}

	var storeErr *mysql.StoreError
	if errors.As(err, &storeErr) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Concept store unavailable",
		})
	}

	var malformedErr *inference.MalformedResponseError
	if errors.As(err, &malformedErr) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Model response could not be interpreted",
		})
	}

	var upstreamErr *upstream.UpstreamError
	var transportErr *upstream.TransportError
	if errors.As(err, &upstreamErr) || errors.As(err, &transportErr) {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": "Upstream service unavailable",
		})
	}

	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
		"error": "Internal server error",
	})
}
