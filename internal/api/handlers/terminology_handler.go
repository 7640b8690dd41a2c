package handlers

import (
	"net/url"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medassist/backend/internal/orchestrator"
	"github.com/medassist/backend/pkg/logger"
)

type TerminologyHandler struct {
	engine *orchestrator.Engine
}

func NewTerminologyHandler(engine *orchestrator.Engine) *TerminologyHandler {
	return &TerminologyHandler{engine: engine}
}

// Search handles GET /getdiags/:term.
func (h *TerminologyHandler) Search(c *fiber.Ctx) error {
	term := c.Params("term")
	if decoded, err := url.PathUnescape(term); err == nil {
		term = decoded
	}

	matches, err := h.engine.SearchTerms(c.Context(), term)
	if err != nil {
		logger.Error("Terminology search failed",
			zap.String("term", term),
			zap.Error(err),
		)
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"result": matches,
	})
}

// MapConcept handles POST /snomed.
func (h *TerminologyHandler) MapConcept(c *fiber.Ctx) error {
	var req orchestrator.ConceptRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse snomed request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	message, err := h.engine.MapConcept(c.Context(), req)
	if err != nil {
		logger.Error("Concept mapping failed",
			zap.String("concept_name", req.ConceptName),
			zap.Error(err),
		)
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"result": message,
	})
}
