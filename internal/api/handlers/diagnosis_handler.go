package handlers

import (
	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/medassist/backend/internal/orchestrator"
	"github.com/medassist/backend/pkg/logger"
)

type DiagnosisHandler struct {
	engine *orchestrator.Engine
}

func NewDiagnosisHandler(engine *orchestrator.Engine) *DiagnosisHandler {
	return &DiagnosisHandler{engine: engine}
}

// Differential handles POST /ddx.
func (h *DiagnosisHandler) Differential(c *fiber.Ctx) error {
	var req orchestrator.DiagnosisRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse ddx request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	result, err := h.engine.Differential(c.Context(), req)
	if err != nil {
		logger.Error("Differential diagnosis failed",
			zap.String("visit_uuid", req.VisitUUID),
			zap.Error(err),
		)
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"result":     result.Result,
		"conclusion": result.Conclusion,
	})
}

// Treatment handles POST /ttxv1.
func (h *DiagnosisHandler) Treatment(c *fiber.Ctx) error {
	var req orchestrator.TreatmentRequest
	if err := c.BodyParser(&req); err != nil {
		logger.Error("Failed to parse ttx request body", zap.Error(err))
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	plan, err := h.engine.Treatment(c.Context(), req)
	if err != nil {
		logger.Error("Treatment recommendation failed",
			zap.String("visit_uuid", req.VisitUUID),
			zap.Error(err),
		)
		return errorResponse(c, err)
	}

	return c.JSON(fiber.Map{
		"result": plan.Result,
	})
}
