package inference

import (
	"context"

	"go.uber.org/zap"

	"github.com/medassist/backend/internal/upstream"
	"github.com/medassist/backend/pkg/config"
	"github.com/medassist/backend/pkg/logger"
)

// Client talks to the differential-diagnosis and treatment model endpoints
// and normalizes their responses.
type Client struct {
	http *upstream.Client
	ddx  config.ModelConfig
	ttx  config.ModelConfig
}

type modelRequest struct {
	ModelName     string `json:"model_name"`
	Case          string `json:"case"`
	Diagnosis     string `json:"diagnosis,omitempty"`
	PromptVersion int    `json:"prompt_version,omitempty"`
	Tracker       string `json:"tracker"`
}

func NewClient(httpClient *upstream.Client, ddx, ttx config.ModelConfig) *Client {
	logger.Info("Inference client initialized",
		zap.String("ddx_model", ddx.Name),
		zap.String("ttx_model", ttx.Name),
	)
	return &Client{http: httpClient, ddx: ddx, ttx: ttx}
}

// Differential submits a case narrative and returns the normalized ranked
// diagnosis list. The tracker links the model call to its audit documents.
func (c *Client) Differential(ctx context.Context, caseText, tracker string, onAttempt upstream.AttemptFunc) (*DiagnosisResult, error) {
	payload := modelRequest{
		ModelName:     c.ddx.Name,
		Case:          caseText,
		PromptVersion: c.ddx.PromptVersion,
		Tracker:       tracker,
	}

	body, _, err := c.http.Post(ctx, c.ddx.URL, payload, onAttempt)
	if err != nil {
		return nil, err
	}

	return NormalizeDiagnosis(body)
}

// Treatment submits a case plus its primary diagnosis and returns the
// normalized medication plan.
func (c *Client) Treatment(ctx context.Context, caseText, diagnosis, tracker string, onAttempt upstream.AttemptFunc) (*TreatmentPlan, error) {
	payload := modelRequest{
		ModelName: c.ttx.Name,
		Case:      caseText,
		Diagnosis: diagnosis,
		Tracker:   tracker,
	}

	body, _, err := c.http.Post(ctx, c.ttx.URL, payload, onAttempt)
	if err != nil {
		return nil, err
	}

	return NormalizeTreatment(body)
}
