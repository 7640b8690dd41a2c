package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/medassist/backend/internal/audit"
	"github.com/medassist/backend/internal/inference"
	"github.com/medassist/backend/internal/metrics"
	"github.com/medassist/backend/internal/storage/mysql"
	"github.com/medassist/backend/internal/terminology"
	"github.com/medassist/backend/internal/upstream"
	"github.com/medassist/backend/pkg/config"
	"github.com/medassist/backend/pkg/utils"
)

// ValidationError is the only synchronous, local failure mode; it is raised
// before any external service is contacted.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

type DiagnosisRequest struct {
	VisitUUID   string `json:"visitUuid" validate:"required"`
	CaseHistory string `json:"casehistory" validate:"required"`
}

type TreatmentRequest struct {
	VisitUUID string `json:"visitUuid" validate:"required"`
	Case      string `json:"case" validate:"required"`
	Diagnosis string `json:"diagnosis" validate:"required"`
}

type ConceptRequest struct {
	ConceptName string `json:"conceptName" validate:"required"`
	SnomedCode  string `json:"snomedCode" validate:"required"`
}

// Engine runs the per-request workflow: validate, dispatch to the model or
// the concept store, normalize, audit, respond. It holds no per-request
// state; every dependency is injected once at startup.
type Engine struct {
	models   *inference.Client
	terms    *terminology.Client
	store    *mysql.Client
	sink     *audit.Sink
	elastic  config.ElasticConfig
	validate *validator.Validate
}

func NewEngine(models *inference.Client, terms *terminology.Client, store *mysql.Client, sink *audit.Sink, elastic config.ElasticConfig) *Engine {
	v := validator.New()
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	return &Engine{
		models:   models,
		terms:    terms,
		store:    store,
		sink:     sink,
		elastic:  elastic,
		validate: v,
	}
}

// Differential produces the ranked diagnosis list for a case narrative.
func (e *Engine) Differential(ctx context.Context, req DiagnosisRequest) (*inference.DiagnosisResult, error) {
	start := time.Now()
	tracker := uuid.NewString()
	digest := utils.DigestJSON(req)

	if err := e.checkRequest(req); err != nil {
		e.finish(e.elastic.DDXIndex, "ddx", req.VisitUUID, tracker, digest, start, err)
		return nil, err
	}

	result, err := e.models.Differential(ctx, req.CaseHistory, tracker,
		e.attemptRecorder(e.elastic.DDXIndex, "ddx", req.VisitUUID, tracker, digest))
	e.finish(e.elastic.DDXIndex, "ddx", req.VisitUUID, tracker, digest, start, err)
	return result, err
}

// Treatment produces the medication plan for a case and its diagnosis.
func (e *Engine) Treatment(ctx context.Context, req TreatmentRequest) (*inference.TreatmentPlan, error) {
	start := time.Now()
	tracker := uuid.NewString()
	digest := utils.DigestJSON(req)

	if err := e.checkRequest(req); err != nil {
		e.finish(e.elastic.TTXIndex, "ttx", req.VisitUUID, tracker, digest, start, err)
		return nil, err
	}

	plan, err := e.models.Treatment(ctx, req.Case, req.Diagnosis, tracker,
		e.attemptRecorder(e.elastic.TTXIndex, "ttx", req.VisitUUID, tracker, digest))
	e.finish(e.elastic.TTXIndex, "ttx", req.VisitUUID, tracker, digest, start, err)
	return plan, err
}

// SearchTerms finds candidate concepts for a free-text term.
func (e *Engine) SearchTerms(ctx context.Context, term string) ([]terminology.Match, error) {
	start := time.Now()
	tracker := uuid.NewString()
	digest := utils.HashString(term)

	if strings.TrimSpace(term) == "" {
		err := &ValidationError{Field: "term"}
		e.finish(e.elastic.SearchIndex, "getdiags", "", tracker, digest, start, err)
		return nil, err
	}

	matches, err := e.terms.Search(ctx, term,
		e.attemptRecorder(e.elastic.SearchIndex, "getdiags", "", tracker, digest))
	e.finish(e.elastic.SearchIndex, "getdiags", "", tracker, digest, start, err)
	return matches, err
}

// MapConcept records a name/code mapping in the concept dictionary and
// returns the human-readable outcome message.
func (e *Engine) MapConcept(ctx context.Context, req ConceptRequest) (string, error) {
	start := time.Now()
	tracker := uuid.NewString()
	digest := utils.DigestJSON(req)

	if err := e.checkRequest(req); err != nil {
		e.finish(e.elastic.SnomedIndex, "snomed", "", tracker, digest, start, err)
		return "", err
	}

	res, err := e.store.UpsertConcept(ctx, req.ConceptName, req.SnomedCode)
	e.finish(e.elastic.SnomedIndex, "snomed", "", tracker, digest, start, err)
	if err != nil {
		return "", err
	}

	if res.Created {
		return fmt.Sprintf("Diagnosis %s is created with Concept ID %d", req.ConceptName, res.ConceptID), nil
	}
	return fmt.Sprintf("SNOMED CT Mapping already exists for diagnosis %s with Concept ID %d", req.ConceptName, res.ConceptID), nil
}

func (e *Engine) checkRequest(req interface{}) error {
	if err := e.validate.Struct(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ValidationError{Field: verrs[0].Field()}
		}
		return &ValidationError{Field: "request"}
	}
	return nil
}

// attemptRecorder audits every outbound attempt individually so failure
// analysis can tell a first-try failure from an exhausted retry budget.
func (e *Engine) attemptRecorder(index, endpoint, visitUUID, tracker, digest string) upstream.AttemptFunc {
	return func(attempt int, err error) {
		rec := audit.Record{
			Endpoint:      endpoint,
			VisitUUID:     visitUUID,
			Tracker:       tracker,
			RequestDigest: digest,
			Outcome:       "success",
			Attempt:       attempt,
		}
		if err != nil {
			rec.Outcome = "failure"
			rec.Detail = err.Error()
		}
		e.sink.Record(index, rec)
	}
}

func (e *Engine) finish(index, endpoint, visitUUID, tracker, digest string, start time.Time, err error) {
	latency := time.Since(start)

	outcome := "success"
	detail := ""
	if err != nil {
		outcome = "failure"
		detail = err.Error()
	}

	e.sink.Record(index, audit.Record{
		Endpoint:      endpoint,
		VisitUUID:     visitUUID,
		Tracker:       tracker,
		RequestDigest: digest,
		Outcome:       outcome,
		Detail:        detail,
		LatencyMS:     latency.Milliseconds(),
	})

	metrics.RequestDuration.WithLabelValues(endpoint).Observe(latency.Seconds())
	metrics.RequestTotal.WithLabelValues(endpoint, outcome).Inc()
}
