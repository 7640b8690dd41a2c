package inference

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestNormalizeDiagnosis_FreeTextBlock(t *testing.T) {
	body := []byte(`{
		"data": {
			"conclusion": "Most likely viral respiratory infection",
			"output": {
				"diagnosis": "1. COVID-19 (Likelihood: High)\n2. Influenza (Likelihood: Medium)",
				"rationale": "1. COVID-19 Clinical presentation with fever and cough. 2. Influenza Seasonal pattern fits."
			}
		}
	}`)

	result, err := NormalizeDiagnosis(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	if result.Entries[0].Diagnosis != "COVID-19" || result.Entries[0].Likelihood != "High" {
		t.Errorf("unexpected first entry: %+v", result.Entries[0])
	}
	if result.Entries[1].Diagnosis != "Influenza" || result.Entries[1].Likelihood != "Medium" {
		t.Errorf("unexpected second entry: %+v", result.Entries[1])
	}
	if result.Entries[0].Rationale == "" {
		t.Error("expected rationale attached to first entry")
	}
	if result.Conclusion != "Most likely viral respiratory infection" {
		t.Errorf("unexpected conclusion: %q", result.Conclusion)
	}
}

func TestNormalizeDiagnosis_StructuredShape(t *testing.T) {
	body := []byte(`{
		"data": {
			"conclusion": "c",
			"output": {
				"diagnosis": [
					{"diagnosis": "Dengue", "likelihood": "High", "rationale": "endemic area"},
					{"diagnosis": "Malaria", "likelihood": "Low", "rationale": "no travel"}
				],
				"rationale": ""
			}
		}
	}`)

	result, err := NormalizeDiagnosis(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(result.Entries))
	}
	if result.Entries[0].Diagnosis != "Dengue" || result.Entries[0].Rationale != "endemic area" {
		t.Errorf("unexpected first entry: %+v", result.Entries[0])
	}
}

func TestNormalizeDiagnosis_UnparsableLinesSkipped(t *testing.T) {
	body := []byte(`{
		"data": {
			"output": {
				"diagnosis": "Here are the results:\n1. Pneumonia (Likelihood: High)\nPlease consult a physician."
			}
		}
	}`)

	result, err := NormalizeDiagnosis(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(result.Entries))
	}
}

func TestNormalizeDiagnosis_ZeroEntriesIsMalformed(t *testing.T) {
	body := []byte(`{
		"data": {
			"output": {
				"diagnosis": "The model could not determine a diagnosis for this case."
			}
		}
	}`)

	_, err := NormalizeDiagnosis(body)
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
}

func TestNormalizeDiagnosis_MissingDiagnosisField(t *testing.T) {
	_, err := NormalizeDiagnosis([]byte(`{"data": {"output": {}}}`))
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
}

func TestNormalizeDiagnosis_NotJSON(t *testing.T) {
	_, err := NormalizeDiagnosis([]byte(`model exploded`))
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
}

func TestNormalizeDiagnosis_UnknownFieldsPassThrough(t *testing.T) {
	body := []byte(`{
		"modelVersion": "v7",
		"data": {
			"conclusion": "c",
			"confidence": 0.93,
			"output": {
				"diagnosis": "1. Asthma (Likelihood: High)"
			}
		}
	}`)

	result, err := NormalizeDiagnosis(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result.Result["modelVersion"] != "v7" {
		t.Error("expected top-level extra field to pass through")
	}
	data := result.Result["data"].(map[string]interface{})
	if data["confidence"] != 0.93 {
		t.Error("expected nested extra field to pass through")
	}

	// The parsed entries replace the raw text in the served document.
	output := data["output"].(map[string]interface{})
	entries, ok := output["diagnosis"].([]DiagnosisEntry)
	if !ok || len(entries) != 1 {
		t.Fatalf("expected parsed entries in output.diagnosis, got %T", output["diagnosis"])
	}
}

func TestNormalizeTreatment_StructuredShape(t *testing.T) {
	body := []byte(`{
		"data": {
			"medications": [
				{"name": "Paracetamol", "dosage": "500mg", "duration": "5 days"}
			],
			"recommendations": "Rest and hydration."
		}
	}`)

	plan, err := NormalizeTreatment(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Medications) != 1 || plan.Medications[0].Name != "Paracetamol" {
		t.Errorf("unexpected medications: %+v", plan.Medications)
	}
	if plan.Recommendations != "Rest and hydration." {
		t.Errorf("unexpected recommendations: %q", plan.Recommendations)
	}
}

func TestNormalizeTreatment_FreeTextBlock(t *testing.T) {
	body := []byte(`{
		"data": {
			"output": "1. Amoxicillin (Dosage: 250mg three times daily, Duration: 7 days)\n2. Ibuprofen (Dosage: 400mg as needed, Duration: 3 days)",
			"recommendations": "Complete the full antibiotic course."
		}
	}`)

	plan, err := NormalizeTreatment(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(plan.Medications) != 2 {
		t.Fatalf("expected 2 medications, got %d", len(plan.Medications))
	}
	if plan.Medications[0].Name != "Amoxicillin" || plan.Medications[0].Duration != "7 days" {
		t.Errorf("unexpected first medication: %+v", plan.Medications[0])
	}
}

func TestNormalizeTreatment_EmptyIsMalformed(t *testing.T) {
	_, err := NormalizeTreatment([]byte(`{"data": {"output": "no usable plan"}}`))
	var malformed *MalformedResponseError
	if !errors.As(err, &malformed) {
		t.Fatalf("expected MalformedResponseError, got %v", err)
	}
}

func TestNormalizeTreatment_ResultDocumentIsServable(t *testing.T) {
	body := []byte(`{
		"data": {
			"output": "1. Aspirin (Dosage: 75mg daily, Duration: ongoing)",
			"recommendations": "Review in two weeks."
		}
	}`)

	plan, err := NormalizeTreatment(body)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	encoded, err := json.Marshal(plan.Result)
	if err != nil {
		t.Fatalf("result document should marshal: %v", err)
	}
	var round map[string]interface{}
	if err := json.Unmarshal(encoded, &round); err != nil {
		t.Fatalf("result document should round-trip: %v", err)
	}
	data := round["data"].(map[string]interface{})
	if _, ok := data["medications"]; !ok {
		t.Error("expected medications in served document")
	}
	if _, ok := data["output"]; ok {
		t.Error("raw output block should not be served")
	}
}
