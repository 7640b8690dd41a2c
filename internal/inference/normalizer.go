package inference

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// MalformedResponseError means the model responded but the payload could not
// be shaped into the response contract. Distinct from an upstream failure and
// from an empty-but-valid result.
type MalformedResponseError struct {
	Reason string
}

func (e *MalformedResponseError) Error() string {
	return fmt.Sprintf("malformed model response: %s", e.Reason)
}

type DiagnosisEntry struct {
	Diagnosis  string `json:"diagnosis"`
	Rationale  string `json:"rationale"`
	Likelihood string `json:"likelihood"`
}

// DiagnosisResult is the stable shape served to clients. Result holds the
// full upstream document with data.output.diagnosis replaced by the parsed
// entries; unknown upstream fields pass through untouched.
type DiagnosisResult struct {
	Result     map[string]interface{}
	Conclusion string
	Entries    []DiagnosisEntry
}

type Medication struct {
	Name     string `json:"name"`
	Dosage   string `json:"dosage"`
	Duration string `json:"duration"`
}

type TreatmentPlan struct {
	Result          map[string]interface{}
	Medications     []Medication
	Recommendations string
}

var (
	diagnosisLine  = regexp.MustCompile(`^\s*\d+\.\s*(.+?)\s*\(Likelihood:\s*([^)]+)\)\s*$`)
	medicationLine = regexp.MustCompile(`^\s*\d+\.\s*(.+?)\s*\(Dosage:\s*([^,]+),\s*Duration:\s*([^)]+)\)\s*$`)
)

// NormalizeDiagnosis accepts both model output shapes: data.output.diagnosis
// as a structured entry array, or as a numbered free-text block.
func NormalizeDiagnosis(body []byte) (*DiagnosisResult, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &MalformedResponseError{Reason: "response is not a JSON object"}
	}

	var env struct {
		Data struct {
			Conclusion string `json:"conclusion"`
			Output     struct {
				Diagnosis json.RawMessage `json:"diagnosis"`
				Rationale string          `json:"rationale"`
			} `json:"output"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &MalformedResponseError{Reason: "unexpected field types in response"}
	}

	if len(env.Data.Output.Diagnosis) == 0 {
		return nil, &MalformedResponseError{Reason: "missing data.output.diagnosis"}
	}

	entries, err := parseDiagnosisField(env.Data.Output.Diagnosis)
	if err != nil {
		return nil, err
	}

	attachRationale(entries, env.Data.Output.Rationale)
	setOutputField(doc, "diagnosis", entries)

	return &DiagnosisResult{
		Result:     doc,
		Conclusion: env.Data.Conclusion,
		Entries:    entries,
	}, nil
}

func parseDiagnosisField(raw json.RawMessage) ([]DiagnosisEntry, error) {
	var structured []DiagnosisEntry
	if err := json.Unmarshal(raw, &structured); err == nil {
		if len(structured) == 0 {
			return nil, &MalformedResponseError{Reason: "diagnosis list is empty"}
		}
		return structured, nil
	}

	var text string
	if err := json.Unmarshal(raw, &text); err != nil {
		return nil, &MalformedResponseError{Reason: "diagnosis is neither a list nor text"}
	}
	if strings.TrimSpace(text) == "" {
		return nil, &MalformedResponseError{Reason: "diagnosis text is empty"}
	}

	var entries []DiagnosisEntry
	for _, line := range strings.Split(text, "\n") {
		m := diagnosisLine.FindStringSubmatch(line)
		if m == nil {
			// Unparsable lines are skipped, not fatal.
			continue
		}
		entries = append(entries, DiagnosisEntry{
			Diagnosis:  strings.TrimSpace(m[1]),
			Likelihood: strings.TrimSpace(m[2]),
		})
	}
	if len(entries) == 0 {
		return nil, &MalformedResponseError{Reason: "no diagnosis entries could be parsed"}
	}
	return entries, nil
}

// attachRationale carves the free-text rationale block into per-entry
// segments by locating the "<n>. <name>" markers that models emit.
func attachRationale(entries []DiagnosisEntry, rationale string) {
	if rationale == "" {
		return
	}
	for i := range entries {
		if entries[i].Rationale != "" {
			continue
		}
		marker := fmt.Sprintf("%d. %s", i+1, entries[i].Diagnosis)
		start := strings.Index(rationale, marker)
		if start == -1 {
			continue
		}
		start += len(marker)
		end := len(rationale)
		if i+1 < len(entries) {
			next := fmt.Sprintf("%d. %s", i+2, entries[i+1].Diagnosis)
			if idx := strings.Index(rationale[start:], next); idx != -1 {
				end = start + idx
			}
		}
		entries[i].Rationale = cleanRationale(rationale[start:end])
	}
}

func cleanRationale(s string) string {
	s = strings.ReplaceAll(s, "**Rationale:**", "")
	s = strings.ReplaceAll(s, "**Clinical Relevance and Features:**", "")
	s = strings.ReplaceAll(s, "*", "")
	return strings.Join(strings.Fields(s), " ")
}

// NormalizeTreatment accepts a structured medications array or a numbered
// free-text block under data.output.
func NormalizeTreatment(body []byte) (*TreatmentPlan, error) {
	var doc map[string]interface{}
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, &MalformedResponseError{Reason: "response is not a JSON object"}
	}

	var env struct {
		Data struct {
			Medications     json.RawMessage `json:"medications"`
			Recommendations string          `json:"recommendations"`
			Output          string          `json:"output"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &MalformedResponseError{Reason: "unexpected field types in response"}
	}

	var meds []Medication
	switch {
	case len(env.Data.Medications) > 0:
		if err := json.Unmarshal(env.Data.Medications, &meds); err != nil {
			return nil, &MalformedResponseError{Reason: "medications list is not parseable"}
		}
	case strings.TrimSpace(env.Data.Output) != "":
		for _, line := range strings.Split(env.Data.Output, "\n") {
			m := medicationLine.FindStringSubmatch(line)
			if m == nil {
				continue
			}
			meds = append(meds, Medication{
				Name:     strings.TrimSpace(m[1]),
				Dosage:   strings.TrimSpace(m[2]),
				Duration: strings.TrimSpace(m[3]),
			})
		}
	}

	if len(meds) == 0 && strings.TrimSpace(env.Data.Recommendations) == "" {
		return nil, &MalformedResponseError{Reason: "no medications or recommendations in response"}
	}

	if data, ok := doc["data"].(map[string]interface{}); ok {
		data["medications"] = meds
		data["recommendations"] = env.Data.Recommendations
		delete(data, "output")
	}

	return &TreatmentPlan{
		Result:          doc,
		Medications:     meds,
		Recommendations: env.Data.Recommendations,
	}, nil
}

func setOutputField(doc map[string]interface{}, key string, value interface{}) {
	data, ok := doc["data"].(map[string]interface{})
	if !ok {
		return
	}
	output, ok := data["output"].(map[string]interface{})
	if !ok {
		return
	}
	output[key] = value
}
