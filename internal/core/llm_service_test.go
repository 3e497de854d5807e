package core

import (
	"encoding/json"
	"testing"

	"github.com/google/generative-ai-go/genai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"medos.dev/biovault/internal/store"
)

func TestParseJSONResponse(t *testing.T) {
	var r AnalysisResult
	require.NoError(t, parseJSONResponse("```json\n{\"patientName\":\"Jane\"}\n```", &r))
	assert.Equal(t, "Jane", r.PatientName())

	var empty AnalysisResult
	require.NoError(t, parseJSONResponse("", &empty))
	assert.Empty(t, empty)

	err := parseJSONResponse("Sorry, I can't read that image.", &r)
	assert.ErrorIs(t, err, ErrAnalysisFailed)
}

func TestNutritionAnalysis_LooseScalars(t *testing.T) {
	var n NutritionAnalysis
	require.NoError(t, parseJSONResponse(`{"calories":"1,250 kcal","protein":32,"carbs":"40g","fats":null,"isHealthy":true}`, &n))
	assert.Equal(t, looseFloat(1250), n.Calories)
	assert.Equal(t, looseString("32"), n.Protein)
	assert.Equal(t, looseString("40g"), n.Carbs)
	assert.Equal(t, looseString(""), n.Fats)

	out, err := json.Marshal(n)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"calories":1250`)
}

func TestAnalysisResult_Accessors(t *testing.T) {
	r := AnalysisResult{
		"patientName":      " unknown ",
		"deducedCondition": " Hypertension ",
		"clinicalIntegrity": map[string]any{
			"medications": []any{
				map[string]any{"name": " Amlodipine ", "dosage": "5mg"},
				"not an object",
			},
		},
	}
	assert.Equal(t, "", r.PatientName())
	assert.Equal(t, "Hypertension", r.DeducedCondition())
	assert.Equal(t, []ExtractedMedication{{Name: "Amlodipine", Dosage: "5mg"}}, r.Medications())
	assert.Empty(t, AnalysisResult{}.Medications())
}

func TestResponseTextAndCitations(t *testing.T) {
	uri := "https://example.org/a"
	resp := &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []genai.Part{genai.Text("Hello "), genai.Text("there")}},
			CitationMetadata: &genai.CitationMetadata{CitationSources: []*genai.CitationSource{
				{URI: &uri}, {URI: &uri}, {},
			}},
		}},
	}
	assert.Equal(t, "Hello there", responseText(resp))
	assert.Equal(t, []store.Source{{URI: uri}}, citationSources(resp))

	assert.Equal(t, "", responseText(nil))
	assert.Nil(t, citationSources(&genai.GenerateContentResponse{}))
}

func TestReportPrompt_IncludesPolicy(t *testing.T) {
	p := reportPrompt(store.Profile{Age: 31, Country: "India"}, &store.InsurancePolicy{
		Provider: "Acme", PlanName: "Gold", PreventativeBenefits: []string{"Lipid panel", "Eye exam"},
	})
	assert.Contains(t, p, "- Age: 31")
	assert.Contains(t, p, "User has insurance from Acme (Plan: Gold). Benefits include: Lipid panel, Eye exam.")
	assert.Contains(t, reportPrompt(store.Profile{}, nil), "No insurance policy provided.")
}
