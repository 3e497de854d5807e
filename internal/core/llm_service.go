package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"medos.dev/biovault/internal/store"
)

var (
	// ErrAnalysisFailed means the model answered with something that is not the expected JSON.
	ErrAnalysisFailed = errors.New("analysis failed")
	// ErrAIUnavailable means no model client is configured.
	ErrAIUnavailable = errors.New("generative AI is not configured")
)

const (
	DefaultModelName = "gemini-2.0-flash"
	jsonMIMEType     = "application/json"
	emptyChatReply   = "I'm sorry, I couldn't generate a response at this time. Please try again."
)

// Analyzer runs the structured document and meal analyses.
type Analyzer interface {
	AnalyzeReport(ctx context.Context, data []byte, mimeType string, profile store.Profile, policy *store.InsurancePolicy) (AnalysisResult, error)
	AnalyzePolicy(ctx context.Context, data []byte, mimeType string) (PolicyAnalysis, error)
	AnalyzeNutrition(ctx context.Context, meal string, profile store.Profile) (NutritionAnalysis, error)
	MedicationInfo(ctx context.Context, name string) (string, error)
}

// LLMService talks to Gemini. It satisfies both ChatModel and Analyzer.
type LLMService struct {
	client    *genai.Client
	modelName string
	log       *zap.Logger
}

func NewLLMService(ctx context.Context, apiKey, modelName string, logger *zap.Logger) (*LLMService, error) {
	if apiKey == "" {
		return nil, ErrAIUnavailable
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create GenAI client: %w", err)
	}
	if modelName == "" {
		modelName = DefaultModelName
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMService{client: client, modelName: modelName, log: logger}, nil
}

func (s *LLMService) Close() {
	if s.client != nil {
		if err := s.client.Close(); err != nil {
			s.log.Warn("error closing GenAI client", zap.Error(err))
		} else {
			s.log.Info("GenAI client closed")
		}
	}
}

func (s *LLMService) Chat(ctx context.Context, req ChatRequest) (ChatReply, error) {
	model := s.client.GenerativeModel(s.modelName)
	if req.SystemInstruction != "" {
		model.SystemInstruction = &genai.Content{
			Parts: []genai.Part{genai.Text(req.SystemInstruction)},
		}
	}

	chatSession := model.StartChat()
	for _, turn := range req.History {
		chatSession.History = append(chatSession.History, &genai.Content{
			Role:  turn.Role,
			Parts: []genai.Part{genai.Text(turn.Text)},
		})
	}

	resp, err := chatSession.SendMessage(ctx, genai.Text(req.Prompt))
	if err != nil {
		return ChatReply{}, fmt.Errorf("gemini chat SendMessage failed: %w", err)
	}

	text := responseText(resp)
	if text == "" {
		s.log.Warn("gemini response was empty or had no text parts")
		text = emptyChatReply
	}
	return ChatReply{Text: text, Sources: citationSources(resp)}, nil
}

func (s *LLMService) AnalyzeReport(ctx context.Context, data []byte, mimeType string, profile store.Profile, policy *store.InsurancePolicy) (AnalysisResult, error) {
	var result AnalysisResult
	prompt := reportPrompt(profile, policy)
	if err := s.generateJSON(ctx, &result, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(prompt)); err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("%w: empty analysis", ErrAnalysisFailed)
	}
	return result, nil
}

func (s *LLMService) AnalyzePolicy(ctx context.Context, data []byte, mimeType string) (PolicyAnalysis, error) {
	var out PolicyAnalysis
	if err := s.generateJSON(ctx, &out, genai.Blob{MIMEType: mimeType, Data: data}, genai.Text(policyPrompt)); err != nil {
		return PolicyAnalysis{}, err
	}
	return out, nil
}

func (s *LLMService) AnalyzeNutrition(ctx context.Context, meal string, profile store.Profile) (NutritionAnalysis, error) {
	var out NutritionAnalysis
	prompt := fmt.Sprintf("User: %s, Country: %s.\nAnalyze this meal: %q.\n"+
		"Output JSON with keys: calories, protein, carbs, fats, isHealthy, healthTip.",
		profile.Name, profile.Country, meal)
	if err := s.generateJSON(ctx, &out, genai.Text(prompt)); err != nil {
		return NutritionAnalysis{}, err
	}
	return out, nil
}

func (s *LLMService) MedicationInfo(ctx context.Context, name string) (string, error) {
	model := s.client.GenerativeModel(s.modelName)
	resp, err := model.GenerateContent(ctx, genai.Text(fmt.Sprintf("Medication: %s. Give me the 'Lifestyle Vibe'.", name)))
	if err != nil {
		return "", fmt.Errorf("gemini medication info request failed: %w", err)
	}
	return responseText(resp), nil
}

func (s *LLMService) generateJSON(ctx context.Context, out any, parts ...genai.Part) error {
	model := s.client.GenerativeModel(s.modelName)
	model.ResponseMIMEType = jsonMIMEType

	resp, err := model.GenerateContent(ctx, parts...)
	if err != nil {
		return fmt.Errorf("gemini request failed: %w", err)
	}
	if err := parseJSONResponse(responseText(resp), out); err != nil {
		s.log.Warn("analysis parse error", zap.Error(err))
		return err
	}
	return nil
}

// parseJSONResponse decodes model output, tolerating Markdown code fences.
func parseJSONResponse(text string, out any) error {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		cleaned = "{}"
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("%w: %v", ErrAnalysisFailed, err)
	}
	return nil
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if txt, ok := part.(genai.Text); ok {
			b.WriteString(string(txt))
		}
	}
	return b.String()
}

func citationSources(resp *genai.GenerateContentResponse) []store.Source {
	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].CitationMetadata == nil {
		return nil
	}
	var sources []store.Source
	seen := map[string]bool{}
	for _, cs := range resp.Candidates[0].CitationMetadata.CitationSources {
		if cs == nil || cs.URI == nil || *cs.URI == "" || seen[*cs.URI] {
			continue
		}
		seen[*cs.URI] = true
		sources = append(sources, store.Source{URI: *cs.URI})
	}
	return sources
}

const policyPrompt = `Analyze this insurance policy document.
Output JSON with these keys:
- provider: Name of insurer
- planName: Name of plan
- longevityScore: A score from 0-100
- preventativeBenefits: Array of key covered preventative screenings.
- coverageSummary: Professional summary.
- optimizationTip: 1 tip.`

func reportPrompt(profile store.Profile, policy *store.InsurancePolicy) string {
	insuranceContext := "No insurance policy provided."
	if policy != nil {
		insuranceContext = fmt.Sprintf("User has insurance from %s (Plan: %s). Benefits include: %s. Policy Summary: %s.",
			policy.Provider, policy.PlanName, strings.Join(policy.PreventativeBenefits, ", "), policy.CoverageSummary)
	}
	return fmt.Sprintf(`CRITICAL SYSTEM TASK: Clinical & Financial Auditor.

USER PROFILE:
- Age: %d
- Country: %s
- Insurance Context: %s

GOAL:
Analyze the attached image/document (it is either a Medication Prescription or a Hospital Bill).

1. EXTRACT PATIENT NAME: Find the full name of the patient listed.
2. DETECT ERRORS: Be aggressive in finding red flags, redundancies, or billing errors.

IF IT IS A PRESCRIPTION:
- Explain EXACT clinical use (why) and reasoning (how) for each.
- AUDIT: Identify 'faultyMeds': redundancies, high-risk interactions, or clinically unnecessary items.

IF IT IS A HOSPITAL BILL:
- Extract hospital name and total spent.
- AUDIT: Cross-reference charges against insurance. Identify 'coverageDiscrepancies'.

BIO-ADVOCACY EMAIL (MANDATORY):
Generate a complete, professional, firm email draft.
- If errors were found, demand rectification.
- If no errors were found, provide a "Clinical Verification Request" email instead.

Output JSON schema:
{
  "docType": "prescription" | "bill" | "lab_report",
  "patientName": "string",
  "hospitalName": "string",
  "summary": "snappy summary",
  "deducedCondition": "string",
  "clinicalIntegrity": {
    "medications": [{"name": "string", "dosage": "string", "purpose": "string", "reasoning": "string"}],
    "faultyMeds": ["string"]
  },
  "billingAudit": {
    "totalAmount": "string",
    "currency": "string",
    "items": [{"item": "string", "cost": number}],
    "coverageDiscrepancies": ["string"]
  },
  "bioAdvocacyEmail": {
    "primaryErrorHighlight": "string",
    "recipientEmail": "string",
    "subject": "string",
    "body": "string"
  },
  "recommendedQuestions": ["string"]
}`, profile.Age, profile.Country, insuranceContext)
}
