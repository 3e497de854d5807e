package core

import (
	"strconv"
	"strings"
	"time"

	"medos.dev/biovault/internal/store"
)

// State is everything a client needs after a session-changing operation.
// Active is nil when logged out.
type State struct {
	Active      *store.Profile     `json:"active"`
	Profiles    []store.Profile    `json:"profiles"`
	Medications []store.Medication `json:"medications"`
}

// LoggedIn reports whether a session is active.
func (s State) LoggedIn() bool { return s.Active != nil }

// ExportDocument is the downloadable snapshot of the active profile.
type ExportDocument struct {
	Profile     store.Profile      `json:"profile"`
	Medications []store.Medication `json:"medications"`
	ExportedAt  time.Time          `json:"exportedAt"`
}

// Filename is the conventional download name for the document.
func (d ExportDocument) Filename() string {
	return "MedOS_Export_" + strconv.FormatInt(d.ExportedAt.UnixMilli(), 10) + ".json"
}

type Stats struct {
	Profiles    int `json:"profiles"`
	Medications int `json:"medications"`
	Scans       int `json:"scans"`
}

// ChatTurn is one prior exchange entry sent to the model.
type ChatTurn struct {
	Role string // "user" or "model"
	Text string
}

type ChatRequest struct {
	SystemInstruction string
	History           []ChatTurn
	Prompt            string
}

type ChatReply struct {
	Text    string
	Sources []store.Source
}

// AnalysisResult is the structured output of a document analysis.
// Its fields are persisted verbatim on the scan record, so it stays schema-less.
type AnalysisResult map[string]any

// ExtractedMedication is one entry of clinicalIntegrity.medications.
type ExtractedMedication struct {
	Name      string
	Dosage    string
	Purpose   string
	Reasoning string
}

const unknownPatient = "Unknown"

// PatientName returns the detected patient name, or "" when absent or unknown.
func (r AnalysisResult) PatientName() string {
	name := strings.TrimSpace(r.str("patientName"))
	if strings.EqualFold(name, unknownPatient) {
		return ""
	}
	return name
}

func (r AnalysisResult) DeducedCondition() string {
	return strings.TrimSpace(r.str("deducedCondition"))
}

func (r AnalysisResult) Summary() string {
	return r.str("summary")
}

func (r AnalysisResult) Medications() []ExtractedMedication {
	integrity, _ := r["clinicalIntegrity"].(map[string]any)
	raw, _ := integrity["medications"].([]any)
	meds := make([]ExtractedMedication, 0, len(raw))
	for _, item := range raw {
		m, ok := item.(map[string]any)
		if !ok {
			continue
		}
		meds = append(meds, ExtractedMedication{
			Name:      strings.TrimSpace(str(m, "name")),
			Dosage:    strings.TrimSpace(str(m, "dosage")),
			Purpose:   strings.TrimSpace(str(m, "purpose")),
			Reasoning: strings.TrimSpace(str(m, "reasoning")),
		})
	}
	return meds
}

func (r AnalysisResult) str(key string) string { return str(r, key) }

func str(m map[string]any, key string) string {
	s, _ := m[key].(string)
	return s
}

// PolicyAnalysis is the model's reading of an insurance document.
type PolicyAnalysis struct {
	Provider             string      `json:"provider"`
	PlanName             string      `json:"planName"`
	LongevityScore       *looseFloat `json:"longevityScore,omitempty"`
	PreventativeBenefits []string    `json:"preventativeBenefits"`
	CoverageSummary      string      `json:"coverageSummary"`
	OptimizationTip      string      `json:"optimizationTip,omitempty"`
}

type NutritionAnalysis struct {
	Calories  looseFloat  `json:"calories"`
	Protein   looseString `json:"protein"`
	Carbs     looseString `json:"carbs"`
	Fats      looseString `json:"fats"`
	IsHealthy bool        `json:"isHealthy"`
	HealthTip string      `json:"healthTip"`
}

// WatchMetrics is a snapshot from the paired wearable.
type WatchMetrics struct {
	HeartRate   int     `json:"heartRate"`
	SleepHours  float64 `json:"sleepHours"`
	BloodOxygen int     `json:"bloodOxygen"`
	StressLevel int     `json:"stressLevel"`
	Steps       int     `json:"steps"`
	Calories    int     `json:"calories"`
	Battery     int     `json:"battery"`
	HRV         int     `json:"hrv"`
}

// MockWatchMetrics stands in for a real device until one is paired.
func MockWatchMetrics() WatchMetrics {
	return WatchMetrics{
		HeartRate:   68,
		SleepHours:  7.2,
		BloodOxygen: 98,
		StressLevel: 24,
		Steps:       8432,
		Calories:    450,
		Battery:     84,
		HRV:         72,
	}
}
