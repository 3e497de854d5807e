package api

import (
	"net/http"
	"strings"

	"go.uber.org/zap"

	"medos.dev/biovault/internal/core"
	"medos.dev/biovault/internal/store"
)

type scanResponse struct {
	Analysis core.AnalysisResult `json:"analysis"`
	Outcome  core.IngestOutcome  `json:"outcome"`
}

// AnalyzeScanHandler audits an uploaded prescription, bill or lab report and
// files the result under the matching profile.
func (h *APIHandler) AnalyzeScanHandler(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		h.writeError(w, core.ErrAIUnavailable, "")
		return
	}
	data, name, mimeType, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, err, "Failed to read upload")
		return
	}

	active := activeProfile(r)
	policy, err := h.profiles.LatestPolicy(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to load insurance policy")
		return
	}

	result, err := h.analyzer.AnalyzeReport(r.Context(), data, mimeType, active, policy)
	if err != nil {
		h.writeError(w, err, "Failed to analyze document")
		return
	}

	outcome, err := h.profiles.IngestAnalysis(r.Context(), result, active.ID, nil)
	if err != nil {
		h.writeError(w, err, "Failed to store analysis")
		return
	}
	h.log.Info("scan ingested",
		zap.String("file", name),
		zap.String("profile_id", outcome.ProfileID),
		zap.Int("medications_added", len(outcome.AddedMedications)))
	writeJSON(w, http.StatusCreated, scanResponse{Analysis: result, Outcome: outcome})
}

func (h *APIHandler) MedicationInfoHandler(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		h.writeError(w, core.ErrAIUnavailable, "")
		return
	}
	name := strings.TrimSpace(r.URL.Query().Get("name"))
	if name == "" {
		http.Error(w, "name query parameter is required", http.StatusBadRequest)
		return
	}
	info, err := h.analyzer.MedicationInfo(r.Context(), name)
	if err != nil {
		h.writeError(w, err, "Failed to fetch medication info")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"name": name, "info": info})
}

func (h *APIHandler) ChatHistoryHandler(w http.ResponseWriter, r *http.Request) {
	msgs, err := h.chat.History(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to load chat history")
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type PostMessageRequest struct {
	Content     string `json:"content"`
	UseWearable bool   `json:"useWearable"`
}

func (h *APIHandler) PostMessageHandler(w http.ResponseWriter, r *http.Request) {
	var req PostMessageRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err, "")
		return
	}

	var metrics *core.WatchMetrics
	if req.UseWearable {
		m := core.MockWatchMetrics()
		metrics = &m
	}
	reply, err := h.chat.Send(r.Context(), activeProfile(r), req.Content, metrics)
	if err != nil {
		h.writeError(w, err, "Failed to post message")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func (h *APIHandler) ResetChatHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.chat.Reset(r.Context()); err != nil {
		h.writeError(w, err, "Failed to reset chat")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ChatDocumentHandler analyzes an upload and adds the breakdown to the chat
// without filing it as a scan.
func (h *APIHandler) ChatDocumentHandler(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		h.writeError(w, core.ErrAIUnavailable, "")
		return
	}
	data, name, mimeType, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, err, "Failed to read upload")
		return
	}
	result, err := h.analyzer.AnalyzeReport(r.Context(), data, mimeType, activeProfile(r), nil)
	if err != nil {
		h.writeError(w, err, "Failed to analyze document")
		return
	}
	msgs, err := h.chat.RecordAnalysis(r.Context(), name, result)
	if err != nil {
		h.writeError(w, err, "Failed to store analysis")
		return
	}
	writeJSON(w, http.StatusCreated, msgs)
}

func (h *APIHandler) GetInsuranceHandler(w http.ResponseWriter, r *http.Request) {
	policy, err := h.profiles.LatestPolicy(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to load insurance policy")
		return
	}
	if policy == nil {
		http.Error(w, "No insurance policy on file", http.StatusNotFound)
		return
	}
	writeJSON(w, http.StatusOK, policy)
}

type insuranceResponse struct {
	Policy          store.InsurancePolicy `json:"policy"`
	OptimizationTip string                `json:"optimizationTip,omitempty"`
}

func (h *APIHandler) UploadInsuranceHandler(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		h.writeError(w, core.ErrAIUnavailable, "")
		return
	}
	data, _, mimeType, err := h.readUpload(w, r)
	if err != nil {
		h.writeError(w, err, "Failed to read upload")
		return
	}
	analysis, err := h.analyzer.AnalyzePolicy(r.Context(), data, mimeType)
	if err != nil {
		h.writeError(w, err, "Failed to analyze policy")
		return
	}
	policy, err := h.profiles.SavePolicy(r.Context(), analysis)
	if err != nil {
		h.writeError(w, err, "Failed to save policy")
		return
	}
	writeJSON(w, http.StatusCreated, insuranceResponse{Policy: policy, OptimizationTip: analysis.OptimizationTip})
}

type NutritionRequest struct {
	Meal string `json:"meal"`
}

func (h *APIHandler) NutritionHandler(w http.ResponseWriter, r *http.Request) {
	if h.analyzer == nil {
		h.writeError(w, core.ErrAIUnavailable, "")
		return
	}
	var req NutritionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err, "")
		return
	}
	if strings.TrimSpace(req.Meal) == "" {
		http.Error(w, "meal description is required", http.StatusBadRequest)
		return
	}
	out, err := h.analyzer.AnalyzeNutrition(r.Context(), req.Meal, activeProfile(r))
	if err != nil {
		h.writeError(w, err, "Failed to analyze meal")
		return
	}
	writeJSON(w, http.StatusOK, out)
}
