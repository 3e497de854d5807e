package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"medos.dev/biovault/internal/auth"
	"medos.dev/biovault/internal/core"
	"medos.dev/biovault/internal/objectstore"
	"medos.dev/biovault/internal/store"
)

const defaultMaxUploadBytes = 20 << 20

// Archiver stores export documents somewhere durable and returns their location.
type Archiver interface {
	Archive(ctx context.Context, key string, data []byte, contentType string) (string, error)
}

// Deps are the collaborators the handlers need. Analyzer and Archiver may
// be nil; the endpoints that need them then answer 503.
type Deps struct {
	Profiles       *core.ProfileService
	Chat           *core.ChatService
	Analyzer       core.Analyzer
	Archiver       Archiver
	Tokens         *auth.Issuer
	Logger         *zap.Logger
	MaxUploadBytes int64
}

type APIHandler struct {
	profiles  *core.ProfileService
	chat      *core.ChatService
	analyzer  core.Analyzer
	archiver  Archiver
	tokens    *auth.Issuer
	log       *zap.Logger
	maxUpload int64
}

func NewAPIHandler(d Deps) *APIHandler {
	h := &APIHandler{
		profiles:  d.Profiles,
		chat:      d.Chat,
		analyzer:  d.Analyzer,
		archiver:  d.Archiver,
		tokens:    d.Tokens,
		log:       d.Logger,
		maxUpload: d.MaxUploadBytes,
	}
	if h.log == nil {
		h.log = zap.NewNop()
	}
	if h.maxUpload <= 0 {
		h.maxUpload = defaultMaxUploadBytes
	}
	return h
}

type ctxKey int

const activeProfileKey ctxKey = iota

func activeProfile(r *http.Request) store.Profile {
	p, _ := r.Context().Value(activeProfileKey).(store.Profile)
	return p
}

var errNoBearer = errors.New("authorization header is required")

// bearerSubject returns the profile id carried by the request's bearer token.
func (h *APIHandler) bearerSubject(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errNoBearer
	}
	tokenString := strings.TrimPrefix(authHeader, "Bearer ")
	return h.tokens.ValidateJWT(tokenString)
}

// JWTAuthMiddleware requires a valid bearer token issued for the profile the
// live session points to.
func (h *APIHandler) JWTAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		profileID, err := h.bearerSubject(r)
		if errors.Is(err, errNoBearer) {
			http.Error(w, "Authorization header is required", http.StatusUnauthorized)
			return
		}
		if err != nil {
			http.Error(w, "Invalid token", http.StatusUnauthorized)
			return
		}

		profile, err := h.profiles.ActiveProfile(r.Context())
		if err != nil {
			h.writeError(w, err, "Failed to resolve session")
			return
		}
		if profile.ID != profileID {
			http.Error(w, "Token does not match the active session", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), activeProfileKey, profile)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fmt.Errorf("%w: invalid request body: %v", core.ErrInvalidInput, err)
	}
	return nil
}

// writeError maps domain errors to status codes. Unexpected errors are
// logged and reported with msg only.
func (h *APIHandler) writeError(w http.ResponseWriter, err error, msg string) {
	switch {
	case errors.Is(err, core.ErrInvalidInput), errors.Is(err, store.ErrMissingKey):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, core.ErrNotSignedIn):
		http.Error(w, "Not signed in", http.StatusUnauthorized)
	case errors.Is(err, core.ErrProfileNotFound), errors.Is(err, core.ErrMedicationAbsent):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, core.ErrAnalysisFailed):
		h.log.Warn(msg, zap.Error(err))
		http.Error(w, "Analysis failed. Please ensure the document is clear.", http.StatusBadGateway)
	case errors.Is(err, core.ErrAIUnavailable), errors.Is(err, objectstore.ErrNotConfigured):
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
	default:
		h.log.Error(msg, zap.Error(err))
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

type sessionResponse struct {
	State core.State `json:"state"`
	Token string     `json:"token,omitempty"`
}

func (h *APIHandler) sessionResponse(st core.State) (sessionResponse, error) {
	resp := sessionResponse{State: st}
	if st.Active != nil {
		token, err := h.tokens.GenerateJWT(st.Active.ID)
		if err != nil {
			return resp, err
		}
		resp.Token = token
	}
	return resp, nil
}

func (h *APIHandler) writeSession(w http.ResponseWriter, st core.State) {
	resp, err := h.sessionResponse(st)
	if err != nil {
		h.writeError(w, err, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *APIHandler) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// BootstrapHandler is public. It hands out a token only when it created the
// default profile; resuming an existing session needs that session's token.
func (h *APIHandler) BootstrapHandler(w http.ResponseWriter, r *http.Request) {
	st, created, err := h.profiles.Bootstrap(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to bootstrap")
		return
	}
	if created || st.Active == nil {
		h.writeSession(w, st)
		return
	}
	profileID, err := h.bearerSubject(r)
	if err != nil || profileID != st.Active.ID {
		http.Error(w, "A token for the active session is required", http.StatusUnauthorized)
		return
	}
	h.writeSession(w, st)
}

type SignInRequest struct {
	Email string `json:"email"`
}

type signInResponse struct {
	sessionResponse
	Created bool `json:"created"`
}

func (h *APIHandler) SignInHandler(w http.ResponseWriter, r *http.Request) {
	var req SignInRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, err, "")
		return
	}

	_, created, err := h.profiles.SignIn(r.Context(), req.Email)
	if err != nil {
		h.writeError(w, err, "Failed to sign in")
		return
	}
	st, err := h.profiles.ActiveState(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to load state")
		return
	}
	resp, err := h.sessionResponse(st)
	if err != nil {
		h.writeError(w, err, "Failed to generate token")
		return
	}
	writeJSON(w, http.StatusOK, signInResponse{sessionResponse: resp, Created: created})
}

func (h *APIHandler) SignOutHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.SignOut(r.Context()); err != nil {
		h.writeError(w, err, "Failed to sign out")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) StateHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.profiles.ActiveState(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to load state")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) ListProfilesHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.profiles.ActiveState(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to list profiles")
		return
	}
	writeJSON(w, http.StatusOK, st.Profiles)
}

func (h *APIHandler) AddProfileHandler(w http.ResponseWriter, r *http.Request) {
	var p store.Profile
	if err := decodeBody(r, &p); err != nil {
		h.writeError(w, err, "")
		return
	}
	profiles, err := h.profiles.AddProfile(r.Context(), p)
	if err != nil {
		h.writeError(w, err, "Failed to add profile")
		return
	}
	writeJSON(w, http.StatusCreated, profiles)
}

func (h *APIHandler) DeleteProfileHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.profiles.DeleteProfile(r.Context(), chi.URLParam(r, "profileID"))
	if err != nil {
		h.writeError(w, err, "Failed to delete profile")
		return
	}
	h.writeSession(w, st)
}

func (h *APIHandler) ActivateProfileHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.profiles.SwitchProfile(r.Context(), chi.URLParam(r, "profileID"))
	if err != nil {
		h.writeError(w, err, "Failed to switch profile")
		return
	}
	h.writeSession(w, st)
}

func (h *APIHandler) ListScansHandler(w http.ResponseWriter, r *http.Request) {
	scans, err := h.profiles.ListScans(r.Context(), chi.URLParam(r, "profileID"))
	if err != nil {
		h.writeError(w, err, "Failed to list scans")
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (h *APIHandler) ListMedicationsHandler(w http.ResponseWriter, r *http.Request) {
	meds, err := h.profiles.ListMedications(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to list medications")
		return
	}
	writeJSON(w, http.StatusOK, meds)
}

func (h *APIHandler) AddMedicationHandler(w http.ResponseWriter, r *http.Request) {
	var m store.Medication
	if err := decodeBody(r, &m); err != nil {
		h.writeError(w, err, "")
		return
	}
	saved, err := h.profiles.AddMedication(r.Context(), m)
	if err != nil {
		h.writeError(w, err, "Failed to add medication")
		return
	}
	writeJSON(w, http.StatusCreated, saved)
}

func (h *APIHandler) DeleteMedicationHandler(w http.ResponseWriter, r *http.Request) {
	if err := h.profiles.DeleteMedication(r.Context(), chi.URLParam(r, "medicationID")); err != nil {
		h.writeError(w, err, "Failed to delete medication")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) MarkTakenHandler(w http.ResponseWriter, r *http.Request) {
	m, err := h.profiles.MarkMedicationTaken(r.Context(), chi.URLParam(r, "medicationID"))
	if err != nil {
		h.writeError(w, err, "Failed to update medication")
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *APIHandler) WearableHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, core.MockWatchMetrics())
}

func (h *APIHandler) StatsHandler(w http.ResponseWriter, r *http.Request) {
	st, err := h.profiles.Stats(r.Context())
	if err != nil {
		h.writeError(w, err, "Failed to compute stats")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *APIHandler) exportDocument(r *http.Request) (core.ExportDocument, []byte, error) {
	doc, err := h.profiles.Export(r.Context())
	if err != nil {
		return doc, nil, err
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return doc, nil, fmt.Errorf("failed to encode export: %w", err)
	}
	return doc, data, nil
}

func (h *APIHandler) ExportHandler(w http.ResponseWriter, r *http.Request) {
	doc, data, err := h.exportDocument(r)
	if err != nil {
		h.writeError(w, err, "Failed to export")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", doc.Filename()))
	w.Write(data)
}

func (h *APIHandler) ArchiveExportHandler(w http.ResponseWriter, r *http.Request) {
	if h.archiver == nil {
		h.writeError(w, objectstore.ErrNotConfigured, "")
		return
	}
	doc, data, err := h.exportDocument(r)
	if err != nil {
		h.writeError(w, err, "Failed to export")
		return
	}
	key := fmt.Sprintf("exports/%s/%s", doc.Profile.ID, doc.Filename())
	url, err := h.archiver.Archive(r.Context(), key, data, "application/json")
	if err != nil {
		h.writeError(w, err, "Failed to archive export")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url, "filename": doc.Filename()})
}

// readUpload pulls the "file" part of a multipart request into memory.
func (h *APIHandler) readUpload(w http.ResponseWriter, r *http.Request) (data []byte, name, mimeType string, err error) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(h.maxUpload); err != nil {
		return nil, "", "", fmt.Errorf("%w: invalid multipart form: %v", core.ErrInvalidInput, err)
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		return nil, "", "", fmt.Errorf("%w: file is required", core.ErrInvalidInput)
	}
	defer file.Close()

	data, err = io.ReadAll(file)
	if err != nil {
		return nil, "", "", fmt.Errorf("failed to read upload: %w", err)
	}
	mimeType = header.Header.Get("Content-Type")
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, header.Filename, mimeType, nil
}
