// Package api exposes HTTP handlers for the volunteer registration service.
package api

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strconv"

	"example.com/volunteer/internal/auth"
	"example.com/volunteer/internal/domain"
	"example.com/volunteer/internal/persistence"
)

const maxBodyBytes = 1 << 20

// Handler coordinates HTTP requests with the domain service.
type Handler struct {
	service *domain.Service
	logger  *log.Logger
}

// NewHandler builds a Handler.
func NewHandler(service *domain.Service, logger *log.Logger) *Handler {
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes wires endpoints to the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", healthz)
	mux.HandleFunc("GET /v1/activities/{id}", h.getActivity)
	mux.HandleFunc("GET /v1/activities/{id}/attempts", h.checkAttempt)
	mux.HandleFunc("POST /v1/activities/{id}/registrations", h.register)
	mux.HandleFunc("POST /v1/registrations", h.registerBatch)
	mux.HandleFunc("GET /v1/registrations", h.listRegistrations)
	mux.HandleFunc("GET /v1/registrations/{id}", h.getRegistration)
	mux.HandleFunc("PATCH /v1/registrations/{id}", h.updateStatus)
	mux.HandleFunc("DELETE /v1/registrations/{id}", h.deleteRegistration)
	mux.HandleFunc("POST /v1/plans", h.plan)
}

// healthz reports a simple OK status for container health checks.
func healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (h *Handler) getActivity(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireScope(w, r, auth.ScopeRegistrationsRead); !ok {
		return
	}
	activity, err := h.service.GetActivity(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toActivityView(*activity))
}

func (h *Handler) checkAttempt(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRegistrationsRead)
	if !ok {
		return
	}
	status, err := h.service.CheckAttempt(r.Context(), claims.Subject, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, AttemptView{
		Attempts:    status.Attempts,
		MaxAttempts: status.MaxAttempts,
		CanRegister: status.CanRegister,
	})
}

func (h *Handler) register(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRegistrationsWrite)
	if !ok {
		return
	}
	registration, err := h.service.Register(r.Context(), claims.Subject, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRegistrationView(registration))
}

func (h *Handler) registerBatch(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRegistrationsWrite)
	if !ok {
		return
	}
	var req CreateRegistrationsRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	created, err := h.service.RegisterBatch(r.Context(), claims.Subject, req.ActivityIDs)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, CreateRegistrationsResponse{Created: toRegistrationViews(created)})
}

func (h *Handler) listRegistrations(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRegistrationsRead)
	if !ok {
		return
	}

	query := r.URL.Query()
	limit := 0
	if raw := query.Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, "validation_failed", "limit must be a non-negative integer")
			return
		}
		limit = parsed
	}
	cursor, err := persistence.DecodeCursor(query.Get("cursor"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "validation_failed", "invalid cursor")
		return
	}

	items, next, err := h.service.ListRegistrations(r.Context(), claims.Subject, cursor, limit)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ListRegistrationsResponse{
		Items:      toRegistrationViews(items),
		NextCursor: persistence.EncodeCursor(next),
	})
}

func (h *Handler) getRegistration(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRegistrationsRead)
	if !ok {
		return
	}
	registration, err := h.service.GetRegistration(r.Context(), claims.Subject, r.PathValue("id"))
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationView(*registration))
}

func (h *Handler) updateStatus(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRegistrationsWrite)
	if !ok {
		return
	}
	var req UpdateStatusRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	target, err := domain.ParseStatus(req.Status)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	updated, err := h.service.SetStatus(r.Context(), claims.Subject, r.PathValue("id"), target)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toRegistrationView(updated))
}

func (h *Handler) deleteRegistration(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRegistrationsWrite)
	if !ok {
		return
	}
	if err := h.service.DeleteRegistration(r.Context(), claims.Subject, r.PathValue("id")); err != nil {
		h.writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	claims, ok := requireScope(w, r, auth.ScopeRegistrationsRead)
	if !ok {
		return
	}
	var req PlanRequest
	if !decodeRequest(w, r, &req) {
		return
	}
	format, err := domain.ParseFormat(req.Format)
	if err != nil {
		h.writeDomainError(w, err)
		return
	}
	result, err := h.service.PlanForUser(r.Context(), claims.Subject, domain.PlanRequest{
		TargetHours: req.TargetHours,
		Format:      format,
		Quarter:     domain.Quarter(req.Quarter),
	})
	if err != nil {
		h.writeDomainError(w, err)
		return
	}

	selection := make([]ActivityView, 0, len(result.Selection))
	for _, activity := range result.Selection {
		selection = append(selection, toActivityView(activity))
	}
	writeJSON(w, http.StatusOK, PlanResponse{
		Selection:     selection,
		AchievedHours: result.AchievedHours,
		Shortfall:     result.Shortfall,
	})
}

// requireScope resolves the caller's claims and checks they carry scope.
// Write scope implies read access.
func requireScope(w http.ResponseWriter, r *http.Request, scope string) (*auth.Claims, bool) {
	claims, ok := auth.FromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "unauthorized", "missing bearer token")
		return nil, false
	}
	if claims.HasScope(scope) {
		return claims, true
	}
	if scope == auth.ScopeRegistrationsRead && claims.HasScope(auth.ScopeRegistrationsWrite) {
		return claims, true
	}
	writeError(w, http.StatusForbidden, "forbidden", "scope "+scope+" required")
	return nil, false
}

// decodeRequest parses and validates a JSON body into dst, writing the
// error response itself when it returns false.
func decodeRequest(w http.ResponseWriter, r *http.Request, dst any) bool {
	body := http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_request", "unable to parse body")
		return false
	}
	if fields := validateRequest(dst); fields != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResponse{
			Type:   "validation_failed",
			Detail: "request failed validation",
			Fields: fields,
		})
		return false
	}
	return true
}

func (h *Handler) writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		writeError(w, http.StatusNotFound, "not_found", err.Error())
	case errors.Is(err, domain.ErrConflict):
		writeError(w, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidTransition):
		writeError(w, http.StatusUnprocessableEntity, "invalid_transition", err.Error())
	case errors.Is(err, domain.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, "validation_failed", err.Error())
	default:
		h.logger.Printf("request failed: %v", err)
		writeError(w, http.StatusInternalServerError, "server_error", "internal error")
	}
}

func writeError(w http.ResponseWriter, status int, code, detail string) {
	writeJSON(w, status, ErrorResponse{Type: code, Detail: detail})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
