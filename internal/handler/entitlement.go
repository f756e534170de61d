// Package handler contains HTTP handlers for the quotagate service.
//
// This file implements the entitlement gate API that every tool in the
// product calls, and the usage query API consumed by tool UIs.
//
// Routes handled (all behind auth middleware):
//   - GET  /api/v1/usage                      -> GetUsage
//   - GET  /api/v1/usage/{feature}            -> GetFeatureUsage
//   - POST /api/v1/features/{feature}/check   -> CheckFeature
//   - POST /api/v1/features/{feature}/use     -> UseFeature
package handler

import (
	"log/slog"
	"net/http"
	"regexp"

	"github.com/rowanhale/quotagate/internal/domain"
	"github.com/rowanhale/quotagate/internal/middleware"
	"github.com/rowanhale/quotagate/internal/service"
)

// featureNamePattern restricts feature names to catalog-style keys.
var featureNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// EntitlementHandler serves gate decisions and usage summaries.
type EntitlementHandler struct {
	gate   *service.Gate
	logger *slog.Logger
}

// NewEntitlementHandler creates a new EntitlementHandler.
func NewEntitlementHandler(gate *service.Gate, logger *slog.Logger) *EntitlementHandler {
	return &EntitlementHandler{
		gate:   gate,
		logger: logger,
	}
}

// RegisterRoutes registers entitlement routes on the provided mux behind
// the given auth middleware.
func (h *EntitlementHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("GET /api/v1/usage", requireUser(http.HandlerFunc(h.GetUsage)))
	mux.Handle("GET /api/v1/usage/{feature}", requireUser(http.HandlerFunc(h.GetFeatureUsage)))
	mux.Handle("POST /api/v1/features/{feature}/check", requireUser(http.HandlerFunc(h.CheckFeature)))
	mux.Handle("POST /api/v1/features/{feature}/use", requireUser(http.HandlerFunc(h.UseFeature)))
}

// checkResponse is the body for gate decisions.
type checkResponse struct {
	Feature   string `json:"feature"`
	Allowed   bool   `json:"allowed"`
	Remaining int64  `json:"remaining"`
}

// GetUsage returns usage, limits, and remaining counts for all known
// features, plus the resolved plan tier.
func (h *EntitlementHandler) GetUsage(w http.ResponseWriter, r *http.Request) {
	userID := middleware.GetUserID(r.Context())

	summary, err := h.gate.Summary(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// GetFeatureUsage returns the usage entry for one feature.
func (h *EntitlementHandler) GetFeatureUsage(w http.ResponseWriter, r *http.Request) {
	const op = "handler.get_feature_usage"

	userID := middleware.GetUserID(r.Context())
	feature, ok := featureParam(r)
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid feature name"))
		return
	}

	summary, err := h.gate.FeatureSummary(r.Context(), userID, feature)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

// CheckFeature is the advisory preflight: may this user use the feature
// right now? Denial is a normal outcome, reported with 200.
func (h *EntitlementHandler) CheckFeature(w http.ResponseWriter, r *http.Request) {
	const op = "handler.check_feature"

	userID := middleware.GetUserID(r.Context())
	feature, ok := featureParam(r)
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid feature name"))
		return
	}

	allowed := h.gate.CanUse(r.Context(), userID, feature)
	writeJSON(w, http.StatusOK, checkResponse{
		Feature:   feature,
		Allowed:   allowed,
		Remaining: h.gate.RemainingUses(r.Context(), userID, feature),
	})
}

// UseFeature commits one use after a successful tool invocation. Callers
// must treat allowed=false as deny, not proceed silently.
func (h *EntitlementHandler) UseFeature(w http.ResponseWriter, r *http.Request) {
	const op = "handler.use_feature"

	userID := middleware.GetUserID(r.Context())
	feature, ok := featureParam(r)
	if !ok {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid feature name"))
		return
	}

	allowed := h.gate.RecordUse(r.Context(), userID, feature)
	writeJSON(w, http.StatusOK, checkResponse{
		Feature:   feature,
		Allowed:   allowed,
		Remaining: h.gate.RemainingUses(r.Context(), userID, feature),
	})
}

func featureParam(r *http.Request) (string, bool) {
	feature := r.PathValue("feature")
	if !featureNamePattern.MatchString(feature) {
		return "", false
	}
	return feature, true
}
