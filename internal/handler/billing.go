package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rowanhale/quotagate/internal/billing"
	"github.com/rowanhale/quotagate/internal/domain"
	"github.com/rowanhale/quotagate/internal/middleware"
)

// BillingStore is the persistence surface the billing handlers need.
type BillingStore interface {
	UpsertMapping(ctx context.Context, userID uuid.UUID, customerID string) error
	GetMappingByUserID(ctx context.Context, userID uuid.UUID) (*domain.CustomerMapping, error)
	GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*domain.SubscriptionRecord, error)
}

// BillingHandler serves checkout, portal, and subscription status routes.
type BillingHandler struct {
	billing billing.Service
	store   BillingStore
	baseURL string
	logger  *slog.Logger
}

// NewBillingHandler creates a new BillingHandler. billing may be nil when
// the payment processor is not configured; every route then reports
// unavailable.
func NewBillingHandler(billingSvc billing.Service, store BillingStore, baseURL string, logger *slog.Logger) *BillingHandler {
	return &BillingHandler{
		billing: billingSvc,
		store:   store,
		baseURL: strings.TrimRight(baseURL, "/"),
		logger:  logger,
	}
}

// RegisterRoutes registers billing routes on the provided mux behind the
// given auth middleware.
func (h *BillingHandler) RegisterRoutes(mux *http.ServeMux, requireUser func(http.Handler) http.Handler) {
	mux.Handle("POST /api/v1/billing/checkout", requireUser(http.HandlerFunc(h.CreateCheckout)))
	mux.Handle("POST /api/v1/billing/portal", requireUser(http.HandlerFunc(h.CreatePortal)))
	mux.Handle("GET /api/v1/billing/subscription", requireUser(http.HandlerFunc(h.GetSubscription)))
}

type checkoutRequest struct {
	PriceID string `json:"price_id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
}

type redirectResponse struct {
	URL string `json:"url"`
}

// subscriptionResponse is the stored snapshot plus the tier it resolves
// to. Users with no snapshot are reported as free/not_started rather
// than 404.
type subscriptionResponse struct {
	Tier              domain.PlanTier           `json:"tier"`
	Status            domain.SubscriptionStatus `json:"status"`
	PriceID           string                    `json:"price_id,omitempty"`
	CurrentPeriodEnd  *time.Time                `json:"current_period_end,omitempty"`
	CancelAtPeriodEnd bool                      `json:"cancel_at_period_end"`
}

// CreateCheckout starts a Stripe Checkout session for the authenticated
// user. First-time buyers get a Stripe customer created and mapped before
// the session; the user ID rides along as the client reference so the
// completion webhook can confirm the mapping.
func (h *BillingHandler) CreateCheckout(w http.ResponseWriter, r *http.Request) {
	const op = "handler.create_checkout"

	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Unavailable(nil, op, "billing is not configured"))
		return
	}

	userID := middleware.GetUserID(r.Context())

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "invalid request body"))
		return
	}
	if _, ok := h.billing.TierForPriceID(req.PriceID); !ok {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, "unknown price_id"))
		return
	}

	customerID, err := h.customerFor(r.Context(), userID, req.Email, req.Name)
	if err != nil {
		ErrorResponse(w, r, h.logger, err)
		return
	}

	url, err := h.billing.CreateCheckoutSession(
		customerID,
		req.PriceID,
		userID.String(),
		h.baseURL+"/billing/success?session_id={CHECKOUT_SESSION_ID}",
		h.baseURL+"/billing/cancel",
	)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "billing operation failed"))
		return
	}
	writeJSON(w, http.StatusOK, redirectResponse{URL: url})
}

// CreatePortal opens the Stripe Customer Portal for subscription
// management. Only users with an existing customer mapping can enter.
func (h *BillingHandler) CreatePortal(w http.ResponseWriter, r *http.Request) {
	const op = "handler.create_portal"

	if h.billing == nil {
		ErrorResponse(w, r, h.logger, domain.Unavailable(nil, op, "billing is not configured"))
		return
	}

	userID := middleware.GetUserID(r.Context())

	mapping, err := h.store.GetMappingByUserID(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "billing operation failed"))
		return
	}
	if mapping == nil {
		ErrorResponse(w, r, h.logger, domain.Errorf(domain.ENOTFOUND, op, "no billing account for this user"))
		return
	}

	url, err := h.billing.CreatePortalSession(mapping.StripeCustomerID, h.baseURL+"/account")
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "billing operation failed"))
		return
	}
	writeJSON(w, http.StatusOK, redirectResponse{URL: url})
}

// GetSubscription reports the stored subscription snapshot for the
// authenticated user.
func (h *BillingHandler) GetSubscription(w http.ResponseWriter, r *http.Request) {
	const op = "handler.get_subscription"

	userID := middleware.GetUserID(r.Context())

	resp := subscriptionResponse{
		Tier:   domain.PlanTierFree,
		Status: domain.SubscriptionStatusNotStarted,
	}

	mapping, err := h.store.GetMappingByUserID(r.Context(), userID)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "billing operation failed"))
		return
	}
	if mapping == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	rec, err := h.store.GetSubscriptionByCustomerID(r.Context(), mapping.StripeCustomerID)
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Internal(err, op, "billing operation failed"))
		return
	}
	if rec == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}

	resp.Status = rec.Status
	resp.PriceID = rec.PriceID
	resp.CancelAtPeriodEnd = rec.CancelAtPeriodEnd
	if !rec.CurrentPeriodEnd.IsZero() {
		end := rec.CurrentPeriodEnd
		resp.CurrentPeriodEnd = &end
	}
	if h.billing != nil && rec.IsEntitled() {
		if tier, ok := h.billing.TierForPriceID(rec.PriceID); ok {
			resp.Tier = tier
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// customerFor returns the user's Stripe customer ID, creating the
// customer and mapping on first checkout.
func (h *BillingHandler) customerFor(ctx context.Context, userID uuid.UUID, email, name string) (string, error) {
	const op = "handler.customer_for"

	mapping, err := h.store.GetMappingByUserID(ctx, userID)
	if err != nil {
		return "", domain.Internal(err, op, "lookup customer mapping")
	}
	if mapping != nil {
		return mapping.StripeCustomerID, nil
	}

	if email == "" {
		return "", domain.Invalid(op, "email is required for first checkout")
	}
	customerID, err := h.billing.CreateCustomer(email, name)
	if err != nil {
		return "", domain.Internal(err, op, "create customer")
	}
	if err := h.store.UpsertMapping(ctx, userID, customerID); err != nil {
		return "", domain.Internal(err, op, "store customer mapping")
	}
	return customerID, nil
}
