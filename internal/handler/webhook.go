// Package handler contains HTTP handlers for the quotagate service.
//
// This file implements the Stripe webhook endpoint.
//
// Route:
//   - POST /webhooks/stripe -> HandleStripeWebhook
//
// This route is PUBLIC (no auth middleware) because Stripe calls it
// directly. The webhook signature is the sole authentication boundary.
// The handler only verifies and enqueues; reconciliation happens in the
// synchronizer workers so Stripe's response deadline is always met.
package handler

import (
	"io"
	"log/slog"
	"net/http"

	"github.com/rowanhale/quotagate/internal/billing"
	"github.com/rowanhale/quotagate/internal/syncer"
)

// maxWebhookBody caps the webhook payload size.
const maxWebhookBody = 65536

// WebhookHandler handles incoming webhook events from Stripe.
type WebhookHandler struct {
	billing billing.Service
	sync    *syncer.Synchronizer
	logger  *slog.Logger
}

// NewWebhookHandler creates a new WebhookHandler.
// billingService may be nil when Stripe is not configured.
func NewWebhookHandler(billingService billing.Service, sync *syncer.Synchronizer, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		billing: billingService,
		sync:    sync,
		logger:  logger,
	}
}

// RegisterRoutes registers webhook routes on the provided mux.
// The method pattern makes ServeMux answer 405 for non-POST requests.
func (h *WebhookHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.HandleStripeWebhook)
}

// HandleStripeWebhook verifies and enqueues incoming Stripe events.
func (h *WebhookHandler) HandleStripeWebhook(w http.ResponseWriter, r *http.Request) {
	if h.billing == nil {
		h.logger.Warn("stripe webhook received but billing is not configured")
		w.WriteHeader(http.StatusOK)
		return
	}

	// The signature is computed over the exact byte stream, so the body
	// must be read raw before any parsing.
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		h.logger.Error("failed to read webhook body", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	signature := r.Header.Get("Stripe-Signature")
	event, err := h.billing.VerifyWebhookSignature(body, signature)
	if err != nil {
		h.logger.Warn("webhook signature verification failed", "error", err)
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	h.logger.Info("stripe webhook received", "type", event.Type, "id", event.ID)

	// Acknowledge regardless of queue admission: a dropped event is
	// redelivered by Stripe after its retry window, and a 5xx here
	// would only add duplicate deliveries sooner.
	h.sync.Enqueue(event)
	w.WriteHeader(http.StatusOK)
}
