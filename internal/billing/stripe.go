// Package billing provides Stripe integration for subscription management.
package billing

import (
	"fmt"

	"github.com/stripe/stripe-go/v79"
	billingportalsession "github.com/stripe/stripe-go/v79/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"
	"github.com/stripe/stripe-go/v79/customer"
	"github.com/stripe/stripe-go/v79/subscription"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/rowanhale/quotagate/internal/domain"
)

// Service defines the interface for payment processor operations.
type Service interface {
	// CreateCustomer creates a new Stripe customer for the given email.
	CreateCustomer(email, name string) (string, error)

	// CreateCheckoutSession creates a Stripe Checkout session for
	// subscribing. clientReferenceID carries the application user ID so
	// the checkout webhook can establish the customer mapping.
	// Returns the checkout URL to redirect the user to.
	CreateCheckoutSession(customerID, priceID, clientReferenceID, successURL, cancelURL string) (string, error)

	// CreatePortalSession creates a Stripe Customer Portal session.
	// Returns the portal URL to redirect the user to.
	CreatePortalSession(customerID, returnURL string) (string, error)

	// CurrentSubscription fetches the customer's current subscription
	// snapshot directly from Stripe. Returns nil when the customer has
	// no subscriptions at all.
	CurrentSubscription(customerID string) (*stripe.Subscription, error)

	// VerifyWebhookSignature verifies the Stripe webhook signature over
	// the raw payload bytes and returns the event.
	VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error)

	// TierForPriceID returns the plan tier for a Stripe price ID.
	// Unknown price IDs report ok=false and must be treated as free.
	TierForPriceID(priceID string) (domain.PlanTier, bool)

	// PriceTiers returns the full price-ID-to-tier table.
	PriceTiers() map[string]domain.PlanTier
}

// PriceConfig holds the Stripe price IDs for each plan.
type PriceConfig struct {
	ProMonthlyPriceID    string
	ProYearlyPriceID     string
	MasterMonthlyPriceID string
	MasterYearlyPriceID  string
}

// stripeService is the concrete implementation of Service.
type stripeService struct {
	webhookSecret string
	priceToTier   map[string]domain.PlanTier
}

// NewStripeService creates a new Stripe billing service.
//
// The secretKey authenticates Stripe API calls. The webhookSecret
// verifies incoming webhook signatures. prices configures which Stripe
// price IDs map to which tiers.
func NewStripeService(secretKey, webhookSecret string, prices PriceConfig) Service {
	stripe.Key = secretKey

	priceToTier := make(map[string]domain.PlanTier)
	if prices.ProMonthlyPriceID != "" {
		priceToTier[prices.ProMonthlyPriceID] = domain.PlanTierPro
	}
	if prices.ProYearlyPriceID != "" {
		priceToTier[prices.ProYearlyPriceID] = domain.PlanTierPro
	}
	if prices.MasterMonthlyPriceID != "" {
		priceToTier[prices.MasterMonthlyPriceID] = domain.PlanTierMaster
	}
	if prices.MasterYearlyPriceID != "" {
		priceToTier[prices.MasterYearlyPriceID] = domain.PlanTierMaster
	}

	return &stripeService{
		webhookSecret: webhookSecret,
		priceToTier:   priceToTier,
	}
}

func (s *stripeService) CreateCustomer(email, name string) (string, error) {
	params := &stripe.CustomerParams{
		Email: stripe.String(email),
		Name:  stripe.String(name),
	}
	c, err := customer.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create customer: %w", err)
	}
	return c.ID, nil
}

func (s *stripeService) CreateCheckoutSession(customerID, priceID, clientReferenceID, successURL, cancelURL string) (string, error) {
	params := &stripe.CheckoutSessionParams{
		Customer:          stripe.String(customerID),
		ClientReferenceID: stripe.String(clientReferenceID),
		Mode:              stripe.String(string(stripe.CheckoutSessionModeSubscription)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				Price:    stripe.String(priceID),
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(successURL),
		CancelURL:  stripe.String(cancelURL),
	}
	sess, err := checkoutsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create checkout session: %w", err)
	}
	return sess.URL, nil
}

func (s *stripeService) CreatePortalSession(customerID, returnURL string) (string, error) {
	params := &stripe.BillingPortalSessionParams{
		Customer:  stripe.String(customerID),
		ReturnURL: stripe.String(returnURL),
	}
	sess, err := billingportalsession.New(params)
	if err != nil {
		return "", fmt.Errorf("stripe create portal session: %w", err)
	}
	return sess.URL, nil
}

// CurrentSubscription lists the customer's subscriptions across all
// statuses and returns the most recently created one. Webhook payloads
// are not trusted as ground truth; this fetch is.
func (s *stripeService) CurrentSubscription(customerID string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionListParams{
		Customer: stripe.String(customerID),
		Status:   stripe.String("all"),
	}
	params.Limit = stripe.Int64(10)

	var current *stripe.Subscription
	iter := subscription.List(params)
	for iter.Next() {
		sub := iter.Subscription()
		if current == nil || sub.Created > current.Created {
			current = sub
		}
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("stripe list subscriptions: %w", err)
	}
	return current, nil
}

func (s *stripeService) VerifyWebhookSignature(payload []byte, signature string) (stripe.Event, error) {
	event, err := webhook.ConstructEvent(payload, signature, s.webhookSecret)
	if err != nil {
		return stripe.Event{}, fmt.Errorf("stripe webhook signature verification failed: %w", err)
	}
	return event, nil
}

func (s *stripeService) TierForPriceID(priceID string) (domain.PlanTier, bool) {
	tier, ok := s.priceToTier[priceID]
	return tier, ok
}

func (s *stripeService) PriceTiers() map[string]domain.PlanTier {
	tiers := make(map[string]domain.PlanTier, len(s.priceToTier))
	for id, tier := range s.priceToTier {
		tiers[id] = tier
	}
	return tiers
}
