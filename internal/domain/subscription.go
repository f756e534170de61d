// Package domain contains core business types and interfaces.
//
// This file defines the billing-side types: the subscription snapshot
// kept in sync with the payment processor, the mapping from application
// users to processor customers, and one-time payment orders.
package domain

import (
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus mirrors the payment processor's subscription states,
// plus NotStarted for customers the processor reports no subscription for.
type SubscriptionStatus string

const (
	SubscriptionStatusNotStarted SubscriptionStatus = "not_started"
	SubscriptionStatusTrialing   SubscriptionStatus = "trialing"
	SubscriptionStatusActive     SubscriptionStatus = "active"
	SubscriptionStatusPastDue    SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled   SubscriptionStatus = "canceled"
	SubscriptionStatusUnpaid     SubscriptionStatus = "unpaid"
)

// SubscriptionRecord is the locally stored snapshot of a customer's
// current subscription. At most one row exists per processor customer;
// the synchronizer upserts it from processor truth, so replayed or
// out-of-order deliveries converge.
type SubscriptionRecord struct {
	StripeCustomerID   string
	SubscriptionID     string
	Status             SubscriptionStatus
	PriceID            string
	CurrentPeriodStart time.Time
	CurrentPeriodEnd   time.Time
	CancelAtPeriodEnd  bool
	PaymentMethod      string
	UpdatedAt          time.Time
}

// IsEntitled reports whether this subscription grants paid-tier access.
// Anything outside active/trialing resolves to the free tier.
func (s *SubscriptionRecord) IsEntitled() bool {
	return s.Status == SubscriptionStatusActive || s.Status == SubscriptionStatusTrialing
}

// CustomerMapping links an application user to a processor customer.
// Created once at first successful checkout.
type CustomerMapping struct {
	UserID           uuid.UUID
	StripeCustomerID string
	CreatedAt        time.Time
}

// Order records a completed one-time payment. The processor's checkout
// session ID is the natural idempotency key: duplicate webhook delivery
// of the same session must not double-record.
type Order struct {
	CheckoutSessionID string
	UserID            uuid.UUID
	AmountTotal       int64
	Currency          string
	Status            string
	CreatedAt         time.Time
}
