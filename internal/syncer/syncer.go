// Package syncer implements the billing event synchronizer: it consumes
// payment-processor webhook events and reconciles local subscription,
// customer-mapping, and order state.
//
// The webhook HTTP handler verifies the event signature and enqueues the
// event here; acknowledgment must not wait on reconciliation because the
// processor enforces short response deadlines and retries on timeout.
// Every write is an idempotent upsert keyed by a stable external ID, so
// replayed and out-of-order deliveries converge.
package syncer

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sethvargo/go-retry"
	"github.com/stripe/stripe-go/v79"

	"github.com/rowanhale/quotagate/internal/billing"
	"github.com/rowanhale/quotagate/internal/domain"
	"github.com/rowanhale/quotagate/internal/metrics"
)

// BillingStore is the write side of billing state.
type BillingStore interface {
	UpsertMapping(ctx context.Context, userID uuid.UUID, customerID string) error
	GetMappingByCustomerID(ctx context.Context, customerID string) (*domain.CustomerMapping, error)
	UpsertSubscription(ctx context.Context, rec *domain.SubscriptionRecord) error
	InsertOrder(ctx context.Context, order *domain.Order) (bool, error)
}

// TierInvalidator drops a user's cached tier after billing state changes.
type TierInvalidator interface {
	Invalidate(ctx context.Context, userID uuid.UUID)
}

// Config holds the synchronizer's worker settings.
type Config struct {
	// Concurrency is the number of goroutines processing events.
	Concurrency int

	// QueueSize bounds the in-memory event queue. A full queue drops
	// the event; the processor's redelivery is the retry path.
	QueueSize int

	// EventTimeout bounds the processing of a single event.
	EventTimeout time.Duration

	// ShutdownTimeout is how long Stop waits for in-flight events.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible default values.
func DefaultConfig() Config {
	return Config{
		Concurrency:     2,
		QueueSize:       256,
		EventTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
	}
}

// Validate checks if the configuration is valid.
func (c Config) Validate() error {
	if c.Concurrency < 1 {
		return fmt.Errorf("concurrency must be at least 1, got %d", c.Concurrency)
	}
	if c.QueueSize < 1 {
		return fmt.Errorf("queue size must be at least 1, got %d", c.QueueSize)
	}
	if c.EventTimeout < time.Second {
		return fmt.Errorf("event timeout must be at least 1 second, got %v", c.EventTimeout)
	}
	return nil
}

// Synchronizer reconciles processor webhook events into local state.
type Synchronizer struct {
	store    BillingStore
	billing  billing.Service
	resolver TierInvalidator
	config   Config
	logger   *slog.Logger

	queue  chan stripe.Event
	wg     sync.WaitGroup
	stopCh chan struct{}
}

// New creates a Synchronizer. Call Start before enqueueing and Stop on
// shutdown.
func New(store BillingStore, billingService billing.Service, resolver TierInvalidator, config Config, logger *slog.Logger) (*Synchronizer, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &Synchronizer{
		store:    store,
		billing:  billingService,
		resolver: resolver,
		config:   config,
		logger:   logger,
		queue:    make(chan stripe.Event, config.QueueSize),
		stopCh:   make(chan struct{}),
	}, nil
}

// Start launches the worker goroutines.
func (s *Synchronizer) Start(ctx context.Context) {
	for i := 0; i < s.config.Concurrency; i++ {
		s.wg.Add(1)
		go s.runWorker(ctx, i+1)
	}
	s.logger.Info("Billing synchronizer started", "concurrency", s.config.Concurrency)
}

// Stop drains in-flight events and shuts the workers down, respecting
// the configured ShutdownTimeout.
func (s *Synchronizer) Stop() {
	s.logger.Info("Stopping billing synchronizer...")
	close(s.stopCh)

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.logger.Info("Billing synchronizer stopped gracefully")
	case <-time.After(s.config.ShutdownTimeout):
		s.logger.Warn("Billing synchronizer shutdown timeout exceeded, some events may be unprocessed")
	}
}

// Enqueue hands a verified event to the workers. Returns false when the
// queue is full; the caller still acknowledges the delivery and relies
// on processor redelivery.
func (s *Synchronizer) Enqueue(event stripe.Event) bool {
	select {
	case s.queue <- event:
		metrics.SyncQueueDepth.Set(float64(len(s.queue)))
		return true
	default:
		s.logger.Warn("event queue full, dropping event", "type", event.Type, "id", event.ID)
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "dropped").Inc()
		return false
	}
}

// QueueLen reports the number of events waiting for a worker.
func (s *Synchronizer) QueueLen() int {
	return len(s.queue)
}

func (s *Synchronizer) runWorker(ctx context.Context, workerID int) {
	defer s.wg.Done()

	logger := s.logger.With("worker_id", workerID)
	logger.Debug("Synchronizer worker started")

	for {
		select {
		case <-s.stopCh:
			// Drain whatever is already queued before exiting.
			for {
				select {
				case event := <-s.queue:
					s.processEvent(ctx, event, logger)
				default:
					logger.Debug("Synchronizer worker stopped")
					return
				}
			}
		case <-ctx.Done():
			return
		case event := <-s.queue:
			s.processEvent(ctx, event, logger)
			metrics.SyncQueueDepth.Set(float64(len(s.queue)))
		}
	}
}

func (s *Synchronizer) processEvent(ctx context.Context, event stripe.Event, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, s.config.EventTimeout)
	defer cancel()

	var err error
	switch event.Type {
	case "checkout.session.completed":
		err = s.handleCheckoutCompleted(ctx, event)
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"invoice.payment_succeeded",
		"invoice.payment_failed":
		err = s.handleSubscriptionLifecycle(ctx, event)
	default:
		logger.Debug("unhandled webhook event type", "type", event.Type)
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "ignored").Inc()
		return
	}

	if err != nil {
		// Not-yet-applied: the processor redelivers and every handler
		// is idempotent, so no local retry queue is needed.
		logger.Error("event processing failed", "type", event.Type, "id", event.ID, "error", err)
		metrics.WebhookEvents.WithLabelValues(string(event.Type), "error").Inc()
		return
	}
	metrics.WebhookEvents.WithLabelValues(string(event.Type), "applied").Inc()
}

// handleCheckoutCompleted establishes the user-to-customer mapping and
// records one-time payments. Subscription checkouts trigger a full
// resync instead of trusting fields on the checkout event, because
// checkout events race with subscription-state events.
func (s *Synchronizer) handleCheckoutCompleted(ctx context.Context, event stripe.Event) error {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &session); err != nil {
		return fmt.Errorf("parse checkout session: %w", err)
	}

	if session.Customer == nil {
		s.logger.Warn("checkout session missing customer", "session_id", session.ID)
		return nil
	}
	customerID := session.Customer.ID

	userID, err := uuid.Parse(session.ClientReferenceID)
	if err != nil {
		s.logger.Warn("checkout session missing usable client reference, skipping mapping",
			"session_id", session.ID, "customer_id", customerID)
		return nil
	}

	if err := s.store.UpsertMapping(ctx, userID, customerID); err != nil {
		return fmt.Errorf("upsert mapping: %w", err)
	}

	switch session.Mode {
	case stripe.CheckoutSessionModeSubscription:
		return s.resync(ctx, customerID)
	case stripe.CheckoutSessionModePayment:
		if session.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return nil
		}
		inserted, err := s.store.InsertOrder(ctx, &domain.Order{
			CheckoutSessionID: session.ID,
			UserID:            userID,
			AmountTotal:       session.AmountTotal,
			Currency:          string(session.Currency),
			Status:            string(session.PaymentStatus),
		})
		if err != nil {
			return fmt.Errorf("insert order: %w", err)
		}
		if !inserted {
			s.logger.Info("duplicate checkout delivery, order already recorded", "session_id", session.ID)
		}
	}
	return nil
}

// handleSubscriptionLifecycle resyncs the customer named by any
// subscription or invoice event. The partial event payload is only used
// to find the customer ID; the snapshot comes from the processor.
func (s *Synchronizer) handleSubscriptionLifecycle(ctx context.Context, event stripe.Event) error {
	var payload struct {
		Customer *stripe.Customer `json:"customer"`
	}
	if err := json.Unmarshal(event.Data.Raw, &payload); err != nil {
		return fmt.Errorf("parse event payload: %w", err)
	}
	if payload.Customer == nil || payload.Customer.ID == "" {
		s.logger.Warn("event missing customer, skipping", "type", event.Type, "id", event.ID)
		return nil
	}
	return s.resync(ctx, payload.Customer.ID)
}

// resync fetches the customer's current subscription snapshot from the
// processor with backoff, upserts the local record, and invalidates the
// user's cached tier. A customer the processor reports no subscriptions
// for is recorded as not_started, never deleted.
func (s *Synchronizer) resync(ctx context.Context, customerID string) error {
	start := time.Now()
	defer func() {
		metrics.ResyncDuration.Observe(time.Since(start).Seconds())
	}()

	var sub *stripe.Subscription
	backoff := retry.WithMaxRetries(3, retry.NewExponential(500*time.Millisecond))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		var err error
		sub, err = s.billing.CurrentSubscription(customerID)
		if err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("fetch subscription snapshot: %w", err)
	}

	rec := snapshotToRecord(customerID, sub)
	if err := s.store.UpsertSubscription(ctx, rec); err != nil {
		return fmt.Errorf("upsert subscription: %w", err)
	}

	s.logger.Info("subscription synchronized",
		"customer_id", customerID,
		"status", rec.Status,
		"price_id", rec.PriceID,
	)

	mapping, err := s.store.GetMappingByCustomerID(ctx, customerID)
	if err != nil {
		return fmt.Errorf("lookup mapping for invalidation: %w", err)
	}
	if mapping != nil {
		s.resolver.Invalidate(ctx, mapping.UserID)
	}
	return nil
}

// snapshotToRecord converts a processor subscription into the stored
// record. A nil subscription means the customer has none.
func snapshotToRecord(customerID string, sub *stripe.Subscription) *domain.SubscriptionRecord {
	if sub == nil {
		return &domain.SubscriptionRecord{
			StripeCustomerID: customerID,
			Status:           domain.SubscriptionStatusNotStarted,
		}
	}

	rec := &domain.SubscriptionRecord{
		StripeCustomerID:   customerID,
		SubscriptionID:     sub.ID,
		Status:             domain.SubscriptionStatus(sub.Status),
		CurrentPeriodStart: time.Unix(sub.CurrentPeriodStart, 0).UTC(),
		CurrentPeriodEnd:   time.Unix(sub.CurrentPeriodEnd, 0).UTC(),
		CancelAtPeriodEnd:  sub.CancelAtPeriodEnd,
	}
	if sub.Items != nil && len(sub.Items.Data) > 0 && sub.Items.Data[0].Price != nil {
		rec.PriceID = sub.Items.Data[0].Price.ID
	}
	if sub.DefaultPaymentMethod != nil {
		rec.PaymentMethod = sub.DefaultPaymentMethod.ID
	}
	return rec
}
