package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rowanhale/quotagate/internal/domain"
	"github.com/rowanhale/quotagate/internal/middleware"
)

// billingStore is an in-memory BillingStore.
type billingStore struct {
	mappings map[uuid.UUID]string
	subs     map[string]*domain.SubscriptionRecord
}

func newBillingStore() *billingStore {
	return &billingStore{
		mappings: make(map[uuid.UUID]string),
		subs:     make(map[string]*domain.SubscriptionRecord),
	}
}

func (s *billingStore) UpsertMapping(ctx context.Context, userID uuid.UUID, customerID string) error {
	s.mappings[userID] = customerID
	return nil
}

func (s *billingStore) GetMappingByUserID(ctx context.Context, userID uuid.UUID) (*domain.CustomerMapping, error) {
	customerID, ok := s.mappings[userID]
	if !ok {
		return nil, nil
	}
	return &domain.CustomerMapping{UserID: userID, StripeCustomerID: customerID}, nil
}

func (s *billingStore) GetSubscriptionByCustomerID(ctx context.Context, customerID string) (*domain.SubscriptionRecord, error) {
	return s.subs[customerID], nil
}

type billingFixture struct {
	mux    *http.ServeMux
	store  *billingStore
	token  string
	userID uuid.UUID
}

func newBillingFixture(t *testing.T) *billingFixture {
	t.Helper()

	logger := testLogger()
	userID := uuid.New()
	token := "qg_test_token"
	store := newBillingStore()

	authMw := middleware.NewAuthMiddleware(&tokenStore{
		users: map[string]uuid.UUID{middleware.HashToken(token): userID},
	}, logger)

	mux := http.NewServeMux()
	h := NewBillingHandler(&fakeVerifier{}, store, "https://app.example.com", logger)
	h.RegisterRoutes(mux, middleware.Stack(authMw.RequireUser))

	return &billingFixture{mux: mux, store: store, token: token, userID: userID}
}

func (f *billingFixture) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Authorization", "Bearer "+f.token)
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func TestBillingHandler_CheckoutCreatesCustomerOnFirstUse(t *testing.T) {
	f := newBillingFixture(t)

	body := `{"price_id":"price_pro_monthly","email":"user@example.com","name":"User"}`
	rec := f.do(t, http.MethodPost, "/api/v1/billing/checkout", body)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://checkout.example", resp["url"])

	// The fake billing service returns cus_1 for new customers.
	assert.Equal(t, "cus_1", f.store.mappings[f.userID])
}

func TestBillingHandler_CheckoutReusesExistingCustomer(t *testing.T) {
	f := newBillingFixture(t)
	f.store.mappings[f.userID] = "cus_existing"

	// No email needed once the mapping exists.
	rec := f.do(t, http.MethodPost, "/api/v1/billing/checkout", `{"price_id":"price_pro_monthly"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "cus_existing", f.store.mappings[f.userID])
}

func TestBillingHandler_CheckoutRejectsBadInput(t *testing.T) {
	f := newBillingFixture(t)

	tests := []struct {
		name string
		body string
	}{
		{"unknown price", `{"price_id":"price_bogus","email":"user@example.com"}`},
		{"missing email on first checkout", `{"price_id":"price_pro_monthly"}`},
		{"malformed json", `{`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := f.do(t, http.MethodPost, "/api/v1/billing/checkout", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestBillingHandler_PortalRequiresMapping(t *testing.T) {
	f := newBillingFixture(t)

	rec := f.do(t, http.MethodPost, "/api/v1/billing/portal", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	f.store.mappings[f.userID] = "cus_existing"
	rec = f.do(t, http.MethodPost, "/api/v1/billing/portal", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "https://portal.example", resp["url"])
}

func TestBillingHandler_SubscriptionDefaultsToFree(t *testing.T) {
	f := newBillingFixture(t)

	rec := f.do(t, http.MethodGet, "/api/v1/billing/subscription", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tier   string `json:"tier"`
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "free", resp.Tier)
	assert.Equal(t, "not_started", resp.Status)
}

func TestBillingHandler_SubscriptionReportsStoredSnapshot(t *testing.T) {
	f := newBillingFixture(t)
	f.store.mappings[f.userID] = "cus_existing"
	f.store.subs["cus_existing"] = &domain.SubscriptionRecord{
		StripeCustomerID:  "cus_existing",
		Status:            domain.SubscriptionStatusActive,
		PriceID:           "price_pro_monthly",
		CurrentPeriodEnd:  time.Now().Add(20 * 24 * time.Hour),
		CancelAtPeriodEnd: true,
	}

	rec := f.do(t, http.MethodGet, "/api/v1/billing/subscription", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Tier              string `json:"tier"`
		Status            string `json:"status"`
		PriceID           string `json:"price_id"`
		CancelAtPeriodEnd bool   `json:"cancel_at_period_end"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "pro", resp.Tier)
	assert.Equal(t, "active", resp.Status)
	assert.Equal(t, "price_pro_monthly", resp.PriceID)
	assert.True(t, resp.CancelAtPeriodEnd)
}

func TestBillingHandler_UnavailableWhenBillingDisabled(t *testing.T) {
	logger := testLogger()
	userID := uuid.New()
	token := "qg_test_token"

	authMw := middleware.NewAuthMiddleware(&tokenStore{
		users: map[string]uuid.UUID{middleware.HashToken(token): userID},
	}, logger)

	mux := http.NewServeMux()
	h := NewBillingHandler(nil, newBillingStore(), "https://app.example.com", logger)
	h.RegisterRoutes(mux, middleware.Stack(authMw.RequireUser))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/billing/checkout", strings.NewReader(`{}`))
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
