package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"taskmail/internal/config"
	"taskmail/internal/mailer"
	"taskmail/internal/ratelimit"
	"taskmail/internal/template"
	"taskmail/internal/types"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// memStore is an in-memory audit.Store with the same window semantics as
// the SQL implementation.
type memStore struct {
	mu      sync.Mutex
	records []*types.AuditRecord
	failing bool
}

func (m *memStore) Append(_ context.Context, record *types.AuditRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.failing {
		return assert.AnError
	}
	if record.ID == "" {
		record.ID = "rec-" + time.Now().Format("150405.000000000")
	}
	m.records = append(m.records, record)
	return nil
}

func (m *memStore) CountSince(_ context.Context, identityID string, since time.Time, outcome *types.Outcome) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	count := 0
	for _, r := range m.records {
		if r.IdentityID != identityID || !r.CreatedAt.After(since) {
			continue
		}
		if outcome != nil && r.Outcome != *outcome {
			continue
		}
		count++
	}
	return count, nil
}

func (m *memStore) List(_ context.Context, identityID string, limit int) ([]*types.AuditRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*types.AuditRecord
	for i := len(m.records) - 1; i >= 0 && len(out) < limit; i-- {
		if m.records[i].IdentityID == identityID {
			out = append(out, m.records[i])
		}
	}
	return out, nil
}

func (m *memStore) all() []*types.AuditRecord {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*types.AuditRecord(nil), m.records...)
}

// providerStub fakes the transactional email API.
type providerStub struct {
	mu       sync.Mutex
	status   int
	errBody  string
	requests []map[string]any
}

func (p *providerStub) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)

		p.mu.Lock()
		p.requests = append(p.requests, body)
		status, errBody := p.status, p.errBody
		p.mu.Unlock()

		if status >= 400 {
			w.WriteHeader(status)
			_, _ = w.Write([]byte(errBody))
			return
		}
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "msg-123"})
	}
}

func (p *providerStub) requestCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.requests)
}

type fixture struct {
	svc      *Service
	client   *Client
	store    *memStore
	provider *providerStub
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	provider := &providerStub{status: http.StatusOK}
	server := httptest.NewServer(provider.handler())
	t.Cleanup(server.Close)

	logger := zaptest.NewLogger(t)
	store := &memStore{}
	limits := types.Limits{MaxPerHour: 10, MaxPerDay: 50}
	limiter := ratelimit.NewLimiter(store, limits, true)

	renderer, err := template.NewRenderer()
	require.NoError(t, err)

	sender := mailer.New(config.MailerConfig{
		Endpoint: server.URL,
		APIKey:   "test-key",
		From:     "Taskmail <notifications@taskmail.app>",
		Timeout:  5 * time.Second,
	}, logger)

	svc := NewService(store, limiter, renderer, sender, nil, logger)
	return &fixture{
		svc:      svc,
		client:   NewClient(svc, limits),
		store:    store,
		provider: provider,
	}
}

func TestDispatchWelcome(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	receipt, err := f.svc.Dispatch(context.Background(), "user-1", &types.NotificationRequest{
		To:         "alice@example.com",
		Subject:    "Welcome to Taskmail",
		TemplateID: types.TemplateWelcome,
		TemplateData: map[string]any{
			"userName": "Alice",
			"loginUrl": "https://x/login",
		},
	}, now)
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, "msg-123", receipt.ProviderMessageID)

	records := f.store.all()
	require.Len(t, records, 1)
	assert.Equal(t, types.OutcomeSent, records[0].Outcome)
	assert.Equal(t, types.TemplateWelcome, records[0].TemplateID)
	assert.Equal(t, "alice@example.com", records[0].Recipient)
	assert.Empty(t, records[0].FailureReason)

	require.Equal(t, 1, f.provider.requestCount())
	sent := f.provider.requests[0]
	assert.Equal(t, "alice@example.com", sent["to"])
	assert.Contains(t, sent["html"], "Alice")
}

func TestDispatchRejectedByHourlyLimit(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	for i := 0; i < 10; i++ {
		f.store.records = append(f.store.records, &types.AuditRecord{
			ID:         "seed",
			IdentityID: "user-1",
			Outcome:    types.OutcomeSent,
			CreatedAt:  now.Add(-time.Duration(i+1) * time.Minute),
		})
	}

	_, err := f.svc.Dispatch(context.Background(), "user-1", &types.NotificationRequest{
		To:         "alice@example.com",
		Subject:    "Task reminder",
		TemplateID: types.TemplateTaskReminder,
	}, now)

	var rejected *types.RejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Equal(t, types.WindowHourly, rejected.Window)
	assert.Contains(t, rejected.Reason, "hourly")

	// The rejection itself is recorded, so a rejected burst stays visible.
	records := f.store.all()
	require.Len(t, records, 11)
	last := records[len(records)-1]
	assert.Equal(t, types.OutcomeFailed, last.Outcome)
	assert.Equal(t, rejected.Reason, last.FailureReason)

	// Delivery is never attempted.
	assert.Equal(t, 0, f.provider.requestCount())
}

func TestDispatchUnknownTemplate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Dispatch(context.Background(), "user-1", &types.NotificationRequest{
		To:         "alice@example.com",
		Subject:    "Hello",
		TemplateID: "bogus",
	}, time.Now().UTC())

	var validation *types.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.ErrorIs(t, err, types.ErrUnknownTemplate)

	assert.Empty(t, f.store.all())
	assert.Equal(t, 0, f.provider.requestCount())
}

func TestDispatchNoContent(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Dispatch(context.Background(), "user-1", &types.NotificationRequest{
		To:      "alice@example.com",
		Subject: "Hello",
	}, time.Now().UTC())

	var validation *types.ValidationError
	require.ErrorAs(t, err, &validation)
	assert.Empty(t, f.store.all())
}

func TestDispatchProviderFailure(t *testing.T) {
	f := newFixture(t)
	f.provider.status = http.StatusInternalServerError
	f.provider.errBody = `{"message": "smtp upstream unavailable"}`

	_, err := f.svc.Dispatch(context.Background(), "user-1", &types.NotificationRequest{
		To:      "alice@example.com",
		Subject: "Hello",
		HTML:    "<p>Hello</p>",
	}, time.Now().UTC())

	var delivery *types.DeliveryError
	require.ErrorAs(t, err, &delivery)
	assert.Equal(t, http.StatusInternalServerError, delivery.StatusCode)

	records := f.store.all()
	require.Len(t, records, 1)
	assert.Equal(t, types.OutcomeFailed, records[0].Outcome)
	assert.Equal(t, "smtp upstream unavailable", records[0].FailureReason)
}

func TestDispatchValidation(t *testing.T) {
	f := newFixture(t)

	testCases := []struct {
		name string
		req  *types.NotificationRequest
	}{
		{
			name: "missing recipient",
			req:  &types.NotificationRequest{Subject: "Hello", Text: "hi"},
		},
		{
			name: "malformed recipient",
			req:  &types.NotificationRequest{To: "not-an-address", Subject: "Hello", Text: "hi"},
		},
		{
			name: "missing subject",
			req:  &types.NotificationRequest{To: "alice@example.com", Text: "hi"},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.svc.Dispatch(context.Background(), "user-1", tc.req, time.Now().UTC())
			var validation *types.ValidationError
			require.ErrorAs(t, err, &validation)
		})
	}

	assert.Empty(t, f.store.all())
}

func TestDispatchAuditWriteFailureDoesNotMaskOutcome(t *testing.T) {
	f := newFixture(t)
	f.store.failing = true

	receipt, err := f.svc.Dispatch(context.Background(), "user-1", &types.NotificationRequest{
		To:      "alice@example.com",
		Subject: "Hello",
		Text:    "hi",
	}, time.Now().UTC())

	// The send succeeded; the lost audit record must not change that.
	require.NoError(t, err)
	require.NotNil(t, receipt)
	assert.Equal(t, 1, f.provider.requestCount())
}

func TestClientFacade(t *testing.T) {
	f := newFixture(t)

	receipt, err := f.client.SendWelcome(context.Background(), "user-1", "alice@example.com", map[string]any{
		"userName": "Alice",
		"loginUrl": "https://x/login",
	})
	require.NoError(t, err)
	require.NotNil(t, receipt)

	require.Equal(t, 1, f.provider.requestCount())
	assert.Equal(t, "Welcome to Taskmail", f.provider.requests[0]["subject"])

	records := f.store.all()
	require.Len(t, records, 1)
	assert.Equal(t, types.TemplateWelcome, records[0].TemplateID)
}

func TestClientSubjectDerivation(t *testing.T) {
	f := newFixture(t)

	_, err := f.client.SendTaskReminder(context.Background(), "user-1", "alice@example.com", map[string]any{
		"taskName": "Pay invoice",
	})
	require.NoError(t, err)

	require.Equal(t, 1, f.provider.requestCount())
	assert.Equal(t, "Reminder: Pay invoice", f.provider.requests[0]["subject"])
}

func TestClientLimits(t *testing.T) {
	f := newFixture(t)
	limits := f.client.Limits()
	assert.Equal(t, 10, limits.MaxPerHour)
	assert.Equal(t, 50, limits.MaxPerDay)
}
