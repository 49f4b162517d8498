package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/payrixa/driftwatch/internal/alerts"
	"github.com/payrixa/driftwatch/internal/domain"
	"github.com/payrixa/driftwatch/internal/drift"
	"github.com/payrixa/driftwatch/internal/service"
)

// stubEventStore backs the API tests with an in-memory event table.
type stubEventStore struct {
	mu     sync.Mutex
	events map[uuid.UUID]*domain.AlertEvent
}

func newStubEventStore() *stubEventStore {
	return &stubEventStore{events: make(map[uuid.UUID]*domain.AlertEvent)}
}

func (s *stubEventStore) CreateAlertEvent(ctx context.Context, event *domain.AlertEvent) (*domain.AlertEvent, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events[event.ID] = event
	return event, true, nil
}

func (s *stubEventStore) GetAlertEvent(ctx context.Context, customerID, eventID uuid.UUID) (*domain.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok || ev.CustomerID != customerID {
		return nil, domain.ErrNotFound
	}
	return ev, nil
}

func (s *stubEventStore) ListAlertEvents(ctx context.Context, customerID uuid.UUID, status domain.AlertStatus, limit, offset int) ([]*domain.AlertEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.AlertEvent
	for _, ev := range s.events {
		if ev.CustomerID == customerID && (status == "" || ev.Status == status) {
			out = append(out, ev)
		}
	}
	return out, nil
}

func (s *stubEventStore) ListPendingEvents(ctx context.Context) ([]*domain.AlertEvent, error) {
	return nil, nil
}

func (s *stubEventStore) MarkSent(ctx context.Context, customerID, eventID uuid.UUID, sentAt time.Time, errorMessage string) (bool, error) {
	return false, nil
}

func (s *stubEventStore) MarkFailed(ctx context.Context, customerID, eventID uuid.UUID, errorMessage string) (bool, error) {
	return false, nil
}

func (s *stubEventStore) ResetToPending(ctx context.Context, customerID, eventID uuid.UUID) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ev, ok := s.events[eventID]
	if !ok || ev.CustomerID != customerID || ev.Status != domain.StatusFailed {
		return false, nil
	}
	ev.Status = domain.StatusPending
	ev.ErrorMessage = ""
	return true, nil
}

func (s *stubEventStore) LatestSent(ctx context.Context, customerID uuid.UUID, key domain.SuppressionEvidence, since time.Time) (*time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var latest *time.Time
	for _, ev := range s.events {
		if ev.CustomerID == customerID && ev.Status == domain.StatusSent &&
			ev.Payload.EntityLabel == key.EntityLabel &&
			ev.Payload.ProductName == key.ProductName &&
			ev.Payload.SignalType == key.SignalType &&
			ev.NotificationSentAt != nil && !ev.NotificationSentAt.Before(since) {
			if latest == nil || ev.NotificationSentAt.After(*latest) {
				sentAt := *ev.NotificationSentAt
				latest = &sentAt
			}
		}
	}
	return latest, nil
}

func (s *stubEventStore) CountNoiseJudgments(ctx context.Context, customerID uuid.UUID, key domain.SuppressionEvidence, scanLimit int) (int, error) {
	return 0, nil
}

// stubJudgmentStore records judgments in memory.
type stubJudgmentStore struct {
	mu        sync.Mutex
	judgments []*domain.OperatorJudgment
}

func (s *stubJudgmentStore) CreateJudgment(ctx context.Context, judgment *domain.OperatorJudgment) error {
	if !judgment.Verdict.IsValid() {
		return domain.ErrInvalidInput
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.judgments = append(s.judgments, judgment)
	return nil
}

func (s *stubJudgmentStore) ListJudgments(ctx context.Context, customerID, alertEventID uuid.UUID) ([]*domain.OperatorJudgment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []*domain.OperatorJudgment
	for _, j := range s.judgments {
		if j.CustomerID == customerID && j.AlertEventID == alertEventID {
			out = append(out, j)
		}
	}
	return out, nil
}

type stubRuleStore struct{}

func (stubRuleStore) ListEnabledRules(ctx context.Context, customerID uuid.UUID) ([]*domain.AlertRule, error) {
	return nil, nil
}

func (stubRuleStore) GetRule(ctx context.Context, customerID, ruleID uuid.UUID) (*domain.AlertRule, error) {
	return nil, domain.ErrNotFound
}

type stubChannelStore struct{}

func (stubChannelStore) ListEnabledChannels(ctx context.Context, customerID uuid.UUID) ([]*domain.NotificationChannel, error) {
	return nil, nil
}

func (stubChannelStore) GetChannels(ctx context.Context, customerID uuid.UUID, channelIDs []uuid.UUID) ([]*domain.NotificationChannel, error) {
	return nil, nil
}

type stubAudit struct{}

func (stubAudit) Publish(ctx context.Context, customerID uuid.UUID, action, entityType, entityID string, metadata map[string]interface{}) {
}

type stubEmail struct{}

func (stubEmail) Deliver(ctx context.Context, event *domain.AlertEvent, recipients []string) error {
	return nil
}

type stubSlack struct{}

func (stubSlack) Deliver(ctx context.Context, event *domain.AlertEvent, webhookURL string) error {
	return nil
}

type apiFixture struct {
	server    *Server
	events    *stubEventStore
	judgments *stubJudgmentStore
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel)

	config := domain.AlertingConfig{
		DefaultAlertEmail:   "alerts@example.com",
		PortalBaseURL:       "https://portal.example.com",
		SuppressionCooldown: 4 * time.Hour,
		NoiseScanLimit:      10,
		NoiseVerdictMinimum: 2,
		DispatchRatePerSec:  1000,
		DispatchBurst:       1000,
		RuleCacheSize:       16,
		RuleCacheTTL:        time.Minute,
	}

	events := newStubEventStore()
	judgments := &stubJudgmentStore{}

	evaluator, err := alerts.NewEvaluator(stubRuleStore{}, events, stubAudit{}, config, logger)
	require.NoError(t, err)
	suppression := alerts.NewSuppressionEngine(events, nil, config, logger)
	router := alerts.NewRouter(events, stubChannelStore{}, stubRuleStore{}, suppression,
		stubEmail{}, stubSlack{}, stubAudit{}, config, logger)
	pipeline := service.NewPipeline(map[string]*drift.Engine{}, nil, evaluator, router, logger)

	server := NewServer(pipeline, events, judgments, suppression,
		domain.ServerConfig{Host: "127.0.0.1", Port: 0}, "error", logger)

	return &apiFixture{server: server, events: events, judgments: judgments}
}

func (f *apiFixture) do(method, path string, body interface{}) *httptest.ResponseRecorder {
	var reader *bytes.Reader
	if body != nil {
		payload, _ := json.Marshal(body)
		reader = bytes.NewReader(payload)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) addEvent(customerID uuid.UUID, status domain.AlertStatus) *domain.AlertEvent {
	event := &domain.AlertEvent{
		ID:          uuid.New(),
		CustomerID:  customerID,
		AlertRuleID: uuid.New(),
		TriggeredAt: time.Now().UTC(),
		Status:      status,
		Payload: domain.AlertPayload{
			ProductName: "DriftWatch",
			SignalType:  domain.DriftTypeDenialRate,
			EntityLabel: "Aetna / office_visits",
		},
	}
	f.events.events[event.ID] = event
	return event
}

func TestHealthEndpoint(t *testing.T) {
	f := newAPIFixture(t)

	rec := f.do(http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "healthy", body["status"])
	assert.NotEmpty(t, rec.Header().Get("X-Correlation-ID"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
}

func TestListAlerts(t *testing.T) {
	f := newAPIFixture(t)
	customerID := uuid.New()
	f.addEvent(customerID, domain.StatusPending)
	f.addEvent(customerID, domain.StatusSent)
	f.addEvent(uuid.New(), domain.StatusPending)

	rec := f.do(http.MethodGet, "/api/v1/customers/"+customerID.String()+"/alerts", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		AlertEvents []*domain.AlertEvent `json:"alert_events"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.AlertEvents, 2, "other tenants' events stay invisible")

	rec = f.do(http.MethodGet, "/api/v1/customers/"+customerID.String()+"/alerts?status=sent", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Len(t, body.AlertEvents, 1)

	rec = f.do(http.MethodGet, "/api/v1/customers/"+customerID.String()+"/alerts?status=bogus", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetAlert(t *testing.T) {
	f := newAPIFixture(t)
	customerID := uuid.New()
	event := f.addEvent(customerID, domain.StatusPending)

	rec := f.do(http.MethodGet, "/api/v1/customers/"+customerID.String()+"/alerts/"+event.ID.String(), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var got domain.AlertEvent
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, event.ID, got.ID)

	rec = f.do(http.MethodGet, "/api/v1/customers/"+customerID.String()+"/alerts/"+uuid.New().String(), nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(http.MethodGet, "/api/v1/customers/not-a-uuid/alerts/"+event.ID.String(), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestResetAlert(t *testing.T) {
	f := newAPIFixture(t)
	customerID := uuid.New()
	event := f.addEvent(customerID, domain.StatusFailed)

	rec := f.do(http.MethodPost, "/api/v1/customers/"+customerID.String()+"/alerts/"+event.ID.String()+"/reset", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, domain.StatusPending, f.events.events[event.ID].Status)

	// Already pending: not resettable.
	rec = f.do(http.MethodPost, "/api/v1/customers/"+customerID.String()+"/alerts/"+event.ID.String()+"/reset", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRun_UnknownProduct(t *testing.T) {
	f := newAPIFixture(t)
	customerID := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/customers/"+customerID.String()+"/runs",
		map[string]string{"product": "no_such_product"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTriggerRun_BadDate(t *testing.T) {
	f := newAPIFixture(t)
	customerID := uuid.New()

	rec := f.do(http.MethodPost, "/api/v1/customers/"+customerID.String()+"/runs",
		map[string]string{"product": "denial_rate", "start_date": "08/30/2026"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestJudgmentLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	customerID := uuid.New()
	event := f.addEvent(customerID, domain.StatusResolved)
	base := "/api/v1/customers/" + customerID.String() + "/alerts/" + event.ID.String() + "/judgments"

	rec := f.do(http.MethodPost, base, map[string]string{"verdict": "noise", "notes": "payer batch reprocess"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = f.do(http.MethodPost, base, map[string]string{"verdict": "bogus"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(http.MethodGet, base, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Judgments []*domain.OperatorJudgment `json:"judgments"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	require.Len(t, body.Judgments, 1)
	assert.Equal(t, domain.VerdictNoise, body.Judgments[0].Verdict)
}

func TestSuppressionEndpoint(t *testing.T) {
	f := newAPIFixture(t)
	customerID := uuid.New()

	sentAt := time.Now().UTC().Add(-time.Hour)
	event := f.addEvent(customerID, domain.StatusSent)
	event.NotificationSentAt = &sentAt

	path := "/api/v1/customers/" + customerID.String() +
		"/suppression?product_name=DriftWatch&signal_type=denial_rate&entity_label=Aetna+%2F+office_visits"
	rec := f.do(http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Suppressed bool                       `json:"suppressed"`
		Context    *domain.SuppressionContext `json:"context"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Suppressed)
	require.NotNil(t, body.Context)
	assert.Equal(t, "cooldown", body.Context.Type)

	// Different entity: not suppressed.
	rec = f.do(http.MethodGet, "/api/v1/customers/"+customerID.String()+
		"/suppression?product_name=DriftWatch&signal_type=denial_rate&entity_label=Cigna", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.False(t, body.Suppressed)
}
