package http

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/alem-hub/unlock-gateway/config"
	"github.com/alem-hub/unlock-gateway/internal/application/command"
	"github.com/alem-hub/unlock-gateway/internal/domain/identity"
	"github.com/alem-hub/unlock-gateway/internal/domain/shared"
	"github.com/alem-hub/unlock-gateway/internal/domain/unlock"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/auth"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/messaging"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/persistence/memory"
	"github.com/alem-hub/unlock-gateway/internal/infrastructure/scheduler"
	"github.com/alem-hub/unlock-gateway/internal/interface/http/handlers"
	"github.com/alem-hub/unlock-gateway/internal/interface/realtime"
	"github.com/alem-hub/unlock-gateway/pkg/retry"
)

const apiKey = "service-key"

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type recordingPublisher struct {
	mu     sync.Mutex
	events []shared.Event
}

func (p *recordingPublisher) Publish(e shared.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

type stubJobs struct {
	result *scheduler.JobResult
	err    error
}

func (j *stubJobs) ListJobs() []scheduler.JobInfo {
	return []scheduler.JobInfo{{Name: "unlock_scan", Schedule: "@every 1m0s"}}
}

func (j *stubJobs) RunNow(ctx context.Context, name string) (*scheduler.JobResult, error) {
	if name != "unlock_scan" {
		return nil, scheduler.ErrJobNotFound
	}
	return j.result, j.err
}

type env struct {
	srv       *httptest.Server
	repo      *memory.UnlockRepository
	store     *memory.NotificationStore
	publisher *recordingPublisher
	features  *config.FeatureFlags
	health    *handlers.CompositeHealthChecker
	bus       *messaging.InMemoryEventBus
}

func newEnv(t *testing.T) *env {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.MinCost)
	require.NoError(t, err)

	dir := memory.NewDirectory()
	dir.PutUser(identity.User{ID: "u1", Active: true})
	dir.PutSubject(unlock.SubjectModule, "m2", "Concurrency")

	repo := memory.NewUnlockRepository()
	store := memory.NewNotificationStore()
	registry := realtime.NewRegistry(auth.NewJWTVerifier("secret", "", 0), dir, realtime.RegistryConfig{Logger: discard})
	dispatcher := realtime.NewDispatcher(registry, realtime.DispatcherConfig{Store: store, Logger: discard})
	processor := command.NewUnlockProcessor(repo, dir, dispatcher, nil, discard, command.UnlockProcessorConfig{
		MarkRetrier: retry.New(retry.WithMaxAttempts(1)),
	})

	e := &env{
		repo:      repo,
		store:     store,
		publisher: &recordingPublisher{},
		features:  config.LoadFeatureFlags(),
		health:    handlers.NewCompositeHealthChecker("test"),
		bus:       messaging.NewInMemoryEventBus(messaging.InMemoryEventBusConfig{Logger: discard}),
	}
	t.Cleanup(func() { _ = e.bus.Close() })

	server := NewServer(DefaultConfig(), Dependencies{
		Scheduler:     command.NewScheduleUnlockHandler(repo, nil, discard, nil),
		Expediter:     command.NewExpediteUnlockHandler(repo, processor),
		Notifier:      dispatcher,
		Publisher:     e.publisher,
		Connections:   registry,
		Events:        e.bus.Metrics(),
		Jobs:          &stubJobs{result: &scheduler.JobResult{JobName: "unlock_scan", Success: true}},
		HealthChecker: e.health,
		APIKeys:       handlers.NewAPIKeyAuth("", []string{string(hash)}),
		Features:      e.features,
		Logger:        discard,
	})
	e.srv = httptest.NewServer(server.Handler())
	t.Cleanup(e.srv.Close)
	return e
}

type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *APIError       `json:"error"`
}

func (e *env) do(t *testing.T, method, path, key string, body interface{}) (int, envelope) {
	t.Helper()

	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rdr)
	require.NoError(t, err)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out envelope
	if resp.StatusCode != http.StatusUnauthorized {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	}
	return resp.StatusCode, out
}

func TestHealthEndpoints(t *testing.T) {
	e := newEnv(t)

	status, _ := e.do(t, http.MethodGet, "/live", "", nil)
	assert.Equal(t, http.StatusOK, status)

	status, _ = e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, status)

	e.health.AddOptionalCheck("redis", func(ctx context.Context) error { return errors.New("connection refused") })
	status, _ = e.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
	status, _ = e.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, status, "optional checks keep the service ready")

	e.health.AddCheck("database", func(ctx context.Context) error { return errors.New("down") })
	status, _ = e.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestInternalAPI_RequiresKey(t *testing.T) {
	e := newEnv(t)

	status, _ := e.do(t, http.MethodGet, "/internal/v1/stats", "", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	status, _ = e.do(t, http.MethodGet, "/internal/v1/stats", "wrong", nil)
	assert.Equal(t, http.StatusUnauthorized, status)

	require.NoError(t, e.bus.Publish(shared.NewXPGainedEvent("u1", 5, "task", "")))

	status, body := e.do(t, http.MethodGet, "/internal/v1/stats", apiKey, nil)
	require.Equal(t, http.StatusOK, status)

	var stats struct {
		Connections realtime.RegistryStats            `json:"connections"`
		Events      messaging.EventBusMetricsSnapshot `json:"events"`
		Jobs        []scheduler.JobInfo               `json:"jobs"`
		Features    []config.Feature                  `json:"features"`
	}
	require.NoError(t, json.Unmarshal(body.Data, &stats))
	assert.Zero(t, stats.Connections.Sockets)
	assert.Equal(t, int64(1), stats.Events.TotalPublished)
	assert.Equal(t, int64(1), stats.Events.PublishedByType[shared.EventXPGained])
	require.Len(t, stats.Jobs, 1)
	assert.NotEmpty(t, stats.Features)
}

func TestSchedulesAndExpedite(t *testing.T) {
	e := newEnv(t)

	status, body := e.do(t, http.MethodPost, "/internal/v1/schedules", apiKey, map[string]interface{}{
		"userId":        "u1",
		"subjectType":   "module",
		"subjectId":     "m2",
		"waitingPeriod": "24h",
	})
	require.Equal(t, http.StatusCreated, status)

	var created scheduleResponse
	require.NoError(t, json.Unmarshal(body.Data, &created))
	assert.Equal(t, "pending", created.State)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), created.UnlockAt, time.Minute)
	assert.InDelta(t, (24 * time.Hour).Seconds(), float64(created.RemainingSeconds), 60)

	status, body = e.do(t, http.MethodPost, "/internal/v1/schedules", apiKey, map[string]interface{}{
		"userId":      "u1",
		"subjectType": "module",
		"subjectId":   "m2",
	})
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "already_exists", body.Error.Code)

	status, _ = e.do(t, http.MethodPost, "/internal/v1/schedules", apiKey, map[string]interface{}{
		"userId":      "u1",
		"subjectType": "chapter",
		"subjectId":   "c1",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	path := "/internal/v1/schedules/" + created.ID + "/expedite"
	status, _ = e.do(t, http.MethodPost, path, apiKey, map[string]string{"unlockType": "timer_completed"})
	assert.Equal(t, http.StatusBadRequest, status, "only manual unlock types may expedite")

	status, body = e.do(t, http.MethodPost, path, apiKey, map[string]string{"unlockType": "admin_action"})
	require.Equal(t, http.StatusOK, status)
	var res unlockResultResponse
	require.NoError(t, json.Unmarshal(body.Data, &res))
	assert.Equal(t, string(command.OutcomeNotified), res.Outcome)
	assert.Equal(t, "Concurrency", res.Title)

	count, err := e.store.GetUnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	status, body = e.do(t, http.MethodPost, path, apiKey, nil)
	assert.Equal(t, http.StatusConflict, status)
	assert.Equal(t, "invalid_state", body.Error.Code)

	status, _ = e.do(t, http.MethodPost, "/internal/v1/schedules/missing/expedite", apiKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestNotifyEndpoints(t *testing.T) {
	e := newEnv(t)

	status, _ := e.do(t, http.MethodPost, "/internal/v1/notify/xp", apiKey, map[string]interface{}{
		"userId": "u1", "xpAmount": 15, "reason": "task",
	})
	assert.Equal(t, http.StatusAccepted, status)

	status, _ = e.do(t, http.MethodPost, "/internal/v1/notify/waiting-period", apiKey, map[string]interface{}{
		"userId": "u1", "moduleId": "m2", "moduleTitle": "Concurrency", "remainingHours": 12, "totalWaitHours": 48,
	})
	assert.Equal(t, http.StatusAccepted, status)

	count, err := e.store.GetUnreadCount(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	status, body := e.do(t, http.MethodPost, "/internal/v1/notify/waiting-period", apiKey, map[string]interface{}{
		"userId": "u1", "moduleId": "m2",
	})
	assert.Equal(t, http.StatusBadRequest, status)
	assert.Equal(t, "remainingHours and totalWaitHours are required", body.Error.Message)

	status, _ = e.do(t, http.MethodPost, "/internal/v1/notify/achievement", apiKey, map[string]interface{}{
		"achievementId": "a1",
	})
	assert.Equal(t, http.StatusBadRequest, status)

	status, _ = e.do(t, http.MethodPost, "/internal/v1/notify/xp", apiKey, map[string]interface{}{
		"userId": "u1", "bogus": true,
	})
	assert.Equal(t, http.StatusBadRequest, status, "unknown fields are rejected")
}

func TestEventIngest(t *testing.T) {
	e := newEnv(t)

	status, _ := e.do(t, http.MethodPost, "/internal/v1/events/xp.gained", apiKey, map[string]interface{}{
		"userId": "u1", "amount": 5, "reason": "task",
	})
	require.Equal(t, http.StatusAccepted, status)

	status, _ = e.do(t, http.MethodPost, "/internal/v1/events/subject.completed", apiKey, map[string]interface{}{
		"userId": "u1", "completedId": "m1", "nextSubjectType": "section", "nextSubjectId": "s1",
		"nextModuleId": "m1", "waitingPeriod": "12h",
	})
	require.Equal(t, http.StatusAccepted, status)

	require.Len(t, e.publisher.events, 2)
	assert.Equal(t, shared.EventXPGained, e.publisher.events[0].EventType())
	completed, ok := e.publisher.events[1].(shared.SubjectCompletedEvent)
	require.True(t, ok)
	assert.Equal(t, "m1", completed.NextModuleID)
	assert.Equal(t, 12*time.Hour, completed.WaitingPeriod)

	status, _ = e.do(t, http.MethodPost, "/internal/v1/events/rank.changed", apiKey, map[string]interface{}{"userId": "u1"})
	assert.Equal(t, http.StatusNotFound, status)

	require.NoError(t, e.features.SetEnabled(config.FeatureEventIngest, false))
	status, body := e.do(t, http.MethodPost, "/internal/v1/events/xp.gained", apiKey, map[string]interface{}{"userId": "u1"})
	assert.Equal(t, http.StatusNotFound, status)
	assert.Equal(t, "feature_disabled", body.Error.Code)
}

func TestRunJob(t *testing.T) {
	e := newEnv(t)

	status, _ := e.do(t, http.MethodPost, "/internal/v1/jobs/unlock_scan/run", apiKey, nil)
	assert.Equal(t, http.StatusNotFound, status, "manual runs are opt-in")

	require.NoError(t, e.features.SetEnabled(config.FeatureManualJobs, true))
	status, body := e.do(t, http.MethodPost, "/internal/v1/jobs/unlock_scan/run", apiKey, nil)
	require.Equal(t, http.StatusOK, status)
	var result scheduler.JobResult
	require.NoError(t, json.Unmarshal(body.Data, &result))
	assert.True(t, result.Success)

	status, _ = e.do(t, http.MethodPost, "/internal/v1/jobs/nope/run", apiKey, nil)
	assert.Equal(t, http.StatusNotFound, status)
}
