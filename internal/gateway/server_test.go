package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marketgate/marketgate/internal/alerts"
	"github.com/marketgate/marketgate/internal/arbiter"
	"github.com/marketgate/marketgate/internal/cache"
	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
	"github.com/marketgate/marketgate/internal/guardrail"
	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/provider"
	"github.com/marketgate/marketgate/internal/watchdog"
)

type serverFixture struct {
	api    *httptest.Server
	stream *events.Stream
	store  *alerts.Store
	tasks  *TaskRegistry
}

func newServerFixture(t *testing.T, providerConfigs []provider.Config) *serverFixture {
	t.Helper()

	registry := provider.NewRegistry(providerConfigs)
	if len(providerConfigs) > 0 {
		require.NoError(t, registry.Initialize(context.Background()))
	}
	engine := arbiter.NewEngine(registry, providerConfigs, arbiter.Options{})
	cacheMgr := cache.NewManager(cache.NewMemoryCache(1000), nil)
	guard, err := guardrail.New(guardrail.DefaultOptions())
	require.NoError(t, err)
	tasks := NewTaskRegistry()
	service := NewService(engine, cacheMgr, guard, tasks, nil, "us", nil)

	stream := events.NewStream(events.DefaultStreamConfig())
	store := alerts.NewStore()
	alertEng := alerts.NewEngine(store, stream, alerts.EngineConfig{}, nil)
	alertEng.Start()
	manager := watchdog.NewManager(stream, watchdog.DefaultManagerConfig())
	hub := events.NewHub()

	server := NewServer(service, store, alertEng, manager, stream, hub, registry, metrics.NewRegistry())
	api := httptest.NewServer(server.Handler())

	t.Cleanup(func() {
		api.Close()
		alertEng.Stop()
		hub.Close()
		stream.Close()
		tasks.Close()
		cacheMgr.Close()
	})
	return &serverFixture{api: api, stream: stream, store: store, tasks: tasks}
}

func mockConfigs() []provider.Config {
	return []provider.Config{
		{Name: "mock", Enabled: true, Priority: 1, RateLimitPerMinute: 600, TimeoutSeconds: 2},
	}
}

func getJSON(t *testing.T, url string, out interface{}) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func doJSON(t *testing.T, method, url string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func TestSearchSymbolEndpoint(t *testing.T) {
	f := newServerFixture(t, mockConfigs())

	var resp SearchResponse
	status := getJSON(t, f.api.URL+"/v1/search/symbol?symbol=AAPL&depth=quick", &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.True(t, resp.IsValid)
	assert.Equal(t, "AAPL", resp.Symbol)
	assert.Equal(t, "mock", resp.Cached.Source)

	status = getJSON(t, f.api.URL+"/v1/search/symbol?depth=quick", nil)
	assert.Equal(t, http.StatusBadRequest, status, "symbol is required")
}

func TestSearchCoinEndpoint(t *testing.T) {
	f := newServerFixture(t, mockConfigs())

	var resp SearchResponse
	status := getJSON(t, f.api.URL+"/v1/search/coin?symbol=btc&depth=standard", &resp)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, domain.AssetCrypto, resp.AssetType)
	assert.NotNil(t, resp.CryptoMetrics)
}

func TestSearchEndpointNoProviders(t *testing.T) {
	f := newServerFixture(t, nil)

	var resp SearchResponse
	status := getJSON(t, f.api.URL+"/v1/search/symbol?symbol=AAPL", &resp)
	assert.Equal(t, http.StatusBadGateway, status)
	assert.False(t, resp.IsValid)
	assert.Equal(t, "error", resp.Cached.Source)
}

func TestTaskEndpoint(t *testing.T) {
	f := newServerFixture(t, mockConfigs())

	info := f.tasks.Submit(context.Background(), "narrative", 0, func(ctx context.Context, progress func(float64)) (interface{}, error) {
		return "done", nil
	})
	waitFor(t, func() bool {
		got, err := f.tasks.Get(info.ID)
		return err == nil && got.Status == TaskSucceeded
	})

	var task TaskInfo
	status := getJSON(t, f.api.URL+"/v1/tasks/"+info.ID, &task)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, TaskSucceeded, task.Status)

	status = getJSON(t, f.api.URL+"/v1/tasks/nonexistent", nil)
	assert.Equal(t, http.StatusNotFound, status)
}

func TestEventsEndpoint(t *testing.T) {
	f := newServerFixture(t, mockConfigs())
	ctx := context.Background()

	btc := domain.NewAsset("BTC", domain.AssetCrypto)
	f.stream.Emit(ctx, events.New(events.TypeFlashCrash, events.SeverityCritical, "crash").WithAsset(btc))
	f.stream.Emit(ctx, events.New(events.TypeUnusualVolume, events.SeverityMedium, "volume").WithAsset(btc))

	var body struct {
		Events []*events.Event `json:"events"`
	}
	status := getJSON(t, f.api.URL+"/v1/events", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Events, 2)

	status = getJSON(t, f.api.URL+"/v1/events?severity=critical", &body)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, body.Events, 1)
	assert.Equal(t, events.TypeFlashCrash, body.Events[0].Type)

	// Symbol filters are case-insensitive at the HTTP boundary
	status = getJSON(t, f.api.URL+"/v1/events?symbol=btc", &body)
	assert.Equal(t, http.StatusOK, status)
	assert.Len(t, body.Events, 2)

	// Persisted reads require the durable log, absent in this fixture
	status = getJSON(t, f.api.URL+"/v1/events?persisted=true", nil)
	assert.Equal(t, http.StatusServiceUnavailable, status)
}

func TestAlertEndpoints(t *testing.T) {
	f := newServerFixture(t, mockConfigs())
	base := f.api.URL + "/v1/alerts"

	payload := map[string]interface{}{
		"name":             "crash watch",
		"enabled":          true,
		"trigger":          map[string]interface{}{"severities": []string{"critical"}},
		"delivery_methods": []string{"webhook"},
		"webhook_config":   map[string]interface{}{"url": "https://example.com/hook"},
	}

	var created alerts.AlertConfig
	status := doJSON(t, http.MethodPost, base, payload, &created)
	require.Equal(t, http.StatusCreated, status)
	require.NotEmpty(t, created.ID)

	var listing struct {
		Alerts []*alerts.AlertConfig `json:"alerts"`
	}
	status = getJSON(t, base, &listing)
	assert.Equal(t, http.StatusOK, status)
	require.Len(t, listing.Alerts, 1)

	var got alerts.AlertConfig
	status = getJSON(t, base+"/"+created.ID, &got)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "crash watch", got.Name)

	payload["name"] = "renamed watch"
	var updated alerts.AlertConfig
	status = doJSON(t, http.MethodPut, base+"/"+created.ID, payload, &updated)
	assert.Equal(t, http.StatusOK, status)
	assert.Equal(t, "renamed watch", updated.Name)

	var toggled alerts.AlertConfig
	status = doJSON(t, http.MethodPost, base+"/"+created.ID+"/disable", nil, &toggled)
	assert.Equal(t, http.StatusOK, status)
	assert.False(t, toggled.Enabled)

	status = doJSON(t, http.MethodDelete, base+"/"+created.ID, nil, nil)
	assert.Equal(t, http.StatusNoContent, status)
	status = getJSON(t, base+"/"+created.ID, nil)
	assert.Equal(t, http.StatusNotFound, status)

	// Invalid definitions are rejected up front
	status = doJSON(t, http.MethodPost, base, map[string]interface{}{"name": ""}, nil)
	assert.Equal(t, http.StatusBadRequest, status)
}

func TestHealthEndpoint(t *testing.T) {
	t.Run("healthy providers report ok", func(t *testing.T) {
		f := newServerFixture(t, mockConfigs())

		var body struct {
			Status    string                 `json:"status"`
			Providers map[string]interface{} `json:"providers"`
		}
		status := getJSON(t, f.api.URL+"/health", &body)
		assert.Equal(t, http.StatusOK, status)
		assert.Equal(t, "ok", body.Status)
		assert.Equal(t, float64(1), body.Providers["healthy"])
	})

	t.Run("no healthy providers degrades", func(t *testing.T) {
		f := newServerFixture(t, nil)

		var body struct {
			Status string `json:"status"`
		}
		status := getJSON(t, f.api.URL+"/health", &body)
		assert.Equal(t, http.StatusServiceUnavailable, status)
		assert.Equal(t, "degraded", body.Status)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	f := newServerFixture(t, mockConfigs())

	resp, err := http.Get(f.api.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
