package gateway

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/marketgate/marketgate/internal/alerts"
	"github.com/marketgate/marketgate/internal/events"
	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/provider"
	"github.com/marketgate/marketgate/internal/watchdog"
)

// Server is the HTTP transport over the gateway service
type Server struct {
	service    *Service
	alertStore *alerts.Store
	alertEng   *alerts.Engine
	manager    *watchdog.Manager
	stream     *events.Stream
	hub        *events.Hub
	registry   *provider.Registry
	metrics    *metrics.Registry

	router *mux.Router
}

// NewServer wires the HTTP routes
func NewServer(service *Service, alertStore *alerts.Store, alertEng *alerts.Engine, manager *watchdog.Manager, stream *events.Stream, hub *events.Hub, registry *provider.Registry, m *metrics.Registry) *Server {
	s := &Server{
		service:    service,
		alertStore: alertStore,
		alertEng:   alertEng,
		manager:    manager,
		stream:     stream,
		hub:        hub,
		registry:   registry,
		metrics:    m,
		router:     mux.NewRouter(),
	}
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.Use(s.instrument)

	v1 := s.router.PathPrefix("/v1").Subrouter()
	v1.HandleFunc("/search/symbol", s.handleSearchSymbol).Methods(http.MethodGet)
	v1.HandleFunc("/search/coin", s.handleSearchCoin).Methods(http.MethodGet)
	v1.HandleFunc("/tasks/{id}", s.handleTask).Methods(http.MethodGet)
	v1.HandleFunc("/events", s.handleEvents).Methods(http.MethodGet)

	v1.HandleFunc("/alerts", s.handleListAlerts).Methods(http.MethodGet)
	v1.HandleFunc("/alerts", s.handleCreateAlert).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}", s.handleGetAlert).Methods(http.MethodGet)
	v1.HandleFunc("/alerts/{id}", s.handleUpdateAlert).Methods(http.MethodPut)
	v1.HandleFunc("/alerts/{id}", s.handleDeleteAlert).Methods(http.MethodDelete)
	v1.HandleFunc("/alerts/{id}/enable", s.handleToggleAlert(true)).Methods(http.MethodPost)
	v1.HandleFunc("/alerts/{id}/disable", s.handleToggleAlert(false)).Methods(http.MethodPost)

	s.router.Handle("/ws/events", s.hub).Methods(http.MethodGet)
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.Handle("/metrics", s.metrics.Handler()).Methods(http.MethodGet)
}

// Handler exposes the router for the HTTP server
func (s *Server) Handler() http.Handler { return s.router }

// instrument counts error responses per route template
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		if rec.status >= http.StatusBadRequest && s.metrics != nil {
			endpoint := r.URL.Path
			if route := mux.CurrentRoute(r); route != nil {
				if tpl, err := route.GetPathTemplate(); err == nil {
					endpoint = tpl
				}
			}
			s.metrics.RequestErrors.WithLabelValues(endpoint, strconv.Itoa(rec.status)).Inc()
		}
	})
}

// statusRecorder captures the response code while passing hijacking
// through for the WebSocket upgrade.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return hj.Hijack()
}

func (s *Server) handleSearchSymbol(w http.ResponseWriter, r *http.Request) {
	req, ok := searchRequestFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	resp := s.service.SearchBySymbol(r.Context(), req)
	writeJSON(w, statusFor(resp), resp)
}

func (s *Server) handleSearchCoin(w http.ResponseWriter, r *http.Request) {
	req, ok := searchRequestFromQuery(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "symbol is required")
		return
	}
	resp := s.service.SearchByCoin(r.Context(), req)
	writeJSON(w, statusFor(resp), resp)
}

func searchRequestFromQuery(r *http.Request) (SearchRequest, bool) {
	q := r.URL.Query()
	symbol := strings.TrimSpace(q.Get("symbol"))
	if symbol == "" {
		return SearchRequest{}, false
	}
	includeNarrative, _ := strconv.ParseBool(q.Get("include_narrative"))
	return SearchRequest{
		Symbol:           symbol,
		Market:           q.Get("market"),
		Exchange:         q.Get("exchange"),
		Pair:             q.Get("pair"),
		Depth:            ParseDepth(q.Get("depth")),
		Language:         q.Get("language"),
		ExpertiseLevel:   q.Get("expertise_level"),
		IncludeNarrative: includeNarrative,
		SessionID:        q.Get("session_id"),
		Region:           q.Get("region"),
	}, true
}

// statusFor keeps failed searches well-formed: 200 with is_valid=false
// except when arbitration found no provider at all.
func statusFor(resp *SearchResponse) int {
	if resp.IsValid {
		return http.StatusOK
	}
	return http.StatusBadGateway
}

func (s *Server) handleTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.service.tasks.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, task)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	if sinceID := q.Get("since_id"); sinceID != "" || q.Get("persisted") == "true" {
		persisted, err := s.stream.Persisted(r.Context(), sinceID, limit)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"events": persisted})
		return
	}

	filter := filterFromValues(q)
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"events": s.stream.History(filter, limit),
	})
}

func filterFromValues(q map[string][]string) *events.Filter {
	filter := &events.Filter{}
	for _, t := range q["type"] {
		filter.Types = append(filter.Types, events.Type(t))
	}
	for _, sev := range q["severity"] {
		filter.Severities = append(filter.Severities, events.Severity(sev))
	}
	for _, sym := range q["symbol"] {
		filter.AssetSymbols = append(filter.AssetSymbols, strings.ToUpper(sym))
	}
	for _, name := range q["watchdog"] {
		filter.WatchdogNames = append(filter.WatchdogNames, name)
	}
	return filter
}

func (s *Server) handleListAlerts(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"alerts": s.alertStore.List()})
}

func (s *Server) handleCreateAlert(w http.ResponseWriter, r *http.Request) {
	var config alerts.AlertConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert payload: "+err.Error())
		return
	}

	created, err := s.alertStore.Create(config)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if created.Enabled {
		if err := s.alertEng.Activate(created.ID); err != nil {
			log.Warn().Err(err).Str("alert", created.ID).Msg("alert activation failed")
		}
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleGetAlert(w http.ResponseWriter, r *http.Request) {
	alert, err := s.alertStore.Get(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, alert)
}

func (s *Server) handleUpdateAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var config alerts.AlertConfig
	if err := json.NewDecoder(r.Body).Decode(&config); err != nil {
		writeError(w, http.StatusBadRequest, "invalid alert payload: "+err.Error())
		return
	}

	updated, err := s.alertStore.Update(id, config)
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}

	// Re-subscribe so the stream filter reflects the new trigger
	s.alertEng.Deactivate(id)
	if updated.Enabled {
		if err := s.alertEng.Activate(id); err != nil {
			log.Warn().Err(err).Str("alert", id).Msg("alert reactivation failed")
		}
	}
	writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteAlert(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	s.alertEng.Deactivate(id)
	if err := s.alertStore.Delete(id); err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleToggleAlert(enabled bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		alert, err := s.alertStore.SetEnabled(id, enabled)
		if err != nil {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		if enabled {
			if err := s.alertEng.Activate(id); err != nil {
				log.Warn().Err(err).Str("alert", id).Msg("alert activation failed")
			}
		} else {
			s.alertEng.Deactivate(id)
		}
		writeJSON(w, http.StatusOK, alert)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	providerHealth := s.registry.AllHealth()
	healthyProviders := 0
	for _, h := range providerHealth {
		if h.IsHealthy {
			healthyProviders++
		}
	}

	total, byType, bySeverity := s.stream.Counters()
	body := map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UTC(),
		"providers": map[string]interface{}{
			"healthy": healthyProviders,
			"total":   len(providerHealth),
			"detail":  providerHealth,
		},
		"watchdogs": s.manager.FleetHealth(),
		"events": map[string]interface{}{
			"total":       total,
			"by_type":     byType,
			"by_severity": bySeverity,
			"subscribers": s.stream.SubscriberCount(),
			"ws_clients":  s.hub.ClientCount(),
		},
	}

	status := http.StatusOK
	if healthyProviders == 0 {
		body["status"] = "degraded"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Warn().Err(err).Msg("response encode failed")
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
