// Package app assembles the gateway from configuration and owns the
// startup and shutdown ordering.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog/log"

	"github.com/marketgate/marketgate/internal/alerts"
	"github.com/marketgate/marketgate/internal/arbiter"
	"github.com/marketgate/marketgate/internal/cache"
	"github.com/marketgate/marketgate/internal/config"
	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/events"
	"github.com/marketgate/marketgate/internal/gateway"
	"github.com/marketgate/marketgate/internal/guardrail"
	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/provider"
	"github.com/marketgate/marketgate/internal/watchdog"
)

// App is the assembled gateway process
type App struct {
	settings *config.Settings

	registry *provider.Registry
	engine   *arbiter.Engine
	cacheMgr *cache.Manager
	stream   *events.Stream
	hub      *events.Hub
	manager  *watchdog.Manager
	alertEng *alerts.Engine
	tasks    *gateway.TaskRegistry
	server   *http.Server
	cron     *cron.Cron

	cacheSubID string
	redis      *redis.Client
	pg         *sqlx.DB
}

// New assembles the application; nothing starts running yet
func New(settings *config.Settings) (*App, error) {
	a := &App{settings: settings}

	a.registry = provider.NewRegistry(settings.Providers)
	a.engine = arbiter.NewEngine(a.registry, settings.Providers, arbiter.Options{
		RegionPenaltyWindow: settings.RegionPenaltyWindow(),
		BreakerOpenTimeout:  settings.BreakerOpenTimeout(),
	})

	l1 := cache.NewMemoryCache(settings.Cache.L1MaxEntries)
	var l2 cache.Cache
	if settings.Redis.Enabled() {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     settings.Redis.Addr,
			Password: settings.Redis.Password,
			DB:       settings.Redis.DB,
		})
		l2 = cache.NewRedisCache(a.redis, settings.Redis.KeyPrefix)
	}
	a.cacheMgr = cache.NewManager(l1, l2)

	a.stream = events.NewStream(settings.Stream)
	a.hub = events.NewHub()
	a.stream.SetBroadcaster(a.hub)

	if err := a.wireDurableLog(); err != nil {
		return nil, err
	}

	guard, err := guardrail.New(guardrail.Options{
		StrictMode:           settings.Guardrail.StrictMode,
		AutoAddDisclaimer:    settings.Guardrail.AutoAddDisclaimerValue(),
		DefaultLanguage:      settings.Guardrail.DefaultLanguage,
		StrictViolationLimit: settings.Guardrail.StrictViolationLimit,
		MinLanguageScore:     settings.Guardrail.MinLanguageScore,
	})
	if err != nil {
		return nil, fmt.Errorf("guardrail: %w", err)
	}

	m := metrics.NewRegistry()
	a.engine.SetMetrics(m)
	a.cacheMgr.SetMetrics(m)
	a.stream.SetMetrics(m)

	a.tasks = gateway.NewTaskRegistry()
	service := gateway.NewService(a.engine, a.cacheMgr, guard, a.tasks, m, settings.Server.DefaultRegion, nil)

	alertStore := alerts.NewStore()
	a.alertEng = alerts.NewEngine(alertStore, a.stream, settings.Alerts.Engine, a.buildDeliverers())
	a.alertEng.SetMetrics(m)

	a.manager = watchdog.NewManager(a.stream, settings.Watchdogs.Manager)
	if err := a.registerDetectors(); err != nil {
		return nil, err
	}

	server := gateway.NewServer(service, alertStore, a.alertEng, a.manager, a.stream, a.hub, a.registry, m)
	a.server = &http.Server{
		Addr:              settings.Server.Addr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	a.cron = cron.New()
	return a, nil
}

// wireDurableLog prefers Redis Streams, falling back to Postgres
func (a *App) wireDurableLog() error {
	if a.redis != nil {
		a.stream.SetDurableLog(events.NewRedisLog(a.redis, "marketgate:events", 10000))
		return nil
	}
	if a.settings.Postgres.Enabled() {
		db, err := sqlx.Open("postgres", a.settings.Postgres.DSN)
		if err != nil {
			return fmt.Errorf("postgres open: %w", err)
		}
		durable, err := events.NewPostgresLog(db, 10000)
		if err != nil {
			return fmt.Errorf("postgres event log: %w", err)
		}
		a.pg = db
		a.stream.SetDurableLog(durable)
	}
	return nil
}

// registerDetectors builds the fleet from config; detectors without an
// entry are registered disabled so they appear in health output.
func (a *App) registerDetectors() error {
	cryptoAssets := make([]domain.Asset, 0, len(a.settings.Watchdogs.Symbols))
	for _, sym := range a.settings.Watchdogs.Symbols {
		cryptoAssets = append(cryptoAssets, domain.NewAsset(sym, domain.AssetCrypto))
	}
	equityAssets := make([]domain.Asset, 0, len(a.settings.Watchdogs.Equities))
	for _, sym := range a.settings.Watchdogs.Equities {
		equityAssets = append(equityAssets, domain.NewAsset(sym, domain.AssetEquity))
	}
	watched := append(append([]domain.Asset{}, cryptoAssets...), equityAssets...)

	quotes := &watchdog.EngineSource{Engine: a.engine, Region: a.settings.Server.DefaultRegion}

	var pairs []watchdog.CorrelationPair
	for i := 1; i < len(cryptoAssets); i++ {
		pairs = append(pairs, watchdog.CorrelationPair{A: cryptoAssets[0], B: cryptoAssets[i]})
	}

	fmpKey := ""
	for _, p := range a.settings.Providers {
		if p.Name == "fmp" {
			fmpKey = p.APIKey
		}
	}

	checkers := []struct {
		checker  watchdog.Checker
		interval time.Duration
	}{
		{watchdog.NewPriceAnomalyDetector(quotes, watched, 0, 0), 30 * time.Second},
		{watchdog.NewUnusualVolumeDetector(quotes, watched, 0), time.Minute},
		{watchdog.NewFundingRateDetector(watchdog.NewBinanceFundingSource(), cryptoAssets, 0), 5 * time.Minute},
		{watchdog.NewLiquidityDropDetector(watchdog.NewBinanceDepthSource(), cryptoAssets, 0), 3 * time.Minute},
		{watchdog.NewWhaleMovementDetector(watchdog.NewBinanceTradeWhaleSource(), cryptoAssets, 0), 2 * time.Minute},
		{watchdog.NewEarningsAnomalyDetector(watchdog.NewFMPEarningsSource(fmpKey), equityAssets, 0), 5 * time.Minute},
		{watchdog.NewCorrelationBreakDetector(quotes, pairs, 0), 10 * time.Minute},
		{watchdog.NewExchangeOutageDetector(watchdog.DefaultEndpoints(), 5 * time.Second), time.Minute},
	}

	for _, c := range checkers {
		cfg, ok := a.settings.Watchdogs.Detectors[c.checker.Name()]
		if !ok {
			cfg = watchdog.Config{Enabled: false}
		}
		if cfg.CheckInterval <= 0 {
			cfg.CheckInterval = c.interval
		}
		if err := a.manager.Register(watchdog.New(c.checker, cfg, a.stream)); err != nil {
			return fmt.Errorf("register %s: %w", c.checker.Name(), err)
		}
	}
	return nil
}

func (a *App) buildDeliverers() map[alerts.DeliveryMethod]alerts.Deliverer {
	deliverers := map[alerts.DeliveryMethod]alerts.Deliverer{
		alerts.DeliveryWebhook: alerts.NewWebhookDeliverer(nil),
	}
	if a.settings.Alerts.SMTP.Host != "" {
		deliverers[alerts.DeliveryEmail] = alerts.NewEmailDeliverer(a.settings.Alerts.SMTP)
	}
	if token := a.settings.Alerts.Telegram.BotToken; token != "" {
		telegram, err := alerts.NewTelegramDeliverer(token)
		if err != nil {
			log.Warn().Err(err).Msg("telegram deliverer unavailable")
		} else {
			deliverers[alerts.DeliveryTelegram] = telegram
		}
	}
	return deliverers
}

// Run starts everything and blocks until ctx is cancelled or the HTTP
// server fails.
func (a *App) Run(ctx context.Context) error {
	if err := a.registry.Initialize(ctx); err != nil {
		return fmt.Errorf("provider registry: %w", err)
	}

	subID, err := a.stream.Subscribe(a.cacheMgr.HandleEvent, nil, "cache-invalidator")
	if err != nil {
		return fmt.Errorf("cache invalidation subscriber: %w", err)
	}
	a.cacheSubID = subID

	if err := a.manager.Initialize(); err != nil {
		return fmt.Errorf("watchdog manager: %w", err)
	}
	a.manager.Start(ctx)
	a.alertEng.Start()

	// Health refresh every minute; daily fleet summary at midnight UTC
	if _, err := a.cron.AddFunc("* * * * *", a.registry.RefreshHealth); err != nil {
		return fmt.Errorf("schedule health refresh: %w", err)
	}
	if _, err := a.cron.AddFunc("0 0 * * *", a.dailySummary); err != nil {
		return fmt.Errorf("schedule daily summary: %w", err)
	}
	a.cron.Start()

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", a.settings.Server.Addr).Msg("gateway listening")
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info().Msg("shutdown signal received")
		a.shutdown()
		return nil
	case err := <-errCh:
		a.shutdown()
		return fmt.Errorf("http server: %w", err)
	}
}

// dailySummary logs provider and event counters at the UTC day boundary
func (a *App) dailySummary() {
	a.registry.RefreshHealth()
	healthy := 0
	all := a.registry.AllHealth()
	for _, h := range all {
		if h.IsHealthy {
			healthy++
		}
	}
	total, _, bySeverity := a.stream.Counters()
	log.Info().
		Int("providers_healthy", healthy).
		Int("providers_total", len(all)).
		Int64("events_total", total).
		Interface("events_by_severity", bySeverity).
		Msg("daily summary")
}

// shutdown stops components in dependency order: transport first, then
// event producers, then consumers, then storage.
func (a *App) shutdown() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http shutdown failed")
	}
	a.cron.Stop()
	a.manager.Stop()
	a.alertEng.Stop()
	if a.cacheSubID != "" {
		a.stream.Unsubscribe(a.cacheSubID)
	}
	a.stream.Close()
	a.hub.Close()
	a.tasks.Close()
	if err := a.registry.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("registry shutdown failed")
	}
	a.cacheMgr.Close()
	if a.pg != nil {
		a.pg.Close()
	}
	log.Info().Msg("gateway stopped")
}
