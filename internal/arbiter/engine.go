package arbiter

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/sony/gobreaker"

	"github.com/marketgate/marketgate/internal/domain"
	"github.com/marketgate/marketgate/internal/metrics"
	"github.com/marketgate/marketgate/internal/provider"
)

// Options tunes the arbitration engine
type Options struct {
	// RegionPenaltyWindow is how long a provider stays out of candidacy for
	// a region after raising a regional restriction.
	RegionPenaltyWindow time.Duration
	// BreakerOpenTimeout is how long an open provider breaker waits before
	// probing again.
	BreakerOpenTimeout time.Duration
}

// DefaultOptions returns the engine defaults
func DefaultOptions() Options {
	return Options{
		RegionPenaltyWindow: 30 * time.Minute,
		BreakerOpenTimeout:  30 * time.Second,
	}
}

// Engine scores providers per request, produces ordered plans, and
// executes them with serial fallback. Multiple plans may execute
// concurrently; one plan is always serial.
type Engine struct {
	registry *provider.Registry
	timeouts map[string]time.Duration
	opts     Options

	breakerMu sync.Mutex
	breakers  map[string]*gobreaker.CircuitBreaker

	regionMu       sync.Mutex
	regionPenalties map[string]map[string]time.Time // provider -> region -> blocked at

	metrics *metrics.Registry
}

// NewEngine creates an arbitration engine over a registry
func NewEngine(registry *provider.Registry, configs []provider.Config, opts Options) *Engine {
	if opts.RegionPenaltyWindow <= 0 {
		opts.RegionPenaltyWindow = DefaultOptions().RegionPenaltyWindow
	}
	if opts.BreakerOpenTimeout <= 0 {
		opts.BreakerOpenTimeout = DefaultOptions().BreakerOpenTimeout
	}

	timeouts := make(map[string]time.Duration, len(configs))
	for _, cfg := range configs {
		timeouts[cfg.Name] = cfg.Timeout()
	}

	return &Engine{
		registry:        registry,
		timeouts:        timeouts,
		opts:            opts,
		breakers:        make(map[string]*gobreaker.CircuitBreaker),
		regionPenalties: make(map[string]map[string]time.Time),
	}
}

// SetMetrics attaches provider counters and latency histograms; safe to
// leave unset.
func (e *Engine) SetMetrics(reg *metrics.Registry) {
	e.metrics = reg
}

// Arbitrate produces an ordered plan for (asset, dataType, region).
// Providers under a regional penalty or with an open circuit are removed
// from candidacy.
func (e *Engine) Arbitrate(ctx context.Context, req Request) (*Plan, error) {
	candidates, err := e.registry.ProvidersFor(req.Asset, req.DataType)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	scores := make(map[string]Score)
	var scored []Score
	for _, p := range candidates {
		name := p.Name()
		if e.regionBlocked(name, req.Region, now) {
			log.Debug().Str("provider", name).Str("region", req.Region).Msg("provider under regional penalty, skipping")
			continue
		}
		if e.breakerFor(name).State() == gobreaker.StateOpen {
			continue
		}
		s := scoreProvider(name, e.registry.CachedHealth(name), req.DataType, now)
		scores[name] = s
		scored = append(scored, s)
	}
	if len(scored) == 0 {
		return nil, &provider.NoProviderError{Symbol: req.Asset.Symbol, DataType: string(req.DataType)}
	}

	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Total != scored[j].Total {
			return scored[i].Total > scored[j].Total
		}
		pi, pj := e.registry.Priority(scored[i].Provider), e.registry.Priority(scored[j].Provider)
		if pi != pj {
			return pi > pj
		}
		return scored[i].Provider < scored[j].Provider
	})

	primary := scored[0].Provider
	fallbacks := make([]string, 0, len(scored)-1)
	for _, s := range scored[1:] {
		fallbacks = append(fallbacks, s.Provider)
	}

	return &Plan{
		Primary:            primary,
		Fallbacks:          fallbacks,
		EstimatedLatencyMS: e.registry.CachedHealth(primary).AvgLatencyMS,
		TimeoutMS:          e.timeoutFor(primary).Milliseconds(),
		Scores:             scores,
		CreatedAt:          now,
	}, nil
}

// ExecuteWithFallback runs the plan serially: primary first, then each
// fallback, stopping at the first valid response. When every provider
// fails the sentinel error response is returned with a failed lineage;
// the error is nil because the caller decides how to surface it.
func (e *Engine) ExecuteWithFallback(ctx context.Context, plan *Plan, req Request) (*provider.Response, *Lineage) {
	consulted := make([]string, 0, 1+len(plan.Fallbacks))

	for _, name := range plan.Providers() {
		p, err := e.registry.Provider(name)
		if err != nil {
			continue
		}
		consulted = append(consulted, name)

		start := time.Now()
		resp, err := e.callProvider(ctx, p, req)
		if e.metrics != nil {
			e.metrics.ProviderRequests.WithLabelValues(name, string(req.DataType)).Inc()
			e.metrics.ProviderLatency.WithLabelValues(name).Observe(time.Since(start).Seconds())
		}
		if err != nil {
			if e.metrics != nil {
				e.metrics.ProviderFailures.WithLabelValues(name, provider.CodeOf(err)).Inc()
			}
			e.handleFailure(name, req, err)
			continue
		}
		if resp == nil || !resp.IsValid {
			log.Debug().Str("provider", name).Str("symbol", req.Asset.Symbol).Msg("provider returned invalid response, falling back")
			continue
		}

		score := plan.Scores[name].Total
		return resp, &Lineage{
			ProvidersConsulted: consulted,
			ArbitrationScore:   score,
			ConflictResolved:   len(consulted) > 1,
			SourceCount:        1,
		}
	}

	log.Warn().
		Str("symbol", req.Asset.Symbol).
		Str("data_type", string(req.DataType)).
		Strs("consulted", consulted).
		Msg("all providers failed")

	return provider.ErrorResponse(req.Asset, req.DataType, "all providers failed"), &Lineage{
		ProvidersConsulted: consulted,
		SourceCount:        0,
	}
}

// Fetch arbitrates and executes in one call
func (e *Engine) Fetch(ctx context.Context, req Request) (*provider.Response, *Lineage, error) {
	plan, err := e.Arbitrate(ctx, req)
	if err != nil {
		return nil, nil, err
	}
	resp, lineage := e.ExecuteWithFallback(ctx, plan, req)
	return resp, lineage, nil
}

// callProvider dispatches the request through the provider's circuit
// breaker with its per-provider timeout.
func (e *Engine) callProvider(ctx context.Context, p provider.Provider, req Request) (*provider.Response, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.timeoutFor(p.Name()))
	defer cancel()

	out, err := e.breakerFor(p.Name()).Execute(func() (interface{}, error) {
		switch req.DataType {
		case domain.DataPrice:
			return p.FetchPrice(callCtx, req.Asset)
		case domain.DataOHLCV, domain.DataTechnical:
			return p.FetchOHLCV(callCtx, req.Asset, req.Timeframe, req.Limit)
		case domain.DataFundamentals:
			return p.FetchFundamentals(callCtx, req.Asset)
		case domain.DataNews:
			return p.FetchNews(callCtx, req.Asset, req.Limit)
		default:
			return nil, provider.NewNotSupportedError(p.Name(), string(req.DataType))
		}
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &provider.Error{
				Provider:  p.Name(),
				Code:      provider.ErrCodeCircuitOpen,
				Message:   "circuit breaker open",
				Temporary: true,
				Cause:     err,
			}
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, provider.NewTimeoutError(p.Name(), err)
		}
		return nil, err
	}

	resp, ok := out.(*provider.Response)
	if !ok {
		return nil, fmt.Errorf("provider %s returned unexpected type", p.Name())
	}
	return resp, nil
}

// handleFailure applies the failure taxonomy: regional restrictions mark
// the provider for the region; everything else just advances the plan.
func (e *Engine) handleFailure(name string, req Request, err error) {
	code := provider.CodeOf(err)
	switch code {
	case provider.ErrCodeRegionBlocked:
		e.markRegionBlocked(name, req.Region)
		log.Warn().Str("provider", name).Str("region", req.Region).Msg("provider regionally restricted")
	case provider.ErrCodeRateLimit:
		log.Debug().Str("provider", name).Msg("provider rate limited, falling back")
	case provider.ErrCodeTimeout:
		log.Debug().Str("provider", name).Msg("provider timed out, falling back")
	case provider.ErrCodeNotSupported:
		log.Debug().Str("provider", name).Str("data_type", string(req.DataType)).Msg("provider does not cover request")
	default:
		log.Debug().Err(err).Str("provider", name).Msg("provider failed, falling back")
	}
}

func (e *Engine) timeoutFor(name string) time.Duration {
	if d, ok := e.timeouts[name]; ok {
		return d
	}
	return 10 * time.Second
}

func (e *Engine) breakerFor(name string) *gobreaker.CircuitBreaker {
	e.breakerMu.Lock()
	defer e.breakerMu.Unlock()

	if cb, ok := e.breakers[name]; ok {
		return cb
	}
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     e.opts.BreakerOpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= 10 && float64(counts.TotalFailures)/float64(counts.Requests) >= 0.5
		},
	})
	e.breakers[name] = cb
	return cb
}

// BreakerState reports a provider breaker state for health endpoints
func (e *Engine) BreakerState(name string) string {
	return e.breakerFor(name).State().String()
}

func (e *Engine) markRegionBlocked(name, region string) {
	if region == "" {
		region = "default"
	}
	e.regionMu.Lock()
	defer e.regionMu.Unlock()

	if e.regionPenalties[name] == nil {
		e.regionPenalties[name] = make(map[string]time.Time)
	}
	e.regionPenalties[name][region] = time.Now()
}

func (e *Engine) regionBlocked(name, region string, now time.Time) bool {
	if region == "" {
		region = "default"
	}
	e.regionMu.Lock()
	defer e.regionMu.Unlock()

	blockedAt, ok := e.regionPenalties[name][region]
	if !ok {
		return false
	}
	if now.Sub(blockedAt) > e.opts.RegionPenaltyWindow {
		delete(e.regionPenalties[name], region)
		return false
	}
	return true
}
