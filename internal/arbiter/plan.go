package arbiter

import (
	"time"

	"github.com/marketgate/marketgate/internal/domain"
)

// Request identifies one arbitration decision
type Request struct {
	Asset     domain.Asset    `json:"asset"`
	DataType  domain.DataType `json:"data_type"`
	Region    string          `json:"region"`
	Timeframe string          `json:"timeframe,omitempty"`
	Limit     int             `json:"limit,omitempty"`
}

// Plan is the immutable ordered provider selection for one request.
// Primary maximizes the total score; fallbacks follow in descending
// score order with static priority breaking ties.
type Plan struct {
	Primary            string           `json:"primary_provider"`
	Fallbacks          []string         `json:"fallback_providers"`
	EstimatedLatencyMS float64          `json:"estimated_latency_ms"`
	TimeoutMS          int64            `json:"timeout_ms"`
	Scores             map[string]Score `json:"score_snapshot"`
	CreatedAt          time.Time        `json:"created_at"`
}

// Providers returns the full ordered attempt list
func (p *Plan) Providers() []string {
	out := make([]string, 0, 1+len(p.Fallbacks))
	out = append(out, p.Primary)
	out = append(out, p.Fallbacks...)
	return out
}

// Lineage records which providers contributed to a served value
type Lineage struct {
	ProvidersConsulted []string `json:"providers_consulted"`
	ArbitrationScore   float64  `json:"arbitration_score"`
	ConflictResolved   bool     `json:"conflict_resolved"`
	SourceCount        int      `json:"source_count"`
}
