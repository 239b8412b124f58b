// Package risk provides RiskOracle adapters over the external risk-scoring
// service.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/auth3labs/auth3guard/domain"
)

// StaticOracle returns a fixed score for every context. Useful in
// development and tests.
type StaticOracle struct {
	Score     float64
	Threshold float64
}

// NewStaticOracle creates a fixed-score oracle with the default threshold.
func NewStaticOracle(score float64) *StaticOracle {
	return &StaticOracle{Score: score, Threshold: domain.DefaultRiskThreshold}
}

func (o *StaticOracle) Assess(ctx context.Context, rc domain.RiskContext) (domain.RiskAssessment, error) {
	if err := ctx.Err(); err != nil {
		return domain.RiskAssessment{}, domain.ErrOracleUnavailable
	}
	return domain.RiskAssessment{
		Score:      o.Score,
		IsHighRisk: o.Score >= o.Threshold,
	}, nil
}

// HTTPOracle calls a remote risk engine. The engine returns a raw score; the
// high-risk flag is applied here against the configured threshold so policy
// stays with the caller. Transport failures and timeouts are reported as
// ErrOracleUnavailable, never as high risk.
type HTTPOracle struct {
	url       string
	threshold float64
	client    *http.Client
}

// NewHTTPOracle creates an adapter for the risk service at url.
func NewHTTPOracle(url string, threshold float64, timeout time.Duration) *HTTPOracle {
	if threshold <= 0 {
		threshold = domain.DefaultRiskThreshold
	}
	return &HTTPOracle{
		url:       url,
		threshold: threshold,
		client:    &http.Client{Timeout: timeout},
	}
}

type assessResponse struct {
	Score float64 `json:"score"`
}

func (o *HTTPOracle) Assess(ctx context.Context, rc domain.RiskContext) (domain.RiskAssessment, error) {
	body, err := json.Marshal(rc)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.url, bytes.NewReader(body))
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return domain.RiskAssessment{}, fmt.Errorf("%w: risk engine returned status %d",
			domain.ErrOracleUnavailable, resp.StatusCode)
	}

	var out assessResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	return domain.RiskAssessment{
		Score:      out.Score,
		IsHighRisk: out.Score >= o.threshold,
	}, nil
}
