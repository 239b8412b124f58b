package risk

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/auth3labs/auth3guard/domain"
)

func TestStaticOracle(t *testing.T) {
	ctx := context.Background()

	low, err := NewStaticOracle(0.2).Assess(ctx, domain.RiskContext{})
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	if low.IsHighRisk {
		t.Error("0.2 should be below the default threshold")
	}

	high, err := NewStaticOracle(0.9).Assess(ctx, domain.RiskContext{})
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	if !high.IsHighRisk {
		t.Error("0.9 should be above the default threshold")
	}

	// The threshold itself is high risk.
	edge, _ := NewStaticOracle(domain.DefaultRiskThreshold).Assess(ctx, domain.RiskContext{})
	if !edge.IsHighRisk {
		t.Error("a score at the threshold is high risk")
	}
}

func TestHTTPOracle(t *testing.T) {
	var got domain.RiskContext
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]float64{"score": 0.42})
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, 0.5, time.Second)
	assessment, err := o.Assess(context.Background(), domain.RiskContext{
		PrincipalID: "0xabc",
		Recipient:   "0xdef",
		Amount:      "1.5",
	})
	if err != nil {
		t.Fatalf("assess failed: %v", err)
	}
	if assessment.Score != 0.42 {
		t.Errorf("expected score 0.42, got %f", assessment.Score)
	}
	if assessment.IsHighRisk {
		t.Error("0.42 is below the 0.5 threshold")
	}
	if got.PrincipalID != "0xabc" || got.Recipient != "0xdef" {
		t.Errorf("risk context not forwarded: %+v", got)
	}
}

func TestHTTPOracleUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	o := NewHTTPOracle(srv.URL, 0, time.Second)
	if _, err := o.Assess(context.Background(), domain.RiskContext{}); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("expected ErrOracleUnavailable, got %v", err)
	}
}

func TestHTTPOracleBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, 0, time.Second)
	if _, err := o.Assess(context.Background(), domain.RiskContext{}); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("expected ErrOracleUnavailable on 500, got %v", err)
	}
}
