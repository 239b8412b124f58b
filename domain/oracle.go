package domain

import (
	"context"
	"time"
)

// ProofOracle is the boundary to the external prover/verifier. The core
// treats it as cryptographically sound and never inspects commitments or
// claims.
//
// Implementations must honor ctx deadlines; a deadline hit is surfaced by the
// caller as ErrOracleUnavailable, never as a rejection.
type ProofOracle interface {
	// Bind turns raw credential material into an opaque commitment. Fails
	// with ErrProofRejected when the oracle declines the material.
	Bind(ctx context.Context, credentialMaterial []byte) ([]byte, error)

	// Verify reports whether claim authenticates against commitment.
	Verify(ctx context.Context, claim, commitment []byte) (bool, error)
}

// RiskContext describes one login or transaction attempt for risk scoring.
type RiskContext struct {
	PrincipalID        string            `json:"principal_id"`
	Timestamp          time.Time         `json:"timestamp"`
	EnvironmentSignals map[string]string `json:"environment_signals,omitempty"`

	// Transaction screening fields, empty for login assessments.
	Recipient string `json:"recipient,omitempty"`
	Amount    string `json:"amount,omitempty"`
}

// RiskAssessment is the risk oracle's verdict on a context.
type RiskAssessment struct {
	Score      float64 `json:"score"`
	IsHighRisk bool    `json:"is_high_risk"`
}

// RiskOracle is the boundary to the external risk-scoring service.
type RiskOracle interface {
	Assess(ctx context.Context, rc RiskContext) (RiskAssessment, error)
}

// DefaultRiskThreshold is the score at or above which a context is flagged
// high risk, when the oracle itself does not decide.
const DefaultRiskThreshold = 0.75
