// Package proof provides ProofOracle adapters.
//
// The real prover/verifier is an external service; this package only adapts
// its boundary. BcryptOracle is a self-contained implementation for
// development and tests: it binds credential material into a bcrypt digest
// and verifies claims against it, which gives the right contract shape
// (opaque commitment, verify without revealing) without any claim of
// zero-knowledge. HTTPOracle fronts a remote proof service.
package proof

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/auth3labs/auth3guard/domain"
)

// BcryptOracle is a local ProofOracle for development and tests.
type BcryptOracle struct {
	cost int
}

// NewBcryptOracle creates a local oracle. cost <= 0 selects bcrypt's default.
func NewBcryptOracle(cost int) *BcryptOracle {
	if cost <= 0 {
		cost = bcrypt.DefaultCost
	}
	return &BcryptOracle{cost: cost}
}

func (o *BcryptOracle) Bind(ctx context.Context, credentialMaterial []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.ErrOracleUnavailable
	}
	if len(credentialMaterial) == 0 {
		return nil, domain.ErrProofRejected
	}
	commitment, err := bcrypt.GenerateFromPassword(credentialMaterial, o.cost)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrProofRejected, err)
	}
	return commitment, nil
}

func (o *BcryptOracle) Verify(ctx context.Context, claim, commitment []byte) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, domain.ErrOracleUnavailable
	}
	err := bcrypt.CompareHashAndPassword(commitment, claim)
	if errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("proof: verify: %w", err)
	}
	return true, nil
}

// HTTPOracle calls a remote proof service. A timeout or transport failure is
// reported as ErrOracleUnavailable so callers retry instead of treating it as
// a rejection.
type HTTPOracle struct {
	baseURL string
	client  *http.Client
}

// NewHTTPOracle creates an adapter for the proof service at baseURL.
func NewHTTPOracle(baseURL string, timeout time.Duration) *HTTPOracle {
	return &HTTPOracle{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

type bindRequest struct {
	Material string `json:"material"`
}

type bindResponse struct {
	Commitment string `json:"commitment"`
}

type verifyRequest struct {
	Claim      string `json:"claim"`
	Commitment string `json:"commitment"`
}

type verifyResponse struct {
	Valid bool `json:"valid"`
}

func (o *HTTPOracle) Bind(ctx context.Context, credentialMaterial []byte) ([]byte, error) {
	var out bindResponse
	status, err := o.post(ctx, "/bind", bindRequest{
		Material: base64.StdEncoding.EncodeToString(credentialMaterial),
	}, &out)
	if err != nil {
		return nil, err
	}
	if status == http.StatusUnprocessableEntity {
		return nil, domain.ErrProofRejected
	}
	if status != http.StatusOK {
		return nil, fmt.Errorf("proof: bind returned status %d", status)
	}
	return base64.StdEncoding.DecodeString(out.Commitment)
}

func (o *HTTPOracle) Verify(ctx context.Context, claim, commitment []byte) (bool, error) {
	var out verifyResponse
	status, err := o.post(ctx, "/verify", verifyRequest{
		Claim:      base64.StdEncoding.EncodeToString(claim),
		Commitment: base64.StdEncoding.EncodeToString(commitment),
	}, &out)
	if err != nil {
		return false, err
	}
	if status != http.StatusOK {
		return false, fmt.Errorf("proof: verify returned status %d", status)
	}
	return out.Valid, nil
}

func (o *HTTPOracle) post(ctx context.Context, path string, in, out any) (int, error) {
	body, err := json.Marshal(in)
	if err != nil {
		return 0, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return 0, fmt.Errorf("%w: %v", domain.ErrOracleUnavailable, err)
		}
	}
	return resp.StatusCode, nil
}
