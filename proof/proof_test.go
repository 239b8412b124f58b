package proof

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/auth3labs/auth3guard/domain"
)

func TestBcryptOracle(t *testing.T) {
	o := NewBcryptOracle(bcrypt.MinCost)
	ctx := context.Background()

	commitment, err := o.Bind(ctx, []byte("material"))
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}

	ok, err := o.Verify(ctx, []byte("material"), commitment)
	if err != nil || !ok {
		t.Errorf("expected valid claim, got ok=%v err=%v", ok, err)
	}

	ok, err = o.Verify(ctx, []byte("wrong"), commitment)
	if err != nil {
		t.Fatalf("mismatch must not be an error: %v", err)
	}
	if ok {
		t.Error("expected mismatch to be invalid")
	}
}

func TestBcryptOracleRejectsEmptyMaterial(t *testing.T) {
	o := NewBcryptOracle(bcrypt.MinCost)
	if _, err := o.Bind(context.Background(), nil); !errors.Is(err, domain.ErrProofRejected) {
		t.Errorf("expected ErrProofRejected, got %v", err)
	}
}

func TestHTTPOracle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/bind":
			var in struct {
				Material string `json:"material"`
			}
			json.NewDecoder(r.Body).Decode(&in)
			if in.Material == "" {
				w.WriteHeader(http.StatusUnprocessableEntity)
				return
			}
			json.NewEncoder(w).Encode(map[string]string{
				"commitment": base64.StdEncoding.EncodeToString([]byte("bound:" + in.Material)),
			})
		case "/verify":
			var in struct {
				Claim      string `json:"claim"`
				Commitment string `json:"commitment"`
			}
			json.NewDecoder(r.Body).Decode(&in)
			commitment, _ := base64.StdEncoding.DecodeString(in.Commitment)
			claim, _ := base64.StdEncoding.DecodeString(in.Claim)
			json.NewEncoder(w).Encode(map[string]bool{
				"valid": string(commitment) == "bound:"+base64.StdEncoding.EncodeToString(claim),
			})
		}
	}))
	defer srv.Close()

	o := NewHTTPOracle(srv.URL, time.Second)
	ctx := context.Background()

	commitment, err := o.Bind(ctx, []byte("material"))
	if err != nil {
		t.Fatalf("bind failed: %v", err)
	}
	ok, err := o.Verify(ctx, []byte("material"), commitment)
	if err != nil || !ok {
		t.Errorf("expected valid claim, got ok=%v err=%v", ok, err)
	}
	ok, err = o.Verify(ctx, []byte("wrong"), commitment)
	if err != nil || ok {
		t.Errorf("expected invalid claim, got ok=%v err=%v", ok, err)
	}

	if _, err := o.Bind(ctx, nil); !errors.Is(err, domain.ErrProofRejected) {
		t.Errorf("expected ErrProofRejected on 422, got %v", err)
	}
}

func TestHTTPOracleUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close() // connection refused from here on

	o := NewHTTPOracle(srv.URL, time.Second)
	if _, err := o.Bind(context.Background(), []byte("material")); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("expected ErrOracleUnavailable, got %v", err)
	}
	if _, err := o.Verify(context.Background(), []byte("a"), []byte("b")); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("expected ErrOracleUnavailable, got %v", err)
	}
}
