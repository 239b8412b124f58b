package flow

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/auth3labs/auth3guard/domain"
	"github.com/auth3labs/auth3guard/guardian"
	"github.com/auth3labs/auth3guard/identity"
	"github.com/auth3labs/auth3guard/internal/locking"
	"github.com/auth3labs/auth3guard/persistence"
	"github.com/auth3labs/auth3guard/session"
)

// mockProof binds material to itself and verifies by equality, counting
// calls so tests can assert the oracle was (not) consulted.
type mockProof struct {
	bindCalls   int
	verifyCalls int
	rejectBind  bool
}

func (m *mockProof) Bind(ctx context.Context, material []byte) ([]byte, error) {
	m.bindCalls++
	if m.rejectBind {
		return nil, domain.ErrProofRejected
	}
	return append([]byte(nil), material...), nil
}

func (m *mockProof) Verify(ctx context.Context, claim, commitment []byte) (bool, error) {
	m.verifyCalls++
	return bytes.Equal(claim, commitment), nil
}

// mockRisk returns queued scores in order, repeating the last one.
type mockRisk struct {
	scores []float64
	i      int
}

func (m *mockRisk) Assess(ctx context.Context, rc domain.RiskContext) (domain.RiskAssessment, error) {
	score := m.scores[m.i]
	if m.i < len(m.scores)-1 {
		m.i++
	}
	return domain.RiskAssessment{Score: score, IsHighRisk: score >= domain.DefaultRiskThreshold}, nil
}

// blockedRisk waits for the context deadline, standing in for a hung oracle.
type blockedRisk struct{}

func (blockedRisk) Assess(ctx context.Context, rc domain.RiskContext) (domain.RiskAssessment, error) {
	<-ctx.Done()
	return domain.RiskAssessment{}, ctx.Err()
}

func newAddr(t *testing.T) (string, *ecdsa.PrivateKey) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}
	return crypto.PubkeyToAddress(key.PublicKey).Hex(), key
}

func newAddrs(t *testing.T, n int) ([]string, []*ecdsa.PrivateKey) {
	addrs := make([]string, n)
	keys := make([]*ecdsa.PrivateKey, n)
	for i := range addrs {
		addrs[i], keys[i] = newAddr(t)
	}
	return addrs, keys
}

func newTestManager(t *testing.T, proofOracle domain.ProofOracle, riskOracle domain.RiskOracle, opts ...Option) (*Manager, *persistence.MemoryStorage) {
	t.Helper()
	store := persistence.NewMemoryStorage()
	locks := locking.NewKeyed()
	protocol := guardian.NewProtocol(store, locks)
	sessions := session.NewManager(session.NewMemoryStrategy(time.Minute))
	return NewManager(store, proofOracle, riskOracle, protocol, sessions, locks, opts...), store
}

func TestRegister(t *testing.T) {
	proofOracle := &mockProof{}
	m, _ := newTestManager(t, proofOracle, &mockRisk{scores: []float64{0.1}})
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)

	rec, err := m.Register(ctx, principal, []byte("credential"), guardians)
	if err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	if rec.Status != identity.StatusActive {
		t.Errorf("expected active record, got %s", rec.Status)
	}
	if proofOracle.bindCalls != 1 {
		t.Errorf("expected one bind call, got %d", proofOracle.bindCalls)
	}

	// Registration succeeds exactly once.
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); !errors.Is(err, domain.ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}
}

func TestRegisterGuardianValidation(t *testing.T) {
	m, _ := newTestManager(t, &mockProof{}, &mockRisk{scores: []float64{0.1}})
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)

	two, _ := newAddrs(t, 2)
	if _, err := m.Register(ctx, principal, []byte("c"), two); !errors.Is(err, domain.ErrInsufficientGuardians) {
		t.Errorf("expected ErrInsufficientGuardians, got %v", err)
	}

	withSelf := append([]string{principal}, guardians[:2]...)
	if _, err := m.Register(ctx, principal, []byte("c"), withSelf); !errors.Is(err, domain.ErrGuardianIsPrincipal) {
		t.Errorf("expected ErrGuardianIsPrincipal, got %v", err)
	}

	withDup := []string{guardians[0], guardians[0], guardians[1]}
	if _, err := m.Register(ctx, principal, []byte("c"), withDup); !errors.Is(err, domain.ErrDuplicateGuardian) {
		t.Errorf("expected ErrDuplicateGuardian, got %v", err)
	}

	if _, err := m.Register(ctx, principal, []byte("c"), []string{guardians[0], guardians[1], "bogus"}); !errors.Is(err, identity.ErrMalformedAddress) {
		t.Errorf("expected ErrMalformedAddress, got %v", err)
	}
}

func TestRegisterProofRejected(t *testing.T) {
	m, _ := newTestManager(t, &mockProof{rejectBind: true}, &mockRisk{scores: []float64{0.1}})
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)

	if _, err := m.Register(ctx, principal, []byte("c"), guardians); !errors.Is(err, domain.ErrProofRejected) {
		t.Fatalf("expected ErrProofRejected, got %v", err)
	}

	// A failed registration leaves the principal unregistered.
	status, _ := m.GetStatus(ctx, principal)
	if status != identity.StatusUnregistered {
		t.Errorf("expected unregistered, got %s", status)
	}
}

func TestAuthenticate(t *testing.T) {
	m, _ := newTestManager(t, &mockProof{}, &mockRisk{scores: []float64{0.2}})
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	token, sess, err := m.Authenticate(ctx, principal, []byte("credential"), domain.RiskContext{})
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}
	if token == "" {
		t.Error("expected a session token")
	}
	if sess.RiskScoreAtIssue != 0.2 {
		t.Errorf("expected risk score 0.2 on session, got %f", sess.RiskScoreAtIssue)
	}

	if _, _, err := m.Authenticate(ctx, principal, []byte("wrong"), domain.RiskContext{}); !errors.Is(err, domain.ErrProofInvalid) {
		t.Errorf("expected ErrProofInvalid, got %v", err)
	}

	stranger, _ := newAddr(t)
	if _, _, err := m.Authenticate(ctx, stranger, []byte("credential"), domain.RiskContext{}); !errors.Is(err, domain.ErrNoSuchPrincipal) {
		t.Errorf("expected ErrNoSuchPrincipal, got %v", err)
	}
}

func TestAuthenticateHighRiskSkipsProofOracle(t *testing.T) {
	proofOracle := &mockProof{}
	m, _ := newTestManager(t, proofOracle, &mockRisk{scores: []float64{0.9}})
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	if _, _, err := m.Authenticate(ctx, principal, []byte("credential"), domain.RiskContext{}); !errors.Is(err, domain.ErrHighRiskRejected) {
		t.Fatalf("expected ErrHighRiskRejected, got %v", err)
	}
	if proofOracle.verifyCalls != 0 {
		t.Errorf("proof oracle must not be consulted for high-risk contexts, got %d calls", proofOracle.verifyCalls)
	}
}

func TestAuthenticateOracleTimeout(t *testing.T) {
	m, _ := newTestManager(t, &mockProof{}, blockedRisk{}, WithOracleTimeout(20*time.Millisecond))
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	if _, _, err := m.Authenticate(ctx, principal, []byte("credential"), domain.RiskContext{}); !errors.Is(err, domain.ErrOracleUnavailable) {
		t.Errorf("expected ErrOracleUnavailable on timeout, got %v", err)
	}
}

func TestRecoveryEndToEnd(t *testing.T) {
	m, store := newTestManager(t, &mockProof{}, &mockRisk{scores: []float64{0.1}})
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardianAddrs, guardianKeys := newAddrs(t, 3)
	if _, err := m.Register(ctx, principal, []byte("old-credential"), guardianAddrs); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	req, err := m.InitiateRecovery(ctx, principal, []byte("new-credential"))
	if err != nil {
		t.Fatalf("failed to initiate recovery: %v", err)
	}

	status, _ := m.GetStatus(ctx, principal)
	if status != identity.StatusRecoveryPending {
		t.Fatalf("expected recovery_pending, got %s", status)
	}

	// Login is not defined while recovery is pending.
	if _, _, err := m.Authenticate(ctx, principal, []byte("old-credential"), domain.RiskContext{}); !errors.Is(err, domain.ErrInvalidState) {
		t.Errorf("expected ErrInvalidState during recovery, got %v", err)
	}

	sig1, _ := guardian.Sign(req, guardianKeys[0])
	res, err := m.SubmitGuardianApproval(ctx, req.Nonce, guardianAddrs[0], sig1)
	if err != nil || res.Committed {
		t.Fatalf("expected pending after one approval, got committed=%v err=%v", res != nil && res.Committed, err)
	}

	sig2, _ := guardian.Sign(req, guardianKeys[1])
	res, err = m.SubmitGuardianApproval(ctx, req.Nonce, guardianAddrs[1], sig2)
	if err != nil {
		t.Fatalf("second approval failed: %v", err)
	}
	if !res.Committed {
		t.Fatal("expected commit at quorum")
	}

	// The new credential authenticates, the old one no longer does.
	if _, _, err := m.Authenticate(ctx, principal, []byte("new-credential"), domain.RiskContext{}); err != nil {
		t.Errorf("new credential should authenticate: %v", err)
	}
	if _, _, err := m.Authenticate(ctx, principal, []byte("old-credential"), domain.RiskContext{}); !errors.Is(err, domain.ErrProofInvalid) {
		t.Errorf("old credential must stop authenticating, got %v", err)
	}

	entries, _ := store.ListEntries(ctx, principal, 0)
	var ops []string
	for _, e := range entries {
		ops = append(ops, e.Operation)
	}
	if len(ops) != 2 || ops[0] != identity.LedgerOpRotateCredential || ops[1] != identity.LedgerOpRegister {
		t.Errorf("unexpected ledger operations %v", ops)
	}
}

func TestUpdateGuardians(t *testing.T) {
	m, store := newTestManager(t, &mockProof{}, &mockRisk{scores: []float64{0.1}})
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	token, _, err := m.Authenticate(ctx, principal, []byte("credential"), domain.RiskContext{})
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}

	replacement, _ := newAddrs(t, 4)
	rec, err := m.UpdateGuardians(ctx, token, replacement)
	if err != nil {
		t.Fatalf("guardian update failed: %v", err)
	}
	if len(rec.Guardians) != 4 {
		t.Errorf("expected 4 guardians, got %d", len(rec.Guardians))
	}

	// Without a session the update is refused.
	if _, err := m.UpdateGuardians(ctx, "bad-token", replacement); err == nil {
		t.Error("expected error for invalid session")
	}

	entries, _ := store.ListEntries(ctx, principal, 1)
	if len(entries) != 1 || entries[0].Operation != identity.LedgerOpGuardiansUpdated {
		t.Errorf("expected guardians_updated ledger entry, got %+v", entries)
	}
}

func TestScreenTransaction(t *testing.T) {
	m, _ := newTestManager(t, &mockProof{}, &mockRisk{scores: []float64{0.1, 0.3, 0.9}})
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	token, _, err := m.Authenticate(ctx, principal, []byte("credential"), domain.RiskContext{})
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}

	recipient, _ := newAddr(t)
	assessment, err := m.ScreenTransaction(ctx, token, recipient, "1.5")
	if err != nil {
		t.Fatalf("screening failed: %v", err)
	}
	if assessment.Score != 0.3 {
		t.Errorf("expected score 0.3, got %f", assessment.Score)
	}

	assessment, err = m.ScreenTransaction(ctx, token, recipient, "9000")
	if !errors.Is(err, domain.ErrHighRiskRejected) {
		t.Fatalf("expected ErrHighRiskRejected, got %v", err)
	}
	if !assessment.IsHighRisk {
		t.Error("expected high-risk assessment to be returned alongside the rejection")
	}
}

func TestLockout(t *testing.T) {
	gate := NewLockoutGate(NewMemoryLockoutStore(), 2, time.Minute, time.Minute)
	m, _ := newTestManager(t, &mockProof{}, &mockRisk{scores: []float64{0.1}}, WithLockout(gate))
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); err != nil {
		t.Fatalf("registration failed: %v", err)
	}

	for i := 0; i < 2; i++ {
		if _, _, err := m.Authenticate(ctx, principal, []byte("wrong"), domain.RiskContext{}); !errors.Is(err, domain.ErrProofInvalid) {
			t.Fatalf("expected ErrProofInvalid, got %v", err)
		}
	}

	// Locked now, even with the correct credential.
	if _, _, err := m.Authenticate(ctx, principal, []byte("credential"), domain.RiskContext{}); !errors.Is(err, ErrLockedOut) {
		t.Errorf("expected ErrLockedOut, got %v", err)
	}
}

// deadLedgerStore rejects every ledger append.
type deadLedgerStore struct {
	*persistence.MemoryStorage
}

func (s *deadLedgerStore) AppendEntry(ctx context.Context, entry *identity.LedgerEntry) error {
	return errors.New("ledger unavailable")
}

func TestRegisterSurvivesLedgerOutage(t *testing.T) {
	store := &deadLedgerStore{MemoryStorage: persistence.NewMemoryStorage()}
	locks := locking.NewKeyed()
	protocol := guardian.NewProtocol(store, locks)
	sessions := session.NewManager(session.NewMemoryStrategy(time.Minute))
	m := NewManager(store, &mockProof{}, &mockRisk{scores: []float64{0.1}}, protocol, sessions, locks)
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)

	// The identity store is the commit point for registration; the ledger
	// entry is advisory.
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); err != nil {
		t.Fatalf("registration must survive a ledger outage, got %v", err)
	}
	if _, err := store.GetRecord(ctx, principal); err != nil {
		t.Errorf("expected a committed record, got %v", err)
	}
}

func TestLogoutWithStatelessSessions(t *testing.T) {
	store := persistence.NewMemoryStorage()
	locks := locking.NewKeyed()
	protocol := guardian.NewProtocol(store, locks)
	sessions := session.NewManager(session.NewJWTStrategy([]byte("test-secret"), time.Minute))
	m := NewManager(store, &mockProof{}, &mockRisk{scores: []float64{0.1}}, protocol, sessions, locks)
	ctx := context.Background()

	principal, _ := newAddr(t)
	guardians, _ := newAddrs(t, 3)
	if _, err := m.Register(ctx, principal, []byte("credential"), guardians); err != nil {
		t.Fatalf("registration failed: %v", err)
	}
	token, _, err := m.Authenticate(ctx, principal, []byte("credential"), domain.RiskContext{})
	if err != nil {
		t.Fatalf("authentication failed: %v", err)
	}

	// Stateless tokens cannot be revoked server-side; the logout is still
	// acknowledged.
	if err := m.Logout(ctx, token); err != nil {
		t.Errorf("logout must succeed for stateless sessions, got %v", err)
	}
}

func TestGetStatusUnregistered(t *testing.T) {
	m, _ := newTestManager(t, &mockProof{}, &mockRisk{scores: []float64{0.1}})

	principal, _ := newAddr(t)
	status, err := m.GetStatus(context.Background(), principal)
	if err != nil {
		t.Fatalf("status lookup failed: %v", err)
	}
	if status != identity.StatusUnregistered {
		t.Errorf("expected unregistered, got %s", status)
	}
}
