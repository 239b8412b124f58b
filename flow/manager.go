// Package flow orchestrates the registration, authentication and recovery
// lifecycle of a principal.
//
// Manager is a state machine over the identity record's status: every
// operation checks the current status first and fails with ErrInvalidState
// when invoked from a status it is not defined for. There is no ambient
// per-user state; everything a request needs travels through the API as
// explicit arguments and session tokens.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/auth3labs/auth3guard/audit"
	"github.com/auth3labs/auth3guard/domain"
	"github.com/auth3labs/auth3guard/guardian"
	"github.com/auth3labs/auth3guard/identity"
	"github.com/auth3labs/auth3guard/internal/locking"
	"github.com/auth3labs/auth3guard/session"
)

// DefaultMinGuardians is the minimum guardian set size accepted at
// registration.
const DefaultMinGuardians = 3

// DefaultOracleTimeout bounds every proof and risk oracle call.
const DefaultOracleTimeout = 5 * time.Second

// Manager runs the authentication state machine. All mutating operations on
// one principal are serialized through a keyed mutex shared with the guardian
// protocol; operations on different principals proceed in parallel.
type Manager struct {
	store    domain.Storage
	proof    domain.ProofOracle
	risk     domain.RiskOracle
	protocol *guardian.Protocol
	sessions *session.Manager
	locks    *locking.Keyed

	auditStore    audit.Store
	log           *zap.Logger
	minGuardians  int
	oracleTimeout time.Duration
	lockout       *LockoutGate
}

// Option configures a Manager.
type Option func(*Manager)

// WithMinGuardians overrides the minimum guardian count.
func WithMinGuardians(n int) Option {
	return func(m *Manager) { m.minGuardians = n }
}

// WithOracleTimeout overrides the per-call oracle timeout.
func WithOracleTimeout(d time.Duration) Option {
	return func(m *Manager) { m.oracleTimeout = d }
}

// WithAuditStore enables audit logging.
func WithAuditStore(s audit.Store) Option {
	return func(m *Manager) { m.auditStore = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(m *Manager) { m.log = l }
}

// WithLockout enables brute-force protection on Authenticate.
func WithLockout(g *LockoutGate) Option {
	return func(m *Manager) { m.lockout = g }
}

// NewManager wires the state machine. locks must be the same keyed mutex the
// guardian protocol uses.
func NewManager(store domain.Storage, proofOracle domain.ProofOracle, riskOracle domain.RiskOracle,
	protocol *guardian.Protocol, sessions *session.Manager, locks *locking.Keyed, opts ...Option) *Manager {
	m := &Manager{
		store:         store,
		proof:         proofOracle,
		risk:          riskOracle,
		protocol:      protocol,
		sessions:      sessions,
		locks:         locks,
		log:           zap.NewNop(),
		minGuardians:  DefaultMinGuardians,
		oracleTimeout: DefaultOracleTimeout,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Register creates an identity record for an unregistered principal. The
// credential material is bound into a commitment by the proof oracle; the raw
// material is never stored. A failed registration leaves the principal
// unregistered and the caller resubmits.
func (m *Manager) Register(ctx context.Context, principalID string, credentialMaterial []byte, guardians []string) (*identity.Record, error) {
	principalID, err := identity.NormalizeAddress(principalID)
	if err != nil {
		return nil, err
	}
	set, err := normalizeGuardianSet(principalID, guardians, m.minGuardians)
	if err != nil {
		return nil, err
	}

	defer m.locks.Lock(principalID)()

	if rec, err := m.store.GetRecord(ctx, principalID); err == nil && rec.Status != identity.StatusRevoked {
		return nil, domain.ErrAlreadyRegistered
	} else if err != nil && !errors.Is(err, domain.ErrNoSuchPrincipal) {
		return nil, err
	}

	commitment, err := m.bind(ctx, credentialMaterial)
	if err != nil {
		m.auditEvent(ctx, audit.NewEvent(audit.EventRegisterFailure).Subject(principalID).Failure().
			Message(err.Error()))
		return nil, err
	}

	rec := &identity.Record{
		PrincipalID:          principalID,
		CredentialCommitment: commitment,
		Guardians:            set,
		Status:               identity.StatusActive,
	}
	if err := m.store.CreateRecord(ctx, rec); err != nil {
		return nil, err
	}
	m.appendLedger(ctx, principalID, identity.LedgerOpRegister, map[string]any{
		"guardians": len(set),
	})

	m.log.Info("principal registered",
		zap.String("principal", principalID),
		zap.Int("guardians", len(set)),
	)
	m.auditEvent(ctx, audit.NewEvent(audit.EventRegisterSuccess).Subject(principalID).Success())
	return rec, nil
}

// Authenticate verifies a login attempt. The risk oracle is consulted first
// and a high-risk context is rejected before the proof oracle is ever called,
// so risky contexts learn nothing from proof-verification timing. On success
// a bounded session is issued carrying the risk score observed at issue.
func (m *Manager) Authenticate(ctx context.Context, principalID string, claim []byte, rc domain.RiskContext) (string, *session.Session, error) {
	principalID, err := identity.NormalizeAddress(principalID)
	if err != nil {
		return "", nil, err
	}
	rc.PrincipalID = principalID
	if rc.Timestamp.IsZero() {
		rc.Timestamp = time.Now()
	}

	rec, err := m.store.GetRecord(ctx, principalID)
	if err != nil {
		return "", nil, err
	}
	if rec.Status != identity.StatusActive {
		return "", nil, fmt.Errorf("%w: status %s", domain.ErrInvalidState, rec.Status)
	}

	if m.lockout != nil {
		if err := m.lockout.Check(ctx, principalID); err != nil {
			m.auditEvent(ctx, audit.NewEvent(audit.EventLoginBlocked).Subject(principalID).Blocked().
				Message("locked out"))
			return "", nil, err
		}
	}

	assessment, err := m.assess(ctx, rc)
	if err != nil {
		return "", nil, err
	}
	if assessment.IsHighRisk {
		m.auditEvent(ctx, audit.NewEvent(audit.EventLoginBlocked).Subject(principalID).Blocked().
			Message(fmt.Sprintf("risk score %.2f", assessment.Score)))
		return "", nil, domain.ErrHighRiskRejected
	}

	valid, err := m.verify(ctx, claim, rec.CredentialCommitment)
	if err != nil {
		return "", nil, err
	}
	if !valid {
		if m.lockout != nil {
			m.lockout.RecordFailure(ctx, principalID)
		}
		m.auditEvent(ctx, audit.NewEvent(audit.EventLoginFailure).Subject(principalID).Failure())
		return "", nil, domain.ErrProofInvalid
	}

	if m.lockout != nil {
		m.lockout.Clear(ctx, principalID)
	}
	token, sess, err := m.sessions.Issue(principalID, assessment.Score)
	if err != nil {
		return "", nil, err
	}
	m.log.Info("login succeeded",
		zap.String("principal", principalID),
		zap.Float64("risk_score", assessment.Score),
	)
	m.auditEvent(ctx, audit.NewEvent(audit.EventLoginSuccess).Subject(principalID).Success())
	return token, sess, nil
}

// InitiateRecovery opens a guardian recovery for the principal, binding the
// replacement credential material into the commitment guardians will be
// approving.
func (m *Manager) InitiateRecovery(ctx context.Context, principalID string, newCredentialMaterial []byte) (*identity.RecoveryRequest, error) {
	newCommitment, err := m.bind(ctx, newCredentialMaterial)
	if err != nil {
		return nil, err
	}
	return m.protocol.OpenRecovery(ctx, principalID, newCommitment)
}

// SubmitGuardianApproval records one guardian's signature on an open
// recovery request.
func (m *Manager) SubmitGuardianApproval(ctx context.Context, nonce, guardianID string, sig []byte) (*guardian.SubmitResult, error) {
	return m.protocol.SubmitSignature(ctx, nonce, guardianID, sig)
}

// CancelRecovery withdraws the caller's open recovery request. The caller
// proves control of the identity with a valid session.
func (m *Manager) CancelRecovery(ctx context.Context, sessionToken string) error {
	sess, err := m.sessions.Validate(sessionToken)
	if err != nil {
		return err
	}
	return m.protocol.Cancel(ctx, sess.PrincipalID)
}

// UpdateGuardians replaces the caller's guardian set. Gated by an active
// session; the same membership invariants as registration apply. Recovery
// requests already open keep the threshold frozen at their open time.
func (m *Manager) UpdateGuardians(ctx context.Context, sessionToken string, guardians []string) (*identity.Record, error) {
	sess, err := m.sessions.Validate(sessionToken)
	if err != nil {
		return nil, err
	}
	principalID := sess.PrincipalID

	set, err := normalizeGuardianSet(principalID, guardians, m.minGuardians)
	if err != nil {
		return nil, err
	}

	defer m.locks.Lock(principalID)()

	rec, err := m.store.GetRecord(ctx, principalID)
	if err != nil {
		return nil, err
	}
	if rec.Status != identity.StatusActive {
		return nil, fmt.Errorf("%w: status %s", domain.ErrInvalidState, rec.Status)
	}

	if err := m.store.UpdateGuardians(ctx, principalID, set); err != nil {
		return nil, err
	}
	m.appendLedger(ctx, principalID, identity.LedgerOpGuardiansUpdated, map[string]any{
		"guardians": len(set),
	})
	m.auditEvent(ctx, audit.NewEvent(audit.EventGuardiansUpdated).Subject(principalID).Success())

	rec.Guardians = set
	return rec, nil
}

// ScreenTransaction assesses an outgoing transaction for the authenticated
// caller. A high-risk verdict is returned alongside ErrHighRiskRejected; the
// assessment itself is always populated on a successful oracle call.
func (m *Manager) ScreenTransaction(ctx context.Context, sessionToken, recipient, amount string) (domain.RiskAssessment, error) {
	sess, err := m.sessions.Validate(sessionToken)
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	recipient, err = identity.NormalizeAddress(recipient)
	if err != nil {
		return domain.RiskAssessment{}, err
	}

	assessment, err := m.assess(ctx, domain.RiskContext{
		PrincipalID: sess.PrincipalID,
		Timestamp:   time.Now(),
		Recipient:   recipient,
		Amount:      amount,
	})
	if err != nil {
		return domain.RiskAssessment{}, err
	}
	if assessment.IsHighRisk {
		m.auditEvent(ctx, audit.NewEvent(audit.EventTransactionBlocked).Subject(sess.PrincipalID).Blocked().
			Message(fmt.Sprintf("recipient %s risk score %.2f", recipient, assessment.Score)))
		return assessment, domain.ErrHighRiskRejected
	}
	m.auditEvent(ctx, audit.NewEvent(audit.EventTransactionScreened).Subject(sess.PrincipalID).Success())
	return assessment, nil
}

// GetStatus reports the lifecycle status of a principal. An absent record is
// reported as Unregistered, not as an error.
func (m *Manager) GetStatus(ctx context.Context, principalID string) (identity.Status, error) {
	principalID, err := identity.NormalizeAddress(principalID)
	if err != nil {
		return "", err
	}
	rec, err := m.store.GetRecord(ctx, principalID)
	if errors.Is(err, domain.ErrNoSuchPrincipal) {
		return identity.StatusUnregistered, nil
	}
	if err != nil {
		return "", err
	}
	return rec.Status, nil
}

// Logout revokes a session. With a stateless strategy there is nothing to
// revoke server-side; the logout is acknowledged and the client discards the
// token, which expires on its own.
func (m *Manager) Logout(ctx context.Context, sessionToken string) error {
	if err := m.sessions.Revoke(sessionToken); err != nil && !errors.Is(err, session.ErrRevokeUnsupported) {
		return err
	}
	m.auditEvent(ctx, audit.NewEvent(audit.EventLogout).Success())
	return nil
}

// Sessions exposes the session manager for middleware.
func (m *Manager) Sessions() *session.Manager {
	return m.sessions
}

// bind calls the proof oracle with the configured timeout. A deadline hit is
// an oracle failure, never a rejection.
func (m *Manager) bind(ctx context.Context, material []byte) ([]byte, error) {
	octx, cancel := context.WithTimeout(ctx, m.oracleTimeout)
	defer cancel()
	commitment, err := m.proof.Bind(octx, material)
	if err != nil {
		return nil, mapOracleErr(err)
	}
	return commitment, nil
}

func (m *Manager) verify(ctx context.Context, claim, commitment []byte) (bool, error) {
	octx, cancel := context.WithTimeout(ctx, m.oracleTimeout)
	defer cancel()
	valid, err := m.proof.Verify(octx, claim, commitment)
	if err != nil {
		return false, mapOracleErr(err)
	}
	return valid, nil
}

func (m *Manager) assess(ctx context.Context, rc domain.RiskContext) (domain.RiskAssessment, error) {
	octx, cancel := context.WithTimeout(ctx, m.oracleTimeout)
	defer cancel()
	assessment, err := m.risk.Assess(octx, rc)
	if err != nil {
		return domain.RiskAssessment{}, mapOracleErr(err)
	}
	return assessment, nil
}

// appendLedger records an operation in the authorization log. Registration
// and guardian updates commit in the identity store; their ledger entry is
// advisory and a failed append is logged, not fatal. Credential rotation is
// the exception: the guardian protocol appends its entry inside the commit
// sequence and fails the commit on error.
func (m *Manager) appendLedger(ctx context.Context, principalID, op string, detail map[string]any) {
	raw, _ := json.Marshal(detail)
	if err := m.store.AppendEntry(ctx, &identity.LedgerEntry{
		PrincipalID: principalID,
		Operation:   op,
		Detail:      raw,
		RecordedAt:  time.Now(),
	}); err != nil {
		m.log.Error("ledger append failed",
			zap.String("principal", principalID),
			zap.String("operation", op),
			zap.Error(err),
		)
	}
}

func (m *Manager) auditEvent(ctx context.Context, b *audit.EventBuilder) {
	if err := b.Save(ctx, m.auditStore); err != nil {
		m.log.Warn("audit event save failed", zap.Error(err))
	}
}

func mapOracleErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return domain.ErrOracleUnavailable
	}
	return err
}

// normalizeGuardianSet validates and checksums a proposed guardian set.
func normalizeGuardianSet(principalID string, guardians []string, minimum int) (identity.AddressList, error) {
	if len(guardians) < minimum {
		return nil, fmt.Errorf("%w: got %d, need %d", domain.ErrInsufficientGuardians, len(guardians), minimum)
	}
	set := make(identity.AddressList, 0, len(guardians))
	seen := make(map[string]bool, len(guardians))
	for _, g := range guardians {
		addr, err := identity.NormalizeAddress(g)
		if err != nil {
			return nil, err
		}
		if addr == principalID {
			return nil, domain.ErrGuardianIsPrincipal
		}
		if seen[addr] {
			return nil, domain.ErrDuplicateGuardian
		}
		seen[addr] = true
		set = append(set, addr)
	}
	return set, nil
}
