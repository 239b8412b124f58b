// Package guardian implements the threshold recovery protocol: it collects
// guardian approval signatures against an open recovery request and, once a
// quorum of distinct valid signatures is reached, atomically rotates the
// principal's credential commitment.
//
// No single guardian is trusted. Every signature is verified cryptographically
// against the request's canonical message, and the quorum threshold
// (ceil(2/3) of the guardian set) is frozen when the request opens, so
// guardian-set edits made while a recovery is in flight cannot change it.
package guardian

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/auth3labs/auth3guard/audit"
	"github.com/auth3labs/auth3guard/domain"
	"github.com/auth3labs/auth3guard/identity"
	"github.com/auth3labs/auth3guard/internal/locking"
)

// DefaultValidityWindow bounds how long an open recovery request accepts
// signatures.
const DefaultValidityWindow = 24 * time.Hour

// QuorumThreshold returns the number of distinct guardian signatures required
// to authorize recovery for a guardian set of size g: ceil(2g/3). With this
// rule no minority of compromised guardians can recover an identity, while
// recovery still survives up to a third of guardians being unavailable.
func QuorumThreshold(g int) int {
	return (2*g + 2) / 3
}

// SubmitResult reports the outcome of one signature submission.
type SubmitResult struct {
	Request   *identity.RecoveryRequest
	Collected int  // distinct signatures recorded so far
	Committed bool // quorum reached and rotation committed
}

// Protocol runs guardian recoveries against a Storage.
type Protocol struct {
	store      domain.Storage
	locks      *locking.Keyed
	window     time.Duration
	auditStore audit.Store
	log        *zap.Logger

	// now is swappable for expiry tests.
	now func() time.Time
}

// Option configures a Protocol.
type Option func(*Protocol)

// WithValidityWindow overrides the request validity window.
func WithValidityWindow(d time.Duration) Option {
	return func(p *Protocol) { p.window = d }
}

// WithAuditStore enables audit logging of recovery lifecycle events.
func WithAuditStore(s audit.Store) Option {
	return func(p *Protocol) { p.auditStore = s }
}

// WithLogger sets the structured logger.
func WithLogger(l *zap.Logger) Option {
	return func(p *Protocol) { p.log = l }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Protocol) { p.now = now }
}

// NewProtocol creates a recovery protocol sharing the given per-principal
// lock map with the rest of the system, so a signature submission can never
// interleave with a registration or another mutation on the same principal.
func NewProtocol(store domain.Storage, locks *locking.Keyed, opts ...Option) *Protocol {
	p := &Protocol{
		store:  store,
		locks:  locks,
		window: DefaultValidityWindow,
		log:    zap.NewNop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// OpenRecovery starts a recovery for principalID, proposing newCommitment as
// the replacement credential commitment. The quorum threshold is computed
// from the current guardian set and fixed on the request. An unexpired open
// request fails with ErrRecoveryAlreadyOpen; an expired one is superseded.
func (p *Protocol) OpenRecovery(ctx context.Context, principalID string, newCommitment []byte) (*identity.RecoveryRequest, error) {
	principalID, err := identity.NormalizeAddress(principalID)
	if err != nil {
		return nil, err
	}
	defer p.locks.Lock(principalID)()

	rec, err := p.store.GetRecord(ctx, principalID)
	if err != nil {
		if errors.Is(err, domain.ErrNoSuchPrincipal) {
			return nil, domain.ErrNoSuchPrincipal
		}
		return nil, err
	}
	if rec.Status != identity.StatusActive && rec.Status != identity.StatusRecoveryPending {
		return nil, fmt.Errorf("%w: status %s", domain.ErrInvalidState, rec.Status)
	}

	now := p.now()
	if prev, err := p.store.GetRequestByPrincipal(ctx, principalID); err == nil {
		if !prev.Expired(now) {
			return nil, domain.ErrRecoveryAlreadyOpen
		}
		// Supersede the stale request.
		if err := p.store.DeleteRequest(ctx, prev.Nonce); err != nil {
			return nil, err
		}
		p.auditEvent(ctx, audit.NewEvent(audit.EventRecoveryExpired).Subject(principalID).Failure().
			Message("stale recovery request superseded"))
	} else if !errors.Is(err, domain.ErrNoOpenRecovery) {
		return nil, err
	}

	nonce, err := NewNonce()
	if err != nil {
		return nil, err
	}

	req := &identity.RecoveryRequest{
		Nonce:         nonce,
		PrincipalID:   principalID,
		NewCommitment: newCommitment,
		Threshold:     QuorumThreshold(len(rec.Guardians)),
		Guardians:     rec.Guardians,
		Signatures:    identity.SignatureMap{},
		OpenedAt:      now,
		ExpiresAt:     now.Add(p.window),
	}
	if err := p.store.CreateRequest(ctx, req); err != nil {
		return nil, err
	}
	if rec.Status == identity.StatusActive {
		if err := p.store.SetStatus(ctx, principalID, identity.StatusRecoveryPending); err != nil {
			p.store.DeleteRequest(ctx, nonce)
			return nil, err
		}
	}

	p.log.Info("recovery opened",
		zap.String("principal", principalID),
		zap.Int("guardians", len(req.Guardians)),
		zap.Int("threshold", req.Threshold),
	)
	p.auditEvent(ctx, audit.NewEvent(audit.EventRecoveryOpened).Subject(principalID).Success())
	return req, nil
}

// SubmitSignature records one guardian's approval of the request identified
// by nonce. It verifies guardian membership, cryptographic validity and
// request freshness, then re-evaluates quorum. When quorum is reached the
// credential rotation commits atomically: on commit failure the request stays
// open with its signatures intact and the submission can be retried.
//
// A duplicate signature from the same guardian is an idempotent no-op
// reported as ErrDuplicateSignature with unchanged request state. If the
// request is already quorate, the duplicate first retries the pending commit,
// so a recovery stalled by a transient commit failure completes on any
// guardian's resubmission.
func (p *Protocol) SubmitSignature(ctx context.Context, nonce, guardianID string, sig []byte) (*SubmitResult, error) {
	guardianID, err := identity.NormalizeAddress(guardianID)
	if err != nil {
		return nil, err
	}

	// Resolve the owning principal before locking; the authoritative
	// request state is re-read under the lock.
	probe, err := p.store.GetRequest(ctx, nonce)
	if err != nil {
		return nil, err
	}
	defer p.locks.Lock(probe.PrincipalID)()

	req, err := p.store.GetRequest(ctx, nonce)
	if err != nil {
		return nil, err
	}

	if req.Expired(p.now()) {
		p.expire(ctx, req)
		return nil, domain.ErrRecoveryExpired
	}
	if !req.Guardians.Contains(guardianID) {
		p.auditEvent(ctx, audit.NewEvent(audit.EventRecoveryRejected).Actor(guardianID).
			Subject(req.PrincipalID).Failure().Message("not a guardian"))
		return nil, domain.ErrNotAGuardian
	}
	if _, dup := req.Signatures[guardianID]; dup {
		res := &SubmitResult{Request: req, Collected: len(req.Signatures)}
		// A quorate request still open means an earlier commit failed.
		// The resubmission retries it; rotation is idempotent for the
		// same commitment.
		if req.Quorate() {
			if err := p.commit(ctx, req); err == nil {
				res.Committed = true
				return res, nil
			}
		}
		return res, domain.ErrDuplicateSignature
	}

	signer, err := RecoverSigner(req, sig)
	if err != nil || signer.Hex() != guardianID {
		p.auditEvent(ctx, audit.NewEvent(audit.EventRecoveryRejected).Actor(guardianID).
			Subject(req.PrincipalID).Failure().Message("invalid signature"))
		return nil, domain.ErrInvalidSignature
	}

	req.Signatures[guardianID] = sig
	if err := p.store.SaveRequest(ctx, req); err != nil {
		return nil, err
	}
	p.auditEvent(ctx, audit.NewEvent(audit.EventRecoverySigned).Actor(guardianID).
		Subject(req.PrincipalID).Success())
	p.log.Info("guardian signature accepted",
		zap.String("principal", req.PrincipalID),
		zap.String("guardian", guardianID),
		zap.Int("collected", len(req.Signatures)),
		zap.Int("threshold", req.Threshold),
	)

	res := &SubmitResult{Request: req, Collected: len(req.Signatures)}
	if !req.Quorate() {
		return res, nil
	}

	if err := p.commit(ctx, req); err != nil {
		// Signatures are already saved; the request remains open so the
		// rotation can be retried.
		return res, err
	}
	res.Committed = true
	return res, nil
}

// commit performs the all-or-nothing rotation once quorum is reached.
func (p *Protocol) commit(ctx context.Context, req *identity.RecoveryRequest) error {
	if err := p.store.RotateCredential(ctx, req.PrincipalID, req.NewCommitment); err != nil {
		return fmt.Errorf("guardian: rotation commit failed: %w", err)
	}
	if err := p.store.SetStatus(ctx, req.PrincipalID, identity.StatusActive); err != nil {
		return fmt.Errorf("guardian: rotation commit failed: %w", err)
	}

	detail, _ := json.Marshal(map[string]any{
		"nonce":      req.Nonce,
		"signatures": len(req.Signatures),
		"threshold":  req.Threshold,
	})
	if err := p.store.AppendEntry(ctx, &identity.LedgerEntry{
		PrincipalID: req.PrincipalID,
		Operation:   identity.LedgerOpRotateCredential,
		Detail:      detail,
		RecordedAt:  p.now(),
	}); err != nil {
		return fmt.Errorf("guardian: ledger append failed: %w", err)
	}

	if err := p.store.DeleteRequest(ctx, req.Nonce); err != nil {
		return err
	}

	p.log.Info("recovery committed",
		zap.String("principal", req.PrincipalID),
		zap.Int("signatures", len(req.Signatures)),
	)
	p.auditEvent(ctx, audit.NewEvent(audit.EventRecoveryCommitted).Subject(req.PrincipalID).Success())
	return nil
}

// Cancel withdraws the principal's open recovery request and returns the
// record to Active.
func (p *Protocol) Cancel(ctx context.Context, principalID string) error {
	principalID, err := identity.NormalizeAddress(principalID)
	if err != nil {
		return err
	}
	defer p.locks.Lock(principalID)()

	req, err := p.store.GetRequestByPrincipal(ctx, principalID)
	if err != nil {
		return err
	}
	if err := p.store.DeleteRequest(ctx, req.Nonce); err != nil {
		return err
	}
	if err := p.store.SetStatus(ctx, principalID, identity.StatusActive); err != nil {
		return err
	}
	p.auditEvent(ctx, audit.NewEvent(audit.EventRecoveryCancelled).Subject(principalID).Success())
	return nil
}

// expire collects an expired, non-quorate request. The principal returns to
// Active: an expired recovery never denies access, it simply fails to
// authorize a change.
func (p *Protocol) expire(ctx context.Context, req *identity.RecoveryRequest) {
	if err := p.store.DeleteRequest(ctx, req.Nonce); err != nil {
		p.log.Warn("expired request cleanup failed", zap.Error(err))
		return
	}
	if err := p.store.SetStatus(ctx, req.PrincipalID, identity.StatusActive); err != nil {
		p.log.Warn("expired request status reset failed",
			zap.String("principal", req.PrincipalID), zap.Error(err))
	}
	p.auditEvent(ctx, audit.NewEvent(audit.EventRecoveryExpired).Subject(req.PrincipalID).Failure())
}

func (p *Protocol) auditEvent(ctx context.Context, b *audit.EventBuilder) {
	if err := b.Save(ctx, p.auditStore); err != nil {
		p.log.Warn("audit event save failed", zap.Error(err))
	}
}
