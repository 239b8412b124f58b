// Package domain defines the contracts the Auth3 Guard core is built
// against: storage interfaces for identity records, recovery requests and the
// authorization ledger, and oracle interfaces for the external proof and risk
// services.
//
// Storage implementations must return the sentinel errors declared in this
// package (ErrAlreadyRegistered, ErrNoSuchPrincipal, ErrInvalidTransition,
// ErrInvalidState) so callers can match on them with errors.Is. See the
// persistence package for the GORM-backed implementation and the in-memory
// implementation used in tests.
package domain

import (
	"context"

	"github.com/auth3labs/auth3guard/identity"
)

// Storage combines every persistence contract the core needs.
type Storage interface {
	IdentityStorage
	RecoveryStorage
	LedgerStorage
}

// IdentityStorage is the single source of truth for identity state. It is the
// only component permitted to persist identity mutations.
type IdentityStorage interface {
	// CreateRecord stores a new identity record with status Active. Fails
	// with ErrAlreadyRegistered if a non-revoked record exists for the
	// principal.
	CreateRecord(ctx context.Context, rec *identity.Record) error

	// GetRecord looks up a record. Fails with ErrNoSuchPrincipal when
	// absent.
	GetRecord(ctx context.Context, principalID string) (*identity.Record, error)

	// RotateCredential atomically replaces the credential commitment.
	// Fails with ErrNoSuchPrincipal when absent and ErrInvalidState when
	// the record is neither Active nor RecoveryPending.
	RotateCredential(ctx context.Context, principalID string, newCommitment []byte) error

	// UpdateGuardians replaces the guardian set of an Active record.
	UpdateGuardians(ctx context.Context, principalID string, guardians identity.AddressList) error

	// SetStatus performs a guarded status transition. Fails with
	// ErrInvalidTransition on any edge not in the lifecycle table.
	SetStatus(ctx context.Context, principalID string, status identity.Status) error
}

// RecoveryStorage holds open recovery requests. The guardian protocol treats
// IdentityStorage as the authority for the current guardian set; this store
// only tracks request state.
type RecoveryStorage interface {
	// CreateRequest stores a new open request. Fails with
	// ErrRecoveryAlreadyOpen if an unexpired request exists for the same
	// principal.
	CreateRequest(ctx context.Context, req *identity.RecoveryRequest) error

	// GetRequest looks up a request by nonce. Fails with
	// ErrNoOpenRecovery when absent.
	GetRequest(ctx context.Context, nonce string) (*identity.RecoveryRequest, error)

	// GetRequestByPrincipal returns the open request for a principal, if
	// any. Fails with ErrNoOpenRecovery when absent.
	GetRequestByPrincipal(ctx context.Context, principalID string) (*identity.RecoveryRequest, error)

	// SaveRequest persists updated request state (collected signatures).
	SaveRequest(ctx context.Context, req *identity.RecoveryRequest) error

	// DeleteRequest discards a request after commit, cancellation or
	// expiry collection.
	DeleteRequest(ctx context.Context, nonce string) error
}

// LedgerStorage is the append-only authorization log. Appending the entry for
// a state transition is that transition's durability point.
type LedgerStorage interface {
	AppendEntry(ctx context.Context, entry *identity.LedgerEntry) error
	ListEntries(ctx context.Context, principalID string, limit int) ([]identity.LedgerEntry, error)
}
