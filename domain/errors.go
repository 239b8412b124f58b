package domain

import "errors"

// Sentinel errors for the registration, authentication and recovery
// lifecycle. Callers match them with errors.Is; the API layer maps them to
// HTTP status codes.
//
// Input-validation and state-conflict errors are terminal for the request
// that produced them and are never retried automatically. ErrOracleUnavailable
// is the only transient error: it indicates no partial state was committed
// and the same call is safe to retry.
var (
	// Input validation.
	ErrInsufficientGuardians = errors.New("guardian set below minimum size")
	ErrGuardianIsPrincipal   = errors.New("guardian set contains the principal itself")
	ErrDuplicateGuardian     = errors.New("guardian set contains duplicates")
	ErrNotAGuardian          = errors.New("signer is not a guardian of this principal")

	// State conflicts.
	ErrAlreadyRegistered   = errors.New("principal already registered")
	ErrNoSuchPrincipal     = errors.New("principal not registered")
	ErrInvalidState        = errors.New("operation not permitted in current status")
	ErrInvalidTransition   = errors.New("illegal status transition")
	ErrRecoveryAlreadyOpen = errors.New("a recovery request is already open")
	ErrNoOpenRecovery      = errors.New("no open recovery request")
	ErrDuplicateSignature  = errors.New("guardian already signed this request")

	// Oracle failures.
	ErrProofRejected     = errors.New("proof oracle rejected credential binding")
	ErrProofInvalid      = errors.New("proof does not match stored commitment")
	ErrHighRiskRejected  = errors.New("context flagged high risk")
	ErrOracleUnavailable = errors.New("oracle unavailable")

	// Signature and expiry.
	ErrInvalidSignature = errors.New("signature does not authenticate the recovery message")
	ErrRecoveryExpired  = errors.New("recovery request expired")
)

// Retryable reports whether err is transient and safe to retry with the same
// inputs.
func Retryable(err error) bool {
	return errors.Is(err, ErrOracleUnavailable)
}
