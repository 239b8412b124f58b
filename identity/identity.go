// Package identity defines the core data model for Auth3 Guard: the identity
// record of a registered principal, its guardian set, the recovery request
// collected against it, and the ephemeral authenticated session.
//
// Principals and guardians are identified by Ethereum-style addresses. All
// addresses are normalized to their checksummed form on the way in so that
// map keys and database lookups are stable regardless of caller casing.
package identity

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
)

// JSON is a custom type for handling JSON data in GORM.
type JSON []byte

func (j JSON) Value() (driver.Value, error) {
	if len(j) == 0 {
		return nil, nil
	}
	return string(j), nil
}

func (j *JSON) Scan(value interface{}) error {
	if value == nil {
		*j = nil
		return nil
	}
	switch v := value.(type) {
	case []byte:
		*j = append((*j)[0:0], v...)
	case string:
		*j = []byte(v)
	default:
		return errors.New("invalid type for JSON")
	}
	return nil
}

// ErrMalformedAddress reports an identifier that is not a valid hex address.
var ErrMalformedAddress = errors.New("malformed address")

// NormalizeAddress validates s as a hex address and returns its checksummed
// form. Principal and guardian identifiers pass through this exactly once, at
// the boundary where they enter the system.
func NormalizeAddress(s string) (string, error) {
	if !common.IsHexAddress(s) {
		return "", fmt.Errorf("identity: %w: %q", ErrMalformedAddress, s)
	}
	return common.HexToAddress(s).Hex(), nil
}

// Status is the lifecycle state of an identity record.
type Status string

const (
	StatusUnregistered    Status = "unregistered"
	StatusActive          Status = "active"
	StatusRecoveryPending Status = "recovery_pending"
	StatusRevoked         Status = "revoked"
)

// statusTransitions lists every legal status edge. Unregistered is implicit:
// it is the absence of a record, so "unregistered -> active" is the creation
// path and never goes through a status update.
var statusTransitions = map[Status][]Status{
	StatusActive:          {StatusRecoveryPending, StatusRevoked},
	StatusRecoveryPending: {StatusActive, StatusRevoked},
}

// CanTransition reports whether moving from one status to another is legal.
func CanTransition(from, to Status) bool {
	for _, next := range statusTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AddressList stores an ordered set of addresses as a JSON column.
type AddressList []string

func (l AddressList) Value() (driver.Value, error) {
	if l == nil {
		return nil, nil
	}
	b, err := json.Marshal(l)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (l *AddressList) Scan(value interface{}) error {
	if value == nil {
		*l = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("invalid type for AddressList")
	}
	return json.Unmarshal(raw, l)
}

// Contains reports whether addr is a member of the list.
func (l AddressList) Contains(addr string) bool {
	for _, a := range l {
		if a == addr {
			return true
		}
	}
	return false
}

// Record is the durable identity of one registered principal.
type Record struct {
	PrincipalID          string         `gorm:"primaryKey" json:"principal_id"`
	CredentialCommitment []byte         `json:"-"`
	Guardians            AddressList    `gorm:"type:json" json:"guardians"`
	Status               Status         `gorm:"index" json:"status"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
	DeletedAt            gorm.DeletedAt `gorm:"index" json:"-"`
}

func (Record) TableName() string { return "identities" }

// SignatureMap stores collected guardian signatures keyed by guardian
// address, as a JSON column. Values are 65-byte secp256k1 signatures.
type SignatureMap map[string][]byte

func (m SignatureMap) Value() (driver.Value, error) {
	if m == nil {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

func (m *SignatureMap) Scan(value interface{}) error {
	if value == nil {
		*m = nil
		return nil
	}
	var raw []byte
	switch v := value.(type) {
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return errors.New("invalid type for SignatureMap")
	}
	return json.Unmarshal(raw, m)
}

// RecoveryRequest is the transient state of one guardian recovery attempt.
// At most one unexpired request exists per principal. The threshold and
// guardian set are captured when the request opens and stay fixed for its
// lifetime, so later guardian-set edits cannot retroactively change the
// quorum.
type RecoveryRequest struct {
	Nonce         string       `gorm:"primaryKey" json:"nonce"`
	PrincipalID   string       `gorm:"index" json:"principal_id"`
	NewCommitment []byte       `json:"new_commitment"`
	Threshold     int          `json:"threshold"`
	Guardians     AddressList  `gorm:"type:json" json:"guardians"`
	Signatures    SignatureMap `gorm:"type:json" json:"-"`
	OpenedAt      time.Time    `json:"opened_at"`
	ExpiresAt     time.Time    `json:"expires_at"`
}

func (RecoveryRequest) TableName() string { return "recovery_requests" }

// Expired reports whether the request's validity window has passed.
func (r *RecoveryRequest) Expired(now time.Time) bool {
	return now.After(r.ExpiresAt)
}

// Quorate reports whether enough distinct signatures have been collected.
func (r *RecoveryRequest) Quorate() bool {
	return len(r.Signatures) >= r.Threshold
}

// Session is an ephemeral authenticated session. Sessions are never required
// to survive the process; a lost session is re-derived by re-authenticating.
type Session struct {
	ID               string    `json:"id"`
	PrincipalID      string    `json:"principal_id"`
	IssuedAt         time.Time `json:"issued_at"`
	ExpiresAt        time.Time `json:"expires_at"`
	RiskScoreAtIssue float64   `json:"risk_score_at_issue"`
	Active           bool      `json:"active"`
}

// LedgerEntry is one row of the append-only authorization log. A committed
// state transition is durable once its entry is appended.
type LedgerEntry struct {
	ID          uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	PrincipalID string    `gorm:"index" json:"principal_id"`
	Operation   string    `gorm:"index" json:"operation"`
	Detail      JSON      `gorm:"type:json" json:"detail"`
	RecordedAt  time.Time `json:"recorded_at"`
}

func (LedgerEntry) TableName() string { return "ledger_entries" }

// Ledger operation names.
const (
	LedgerOpRegister         = "register"
	LedgerOpRotateCredential = "rotate_credential"
	LedgerOpGuardiansUpdated = "guardians_updated"
)
