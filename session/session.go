// Package session manages the ephemeral sessions issued after a successful
// authentication.
//
// Two strategies are provided:
//
//   - JWT (stateless): the token carries the session, no server storage.
//   - Memory (stateful): sessions held in process, individually revocable.
//
// Sessions are never persisted beyond the process lifetime; a lost session is
// re-derived by re-authenticating.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/auth3labs/auth3guard/identity"
)

// Session is re-exported for convenience.
type Session = identity.Session

// DefaultTTL bounds session lifetime when a strategy is not configured
// otherwise.
const DefaultTTL = 15 * time.Minute

// ErrRevokeUnsupported is returned by stateless strategies: the token stays
// valid until it expires. Callers treat a logout against such a strategy as a
// client-side discard.
var ErrRevokeUnsupported = errors.New("session: stateless tokens cannot be revoked server-side")

// Strategy issues, validates and revokes session tokens.
type Strategy interface {
	// Issue creates a session for the principal, recording the risk score
	// observed at issue time. The returned token is what the caller
	// presents on later requests.
	Issue(principalID string, riskScore float64) (token string, sess *Session, err error)

	// Validate checks a token and returns the live session it represents.
	Validate(token string) (*Session, error)

	// Revoke invalidates a token. Stateless strategies may return an
	// error indicating revocation is unsupported.
	Revoke(token string) error
}

// JWTStrategy issues stateless HS256-signed tokens.
type JWTStrategy struct {
	secret []byte
	ttl    time.Duration
}

// NewJWTStrategy creates an HS256 JWT strategy.
func NewJWTStrategy(secret []byte, ttl time.Duration) *JWTStrategy {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &JWTStrategy{secret: secret, ttl: ttl}
}

// Claims is the JWT payload for a session token.
type Claims struct {
	SessionID string  `json:"sid"`
	RiskScore float64 `json:"risk"`
	jwt.RegisteredClaims
}

func (s *JWTStrategy) Issue(principalID string, riskScore float64) (string, *Session, error) {
	now := time.Now()
	sess := &Session{
		ID:               uuid.New().String(),
		PrincipalID:      principalID,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.ttl),
		RiskScoreAtIssue: riskScore,
		Active:           true,
	}

	claims := Claims{
		SessionID: sess.ID,
		RiskScore: riskScore,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   principalID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(sess.ExpiresAt),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", nil, err
	}
	return token, sess, nil
}

func (s *JWTStrategy) Validate(token string) (*Session, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("session: unexpected signing method %v", t.Header["alg"])
		}
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, fmt.Errorf("session: invalid token")
	}
	return &Session{
		ID:               claims.SessionID,
		PrincipalID:      claims.Subject,
		IssuedAt:         claims.IssuedAt.Time,
		ExpiresAt:        claims.ExpiresAt.Time,
		RiskScoreAtIssue: claims.RiskScore,
		Active:           true,
	}, nil
}

// Revoke is unsupported for stateless tokens.
func (s *JWTStrategy) Revoke(string) error {
	return ErrRevokeUnsupported
}

// MemoryStrategy keeps sessions in process memory, individually revocable.
type MemoryStrategy struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
}

// NewMemoryStrategy creates an in-memory session strategy.
func NewMemoryStrategy(ttl time.Duration) *MemoryStrategy {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStrategy{sessions: make(map[string]*Session), ttl: ttl}
}

func (s *MemoryStrategy) Issue(principalID string, riskScore float64) (string, *Session, error) {
	var b [32]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", nil, err
	}
	token := hex.EncodeToString(b[:])

	now := time.Now()
	sess := &Session{
		ID:               uuid.New().String(),
		PrincipalID:      principalID,
		IssuedAt:         now,
		ExpiresAt:        now.Add(s.ttl),
		RiskScoreAtIssue: riskScore,
		Active:           true,
	}

	s.mu.Lock()
	s.sessions[token] = sess
	s.mu.Unlock()
	return token, sess, nil
}

func (s *MemoryStrategy) Validate(token string) (*Session, error) {
	s.mu.Lock()
	sess, ok := s.sessions[token]
	s.mu.Unlock()

	if !ok || !sess.Active {
		return nil, fmt.Errorf("session: invalid token")
	}
	if time.Now().After(sess.ExpiresAt) {
		s.Revoke(token)
		return nil, fmt.Errorf("session: expired")
	}
	return sess, nil
}

func (s *MemoryStrategy) Revoke(token string) error {
	s.mu.Lock()
	delete(s.sessions, token)
	s.mu.Unlock()
	return nil
}
