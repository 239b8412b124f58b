// Package auth3guard wires the Auth3 Guard building blocks into ready-made
// defaults: a GORM-backed identity store, the guardian threshold-recovery
// protocol, and the authentication state machine that orchestrates the proof
// and risk oracles.
package auth3guard

import (
	"time"

	"gorm.io/gorm"

	"github.com/auth3labs/auth3guard/flow"
	"github.com/auth3labs/auth3guard/guardian"
	"github.com/auth3labs/auth3guard/identity"
	"github.com/auth3labs/auth3guard/internal/locking"
	"github.com/auth3labs/auth3guard/persistence"
	"github.com/auth3labs/auth3guard/proof"
	"github.com/auth3labs/auth3guard/risk"
	"github.com/auth3labs/auth3guard/session"
)

// Convenience aliases for the most used types.
type (
	Record          = identity.Record
	RecoveryRequest = identity.RecoveryRequest
	Session         = identity.Session
	Status          = identity.Status
)

// NewDefaultManager creates an authentication manager on db with the local
// development oracles: bcrypt proof binding and a permissive static risk
// score. Production deployments construct flow.NewManager directly with real
// oracle adapters.
func NewDefaultManager(db *gorm.DB, sessionSecret []byte) (*flow.Manager, error) {
	repo := persistence.NewRepository(db)
	if err := repo.AutoMigrate(); err != nil {
		return nil, err
	}

	locks := locking.NewKeyed()
	protocol := guardian.NewProtocol(repo, locks, guardian.WithAuditStore(repo))
	sessions := session.NewManager(session.NewJWTStrategy(sessionSecret, 15*time.Minute))

	return flow.NewManager(
		repo,
		proof.NewBcryptOracle(0),
		risk.NewStaticOracle(0.1),
		protocol,
		sessions,
		locks,
		flow.WithAuditStore(repo),
	), nil
}
