// Package persistence provides the storage implementations behind the
// domain.Storage contracts: a GORM-backed Repository supporting sqlite,
// postgres and mysql, and an in-memory MemoryStorage for tests and
// single-node development.
package persistence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/auth3labs/auth3guard/audit"
	"github.com/auth3labs/auth3guard/domain"
	"github.com/auth3labs/auth3guard/identity"
)

// Repository implements domain.Storage and audit.Store on a GORM database.
type Repository struct {
	db *gorm.DB
}

// NewRepository wraps an open GORM database.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// DB exposes the underlying handle.
func (r *Repository) DB() *gorm.DB { return r.db }

// AutoMigrate creates or updates the schema.
func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&identity.Record{},
		&identity.RecoveryRequest{},
		&identity.LedgerEntry{},
		&audit.Event{},
	)
}

func (r *Repository) CreateRecord(ctx context.Context, rec *identity.Record) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing identity.Record
		err := tx.First(&existing, "principal_id = ?", rec.PrincipalID).Error
		if err == nil && existing.Status != identity.StatusRevoked {
			return domain.ErrAlreadyRegistered
		}
		if err != nil && !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		if err == nil {
			// Revoked record: hard-replace it.
			if err := tx.Unscoped().Delete(&existing).Error; err != nil {
				return err
			}
		}
		return tx.Create(rec).Error
	})
}

func (r *Repository) GetRecord(ctx context.Context, principalID string) (*identity.Record, error) {
	var rec identity.Record
	err := r.db.WithContext(ctx).First(&rec, "principal_id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoSuchPrincipal
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *Repository) RotateCredential(ctx context.Context, principalID string, newCommitment []byte) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec identity.Record
		if err := tx.First(&rec, "principal_id = ?", principalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNoSuchPrincipal
			}
			return err
		}
		if rec.Status != identity.StatusActive && rec.Status != identity.StatusRecoveryPending {
			return fmt.Errorf("%w: status %s", domain.ErrInvalidState, rec.Status)
		}
		return tx.Model(&rec).Update("credential_commitment", newCommitment).Error
	})
}

func (r *Repository) UpdateGuardians(ctx context.Context, principalID string, guardians identity.AddressList) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec identity.Record
		if err := tx.First(&rec, "principal_id = ?", principalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNoSuchPrincipal
			}
			return err
		}
		if rec.Status != identity.StatusActive {
			return fmt.Errorf("%w: status %s", domain.ErrInvalidState, rec.Status)
		}
		return tx.Model(&rec).Update("guardians", guardians).Error
	})
}

func (r *Repository) SetStatus(ctx context.Context, principalID string, status identity.Status) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var rec identity.Record
		if err := tx.First(&rec, "principal_id = ?", principalID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return domain.ErrNoSuchPrincipal
			}
			return err
		}
		if rec.Status == status {
			return nil
		}
		if !identity.CanTransition(rec.Status, status) {
			return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, rec.Status, status)
		}
		return tx.Model(&rec).Update("status", status).Error
	})
}

func (r *Repository) CreateRequest(ctx context.Context, req *identity.RecoveryRequest) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var prev identity.RecoveryRequest
		err := tx.First(&prev, "principal_id = ?", req.PrincipalID).Error
		if err == nil {
			if !prev.Expired(time.Now()) {
				return domain.ErrRecoveryAlreadyOpen
			}
			if err := tx.Delete(&prev).Error; err != nil {
				return err
			}
		} else if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		return tx.Create(req).Error
	})
}

func (r *Repository) GetRequest(ctx context.Context, nonce string) (*identity.RecoveryRequest, error) {
	var req identity.RecoveryRequest
	err := r.db.WithContext(ctx).First(&req, "nonce = ?", nonce).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoOpenRecovery
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *Repository) GetRequestByPrincipal(ctx context.Context, principalID string) (*identity.RecoveryRequest, error) {
	var req identity.RecoveryRequest
	err := r.db.WithContext(ctx).First(&req, "principal_id = ?", principalID).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, domain.ErrNoOpenRecovery
	}
	if err != nil {
		return nil, err
	}
	return &req, nil
}

func (r *Repository) SaveRequest(ctx context.Context, req *identity.RecoveryRequest) error {
	return r.db.WithContext(ctx).Save(req).Error
}

func (r *Repository) DeleteRequest(ctx context.Context, nonce string) error {
	return r.db.WithContext(ctx).Delete(&identity.RecoveryRequest{}, "nonce = ?", nonce).Error
}

func (r *Repository) AppendEntry(ctx context.Context, entry *identity.LedgerEntry) error {
	return r.db.WithContext(ctx).Create(entry).Error
}

func (r *Repository) ListEntries(ctx context.Context, principalID string, limit int) ([]identity.LedgerEntry, error) {
	q := r.db.WithContext(ctx).Order("id desc")
	if principalID != "" {
		q = q.Where("principal_id = ?", principalID)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var entries []identity.LedgerEntry
	if err := q.Find(&entries).Error; err != nil {
		return nil, err
	}
	return entries, nil
}

func (r *Repository) SaveEvent(ctx context.Context, event *audit.Event) error {
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *Repository) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	q := r.db.WithContext(ctx).Order("created_at desc")
	if filter.ActorID != "" {
		q = q.Where("actor_id = ?", filter.ActorID)
	}
	if filter.SubjectID != "" {
		q = q.Where("subject_id = ?", filter.SubjectID)
	}
	if len(filter.Types) > 0 {
		q = q.Where("type IN ?", filter.Types)
	}
	if !filter.StartTime.IsZero() {
		q = q.Where("created_at >= ?", filter.StartTime)
	}
	if !filter.EndTime.IsZero() {
		q = q.Where("created_at <= ?", filter.EndTime)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var events []audit.Event
	if err := q.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
