package persistence

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/auth3labs/auth3guard/audit"
	"github.com/auth3labs/auth3guard/domain"
	"github.com/auth3labs/auth3guard/identity"
)

// MemoryStorage is an in-process implementation of domain.Storage and
// audit.Store. It backs tests and single-node development setups.
type MemoryStorage struct {
	mu          sync.RWMutex
	records     map[string]*identity.Record
	requests    map[string]*identity.RecoveryRequest // keyed by nonce
	byPrincipal map[string]string                    // principal -> open request nonce
	ledger      []identity.LedgerEntry
	events      []audit.Event
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		records:     make(map[string]*identity.Record),
		requests:    make(map[string]*identity.RecoveryRequest),
		byPrincipal: make(map[string]string),
	}
}

func copyRecord(rec *identity.Record) *identity.Record {
	c := *rec
	c.CredentialCommitment = append([]byte(nil), rec.CredentialCommitment...)
	c.Guardians = append(identity.AddressList(nil), rec.Guardians...)
	return &c
}

func copyRequest(req *identity.RecoveryRequest) *identity.RecoveryRequest {
	c := *req
	c.NewCommitment = append([]byte(nil), req.NewCommitment...)
	c.Guardians = append(identity.AddressList(nil), req.Guardians...)
	c.Signatures = make(identity.SignatureMap, len(req.Signatures))
	for k, v := range req.Signatures {
		c.Signatures[k] = append([]byte(nil), v...)
	}
	return &c
}

func (s *MemoryStorage) CreateRecord(ctx context.Context, rec *identity.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.records[rec.PrincipalID]; ok && existing.Status != identity.StatusRevoked {
		return domain.ErrAlreadyRegistered
	}
	now := time.Now()
	rec.CreatedAt = now
	rec.UpdatedAt = now
	s.records[rec.PrincipalID] = copyRecord(rec)
	return nil
}

func (s *MemoryStorage) GetRecord(ctx context.Context, principalID string) (*identity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.records[principalID]
	if !ok {
		return nil, domain.ErrNoSuchPrincipal
	}
	return copyRecord(rec), nil
}

func (s *MemoryStorage) RotateCredential(ctx context.Context, principalID string, newCommitment []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principalID]
	if !ok {
		return domain.ErrNoSuchPrincipal
	}
	if rec.Status != identity.StatusActive && rec.Status != identity.StatusRecoveryPending {
		return fmt.Errorf("%w: status %s", domain.ErrInvalidState, rec.Status)
	}
	rec.CredentialCommitment = append([]byte(nil), newCommitment...)
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) UpdateGuardians(ctx context.Context, principalID string, guardians identity.AddressList) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principalID]
	if !ok {
		return domain.ErrNoSuchPrincipal
	}
	if rec.Status != identity.StatusActive {
		return fmt.Errorf("%w: status %s", domain.ErrInvalidState, rec.Status)
	}
	rec.Guardians = append(identity.AddressList(nil), guardians...)
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) SetStatus(ctx context.Context, principalID string, status identity.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[principalID]
	if !ok {
		return domain.ErrNoSuchPrincipal
	}
	if rec.Status == status {
		return nil
	}
	if !identity.CanTransition(rec.Status, status) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, rec.Status, status)
	}
	rec.Status = status
	rec.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStorage) CreateRequest(ctx context.Context, req *identity.RecoveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if nonce, ok := s.byPrincipal[req.PrincipalID]; ok {
		if prev, ok := s.requests[nonce]; ok && !prev.Expired(time.Now()) {
			return domain.ErrRecoveryAlreadyOpen
		}
		delete(s.requests, nonce)
		delete(s.byPrincipal, req.PrincipalID)
	}
	s.requests[req.Nonce] = copyRequest(req)
	s.byPrincipal[req.PrincipalID] = req.Nonce
	return nil
}

func (s *MemoryStorage) GetRequest(ctx context.Context, nonce string) (*identity.RecoveryRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req, ok := s.requests[nonce]
	if !ok {
		return nil, domain.ErrNoOpenRecovery
	}
	return copyRequest(req), nil
}

func (s *MemoryStorage) GetRequestByPrincipal(ctx context.Context, principalID string) (*identity.RecoveryRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	nonce, ok := s.byPrincipal[principalID]
	if !ok {
		return nil, domain.ErrNoOpenRecovery
	}
	req, ok := s.requests[nonce]
	if !ok {
		return nil, domain.ErrNoOpenRecovery
	}
	return copyRequest(req), nil
}

func (s *MemoryStorage) SaveRequest(ctx context.Context, req *identity.RecoveryRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.requests[req.Nonce]; !ok {
		return domain.ErrNoOpenRecovery
	}
	s.requests[req.Nonce] = copyRequest(req)
	return nil
}

func (s *MemoryStorage) DeleteRequest(ctx context.Context, nonce string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	req, ok := s.requests[nonce]
	if !ok {
		return nil
	}
	delete(s.requests, nonce)
	if s.byPrincipal[req.PrincipalID] == nonce {
		delete(s.byPrincipal, req.PrincipalID)
	}
	return nil
}

func (s *MemoryStorage) AppendEntry(ctx context.Context, entry *identity.LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry.ID = uint(len(s.ledger) + 1)
	s.ledger = append(s.ledger, *entry)
	return nil
}

func (s *MemoryStorage) ListEntries(ctx context.Context, principalID string, limit int) ([]identity.LedgerEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []identity.LedgerEntry
	for i := len(s.ledger) - 1; i >= 0; i-- {
		if principalID != "" && s.ledger[i].PrincipalID != principalID {
			continue
		}
		out = append(out, s.ledger[i])
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (s *MemoryStorage) SaveEvent(ctx context.Context, event *audit.Event) error {
	s.mu.Lock()
	s.events = append(s.events, *event)
	s.mu.Unlock()
	return nil
}

func (s *MemoryStorage) Query(ctx context.Context, filter audit.Filter) ([]audit.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []audit.Event
	for i := len(s.events) - 1; i >= 0; i-- {
		e := s.events[i]
		if filter.ActorID != "" && e.ActorID != filter.ActorID {
			continue
		}
		if filter.SubjectID != "" && e.SubjectID != filter.SubjectID {
			continue
		}
		if len(filter.Types) > 0 && !containsString(filter.Types, e.Type) {
			continue
		}
		if !filter.StartTime.IsZero() && e.CreatedAt.Before(filter.StartTime) {
			continue
		}
		if !filter.EndTime.IsZero() && e.CreatedAt.After(filter.EndTime) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
