package session

import (
	"errors"
	"testing"
	"time"
)

func TestJWTStrategyRoundTrip(t *testing.T) {
	s := NewJWTStrategy([]byte("test-secret"), time.Minute)

	token, sess, err := s.Issue("0xabc", 0.42)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if token == "" {
		t.Fatal("expected a token")
	}

	got, err := s.Validate(token)
	if err != nil {
		t.Fatalf("validate failed: %v", err)
	}
	if got.PrincipalID != "0xabc" {
		t.Errorf("expected principal 0xabc, got %s", got.PrincipalID)
	}
	if got.ID != sess.ID {
		t.Errorf("session ID mismatch: %s vs %s", got.ID, sess.ID)
	}
	if got.RiskScoreAtIssue != 0.42 {
		t.Errorf("expected risk score 0.42, got %f", got.RiskScoreAtIssue)
	}
}

func TestJWTStrategyRejectsTamperedToken(t *testing.T) {
	s := NewJWTStrategy([]byte("test-secret"), time.Minute)
	other := NewJWTStrategy([]byte("other-secret"), time.Minute)

	token, _, err := other.Issue("0xabc", 0)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := s.Validate(token); err == nil {
		t.Error("expected rejection of token signed with a different secret")
	}
	if _, err := s.Validate("not-a-jwt"); err == nil {
		t.Error("expected rejection of garbage token")
	}
}

func TestJWTStrategyExpiry(t *testing.T) {
	s := NewJWTStrategy([]byte("test-secret"), -time.Minute)
	// A non-positive ttl falls back to the default, so force expiry with a
	// tiny window instead.
	s.ttl = time.Millisecond

	token, _, err := s.Issue("0xabc", 0)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Validate(token); err == nil {
		t.Error("expected expired token to be rejected")
	}
}

func TestJWTStrategyRevokeUnsupported(t *testing.T) {
	s := NewJWTStrategy([]byte("test-secret"), time.Minute)
	if err := s.Revoke("anything"); !errors.Is(err, ErrRevokeUnsupported) {
		t.Errorf("expected ErrRevokeUnsupported, got %v", err)
	}
}

func TestMemoryStrategyRevoke(t *testing.T) {
	s := NewMemoryStrategy(time.Minute)

	token, _, err := s.Issue("0xabc", 0.1)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if _, err := s.Validate(token); err != nil {
		t.Fatalf("validate failed: %v", err)
	}

	if err := s.Revoke(token); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}
	if _, err := s.Validate(token); err == nil {
		t.Error("expected revoked token to be rejected")
	}
}

func TestMemoryStrategyExpiry(t *testing.T) {
	s := NewMemoryStrategy(time.Minute)
	s.ttl = time.Millisecond

	token, _, err := s.Issue("0xabc", 0)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	if _, err := s.Validate(token); err == nil {
		t.Error("expected expired session to be rejected")
	}
}

func TestManagerNotifiesOnRevoke(t *testing.T) {
	m := NewManager(NewMemoryStrategy(time.Minute))

	done := make(chan string, 1)
	m.AddLogoutNotifier(notifierFunc(func(sessionID, principalID string) {
		done <- sessionID
	}))

	token, sess, err := m.Issue("0xabc", 0)
	if err != nil {
		t.Fatalf("issue failed: %v", err)
	}
	if err := m.Revoke(token); err != nil {
		t.Fatalf("revoke failed: %v", err)
	}

	select {
	case got := <-done:
		if got != sess.ID {
			t.Errorf("notified about wrong session: %s vs %s", got, sess.ID)
		}
	case <-time.After(time.Second):
		t.Fatal("logout notifier was not invoked")
	}
}

type notifierFunc func(sessionID, principalID string)

func (f notifierFunc) NotifyLogout(sessionID, principalID string) { f(sessionID, principalID) }
