package session

// Manager handles session lifecycle operations. It delegates to a configured
// Strategy for issuance and validation.
type Manager struct {
	strategy  Strategy
	notifiers []LogoutNotifier
}

// LogoutNotifier is called when a session is revoked. Use it for cleanup or
// audit side effects.
type LogoutNotifier interface {
	NotifyLogout(sessionID, principalID string)
}

// NewManager creates a session Manager with the given strategy.
func NewManager(strategy Strategy) *Manager {
	return &Manager{strategy: strategy}
}

func (m *Manager) AddLogoutNotifier(n LogoutNotifier) {
	m.notifiers = append(m.notifiers, n)
}

func (m *Manager) Issue(principalID string, riskScore float64) (string, *Session, error) {
	return m.strategy.Issue(principalID, riskScore)
}

func (m *Manager) Validate(token string) (*Session, error) {
	return m.strategy.Validate(token)
}

func (m *Manager) Revoke(token string) error {
	sess, err := m.strategy.Validate(token)
	if err == nil {
		for _, n := range m.notifiers {
			go n.NotifyLogout(sess.ID, sess.PrincipalID)
		}
	}
	return m.strategy.Revoke(token)
}
