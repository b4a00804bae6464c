package models

import "time"

var randomIDGenerator IDGenerator = RandomGenerator{Length: 24}
var stateGenerator IDGenerator = ULIDGenerator{}

// Session represents a persistent session between a browser and the gateway
type Session struct {
	ID string
	// UTC timestamp for when the session was created
	CreatedAt time.Time
	// UTC timestamp for when the session will expire
	ExpiresAt      time.Time
	IdleTTLSeconds int
	MaxTTLSeconds  int
	// The url to redirect to when the login flow is complete
	LoginRedirectURL string
	// State value used during login flows
	LoginState string
}

func NewSession(idleTTLSeconds, maxTTLSeconds int) (Session, error) {
	id, err := randomIDGenerator.ID()
	if err != nil {
		return Session{}, err
	}
	session := Session{
		ID:             id,
		CreatedAt:      time.Now().UTC(),
		IdleTTLSeconds: idleTTLSeconds,
		MaxTTLSeconds:  maxTTLSeconds,
	}
	session.Touch()
	return session, nil
}

func (s *Session) Expired() bool {
	return time.Now().UTC().After(s.ExpiresAt)
}

// Touch() updates a session's ExpiresAt field according to IdleTTLSeconds and MaxTTLSeconds
func (s *Session) Touch() {
	expiresAt := time.Now().UTC().Add(s.IdleTTL())
	if s.MaxTTLSeconds > 0 {
		maxExpiresAt := s.CreatedAt.Add(s.MaxTTL())
		if expiresAt.After(maxExpiresAt) {
			expiresAt = maxExpiresAt
		}
	}
	s.ExpiresAt = expiresAt
}

func (s *Session) IdleTTL() time.Duration {
	return time.Duration(s.IdleTTLSeconds) * time.Second
}

func (s *Session) MaxTTL() time.Duration {
	return time.Duration(s.MaxTTLSeconds) * time.Second
}

func (s *Session) GenerateLoginState() error {
	state, err := stateGenerator.ID()
	if err != nil {
		return err
	}
	s.LoginState = state
	return nil
}
