package sessions

import (
	"log/slog"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
)

type SessionMaker interface {
	NewSession() (models.Session, error)
}

type SessionMakerImpl struct {
	idleSessionTTLSeconds int
	maxSessionTTLSeconds  int
}

func (sm *SessionMakerImpl) NewSession() (models.Session, error) {
	session, err := models.NewSession(sm.idleSessionTTLSeconds, sm.maxSessionTTLSeconds)
	if err != nil {
		return models.Session{}, err
	}
	slog.Info("NEW SESSION", "sessionID", session.ID, "expiresAt", session.ExpiresAt)
	return session, nil
}

type SessionMakerOption func(*SessionMakerImpl) error

func WithIdleSessionTTLSeconds(s int) SessionMakerOption {
	return func(sm *SessionMakerImpl) error {
		sm.idleSessionTTLSeconds = s
		return nil
	}
}

func WithMaxSessionTTLSeconds(s int) SessionMakerOption {
	return func(sm *SessionMakerImpl) error {
		sm.maxSessionTTLSeconds = s
		return nil
	}
}

func NewSessionMaker(options ...SessionMakerOption) SessionMaker {
	sm := SessionMakerImpl{idleSessionTTLSeconds: 0, maxSessionTTLSeconds: 0}
	for _, opt := range options {
		opt(&sm)
	}
	return &sm
}
