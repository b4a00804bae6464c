package db

import (
	"context"
	"errors"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
)

const (
	sessionPrefix string = "session"
)

func (r *RedisAdapter) GetSession(ctx context.Context, sessionID string) (models.Session, error) {
	output := models.Session{}
	raw, err := r.rdb.HGetAll(
		ctx,
		r.sessionKey(sessionID),
	).Result()
	if err != nil {
		return output, err
	}
	err = r.deserializeToStruct(raw, &output)
	if err != nil {
		if errors.Is(err, gwerrors.ErrMissingDBResource) {
			err = gwerrors.ErrSessionNotFound
		}
		return models.Session{}, err
	}
	return output, nil
}

// SetSession stores the session, the redis key expires together with the session. The token
// record of the session, if there is one, gets the same expiry so that it never expires before
// a session that is still being used.
func (r *RedisAdapter) SetSession(ctx context.Context, session models.Session) error {
	key := r.sessionKey(session.ID)
	err := r.rdb.HSet(
		ctx,
		key,
		r.serializeStruct(session)...,
	).Err()
	if err != nil {
		return err
	}
	expiresAt := session.ExpiresAt.Add(expiresAtLeeway)
	err = r.rdb.ExpireAt(ctx, key, expiresAt).Err()
	if err != nil {
		return err
	}
	// EXPIREAT is a no-op when the session has no token record yet
	return r.rdb.ExpireAt(ctx, r.tokensKey(session.ID), expiresAt).Err()
}

func (r *RedisAdapter) RemoveSession(ctx context.Context, sessionID string) error {
	return r.rdb.Del(
		ctx,
		r.sessionKey(sessionID),
	).Err()
}

func (*RedisAdapter) sessionKey(sessionID string) string {
	return sessionPrefix + ":" + sessionID
}
