package db

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
)

const tokensPrefix string = "tokens"

const expiresAtLeeway time.Duration = 10 * time.Second

// GetTokenRecord reads the token record of a session from redis, decrypting the tokens if necessary.
func (r *RedisAdapter) GetTokenRecord(ctx context.Context, sessionID string) (models.TokenRecord, error) {
	output := models.TokenRecord{}
	raw, err := r.rdb.HGetAll(
		ctx,
		r.tokensKey(sessionID),
	).Result()
	if err != nil {
		return output, err
	}

	err = r.deserializeToStruct(raw, &output)
	if err != nil {
		if errors.Is(err, gwerrors.ErrMissingDBResource) {
			err = gwerrors.ErrTokenNotFound
		}
		return models.TokenRecord{}, err
	}

	return r.decryptRecord(output)
}

// SetTokenRecord writes the token record of a session to redis. The key expires at expiresAt,
// a zero value keeps the record until it is removed.
func (r *RedisAdapter) SetTokenRecord(ctx context.Context, sessionID string, record models.TokenRecord, expiresAt time.Time) error {
	encRecord, err := r.encryptRecord(record)
	if err != nil {
		return err
	}

	slog.Debug(
		"TOKEN STORE",
		"message",
		"saving token record",
		"sessionID",
		sessionID,
		"token",
		record,
	)

	key := r.tokensKey(sessionID)
	err = r.rdb.HSet(
		ctx,
		key,
		r.serializeStruct(encRecord)...,
	).Err()
	if err != nil {
		return err
	}
	if expiresAt.IsZero() {
		return r.rdb.Persist(ctx, key).Err()
	}
	return r.rdb.ExpireAt(ctx, key, expiresAt.Add(expiresAtLeeway)).Err()
}

func (r *RedisAdapter) RemoveTokenRecord(ctx context.Context, sessionID string) error {
	return r.rdb.Del(
		ctx,
		r.tokensKey(sessionID),
	).Err()
}

func (*RedisAdapter) tokensKey(sessionID string) string {
	return tokensPrefix + ":" + sessionID
}

func (r *RedisAdapter) encryptRecord(record models.TokenRecord) (models.TokenRecord, error) {
	if r.encryptor == nil {
		return record, nil
	}
	var err error
	for _, value := range []*string{&record.AccessToken, &record.RefreshToken, &record.IDToken} {
		if *value == "" {
			continue
		}
		*value, err = r.encryptor.Encrypt(*value)
		if err != nil {
			return models.TokenRecord{}, err
		}
	}
	return record, nil
}

func (r *RedisAdapter) decryptRecord(record models.TokenRecord) (models.TokenRecord, error) {
	if r.encryptor == nil {
		return record, nil
	}
	var err error
	for _, value := range []*string{&record.AccessToken, &record.RefreshToken, &record.IDToken} {
		if *value == "" {
			continue
		}
		*value, err = r.encryptor.Decrypt(*value)
		if err != nil {
			return models.TokenRecord{}, err
		}
	}
	return record, nil
}
