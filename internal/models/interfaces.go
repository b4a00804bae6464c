package models

import (
	"context"
	"net/http"
	"time"
)

type Encryptor interface {
	Encrypt(value string) (encrypted string, err error)
	Decrypt(value string) (decrypted string, err error)
}

type IDGenerator interface {
	ID() (string, error)
}

type SessionGetter interface {
	GetSession(context.Context, string) (Session, error)
}

type SessionSetter interface {
	SetSession(context.Context, Session) error
}

type SessionRemover interface {
	RemoveSession(context.Context, string) error
}

type SessionRepository interface {
	SessionGetter
	SessionSetter
	SessionRemover
}

type TokenRecordGetter interface {
	GetTokenRecord(ctx context.Context, sessionID string) (TokenRecord, error)
}

type TokenRecordSetter interface {
	SetTokenRecord(ctx context.Context, sessionID string, record TokenRecord, expiresAt time.Time) error
}

type TokenRecordRemover interface {
	RemoveTokenRecord(ctx context.Context, sessionID string) error
}

type TokenRecordRepository interface {
	TokenRecordGetter
	TokenRecordSetter
	TokenRecordRemover
}

// GrantHandler receives the tokens of a completed authorization code exchange.
type GrantHandler func(grant Grant) error

type OIDCProvider interface {
	AuthHandler(state string) http.HandlerFunc
	CodeExchangeHandler(grantHandler GrantHandler) http.HandlerFunc
	ID() string
}
