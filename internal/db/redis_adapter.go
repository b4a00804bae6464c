// Package db persists sessions and token records in redis.
package db

import (
	"context"
	"encoding"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/config"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/gwerrors"
	"github.com/SwissDataScienceCenter/keycloak-session-gateway/internal/models"
	"github.com/alicebob/miniredis/v2"
	"github.com/mitchellh/mapstructure"
	"github.com/redis/go-redis/v9"
)

type RedisAdapter struct {
	rdb       LimitedRedisClient
	encryptor models.Encryptor
	// only set when running against the in-process redis used for development
	mock *miniredis.Miniredis
}

// serializeStruct flattens a struct into the field/value pairs expected by HSET. Values that
// implement encoding.TextMarshaler are stored as text, string kinds are stored as plain strings.
func (RedisAdapter) serializeStruct(strct any) []any {
	v := reflect.ValueOf(strct)
	t := v.Type()
	var output []any
	for i := 0; i < v.NumField(); i++ {
		if !t.Field(i).IsExported() {
			continue
		}
		fieldName := t.Field(i).Name
		fieldValue := v.Field(i).Interface()
		marshaller, ok := fieldValue.(encoding.TextMarshaler)
		if !ok {
			if v.Field(i).Kind() == reflect.String {
				output = append(output, fieldName, v.Field(i).String())
				continue
			}
			output = append(output, fieldName, fieldValue)
			continue
		}
		rawBytes, err := marshaller.MarshalText()
		if err != nil {
			output = append(output, fieldName, fieldValue)
			continue
		}
		output = append(output, fieldName, string(rawBytes))
	}
	return output
}

func (RedisAdapter) deserializeToStruct(hash map[string]string, output any) error {
	if len(hash) == 0 {
		// HGetAll returns an empty list of keys and values if the element is not present in the DB
		return gwerrors.ErrMissingDBResource
	}
	decoder, err := mapstructure.NewDecoder(
		&mapstructure.DecoderConfig{
			DecodeHook: mapstructure.ComposeDecodeHookFunc(
				mapstructure.TextUnmarshallerHookFunc(),
			),
			WeaklyTypedInput: true,
			Result:           output,
		},
	)
	if err != nil {
		return err
	}
	return decoder.Decode(hash)
}

// Ping checks that redis can be reached.
func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisAdapter) Close() error {
	err := r.rdb.Close()
	if r.mock != nil {
		r.mock.Close()
	}
	return err
}

type RedisAdapterOption func(*RedisAdapter) error

func WithRedisConfig(redisConfig config.RedisConfig) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		switch redisConfig.Type {
		case config.DBTypeRedis:
			if len(redisConfig.Addresses) == 0 {
				return fmt.Errorf("at least one redis address has to be provided")
			}
			if redisConfig.IsSentinel {
				rdb := redis.NewFailoverClient(&redis.FailoverOptions{
					MasterName:       redisConfig.MasterName,
					SentinelAddrs:    redisConfig.Addresses,
					Password:         string(redisConfig.Password),
					DB:               redisConfig.DBIndex,
					SentinelPassword: string(redisConfig.Password),
				})
				r.rdb = rdb
				return nil
			}
			rdb := redis.NewClient(&redis.Options{
				Password: string(redisConfig.Password),
				DB:       redisConfig.DBIndex,
				Addr:     redisConfig.Addresses[0],
			})
			r.rdb = rdb
			return nil
		case config.DBTypeRedisMock:
			mock, err := miniredis.Run()
			if err != nil {
				return err
			}
			slog.Warn("REDIS ADAPTER", "message", "using an in-memory redis, all data is lost on restart", "address", mock.Addr())
			r.mock = mock
			r.rdb = redis.NewClient(&redis.Options{Addr: mock.Addr()})
			return nil
		default:
			return fmt.Errorf("unrecognized persistence type %v", redisConfig.Type)
		}
	}
}

// WithRedisClient uses an existing client, mostly useful for testing.
func WithRedisClient(client LimitedRedisClient) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		if client == nil {
			return fmt.Errorf("the redis client cannot be nil")
		}
		r.rdb = client
		return nil
	}
}

// WithEncryption encrypts the token values stored in redis with the given key.
func WithEncryption(secretKey string) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		encryptor, err := NewGCMEncryptor(secretKey)
		if err != nil {
			return err
		}
		r.encryptor = encryptor
		return nil
	}
}

func WithTokenEncryptionConfig(encryptionConfig config.TokenEncryptionConfig) RedisAdapterOption {
	return func(r *RedisAdapter) error {
		if !encryptionConfig.Enabled {
			r.encryptor = nil
			return nil
		}
		return WithEncryption(string(encryptionConfig.SecretKey))(r)
	}
}

func NewRedisAdapter(options ...RedisAdapterOption) (*RedisAdapter, error) {
	db := RedisAdapter{}
	for _, opt := range options {
		err := opt(&db)
		if err != nil {
			return &RedisAdapter{}, err
		}
	}
	if db.rdb == nil {
		return &RedisAdapter{}, fmt.Errorf("redis client is not initialized")
	}
	return &db, nil
}
