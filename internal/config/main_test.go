package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func getValidConfig() Config {
	return Config{
		RunningEnvironment: Production,
		Sessions:           getValidSessionConfig(),
		Login:              getValidLoginConfig(),
		Redis:              getValidRedisConfig(),
	}
}

func TestValidConfig(t *testing.T) {
	config := getValidConfig()

	err := config.Validate()

	assert.NoError(t, err)
}

func TestInvalidRunningEnvironment(t *testing.T) {
	config := getValidConfig()
	config.RunningEnvironment = "staging"

	err := config.Validate()

	assert.ErrorContains(t, err, "unknown running environment \"staging\"")
}

func TestInvalidSessionsConfig(t *testing.T) {
	config := getValidConfig()
	config.Sessions.IdleSessionTTLSeconds = 0

	err := config.Validate()

	assert.Error(t, err)
}

func TestInvalidLoginConfig(t *testing.T) {
	config := getValidConfig()
	config.Login.TokenEncryption.SecretKey = "invalid"

	err := config.Validate()

	assert.Error(t, err)
}

func TestInvalidRedisConfig(t *testing.T) {
	config := getValidConfig()
	config.Redis.Type = "redis-mock"

	err := config.Validate()

	assert.Error(t, err)
}
