package config

import "fmt"

type RunningEnvironment string

const (
	Development RunningEnvironment = "development"
	Production  RunningEnvironment = "production"
)

type Config struct {
	RunningEnvironment RunningEnvironment
	DebugMode          bool
	Server             ServerConfig
	Login              LoginConfig
	Sessions           SessionConfig
	Redis              RedisConfig
	Monitoring         MonitoringConfig
}

func (c *Config) Validate() error {
	if c.RunningEnvironment != Development && c.RunningEnvironment != Production {
		return fmt.Errorf("unknown running environment %q (must be one of %s or %s)", c.RunningEnvironment, Development, Production)
	}
	err := c.Sessions.Validate()
	if err != nil {
		return err
	}
	err = c.Login.Validate(c.RunningEnvironment)
	if err != nil {
		return err
	}
	err = c.Redis.Validate(c.RunningEnvironment)
	if err != nil {
		return err
	}
	return nil
}
