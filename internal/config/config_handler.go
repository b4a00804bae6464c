package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

const envPrefix string = "KSG"

type ConfigHandler struct {
	mainViper   *viper.Viper
	secretViper *viper.Viper
	lock        *sync.Mutex
}

func (c *ConfigHandler) HandleChanges(callback func(Config, error)) {
	c.mainViper.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("main config file changed", "path", e.Name)
		callback(c.Config())
	})
	c.secretViper.OnConfigChange(func(e fsnotify.Event) {
		slog.Info("secret config file changed", "path", e.Name)
		callback(c.Config())
	})
}

// Creates a configuration handler that reads the configuration files, merges them and can watch
// them for changes. Please note that the merges replace whole arrays - they do not merge arrays.
// The secret file will always overwrite anything in the non-secret / regular file. And any environment
// variables will always rewrite stuff in the secret config, so the order of preference from most
// preferred to least is environment variables, secret config, non-secret config, defaults.
func NewConfigHandler() *ConfigHandler {
	main := viper.New()
	main.SetConfigType("yaml")
	main.SetConfigName("config")
	setDefaults(main)
	secret := viper.New()
	secret.SetConfigType("yaml")
	secret.SetConfigName("secret_config")
	// Viper will look through the list of paths and use the first one where there is a file
	// so the path specified in the env variable will always take precedence over the rest
	configPaths := []string{}
	configPathEnv := os.Getenv("CONFIG_LOCATION")
	if configPathEnv != "" {
		configPaths = append(configPaths, configPathEnv)
	}
	configPaths = append(configPaths, "/etc/keycloak-gateway", ".")
	for _, path := range configPaths {
		main.AddConfigPath(path)
		secret.AddConfigPath(path)
	}
	return &ConfigHandler{secretViper: secret, mainViper: main, lock: &sync.Mutex{}}
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("runningEnvironment", string(Production))
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.rateLimits.rate", 20)
	v.SetDefault("server.rateLimits.burst", 50)
	v.SetDefault("login.endpointsBasePath", "/api/auth")
	v.SetDefault("login.defaultAppRedirectURL", "/")
	v.SetDefault("login.provider.id", "keycloak")
	v.SetDefault("login.provider.scopes", []string{"openid", "email", "profile", "offline_access"})
	v.SetDefault("login.provider.usePKCE", true)
	v.SetDefault("login.refresh.timeoutSeconds", 10)
	v.SetDefault("login.refresh.logoutTimeoutSeconds", 5)
	v.SetDefault("login.refresh.singleFlight", true)
	v.SetDefault("sessions.idleSessionTTLSeconds", 30*24*60*60)
	v.SetDefault("sessions.maxSessionTTLSeconds", 30*24*60*60)
	v.SetDefault("redis.type", DBTypeRedis)
	v.SetDefault("monitoring.prometheus.port", 8765)
}

// configKeys lists every configuration key of the Config struct in the dotted form used by viper.
func configKeys() ([]string, error) {
	raw := map[string]any{}
	err := mapstructure.Decode(Config{}, &raw)
	if err != nil {
		return nil, err
	}
	keys := []string{}
	var flatten func(prefix string, m map[string]any)
	flatten = func(prefix string, m map[string]any) {
		for k, v := range m {
			key := strings.ToLower(k)
			if prefix != "" {
				key = prefix + "." + key
			}
			if nested, ok := v.(map[string]any); ok {
				flatten(key, nested)
				continue
			}
			keys = append(keys, key)
		}
	}
	flatten("", raw)
	sort.Strings(keys)
	return keys, nil
}

func envKey(key string) string {
	return envPrefix + "_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func (c *ConfigHandler) merge() error {
	err := c.mainViper.MergeConfigMap(c.secretViper.AllSettings())
	if err != nil {
		return fmt.Errorf("merging the secret configuration failed: %w", err)
	}
	return nil
}

func (c *ConfigHandler) getConfig() (Config, error) {
	var output Config
	var notFound viper.ConfigFileNotFoundError
	err := c.mainViper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
		slog.Info("could not find the main config file - only defaults, the secret file and environment variables will be used")
	}
	err = c.secretViper.ReadInConfig()
	if err != nil {
		if !errors.As(err, &notFound) {
			return Config{}, err
		}
		slog.Info("could not find any secret config files - only the public file and environment variables will be used")
	}
	// the env variables will overwrite stuff in the secret config if set
	keys, err := configKeys()
	if err != nil {
		return Config{}, err
	}
	for _, key := range keys {
		err := c.secretViper.BindEnv(key, envKey(key))
		if err != nil {
			return Config{}, fmt.Errorf("config: unable to bind env %s: %w", envKey(key), err)
		}
	}
	// here the secret config (with any env variables merged) will overwrite anything from the non-secret configuration
	err = c.merge()
	if err != nil {
		return Config{}, err
	}
	err = c.mainViper.Unmarshal(
		&output,
		viper.DecodeHook(
			mapstructure.ComposeDecodeHookFunc(
				mapstructure.StringToTimeDurationHookFunc(),
				mapstructure.StringToSliceHookFunc(","),
			),
		),
	)
	if err != nil {
		return Config{}, err
	}
	err = output.Validate()
	if err != nil {
		return Config{}, err
	}
	return output, nil
}

func (c *ConfigHandler) Config() (Config, error) {
	c.lock.Lock()
	defer c.lock.Unlock()
	return c.getConfig()
}

func (c *ConfigHandler) Watch() {
	c.mainViper.WatchConfig()
	c.secretViper.WatchConfig()
}
