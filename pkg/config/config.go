// Package config loads and validates application configuration from file
// and environment. Invalid or missing mandatory settings are fatal at
// startup: the process must not begin serving on a broken configuration.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/replysage/replysage/pkg/health"
	"github.com/replysage/replysage/pkg/redis"
	"github.com/replysage/replysage/pkg/responsecache"
)

// AdminConfig configures the operational HTTP server
type AdminConfig struct {
	ListenAddress string        `mapstructure:"listen_address"`
	ReadTimeout   time.Duration `mapstructure:"read_timeout"`
	WriteTimeout  time.Duration `mapstructure:"write_timeout"`
}

// Config holds the complete application configuration
type Config struct {
	Environment string               `mapstructure:"environment"`
	Cache       responsecache.Config `mapstructure:"cache"`
	Redis       redis.Config         `mapstructure:"redis"`
	Health      health.Config        `mapstructure:"health"`
	Admin       AdminConfig          `mapstructure:"admin"`
	LogLevel    string               `mapstructure:"log_level"`
}

// Load loads configuration from file and environment variables. The file
// path comes from REPLYSAGE_CONFIG_FILE, defaulting to
// configs/config.yaml; a missing file is fine when the environment
// carries the settings.
func Load() (*Config, error) {
	configFile := os.Getenv("REPLYSAGE_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	return LoadFromFile(configFile)
}

// LoadFromFile loads configuration from the given file path
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)

	v.SetEnvPrefix("REPLYSAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Common container-environment aliases; best effort, viper handles errors
	_ = v.BindEnv("redis.host", "REDIS_HOST")
	_ = v.BindEnv("redis.port", "REDIS_PORT")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")

	v.AllowEmptyEnv(true)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("error reading config file: %w", err)
			}
		}
	}

	expandEnvValues(v)

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}

	// The category TTL table does not survive viper's map unmarshaling
	// with typed keys, so rebuild it from the raw sub-keys.
	config.Cache.TTLByCategory = ttlTable(v)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate rejects configurations the process cannot start with
func (c *Config) Validate() error {
	if err := c.Cache.Validate(); err != nil {
		return fmt.Errorf("cache: %w", err)
	}
	if c.Redis.Host == "" {
		return fmt.Errorf("redis: host is required")
	}
	if c.Redis.Port <= 0 || c.Redis.Port > 65535 {
		return fmt.Errorf("redis: port %d out of range", c.Redis.Port)
	}
	if c.Redis.OperationTimeout <= 0 {
		return fmt.Errorf("redis: operation_timeout must be positive")
	}
	if c.Redis.ConnectTimeout <= 0 {
		return fmt.Errorf("redis: connect_timeout must be positive")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "dev")
	v.SetDefault("log_level", "info")

	cacheDefaults := responsecache.DefaultConfig()
	v.SetDefault("cache.enabled", cacheDefaults.Enabled)
	v.SetDefault("cache.min_confidence", cacheDefaults.MinConfidence)
	v.SetDefault("cache.enable_graceful_degradation", cacheDefaults.EnableGracefulDegradation)
	v.SetDefault("cache.default_ttl", cacheDefaults.DefaultTTL)
	v.SetDefault("cache.failure_threshold", cacheDefaults.FailureThreshold)
	v.SetDefault("cache.reset_timeout", cacheDefaults.ResetTimeout)
	v.SetDefault("cache.scan_page_size", cacheDefaults.ScanPageSize)
	for category, ttl := range cacheDefaults.TTLByCategory {
		v.SetDefault("cache.ttl_by_category."+string(category), ttl)
	}

	redisDefaults := redis.DefaultConfig()
	v.SetDefault("redis.host", redisDefaults.Host)
	v.SetDefault("redis.port", redisDefaults.Port)
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.connect_timeout", redisDefaults.ConnectTimeout)
	v.SetDefault("redis.operation_timeout", redisDefaults.OperationTimeout)
	v.SetDefault("redis.keep_alive", redisDefaults.KeepAlive)
	v.SetDefault("redis.reconnect_base_delay", redisDefaults.ReconnectBaseDelay)
	v.SetDefault("redis.reconnect_max_delay", redisDefaults.ReconnectMaxDelay)
	v.SetDefault("redis.enable_ready_check", redisDefaults.EnableReadyCheck)
	v.SetDefault("redis.enable_offline_queue", redisDefaults.EnableOfflineQueue)
	v.SetDefault("redis.pool_size", redisDefaults.PoolSize)
	v.SetDefault("redis.min_idle_conns", redisDefaults.MinIdleConns)

	healthDefaults := health.DefaultConfig()
	v.SetDefault("health.latency_threshold", healthDefaults.LatencyThreshold)
	v.SetDefault("health.fragmentation_threshold", healthDefaults.FragmentationThreshold)
	v.SetDefault("health.check_interval", healthDefaults.CheckInterval)

	v.SetDefault("admin.listen_address", ":8081")
	v.SetDefault("admin.read_timeout", 10*time.Second)
	v.SetDefault("admin.write_timeout", 10*time.Second)
}

// ttlTable reads cache.ttl_by_category.* into the typed policy map
func ttlTable(v *viper.Viper) map[responsecache.ResponseCategory]time.Duration {
	table := make(map[responsecache.ResponseCategory]time.Duration)
	raw := v.GetStringMap("cache.ttl_by_category")
	for key := range raw {
		table[responsecache.ResponseCategory(key)] = v.GetDuration("cache.ttl_by_category." + key)
	}
	return table
}

// expandEnvValues processes ${VAR} and ${VAR:-default} references in
// config values, the way container deployments template secrets.
func expandEnvValues(v *viper.Viper) {
	for _, key := range v.AllKeys() {
		value := v.GetString(key)
		if value == "" || !strings.Contains(value, "${") {
			continue
		}
		expanded := expandEnvVars(value)
		if expanded != value {
			v.Set(key, expanded)
		}
	}
}

func expandEnvVars(value string) string {
	result := value

	for {
		start := strings.Index(result, "${")
		if start == -1 {
			break
		}
		end := strings.Index(result[start:], "}")
		if end == -1 {
			break
		}
		end += start

		varRef := result[start+2 : end]

		var envVar, defaultVal string
		if strings.Contains(varRef, ":-") {
			parts := strings.SplitN(varRef, ":-", 2)
			envVar, defaultVal = parts[0], parts[1]
		} else {
			envVar = varRef
		}

		envVal := os.Getenv(envVar)
		if envVal == "" {
			envVal = defaultVal
		}

		result = result[:start] + envVal + result[end+1:]
	}

	return result
}
