package config

import (
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// EnvPrefix is stripped from every environment variable read into Config.
// Keys nest with "." or "__", e.g. TRACECTRL_DATABASE.URL or TRACECTRL_DATABASE__URL.
const EnvPrefix = "TRACECTRL_"

type Config struct {
	Primary       Primary              `koanf:"primary" validate:"required"`
	Server        ServerConfig         `koanf:"server" validate:"required"`
	Database      DatabaseConfig       `koanf:"database" validate:"required"`
	Live          LiveConfig           `koanf:"live" validate:"required"`
	Cache         CacheConfig          `koanf:"cache"`
	Storage       *StorageConfig       `koanf:"storage"`
	Batcher       *BatcherConfig       `koanf:"batcher"`
	Observability *ObservabilityConfig `koanf:"observability" validate:"required"`
}

type Primary struct {
	Env string `koanf:"env" validate:"required"`
}

type ServerConfig struct {
	Port               string   `koanf:"port" validate:"required"`
	ReadTimeout        int      `koanf:"read_timeout" validate:"gte=1"`
	WriteTimeout       int      `koanf:"write_timeout" validate:"gte=1"`
	IdleTimeout        int      `koanf:"idle_timeout" validate:"gte=1"`
	CORSAllowedOrigins []string `koanf:"cors_allowed_origins"`
}

type DatabaseConfig struct {
	URL             string `koanf:"url" validate:"required"`
	MaxConns        int32  `koanf:"max_conns" validate:"gte=1"`
	MinConns        int32  `koanf:"min_conns" validate:"gte=0,ltefield=MaxConns"`
	ConnMaxLifetime int    `koanf:"conn_max_lifetime" validate:"gte=0"`
	ConnMaxIdleTime int    `koanf:"conn_max_idle_time" validate:"gte=0"`
}

// LiveConfig configures the websocket listener that streams accepted logs.
type LiveConfig struct {
	Port           string   `koanf:"port" validate:"required"`
	BufferSize     int      `koanf:"buffer_size" validate:"gte=1"`
	WriteTimeout   int      `koanf:"write_timeout" validate:"gte=1"`
	PingInterval   int      `koanf:"ping_interval" validate:"gte=1"`
	AllowedOrigins []string `koanf:"allowed_origins"`
}

type CacheConfig struct {
	Redis RedisConfig `koanf:"redis"`
}

// RedisConfig is optional; an empty Addr disables the log cache.
type RedisConfig struct {
	Addr     string `koanf:"addr"`
	Password string `koanf:"password"`
	DB       int    `koanf:"db" validate:"gte=0"`
	TTL      int    `koanf:"ttl" validate:"gte=1"`
}

type StorageConfig struct {
	O3 *O3Config `koanf:"o3"`
}

// O3Config points at an S3-compatible bucket used for the log archive.
type O3Config struct {
	Endpoint  string `koanf:"endpoint"`
	Region    string `koanf:"region"`
	Bucket    string `koanf:"bucket"`
	AccessKey string `koanf:"access_key"`
	SecretKey string `koanf:"secret_key"`
}

type BatcherConfig struct {
	MaxBatchSize  int    `koanf:"max_batch_size" validate:"gte=0"`
	FlushInterval string `koanf:"flush_interval"`
}

// Default returns the configuration used for every key the environment leaves unset.
func Default() *Config {
	return &Config{
		Primary: Primary{Env: "development"},
		Server: ServerConfig{
			Port:               "8080",
			ReadTimeout:        30,
			WriteTimeout:       30,
			IdleTimeout:        60,
			CORSAllowedOrigins: []string{"*"},
		},
		Database: DatabaseConfig{
			MaxConns:        10,
			MinConns:        1,
			ConnMaxLifetime: 3600,
			ConnMaxIdleTime: 300,
		},
		Live: LiveConfig{
			Port:         "3001",
			BufferSize:   16,
			WriteTimeout: 10,
			PingInterval: 30,
		},
		Cache: CacheConfig{
			Redis: RedisConfig{TTL: 600},
		},
		Observability: DefaultObservabilityConfig(),
	}
}

// IsProduction reports whether primary.env is "production".
func (c *Config) IsProduction() bool {
	return c.Primary.Env == "production"
}

// listKeys are settings given as comma-separated lists in the environment.
var listKeys = map[string]struct{}{
	"server.cors_allowed_origins": {},
	"live.allowed_origins":        {},
}

func splitList(value string) []string {
	out := []string{}
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadConfig loads the configuration from environment variables using koanf.
func LoadConfig() (*Config, error) {
	k := koanf.New(".")
	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", func(key, value string) (string, any) {
		key = strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(key, EnvPrefix), "__", "."))
		if _, ok := listKeys[key]; ok {
			return key, splitList(value)
		}
		return key, value
	}), nil)
	if err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	mainConfig := Default()
	if err := k.Unmarshal("", mainConfig); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	validate := validator.New()
	if err := validate.Struct(mainConfig); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	if mainConfig.Observability == nil {
		mainConfig.Observability = DefaultObservabilityConfig()
	}
	mainConfig.Observability.ServiceName = "tracectrl"
	mainConfig.Observability.Environment = mainConfig.Primary.Env

	if err := mainConfig.Observability.Validate(); err != nil {
		return nil, fmt.Errorf("invalid observability config: %w", err)
	}

	return mainConfig, nil
}
