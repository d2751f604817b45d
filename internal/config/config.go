// Package config loads runtime settings from the environment and an
// optional .env file.
package config

import (
	"errors"
	"fmt"
	"reflect"

	"github.com/spf13/viper"
)

// Config is the full runtime configuration. Struct tags drive loading:
// mapstructure names the env key, default fills a missing value, and
// required rejects a missing one.
type Config struct {
	Environment string `mapstructure:"APP_ENV" default:"development"`
	LogLevel    string `mapstructure:"LOG_LEVEL" default:"info"`
	ServerPort  int    `mapstructure:"SERVER_PORT" default:"8080"`

	// DatabaseURL selects the Postgres store when set; the in-memory store
	// is used otherwise. RedisURL likewise upgrades the stream broker from
	// in-process to Redis pub/sub.
	DatabaseURL   string `mapstructure:"DATABASE_URL"`
	RedisURL      string `mapstructure:"REDIS_URL"`
	MigrationsDir string `mapstructure:"MIGRATIONS_DIR" default:"db/migrations"`

	Routing RoutingConfig `mapstructure:",squash"`
	Webhook WebhookConfig `mapstructure:",squash"`

	// RateLimitRPS caps request throughput per instance; 0 disables it.
	RateLimitRPS   float64 `mapstructure:"RATE_LIMIT_RPS" default:"0"`
	RateLimitBurst int     `mapstructure:"RATE_LIMIT_BURST" default:"40"`
}

// RoutingConfig tunes the optimizer and geocoder.
type RoutingConfig struct {
	// Warehouse coordinates and display address; routes start here.
	WarehouseLat     float64 `mapstructure:"WAREHOUSE_LAT" default:"34.7304"`
	WarehouseLng     float64 `mapstructure:"WAREHOUSE_LNG" default:"-86.5861"`
	WarehouseAddress string  `mapstructure:"WAREHOUSE_ADDRESS" default:"Warehouse, Huntsville, AL 35801"`

	// AverageSpeedMph converts leg distance to travel minutes.
	AverageSpeedMph float64 `mapstructure:"AVERAGE_SPEED_MPH" default:"30"`

	// GeocodeJitterDeg is the max per-axis offset applied to zip centroids.
	GeocodeJitterDeg float64 `mapstructure:"GEOCODE_JITTER_DEG" default:"0.01"`
	// ZipTablePath points at a YAML zip table overriding the compiled-in one.
	ZipTablePath string `mapstructure:"ZIP_TABLE_PATH"`
}

// WebhookConfig tunes outbound delivery.
type WebhookConfig struct {
	Workers        int `mapstructure:"WEBHOOK_WORKERS" default:"2"`
	TimeoutSeconds int `mapstructure:"WEBHOOK_TIMEOUT_SECONDS" default:"10"`
	MaxAttempts    int `mapstructure:"WEBHOOK_MAX_ATTEMPTS" default:"8"`
}

// Load reads configuration from a .env file in path (if present) and the
// process environment, environment winning.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()

	v.AddConfigPath(path)
	v.SetConfigName(".env")
	v.SetConfigType("env")
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var cfg Config
	if err := bindTags(v, &cfg); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := checkRequired(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// bindTags walks the struct registering each env key with viper and
// applying default tags. Nested structs recurse.
func bindTags(v *viper.Viper, target any) error {
	val := reflect.ValueOf(target)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Struct {
			if err := bindTags(v, val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}
		key := f.Tag.Get("mapstructure")
		if key == "" {
			continue
		}
		_ = v.BindEnv(key)
		if def := f.Tag.Get("default"); def != "" {
			v.SetDefault(key, def)
		}
	}
	return nil
}

func checkRequired(target any) error {
	val := reflect.ValueOf(target)
	if val.Kind() == reflect.Ptr {
		val = val.Elem()
	}
	t := val.Type()
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Type.Kind() == reflect.Struct {
			if err := checkRequired(val.Field(i).Addr().Interface()); err != nil {
				return err
			}
			continue
		}
		if f.Tag.Get("required") == "true" && val.Field(i).IsZero() {
			return fmt.Errorf("missing required configuration: %s", f.Tag.Get("mapstructure"))
		}
	}
	return nil
}
