// Package config manages credcore client configuration using koanf/v2.
//
// Supports YAML files and environment variables.
package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/fieldgate/credcore/internal/presentation"
)

// -------------------------------------------------------------------------
// Configuration Structures
// -------------------------------------------------------------------------

// Config holds the complete credcore client configuration.
type Config struct {
	Engine  EngineConfig  `koanf:"engine"`
	Log     LogConfig     `koanf:"log"`
	Metrics MetricsConfig `koanf:"metrics"`
}

// EngineConfig holds the presentation engine's configuration surface:
// GATT identifiers, the shared device secret, the credential to present,
// and the timeout/retry schedule.
type EngineConfig struct {
	// ServiceUUID is the GATT service UUID advertised by the reader.
	ServiceUUID string `koanf:"service_uuid"`
	// CharacteristicUUID is the GATT characteristic used for the protocol.
	CharacteristicUUID string `koanf:"characteristic_uuid"`
	// DeviceID is the 16-byte device identifier, hex-encoded.
	DeviceID string `koanf:"device_id"`
	// DeviceKey is the 16-byte shared AES key, hex-encoded.
	DeviceKey string `koanf:"device_key"`
	// Credential is the plaintext credential string to present.
	Credential string `koanf:"credential"`

	// ScanTimeout bounds how long a presentation attempt scans for a peripheral.
	ScanTimeout time.Duration `koanf:"scan_timeout"`
	// ConnectionTimeout bounds the connect step. Service/characteristic
	// discovery and subscribe are not bounded by it.
	ConnectionTimeout time.Duration `koanf:"connection_timeout"`
	// ResponseTimeout bounds the wait for each reader notification.
	ResponseTimeout time.Duration `koanf:"response_timeout"`
	// RetryMax is the maximum number of attempts, the first one included,
	// before a presentation fails. Zero selects the default.
	RetryMax int `koanf:"retry_max"`
	// RetryBackoff is the delay before a retried attempt restarts scanning.
	RetryBackoff time.Duration `koanf:"retry_backoff"`

	// RestoreIdentifier, if set, scopes the "single active engine" guard and
	// lets a process recover its in-flight engine across a restart of the
	// owning component.
	RestoreIdentifier string `koanf:"restore_identifier"`
}

// LogConfig holds the logging configuration.
type LogConfig struct {
	// Level is the log level: "debug", "info", "warn", "error".
	Level string `koanf:"level"`
	// Format is the log output format: "json" or "text".
	Format string `koanf:"format"`
}

// MetricsConfig holds the Prometheus metrics endpoint configuration.
type MetricsConfig struct {
	// Addr is the HTTP listen address for the metrics endpoint (e.g., ":9100").
	Addr string `koanf:"addr"`
	// Path is the URL path for the metrics endpoint (e.g., "/metrics").
	Path string `koanf:"path"`
}

// -------------------------------------------------------------------------
// Defaults
// -------------------------------------------------------------------------

// DefaultConfig returns a Config populated with sensible defaults. Timeouts
// and the retry schedule mirror the presentation engine's own defaults;
// ServiceUUID, CharacteristicUUID, DeviceID, DeviceKey and Credential have
// no sane default and must come from the file or environment.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			ScanTimeout:       presentation.DefaultScanTimeout,
			ConnectionTimeout: presentation.DefaultConnectionTimeout,
			ResponseTimeout:   presentation.DefaultResponseTimeout,
			RetryMax:          presentation.DefaultRetryMax,
			RetryBackoff:      presentation.DefaultRetryBackoff,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Addr: ":9100",
			Path: "/metrics",
		},
	}
}

// -------------------------------------------------------------------------
// Loader
// -------------------------------------------------------------------------

// envPrefix is the environment variable prefix for credcore configuration.
// Variables are named CREDCORE_<section>_<key>, e.g., CREDCORE_ENGINE_DEVICE_KEY.
const envPrefix = "CREDCORE_"

// Load reads configuration from a YAML file at path, overlays environment
// variable overrides (CREDCORE_ prefix), and merges on top of
// DefaultConfig(). Missing fields inherit defaults. An empty path skips the
// file layer (env + defaults only).
//
// Environment variable mapping:
//
//	CREDCORE_ENGINE_SERVICE_UUID -> engine.service_uuid
//	CREDCORE_ENGINE_DEVICE_KEY   -> engine.device_key
//	CREDCORE_LOG_LEVEL           -> log.level
//	CREDCORE_METRICS_ADDR        -> metrics.addr
//
// Uses koanf/v2 with file + env providers and YAML parser.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	// Load defaults first.
	defaults := DefaultConfig()
	if err := loadDefaults(k, defaults); err != nil {
		return nil, fmt.Errorf("load config defaults: %w", err)
	}

	// Load YAML file on top of defaults, if one was given.
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config from %s: %w", path, err)
		}
	}

	// Load environment variable overrides on top of the file.
	// CREDCORE_ENGINE_DEVICE_KEY -> engine.device_key (strip prefix, lowercase, first _ -> .).
	if err := k.Load(env.Provider(envPrefix, ".", envKeyMapper), nil); err != nil {
		return nil, fmt.Errorf("load env overrides: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config from %s: %w", path, err)
	}

	return cfg, nil
}

// envKeyMapper transforms CREDCORE_ENGINE_DEVICE_KEY -> engine.device_key.
// Strips the CREDCORE_ prefix, lowercases, and replaces the first _ (the
// section separator) with .
func envKeyMapper(s string) string {
	s = strings.TrimPrefix(s, envPrefix)
	s = strings.ToLower(s)
	return strings.Replace(s, "_", ".", 1)
}

// loadDefaults marshals the default config into koanf as the base layer.
func loadDefaults(k *koanf.Koanf, defaults *Config) error {
	defaultMap := map[string]any{
		"engine.scan_timeout":       defaults.Engine.ScanTimeout.String(),
		"engine.connection_timeout": defaults.Engine.ConnectionTimeout.String(),
		"engine.response_timeout":   defaults.Engine.ResponseTimeout.String(),
		"engine.retry_max":          defaults.Engine.RetryMax,
		"engine.retry_backoff":      defaults.Engine.RetryBackoff.String(),
		"log.level":                 defaults.Log.Level,
		"log.format":                defaults.Log.Format,
		"metrics.addr":              defaults.Metrics.Addr,
		"metrics.path":              defaults.Metrics.Path,
	}

	for key, val := range defaultMap {
		if err := k.Set(key, val); err != nil {
			return fmt.Errorf("set default %s: %w", key, err)
		}
	}

	return nil
}

// -------------------------------------------------------------------------
// Validation
// -------------------------------------------------------------------------

// Validation errors.
var (
	// ErrEmptyServiceUUID indicates the GATT service UUID is empty.
	ErrEmptyServiceUUID = errors.New("engine.service_uuid must not be empty")

	// ErrEmptyCharacteristicUUID indicates the GATT characteristic UUID is empty.
	ErrEmptyCharacteristicUUID = errors.New("engine.characteristic_uuid must not be empty")

	// ErrInvalidDeviceID indicates device_id does not decode to 16 bytes of hex.
	ErrInvalidDeviceID = errors.New("engine.device_id must decode to 16 bytes of hex")

	// ErrInvalidDeviceKey indicates device_key does not decode to 16 bytes of hex.
	ErrInvalidDeviceKey = errors.New("engine.device_key must decode to 16 bytes of hex")

	// ErrEmptyCredential indicates the credential string is empty.
	ErrEmptyCredential = errors.New("engine.credential must not be empty")

	// ErrInvalidRetryMax indicates a negative retry_max.
	ErrInvalidRetryMax = errors.New("engine.retry_max must be >= 0")
)

// Validate checks the configuration for logical errors.
// Returns the first validation error encountered.
func Validate(cfg *Config) error {
	if cfg.Engine.ServiceUUID == "" {
		return ErrEmptyServiceUUID
	}
	if _, err := uuid.Parse(cfg.Engine.ServiceUUID); err != nil {
		return fmt.Errorf("engine.service_uuid %q: %w", cfg.Engine.ServiceUUID, err)
	}

	if cfg.Engine.CharacteristicUUID == "" {
		return ErrEmptyCharacteristicUUID
	}
	if _, err := uuid.Parse(cfg.Engine.CharacteristicUUID); err != nil {
		return fmt.Errorf("engine.characteristic_uuid %q: %w", cfg.Engine.CharacteristicUUID, err)
	}

	if _, err := decodeFixed(cfg.Engine.DeviceID, 16); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDeviceID, err)
	}
	if _, err := decodeFixed(cfg.Engine.DeviceKey, 16); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidDeviceKey, err)
	}

	if cfg.Engine.Credential == "" {
		return ErrEmptyCredential
	}

	if cfg.Engine.RetryMax < 0 {
		return ErrInvalidRetryMax
	}

	return nil
}

func decodeFixed(s string, n int) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, err
	}
	if len(b) != n {
		return nil, fmt.Errorf("decoded length %d, want %d", len(b), n)
	}
	return b, nil
}

// -------------------------------------------------------------------------
// Conversion
// -------------------------------------------------------------------------

// PresentationConfig converts the loaded EngineConfig section into a
// presentation.Config, decoding hex fields and parsing UUIDs. Callers must
// call Validate on the parent Config first.
func (c *Config) PresentationConfig() (presentation.Config, error) {
	serviceUUID, err := uuid.Parse(c.Engine.ServiceUUID)
	if err != nil {
		return presentation.Config{}, fmt.Errorf("parse service_uuid: %w", err)
	}
	characteristicUUID, err := uuid.Parse(c.Engine.CharacteristicUUID)
	if err != nil {
		return presentation.Config{}, fmt.Errorf("parse characteristic_uuid: %w", err)
	}
	deviceID, err := decodeFixed(c.Engine.DeviceID, 16)
	if err != nil {
		return presentation.Config{}, fmt.Errorf("decode device_id: %w", err)
	}
	deviceKey, err := decodeFixed(c.Engine.DeviceKey, 16)
	if err != nil {
		return presentation.Config{}, fmt.Errorf("decode device_key: %w", err)
	}

	cfg := presentation.Config{
		ServiceUUID:        serviceUUID,
		CharacteristicUUID: characteristicUUID,
		DeviceID:           deviceID,
		DeviceKey:          deviceKey,
		Credential:         c.Engine.Credential,
		ScanTimeout:        c.Engine.ScanTimeout,
		ConnectionTimeout:  c.Engine.ConnectionTimeout,
		ResponseTimeout:    c.Engine.ResponseTimeout,
		RetryMax:           c.Engine.RetryMax,
		RetryBackoff:       c.Engine.RetryBackoff,
		RestoreIdentifier:  c.Engine.RestoreIdentifier,
	}
	return cfg.WithDefaults(), nil
}

// -------------------------------------------------------------------------
// Log Level Parsing
// -------------------------------------------------------------------------

// ParseLogLevel maps a configuration log level string to the corresponding
// slog.Level. Unknown values default to slog.LevelInfo.
//
// Recognized values: "debug", "info", "warn", "error" (case-insensitive).
func ParseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
