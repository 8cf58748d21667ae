package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched, in order, when no path is given.
var DefaultConfigPaths = []string{
	"hotelpipe.yaml",
	"hotelpipe.yml",
	"/etc/hotelpipe/config.yaml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// EnvPrefix marks variables that map onto config paths; "__" separates levels,
// so HOTELPIPE_TELEMETRY__DEVICE_TOKEN sets telemetry.device_token.
const EnvPrefix = "HOTELPIPE_"

// Load layers defaults, the YAML file at path (or the first default path found)
// and environment variables, then validates the result.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("load defaults: %w", err)
	}

	if path == "" {
		path = findConfigFile()
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("load environment: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func findConfigFile() string {
	if p := os.Getenv(ConfigPathEnvVar); p != "" {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	for _, p := range DefaultConfigPaths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// sliceConfigPaths are parsed from comma-separated strings when set by env.
var sliceConfigPaths = []string{
	"telemetry.keys",
	"features.partitions",
	"features.drop",
}

func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		s, ok := k.Get(path).(string)
		if !ok {
			continue
		}
		var parts []string
		for _, p := range strings.Split(s, ",") {
			if p = strings.TrimSpace(p); p != "" {
				parts = append(parts, p)
			}
		}
		if err := k.Set(path, parts); err != nil {
			return fmt.Errorf("set %s: %w", path, err)
		}
	}
	return nil
}

// legacyEnv maps the variable names the deployment scripts already export.
var legacyEnv = map[string]string{
	"tb_url":            "telemetry.url",
	"access_token":      "telemetry.device_token",
	"tb_device_id":      "telemetry.device_id",
	"tb_username":       "telemetry.username",
	"tb_password":       "telemetry.password",
	"minio_endpoint":    "storage.endpoint",
	"minio_access_key":  "storage.access_key",
	"minio_secret_key":  "storage.secret_key",
	"minio_bucket":      "storage.bucket",
	"neon_database_url": "database.url",
	"database_url":      "database.url",
	"log_level":         "logging.level",
	"log_format":        "logging.format",
}

// envTransformFunc maps an environment variable name to a config path.
// Unknown names return "" and are ignored.
func envTransformFunc(key string) string {
	if strings.HasPrefix(key, EnvPrefix) {
		rest := strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
		return strings.ReplaceAll(rest, "__", ".")
	}
	return legacyEnv[strings.ToLower(key)]
}
