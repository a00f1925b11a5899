package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/adrg/xdg"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"

	"github.com/hse-launcher/instance-builder/internal/config/validate"
)

const (
	// EnvPrefix prefixes environment overrides, e.g. INSTANCE_BUILDER_LOGGING__LEVEL=debug.
	EnvPrefix = "INSTANCE_BUILDER_"
	// LocalConfigFile is looked up in the working directory.
	LocalConfigFile = "instance-builder.yml"
	// UserConfigFile is looked up in the XDG config directories.
	UserConfigFile = "instance-builder/config.yml"
)

// LoggingConfig controls the process-wide logger.
type LoggingConfig struct {
	Level  string `yaml:"level" json:"level" koanf:"level"`
	Format string `yaml:"format" json:"format" koanf:"format"`
}

// GlobalConfig holds tool-wide settings, independent of any build spec.
type GlobalConfig struct {
	Workers            int           `yaml:"workers" json:"workers" koanf:"workers"`
	WorkDir            string        `yaml:"work_dir" json:"work_dir" koanf:"work_dir"`
	CacheDir           string        `yaml:"cache_dir" json:"cache_dir" koanf:"cache_dir"`
	TempDir            string        `yaml:"temp_dir" json:"temp_dir" koanf:"temp_dir"`
	JavaPath           string        `yaml:"java_path" json:"java_path" koanf:"java_path"`
	HTTPTimeoutSeconds int           `yaml:"http_timeout_seconds" json:"http_timeout_seconds" koanf:"http_timeout_seconds"`
	Logging            LoggingConfig `yaml:"logging" json:"logging" koanf:"logging"`
}

// DefaultGlobalConfig returns the settings used when nothing overrides them.
func DefaultGlobalConfig() *GlobalConfig {
	return &GlobalConfig{
		Workers:            8,
		CacheDir:           filepath.Join(xdg.CacheHome, "instance-builder"),
		JavaPath:           "java",
		HTTPTimeoutSeconds: 60,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

func defaultsMap() map[string]interface{} {
	d := DefaultGlobalConfig()
	return map[string]interface{}{
		"workers":              d.Workers,
		"work_dir":             d.WorkDir,
		"cache_dir":            d.CacheDir,
		"temp_dir":             d.TempDir,
		"java_path":            d.JavaPath,
		"http_timeout_seconds": d.HTTPTimeoutSeconds,
		"logging.level":        d.Logging.Level,
		"logging.format":       d.Logging.Format,
	}
}

// FindConfigFile returns the config file to load: explicit if set, else
// instance-builder.yml in the working directory, else the XDG user config.
// An empty result means defaults only.
func FindConfigFile(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file: %w", err)
		}
		return explicit, nil
	}
	if _, err := os.Stat(LocalConfigFile); err == nil {
		return LocalConfigFile, nil
	}
	if p, err := xdg.SearchConfigFile(UserConfigFile); err == nil {
		return p, nil
	}
	return "", nil
}

// envKey maps INSTANCE_BUILDER_LOGGING__LEVEL to logging.level.
func envKey(s string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, EnvPrefix)), "__", ".")
}

// LoadGlobalConfig layers defaults, the config file at path (if any) and
// INSTANCE_BUILDER_* environment variables, then validates the result.
func LoadGlobalConfig(path string) (*GlobalConfig, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(), "."), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}
	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config from %s: %w", path, err)
		}
	}
	if err := k.Load(env.Provider(EnvPrefix, ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load env vars: %w", err)
	}

	var cfg GlobalConfig
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "koanf"}); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	data, err := json.Marshal(&cfg)
	if err != nil {
		return nil, err
	}
	if err := validate.ValidateConfigJSON(data); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// WriteDefault writes the default configuration as YAML to path.
// It refuses to overwrite an existing file unless force is set.
func WriteDefault(path string, force bool) error {
	if !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s: %w", path, os.ErrExist)
		} else if !errors.Is(err, os.ErrNotExist) {
			return err
		}
	}
	data, err := yamlv3.Marshal(DefaultGlobalConfig())
	if err != nil {
		return fmt.Errorf("encoding default config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}
