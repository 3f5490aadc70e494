package config

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"github.com/fsnotify/fsnotify"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Load loads configuration from file, .env and environment variables
func Load(configPath string) (*Config, error) {
	// .env is optional; real environment variables take precedence
	_ = godotenv.Load()

	v := viper.New()
	config := GetDefaults()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./configs")
	v.AddConfigPath("/etc/redact/")
	v.AddConfigPath("$HOME/.redact/")

	// Environment variable overrides
	v.SetEnvPrefix("REDACT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindEnv(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	}

	if err := v.ReadInConfig(); err != nil {
		// Config file not found is not an error - we'll use defaults
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	if err := v.Unmarshal(config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := Validate(config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	active = v
	return config, nil
}

// active is the viper instance behind the last successful Load, used by Watch.
var active *viper.Viper

// bindEnv registers the keys that are commonly set from the environment so
// AutomaticEnv picks them up during Unmarshal even without a config file.
func bindEnv(v *viper.Viper) {
	for _, key := range []string{
		"server.port",
		"privacy.default_level",
		"privacy.overlap",
		"privacy.substitution",
		"privacy.synthetic.seed",
		"extract.pdftotext",
		"extract.tesseract",
		"extract.tessdata_dir",
		"cache.enabled",
		"cache.redis_url",
		"audit.enabled",
		"audit.database_url",
		"logging.level",
		"logging.format",
		"websocket.username",
		"websocket.password",
	} {
		_ = v.BindEnv(key)
	}
}

// Validate validates the loaded configuration
func Validate(config *Config) error {
	if config.Server.Port <= 0 || config.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", config.Server.Port)
	}

	if config.Privacy.DefaultLevel < 1 || config.Privacy.DefaultLevel > 4 {
		return fmt.Errorf("invalid default redaction level: %d (must be 1-4)", config.Privacy.DefaultLevel)
	}

	switch config.Privacy.Overlap {
	case "", "keep_all", "first_match", "longest_match":
	default:
		return fmt.Errorf("invalid overlap strategy: %s (must be keep_all, first_match, or longest_match)", config.Privacy.Overlap)
	}

	switch config.Privacy.Substitution {
	case "", "sequential", "single_pass":
	default:
		return fmt.Errorf("invalid substitution mode: %s (must be sequential or single_pass)", config.Privacy.Substitution)
	}

	for _, p := range config.Security.TrustedProxies {
		p = strings.TrimSpace(p)
		if _, err := netip.ParsePrefix(p); err == nil {
			continue
		}
		if _, err := netip.ParseAddr(p); err != nil {
			return fmt.Errorf("invalid trusted proxy: %s (must be an IP address or CIDR range)", p)
		}
	}

	if config.Extract.MaxUploadMB <= 0 {
		return fmt.Errorf("invalid max upload size: %d MB", config.Extract.MaxUploadMB)
	}

	if config.Report.LineChars <= 0 {
		return fmt.Errorf("invalid report line width: %d", config.Report.LineChars)
	}

	if config.Logging.Level != "debug" && config.Logging.Level != "info" && config.Logging.Level != "warn" && config.Logging.Level != "error" {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", config.Logging.Level)
	}

	if config.Logging.Format != "json" && config.Logging.Format != "console" {
		return fmt.Errorf("invalid log format: %s (must be json or console)", config.Logging.Format)
	}

	return nil
}

// Watch starts watching the configuration file for changes
func Watch(callback func(*Config), onError func(error)) error {
	if active == nil {
		return fmt.Errorf("configuration not loaded")
	}
	if onError == nil {
		onError = func(error) {}
	}

	v := active
	v.OnConfigChange(func(e fsnotify.Event) {
		newConfig := GetDefaults()
		if err := v.Unmarshal(newConfig); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}

		if err := Validate(newConfig); err != nil {
			onError(fmt.Errorf("reload %s: %w", e.Name, err))
			return
		}

		callback(newConfig)
	})
	v.WatchConfig()

	return nil
}
