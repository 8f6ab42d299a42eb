package config

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"k8s.io/client-go/util/homedir"
)

// AppConfig holds the application configuration.
type AppConfig struct {
	ListenPort      string        `mapstructure:"listen_port"`
	GinMode         string        `mapstructure:"gin_mode"`
	KubeconfigPath  string        `mapstructure:"kubeconfig"`
	HelmDriver      string        `mapstructure:"helm_driver"`
	HelmTimeout     time.Duration `mapstructure:"helm_timeout"`
	ChartConfigPath string        `mapstructure:"chart_config_path"` // Path to a YAML file defining catalog charts
	Storage         StorageConfig `mapstructure:"storage"`
	Log             LogConfig     `mapstructure:"log"`
	Values          ValuesConfig  `mapstructure:"values"`
}

// StorageConfig selects where tab records are persisted between restarts.
type StorageConfig struct {
	Driver string `mapstructure:"driver"` // "file", "sqlite" or "memory"
	Path   string `mapstructure:"path"`
}

// LogConfig holds logger settings.
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // "console" or "json"
}

// ValuesConfig controls how chart default values are fetched for install tabs.
type ValuesConfig struct {
	MaxAttempts int           `mapstructure:"max_attempts"`
	RetryDelay  time.Duration `mapstructure:"retry_delay"`
}

// LoadConfig loads configuration from an optional file, environment variables
// prefixed with CHARTDOCK_, and defaults. An empty path skips the file lookup.
func LoadConfig(path string) (*AppConfig, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("CHARTDOCK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// KUBECONFIG and HELM_DRIVER keep their usual unprefixed names.
	_ = v.BindEnv("kubeconfig", "CHARTDOCK_KUBECONFIG", "KUBECONFIG")
	_ = v.BindEnv("helm_driver", "CHARTDOCK_HELM_DRIVER", "HELM_DRIVER")

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	}

	var cfg AppConfig
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate reports settings that cannot work together.
func (c *AppConfig) Validate() error {
	switch c.Storage.Driver {
	case "file", "sqlite", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	if c.Values.MaxAttempts < 1 {
		return fmt.Errorf("values.max_attempts must be at least 1, got %d", c.Values.MaxAttempts)
	}
	if c.HelmTimeout <= 0 {
		return fmt.Errorf("helm_timeout must be positive, got %s", c.HelmTimeout)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	var defaultKubeconfig string
	if home := homedir.HomeDir(); home != "" {
		defaultKubeconfig = filepath.Join(home, ".kube", "config")
	}
	dataDir := "."
	if home := homedir.HomeDir(); home != "" {
		dataDir = filepath.Join(home, ".local", "share", "chartdock")
	}

	v.SetDefault("listen_port", "8080")
	v.SetDefault("gin_mode", "debug") // "release" for production
	v.SetDefault("kubeconfig", defaultKubeconfig)
	v.SetDefault("helm_driver", "secret") // "secret", "configmap", or "memory"
	v.SetDefault("helm_timeout", 5*time.Minute)
	v.SetDefault("chart_config_path", "charts.yaml")
	v.SetDefault("storage.driver", "file")
	v.SetDefault("storage.path", dataDir)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "console")
	v.SetDefault("values.max_attempts", 5)
	v.SetDefault("values.retry_delay", time.Duration(0))
}
