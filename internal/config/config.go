package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/viper"
)

// Source is one directory to back up. Lower priority runs earlier.
type Source struct {
	Path     string `mapstructure:"path"`
	Priority int    `mapstructure:"priority"`
}

type Config struct {
	DBPath            string   `mapstructure:"db_path"`
	LogDir            string   `mapstructure:"log_dir"`
	LockDir           string   `mapstructure:"lock_dir"`
	StatsIntervalSecs int      `mapstructure:"stats_interval_secs"`
	StalenessFactor   int      `mapstructure:"staleness_factor"`
	MaxRetries        int      `mapstructure:"max_retries"`
	BufferSize        int      `mapstructure:"buffer_size"`
	ServePort         int      `mapstructure:"serve_port"`
	OpVault           string   `mapstructure:"op_vault"`
	S3Endpoint        string   `mapstructure:"s3_endpoint"`
	S3Region          string   `mapstructure:"s3_region"`
	Sources           []Source `mapstructure:"sources"`
}

var Default = Config{
	DBPath:            "coldstore.db",
	LogDir:            "logs",
	LockDir:           "locks",
	StatsIntervalSecs: 30,
	StalenessFactor:   3,
	MaxRetries:        3,
	BufferSize:        64,
	ServePort:         9420,
	OpVault:           "Private",
	S3Endpoint:        "https://s3.us-west-004.backblazeb2.com",
	S3Region:          "us-west-004",
}

func Load() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to get home dir: %w", err)
	}

	configDir := filepath.Join(home, ".coldstore")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create config dir: %w", err)
	}

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(configDir)

	viper.SetDefault("db_path", filepath.Join(configDir, Default.DBPath))
	viper.SetDefault("log_dir", filepath.Join(configDir, Default.LogDir))
	viper.SetDefault("lock_dir", filepath.Join(configDir, Default.LockDir))
	viper.SetDefault("stats_interval_secs", Default.StatsIntervalSecs)
	viper.SetDefault("staleness_factor", Default.StalenessFactor)
	viper.SetDefault("max_retries", Default.MaxRetries)
	viper.SetDefault("buffer_size", Default.BufferSize)
	viper.SetDefault("serve_port", Default.ServePort)
	viper.SetDefault("op_vault", Default.OpVault)
	viper.SetDefault("s3_endpoint", Default.S3Endpoint)
	viper.SetDefault("s3_region", Default.S3Region)

	viper.SetEnvPrefix("COLDSTORE")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := errors.AsType[viper.ConfigFileNotFoundError](err); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &cfg, nil
}

func (c *Config) StatsInterval() time.Duration {
	return time.Duration(c.StatsIntervalSecs) * time.Second
}

// StaleThreshold is the lastUpdate age past which a RUNNING job is
// presumed abandoned by a dead process.
func (c *Config) StaleThreshold() time.Duration {
	return c.StatsInterval() * time.Duration(c.StalenessFactor)
}

// SortedSources returns sources ordered ascending by priority. Sources
// with equal priority keep their config-file order.
func (c *Config) SortedSources() []Source {
	out := make([]Source, len(c.Sources))
	copy(out, c.Sources)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Priority < out[j].Priority
	})
	return out
}

// ValidateSources rejects an empty source list and two sources that would
// map to the same remote directory name.
func (c *Config) ValidateSources() error {
	if len(c.Sources) == 0 {
		return errors.New("no source directories configured")
	}

	seen := make(map[string]string)
	for _, s := range c.Sources {
		if s.Path == "" {
			return errors.New("source with empty path")
		}
		base := filepath.Base(filepath.Clean(s.Path))
		if prev, ok := seen[base]; ok {
			return fmt.Errorf("sources %q and %q both map to remote dir %q", prev, s.Path, base)
		}
		seen[base] = s.Path
	}

	return nil
}
