package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/viper"
)

// ErrInvalid marks a configuration value that cannot be used.
var ErrInvalid = errors.New("invalid configuration")

type Config struct {
	Output          string        `mapstructure:"output"`
	Format          string        `mapstructure:"format"`
	Granularity     string        `mapstructure:"granularity"`
	UniqueNames     bool          `mapstructure:"unique_names"`
	FlushInterval   time.Duration `mapstructure:"flush_interval"`
	StackCapacity   int           `mapstructure:"stack_capacity"`
	AllocationProbe string        `mapstructure:"allocation_probe"`
	NameCacheSize   int           `mapstructure:"name_cache_size"`
	HistorySize     int           `mapstructure:"history_size"`
	LogLevel        string        `mapstructure:"log_level"`
	LogPretty       bool          `mapstructure:"log_pretty"`
	ListenAddr      string        `mapstructure:"listen_addr"`
	ServiceName     string        `mapstructure:"service_name"`
}

var defaults = map[string]any{
	"output":           "callprof.csv",
	"format":           "csv",
	"granularity":      "per_thread",
	"unique_names":     false,
	"flush_interval":   time.Duration(0),
	"stack_capacity":   100,
	"allocation_probe": "cumulative",
	"name_cache_size":  4096,
	"history_size":     32,
	"log_level":        "info",
	"log_pretty":       false,
	"listen_addr":      ":6060",
	"service_name":     "callprof",
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	v := viper.New()
	setDefaults(v)
	var config Config
	// Defaults always decode.
	_ = v.Unmarshal(&config)
	return config
}

func setDefaults(v *viper.Viper) {
	for key, value := range defaults {
		v.SetDefault(key, value)
	}
}

// Load reads callprof.yaml from path, if present, and overlays CALLPROF_*
// environment variables. A path naming a file is read directly.
func Load(path string) (config Config, err error) {
	v := viper.New()
	setDefaults(v)

	switch {
	case strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml"):
		v.SetConfigFile(path)
	case path != "":
		v.AddConfigPath(path)
		fallthrough
	default:
		v.SetConfigName("callprof")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("callprof")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err = v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return config, fmt.Errorf("failed to read config: %w", err)
		}
		err = nil
	}

	if err = v.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("failed to decode config: %w", err)
	}
	return config, config.Validate()
}

// Validate reports every unusable value at once.
func (c Config) Validate() error {
	var result *multierror.Error
	invalid := func(format string, args ...any) {
		result = multierror.Append(result, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	switch strings.ToLower(c.Format) {
	case "csv", "table", "json", "pprof":
	default:
		invalid("format %q", c.Format)
	}
	switch c.Granularity {
	case "per_thread", "merged":
	default:
		invalid("granularity %q", c.Granularity)
	}
	switch c.AllocationProbe {
	case "cumulative", "heap_live", "none":
	default:
		invalid("allocation_probe %q", c.AllocationProbe)
	}
	if c.FlushInterval < 0 {
		invalid("flush_interval %s", c.FlushInterval)
	}
	if c.StackCapacity <= 0 {
		invalid("stack_capacity %d", c.StackCapacity)
	}
	if c.NameCacheSize <= 0 {
		invalid("name_cache_size %d", c.NameCacheSize)
	}
	if c.HistorySize <= 0 {
		invalid("history_size %d", c.HistorySize)
	}
	return result.ErrorOrNil()
}
