package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/dustin/go-humanize"
	"github.com/massget/massget"
	"github.com/spf13/viper"
)

type Config struct {
	Download DownloadConfig `mapstructure:"download" yaml:"download"`
	Fork     ForkConfig     `mapstructure:"fork" yaml:"fork"`
	Retry    RetryConfig    `mapstructure:"retry" yaml:"retry"`
	Log      LogConfig      `mapstructure:"log" yaml:"log"`
}

type DownloadConfig struct {
	Dir      string        `mapstructure:"dir" yaml:"dir"`
	Buffer   string        `mapstructure:"buffer" yaml:"buffer"`
	Chunk    string        `mapstructure:"chunk" yaml:"chunk"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
	Headers  []string      `mapstructure:"headers" yaml:"headers"`
}

type ForkConfig struct {
	Interval   time.Duration `mapstructure:"interval" yaml:"interval"`
	MaxGetters int           `mapstructure:"max_getters" yaml:"max_getters"`
	MinSize    string        `mapstructure:"min_size" yaml:"min_size"`
}

type RetryConfig struct {
	Count    int           `mapstructure:"count" yaml:"count"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type LogConfig struct {
	Level string `mapstructure:"level" yaml:"level"`
}

// Load reads path when it is not empty, then MASSGET_ environment variables on top of
// the defaults.
func Load(path string) (*Config, error) {

	v := viper.New()

	// Set Defaults
	v.SetDefault("download.dir", ".")
	v.SetDefault("download.buffer", "64MiB")
	v.SetDefault("download.chunk", "8KiB")
	v.SetDefault("download.interval", massget.DefaultInterval)
	v.SetDefault("download.headers", []string{})
	v.SetDefault("fork.interval", massget.DefaultForkInterval)
	v.SetDefault("fork.max_getters", massget.DefaultMaxGetters)
	v.SetDefault("fork.min_size", "1MiB")
	v.SetDefault("retry.count", massget.DefaultRetryCount)
	v.SetDefault("retry.interval", massget.DefaultRetryInterval)
	v.SetDefault("log.level", "info")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")

		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading config file %s: %w", path, err)
		}
	}

	// Support Environment Variables
	v.SetEnvPrefix("MASSGET")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks sizes, limits and headers and fills empty fields.
func (c *Config) Validate() error {

	for name, val := range map[string]string{
		"download.buffer": c.Download.Buffer,
		"download.chunk":  c.Download.Chunk,
		"fork.min_size":   c.Fork.MinSize,
	} {
		if _, err := humanize.ParseBytes(val); err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}
	}

	if c.Fork.MaxGetters < 1 {
		return errors.New("fork.max_getters must be at least 1")
	}

	if c.Retry.Count < 1 {
		return errors.New("retry.count must be at least 1")
	}

	for _, h := range c.Download.Headers {
		if _, _, err := ParseHeader(h); err != nil {
			return err
		}
	}

	if _, err := log.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log.level: %w", err)
	}

	if c.Download.Dir == "" {
		c.Download.Dir = "."
	}

	return nil
}

// ParseHeader splits a "Key: value" header.
func ParseHeader(h string) (string, string, error) {

	key, val, ok := strings.Cut(h, ":")

	if !ok || strings.TrimSpace(key) == "" {
		return "", "", fmt.Errorf("invalid header %q, expecting \"key: value\"", h)
	}

	return strings.TrimSpace(key), strings.TrimSpace(val), nil
}

// Options converts the config into engine options, sizes are validated by Load.
func (c *Config) Options() massget.Options {

	buffer, _ := humanize.ParseBytes(c.Download.Buffer)
	chunk, _ := humanize.ParseBytes(c.Download.Chunk)
	minFork, _ := humanize.ParseBytes(c.Fork.MinSize)

	opts := massget.Options{
		BufferSize:    int64(buffer),
		ChunkSize:     int(chunk),
		RetryCount:    c.Retry.Count,
		RetryInterval: c.Retry.Interval,
		ForkInterval:  c.Fork.Interval,
		MaxGetters:    c.Fork.MaxGetters,
		MinForkSize:   int64(minFork),
		Interval:      c.Download.Interval,
	}

	for _, h := range c.Download.Headers {
		key, val, _ := ParseHeader(h)
		opts.Header = append(opts.Header, massget.Header{Key: key, Value: val})
	}

	return opts
}
