// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"crypto/tls"
	"fmt"
	"net"
	"reflect"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// Defaults for Config.
const (
	DefaultTimeout         = 5 * time.Second
	DefaultDownInterval    = 30 * time.Second
	DefaultRefreshInterval = 300 * time.Second
	DefaultRetryInterval   = 250 * time.Millisecond
	DefaultPoolSize        = 5
)

// Config is the process-wide client configuration. It owns the adapter
// registry, which must be fully populated before the first node is built.
type Config struct {
	Seeds           []string      `mapstructure:"seeds"`
	Adapter         string        `mapstructure:"adapter"`
	Timeout         time.Duration `mapstructure:"timeout"`
	SSL             bool          `mapstructure:"ssl"`
	DownInterval    time.Duration `mapstructure:"down_interval"`
	RefreshInterval time.Duration `mapstructure:"refresh_interval"`
	RetryInterval   time.Duration `mapstructure:"retry_interval"`
	MaxRetries      int           `mapstructure:"max_retries"` // 0 means one per seed
	PoolSize        int           `mapstructure:"pool_size"`
	LogLevel        string        `mapstructure:"log_level"`

	Adapters     *AdapterRegistry `mapstructure:"-"`
	TLSConfig    *tls.Config      `mapstructure:"-"`
	Logger       *zap.Logger      `mapstructure:"-"`
	Instrumenter Instrumenter     `mapstructure:"-"`
	Metrics      *Metrics         `mapstructure:"-"`
	Dial         DialFunc         `mapstructure:"-"`
	Resolver     *net.Resolver    `mapstructure:"-"`
	Now          func() time.Time `mapstructure:"-"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() *Config {
	return &Config{
		Adapter:         DefaultAdapter,
		Timeout:         DefaultTimeout,
		DownInterval:    DefaultDownInterval,
		RefreshInterval: DefaultRefreshInterval,
		RetryInterval:   DefaultRetryInterval,
		PoolSize:        DefaultPoolSize,
		Adapters:        DefaultAdapters(),
		Logger:          zap.NewNop(),
		Now:             time.Now,
	}
}

// LoadConfig reads a yaml config file (optional when path is empty) and
// BONES_* environment variables on top of the defaults.
func LoadConfig(path string) (*Config, error) {
	def := DefaultConfig()

	v := viper.New()
	v.SetDefault("seeds", def.Seeds)
	v.SetDefault("adapter", def.Adapter)
	v.SetDefault("timeout", def.Timeout)
	v.SetDefault("ssl", def.SSL)
	v.SetDefault("down_interval", def.DownInterval)
	v.SetDefault("refresh_interval", def.RefreshInterval)
	v.SetDefault("retry_interval", def.RetryInterval)
	v.SetDefault("max_retries", def.MaxRetries)
	v.SetDefault("pool_size", def.PoolSize)
	v.SetDefault("log_level", def.LogLevel)
	v.SetEnvPrefix("BONES")
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	c := DefaultConfig()
	hook := viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.DecodeHookFuncType(secondsHook),
		mapstructure.StringToSliceHookFunc(","),
	))
	if err := v.Unmarshal(c, hook); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	return c, nil
}

// secondsHook decodes Duration fields from seconds, like the URI does:
// timeout: 5 is five seconds, not five nanoseconds. Strings may also be Go
// durations ("750ms").
func secondsHook(_ reflect.Type, to reflect.Type, data interface{}) (interface{}, error) {
	if to != reflect.TypeOf(time.Duration(0)) {
		return data, nil
	}
	switch v := data.(type) {
	case time.Duration:
		return v, nil
	case string:
		d, err := parseSeconds(v)
		if err != nil {
			return nil, fmt.Errorf("invalid duration %q: %w", v, err)
		}
		return d, nil
	case int:
		return time.Duration(v) * time.Second, nil
	case int64:
		return time.Duration(v) * time.Second, nil
	case uint64:
		return time.Duration(v) * time.Second, nil
	case float64:
		return time.Duration(v * float64(time.Second)), nil
	}
	return data, nil
}

// normalize fills zero values with defaults and checks the adapter name.
func (c *Config) normalize() error {
	if c.Adapter == "" {
		c.Adapter = DefaultAdapter
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.DownInterval <= 0 {
		c.DownInterval = DefaultDownInterval
	}
	if c.RefreshInterval <= 0 {
		c.RefreshInterval = DefaultRefreshInterval
	}
	if c.RetryInterval <= 0 {
		c.RetryInterval = DefaultRetryInterval
	}
	if c.PoolSize <= 0 {
		c.PoolSize = DefaultPoolSize
	}
	if c.Adapters == nil {
		c.Adapters = DefaultAdapters()
	}
	if c.Logger == nil {
		c.Logger = zap.NewNop()
	}
	if c.Instrumenter == nil {
		c.Instrumenter = NewLogInstrumenter(c.Logger)
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.SSL && c.TLSConfig == nil {
		c.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
	}
	if !c.SSL {
		c.TLSConfig = nil
	}
	_, err := c.Adapters.Get(c.Adapter)
	return err
}
