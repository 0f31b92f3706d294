// Package config loads envex settings from a TOML file, ENVEX_ environment
// variables and command line flags, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/frederic-klein/envex/internal/registry"
)

const (
	// AppName is the application name.
	AppName = "envex"
	// FileName is the name of the config file looked up in the config
	// directory and the working directory.
	FileName = "envex.toml"
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "ENVEX"
)

// Config is the effective configuration.
type Config struct {
	IndexURL           string            `mapstructure:"index_url"`
	ExtraIndexURLs     []string          `mapstructure:"extra_index_urls"`
	TargetPython       string            `mapstructure:"target_python"`
	Platform           string            `mapstructure:"platform"`
	StopList           []string          `mapstructure:"stop_list"`
	AdditionalPackages map[string]string `mapstructure:"additional_packages"`
	SitePackages       []string          `mapstructure:"site_packages"`
	CacheSize          int               `mapstructure:"cache_size"`
	Workers            int               `mapstructure:"workers"`
	Timeout            time.Duration     `mapstructure:"timeout"`
	LogLevel           string            `mapstructure:"log_level"`
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		IndexURL:           registry.DefaultIndexURL,
		ExtraIndexURLs:     []string{},
		TargetPython:       "",
		Platform:           registry.DefaultPlatform,
		StopList:           []string{},
		AdditionalPackages: map[string]string{},
		SitePackages:       []string{},
		CacheSize:          1024,
		Workers:            5,
		Timeout:            2 * time.Minute,
		LogLevel:           "info",
	}
}

// keys lists every setting; flags are bound by the same name with
// underscores turned into dashes.
var keys = []string{
	"index_url",
	"extra_index_urls",
	"target_python",
	"platform",
	"stop_list",
	"additional_packages",
	"site_packages",
	"cache_size",
	"workers",
	"timeout",
	"log_level",
}

// LoadOptions control where configuration is read from.
type LoadOptions struct {
	// ConfigFile is used exclusively when set and must exist.
	ConfigFile string
	// ConfigDir overrides Dir().
	ConfigDir string
	// Flags are bound over file and environment values when changed.
	Flags *pflag.FlagSet
}

// Dir returns $XDG_CONFIG_HOME/envex, defaulting to ~/.config/envex.
func Dir() (string, error) {
	dir := os.Getenv("XDG_CONFIG_HOME")
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("getting home directory: %w", err)
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, AppName), nil
}

// Load resolves the configuration and returns it with the path of the file
// it was read from, empty when only defaults, environment and flags apply.
func Load(opts LoadOptions) (*Config, string, error) {
	v := viper.New()
	v.SetConfigType("toml")

	defaults := Default()
	v.SetDefault("index_url", defaults.IndexURL)
	v.SetDefault("extra_index_urls", defaults.ExtraIndexURLs)
	v.SetDefault("target_python", defaults.TargetPython)
	v.SetDefault("platform", defaults.Platform)
	v.SetDefault("stop_list", defaults.StopList)
	v.SetDefault("additional_packages", defaults.AdditionalPackages)
	v.SetDefault("site_packages", defaults.SitePackages)
	v.SetDefault("cache_size", defaults.CacheSize)
	v.SetDefault("workers", defaults.Workers)
	v.SetDefault("timeout", defaults.Timeout)
	v.SetDefault("log_level", defaults.LogLevel)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	path, err := configFile(opts)
	if err != nil {
		return nil, "", err
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, "", fmt.Errorf("reading config %s: %w", path, err)
		}
	}

	if opts.Flags != nil {
		for _, key := range keys {
			f := opts.Flags.Lookup(strings.ReplaceAll(key, "_", "-"))
			if f == nil {
				continue
			}
			if err := v.BindPFlag(key, f); err != nil {
				return nil, "", fmt.Errorf("binding flag %s: %w", f.Name, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, "", fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		if path != "" {
			return nil, "", fmt.Errorf("%s: %w", path, err)
		}
		return nil, "", err
	}
	return &cfg, path, nil
}

func configFile(opts LoadOptions) (string, error) {
	if opts.ConfigFile != "" {
		if !fileExists(opts.ConfigFile) {
			return "", fmt.Errorf("config file not found: %s", opts.ConfigFile)
		}
		return opts.ConfigFile, nil
	}

	dir := opts.ConfigDir
	if dir == "" {
		var err error
		if dir, err = Dir(); err != nil {
			return "", err
		}
	}
	for _, candidate := range []string{filepath.Join(dir, FileName), FileName} {
		if fileExists(candidate) {
			return candidate, nil
		}
	}
	return "", nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Validate checks values that the registry and logger would reject later.
func (c *Config) Validate() error {
	var errs []error
	for _, u := range append([]string{c.IndexURL}, c.ExtraIndexURLs...) {
		if err := checkURL(u); err != nil {
			errs = append(errs, err)
		}
	}
	if c.TargetPython != "" {
		if _, err := registry.ParsePythonVersion(c.TargetPython); err != nil {
			errs = append(errs, fmt.Errorf("target_python: %w", err))
		}
	}
	if c.Platform == "" {
		errs = append(errs, errors.New("platform: must not be empty"))
	}
	if c.CacheSize <= 0 {
		errs = append(errs, fmt.Errorf("cache_size: must be positive, got %d", c.CacheSize))
	}
	if c.Workers <= 0 {
		errs = append(errs, fmt.Errorf("workers: must be positive, got %d", c.Workers))
	}
	if c.Timeout < 0 {
		errs = append(errs, fmt.Errorf("timeout: must not be negative, got %s", c.Timeout))
	}
	if _, err := log.ParseLevel(c.LogLevel); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	for name, version := range c.AdditionalPackages {
		if strings.TrimSpace(version) == "" {
			errs = append(errs, fmt.Errorf("additional_packages: %s has no version", name))
		}
	}
	return errors.Join(errs...)
}

func checkURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("index url %q: %w", raw, err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("index url %q: want an absolute http(s) URL", raw)
	}
	return nil
}

// Target returns the platform registry lookups check builds against. An
// unset target_python means registry.DefaultPython.
func (c *Config) Target() (registry.Target, error) {
	if c.TargetPython == "" {
		return registry.Target{Python: registry.DefaultPython, Platform: c.Platform}, nil
	}
	py, err := registry.ParsePythonVersion(c.TargetPython)
	if err != nil {
		return registry.Target{}, err
	}
	return registry.Target{Python: py, Platform: c.Platform}, nil
}

// Level returns the parsed log level.
func (c *Config) Level() log.Level {
	level, err := log.ParseLevel(c.LogLevel)
	if err != nil {
		return log.InfoLevel
	}
	return level
}

// fileDocument is the TOML form of Config.
type fileDocument struct {
	IndexURL           string            `toml:"index_url"`
	ExtraIndexURLs     []string          `toml:"extra_index_urls"`
	TargetPython       string            `toml:"target_python"`
	Platform           string            `toml:"platform"`
	StopList           []string          `toml:"stop_list"`
	SitePackages       []string          `toml:"site_packages"`
	CacheSize          int               `toml:"cache_size"`
	Workers            int               `toml:"workers"`
	Timeout            string            `toml:"timeout"`
	LogLevel           string            `toml:"log_level"`
	AdditionalPackages map[string]string `toml:"additional_packages"`
}

// TOML renders c in the config file format.
func (c *Config) TOML() ([]byte, error) {
	doc := fileDocument{
		IndexURL:           c.IndexURL,
		ExtraIndexURLs:     nonNil(c.ExtraIndexURLs),
		TargetPython:       c.TargetPython,
		Platform:           c.Platform,
		StopList:           nonNil(c.StopList),
		SitePackages:       nonNil(c.SitePackages),
		CacheSize:          c.CacheSize,
		Workers:            c.Workers,
		Timeout:            c.Timeout.String(),
		LogLevel:           c.LogLevel,
		AdditionalPackages: c.AdditionalPackages,
	}
	if doc.AdditionalPackages == nil {
		doc.AdditionalPackages = map[string]string{}
	}
	out, err := toml.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("encoding config: %w", err)
	}
	return out, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
