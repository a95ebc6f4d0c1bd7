package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Defaults applied to keys missing from the file.
const (
	DefaultServerAddress = "localhost:10000"
	DefaultPollInterval  = time.Second
)

// Config represents the global ~/.ims/config.toml.
type Config struct {
	DefaultSession string   `toml:"default_session"`
	ServerAddress  string   `toml:"server_address"`
	PollInterval   Duration `toml:"poll_interval"`
	FetchNewChats  bool     `toml:"fetch_new_chats"`
}

// Duration is a time.Duration written as a string ("1s", "250ms") in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	return &Config{
		ServerAddress: DefaultServerAddress,
		PollInterval:  Duration{DefaultPollInterval},
		FetchNewChats: true,
	}
}

// Load reads config from the given path. Returns zero config and error if file missing.
// Keys absent from the file take their default value.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	if cfg.ServerAddress == "" {
		cfg.ServerAddress = DefaultServerAddress
	}
	if cfg.PollInterval.Duration <= 0 {
		cfg.PollInterval = Duration{DefaultPollInterval}
	}
	return cfg, nil
}

// LoadOrDefault is Load, except that a missing file yields Default().
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if errors.Is(err, fs.ErrNotExist) {
		return Default(), nil
	}
	return cfg, err
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
