// Package config loads the engine's TOML configuration file, in the same
// spirit as the backup/sync tools in this corpus that decode a declarative
// config into a typed struct rather than hand-parsing flags for everything.
package config

import (
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	homedir "github.com/mitchellh/go-homedir"

	"github.com/ctfile/ctengine/internal/ctxerr"
)

// Config is the engine's full configuration surface.
type Config struct {
	Server struct {
		Address    string `toml:"address"`
		TLSCert    string `toml:"tls_cert"`
		TLSInsecure bool  `toml:"tls_insecure"`
	} `toml:"server"`

	Cache struct {
		Directory string `toml:"directory"`
	} `toml:"cache"`

	Transfer struct {
		MaxBlockSize  int `toml:"max_block_size"`
		TransactionSlots int `toml:"transaction_slots"`
		Cleartext     bool `toml:"cleartext"`
	} `toml:"transfer"`

	Cull struct {
		KeepDays     int `toml:"keep_days"`
		ShaPerPacket int `toml:"sha_per_packet"`
	} `toml:"cull"`
}

// Defaults matches the values the original client hardcodes absent config:
// sha_per_packet defaults to 1000 (§4.7), and a modest transaction pool /
// block size for a single cooperative event loop.
func Defaults() *Config {
	c := &Config{}
	c.Transfer.MaxBlockSize = 256 * 1024
	c.Transfer.TransactionSlots = 32
	c.Cull.ShaPerPacket = 1000
	return c
}

// DefaultPath returns ~/.ctengine/config.toml, used when --config is unset.
func DefaultPath() (string, error) {
	home, err := homedir.Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".ctengine", "config.toml"), nil
}

// Load reads and decodes path, overlaying onto Defaults(). A missing file
// yields Defaults() unchanged; an existing file that leaves cache.directory
// empty is a CodeMissingConfigValue error. keep_days is not validated here.
func Load(path string) (*Config, error) {
	cfg := Defaults()
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, ctxerr.Wrap(ctxerr.CodeMissingConfigValue, path, err)
	}
	if cfg.Cache.Directory == "" {
		return nil, ctxerr.New(ctxerr.CodeMissingConfigValue, "cache.directory")
	}
	return cfg, nil
}
