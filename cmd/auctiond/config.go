package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/cloudx-io/sealedauction/store"
)

// Store kinds.
const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
)

// Coprocessor modes.
const (
	CoprocessorLocal = "local" // in-process engine, no attestation
	CoprocessorVsock = "vsock" // Nitro enclave on the local host
	CoprocessorTCP   = "tcp"   // remote coprocessor over TCP
)

// Config is the auctiond configuration file.
type Config struct {
	LogLevel    string            `yaml:"log_level"`
	HTTP        HTTPConfig        `yaml:"http"`
	Store       StoreConfig       `yaml:"store"`
	Coprocessor CoprocessorConfig `yaml:"coprocessor"`
	Settlement  SettlementConfig  `yaml:"settlement"`
}

type HTTPConfig struct {
	ListenAddr string `yaml:"listen_addr"`
	// AdminToken guards POST /admin/fund as "user:pass". Empty disables the route.
	AdminToken       string        `yaml:"admin_token"`
	EnablePprof      bool          `yaml:"enable_pprof"`
	ReadTimeout      time.Duration `yaml:"read_timeout"`
	WriteTimeout     time.Duration `yaml:"write_timeout"`
	DrainDuration    time.Duration `yaml:"drain_duration"`
	ShutdownDuration time.Duration `yaml:"shutdown_duration"`
}

type StoreConfig struct {
	Kind     string               `yaml:"kind"`
	Postgres store.PostgresConfig `yaml:"postgres"`
}

type CoprocessorConfig struct {
	Mode        string            `yaml:"mode"`
	CID         uint32            `yaml:"cid"`
	Port        uint32            `yaml:"port"`
	Addr        string            `yaml:"addr"`
	Timeout     time.Duration     `yaml:"timeout"`
	Attestation AttestationConfig `yaml:"attestation"`
}

// AttestationConfig controls validation of the remote coprocessor's key attestation.
type AttestationConfig struct {
	PCRsFile string `yaml:"pcrs_file"`
	// Require refuses to start when the attestation does not validate.
	Require bool `yaml:"require"`
}

type SettlementConfig struct {
	// ThirdPartyDetermination lets anyone run DetermineWinner for a bid, not only its bidder.
	ThirdPartyDetermination bool `yaml:"third_party_determination"`
}

// DefaultConfig returns a configuration that runs everything in-process.
func DefaultConfig() *Config {
	return &Config{
		LogLevel: "info",
		HTTP: HTTPConfig{
			ListenAddr:       ":8080",
			ReadTimeout:      15 * time.Second,
			WriteTimeout:     30 * time.Second,
			DrainDuration:    5 * time.Second,
			ShutdownDuration: 10 * time.Second,
		},
		Store: StoreConfig{
			Kind: StoreMemory,
			Postgres: store.PostgresConfig{
				Host:     "localhost",
				Port:     5432,
				User:     "postgres",
				Database: "sealedauction",
				SSLMode:  "disable",
			},
		},
		Coprocessor: CoprocessorConfig{
			Mode:    CoprocessorLocal,
			CID:     16,
			Port:    5000,
			Timeout: 10 * time.Second,
		},
		Settlement: SettlementConfig{ThirdPartyDetermination: true},
	}
}

// LoadConfig reads a YAML file over the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg, nil
}

// Validate checks the configuration for consistency.
func (c *Config) Validate() error {
	if _, err := c.SlogLevel(); err != nil {
		return err
	}
	if c.HTTP.ListenAddr == "" {
		return errors.New("http.listen_addr is required")
	}
	if c.HTTP.AdminToken != "" && !strings.Contains(c.HTTP.AdminToken, ":") {
		return errors.New("http.admin_token must have the form user:pass")
	}

	switch c.Store.Kind {
	case StoreMemory:
	case StorePostgres:
		if c.Store.Postgres.Host == "" || c.Store.Postgres.Database == "" {
			return errors.New("store.postgres requires host and database")
		}
	default:
		return fmt.Errorf("unknown store.kind %q (want %s or %s)", c.Store.Kind, StoreMemory, StorePostgres)
	}

	switch c.Coprocessor.Mode {
	case CoprocessorLocal:
		if c.Coprocessor.Attestation.Require {
			return errors.New("coprocessor.attestation.require needs a vsock or tcp coprocessor")
		}
	case CoprocessorVsock:
		if c.Coprocessor.Port == 0 {
			return errors.New("coprocessor.port is required for vsock")
		}
	case CoprocessorTCP:
		if c.Coprocessor.Addr == "" {
			return errors.New("coprocessor.addr is required for tcp")
		}
	default:
		return fmt.Errorf("unknown coprocessor.mode %q", c.Coprocessor.Mode)
	}

	if c.Coprocessor.Attestation.Require && c.Coprocessor.Attestation.PCRsFile == "" {
		return errors.New("coprocessor.attestation.require needs coprocessor.attestation.pcrs_file")
	}
	return nil
}

// SlogLevel parses LogLevel.
func (c *Config) SlogLevel() (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return level, fmt.Errorf("invalid log_level %q: %w", c.LogLevel, err)
	}
	return level, nil
}
