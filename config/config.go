package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"nftescrow/crypto"
)

const (
	DefaultListenAddress      = ":8547"
	DefaultDataDir            = "./escrow-data"
	DefaultFeePercent         = 2
	DefaultRateLimitPerMinute = 120
	DefaultRateLimitBurst     = 20
)

type Config struct {
	ListenAddress      string `toml:"ListenAddress"`
	DataDir            string `toml:"DataDir"`
	Admin              string `toml:"Admin"`
	LedgerAddress      string `toml:"LedgerAddress"`
	FeePercent         uint8  `toml:"FeePercent"`
	JournalPath        string `toml:"JournalPath"`
	GenesisFile        string `toml:"GenesisFile"`
	LogFile            string `toml:"LogFile"`
	Environment        string `toml:"Environment"`
	JWTSecret          string `toml:"JWTSecret"`
	RateLimitPerMinute int    `toml:"RateLimitPerMinute"`
	RateLimitBurst     int    `toml:"RateLimitBurst"`

	// OTLP export is off unless one of the toggles is set.
	TelemetryEndpoint string `toml:"TelemetryEndpoint"`
	TelemetryInsecure bool   `toml:"TelemetryInsecure"`
	TelemetryHeaders  string `toml:"TelemetryHeaders"`
	TelemetryTraces   bool   `toml:"TelemetryTraces"`
	TelemetryMetrics  bool   `toml:"TelemetryMetrics"`
}

// Load loads the configuration from the given path. A default file is written
// when none exists.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("config file %s has unknown field %s", path, undecoded[0].String())
	}
	if !meta.IsDefined("FeePercent") {
		cfg.FeePercent = DefaultFeePercent
	}
	cfg.normalize()
	return cfg, nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = DefaultListenAddress
	}
	cfg.DataDir = strings.TrimSpace(cfg.DataDir)
	if cfg.DataDir == "" {
		cfg.DataDir = DefaultDataDir
	}
	if strings.TrimSpace(cfg.JournalPath) == "" {
		cfg.JournalPath = filepath.Join(cfg.DataDir, "journal.db")
	}
	if strings.TrimSpace(cfg.Environment) == "" {
		cfg.Environment = "dev"
	}
	if cfg.RateLimitPerMinute == 0 {
		cfg.RateLimitPerMinute = DefaultRateLimitPerMinute
	}
	if cfg.RateLimitBurst == 0 {
		cfg.RateLimitBurst = DefaultRateLimitBurst
	}
}

// Validate checks the values the daemon cannot start without.
func (cfg *Config) Validate() error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	if strings.TrimSpace(cfg.Admin) == "" {
		return fmt.Errorf("Admin must be set")
	}
	if _, err := crypto.ParseAddress(cfg.Admin); err != nil {
		return fmt.Errorf("invalid Admin: %w", err)
	}
	if strings.TrimSpace(cfg.LedgerAddress) != "" {
		if _, err := crypto.ParseAddress(cfg.LedgerAddress); err != nil {
			return fmt.Errorf("invalid LedgerAddress: %w", err)
		}
	}
	if cfg.FeePercent > 100 {
		return fmt.Errorf("FeePercent must be between 0 and 100")
	}
	if len(cfg.JWTSecret) < 16 {
		return fmt.Errorf("JWTSecret must be at least 16 characters")
	}
	if cfg.RateLimitPerMinute < 0 || cfg.RateLimitBurst < 0 {
		return fmt.Errorf("rate limits must be non-negative")
	}
	return nil
}

// AdminAddress returns the parsed administrator identity.
func (cfg *Config) AdminAddress() ([20]byte, error) {
	return crypto.ParseAddress(cfg.Admin)
}

// LedgerAddressBytes returns the configured custody identity, or a fixed
// address derived from the service name when none is configured.
func (cfg *Config) LedgerAddressBytes() ([20]byte, error) {
	if strings.TrimSpace(cfg.LedgerAddress) == "" {
		return DefaultLedgerAddress(), nil
	}
	return crypto.ParseAddress(cfg.LedgerAddress)
}

// DefaultLedgerAddress is the last twenty bytes of keccak256("nftescrow/ledger").
func DefaultLedgerAddress() [20]byte {
	var addr [20]byte
	digest := ethcrypto.Keccak256([]byte("nftescrow/ledger"))
	copy(addr[:], digest[12:])
	return addr
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress:      DefaultListenAddress,
		DataDir:            DefaultDataDir,
		FeePercent:         DefaultFeePercent,
		Environment:        "dev",
		RateLimitPerMinute: DefaultRateLimitPerMinute,
		RateLimitBurst:     DefaultRateLimitBurst,
	}
	cfg.normalize()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}
