package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"nftescrow/crypto"
)

// Genesis seeds the devnet vault and asset registries. It is the only way
// balances or assets come into existence.
type Genesis struct {
	Balances   []GenesisBalance  `yaml:"balances"`
	Registries []GenesisRegistry `yaml:"registries"`
	// Rejecting lists accounts whose receive hooks refuse every payment and
	// asset, for exercising failed settlement paths.
	Rejecting []string `yaml:"rejecting"`
}

type GenesisBalance struct {
	Address string `yaml:"address"`
	Amount  string `yaml:"amount"`
}

type GenesisRegistry struct {
	Name    string         `yaml:"name"`
	Address string         `yaml:"address"`
	Assets  []GenesisAsset `yaml:"assets"`
}

type GenesisAsset struct {
	ID    string `yaml:"id"`
	Owner string `yaml:"owner"`
}

// LoadGenesis reads and validates a YAML genesis file.
func LoadGenesis(path string) (*Genesis, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis: %w", err)
	}
	var g Genesis
	if err := yaml.Unmarshal(data, &g); err != nil {
		return nil, fmt.Errorf("decode genesis: %w", err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks every address and amount in the seed.
func (g *Genesis) Validate() error {
	for i, bal := range g.Balances {
		if _, err := crypto.ParseAddress(bal.Address); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
		if _, err := ParseAmount(bal.Amount); err != nil {
			return fmt.Errorf("balances[%d]: %w", i, err)
		}
	}
	for i, reg := range g.Registries {
		if _, err := crypto.ParseAddress(reg.Address); err != nil {
			return fmt.Errorf("registries[%d]: %w", i, err)
		}
		seen := make(map[string]struct{}, len(reg.Assets))
		for j, asset := range reg.Assets {
			id, err := ParseAmount(asset.ID)
			if err != nil {
				return fmt.Errorf("registries[%d].assets[%d]: %w", i, j, err)
			}
			if _, dup := seen[id.String()]; dup {
				return fmt.Errorf("registries[%d].assets[%d]: duplicate asset %s", i, j, id)
			}
			seen[id.String()] = struct{}{}
			if _, err := crypto.ParseAddress(asset.Owner); err != nil {
				return fmt.Errorf("registries[%d].assets[%d]: %w", i, j, err)
			}
		}
	}
	for i, addr := range g.Rejecting {
		if _, err := crypto.ParseAddress(addr); err != nil {
			return fmt.Errorf("rejecting[%d]: %w", i, err)
		}
	}
	return nil
}

// ParseAmount parses a non-negative decimal integer.
func ParseAmount(value string) (*big.Int, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return nil, fmt.Errorf("amount required")
	}
	amount, ok := new(big.Int).SetString(trimmed, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if amount.Sign() < 0 {
		return nil, fmt.Errorf("amount must not be negative")
	}
	return amount, nil
}
