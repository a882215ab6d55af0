package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"tranchepool/pool/collateral"
	"tranchepool/pool/rates"
)

// Config is the on-disk pool definition: the deposit currency, the interest
// rate strategy, the collateral policy and the lifecycle parameters.
type Config struct {
	Currency           string           `toml:"Currency"`
	DataDir            string           `toml:"DataDir"`
	GracePeriodSeconds uint64           `toml:"GracePeriodSeconds"`
	RateModel          RateModelConfig  `toml:"RateModel"`
	Collateral         CollateralConfig `toml:"Collateral"`
	NoteTokens         []string         `toml:"NoteTokens"`
}

// RateModelConfig selects and parameterises the interest rate strategy.
type RateModelConfig struct {
	Kind string `toml:"Kind"`
	// RateBps is the flat APR for the fixed and weighted models.
	RateBps uint64 `toml:"RateBps"`
	// DefaultWeightBps seeds tranches without an explicit weight.
	DefaultWeightBps uint64 `toml:"DefaultWeightBps"`
	// MinRateBps, MaxRateBps and TargetUtilisationBps shape the dynamic curve.
	MinRateBps           uint64 `toml:"MinRateBps"`
	MaxRateBps           uint64 `toml:"MaxRateBps"`
	TargetUtilisationBps uint64 `toml:"TargetUtilisationBps"`
}

// CollateralConfig selects the collateral gate.
type CollateralConfig struct {
	Kind        string   `toml:"Kind"`
	Collections []string `toml:"Collections"`
	// MerkleRoot is the hex-encoded root for the merkle gate.
	MerkleRoot string `toml:"MerkleRoot"`
}

const (
	defaultDataDir = "./pooldata"
	defaultGrace   = 86_400
)

// Load reads and validates the TOML pool definition.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = defaultDataDir
	}
	if c.GracePeriodSeconds == 0 {
		c.GracePeriodSeconds = defaultGrace
	}
	if strings.TrimSpace(c.RateModel.Kind) == "" {
		c.RateModel.Kind = "fixed"
	}
	if strings.TrimSpace(c.Collateral.Kind) == "" {
		c.Collateral.Kind = "collection-set"
	}
}

// Validate checks the configuration without constructing anything.
func (c *Config) Validate() error {
	if !common.IsHexAddress(strings.TrimSpace(c.Currency)) {
		return fmt.Errorf("config: Currency must be a hex address, got %q", c.Currency)
	}
	switch strings.ToLower(strings.TrimSpace(c.RateModel.Kind)) {
	case "fixed", "weighted":
		if c.RateModel.RateBps == 0 {
			return fmt.Errorf("config: RateModel.RateBps required for the %s model", c.RateModel.Kind)
		}
	case "dynamic":
		if c.RateModel.MaxRateBps < c.RateModel.MinRateBps {
			return fmt.Errorf("config: RateModel.MaxRateBps below MinRateBps")
		}
		if c.RateModel.TargetUtilisationBps == 0 || c.RateModel.TargetUtilisationBps > 10_000 {
			return fmt.Errorf("config: RateModel.TargetUtilisationBps must be in (0, 10000]")
		}
	default:
		return fmt.Errorf("config: unknown rate model %q", c.RateModel.Kind)
	}
	switch strings.ToLower(strings.TrimSpace(c.Collateral.Kind)) {
	case "collection":
		if len(c.Collateral.Collections) != 1 {
			return fmt.Errorf("config: collection gate needs exactly one collection")
		}
	case "collection-set":
		if len(c.Collateral.Collections) == 0 {
			return fmt.Errorf("config: collection-set gate needs at least one collection")
		}
	case "merkle":
		root := strings.TrimPrefix(strings.TrimSpace(c.Collateral.MerkleRoot), "0x")
		if len(root) != 64 {
			return fmt.Errorf("config: merkle gate needs a 32-byte MerkleRoot")
		}
	case "allowlist":
	default:
		return fmt.Errorf("config: unknown collateral gate %q", c.Collateral.Kind)
	}
	for _, token := range c.Collateral.Collections {
		if !common.IsHexAddress(strings.TrimSpace(token)) {
			return fmt.Errorf("config: collection %q is not a hex address", token)
		}
	}
	for _, token := range c.NoteTokens {
		if !common.IsHexAddress(strings.TrimSpace(token)) {
			return fmt.Errorf("config: note token %q is not a hex address", token)
		}
	}
	return nil
}

// CurrencyAddress returns the parsed deposit currency.
func (c *Config) CurrencyAddress() common.Address {
	return common.HexToAddress(strings.TrimSpace(c.Currency))
}

// NoteTokenAddresses returns the parsed note token contracts.
func (c *Config) NoteTokenAddresses() []common.Address {
	out := make([]common.Address, 0, len(c.NoteTokens))
	for _, token := range c.NoteTokens {
		out = append(out, common.HexToAddress(strings.TrimSpace(token)))
	}
	return out
}

// BuildModel constructs the configured rate model.
func (c *Config) BuildModel() (rates.Model, error) {
	switch strings.ToLower(strings.TrimSpace(c.RateModel.Kind)) {
	case "fixed":
		return rates.NewFixedRateModel(c.RateModel.RateBps), nil
	case "weighted":
		weight := c.RateModel.DefaultWeightBps
		if weight == 0 {
			weight = 1
		}
		return rates.NewWeightedRateModel(c.RateModel.RateBps, weight), nil
	case "dynamic":
		return rates.NewDynamicRateModel(c.RateModel.MinRateBps, c.RateModel.MaxRateBps, c.RateModel.TargetUtilisationBps), nil
	}
	return nil, fmt.Errorf("config: unknown rate model %q", c.RateModel.Kind)
}

// BuildGate constructs the configured collateral gate.
func (c *Config) BuildGate() (collateral.Gate, error) {
	collections := make([]common.Address, 0, len(c.Collateral.Collections))
	for _, raw := range c.Collateral.Collections {
		collections = append(collections, common.HexToAddress(strings.TrimSpace(raw)))
	}
	switch strings.ToLower(strings.TrimSpace(c.Collateral.Kind)) {
	case "collection":
		return collateral.NewCollectionGate(collections[0]), nil
	case "collection-set":
		return collateral.NewCollectionSetGate(collections), nil
	case "allowlist":
		return collateral.NewAllowlistGate(), nil
	case "merkle":
		root := common.HexToHash(strings.TrimSpace(c.Collateral.MerkleRoot))
		return collateral.NewMerkleGate(root), nil
	}
	return nil, fmt.Errorf("config: unknown collateral gate %q", c.Collateral.Kind)
}
