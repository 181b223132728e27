package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/ethereum/go-ethereum/common"

	"ensolend/native/bridge"
)

const (
	// DefaultMinHealthRatioBps keeps matched positions at or above 1.2x
	// collateralization.
	DefaultMinHealthRatioBps = 12_000
	// DevMinHealthRatioBps is the relaxed floor for development networks.
	DevMinHealthRatioBps = 11_000
)

// Config is the node-operator configuration for the lending module and its
// bridge endpoint.
type Config struct {
	OperatorAddress     string `toml:"OperatorAddress"`
	HotWalletAddress    string `toml:"HotWalletAddress"`
	MinHealthRatioBps   uint64 `toml:"MinHealthRatioBps"`
	PostedThresholdSecs uint32 `toml:"PostedThresholdSeconds"`
	DevMode             bool   `toml:"DevMode"`

	Bridge Bridge         `toml:"bridge"`
	Chains []ForeignChain `toml:"chains"`
}

// Bridge configures the outbound message client.
type Bridge struct {
	EmitterAddress      string `toml:"EmitterAddress"`
	FeeCollectorAddress string `toml:"FeeCollectorAddress"`
	Finality            uint8  `toml:"Finality"`
}

// ForeignChain registers a trusted emitter for a collateral chain.
type ForeignChain struct {
	ChainID        uint16 `toml:"ChainID"`
	ChainAddress   string `toml:"ChainAddress"`
	EmitterAddress string `toml:"EmitterAddress"`
}

// Load reads the configuration at path and applies defaults. A missing file
// is an error; operators must provision the operator and hot wallet
// addresses explicitly.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.MinHealthRatioBps == 0 {
		if c.DevMode {
			c.MinHealthRatioBps = DevMinHealthRatioBps
		} else {
			c.MinHealthRatioBps = DefaultMinHealthRatioBps
		}
	}
	if c.PostedThresholdSecs == 0 {
		c.PostedThresholdSecs = bridge.PostedTimestampThreshold
	}
}

// Validate checks the configuration for operator mistakes before the node
// wires any module.
func (c *Config) Validate() error {
	if _, err := parseAddress("OperatorAddress", c.OperatorAddress); err != nil {
		return err
	}
	if _, err := parseAddress("HotWalletAddress", c.HotWalletAddress); err != nil {
		return err
	}
	if c.MinHealthRatioBps < 10_000 {
		return fmt.Errorf("config: MinHealthRatioBps %d below 10000", c.MinHealthRatioBps)
	}
	if strings.TrimSpace(c.Bridge.EmitterAddress) != "" {
		if _, err := parseAddress("bridge.EmitterAddress", c.Bridge.EmitterAddress); err != nil {
			return err
		}
		if _, err := parseAddress("bridge.FeeCollectorAddress", c.Bridge.FeeCollectorAddress); err != nil {
			return err
		}
	}
	seen := make(map[uint16]struct{}, len(c.Chains))
	for i := range c.Chains {
		chain := &bridge.ForeignChain{
			ChainID:        c.Chains[i].ChainID,
			ChainAddress:   c.Chains[i].ChainAddress,
			EmitterAddress: c.Chains[i].EmitterAddress,
		}
		if _, err := bridge.SanitizeForeignChain(chain); err != nil {
			return fmt.Errorf("config: chains[%d]: %w", i, err)
		}
		if _, dup := seen[chain.ChainID]; dup {
			return fmt.Errorf("config: chains[%d]: duplicate chain id %d", i, chain.ChainID)
		}
		seen[chain.ChainID] = struct{}{}
	}
	return nil
}

// Operator returns the parsed operator identity.
func (c *Config) Operator() common.Address {
	addr, _ := parseAddress("OperatorAddress", c.OperatorAddress)
	return addr
}

// HotWallet returns the parsed liquidation hot wallet.
func (c *Config) HotWallet() common.Address {
	addr, _ := parseAddress("HotWalletAddress", c.HotWalletAddress)
	return addr
}

// ForeignChains returns the sanitized chain registrations.
func (c *Config) ForeignChains() ([]*bridge.ForeignChain, error) {
	out := make([]*bridge.ForeignChain, 0, len(c.Chains))
	for i := range c.Chains {
		chain, err := bridge.SanitizeForeignChain(&bridge.ForeignChain{
			ChainID:        c.Chains[i].ChainID,
			ChainAddress:   c.Chains[i].ChainAddress,
			EmitterAddress: c.Chains[i].EmitterAddress,
		})
		if err != nil {
			return nil, err
		}
		out = append(out, chain)
	}
	return out, nil
}

func parseAddress(field, value string) (common.Address, error) {
	trimmed := strings.TrimSpace(value)
	if !common.IsHexAddress(trimmed) {
		return common.Address{}, fmt.Errorf("config: %s %q is not a hex address", field, value)
	}
	return common.HexToAddress(trimmed), nil
}
