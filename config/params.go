package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/holiman/uint256"

	"floorlend/core"
	"floorlend/crypto"
	"floorlend/native/amm"
	nativecommon "floorlend/native/common"
	"floorlend/native/fixed"
	"floorlend/native/lending"
)

// Params converts the configuration into protocol parameters, parsing
// amounts, rates, addresses and the grace period.
func (c *Config) Params() (core.Params, error) {
	params := core.DefaultParams()
	params.FloorSymbol = c.Assets.FloorSymbol
	params.QuoteSymbol = c.Assets.QuoteSymbol

	if strings.TrimSpace(c.Assets.FloorSupplyCap) != "" {
		supplyCap, err := fixed.ParseUnits(c.Assets.FloorSupplyCap)
		if err != nil {
			return params, fmt.Errorf("invalid assets.floor_supply_cap: %w", err)
		}
		params.FloorSupplyCap = supplyCap
	}

	params.Allocations = make([]core.Allocation, 0, len(c.Assets.Allocations))
	for i, alloc := range c.Assets.Allocations {
		addr, err := crypto.ParseAddress(alloc.Address)
		if err != nil {
			return params, fmt.Errorf("invalid assets.allocations[%d].address: %w", i, err)
		}
		amount, err := fixed.ParseUnits(alloc.Amount)
		if err != nil {
			return params, fmt.Errorf("invalid assets.allocations[%d].amount: %w", i, err)
		}
		params.Allocations = append(params.Allocations, core.Allocation{Address: addr, Symbol: alloc.Symbol, Amount: amount})
	}

	pool, err := c.poolGenesis()
	if err != nil {
		return params, err
	}
	params.Pool = pool
	if strings.TrimSpace(c.Pool.Treasury) != "" {
		treasury, err := crypto.ParseAddress(c.Pool.Treasury)
		if err != nil {
			return params, fmt.Errorf("invalid pool.treasury: %w", err)
		}
		params.Treasury = treasury
	}

	model, err := c.interestModel()
	if err != nil {
		return params, err
	}
	params.Interest = model

	grace, err := time.ParseDuration(strings.TrimSpace(c.Ledger.GracePeriod))
	if err != nil {
		return params, fmt.Errorf("invalid ledger.grace_period: %w", err)
	}
	params.Ledger = lending.Config{GracePeriod: grace, RecoveryBountyBps: c.Ledger.RecoveryBountyBps}

	params.Pauses = map[string]bool{
		nativecommon.ModulePool:   c.Pauses.Pool,
		nativecommon.ModuleLedger: c.Pauses.Ledger,
		nativecommon.ModuleVault:  c.Pauses.Vault,
	}
	return params, params.Validate()
}

func (c *Config) poolGenesis() (amm.Genesis, error) {
	var g amm.Genesis
	fields := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"pool.reserve_floor", c.Pool.ReserveFloor, &g.ReserveFloor},
		{"pool.reserve_quote", c.Pool.ReserveQuote, &g.ReserveQuote},
		{"pool.fee_decay_target", c.Pool.FeeDecayTarget, &g.FeeDecayTarget},
	}
	for _, f := range fields {
		v, err := fixed.ParseUnits(f.raw)
		if err != nil {
			return g, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = v
	}
	g.FeeStartBps = c.Pool.FeeStartBps
	g.FeeEndBps = c.Pool.FeeEndBps
	return g, nil
}

func (c *Config) interestModel() (*lending.InterestModel, error) {
	model := &lending.InterestModel{}
	fields := []struct {
		name string
		raw  string
		dst  **uint256.Int
	}{
		{"vault.base_rate", c.Vault.BaseRate, &model.BaseRate},
		{"vault.slope", c.Vault.Slope, &model.Slope},
		{"vault.kink", c.Vault.Kink, &model.Kink},
		{"vault.multiplier", c.Vault.Multiplier, &model.Multiplier},
	}
	for _, f := range fields {
		v, err := fixed.ParseUnits(f.raw)
		if err != nil {
			return nil, fmt.Errorf("invalid %s: %w", f.name, err)
		}
		*f.dst = v
	}
	return model, nil
}
