package core

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/holiman/uint256"

	"floorlend/native/amm"
	nativecommon "floorlend/native/common"
	"floorlend/native/lending"
)

// Module identities. Each is derived from a fixed name so every node agrees
// on where the pool reserves, vault cash and ledger collateral live.
var (
	PoolAddress      = ModuleAddress("pool")
	VaultAddress     = ModuleAddress("vault")
	LedgerAddress    = ModuleAddress("ledger")
	FeeHolderAddress = ModuleAddress("pool/fees")
	TreasuryAddress  = ModuleAddress("treasury")
)

var (
	errInvalidParams = errors.New("protocol: invalid params")

	// ErrReservedAccount is returned when a module identity is named as the
	// caller of an operation.
	ErrReservedAccount = errors.New("protocol: reserved account")
)

var reservedAccounts = map[common.Address]struct{}{
	PoolAddress:      {},
	VaultAddress:     {},
	LedgerAddress:    {},
	FeeHolderAddress: {},
	TreasuryAddress:  {},
}

// IsReservedAccount reports whether addr is one of the module identities.
// Only the modules themselves move balances held there.
func IsReservedAccount(addr common.Address) bool {
	_, ok := reservedAccounts[addr]
	return ok
}

// ModuleAddress returns the last 20 bytes of keccak256("floorlend/" + name).
func ModuleAddress(name string) common.Address {
	return common.BytesToAddress(ethcrypto.Keccak256([]byte("floorlend/" + name))[12:])
}

// Allocation credits a genesis balance.
type Allocation struct {
	Address common.Address
	Symbol  string
	Amount  *uint256.Int
}

// Params describes the genesis and runtime configuration of a protocol
// instance.
type Params struct {
	FloorSymbol    string
	QuoteSymbol    string
	FloorSupplyCap *uint256.Int
	Pool           amm.Genesis
	Treasury       common.Address
	Allocations    []Allocation
	Interest       *lending.InterestModel
	Ledger         lending.Config
	Pauses         map[string]bool
}

// DefaultParams returns a small pool priced at 0.01 quote per collateral unit
// with the default interest model and ledger config.
func DefaultParams() Params {
	unit := uint256.NewInt(1_000_000_000_000_000_000)
	return Params{
		FloorSymbol: "FLR",
		QuoteSymbol: "QUOTE",
		Pool: amm.Genesis{
			ReserveFloor:   new(uint256.Int).Mul(uint256.NewInt(1_000_000), unit),
			ReserveQuote:   new(uint256.Int).Mul(uint256.NewInt(10_000), unit),
			FeeStartBps:    300,
			FeeEndBps:      30,
			FeeDecayTarget: new(uint256.Int).Mul(uint256.NewInt(100_000), unit),
		},
		Treasury: TreasuryAddress,
		Interest: lending.DefaultInterestModel(),
		Ledger:   lending.DefaultConfig(),
	}
}

// Validate checks symbols, the pool genesis, the interest model and the
// ledger config.
func (p Params) Validate() error {
	floorSym := strings.ToUpper(strings.TrimSpace(p.FloorSymbol))
	quoteSym := strings.ToUpper(strings.TrimSpace(p.QuoteSymbol))
	if floorSym == "" || quoteSym == "" {
		return fmt.Errorf("%w: asset symbols required", errInvalidParams)
	}
	if floorSym == quoteSym {
		return fmt.Errorf("%w: collateral and quote symbols must differ", errInvalidParams)
	}
	if strings.Contains(floorSym, "/") || strings.Contains(quoteSym, "/") {
		return fmt.Errorf("%w: symbols may not contain '/'", errInvalidParams)
	}
	if err := p.Pool.Validate(); err != nil {
		return err
	}
	if p.Interest != nil {
		if err := p.Interest.Validate(); err != nil {
			return err
		}
	}
	if err := p.Ledger.Validate(); err != nil {
		return err
	}
	for i, alloc := range p.Allocations {
		sym := strings.ToUpper(strings.TrimSpace(alloc.Symbol))
		if sym != floorSym && sym != quoteSym {
			return fmt.Errorf("%w: allocation %d uses unknown symbol %q", errInvalidParams, i, alloc.Symbol)
		}
		if alloc.Amount == nil || alloc.Amount.IsZero() {
			return fmt.Errorf("%w: allocation %d has no amount", errInvalidParams, i)
		}
		if alloc.Address == (common.Address{}) {
			return fmt.Errorf("%w: allocation %d has no address", errInvalidParams, i)
		}
	}
	for module := range p.Pauses {
		switch module {
		case nativecommon.ModulePool, nativecommon.ModuleLedger, nativecommon.ModuleVault:
		default:
			return fmt.Errorf("%w: unknown pause module %q", errInvalidParams, module)
		}
	}
	return nil
}
