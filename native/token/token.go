// Package token defines the narrow fungible-asset surface the protocol engines
// depend on, together with a ledger-backed implementation.
package token

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/native/fixed"
)

var (
	ErrInsufficientBalance = errors.New("token: insufficient balance")
	ErrInvalidAmount       = errors.New("token: amount must be positive")
	ErrStateNotConfigured  = errors.New("token: state not configured")
	ErrSupplyCapExceeded   = errors.New("token: supply cap exceeded")
)

// Asset is the transfer surface shared by the collateral and quote assets.
type Asset interface {
	Symbol() string
	BalanceOf(addr common.Address) *uint256.Int
	TotalSupply() *uint256.Int
	Transfer(from, to common.Address, amount *uint256.Int) error
}

// Burnable is implemented by assets whose supply can be destroyed.
type Burnable interface {
	Asset
	Burn(from common.Address, amount *uint256.Int) error
}

type balanceState interface {
	TokenBalance(symbol string, addr common.Address) *uint256.Int
	SetTokenBalance(symbol string, addr common.Address, amount *uint256.Int)
	TokenSupply(symbol string) *uint256.Int
	SetTokenSupply(symbol string, amount *uint256.Int)
}

// Ledger is a balance-table asset whose records live in the shared state arena.
type Ledger struct {
	symbol    string
	state     balanceState
	supplyCap *uint256.Int
}

// NewLedger creates an asset identified by symbol. A nil cap means unbounded.
func NewLedger(symbol string, supplyCap *uint256.Int) *Ledger {
	l := &Ledger{symbol: symbol}
	if supplyCap != nil {
		l.supplyCap = new(uint256.Int).Set(supplyCap)
	}
	return l
}

// SetState wires the ledger to the balance store.
func (l *Ledger) SetState(state balanceState) { l.state = state }

func (l *Ledger) Symbol() string { return l.symbol }

func (l *Ledger) BalanceOf(addr common.Address) *uint256.Int {
	if l == nil || l.state == nil {
		return fixed.Zero()
	}
	return fixed.Clone(l.state.TokenBalance(l.symbol, addr))
}

func (l *Ledger) TotalSupply() *uint256.Int {
	if l == nil || l.state == nil {
		return fixed.Zero()
	}
	return fixed.Clone(l.state.TokenSupply(l.symbol))
}

// Transfer moves amount from one account to another. Zero-value transfers are
// accepted as no-ops.
func (l *Ledger) Transfer(from, to common.Address, amount *uint256.Int) error {
	if l == nil || l.state == nil {
		return ErrStateNotConfigured
	}
	if fixed.IsZero(amount) || from == to {
		return nil
	}
	fromBal := l.state.TokenBalance(l.symbol, from)
	remaining, err := fixed.Sub(fromBal, amount)
	if err != nil {
		return fmt.Errorf("%w: %s has %s, needs %s", ErrInsufficientBalance, from.Hex(), fixed.Clone(fromBal), amount)
	}
	credited, err := fixed.Add(l.state.TokenBalance(l.symbol, to), amount)
	if err != nil {
		return err
	}
	l.state.SetTokenBalance(l.symbol, from, remaining)
	l.state.SetTokenBalance(l.symbol, to, credited)
	return nil
}

// Mint creates new units for the recipient, honouring the supply cap.
func (l *Ledger) Mint(to common.Address, amount *uint256.Int) error {
	if l == nil || l.state == nil {
		return ErrStateNotConfigured
	}
	if fixed.IsZero(amount) {
		return ErrInvalidAmount
	}
	supply, err := fixed.Add(l.state.TokenSupply(l.symbol), amount)
	if err != nil {
		return err
	}
	if l.supplyCap != nil && supply.Gt(l.supplyCap) {
		return ErrSupplyCapExceeded
	}
	balance, err := fixed.Add(l.state.TokenBalance(l.symbol, to), amount)
	if err != nil {
		return err
	}
	l.state.SetTokenSupply(l.symbol, supply)
	l.state.SetTokenBalance(l.symbol, to, balance)
	return nil
}

// Burn destroys amount held by from, reducing the circulating supply.
func (l *Ledger) Burn(from common.Address, amount *uint256.Int) error {
	if l == nil || l.state == nil {
		return ErrStateNotConfigured
	}
	if fixed.IsZero(amount) {
		return nil
	}
	remaining, err := fixed.Sub(l.state.TokenBalance(l.symbol, from), amount)
	if err != nil {
		return ErrInsufficientBalance
	}
	supply, err := fixed.Sub(l.state.TokenSupply(l.symbol), amount)
	if err != nil {
		return err
	}
	l.state.SetTokenBalance(l.symbol, from, remaining)
	l.state.SetTokenSupply(l.symbol, supply)
	return nil
}
