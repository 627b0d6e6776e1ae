package state

import (
	"bytes"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"floorlend/native/amm"
	"floorlend/native/fixed"
	"floorlend/native/lending"
	"floorlend/storage"
)

// StateVersion identifies the on-disk record layout. Increment it whenever a
// record encoding changes.
const StateVersion uint64 = 1

// ErrStateVersionMismatch indicates the stored schema version does not match
// the version supported by the current binary.
var ErrStateVersionMismatch = errors.New("state: schema version mismatch")

type balanceID struct {
	symbol string
	addr   common.Address
}

// Arena is the single owner of every protocol record. The pool, vault, ledger
// and token engines read and write through it and never hold references into
// each other's records. Mutations are journaled so a failed operation can be
// rolled back with RevertToSnapshot.
type Arena struct {
	pool        *amm.PoolState
	vault       *lending.VaultState
	positions   map[common.Address]*lending.Position
	lpShares    map[common.Address]*uint256.Int
	vaultShares map[common.Address]*uint256.Int
	balances    map[balanceID]*uint256.Int
	supplies    map[string]*uint256.Int

	journal []func()
	// dirty maps each changed key to a function encoding its current
	// value. A nil encoding deletes the key.
	dirty map[string]func() ([]byte, error)
}

// NewArena returns an empty arena.
func NewArena() *Arena {
	return &Arena{
		positions:   make(map[common.Address]*lending.Position),
		lpShares:    make(map[common.Address]*uint256.Int),
		vaultShares: make(map[common.Address]*uint256.Int),
		balances:    make(map[balanceID]*uint256.Int),
		supplies:    make(map[string]*uint256.Int),
		dirty:       make(map[string]func() ([]byte, error)),
	}
}

// Snapshot returns an identifier that RevertToSnapshot can roll back to.
func (a *Arena) Snapshot() int { return len(a.journal) }

// RevertToSnapshot undoes every mutation recorded after the snapshot was taken.
func (a *Arena) RevertToSnapshot(id int) {
	if id < 0 || id > len(a.journal) {
		return
	}
	for i := len(a.journal) - 1; i >= id; i-- {
		a.journal[i]()
	}
	a.journal = a.journal[:id]
}

// Commit discards the journal. Dirty keys are retained until Flush.
func (a *Arena) Commit() { a.journal = a.journal[:0] }

// Dirty reports how many keys changed since the last flush.
func (a *Arena) Dirty() int { return len(a.dirty) }

func setEntry[K comparable, V any](a *Arena, m map[K]V, k K, v V, keep bool, key []byte, encode func(V) ([]byte, error)) {
	prev, had := m[k]
	a.journal = append(a.journal, func() {
		if had {
			m[k] = prev
		} else {
			delete(m, k)
		}
	})
	if keep {
		m[k] = v
	} else {
		delete(m, k)
	}
	a.dirty[string(key)] = func() ([]byte, error) {
		current, ok := m[k]
		if !ok {
			return nil, nil
		}
		return encode(current)
	}
}

// GetPool returns a copy of the pool record, or nil before genesis.
func (a *Arena) GetPool() (*amm.PoolState, error) {
	return a.pool.Clone(), nil
}

func (a *Arena) PutPool(pool *amm.PoolState) error {
	if pool == nil {
		return fmt.Errorf("state: nil pool record")
	}
	prev := a.pool
	a.journal = append(a.journal, func() { a.pool = prev })
	a.pool = pool.Clone()
	a.dirty[string(poolKeyBytes)] = func() ([]byte, error) {
		if a.pool == nil {
			return nil, nil
		}
		return encodePool(a.pool)
	}
	return nil
}

func (a *Arena) GetShares(addr common.Address) (*uint256.Int, error) {
	return fixed.Clone(a.lpShares[addr]), nil
}

func (a *Arena) PutShares(addr common.Address, amount *uint256.Int) error {
	setEntry(a, a.lpShares, addr, fixed.Clone(amount), !fixed.IsZero(amount), lpShareKey(addr), encodeAmount)
	return nil
}

// GetVault returns a copy of the vault aggregates, or nil before the first
// write.
func (a *Arena) GetVault() (*lending.VaultState, error) {
	return a.vault.Clone(), nil
}

func (a *Arena) PutVault(vault *lending.VaultState) error {
	if vault == nil {
		return fmt.Errorf("state: nil vault record")
	}
	prev := a.vault
	a.journal = append(a.journal, func() { a.vault = prev })
	a.vault = vault.Clone()
	a.dirty[string(vaultKeyBytes)] = func() ([]byte, error) {
		if a.vault == nil {
			return nil, nil
		}
		return encodeVault(a.vault)
	}
	return nil
}

func (a *Arena) GetVaultShares(addr common.Address) (*uint256.Int, error) {
	return fixed.Clone(a.vaultShares[addr]), nil
}

func (a *Arena) PutVaultShares(addr common.Address, shares *uint256.Int) error {
	setEntry(a, a.vaultShares, addr, fixed.Clone(shares), !fixed.IsZero(shares), vaultShareKey(addr), encodeAmount)
	return nil
}

// GetPosition returns a copy of the account's position, or nil if none exists.
func (a *Arena) GetPosition(addr common.Address) (*lending.Position, error) {
	return a.positions[addr].Clone(), nil
}

// PutPosition stores the position. Empty positions are removed.
func (a *Arena) PutPosition(addr common.Address, pos *lending.Position) error {
	setEntry(a, a.positions, addr, pos.Clone(), !pos.IsEmpty(), positionKey(addr), encodePosition)
	return nil
}

func (a *Arena) TokenBalance(symbol string, addr common.Address) *uint256.Int {
	return fixed.Clone(a.balances[balanceID{normalizeSymbol(symbol), addr}])
}

func (a *Arena) SetTokenBalance(symbol string, addr common.Address, amount *uint256.Int) {
	id := balanceID{normalizeSymbol(symbol), addr}
	setEntry(a, a.balances, id, fixed.Clone(amount), !fixed.IsZero(amount), balanceKey(symbol, addr), encodeAmount)
}

func (a *Arena) TokenSupply(symbol string) *uint256.Int {
	return fixed.Clone(a.supplies[normalizeSymbol(symbol)])
}

func (a *Arena) SetTokenSupply(symbol string, amount *uint256.Int) {
	setEntry(a, a.supplies, normalizeSymbol(symbol), fixed.Clone(amount), !fixed.IsZero(amount), tokenSupplyKey(symbol), encodeAmount)
}

// Positions returns the accounts holding a position, sorted by address.
func (a *Arena) Positions() []common.Address {
	out := make([]common.Address, 0, len(a.positions))
	for addr := range a.positions {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// entries encodes every live record keyed by its storage key.
func (a *Arena) entries() (map[string][]byte, error) {
	out := make(map[string][]byte)
	if a.pool != nil {
		enc, err := encodePool(a.pool)
		if err != nil {
			return nil, err
		}
		out[string(poolKeyBytes)] = enc
	}
	if a.vault != nil {
		enc, err := encodeVault(a.vault)
		if err != nil {
			return nil, err
		}
		out[string(vaultKeyBytes)] = enc
	}
	for addr, pos := range a.positions {
		enc, err := encodePosition(pos)
		if err != nil {
			return nil, err
		}
		out[string(positionKey(addr))] = enc
	}
	amounts := func(key []byte, v *uint256.Int) error {
		enc, err := encodeAmount(v)
		if err != nil {
			return err
		}
		out[string(key)] = enc
		return nil
	}
	for addr, v := range a.lpShares {
		if err := amounts(lpShareKey(addr), v); err != nil {
			return nil, err
		}
	}
	for addr, v := range a.vaultShares {
		if err := amounts(vaultShareKey(addr), v); err != nil {
			return nil, err
		}
	}
	for id, v := range a.balances {
		if err := amounts(balanceKey(id.symbol, id.addr), v); err != nil {
			return nil, err
		}
	}
	for symbol, v := range a.supplies {
		if err := amounts(tokenSupplyKey(symbol), v); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Root returns a keccak commitment over every live record in key order.
func (a *Arena) Root() (common.Hash, error) {
	entries, err := a.entries()
	if err != nil {
		return common.Hash{}, err
	}
	keys := make([]string, 0, len(entries))
	for k := range entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([][]byte, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, []byte(k), entries[k])
	}
	enc, err := rlp.EncodeToBytes(pairs)
	if err != nil {
		return common.Hash{}, err
	}
	return common.BytesToHash(ethcrypto.Keccak256(enc)), nil
}

// Flush writes every dirty key to db in a single batch. Only dirty records
// are encoded.
func (a *Arena) Flush(db storage.Database) error {
	if db == nil || len(a.dirty) == 0 {
		return nil
	}
	batch := db.NewBatch()
	for key, encode := range a.dirty {
		value, err := encode()
		if err != nil {
			return fmt.Errorf("state: encode %q: %w", key, err)
		}
		if value == nil {
			batch.Delete([]byte(key))
		} else {
			batch.Put([]byte(key), value)
		}
	}
	version, err := rlp.EncodeToBytes(StateVersion)
	if err != nil {
		return err
	}
	batch.Put(stateVersionKey, version)
	if err := batch.Write(); err != nil {
		return fmt.Errorf("state: flush: %w", err)
	}
	a.dirty = make(map[string]func() ([]byte, error))
	return nil
}

// Load rebuilds an arena from db. An empty database yields an empty arena.
func Load(db storage.Database) (*Arena, error) {
	a := NewArena()
	if db == nil {
		return a, nil
	}
	raw, err := db.Get(stateVersionKey)
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return a, nil
	case err != nil:
		return nil, err
	}
	var version uint64
	if err := rlp.DecodeBytes(raw, &version); err != nil {
		return nil, fmt.Errorf("state: decode version: %w", err)
	}
	if version != StateVersion {
		return nil, fmt.Errorf("%w: stored %d, expected %d", ErrStateVersionMismatch, version, StateVersion)
	}

	if data, err := db.Get(poolKeyBytes); err == nil {
		if a.pool, err = decodePool(data); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}
	if data, err := db.Get(vaultKeyBytes); err == nil {
		if a.vault, err = decodeVault(data); err != nil {
			return nil, err
		}
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, err
	}

	err = db.Iterate(positionPrefix, func(key, value []byte) error {
		pos, err := decodePosition(value)
		if err != nil {
			return err
		}
		a.positions[common.BytesToAddress(key[len(positionPrefix):])] = pos
		return nil
	})
	if err != nil {
		return nil, err
	}
	loadAmounts := func(prefix []byte, m map[common.Address]*uint256.Int) error {
		return db.Iterate(prefix, func(key, value []byte) error {
			v, err := decodeAmount(value)
			if err != nil {
				return err
			}
			m[common.BytesToAddress(key[len(prefix):])] = v
			return nil
		})
	}
	if err := loadAmounts(lpSharePrefix, a.lpShares); err != nil {
		return nil, err
	}
	if err := loadAmounts(vaultSharePrefix, a.vaultShares); err != nil {
		return nil, err
	}
	err = db.Iterate(balancePrefix, func(key, value []byte) error {
		symbol, addr, ok := splitBalanceKey(key)
		if !ok {
			return fmt.Errorf("state: malformed balance key %x", key)
		}
		v, err := decodeAmount(value)
		if err != nil {
			return err
		}
		a.balances[balanceID{symbol, addr}] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	err = db.Iterate(tokenSupplyPrefix, func(key, value []byte) error {
		v, err := decodeAmount(value)
		if err != nil {
			return err
		}
		a.supplies[string(key[len(tokenSupplyPrefix):])] = v
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}
