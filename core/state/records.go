package state

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/rlp"
	"github.com/holiman/uint256"

	"floorlend/native/amm"
	"floorlend/native/lending"
)

type poolRecord struct {
	ReserveFloor   *big.Int
	ReserveQuote   *big.Int
	FeeStartBps    uint64
	FeeEndBps      uint64
	FeeDecayTarget *big.Int
	InitialSupply  *big.Int
	KLast          *big.Int
	TotalShares    *big.Int
}

type vaultRecord struct {
	TotalAssets  *big.Int
	TotalBorrows *big.Int
	BorrowIndex  *big.Int
	LastAccrual  uint64
	TotalShares  *big.Int
}

type positionRecord struct {
	Collateral    *big.Int
	DebtPrincipal *big.Int
	DebtIndex     *big.Int
	Delinquent    bool
	MarkedAt      uint64
}

func toBig(v *uint256.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return v.ToBig()
}

func fromBig(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	out, overflow := uint256.FromBig(v)
	if overflow {
		return nil, fmt.Errorf("state: stored value %s exceeds 256 bits", v)
	}
	return out, nil
}

func encodePool(p *amm.PoolState) ([]byte, error) {
	return rlp.EncodeToBytes(&poolRecord{
		ReserveFloor:   toBig(p.ReserveFloor),
		ReserveQuote:   toBig(p.ReserveQuote),
		FeeStartBps:    p.FeeStartBps,
		FeeEndBps:      p.FeeEndBps,
		FeeDecayTarget: toBig(p.FeeDecayTarget),
		InitialSupply:  toBig(p.InitialSupply),
		KLast:          toBig(p.KLast),
		TotalShares:    toBig(p.TotalShares),
	})
}

func decodePool(data []byte) (*amm.PoolState, error) {
	var rec poolRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode pool: %w", err)
	}
	out := &amm.PoolState{FeeStartBps: rec.FeeStartBps, FeeEndBps: rec.FeeEndBps}
	fields := []struct {
		dst **uint256.Int
		src *big.Int
	}{
		{&out.ReserveFloor, rec.ReserveFloor},
		{&out.ReserveQuote, rec.ReserveQuote},
		{&out.FeeDecayTarget, rec.FeeDecayTarget},
		{&out.InitialSupply, rec.InitialSupply},
		{&out.KLast, rec.KLast},
		{&out.TotalShares, rec.TotalShares},
	}
	for _, f := range fields {
		v, err := fromBig(f.src)
		if err != nil {
			return nil, err
		}
		*f.dst = v
	}
	return out, nil
}

func encodeVault(v *lending.VaultState) ([]byte, error) {
	return rlp.EncodeToBytes(&vaultRecord{
		TotalAssets:  toBig(v.TotalAssets),
		TotalBorrows: toBig(v.TotalBorrows),
		BorrowIndex:  toBig(v.BorrowIndex),
		LastAccrual:  v.LastAccrual,
		TotalShares:  toBig(v.TotalShares),
	})
}

func decodeVault(data []byte) (*lending.VaultState, error) {
	var rec vaultRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode vault: %w", err)
	}
	out := &lending.VaultState{LastAccrual: rec.LastAccrual}
	var err error
	if out.TotalAssets, err = fromBig(rec.TotalAssets); err != nil {
		return nil, err
	}
	if out.TotalBorrows, err = fromBig(rec.TotalBorrows); err != nil {
		return nil, err
	}
	if out.BorrowIndex, err = fromBig(rec.BorrowIndex); err != nil {
		return nil, err
	}
	if out.TotalShares, err = fromBig(rec.TotalShares); err != nil {
		return nil, err
	}
	return out, nil
}

func encodePosition(p *lending.Position) ([]byte, error) {
	return rlp.EncodeToBytes(&positionRecord{
		Collateral:    toBig(p.Collateral),
		DebtPrincipal: toBig(p.DebtPrincipal),
		DebtIndex:     toBig(p.DebtIndex),
		Delinquent:    p.Delinquent,
		MarkedAt:      p.MarkedAt,
	})
}

func decodePosition(data []byte) (*lending.Position, error) {
	var rec positionRecord
	if err := rlp.DecodeBytes(data, &rec); err != nil {
		return nil, fmt.Errorf("state: decode position: %w", err)
	}
	out := &lending.Position{Delinquent: rec.Delinquent, MarkedAt: rec.MarkedAt}
	var err error
	if out.Collateral, err = fromBig(rec.Collateral); err != nil {
		return nil, err
	}
	if out.DebtPrincipal, err = fromBig(rec.DebtPrincipal); err != nil {
		return nil, err
	}
	if out.DebtIndex, err = fromBig(rec.DebtIndex); err != nil {
		return nil, err
	}
	return out, nil
}

func encodeAmount(v *uint256.Int) ([]byte, error) {
	return rlp.EncodeToBytes(toBig(v))
}

func decodeAmount(data []byte) (*uint256.Int, error) {
	value := new(big.Int)
	if err := rlp.DecodeBytes(data, value); err != nil {
		return nil, fmt.Errorf("state: decode amount: %w", err)
	}
	return fromBig(value)
}
