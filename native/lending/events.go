package lending

import (
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/holiman/uint256"

	"floorlend/core/types"
	"floorlend/native/fixed"
)

const (
	EventTypeCollateralDeposited = "lending.collateral.deposited"
	EventTypeCollateralWithdrawn = "lending.collateral.withdrawn"
	EventTypeBorrowed            = "lending.borrowed"
	EventTypeRepaid              = "lending.repaid"
	EventTypeDelinquentMarked    = "lending.delinquent.marked"
	EventTypeRecovered           = "lending.recovered"
	EventTypeVaultDeposited      = "vault.deposited"
	EventTypeVaultWithdrawn      = "vault.withdrawn"
	EventTypeVaultAccrued        = "vault.accrued"
	EventTypeVaultWrittenOff     = "vault.written_off"
)

func positionEvent(eventType string, account common.Address, amount *uint256.Int, pos *Position) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"account":       account.Hex(),
			"amount":        fixed.Clone(amount).Dec(),
			"collateral":    fixed.Clone(pos.Collateral).Dec(),
			"debtPrincipal": fixed.Clone(pos.DebtPrincipal).Dec(),
		},
	}
}

func markedEvent(caller, account common.Address, pos *Position, graceSeconds uint64) *types.Event {
	return &types.Event{
		Type: EventTypeDelinquentMarked,
		Attributes: map[string]string{
			"caller":        caller.Hex(),
			"account":       account.Hex(),
			"markedAt":      strconv.FormatUint(pos.MarkedAt, 10),
			"recoverableAt": strconv.FormatUint(pos.MarkedAt+graceSeconds+1, 10),
		},
	}
}

func recoveredEvent(caller, account common.Address, res *RecoveryResult) *types.Event {
	return &types.Event{
		Type: EventTypeRecovered,
		Attributes: map[string]string{
			"caller":     caller.Hex(),
			"account":    account.Hex(),
			"collateral": res.Collateral.Dec(),
			"debt":       res.Debt.Dec(),
			"proceeds":   res.Proceeds.Dec(),
			"repaid":     res.Repaid.Dec(),
			"shortfall":  res.Shortfall.Dec(),
			"bounty":     res.Bounty.Dec(),
			"refund":     res.Refund.Dec(),
			"burned":     strconv.FormatBool(res.Burned),
		},
	}
}

func vaultFlowEvent(eventType string, account common.Address, assets, shares *uint256.Int) *types.Event {
	return &types.Event{
		Type: eventType,
		Attributes: map[string]string{
			"account": account.Hex(),
			"assets":  fixed.Clone(assets).Dec(),
			"shares":  fixed.Clone(shares).Dec(),
		},
	}
}

func accruedEvent(v *VaultState, interest *uint256.Int) *types.Event {
	return &types.Event{
		Type: EventTypeVaultAccrued,
		Attributes: map[string]string{
			"interest":     fixed.Clone(interest).Dec(),
			"borrowIndex":  v.BorrowIndex.Dec(),
			"totalBorrows": v.TotalBorrows.Dec(),
			"totalAssets":  v.TotalAssets.Dec(),
			"timestamp":    strconv.FormatUint(v.LastAccrual, 10),
		},
	}
}

func writeOffEvent(loss *uint256.Int, v *VaultState) *types.Event {
	return &types.Event{
		Type: EventTypeVaultWrittenOff,
		Attributes: map[string]string{
			"loss":         loss.Dec(),
			"totalBorrows": v.TotalBorrows.Dec(),
			"totalAssets":  v.TotalAssets.Dec(),
		},
	}
}
