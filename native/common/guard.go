package common

import "errors"

var ErrModulePaused = errors.New("module paused")

// Module names accepted by the pause switch.
const (
	ModulePool   = "pool"
	ModuleLedger = "ledger"
	ModuleVault  = "vault"
)

type PauseView interface {
	IsPaused(module string) bool
}

// Guard rejects mutating calls into a paused module. A nil view never pauses.
func Guard(p PauseView, module string) error {
	if p == nil || module == "" {
		return nil
	}
	if p.IsPaused(module) {
		return ErrModulePaused
	}
	return nil
}

// StaticPauses is a PauseView backed by a fixed set of module names.
type StaticPauses map[string]bool

func (s StaticPauses) IsPaused(module string) bool { return s[module] }
