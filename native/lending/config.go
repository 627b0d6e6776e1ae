package lending

import (
	"errors"
	"time"

	"floorlend/native/fixed"
	"floorlend/native/floor"
)

// DefaultGracePeriod is the delay between marking a position delinquent and
// the earliest recovery.
const DefaultGracePeriod = 72 * time.Hour

// Config captures the runtime configuration for the collateral ledger.
type Config struct {
	GracePeriod       time.Duration
	RecoveryBountyBps uint64
}

// DefaultConfig returns the 72 hour grace period and the floor-price bounty.
func DefaultConfig() Config {
	return Config{GracePeriod: DefaultGracePeriod, RecoveryBountyBps: floor.BountyBps}
}

var errInvalidConfig = errors.New("lending engine: invalid ledger configuration")

// Validate checks the grace period and bounty bounds. Grace periods are
// counted in whole seconds.
func (c Config) Validate() error {
	if c.GracePeriod < time.Second {
		return errInvalidConfig
	}
	if c.RecoveryBountyBps > fixed.BasisPoints {
		return errInvalidConfig
	}
	return nil
}
