package observability

import (
	"errors"
	"testing"
	"time"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestUnitsToFloat(t *testing.T) {
	if got := unitsToFloat(nil); got != 0 {
		t.Fatalf("nil should be zero, got %v", got)
	}
	value := new(uint256.Int).Mul(uint256.NewInt(25), uint256.NewInt(1e17))
	if got := unitsToFloat(value); got != 2.5 {
		t.Fatalf("expected 2.5, got %v", got)
	}
}

func TestProtocolMetricsCountOutcomes(t *testing.T) {
	m := Protocol()
	m.ObserveOperation("Ledger.Borrow", time.Millisecond, nil)
	m.ObserveOperation("ledger.borrow", time.Millisecond, errors.New("boom"))

	if got := testutil.ToFloat64(m.operations.WithLabelValues("ledger.borrow", "committed")); got < 1 {
		t.Fatalf("expected committed count, got %v", got)
	}
	if got := testutil.ToFloat64(m.operations.WithLabelValues("ledger.borrow", "rejected")); got < 1 {
		t.Fatalf("expected rejected count, got %v", got)
	}

	m.RecordPool(PoolSnapshot{FloorPrice: uint256.NewInt(5e17), FeeBps: 30})
	if got := testutil.ToFloat64(m.floorPrice); got != 0.5 {
		t.Fatalf("floor gauge = %v", got)
	}
	if got := testutil.ToFloat64(m.feeBps); got != 30 {
		t.Fatalf("fee gauge = %v", got)
	}
}

func TestEventMetrics(t *testing.T) {
	m := Events()
	before := testutil.ToFloat64(m.emitted.WithLabelValues("lending.recovered"))
	m.RecordEvent(" Lending.Recovered ")
	if got := testutil.ToFloat64(m.emitted.WithLabelValues("lending.recovered")); got != before+1 {
		t.Fatalf("expected %v, got %v", before+1, got)
	}
}
