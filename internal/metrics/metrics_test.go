package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorCountsItemsAndStages(t *testing.T) {
	c := NewCollector("shortssync")
	c.Items("creator", OutcomeCommitted, 3)
	c.Items("creator", OutcomeCommitted, 0)
	c.Selection("duration_recency")
	c.Selection("duration_recency")
	c.Quota(8000, 2000)

	if got := testutil.ToFloat64(c.itemsTotal.WithLabelValues("creator", OutcomeCommitted)); got != 3 {
		t.Fatalf("committed items = %v, want 3", got)
	}
	if got := testutil.ToFloat64(c.selectionsTotal.WithLabelValues("duration_recency")); got != 2 {
		t.Fatalf("fallback selections = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.quotaRemaining); got != 2000 {
		t.Fatalf("quota remaining = %v, want 2000", got)
	}
}

func TestCollectorsAreIndependent(t *testing.T) {
	a := NewCollector("shortssync")
	b := NewCollector("shortssync")
	a.CycleFinished("ok")
	if got := testutil.ToFloat64(b.cyclesTotal.WithLabelValues("ok")); got != 0 {
		t.Fatalf("expected separate registries, got %v", got)
	}
}
