package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestInit(t *testing.T) {
	// Call Init multiple times to test idempotency.
	Init()
	Init()

	if feedRequestsTotal == nil || archiveRowsTotal == nil ||
		orchestratorRunsTotal == nil || crawlerEntitiesTotal == nil {
		t.Fatal("Init() did not initialize metrics collectors")
	}
}

func TestObserveArchiveRowsIgnoresEmptyBatches(t *testing.T) {
	ObserveArchiveRows("metrics_test_table", "import", 0)
	ObserveArchiveRows("metrics_test_table", "import", 3)
	ObserveArchiveRows("metrics_test_table", "import", -1)

	got := testutil.ToFloat64(archiveRowsTotal.WithLabelValues("metrics_test_table", "import"))
	if got != 3 {
		t.Errorf("archive rows = %f; want 3", got)
	}
}

func TestObserveRunCountsByModeAndStatus(t *testing.T) {
	ObserveRun("metrics_test_mode", "success", time.Second)
	ObserveRun("metrics_test_mode", "success", 2*time.Second)
	ObserveRun("metrics_test_mode", "error", time.Second)

	if got := testutil.ToFloat64(orchestratorRunsTotal.WithLabelValues("metrics_test_mode", "success")); got != 2 {
		t.Errorf("success runs = %f; want 2", got)
	}
	if got := testutil.ToFloat64(orchestratorRunsTotal.WithLabelValues("metrics_test_mode", "error")); got != 1 {
		t.Errorf("error runs = %f; want 1", got)
	}
}
