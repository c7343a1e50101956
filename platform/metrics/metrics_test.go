package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecorderCountsImports(t *testing.T) {
	r := New()
	r.ImportFinished("append-dataset", true, "success")
	r.ImportFinished("append-dataset", true, "success")
	r.ImportFinished("append-dataset", false, "validation")

	if got := testutil.ToFloat64(r.imports.WithLabelValues("append-dataset", "commit", "success")); got != 2 {
		t.Fatalf("expected 2 committed imports, got %v", got)
	}
	if got := testutil.ToFloat64(r.imports.WithLabelValues("append-dataset", "preview", "validation")); got != 1 {
		t.Fatalf("expected 1 preview import, got %v", got)
	}
}

func TestRecorderCompensationResult(t *testing.T) {
	r := New()
	r.Compensated("create-observation-units", nil)
	r.Compensated("create-observation-units", errors.New("boom"))

	if got := testutil.ToFloat64(r.compensations.WithLabelValues("create-observation-units", "failed")); got != 1 {
		t.Fatalf("expected 1 failed compensation, got %v", got)
	}
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *Recorder
	r.ImportFinished("new-experiment", false, "success")
	r.StageFailed("x")
	r.Compensated("x", nil)
	r.ObserveBrAPI("create", "trials", time.Second)
	r.PendingClassified("trials", "NEW", 1)
}
