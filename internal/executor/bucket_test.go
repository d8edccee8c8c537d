package executor

import (
	"strings"
	"testing"

	plan "github.com/hanpama/bucketflow/internal/plan"
)

func TestNewBucket_SeedLengthMismatch(t *testing.T) {
	lp := plan.MustNew(plan.ReasonListItem,
		[]plan.Step{MapStep(2, []plan.StepID{1}, nil, nil)},
	)
	_, err := NewBucket(lp, 3, map[plan.StepID]plan.Column{1: {"only", "two"}})
	if err == nil || !strings.Contains(err.Error(), "seed column") {
		t.Fatalf("want seed length error, got %v", err)
	}
}

func TestNewBucket_NegativeSize(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot, []plan.Step{ConstStep(1, nil, "x")})
	if _, err := NewBucket(lp, -1, nil); err == nil {
		t.Fatal("want error for negative size, got nil")
	}
}

func TestBucket_ColumnLookup(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot, []plan.Step{ConstStep(1, nil, "x")})
	b := mustBucket(t, lp, 2, nil)
	if _, ok := b.Column(1); ok {
		t.Fatal("column must not exist before execution")
	}
	mustExecute(t, b, &RequestContext{})
	col, ok := b.Column(1)
	if !ok || len(col) != 2 {
		t.Fatalf("want published column of 2 rows, got %v (ok=%v)", col, ok)
	}
}
