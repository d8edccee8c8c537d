package executor

import (
	"context"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	plan "github.com/hanpama/bucketflow/internal/plan"
)

type dispatchRecord struct {
	Kind   string
	Reason plan.Reason
}

type mockDispatcher struct {
	records []dispatchRecord
	err     error
}

func (d *mockDispatcher) DispatchListItem(ctx context.Context, parent *Bucket, child *plan.LayerPlan) error {
	d.records = append(d.records, dispatchRecord{Kind: "listItem", Reason: child.Reason})
	return d.err
}

func (d *mockDispatcher) DispatchMutationField(ctx context.Context, parent *Bucket, child *plan.LayerPlan) error {
	d.records = append(d.records, dispatchRecord{Kind: "mutationField", Reason: child.Reason})
	return d.err
}

func (d *mockDispatcher) DispatchPolymorphic(ctx context.Context, parent *Bucket, child *plan.LayerPlan) error {
	d.records = append(d.records, dispatchRecord{Kind: "polymorphic", Reason: child.Reason})
	return d.err
}

func childPlan(t *testing.T, reason plan.Reason) *plan.LayerPlan {
	t.Helper()
	return plan.MustNew(reason, []plan.Step{ConstStep(10, nil, "child")})
}

// Pattern: Call-order comparison
func TestHandoff_ChildrenDispatchedInDeclaredOrder(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{ConstStep(1, nil, "x")},
		childPlan(t, plan.ReasonListItem),
		childPlan(t, plan.ReasonMutationField),
		childPlan(t, plan.ReasonPolymorphic),
	)
	d := &mockDispatcher{}
	b := mustBucket(t, lp, 1, nil)
	mustExecute(t, b, &RequestContext{Children: d})

	want := []dispatchRecord{
		{Kind: "listItem", Reason: plan.ReasonListItem},
		{Kind: "mutationField", Reason: plan.ReasonMutationField},
		{Kind: "polymorphic", Reason: plan.ReasonPolymorphic},
	}
	if diff := cmp.Diff(want, d.records); diff != "" {
		t.Fatalf("dispatch order mismatch (-want +got):\n%s", diff)
	}
}

func TestHandoff_SubroutineLikeChildren_Skipped(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{ConstStep(1, nil, "x")},
		childPlan(t, plan.ReasonSubroutine),
		childPlan(t, plan.ReasonSubscription),
		childPlan(t, plan.ReasonDefer),
		childPlan(t, plan.ReasonStream),
	)
	d := &mockDispatcher{}
	b := mustBucket(t, lp, 1, nil)
	mustExecute(t, b, &RequestContext{Children: d})

	if len(d.records) != 0 {
		t.Fatalf("subroutine-like children must not be dispatched, got %v", d.records)
	}
}

func TestHandoff_RootChild_IsPlannerViolation(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{ConstStep(1, nil, "x")},
		childPlan(t, plan.ReasonRoot),
	)
	b := mustBucket(t, lp, 1, nil)
	err := ExecuteBucket(context.Background(), b, &RequestContext{Children: &mockDispatcher{}})
	if err == nil || !strings.Contains(err.Error(), "root layer plan") {
		t.Fatalf("want planner violation for root child, got %v", err)
	}
	if b.Completed() {
		t.Fatal("bucket must not be marked complete after hand-off failure")
	}
}

func TestHandoff_MissingDispatcher_Errors(t *testing.T) {
	lp := plan.MustNew(plan.ReasonRoot,
		[]plan.Step{ConstStep(1, nil, "x")},
		childPlan(t, plan.ReasonListItem),
	)
	b := mustBucket(t, lp, 1, nil)
	err := ExecuteBucket(context.Background(), b, &RequestContext{})
	if err == nil || !strings.Contains(err.Error(), "dispatcher") {
		t.Fatalf("want missing dispatcher error, got %v", err)
	}
}
