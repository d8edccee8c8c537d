package executor

import (
	"context"
	"fmt"

	plan "github.com/hanpama/bucketflow/internal/plan"
)

// ChildDispatcher expands a completed parent bucket into child buckets. The
// executor does not know how rows fan out (list flattening, type dispatch) or
// where the child's seed columns come from; the dispatcher owns both.
//
// Calls are made sequentially, one child plan at a time, and block until the
// child's buckets have finished. Mutation-field children in particular rely on
// this ordering.
type ChildDispatcher interface {
	// DispatchListItem expands a child plan that executes once per element of
	// a list column of the parent.
	DispatchListItem(ctx context.Context, parent *Bucket, child *plan.LayerPlan) error

	// DispatchMutationField expands a child plan carrying a serialized
	// mutation field. Dispatch order between siblings is the plan's child
	// order.
	DispatchMutationField(ctx context.Context, parent *Bucket, child *plan.LayerPlan) error

	// DispatchPolymorphic expands a child plan that applies only to the rows
	// whose runtime type matched the child's type condition.
	DispatchPolymorphic(ctx context.Context, parent *Bucket, child *plan.LayerPlan) error
}

// runHandoff walks the completed bucket's child plans in declared order and
// routes each to the request's dispatcher. Subroutine-like children are
// executed on demand by their owning steps, not here, so they are skipped.
func runHandoff(ctx context.Context, b *Bucket, req *RequestContext) error {
	for _, child := range b.plan.Children {
		switch child.Reason {
		case plan.ReasonListItem:
			if err := dispatcherFor(req, child); err != nil {
				return err
			}
			if err := req.Children.DispatchListItem(ctx, b, child); err != nil {
				return err
			}
		case plan.ReasonMutationField:
			if err := dispatcherFor(req, child); err != nil {
				return err
			}
			if err := req.Children.DispatchMutationField(ctx, b, child); err != nil {
				return err
			}
		case plan.ReasonPolymorphic:
			if err := dispatcherFor(req, child); err != nil {
				return err
			}
			if err := req.Children.DispatchPolymorphic(ctx, b, child); err != nil {
				return err
			}
		case plan.ReasonSubroutine, plan.ReasonSubscription, plan.ReasonDefer, plan.ReasonStream:
			// Expanded lazily by the steps that own them.
		case plan.ReasonRoot:
			return fmt.Errorf("bucketflow: internal error: root layer plan appears as a child (planner violation)")
		default:
			return fmt.Errorf("bucketflow: internal error: child layer plan has unknown reason %d (planner violation)", child.Reason)
		}
	}
	return nil
}

func dispatcherFor(req *RequestContext, child *plan.LayerPlan) error {
	if req == nil || req.Children == nil {
		return fmt.Errorf("bucketflow: internal error: plan has a %s child but no child dispatcher is configured", child.Reason)
	}
	return nil
}
