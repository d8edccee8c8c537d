// Package executor implements a dependency-driven bucket executor: it runs
// the steps of one layer plan over a columnar batch of rows, treating errors
// as ordinary data and handing completed work off to child layer plans.
//
// # Overview
//
// Execution is organized around three ideas:
//   - Bucket: a batch of rows flowing through one layer plan. Every step
//     eventually publishes exactly one column of the bucket's row count, and
//     a published column is never mutated again.
//   - Dependency-driven scheduling: a step is dispatched as soon as every
//     dependency column is materialized. There is no level-by-level barrier;
//     independent branches of the plan overlap freely.
//   - Errors as values: a failing row produces a value.ErrorValue cell in the
//     step's column instead of aborting the bucket. Downstream steps never
//     see those rows; the invoker filters them out and their outputs are
//     defined to be the same upstream error value.
//
// # Scheduling Model
//
// ExecuteBucket drives a single scheduler loop. Steps live in one of three
// states: pending (column not yet published), in progress (dispatched,
// awaiting completion), or done (column published to the bucket). The loop
// dispatches every start step, then blocks on a completion channel; each
// completion publishes a column and dispatches whichever dependents became
// ready. Only the scheduler goroutine touches the bucket and the
// pending/in-progress sets, so no locking is needed around them.
//
// Steps that report SyncAndSafe are invoked inline on the scheduler
// goroutine and complete before dispatch returns; they promise to return no
// deferred cells and to introduce no new errors, so their columns are
// published without a reduction pass. All other steps run on their own
// goroutine: the raw column is reduced there (deferred cells awaited
// positionally, rejections turned into error values) before the completion
// is sent back.
//
// # Failure Classes
//
// Per-row failures travel as value.ErrorValue cells and never escape
// ExecuteBucket. A step returning a non-nil error (or panicking) fails the
// whole batch: every row of its column becomes the same error value tagged
// with the step id. The returned error of ExecuteBucket is reserved for
// contract violations: a column of the wrong length, a sync-and-safe step
// returning a deferred cell, a step dispatched before its dependencies, or a
// planner violation discovered during child hand-off.
//
// # Child Hand-Off
//
// After the last column is published, the bucket's child layer plans are
// walked in declared order and routed to the request's ChildDispatcher:
// list-item, mutation-field, and polymorphic children expand into new
// buckets, one dispatcher call at a time, so mutation fields observe their
// serialized order. Subroutine-like children (subroutine, subscription,
// defer, stream) are expanded lazily by their owning steps and are skipped
// here.
package executor
