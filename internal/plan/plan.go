package plan

import (
	"context"

	eventbus "github.com/hanpama/bucketflow/internal/eventbus"
)

// StepID identifies a step within an operation plan. IDs are dense integers
// assigned by the planner; a layer plan holds a subset of them.
type StepID int

// Column is an ordered sequence of row values. Every column produced while
// executing a bucket has exactly the bucket's row count. Cells hold plain
// values, value.ErrorValue entries, or value.Deferred entries.
type Column []any

// Unit is the placeholder cell supplied to steps without dependencies so that
// they still observe a batch of the correct shape.
type Unit struct{}

// ExecuteExtra carries per-invocation ambient inputs into Step.Execute.
type ExecuteExtra struct {
	// Meta is the step's request-scoped scratchpad. It persists across
	// buckets of the same request and is nil when the host provided none.
	Meta any
	// Events receives diagnostic events emitted by the step. May be nil.
	Events *eventbus.Bus
}

// Step is a unit of computation producing one column from its dependency
// columns.
//
// Execute receives one column per declared dependency, in declaration order,
// each of the bucket's row count. A step with no dependencies receives a
// single placeholder column of Unit cells. The returned column must have the
// same length as its inputs. Cells may be plain values, value.Deferred
// entries awaiting asynchronous work, or value.ErrorValue entries.
//
// A step reporting SyncAndSafe promises that Execute returns without
// spawning asynchronous work, that the returned column contains no
// value.Deferred cells, and that it introduces no error cells that were not
// already present in its inputs. The executor publishes such columns on a
// fast path without a reduction pass.
type Step interface {
	ID() StepID
	Dependencies() []StepID
	SyncAndSafe() bool
	Execute(ctx context.Context, deps []Column, extra *ExecuteExtra) (Column, error)
}

// Reason tags a child layer plan with why it exists.
type Reason int

const (
	ReasonRoot Reason = iota
	ReasonListItem
	ReasonMutationField
	ReasonPolymorphic
	ReasonSubroutine
	ReasonSubscription
	ReasonDefer
	ReasonStream
)

var reasonNames = map[Reason]string{
	ReasonRoot:          "root",
	ReasonListItem:      "listItem",
	ReasonMutationField: "mutationField",
	ReasonPolymorphic:   "polymorphic",
	ReasonSubroutine:    "subroutine",
	ReasonSubscription:  "subscription",
	ReasonDefer:         "defer",
	ReasonStream:        "stream",
}

func (r Reason) String() string {
	if name, ok := reasonNames[r]; ok {
		return name
	}
	return "unknown"
}

// LayerPlan is a static DAG of steps belonging to one execution phase,
// together with the child phases dispatched after the phase completes.
//
// Steps may depend on ids outside the layer; those columns must be seeded
// into the bucket by the parent before execution. Reverse edges and the
// start set are derived by New and stored as indices into Steps so the plan
// stays value-typed.
type LayerPlan struct {
	Reason   Reason
	Steps    []Step
	Children []*LayerPlan

	indexByID  map[StepID]int
	dependents [][]int // reverse intra-layer edges, indices into Steps
	startSteps []int   // steps without intra-layer dependencies
}

// StepByID returns the step with the given id, or nil when the id does not
// belong to this layer.
func (p *LayerPlan) StepByID(id StepID) Step {
	if i, ok := p.indexByID[id]; ok {
		return p.Steps[i]
	}
	return nil
}

// Contains reports whether id belongs to this layer.
func (p *LayerPlan) Contains(id StepID) bool {
	_, ok := p.indexByID[id]
	return ok
}

// StartSteps returns the steps without intra-layer dependencies, in plan
// order.
func (p *LayerPlan) StartSteps() []Step {
	out := make([]Step, len(p.startSteps))
	for i, idx := range p.startSteps {
		out[i] = p.Steps[idx]
	}
	return out
}

// DependentsOf returns the steps of this layer that depend on id, in plan
// order.
func (p *LayerPlan) DependentsOf(id StepID) []Step {
	i, ok := p.indexByID[id]
	if !ok {
		return nil
	}
	out := make([]Step, len(p.dependents[i]))
	for j, idx := range p.dependents[i] {
		out[j] = p.Steps[idx]
	}
	return out
}
