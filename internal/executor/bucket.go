package executor

import (
	"fmt"

	plan "github.com/hanpama/bucketflow/internal/plan"
	value "github.com/hanpama/bucketflow/internal/value"
)

// Bucket is a columnar batch of rows through which one layer plan executes.
// For every step of the plan it eventually holds a column of exactly Size
// values. The bucket owns its store for its lifetime; columns are written
// once per step id and never mutated afterwards.
type Bucket struct {
	size       int
	plan       *plan.LayerPlan
	store      map[plan.StepID]plan.Column
	noDepsList plan.Column
	hasErrors  bool
	complete   bool
}

// NewBucket creates a bucket of the given row count over lp. The seed holds
// the columns the layer receives from its parent (external dependencies of
// the layer's steps); each seeded column must already have size rows.
func NewBucket(lp *plan.LayerPlan, size int, seed map[plan.StepID]plan.Column) (*Bucket, error) {
	if size < 0 {
		return nil, fmt.Errorf("bucket: negative size %d", size)
	}
	b := &Bucket{
		size:  size,
		plan:  lp,
		store: make(map[plan.StepID]plan.Column, len(lp.Steps)+len(seed)),
	}
	for id, col := range seed {
		if len(col) != size {
			return nil, fmt.Errorf("bucket: seed column for step %d has %d rows, want %d", id, len(col), size)
		}
		b.store[id] = col
		for _, cell := range col {
			if _, isErr := value.IsError(cell); isErr {
				b.hasErrors = true
				break
			}
		}
	}
	b.noDepsList = make(plan.Column, size)
	for i := range b.noDepsList {
		b.noDepsList[i] = plan.Unit{}
	}
	return b, nil
}

// Size returns the number of rows in the batch.
func (b *Bucket) Size() int { return b.size }

// Plan returns the layer plan the bucket executes.
func (b *Bucket) Plan() *plan.LayerPlan { return b.plan }

// Column returns the materialized column for id, if published.
func (b *Bucket) Column(id plan.StepID) (plan.Column, bool) {
	col, ok := b.store[id]
	return col, ok
}

// HasErrors reports whether any column of this bucket carries an error value.
// The flag is monotonic: it never resets within a bucket's lifetime.
func (b *Bucket) HasErrors() bool { return b.hasErrors }

// Completed reports whether execution and child hand-off have finished.
func (b *Bucket) Completed() bool { return b.complete }

// setColumn publishes a step's column. Only the scheduler calls this, and at
// most once per step.
func (b *Bucket) setColumn(id plan.StepID, col plan.Column) error {
	if _, dup := b.store[id]; dup {
		return fmt.Errorf("bucketflow: internal error: column for step %d published twice", id)
	}
	b.store[id] = col
	return nil
}
