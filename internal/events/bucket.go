package events

import (
	"time"

	plan "github.com/hanpama/bucketflow/internal/plan"
)

// BucketStart is emitted before a bucket begins executing its layer plan.
type BucketStart struct {
	Size   int
	Steps  int
	Reason string
}

// BucketFinish is emitted after a bucket completes, including child hand-off.
type BucketFinish struct {
	Size      int
	Reason    string
	HasErrors bool
	Duration  time.Duration
}

// StepStart is emitted when the scheduler dispatches a step.
type StepStart struct {
	Step plan.StepID
}

// StepFinish is emitted when a step's column is published.
type StepFinish struct {
	Step     plan.StepID
	Failed   bool
	Duration time.Duration
}
