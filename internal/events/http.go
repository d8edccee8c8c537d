package events

import (
	"net/http"
	"time"
)

// HTTPStart is emitted when the execution endpoint receives a request. The
// emit context carries the request id.
type HTTPStart struct {
	Request *http.Request
}

// HTTPFinish is emitted after the execution handler completes.
type HTTPFinish struct {
	Request  *http.Request
	Status   int
	Duration time.Duration
}
