package router

import "fmt"

// RoutingError represents a failure in the routing layer itself: an
// unresolved attach reference, a step with no owning pipeline, or a
// destination sink that was never registered. These are distinct from
// build errors (which fail before the runtime ever starts) and are
// treated as fatal: the reference runtime logs and panics the offending
// goroutine rather than attempting to route a message it cannot place.
type RoutingError struct {
	Pipeline string
	Reason   string
}

func (e *RoutingError) Error() string {
	if e.Pipeline == "" {
		return fmt.Sprintf("routing error: %s", e.Reason)
	}
	return fmt.Sprintf("routing error in pipeline %s: %s", e.Pipeline, e.Reason)
}
