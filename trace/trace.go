// Package trace implements the trace table: for each in-flight trace, the
// set of pipelines with an outstanding sub-pipeline call, keyed so a
// callee's return can find its way back to the exact caller that
// dispatched it.
package trace

import (
	"fmt"
	"sync"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
)

type entry struct {
	initial ids.PipelineID
	calls   map[ids.PipelineID]*modabi.Envelope
}

// Table is the runtime-wide trace table, shared by every pipeline router.
type Table struct {
	mu     sync.Mutex
	traces map[ids.TraceID]*entry
}

// NewTable returns an empty Table.
func NewTable() *Table {
	return &Table{traces: map[ids.TraceID]*entry{}}
}

// Add records an outstanding call: pipelineID is the callee, env is the
// call envelope the callee's eventual return must be matched against. The
// first Add for a trace fixes that trace's "initial" pipeline, used by
// Remove to decide whether a return fully retires the trace.
func (t *Table) Add(traceID ids.TraceID, pipelineID ids.PipelineID, env *modabi.Envelope) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.traces[traceID]
	if !ok {
		e = &entry{initial: pipelineID, calls: map[ids.PipelineID]*modabi.Envelope{}}
		t.traces[traceID] = e
	}
	e.calls[pipelineID] = env
}

// Get looks up the outstanding call envelope for (traceID, pipelineID).
func (t *Table) Get(traceID ids.TraceID, pipelineID ids.PipelineID) (*modabi.Envelope, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.traces[traceID]
	if !ok {
		return nil, false
	}
	env, ok := e.calls[pipelineID]
	return env, ok
}

// Remove retires the outstanding call for (traceID, pipelineID). If
// pipelineID is that trace's initial pipeline, the whole trace entry is
// discarded and Remove reports true; otherwise only that pipeline's slot
// is cleared, leaving outer, still-outstanding calls in place, and Remove
// reports false. Removing an entry that was never added is a programming
// error in the router and panics.
func (t *Table) Remove(traceID ids.TraceID, pipelineID ids.PipelineID) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.traces[traceID]
	if !ok {
		panic(fmt.Sprintf("trace: remove_trace on unknown trace %d", traceID))
	}
	if _, ok := e.calls[pipelineID]; !ok {
		panic(fmt.Sprintf("trace: remove_trace on trace %d, pipeline %d with no outstanding call", traceID, pipelineID))
	}

	if pipelineID == e.initial {
		delete(t.traces, traceID)
		return true
	}
	delete(e.calls, pipelineID)
	return false
}

// Len reports how many traces currently have at least one outstanding
// call. Used by tests asserting the table drains to empty.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.traces)
}
