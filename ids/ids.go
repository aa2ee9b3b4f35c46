// Package ids defines the step, pipeline and trace identifiers and mints
// the monotonic pipeline and trace ids; step ids are assigned by the
// builder.
package ids

import "sync"

// StepID identifies one step, globally, across every pipeline in a build.
type StepID uint32

// PipelineID identifies one pipeline instance within a build.
type PipelineID uint32

// TraceID identifies one in-flight logical message as it moves through the
// step graph, including across sub-pipeline calls.
type TraceID uint32

// Allocator mints PipelineID and TraceID values. The builder takes one for
// pipeline ids and the runtime creates its own for trace ids; step ids are
// assigned directly by the builder once the full build order is known, see
// builder.Build.
type Allocator struct {
	mu           sync.Mutex
	nextPipeline uint32
	nextTrace    uint32
}

// NewAllocator returns an Allocator with every counter starting at zero.
func NewAllocator() *Allocator {
	return &Allocator{}
}

// NextPipelineID returns the next unused PipelineID.
func (a *Allocator) NextPipelineID() PipelineID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextPipeline
	a.nextPipeline++
	return PipelineID(id)
}

// NextTraceID returns the next unused TraceID. On overflow it wraps back to
// zero; trace ids are scoped to an in-flight message, not persisted, so
// reuse after a full cycle of 2^32 is acceptable.
func (a *Allocator) NextTraceID() TraceID {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextTrace
	a.nextTrace++
	return TraceID(id)
}
