// Package modabi defines the ABI boundary between the runtime and loaded
// modules: the Request/Response shapes, the trace context they carry, and
// the Module interface every leaf module (in-process or plugin-loaded)
// implements.
package modabi

import (
	"context"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/value"
)

// TraceContext travels with every request and response: the trace id and
// the static arguments captured when the trace began.
type TraceContext struct {
	ID   ids.TraceID
	Args value.Value
}

// HistorySnapshot is a read-only view of one trace's history, keyed by
// step reference, handed to a module alongside each request.
type HistorySnapshot map[string]HistoryEntry

// HistoryEntry is one recorded step outcome.
type HistoryEntry struct {
	Origin  ids.StepID
	Payload value.Payload
}

// Request is what a step worker consumes: the payload produced upstream,
// tagged with the id of the step that produced it, the trace it belongs
// to, and a snapshot of everything recorded so far for that trace.
type Request struct {
	Origin  ids.StepID
	Payload value.Payload
	Trace   TraceContext
	History HistorySnapshot
}

// Response is what a step worker emits: its own step id as origin, the
// payload it produced, the trace unchanged, and an optional attach
// override naming the step that should receive it next instead of
// origin+1.
type Response struct {
	Origin  ids.StepID
	Payload value.Payload
	Trace   TraceContext
	Attach  string
}

// RequestChan is the channel a module reads requests from.
type RequestChan chan *Request

// AnnounceChan is the channel a module uses, exactly once at start, to
// publish the sender half of its own request channel.
type AnnounceChan chan RequestChan

// OutputChan is the channel a module writes responses to.
type OutputChan chan *Response

// StartConfig is everything a module needs to run one step: its static
// configuration, captured at build time.
type StartConfig struct {
	Ref           string
	Params        value.Value
	Args          value.Value
	Producer      bool
	DefaultAttach string
	// NewTrace mints a fresh, runtime-wide unique TraceID. Producer
	// modules that originate messages on their own (rather than in
	// response to a request) call this once per message; the ABI does not
	// otherwise give modules a way to obtain a collision-free trace id.
	NewTrace func() ids.TraceID
}

// Module is the handle every leaf module exposes. Start drives the module
// to completion on its own goroutine: it must, before doing anything
// else, construct its own request channel and publish it on announce, then
// loop reading requests and writing responses until ctx is done.
type Module interface {
	Start(ctx context.Context, stepID ids.StepID, announce AnnounceChan, output OutputChan, cfg StartConfig)
}

// ModuleFunc adapts a plain function to the Module interface.
type ModuleFunc func(ctx context.Context, stepID ids.StepID, announce AnnounceChan, output OutputChan, cfg StartConfig)

// Start implements Module.
func (f ModuleFunc) Start(ctx context.Context, stepID ids.StepID, announce AnnounceChan, output OutputChan, cfg StartConfig) {
	f(ctx, stepID, announce, output, cfg)
}

// Envelope is the internal message the runtime router shuttles between
// pipeline routers: either a forward call into a sub-pipeline or a return
// from one.
type Envelope struct {
	Request        *Request
	TargetPipeline *ids.PipelineID // set on a forward call
	ReturnToCaller bool
	StepAttach     ids.StepID // the call-site step, in both directions
}
