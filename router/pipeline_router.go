// pipeline_router.go is the pipeline router (C7): one task per pipeline
// that owns that pipeline's history and fans responses from its leaf
// workers out to the next step, resolving attach overrides, the implicit
// origin+1 successor, sub-pipeline dispatch, and loop-back to the first
// step.
package router

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/carbonopen/labrun/compiled"
	"github.com/carbonopen/labrun/history"
	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
	"github.com/carbonopen/labrun/trace"
)

// responseQueueDepth and envelopeQueueDepth size the router's inbound
// channels. The channels are conceptually unbounded FIFOs (§5); a modest
// buffer just avoids needless goroutine hand-off latency under load.
const (
	responseQueueDepth = 64
	envelopeQueueDepth = 64
)

// PipelineRouter is the C7 task for one compiled.Pipeline.
type PipelineRouter struct {
	pipeline *compiled.Pipeline

	hist   *history.History
	traces *trace.Table

	toRuntime chan<- *modabi.Envelope

	fromRuntime chan *modabi.Envelope
	responses   chan *modabi.Response

	stepSinks []modabi.RequestChan // dense, indexed by step Position
	refIndex  map[string]int       // ref -> step Position

	log zerolog.Logger
}

// NewPipelineRouter builds a router for p. toRuntime is the runtime
// router's shared inbound channel, used for sub-pipeline calls and
// returns.
func NewPipelineRouter(p *compiled.Pipeline, hist *history.History, traces *trace.Table, toRuntime chan<- *modabi.Envelope, log zerolog.Logger) *PipelineRouter {
	refIndex := make(map[string]int, len(p.Steps))
	for i, s := range p.Steps {
		refIndex[s.Ref] = i
	}
	return &PipelineRouter{
		pipeline:    p,
		hist:        hist,
		traces:      traces,
		toRuntime:   toRuntime,
		fromRuntime: make(chan *modabi.Envelope, envelopeQueueDepth),
		responses:   make(chan *modabi.Response, responseQueueDepth),
		stepSinks:   make([]modabi.RequestChan, len(p.Steps)),
		refIndex:    refIndex,
		log:         log.With().Str("pipeline", p.Path).Logger(),
	}
}

// SetSink records the request channel a leaf worker announced for the
// step at position. Sub-pipeline steps never get one: they are dispatched
// through the runtime router instead.
func (r *PipelineRouter) SetSink(position int, sink modabi.RequestChan) {
	r.stepSinks[position] = sink
}

// Responses returns the channel leaf workers for this pipeline write
// their responses to.
func (r *PipelineRouter) Responses() modabi.OutputChan { return r.responses }

// Inbox returns the channel the runtime router delivers envelopes to,
// for calls into and returns back to this pipeline.
func (r *PipelineRouter) Inbox() chan<- *modabi.Envelope { return r.fromRuntime }

// ID returns the id of the compiled pipeline this router drives.
func (r *PipelineRouter) ID() ids.PipelineID { return r.pipeline.ID }

// Kickoff dispatches req to the first step, starting this pipeline for
// req's trace. The runtime does not call it; pipelines are driven by their
// producer steps.
func (r *PipelineRouter) Kickoff(ctx context.Context, req *modabi.Request) error {
	return r.dispatch(ctx, 0, req)
}

// Run drives the pipeline router's loop until ctx is done. It suspends
// (blocks in select) whenever neither responses nor fromRuntime has
// anything pending, which is the only form of suspension this runtime
// has.
func (r *PipelineRouter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case resp, ok := <-r.responses:
			if !ok {
				return
			}
			if err := r.handleResponse(ctx, resp); err != nil {
				r.log.Error().Err(err).Msg("routing error")
				panic(err)
			}
		case env, ok := <-r.fromRuntime:
			if !ok {
				return
			}
			if err := r.handleInbound(ctx, env); err != nil {
				r.log.Error().Err(err).Msg("routing error")
				panic(err)
			}
		}
	}
}

// handleResponse implements the "request handling" half of C7: append to
// history, build the successor request, resolve where it goes next.
func (r *PipelineRouter) handleResponse(ctx context.Context, resp *modabi.Response) error {
	originPos, ok := r.positionOf(resp.Origin)
	if !ok {
		return &RoutingError{Pipeline: r.pipeline.Path, Reason: "response from a step id this pipeline does not own"}
	}
	originStep := r.pipeline.Steps[originPos]

	if err := r.hist.Append(resp.Trace.ID, originStep.Ref, modabi.HistoryEntry{Origin: resp.Origin, Payload: resp.Payload}); err != nil {
		return &RoutingError{Pipeline: r.pipeline.Path, Reason: err.Error()}
	}

	req := &modabi.Request{
		Origin:  resp.Origin,
		Payload: resp.Payload,
		Trace:   resp.Trace,
		History: r.hist.Snapshot(resp.Trace.ID),
	}

	targetPos, found, err := r.resolveSuccessor(resp.Attach, originPos)
	if err != nil {
		return err
	}
	if found {
		return r.dispatch(ctx, targetPos, req)
	}

	// No local successor: this pipeline's own outstanding call, if any,
	// has just produced its final result.
	if env, ok := r.traces.Get(resp.Trace.ID, r.pipeline.ID); ok {
		if r.traces.Remove(resp.Trace.ID, r.pipeline.ID) {
			// This was the initial (outermost) call recorded for the trace:
			// the whole inter-pipeline call chain has now unwound, so this
			// pipeline's own history for it can be dropped too.
			r.hist.Forget(resp.Trace.ID)
		}
		ret := &modabi.Envelope{
			Request:        req,
			ReturnToCaller: true,
			StepAttach:     env.StepAttach,
		}
		return r.send(ctx, r.toRuntime, ret)
	}

	// No outstanding call either: loop back to the first step.
	if len(r.pipeline.Steps) == 0 {
		return &RoutingError{Pipeline: r.pipeline.Path, Reason: "pipeline has no steps to loop back to"}
	}
	// The trace has drained through this pipeline: clear its bucket so the
	// next pass can record each step's response again.
	r.hist.Forget(resp.Trace.ID)
	return r.dispatch(ctx, 0, req)
}

// resolveSuccessor applies the attach-or-origin+1 rule.
func (r *PipelineRouter) resolveSuccessor(attach string, originPos int) (pos int, found bool, err error) {
	if attach != "" {
		pos, ok := r.refIndex[attach]
		if !ok {
			return 0, false, &RoutingError{Pipeline: r.pipeline.Path, Reason: "attach reference " + attach + " not found"}
		}
		return pos, true, nil
	}
	pos = originPos + 1
	return pos, pos < len(r.pipeline.Steps), nil
}

// handleInbound implements "sub-pipeline dispatch": an envelope arriving
// from the runtime router, either a return from a call this pipeline made
// or a fresh call dispatched to this pipeline as a callee.
func (r *PipelineRouter) handleInbound(ctx context.Context, env *modabi.Envelope) error {
	if env.ReturnToCaller {
		pos, ok := r.positionOf(env.StepAttach)
		if !ok {
			return &RoutingError{Pipeline: r.pipeline.Path, Reason: "return for a step id this pipeline does not own"}
		}
		callStep := r.pipeline.Steps[pos]

		resp := &modabi.Response{
			Origin:  callStep.ID,
			Payload: env.Request.Payload,
			Trace:   env.Request.Trace,
			Attach:  callStep.DefaultAttach(),
		}
		select {
		case r.responses <- resp:
		case <-ctx.Done():
		}
		return nil
	}

	// Fresh call: this pipeline is the callee, start at its first step.
	return r.dispatch(ctx, 0, env.Request)
}

// dispatch sends req to the step at pos: directly to its worker if it is
// a leaf, or out to the runtime router as a call if it is a sub-pipeline.
func (r *PipelineRouter) dispatch(ctx context.Context, pos int, req *modabi.Request) error {
	step := r.pipeline.Steps[pos]

	if step.ModuleKind == compiled.Leaf {
		sink := r.stepSinks[pos]
		if sink == nil {
			return &RoutingError{Pipeline: r.pipeline.Path, Reason: "step " + step.Ref + " has no running worker"}
		}
		select {
		case sink <- req:
			return nil
		case <-ctx.Done():
			return nil
		}
	}

	target := step.TargetPipeline
	callEnv := &modabi.Envelope{
		Request:        req,
		TargetPipeline: &target,
		ReturnToCaller: false,
		StepAttach:     step.ID,
	}
	r.traces.Add(req.Trace.ID, target, callEnv)
	return r.send(ctx, r.toRuntime, callEnv)
}

func (r *PipelineRouter) send(ctx context.Context, ch chan<- *modabi.Envelope, env *modabi.Envelope) error {
	select {
	case ch <- env:
		return nil
	case <-ctx.Done():
		return nil
	}
}

func (r *PipelineRouter) positionOf(id ids.StepID) (int, bool) {
	pos := int(id) - int(r.pipeline.StepBase)
	if pos < 0 || pos >= len(r.pipeline.Steps) {
		return 0, false
	}
	return pos, true
}
