// runtime_router.go is the runtime router (C8): the single top-level task
// that shuttles envelopes between pipeline routers, resolving a return's
// destination from the owning pipeline of its step-attach when no
// explicit target pipeline is set.
package router

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
)

const inboxDepth = 64

// RuntimeRouter is the C8 task, shared by every pipeline in a project.
type RuntimeRouter struct {
	owners map[ids.StepID]ids.PipelineID
	sinks  map[ids.PipelineID]chan<- *modabi.Envelope

	in  chan *modabi.Envelope
	log zerolog.Logger
}

// NewRuntimeRouter returns a RuntimeRouter that resolves step ownership
// from owners.
func NewRuntimeRouter(owners map[ids.StepID]ids.PipelineID, log zerolog.Logger) *RuntimeRouter {
	return &RuntimeRouter{
		owners: owners,
		sinks:  map[ids.PipelineID]chan<- *modabi.Envelope{},
		in:     make(chan *modabi.Envelope, inboxDepth),
		log:    log,
	}
}

// RegisterSink binds pid's inbox, so envelopes destined for it can be
// delivered. Every pipeline in a project must be registered before the
// runtime router starts routing (the startup barrier, §5).
func (rr *RuntimeRouter) RegisterSink(pid ids.PipelineID, sink chan<- *modabi.Envelope) {
	rr.sinks[pid] = sink
}

// Inbox is the shared channel every pipeline router sends its outbound
// envelopes (calls and returns) to.
func (rr *RuntimeRouter) Inbox() chan<- *modabi.Envelope { return rr.in }

// Run drains envelopes until ctx is done, routing each to its destination
// pipeline's inbox.
func (rr *RuntimeRouter) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-rr.in:
			if !ok {
				return
			}
			if err := rr.route(env); err != nil {
				rr.log.Error().Err(err).Msg("routing error")
				panic(err)
			}
		}
	}
}

func (rr *RuntimeRouter) route(env *modabi.Envelope) error {
	var dest ids.PipelineID
	if env.TargetPipeline != nil {
		dest = *env.TargetPipeline
	} else {
		owner, ok := rr.owners[env.StepAttach]
		if !ok {
			return &RoutingError{Reason: "no owning pipeline for step-attach"}
		}
		dest = owner
	}

	// A pipeline that dispatches a call whose destination is itself is
	// always, in fact, returning: there is no separate callee instance to
	// run it.
	if !env.ReturnToCaller {
		if producerOwner, ok := rr.owners[env.Request.Origin]; ok && producerOwner == dest {
			env.ReturnToCaller = true
		}
	}

	sink, ok := rr.sinks[dest]
	if !ok {
		return &RoutingError{Reason: "destination sink not registered"}
	}
	sink <- env
	return nil
}
