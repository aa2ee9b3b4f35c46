// worker.go is the step worker (C6): the thin host-side harness that
// starts a loaded module on its own goroutine and blocks until it
// publishes its inbound request channel, per the module ABI.
package router

import (
	"context"
	"fmt"
	"time"

	"github.com/carbonopen/labrun/compiled"
	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
)

// announceTimeout bounds how long a worker waits for a module to publish
// its request channel at start. A well-behaved module does this before
// any other work; a module that never does is a build/deploy defect, not
// a condition the runtime should block on forever.
const announceTimeout = 5 * time.Second

// StartLeaf starts step's module on its own goroutine and returns the
// channel the pipeline router should use to send it requests, once the
// module has announced it. alloc mints trace ids for producer modules
// that originate messages on their own.
func StartLeaf(ctx context.Context, step *compiled.Step, module modabi.Module, output modabi.OutputChan, alloc *ids.Allocator) (modabi.RequestChan, error) {
	announce := make(modabi.AnnounceChan, 1)
	cfg := modabi.StartConfig{
		Ref:           step.Ref,
		Params:        step.Params,
		Args:          step.Args,
		Producer:      step.Tags.Producer,
		DefaultAttach: step.Attach,
		NewTrace:      alloc.NextTraceID,
	}

	go module.Start(ctx, step.ID, announce, output, cfg)

	select {
	case reqCh := <-announce:
		return reqCh, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(announceTimeout):
		return nil, fmt.Errorf("router: step %d (%s) did not announce its request sink within %s", step.ID, step.Ref, announceTimeout)
	}
}
