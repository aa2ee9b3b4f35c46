// Package runtime wires a compiled.Project into a running system: one
// pipeline router per pipeline, one shared runtime router, one worker per
// leaf step, started behind the startup barrier described in §5 so no
// router begins routing before every sink it might need to reach exists.
package runtime

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/carbonopen/labrun/compiled"
	"github.com/carbonopen/labrun/history"
	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modloader"
	"github.com/carbonopen/labrun/router"
	"github.com/carbonopen/labrun/trace"
)

// Runtime drives one compiled.Project to completion.
type Runtime struct {
	project *compiled.Project
	loader  modloader.Loader
	log     zerolog.Logger
	alloc   *ids.Allocator
}

// New returns a Runtime that loads leaf modules through loader.
func New(project *compiled.Project, loader modloader.Loader, log zerolog.Logger) *Runtime {
	return &Runtime{project: project, loader: loader, log: log, alloc: ids.NewAllocator()}
}

// Run builds every pipeline router and leaf worker, then blocks until ctx
// is cancelled.
func (rt *Runtime) Run(ctx context.Context) error {
	traces := trace.NewTable()
	runtimeRouter := router.NewRuntimeRouter(rt.project.StepOwner, rt.log)

	pipelineRouters := make(map[ids.PipelineID]*router.PipelineRouter, len(rt.project.BuildOrder))

	// Phase one: construct every pipeline router and register its sink
	// with the runtime router before any router starts running. This is
	// the startup barrier (§5): every pipeline's inbox must already exist
	// before any pipeline can route a sub-pipeline call or return to it.
	for _, path := range rt.project.BuildOrder {
		p := rt.project.Pipelines[path]
		pr := router.NewPipelineRouter(p, history.New(), traces, runtimeRouter.Inbox(), rt.log)
		pipelineRouters[p.ID] = pr
		runtimeRouter.RegisterSink(p.ID, pr.Inbox())
	}
	rt.log.Info().Int("pipelines", len(pipelineRouters)).Msg("startup barrier satisfied")

	// Phase two: start every leaf worker, wiring its announced request
	// channel into its owning pipeline router.
	for _, path := range rt.project.BuildOrder {
		p := rt.project.Pipelines[path]
		pr := pipelineRouters[p.ID]
		for pos, step := range p.Steps {
			if step.ModuleKind != compiled.Leaf {
				continue
			}
			mod, err := rt.loader.Load(step.ModulePath)
			if err != nil {
				return fmt.Errorf("runtime: load module for step %d (%s): %w", step.ID, step.Ref, err)
			}
			sink, err := router.StartLeaf(ctx, step, mod, pr.Responses(), rt.alloc)
			if err != nil {
				return fmt.Errorf("runtime: start step %d (%s): %w", step.ID, step.Ref, err)
			}
			pr.SetSink(pos, sink)
		}
	}

	var wg sync.WaitGroup
	for _, pr := range pipelineRouters {
		wg.Add(1)
		go func(pr *router.PipelineRouter) {
			defer wg.Done()
			pr.Run(ctx)
		}(pr)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		runtimeRouter.Run(ctx)
	}()

	<-ctx.Done()
	wg.Wait()
	return nil
}
