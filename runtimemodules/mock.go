// Grounded on original_source/modules/mock/src/lib.rs: a module that, when
// tagged producer, emits its own params once as a fresh trace before doing
// anything else, then forwards every request it receives unchanged,
// applying the step's default attach either way.
package runtimemodules

import (
	"context"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
	"github.com/carbonopen/labrun/value"
)

// NewMock returns a module useful for fixtures and tests: as a producer it
// seeds a pipeline with a fixed value; as a pass-through it just forwards.
func NewMock() modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, stepID ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 8)
		announce <- reqCh

		if cfg.Producer {
			resp := &modabi.Response{
				Origin:  stepID,
				Payload: value.Ok(cfg.Params),
				Trace:   modabi.TraceContext{ID: cfg.NewTrace()},
				Attach:  cfg.DefaultAttach,
			}
			select {
			case output <- resp:
			case <-ctx.Done():
				return
			}
		}

		for {
			select {
			case req := <-reqCh:
				resp := &modabi.Response{
					Origin:  stepID,
					Payload: req.Payload,
					Trace:   req.Trace,
					Attach:  cfg.DefaultAttach,
				}
				select {
				case output <- resp:
				case <-ctx.Done():
					return
				}
			case <-ctx.Done():
				return
			}
		}
	})
}
