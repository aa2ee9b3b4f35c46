// Grounded on original_source/modules/print/src/lib.rs: writes each
// payload to stdout and forwards it unchanged.
package runtimemodules

import (
	"context"
	"fmt"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
)

// NewPrint returns a module that prints each request's payload to stdout
// and forwards it unchanged.
func NewPrint() modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, stepID ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 8)
		announce <- reqCh

		for {
			select {
			case req := <-reqCh:
				if v, ok := req.Payload.Value(); ok {
					fmt.Printf("[%s] %+v\n", cfg.Ref, v)
				} else {
					fmt.Printf("[%s] <empty>\n", cfg.Ref)
				}
				resp := &modabi.Response{Origin: stepID, Payload: req.Payload, Trace: req.Trace}
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
