// Grounded on the teacher's steps/delay.go: pauses the pipeline for a
// configured duration, then forwards the payload unchanged.
package runtimemodules

import (
	"context"
	"time"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
	"github.com/carbonopen/labrun/value"
)

// NewDelay returns a module that sleeps for params.ms milliseconds before
// forwarding each request's payload unchanged. A non-numeric or missing ms
// is treated as zero.
func NewDelay() modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, stepID ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 8)
		announce <- reqCh

		ms := delayMillis(cfg.Params)

		for {
			select {
			case req := <-reqCh:
				select {
				case <-time.After(time.Duration(ms) * time.Millisecond):
				case <-ctx.Done():
					return
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

func delayMillis(params value.Value) float64 {
	m, ok := params.AsMapping()
	if !ok {
		return 0
	}
	ms, ok := m["ms"]
	if !ok {
		return 0
	}
	n, _ := ms.AsNumber()
	return n
}
