// Grounded on original_source/modules/log/src/lib.rs: a pass-through step
// that logs every payload it sees and forwards it unchanged.
package runtimemodules

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
)

// NewLog returns a module that logs each request's payload via the
// global zerolog logger and forwards it unchanged.
func NewLog() modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, stepID ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 8)
		announce <- reqCh

		for {
			select {
			case req := <-reqCh:
				logger := log.With().Uint32("step", uint32(stepID)).Str("ref", cfg.Ref).Logger()
				if v, ok := req.Payload.Value(); ok {
					logger.Info().Str("payload", fmt.Sprintf("%+v", v)).Msg("log")
				} else {
					logger.Info().Bool("ok", req.Payload.IsOk()).Msg("log")
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
