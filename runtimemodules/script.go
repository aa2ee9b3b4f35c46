// Grounded on the teacher's steps/js.go and config/value.go's resolveJS:
// the one module that embeds goja. params.code is wrapped in an anonymous
// function, given payload and history in scope, and its return value
// becomes the step's output payload.
package runtimemodules

import (
	"context"
	"fmt"

	"github.com/dop251/goja"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
	"github.com/carbonopen/labrun/value"
)

// NewScript returns a module that runs params.code as a JavaScript
// function body against the incoming payload and trace history,
// forwarding its return value as the new payload.
func NewScript() modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, stepID ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 8)
		announce <- reqCh

		code := scriptCode(cfg.Params)

		for {
			select {
			case req := <-reqCh:
				resp := runScript(stepID, code, req)
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

func scriptCode(params value.Value) string {
	m, ok := params.AsMapping()
	if !ok {
		return ""
	}
	c, ok := m["code"]
	if !ok {
		return ""
	}
	s, _ := c.AsString()
	return s
}

func runScript(stepID ids.StepID, code string, req *modabi.Request) *modabi.Response {
	vm := goja.New()

	var payload any
	if v, ok := req.Payload.Value(); ok {
		payload = toAny(v)
	}

	history := make(map[string]any, len(req.History))
	for ref, entry := range req.History {
		if v, ok := entry.Payload.Value(); ok {
			history[ref] = toAny(v)
		}
	}

	if err := vm.Set("payload", payload); err != nil {
		return errorResponse(stepID, req, fmt.Errorf("script: set payload: %w", err))
	}
	if err := vm.Set("history", history); err != nil {
		return errorResponse(stepID, req, fmt.Errorf("script: set history: %w", err))
	}

	wrapped := "(function() {\n" + code + "\n})()"
	result, err := vm.RunString(wrapped)
	if err != nil {
		return errorResponse(stepID, req, fmt.Errorf("script: evaluate: %w", err))
	}

	return &modabi.Response{Origin: stepID, Payload: value.Ok(fromAny(result.Export())), Trace: req.Trace}
}

func errorResponse(stepID ids.StepID, req *modabi.Request, err error) *modabi.Response {
	return &modabi.Response{Origin: stepID, Payload: value.Err(value.String(err.Error())), Trace: req.Trace}
}

// toAny unwraps a value.Value into a plain Go value goja can consume.
func toAny(v value.Value) any {
	if n, ok := v.AsNumber(); ok {
		return n
	}
	if s, ok := v.AsString(); ok {
		return s
	}
	if b, ok := v.AsBool(); ok {
		return b
	}
	if seq, ok := v.AsSequence(); ok {
		out := make([]any, len(seq))
		for i, item := range seq {
			out[i] = toAny(item)
		}
		return out
	}
	if m, ok := v.AsMapping(); ok {
		out := make(map[string]any, len(m))
		for k, item := range m {
			out[k] = toAny(item)
		}
		return out
	}
	return nil
}

// fromAny converts a goja-exported value back into a value.Value.
func fromAny(a any) value.Value {
	switch t := a.(type) {
	case nil:
		return value.Null()
	case bool:
		return value.Bool(t)
	case int64:
		return value.Number(float64(t))
	case float64:
		return value.Number(t)
	case string:
		return value.String(t)
	case []any:
		items := make([]value.Value, len(t))
		for i, item := range t {
			items[i] = fromAny(item)
		}
		return value.Sequence(items...)
	case map[string]any:
		m := make(map[string]value.Value, len(t))
		for k, item := range t {
			m[k] = fromAny(item)
		}
		return value.Mapping(m)
	default:
		return value.String(fmt.Sprintf("%v", t))
	}
}
