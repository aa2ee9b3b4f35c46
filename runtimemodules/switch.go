// Grounded on original_source/modules/switch/src/lib.rs and the teacher's
// steps/if.go: a conditional router. Unlike the original, which evaluates
// an arbitrary rhai script against the payload, this reads a field name
// out of a mapping payload directly; scripted targets belong to the
// script module, the one place this runtime embeds a JS engine.
package runtimemodules

import (
	"context"

	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/modabi"
	"github.com/carbonopen/labrun/value"
)

// switchCase is one params.case entry: match payload[Field] against Value,
// and if it matches, attach to Attach instead of falling through.
type switchCase struct {
	Value  value.Value
	Attach string
}

// NewSwitch returns a module that inspects a field of its payload and
// attaches to the first matching case's target, or to params.attach (or
// the step's default attach) when nothing matches.
func NewSwitch() modabi.Module {
	return modabi.ModuleFunc(func(ctx context.Context, stepID ids.StepID, announce modabi.AnnounceChan, output modabi.OutputChan, cfg modabi.StartConfig) {
		reqCh := make(modabi.RequestChan, 8)
		announce <- reqCh

		field, cases, fallback := parseSwitchParams(cfg.Params)

		for {
			select {
			case req := <-reqCh:
				attach := fallback
				if fallback == "" {
					attach = cfg.DefaultAttach
				}

				if v, ok := req.Payload.Value(); ok {
					if m, ok := v.AsMapping(); ok {
						if target, ok := m[field]; ok {
							for _, c := range cases {
								if valuesEqual(target, c.Value) {
									attach = c.Attach
									break
								}
							}
						}
					}
				}

				resp := &modabi.Response{Origin: stepID, Payload: req.Payload, Trace: req.Trace, Attach: attach}
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

// parseSwitchParams reads params.field (string), params.case (sequence of
// mappings with "case" and "attach" keys) and params.attach (fallback).
func parseSwitchParams(params value.Value) (field string, cases []switchCase, fallback string) {
	m, ok := params.AsMapping()
	if !ok {
		return "", nil, ""
	}

	if f, ok := m["field"]; ok {
		field, _ = f.AsString()
	}
	if a, ok := m["attach"]; ok {
		fallback, _ = a.AsString()
	}
	if raw, ok := m["case"]; ok {
		if seq, ok := raw.AsSequence(); ok {
			for _, entry := range seq {
				em, ok := entry.AsMapping()
				if !ok {
					continue
				}
				caseVal, hasCase := em["case"]
				attachVal, hasAttach := em["attach"]
				if !hasCase || !hasAttach {
					continue
				}
				attachStr, _ := attachVal.AsString()
				cases = append(cases, switchCase{Value: caseVal, Attach: attachStr})
			}
		}
	}
	return field, cases, fallback
}

// valuesEqual compares two scalar values of the same kind (string, number
// or bool), sidestepping a full structural-equality definition for
// value.Value. Values of different kinds, and non-scalars, never match.
func valuesEqual(a, b value.Value) bool {
	as, aok := a.AsString()
	bs, bok := b.AsString()
	if aok && bok {
		return as == bs
	}
	an, aok := a.AsNumber()
	bn, bok := b.AsNumber()
	if aok && bok {
		return an == bn
	}
	ab, aok := a.AsBool()
	bb, bok := b.AsBool()
	if aok && bok {
		return ab == bb
	}
	return false
}
