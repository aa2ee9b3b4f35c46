// Package runtimemodules ships the reference leaf modules labrun bundles
// so the module loader and the end-to-end scenarios have something real
// to drive without depending on an externally built .so: log, print,
// mock, switch, delay and script. Individually these are out of the
// core's scope; together they are grounded on original_source/modules/*
// (log, print, mock, switch) and the teacher's steps/delay.go and
// steps/js.go.
package runtimemodules

import "github.com/carbonopen/labrun/modloader"

// Register populates r with every bundled reference module, keyed by the
// names used in this package's own examples and tests: "log", "print",
// "mock", "switch", "delay", "script".
func Register(r *modloader.Registry) {
	r.Register("log", NewLog)
	r.Register("print", NewPrint)
	r.Register("mock", NewMock)
	r.Register("switch", NewSwitch)
	r.Register("delay", NewDelay)
	r.Register("script", NewScript)
}
