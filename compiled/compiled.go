// Package compiled holds the compile-time data model the builder produces:
// modules, steps, pipelines and the overall project, already ordered and
// id-assigned, ready for the runtime router to drive.
package compiled

import (
	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/parsedform"
	"github.com/carbonopen/labrun/value"
)

// ModuleKind distinguishes a leaf module (driven by a loaded handle) from
// a sub-pipeline (driven by a round trip through the runtime router).
type ModuleKind int

const (
	Leaf ModuleKind = iota
	SubPipeline
)

// Module is a resolved import: a local alias bound to an absolute path and
// a kind.
type Module struct {
	Name string
	Kind ModuleKind
	Path string // absolute path, or a bare leaf module name kept verbatim; for SubPipeline, the canonical pipeline path
}

// Step is one compile-time step record, post-ordering and (once the
// builder's final pass runs) id-assigned.
type Step struct {
	ID          ids.StepID
	Position    int // index within Pipeline.Steps, post-ordering
	ModuleAlias string
	ModuleKind  ModuleKind
	ModulePath  string       // leaf module path (absolute, or a bare name kept verbatim), if ModuleKind == Leaf
	TargetPipeline ids.PipelineID // resolved callee, if ModuleKind == SubPipeline
	Ref         string       // user ref, or "step-<id>" once finalized
	Params      value.Value
	Args        value.Value
	Attach      string // default attach, handed to leaf modules and applied when resuming after a sub-pipeline return
	Tags        parsedform.Tags
}

// DefaultAttach is the step's configured default attach reference.
func (s *Step) DefaultAttach() string { return s.Attach }

// Pipeline is one compiled pipeline: its resolved modules and its ordered,
// id-assigned steps.
type Pipeline struct {
	Path    string // canonical absolute path; the sharing key
	ID      ids.PipelineID
	Steps   []*Step
	Modules map[string]*Module // alias -> resolved module
	StepBase ids.StepID
}

// Project is the full compiled output of a build: every pipeline reached
// from the root, transitively, plus indexes the runtime needs.
type Project struct {
	RootPath     string
	Pipelines    map[string]*Pipeline       // canonical path -> pipeline
	PipelineByID map[ids.PipelineID]*Pipeline
	BuildOrder   []string // canonical paths, in discovery order
	LeafModules  map[string]struct{} // leaf module paths (bare names verbatim), deduplicated
	StepOwner    map[ids.StepID]ids.PipelineID
}

// NewProject returns an empty Project ready for the builder to populate.
func NewProject() *Project {
	return &Project{
		Pipelines:    map[string]*Pipeline{},
		PipelineByID: map[ids.PipelineID]*Pipeline{},
		LeafModules:  map[string]struct{}{},
		StepOwner:    map[ids.StepID]ids.PipelineID{},
	}
}
