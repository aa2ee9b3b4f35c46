// Package builder implements the pipeline builder: a worklist-driven walk
// from a root pipeline path that discovers every sub-pipeline transitively
// reached, shares pipelines referenced from more than one place, orders
// each pipeline's steps, and assigns the final, globally contiguous step
// ids.
package builder

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/carbonopen/labrun/compiled"
	"github.com/carbonopen/labrun/ids"
	"github.com/carbonopen/labrun/ordering"
	"github.com/carbonopen/labrun/parsedform"
)

// Builder turns a root parsed-form pipeline path into a compiled.Project.
type Builder struct {
	alloc *ids.Allocator
	log   zerolog.Logger
}

// New returns a Builder that mints pipeline ids from alloc.
func New(alloc *ids.Allocator, log zerolog.Logger) *Builder {
	return &Builder{alloc: alloc, log: log}
}

// Build discovers, orders and id-assigns every pipeline reachable from
// rootPath. Every error returned is wrapped with the offending pipeline's
// canonical path, at every propagation point, not just the innermost.
func (b *Builder) Build(rootPath string) (*compiled.Project, error) {
	root, err := filepath.Abs(rootPath)
	if err != nil {
		return nil, fmt.Errorf("builder: resolve root path %s: %w", rootPath, err)
	}

	proj := compiled.NewProject()
	proj.RootPath = root

	worklist := []string{root}
	seen := map[string]bool{}

	for len(worklist) > 0 {
		path := worklist[0]
		worklist = worklist[1:]
		if seen[path] {
			continue
		}
		seen[path] = true

		pipeline, discovered, err := b.buildOne(path)
		if err != nil {
			return nil, fmt.Errorf("pipeline %s: %w", path, err)
		}

		proj.Pipelines[path] = pipeline
		proj.BuildOrder = append(proj.BuildOrder, path)
		for _, m := range pipeline.Modules {
			if m.Kind == compiled.Leaf {
				proj.LeafModules[m.Path] = struct{}{}
			}
		}

		for _, d := range discovered {
			if !seen[d] {
				worklist = append(worklist, d)
			}
		}
	}

	// Second pass: resolve every sub-pipeline step's target pipeline id,
	// now that every pipeline in the project has one.
	for _, path := range proj.BuildOrder {
		p := proj.Pipelines[path]
		for _, s := range p.Steps {
			if s.ModuleKind != compiled.SubPipeline {
				continue
			}
			mod := p.Modules[s.ModuleAlias]
			target, ok := proj.Pipelines[mod.Path]
			if !ok {
				return nil, fmt.Errorf("pipeline %s: step %q: sub-pipeline %s was never built", path, s.Ref, mod.Path)
			}
			s.TargetPipeline = target.ID
		}
	}

	b.assignStepIDs(proj)

	return proj, nil
}

// buildOne loads and compiles a single pipeline file, without resolving
// sub-pipeline target ids (that needs every pipeline's id, assigned once
// the whole worklist has drained). It returns the canonical paths of any
// sub-pipelines it discovered, for the caller to enqueue.
func (b *Builder) buildOne(path string) (*compiled.Pipeline, []string, error) {
	raw, err := parsedform.LoadFile(path)
	if err != nil {
		return nil, nil, err
	}

	pipeline := &compiled.Pipeline{
		Path:    path,
		ID:      b.alloc.NextPipelineID(),
		Modules: map[string]*compiled.Module{},
	}

	var discovered []string
	dir := filepath.Dir(path)

	for _, entry := range raw.Import.Bin {
		path := entry.Path
		if !isBareReference(path) {
			var err error
			path, err = resolveRelative(dir, path)
			if err != nil {
				return nil, nil, fmt.Errorf("import.bin %q: %w", entry.Name, err)
			}
		}
		pipeline.Modules[entry.Name] = &compiled.Module{Name: entry.Name, Kind: compiled.Leaf, Path: path}
	}
	for _, entry := range raw.Import.Mod {
		abs, err := resolveRelative(dir, entry.Path)
		if err != nil {
			return nil, nil, fmt.Errorf("import.mod %q: %w", entry.Name, err)
		}
		pipeline.Modules[entry.Name] = &compiled.Module{Name: entry.Name, Kind: compiled.SubPipeline, Path: abs}
		discovered = append(discovered, abs)
	}

	steps, err := b.convertSteps(raw.Pipeline, pipeline.Modules)
	if err != nil {
		return nil, nil, err
	}

	ordered, err := ordering.Order(steps)
	if err != nil {
		return nil, nil, err
	}
	for i, s := range ordered {
		s.Position = i
	}
	pipeline.Steps = ordered

	return pipeline, discovered, nil
}

func (b *Builder) convertSteps(raw []parsedform.Step, modules map[string]*compiled.Module) ([]*compiled.Step, error) {
	steps := make([]*compiled.Step, 0, len(raw))
	seenRefs := map[string]bool{}

	for i, rs := range raw {
		mod, ok := modules[rs.Module]
		if !ok {
			return nil, fmt.Errorf("step %d: references unknown module %q", i, rs.Module)
		}
		if rs.Ref != "" {
			if isAutoReference(rs.Ref) {
				return nil, fmt.Errorf("step %d: reference %q collides with the auto-generated naming scheme", i, rs.Ref)
			}
			if seenRefs[rs.Ref] {
				return nil, fmt.Errorf("step %d: duplicate reference %q", i, rs.Ref)
			}
			seenRefs[rs.Ref] = true
		}

		steps = append(steps, &compiled.Step{
			ModuleAlias: rs.Module,
			ModuleKind:  mod.Kind,
			ModulePath:  mod.Path,
			Ref:         rs.Ref,
			Params:      rs.Params,
			Args:        rs.Args,
			Attach:      rs.Attach,
			Tags:        rs.Tags,
		})
	}

	return steps, nil
}

// assignStepIDs walks the project in build order, handing out contiguous
// global step ids and backfilling any step with no user-supplied
// reference as "step-<id>".
func (b *Builder) assignStepIDs(proj *compiled.Project) {
	var next ids.StepID
	for _, path := range proj.BuildOrder {
		p := proj.Pipelines[path]
		p.StepBase = next
		for _, s := range p.Steps {
			s.ID = next
			proj.StepOwner[next] = p.ID
			if s.Ref == "" {
				s.Ref = fmt.Sprintf("step-%d", s.ID)
			}
			next++
		}
		proj.PipelineByID[p.ID] = p
	}
}

func isAutoReference(ref string) bool {
	if len(ref) < 6 || ref[:5] != "step-" {
		return false
	}
	for _, r := range ref[5:] {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// isBareReference reports whether path looks like a logical module name
// rather than a filesystem path — no path separator and no extension. A
// bare reference is passed through to compiled.Module.Path verbatim and
// resolved later against a modloader.Registry of bundled modules, instead
// of being resolved relative to the owning pipeline file.
func isBareReference(path string) bool {
	if path == "" {
		return false
	}
	if strings.ContainsRune(path, filepath.Separator) || strings.ContainsRune(path, '/') {
		return false
	}
	return !strings.Contains(path, ".")
}

func resolveRelative(dir, rel string) (string, error) {
	if filepath.IsAbs(rel) {
		return filepath.Clean(rel), nil
	}
	abs, err := filepath.Abs(filepath.Join(dir, rel))
	if err != nil {
		return "", err
	}
	return abs, nil
}
