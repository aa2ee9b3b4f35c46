// Package ordering implements the step ordering engine: it takes a
// pipeline's steps in file order and permutes them according to each
// step's at-most-one ordering directive (step<n>, first, last, before,
// after). Ordering resolves before/after targets by reference string, not
// by id, since ids are not yet assigned when ordering runs.
package ordering

import (
	"fmt"

	"github.com/carbonopen/labrun/compiled"
	"github.com/carbonopen/labrun/parsedform"
)

// Order returns a new slice holding steps in their final order. The input
// slice is not mutated. Applying Order twice to its own output is a no-op,
// since every directive is resolved relative to reference strings that
// survive the permutation.
func Order(steps []*compiled.Step) ([]*compiled.Step, error) {
	result := make([]*compiled.Step, len(steps))
	copy(result, steps)

	result = applyStepIndex(result)
	result = bringToFront(result, func(s *compiled.Step) bool { return s.Tags.Order == parsedform.OrderFirst })
	result = sendToBack(result, func(s *compiled.Step) bool { return s.Tags.Order == parsedform.OrderLast })

	var err error
	result, err = applyRelational(result, parsedform.OrderAfter, steps)
	if err != nil {
		return nil, err
	}
	result, err = applyRelational(result, parsedform.OrderBefore, steps)
	if err != nil {
		return nil, err
	}

	return result, nil
}

// applyStepIndex moves every step<n>-tagged step to absolute index n,
// processed in original file order. n is the desired final index in the
// list after that step's own removal.
func applyStepIndex(result []*compiled.Step) []*compiled.Step {
	for _, s := range result {
		if s.Tags.Order != parsedform.OrderStep {
			continue
		}
		from := indexOf(result, s)
		result = moveTo(result, from, s.Tags.Index)
	}
	return result
}

func moveTo(list []*compiled.Step, from, to int) []*compiled.Step {
	s := list[from]
	list = append(list[:from:from], list[from+1:]...)
	if to < 0 {
		to = 0
	}
	if to > len(list) {
		to = len(list)
	}
	out := make([]*compiled.Step, 0, len(list)+1)
	out = append(out, list[:to]...)
	out = append(out, s)
	out = append(out, list[to:]...)
	return out
}

func bringToFront(result []*compiled.Step, match func(*compiled.Step) bool) []*compiled.Step {
	var picked, rest []*compiled.Step
	for _, s := range result {
		if match(s) {
			picked = append(picked, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(picked, rest...)
}

func sendToBack(result []*compiled.Step, match func(*compiled.Step) bool) []*compiled.Step {
	var picked, rest []*compiled.Step
	for _, s := range result {
		if match(s) {
			picked = append(picked, s)
		} else {
			rest = append(rest, s)
		}
	}
	return append(rest, picked...)
}

// applyRelational handles both before and after: for each step tagged with
// kind, in original file order, remove it from its current position and
// reinsert it adjacent to the step whose Ref matches its target.
func applyRelational(result []*compiled.Step, kind parsedform.OrderKind, original []*compiled.Step) ([]*compiled.Step, error) {
	for _, s := range original {
		if s.Tags.Order != kind {
			continue
		}
		from := indexOf(result, s)
		list := append(result[:from:from], result[from+1:]...)
		insertAt := indexOfRef(list, s.Tags.Ref)
		if insertAt < 0 {
			return nil, fmt.Errorf("ordering: step %q references unresolved target %q", s.Ref, s.Tags.Ref)
		}
		if kind == parsedform.OrderAfter {
			insertAt++
		}
		out := make([]*compiled.Step, 0, len(list)+1)
		out = append(out, list[:insertAt]...)
		out = append(out, s)
		out = append(out, list[insertAt:]...)
		result = out
	}
	return result, nil
}

func indexOf(list []*compiled.Step, target *compiled.Step) int {
	for i, s := range list {
		if s == target {
			return i
		}
	}
	return -1
}

func indexOfRef(list []*compiled.Step, ref string) int {
	for i, s := range list {
		if s.Ref == ref {
			return i
		}
	}
	return -1
}
