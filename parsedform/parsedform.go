// Package parsedform decodes the "already-parsed pipeline description"
// external contract the builder consumes. The real labrun DSL parser is
// out of scope; YAML is the stand-in wire format here, the same way the
// teacher repo represents its own pipeline configuration in YAML.
package parsedform

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/carbonopen/labrun/value"
)

// ImportEntry names one import: a local alias and the path of the thing it
// refers to. For a leaf module (import.bin), Path is either a filesystem
// path (resolved relative to the owning pipeline file) or a bare logical
// name with no path separator or extension — e.g. "log" — which the
// builder passes through verbatim for a module loader's registry of
// bundled modules to resolve. Sub-pipeline entries (import.mod) are always
// filesystem paths.
type ImportEntry struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
}

// Import groups the two import kinds a pipeline file can declare.
type Import struct {
	Bin []ImportEntry `yaml:"bin,omitempty"`
	Mod []ImportEntry `yaml:"mod,omitempty"`
}

// OrderKind is the at-most-one ordering directive a step's tags carry.
type OrderKind string

const (
	OrderNone   OrderKind = ""
	OrderStep   OrderKind = "step"
	OrderFirst  OrderKind = "first"
	OrderLast   OrderKind = "last"
	OrderBefore OrderKind = "before"
	OrderAfter  OrderKind = "after"
)

// Tags is a step's ordering/role directives. Producer is independent of
// the ordering directive; at most one of Order's non-none values may be
// set per step (enforced by UnmarshalYAML, which rejects a second one).
type Tags struct {
	Producer bool
	Order    OrderKind
	Ref      string // target reference, for before/after
	Index    int    // absolute position, for step
}

// UnmarshalYAML accepts a tags mapping such as:
//
//	tags:
//	  producer: true
//	  after: some-ref
//
// or
//
//	tags:
//	  step: 2
func (t *Tags) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("tags: expected a mapping, got %v", node.Kind)
	}
	raw := map[string]yaml.Node{}
	for i := 0; i+1 < len(node.Content); i += 2 {
		raw[node.Content[i].Value] = *node.Content[i+1]
	}

	if n, ok := raw["producer"]; ok {
		var b bool
		if err := n.Decode(&b); err != nil {
			return fmt.Errorf("tags.producer: %w", err)
		}
		t.Producer = b
	}

	seen := OrderNone
	set := func(kind OrderKind) error {
		if seen != OrderNone {
			return fmt.Errorf("tags: at most one of step/first/last/before/after may be set, found %q and %q", seen, kind)
		}
		seen = kind
		return nil
	}

	if n, ok := raw["step"]; ok {
		if err := set(OrderStep); err != nil {
			return err
		}
		if err := n.Decode(&t.Index); err != nil {
			return fmt.Errorf("tags.step: %w", err)
		}
	}
	if _, ok := raw["first"]; ok {
		if err := set(OrderFirst); err != nil {
			return err
		}
	}
	if _, ok := raw["last"]; ok {
		if err := set(OrderLast); err != nil {
			return err
		}
	}
	if n, ok := raw["after"]; ok {
		if err := set(OrderAfter); err != nil {
			return err
		}
		if err := n.Decode(&t.Ref); err != nil {
			return fmt.Errorf("tags.after: %w", err)
		}
	}
	if n, ok := raw["before"]; ok {
		if err := set(OrderBefore); err != nil {
			return err
		}
		if err := n.Decode(&t.Ref); err != nil {
			return fmt.Errorf("tags.before: %w", err)
		}
	}

	t.Order = seen
	return nil
}

// Step is one entry in the parsed form's pipeline array.
type Step struct {
	Module string      `yaml:"module"`
	Ref    string      `yaml:"ref,omitempty"`
	Params value.Value `yaml:"params,omitempty"`
	Attach string      `yaml:"attach,omitempty"`
	Args   value.Value `yaml:"args,omitempty"`
	Tags   Tags        `yaml:"tags,omitempty"`
}

// Pipeline is the top-level parsed-form document for one pipeline file.
type Pipeline struct {
	Import   Import `yaml:"import,omitempty"`
	Pipeline []Step `yaml:"pipeline"`
}

// Decode parses a parsed-form YAML document.
func Decode(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("parsedform: %w", err)
	}
	return &p, nil
}

// LoadFile reads and decodes a parsed-form document from disk.
func LoadFile(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("parsedform: read %s: %w", path, err)
	}
	p, err := Decode(data)
	if err != nil {
		return nil, fmt.Errorf("parsedform: %s: %w", path, err)
	}
	return p, nil
}
