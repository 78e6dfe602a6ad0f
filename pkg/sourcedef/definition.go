// Package sourcedef loads event source descriptions from files and turns
// them into an event.Registry.
//
// Two formats are supported. YAML files (.yaml, .yml) hold a "sources" list:
//
//	sources:
//	  - name: bus
//	    kind: change
//	    width: 8
//	    fields:
//	      - {name: lo, width: 4}
//	      - {name: hi, width: 4}
//
// Source files (.src) use a line oriented DSL with # comments:
//
//	source bus change 8 depth 64 { lo:4 hi:4 }
//	source irq strobe 0
package sourcedef

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
)

// Definition is one source as written in a description file. Depth zero
// selects the default for the width.
type Definition struct {
	Name   string
	Kind   string
	Width  int
	Depth  int
	Fields []event.Field
	// Pos locates the definition for error messages; empty for YAML.
	Pos string
}

// Build registers defs in order. The first invalid definition aborts the
// build.
func Build(defs []Definition) (*event.Registry, error) {
	b := event.NewBuilder()
	for _, def := range defs {
		kind, err := event.ParseKind(def.Kind)
		if err != nil {
			return nil, def.wrap(err)
		}
		var opts []event.Option
		if def.Depth != 0 {
			opts = append(opts, event.WithDepth(def.Depth))
		}
		if len(def.Fields) > 0 {
			opts = append(opts, event.WithFields(def.Fields...))
		}
		if _, err := b.Add(def.Name, kind, def.Width, opts...); err != nil {
			return nil, def.wrap(err)
		}
	}
	return b.Build()
}

func (d Definition) wrap(err error) error {
	if d.Pos != "" {
		return fmt.Errorf("%s: source %q: %w", d.Pos, d.Name, err)
	}
	return fmt.Errorf("source %q: %w", d.Name, err)
}

// LoadFile reads a description file, choosing the format by extension.
func LoadFile(path string) (*event.Registry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open source description: %w", err)
	}
	defer f.Close()

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return ParseYAML(f)
	case ".src":
		return ParseDSL(path, f)
	}
	return nil, fmt.Errorf("unsupported source description %q: want .yaml, .yml or .src", path)
}
