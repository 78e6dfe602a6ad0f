package sourcedef

import (
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
)

type yamlFile struct {
	Sources []yamlSource `yaml:"sources"`
}

type yamlSource struct {
	Name   string      `yaml:"name"`
	Kind   string      `yaml:"kind"`
	Width  int         `yaml:"width"`
	Depth  int         `yaml:"depth,omitempty"`
	Fields []yamlField `yaml:"fields,omitempty"`
}

type yamlField struct {
	Name  string `yaml:"name"`
	Width int    `yaml:"width"`
}

// ParseYAML reads a YAML source description. Unknown keys are rejected so
// that typos do not silently change the layout.
func ParseYAML(r io.Reader) (*event.Registry, error) {
	var doc yamlFile
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)
	if err := decoder.Decode(&doc); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	defs := make([]Definition, 0, len(doc.Sources))
	for _, s := range doc.Sources {
		def := Definition{Name: s.Name, Kind: s.Kind, Width: s.Width, Depth: s.Depth}
		for _, f := range s.Fields {
			def.Fields = append(def.Fields, event.Field{Name: f.Name, Width: f.Width})
		}
		defs = append(defs, def)
	}
	return Build(defs)
}

// MarshalYAML renders a registry in the format ParseYAML accepts.
func MarshalYAML(reg *event.Registry) ([]byte, error) {
	var doc yamlFile
	for _, src := range reg.Sources() {
		s := yamlSource{Name: src.Name, Kind: string(src.Kind), Width: src.Width}
		if src.Depth != event.DepthForWidth(src.Width) {
			s.Depth = src.Depth
		}
		for _, f := range src.Fields {
			s.Fields = append(s.Fields, yamlField{Name: f.Name, Width: f.Width})
		}
		doc.Sources = append(doc.Sources, s)
	}
	return yaml.Marshal(&doc)
}
