package sourcedef

import (
	"fmt"
	"io"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/OpenTraceLab/OpenTraceLA/pkg/event"
)

// dslLexer tokenizes .src files. Keywords are plain identifiers matched by
// value in the grammar.
var dslLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `#[^\n]*`},
	{Name: "Whitespace", Pattern: `[\s]+`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_]*`},
	{Name: "Int", Pattern: `[0-9]+`},
	{Name: "Punct", Pattern: `[{}:]`},
})

// dslFile is the root of a parsed .src file.
type dslFile struct {
	Sources []*dslSource `@@*`
}

// dslSource is one "source" statement.
// Example: source bus change 8 depth 64 { lo:4 hi:4 }
type dslSource struct {
	Pos lexer.Position

	Name   string      `"source" @Ident`
	Kind   string      `@Ident`
	Width  int         `@Int`
	Depth  int         `( "depth" @Int )?`
	Fields []*dslField `( "{" @@* "}" )?`
}

type dslField struct {
	Name  string `@Ident ":"`
	Width int    `@Int`
}

var dslParser = participle.MustBuild[dslFile](
	participle.Lexer(dslLexer),
	participle.Elide("Comment", "Whitespace"),
	participle.UseLookahead(2),
)

// ParseDSL reads a .src description. name is used in error positions.
func ParseDSL(name string, r io.Reader) (*event.Registry, error) {
	file, err := dslParser.Parse(name, r)
	if err != nil {
		return nil, fmt.Errorf("parse error: %w", err)
	}

	defs := make([]Definition, 0, len(file.Sources))
	for _, s := range file.Sources {
		def := Definition{
			Name:  s.Name,
			Kind:  s.Kind,
			Width: s.Width,
			Depth: s.Depth,
			Pos:   s.Pos.String(),
		}
		for _, f := range s.Fields {
			def.Fields = append(def.Fields, event.Field{Name: f.Name, Width: f.Width})
		}
		defs = append(defs, def)
	}
	return Build(defs)
}

// ParseDSLString is ParseDSL over an in-memory description.
func ParseDSLString(name, src string) (*event.Registry, error) {
	return ParseDSL(name, strings.NewReader(src))
}
