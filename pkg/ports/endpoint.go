package ports

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"

	"github.com/OpenTraceLab/OpenTraceEDB/pkg/faults"
)

// EndpointLexer tokenizes "(component, net)". Whitespace is kept as a token
// because net names may contain inner spaces.
var EndpointLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Comma", Pattern: `,`},
	{Name: "Word", Pattern: `[^\s(),]+`},
})

// endpointAST is the grammar of one port side. The component is a single
// word; the net runs up to the closing parenthesis and may contain spaces and
// commas.
type endpointAST struct {
	Component string   `parser:"Whitespace? LParen Whitespace? @Word Whitespace? Comma"`
	Net       []string `parser:"Whitespace? @(Word | Comma | Whitespace)+ RParen Whitespace?"`
}

var endpointParser = participle.MustBuild[endpointAST](
	participle.Lexer(EndpointLexer),
	participle.UseLookahead(2),
)

// Endpoint is one side of a port: a component and one of its nets.
type Endpoint struct {
	Component string `json:"component"`
	Net       string `json:"net"`
}

// String formats the endpoint in the syntax ParseEndpoint accepts.
func (e Endpoint) String() string {
	return "(" + e.Component + ", " + e.Net + ")"
}

// ParseEndpoint parses "(component, net)". Surrounding whitespace is
// ignored; anything else malformed is a validation error.
func ParseEndpoint(s string) (Endpoint, error) {
	ast, err := endpointParser.ParseString("", s)
	if err != nil {
		return Endpoint{}, faults.Validationf("invalid endpoint %q: expected \"(component, net)\"", s)
	}
	net := strings.TrimSpace(strings.Join(ast.Net, ""))
	if net == "" {
		return Endpoint{}, faults.Validationf("invalid endpoint %q: empty net name", s)
	}
	return Endpoint{Component: ast.Component, Net: net}, nil
}
