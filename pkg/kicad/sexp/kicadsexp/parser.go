package kicadsexp

import (
	"fmt"
	"io"
)

// Parser reads top-level S-expressions one at a time. Nesting is tracked on
// an explicit stack, so deeply nested input cannot exhaust the goroutine stack.
type Parser struct {
	lexer *Lexer
}

// NewParser creates a parser over r.
func NewParser(r io.Reader) *Parser {
	return &Parser{lexer: NewLexer(r)}
}

// ParseAll parses every remaining top-level expression.
func (p *Parser) ParseAll() ([]Sexp, error) {
	var out []Sexp
	for {
		expr, err := p.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, expr)
	}
}

// openList is a list under construction and the line of its '('.
type openList struct {
	list *List
	line int
}

// Next parses the next top-level expression. It returns io.EOF when the
// input is exhausted.
func (p *Parser) Next() (Sexp, error) {
	var stack []openList
	for {
		tok, err := p.lexer.NextToken()
		if err != nil {
			return nil, err
		}

		var done Sexp
		switch tok.Type {
		case TokenEOF:
			if len(stack) == 0 {
				return nil, io.EOF
			}
			return nil, fmt.Errorf("line %d: unexpected EOF in list", stack[len(stack)-1].line)
		case TokenLeftParen:
			stack = append(stack, openList{list: &List{}, line: tok.Line})
			continue
		case TokenRightParen:
			if len(stack) == 0 {
				return nil, fmt.Errorf("line %d: unexpected ')'", tok.Line)
			}
			done = stack[len(stack)-1].list
			stack = stack[:len(stack)-1]
		case TokenSymbol, TokenString:
			done = Symbol(tok.Value)
		default:
			return nil, fmt.Errorf("line %d: unexpected token %v", tok.Line, tok.Type)
		}

		if len(stack) == 0 {
			return done, nil
		}
		top := stack[len(stack)-1].list
		top.elements = append(top.elements, done)
	}
}
