package kicadsexp

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"unicode"
)

// TokenType is the kind of a lexical token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenLeftParen
	TokenRightParen
	TokenSymbol
	TokenString
)

func (t TokenType) String() string {
	switch t {
	case TokenEOF:
		return "EOF"
	case TokenLeftParen:
		return "'('"
	case TokenRightParen:
		return "')'"
	case TokenSymbol:
		return "symbol"
	case TokenString:
		return "string"
	}
	return fmt.Sprintf("token(%d)", int(t))
}

// Token is one lexical token and the line it started on.
type Token struct {
	Type  TokenType
	Value string
	Line  int
}

// Lexer tokenizes S-expressions from an io.Reader. It reads one rune at a
// time, so input size is bounded only by the parsed result.
type Lexer struct {
	r    *bufio.Reader
	line int
}

// NewLexer creates a lexer.
func NewLexer(r io.Reader) *Lexer {
	return &Lexer{r: bufio.NewReader(r), line: 1}
}

// NextToken returns the next token, or a TokenEOF token at end of input.
func (l *Lexer) NextToken() (Token, error) {
	ch, err := l.skipSpace()
	if err == io.EOF {
		return Token{Type: TokenEOF, Line: l.line}, nil
	}
	if err != nil {
		return Token{}, err
	}

	switch ch {
	case '(':
		return Token{Type: TokenLeftParen, Value: "(", Line: l.line}, nil
	case ')':
		return Token{Type: TokenRightParen, Value: ")", Line: l.line}, nil
	case '"':
		return l.readString()
	}
	return l.readSymbol(ch)
}

// skipSpace consumes whitespace and returns the first other rune.
func (l *Lexer) skipSpace() (rune, error) {
	for {
		ch, err := l.read()
		if err != nil {
			return 0, err
		}
		if !unicode.IsSpace(ch) {
			return ch, nil
		}
	}
}

func (l *Lexer) read() (rune, error) {
	ch, _, err := l.r.ReadRune()
	if err == nil && ch == '\n' {
		l.line++
	}
	return ch, err
}

// unread pushes back the last rune read.
func (l *Lexer) unread() {
	l.r.UnreadRune()
}

// readString reads the rest of a quoted string; the opening quote is gone.
func (l *Lexer) readString() (Token, error) {
	start := l.line
	var b strings.Builder
	for {
		ch, err := l.read()
		if err != nil {
			if err == io.EOF {
				return Token{}, fmt.Errorf("line %d: unexpected EOF in string", start)
			}
			return Token{}, err
		}
		switch ch {
		case '"':
			return Token{Type: TokenString, Value: b.String(), Line: start}, nil
		case '\\':
			next, err := l.read()
			if err != nil {
				return Token{}, fmt.Errorf("line %d: unexpected EOF after backslash", l.line)
			}
			switch next {
			case 'n':
				b.WriteByte('\n')
			case 't':
				b.WriteByte('\t')
			case 'r':
				b.WriteByte('\r')
			default:
				b.WriteRune(next)
			}
		default:
			b.WriteRune(ch)
		}
	}
}

// readSymbol reads a bare atom starting with first.
func (l *Lexer) readSymbol(first rune) (Token, error) {
	var b strings.Builder
	b.WriteRune(first)
	for {
		ch, err := l.read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Token{}, err
		}
		if unicode.IsSpace(ch) || ch == '(' || ch == ')' || ch == '"' {
			if ch == '\n' {
				l.line--
			}
			l.unread()
			break
		}
		b.WriteRune(ch)
	}
	return Token{Type: TokenSymbol, Value: b.String(), Line: l.line}, nil
}
