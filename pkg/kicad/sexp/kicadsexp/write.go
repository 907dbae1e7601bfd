package kicadsexp

import (
	"bufio"
	"io"
	"strings"
)

// Write serializes expressions to w, one top-level expression per line.
// Lists nested at most two levels deep stay on one line. Longer lists keep
// their leading atoms and flat sublists on the first line and put each
// remaining element on its own line, indented two spaces per level.
func Write(w io.Writer, exprs ...Sexp) error {
	bw := bufio.NewWriter(w)
	for _, e := range exprs {
		writeIndented(bw, e, 0)
		bw.WriteByte('\n')
	}
	return bw.Flush()
}

// Format returns the indented form of a single expression.
func Format(e Sexp) string {
	var b strings.Builder
	writeIndented(&b, e, 0)
	return b.String()
}

type byteWriter interface {
	io.Writer
	io.StringWriter
	io.ByteWriter
}

func writeIndented(w byteWriter, e Sexp, depth int) {
	l, ok := e.(*List)
	if !ok || nesting(l) <= 2 {
		writeCompact(w, e)
		return
	}
	w.WriteByte('(')
	broken := false
	for i, item := range l.elements {
		if !broken && nesting(item) > 1 {
			broken = true
		}
		if broken {
			w.WriteByte('\n')
			w.WriteString(strings.Repeat("  ", depth+1))
		} else if i > 0 {
			w.WriteByte(' ')
		}
		writeIndented(w, item, depth+1)
	}
	w.WriteByte(')')
}

// nesting is 0 for atoms and 1 + the deepest element for lists.
func nesting(e Sexp) int {
	l, ok := e.(*List)
	if !ok {
		return 0
	}
	max := 0
	for _, item := range l.elements {
		if d := nesting(item); d > max {
			max = d
		}
	}
	return max + 1
}

func writeCompact(w byteWriter, e Sexp) {
	switch v := e.(type) {
	case nil:
		w.WriteString("()")
	case Symbol:
		writeAtom(w, string(v))
	case *List:
		w.WriteByte('(')
		for i, item := range v.elements {
			if i > 0 {
				w.WriteByte(' ')
			}
			writeCompact(w, item)
		}
		w.WriteByte(')')
	default:
		w.WriteString(e.String())
	}
}

// writeAtom emits s bare when the lexer would read it back unchanged,
// quoted otherwise.
func writeAtom(w byteWriter, s string) {
	if !needsQuote(s) {
		w.WriteString(s)
		return
	}
	w.WriteByte('"')
	for _, r := range s {
		switch r {
		case '"', '\\':
			w.WriteByte('\\')
			w.WriteString(string(r))
		case '\n':
			w.WriteString(`\n`)
		case '\t':
			w.WriteString(`\t`)
		case '\r':
			w.WriteString(`\r`)
		default:
			w.WriteString(string(r))
		}
	}
	w.WriteByte('"')
}

func needsQuote(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		switch r {
		case '(', ')', '"', '\\', ' ', '\t', '\n', '\r', '\v', '\f':
			return true
		}
		if r > 0x7f && strings.TrimSpace(string(r)) == "" {
			return true
		}
	}
	return false
}
