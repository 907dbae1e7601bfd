// Package kicadsexp provides a lightweight streaming S-expression parser
// optimized for KiCad board files, plus the matching writer used to persist
// edits next to a board. Unlike general-purpose sexp libraries, the parser
// can handle arbitrarily large files by streaming.
package kicadsexp

import (
	"io"
	"strings"
)

// Sexp represents an S-expression node.
// It can be either a leaf (atom) or a list.
type Sexp interface {
	// IsLeaf returns true if this is an atom (not a list)
	IsLeaf() bool

	// LeafCount returns the number of elements in a list (1 for atoms)
	LeafCount() int

	// Head returns the first element of a list (the atom itself for atoms)
	Head() Sexp

	// String returns the string representation
	String() string
}

// Symbol represents an atom. Quoted strings and bare tokens both decode to a
// Symbol holding the unquoted text.
type Symbol string

func (s Symbol) IsLeaf() bool   { return true }
func (s Symbol) LeafCount() int { return 1 }
func (s Symbol) Head() Sexp     { return s }
func (s Symbol) String() string { return string(s) }

// List represents a list of S-expressions
type List struct {
	elements []Sexp
}

// NewList builds a list from its elements.
func NewList(elements ...Sexp) *List {
	return &List{elements: elements}
}

func (l *List) IsLeaf() bool { return false }

func (l *List) LeafCount() int {
	return len(l.elements)
}

func (l *List) Head() Sexp {
	if len(l.elements) == 0 {
		return nil
	}
	return l.elements[0]
}

func (l *List) String() string {
	var b strings.Builder
	writeCompact(&b, l)
	return b.String()
}

// Get returns the element at the given index
func (l *List) Get(index int) Sexp {
	if index < 0 || index >= len(l.elements) {
		return nil
	}
	return l.elements[index]
}

// Len returns the number of elements in the list
func (l *List) Len() int {
	return len(l.elements)
}

// Items returns the list elements. The slice must not be modified.
func (l *List) Items() []Sexp {
	return l.elements
}

// Append adds elements to the end of the list.
func (l *List) Append(elements ...Sexp) {
	l.elements = append(l.elements, elements...)
}

// Parse parses all top-level S-expressions from an io.Reader.
func Parse(r io.Reader) ([]Sexp, error) {
	return NewParser(r).ParseAll()
}

// ParseString parses S-expressions from a string.
func ParseString(s string) ([]Sexp, error) {
	return Parse(strings.NewReader(s))
}
