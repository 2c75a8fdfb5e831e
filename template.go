package anser

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Template is a parsed query template: a sequence of literal fragments,
// quoted string literals, positional parameter references, and named
// environment references. Drivers render a Template to their placeholder
// syntax; environment references must be expanded away before rendering.
type Template struct {
	nodes []templateNode
}

type templateNodeKind int8

const (
	nodeLit templateNodeKind = iota
	nodeQuote
	nodeParam
	nodeEnv
)

type templateNode struct {
	kind  templateNodeKind
	text  string // nodeLit, nodeQuote, nodeEnv
	index int    // nodeParam, 0-based
}

// Lit returns a template holding raw query text.
func Lit(s string) *Template {
	return &Template{nodes: []templateNode{{kind: nodeLit, text: s}}}
}

// Quote returns a template holding a string constant to be rendered with the
// driver's literal quoting.
func Quote(s string) *Template {
	return &Template{nodes: []templateNode{{kind: nodeQuote, text: s}}}
}

// Param returns a template referencing the i'th parameter, 0-indexed.
func Param(i int) *Template {
	return &Template{nodes: []templateNode{{kind: nodeParam, index: i}}}
}

// EnvRef returns a template referencing the named environment fragment.
func EnvRef(name string) *Template {
	return &Template{nodes: []templateNode{{kind: nodeEnv, text: name}}}
}

// Seq concatenates templates.
func Seq(ts ...*Template) *Template {
	var nodes []templateNode
	for _, t := range ts {
		nodes = append(nodes, t.nodes...)
	}
	return &Template{nodes: nodes}
}

// ParseTemplate parses a query string into a Template. A question mark
// outside single- or double-quoted regions references the next parameter in
// order; "$(name)" references an environment fragment; "$$" is a literal
// dollar sign. Quoted regions are carried through verbatim.
func ParseTemplate(sql string) (*Template, error) {
	var t Template
	var lit strings.Builder
	flushLit := func() {
		if lit.Len() > 0 {
			t.nodes = append(t.nodes, templateNode{kind: nodeLit, text: lit.String()})
			lit.Reset()
		}
	}

	const (
		raw = iota
		singleQuote
		doubleQuote
	)
	state := raw
	nextParam := 0

	for pos := 0; pos < len(sql); {
		r, width := utf8.DecodeRuneInString(sql[pos:])
		pos += width

		switch state {
		case raw:
			switch r {
			case '\'':
				state = singleQuote
				lit.WriteRune(r)
			case '"':
				state = doubleQuote
				lit.WriteRune(r)
			case '?':
				flushLit()
				t.nodes = append(t.nodes, templateNode{kind: nodeParam, index: nextParam})
				nextParam++
			case '$':
				if strings.HasPrefix(sql[pos:], "$") {
					lit.WriteRune('$')
					pos++
				} else if strings.HasPrefix(sql[pos:], "(") {
					end := strings.IndexByte(sql[pos:], ')')
					if end < 0 {
						return nil, fmt.Errorf("unterminated environment reference in %q", sql)
					}
					name := sql[pos+1 : pos+end]
					if name == "" {
						return nil, fmt.Errorf("empty environment reference in %q", sql)
					}
					flushLit()
					t.nodes = append(t.nodes, templateNode{kind: nodeEnv, text: name})
					pos += end + 1
				} else {
					lit.WriteRune(r)
				}
			default:
				lit.WriteRune(r)
			}
		case singleQuote:
			lit.WriteRune(r)
			if r == '\'' {
				state = raw
			}
		case doubleQuote:
			lit.WriteRune(r)
			if r == '"' {
				state = raw
			}
		}
	}
	flushLit()
	return &t, nil
}

// ParamCount returns the number of distinct parameter references.
func (t *Template) ParamCount() int {
	n := 0
	for _, node := range t.nodes {
		if node.kind == nodeParam && node.index+1 > n {
			n = node.index + 1
		}
	}
	return n
}

// Expand substitutes environment references using lookup. With final set,
// an unresolved reference is an error; otherwise it is retained for a later
// expansion pass. Substituted fragments are themselves expanded.
func (t *Template) Expand(lookup func(name string) (*Template, bool), final bool) (*Template, error) {
	var out Template
	for _, node := range t.nodes {
		if node.kind != nodeEnv {
			out.nodes = append(out.nodes, node)
			continue
		}
		sub, ok := lookup(node.text)
		if !ok {
			if final {
				return nil, fmt.Errorf("unresolved environment reference $(%s)", node.text)
			}
			out.nodes = append(out.nodes, node)
			continue
		}
		sub, err := sub.Expand(lookup, final)
		if err != nil {
			return nil, err
		}
		out.nodes = append(out.nodes, sub.nodes...)
	}
	return &out, nil
}

// Render flattens the template to query text, using placeholder for
// parameter references (0-indexed input) and quote for string constants.
// Remaining environment references are an error.
func (t *Template) Render(placeholder func(i int) string, quote func(s string) string) (string, error) {
	var sb strings.Builder
	for _, node := range t.nodes {
		switch node.kind {
		case nodeLit:
			sb.WriteString(node.text)
		case nodeQuote:
			sb.WriteString(quote(node.text))
		case nodeParam:
			sb.WriteString(placeholder(node.index))
		case nodeEnv:
			return "", fmt.Errorf("unresolved environment reference $(%s)", node.text)
		}
	}
	return sb.String(), nil
}
