package syntax

import (
	"strconv"
	"strings"

	"github.com/chazu/arbor/ast"
)

// Print renders n in the notation Read accepts. Nodes reached more than
// once are defined on first use as _n1, _n2, ... and referred to by name
// afterwards. Literals of types other than integer and ast-pointer print as
// <type: words>, which Read does not accept.
func Print(store *ast.Store, n ast.Node) string {
	p := &printer{
		store: store,
		refs:  make(map[ast.Node]int),
		names: make(map[ast.Node]string),
	}
	p.count(n)
	p.print(n)
	return p.sb.String()
}

type printer struct {
	store *ast.Store
	sb    strings.Builder
	refs  map[ast.Node]int
	names map[ast.Node]string
	next  int
}

// children returns the nodes n refers to, in print order.
func (p *printer) children(n ast.Node) []ast.Node {
	tag := p.store.Tag(n)
	switch tag {
	case ast.Literal:
		if q, ok := p.quoted(n); ok {
			return []ast.Node{q}
		}
		return nil
	case ast.Block:
		return p.store.Elements(n)
	default:
		d := ast.Describe(tag)
		out := make([]ast.Node, d.Fields)
		for i := range out {
			out[i] = p.store.Child(n, i)
		}
		return out
	}
}

func (p *printer) quoted(n ast.Node) (ast.Node, bool) {
	t, _ := p.store.LiteralValue(n)
	if t != p.store.Types().ASTPointer() {
		return 0, false
	}
	return ast.Node(p.store.LiteralWords(n)[0]), true
}

func (p *printer) count(n ast.Node) {
	if n == 0 {
		return
	}
	p.refs[n]++
	if p.refs[n] > 1 {
		return
	}
	for _, c := range p.children(n) {
		p.count(c)
	}
}

func (p *printer) print(n ast.Node) {
	if n == 0 {
		p.sb.WriteString("nil")
		return
	}
	if name, ok := p.names[n]; ok {
		p.sb.WriteString(name)
		return
	}
	if p.refs[n] > 1 {
		p.next++
		name := "n" + strconv.Itoa(p.next)
		p.names[n] = name
		p.sb.WriteString("_" + name + " ")
	}

	switch tag := p.store.Tag(n); tag {
	case ast.Literal:
		p.literal(n)
	case ast.Block:
		p.sb.WriteString("{")
		p.list(p.children(n))
		p.sb.WriteString("}")
	default:
		p.sb.WriteString("[" + tag.String())
		if fields := p.children(n); len(fields) > 0 {
			p.sb.WriteString(" ")
			p.list(fields)
		}
		p.sb.WriteString("]")
	}
}

func (p *printer) list(nodes []ast.Node) {
	for i, c := range nodes {
		if i > 0 {
			p.sb.WriteString(" ")
		}
		p.print(c)
	}
}

func (p *printer) literal(n ast.Node) {
	table := p.store.Types()
	t, _ := p.store.LiteralValue(n)
	words := p.store.LiteralWords(n)
	switch {
	case t == table.Integer():
		p.sb.WriteString(strconv.FormatUint(words[0], 10))
	case t == table.ASTPointer():
		p.sb.WriteString("[quote ")
		p.print(ast.Node(words[0]))
		p.sb.WriteString("]")
	default:
		p.sb.WriteString("<" + table.String(t) + ":")
		for _, w := range words {
			p.sb.WriteString(" " + strconv.FormatUint(w, 10))
		}
		p.sb.WriteString(">")
	}
}
