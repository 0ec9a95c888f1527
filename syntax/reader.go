package syntax

import (
	"fmt"
	"strconv"

	"github.com/chazu/arbor/ast"
)

// Error is a read error at a position in the source.
type Error struct {
	Pos Position
	Msg string
}

func (e *Error) Error() string {
	return fmt.Sprintf("syntax: %s: %s", e.Pos, e.Msg)
}

// Read parses text into nodes allocated in store. A single top-level form is
// returned as is; several become the elements of a block.
func Read(store *ast.Store, text string) (ast.Node, error) {
	r := &reader{
		lexer: NewLexer(text),
		store: store,
		names: make(map[string]ast.Node),
	}
	r.next()

	var forms []ast.Node
	for r.cur.Type != TokenEOF {
		n, err := r.form()
		if err != nil {
			return 0, err
		}
		forms = append(forms, n)
	}
	switch len(forms) {
	case 0:
		return 0, &Error{Pos: r.cur.Pos, Msg: "empty program"}
	case 1:
		return forms[0], nil
	default:
		return store.Block(0, forms...), nil
	}
}

type reader struct {
	lexer *Lexer
	cur   Token
	store *ast.Store
	names map[string]ast.Node
}

func (r *reader) next() {
	r.cur = r.lexer.NextToken()
}

func (r *reader) errorf(pos Position, format string, args ...any) error {
	return &Error{Pos: pos, Msg: fmt.Sprintf(format, args...)}
}

func (r *reader) form() (ast.Node, error) {
	if r.cur.Type != TokenDefine {
		return r.atom("")
	}
	tok := r.cur
	if _, dup := r.names[tok.Literal]; dup {
		return 0, r.errorf(tok.Pos, "%s is defined twice", tok.Literal)
	}
	r.next()
	return r.atom(tok.Literal)
}

// bind names n as soon as it exists, before its fields are read.
func (r *reader) bind(name string, n ast.Node) {
	if name != "" {
		r.names[name] = n
	}
}

func (r *reader) atom(name string) (ast.Node, error) {
	tok := r.cur
	switch tok.Type {
	case TokenInteger:
		v, err := strconv.ParseUint(tok.Literal, 0, 64)
		if err != nil {
			return 0, r.errorf(tok.Pos, "bad integer %q", tok.Literal)
		}
		r.next()
		n := r.store.Int(v)
		r.bind(name, n)
		return n, nil

	case TokenName:
		r.next()
		if tok.Literal == "nil" {
			if name != "" {
				return 0, r.errorf(tok.Pos, "cannot define %s as nil", name)
			}
			return 0, nil
		}
		n, ok := r.names[tok.Literal]
		if !ok {
			return 0, r.errorf(tok.Pos, "undefined name %s", tok.Literal)
		}
		r.bind(name, n)
		return n, nil

	case TokenLBracket:
		r.next()
		return r.node(tok.Pos, name)

	case TokenLBrace:
		r.next()
		return r.block(name)

	case TokenError:
		return 0, r.errorf(tok.Pos, "%s", tok.Literal)

	default:
		return 0, r.errorf(tok.Pos, "unexpected %s", tok.Type)
	}
}

func (r *reader) node(open Position, name string) (ast.Node, error) {
	tok := r.cur
	if tok.Type != TokenName {
		return 0, r.errorf(tok.Pos, "expected a tag name, got %s", tok.Type)
	}
	r.next()
	if tok.Literal == "quote" {
		return r.quote(name)
	}
	tag, ok := ast.Lookup(tok.Literal)
	if !ok {
		return 0, r.errorf(tok.Pos, "unknown tag %s", tok.Literal)
	}
	if tag == ast.Literal || tag == ast.Block {
		return 0, r.errorf(tok.Pos, "%s nodes are written as integers and {...}", tag)
	}

	d := ast.Describe(tag)
	n, err := r.store.New(tag, 0, make([]ast.Node, d.Fields)...)
	if err != nil {
		return 0, r.errorf(tok.Pos, "%v", err)
	}
	r.bind(name, n)

	i := 0
	for r.cur.Type != TokenRBracket {
		if r.cur.Type == TokenEOF {
			return 0, r.errorf(open, "unclosed [")
		}
		field, err := r.form()
		if err != nil {
			return 0, err
		}
		if i < d.Fields {
			r.store.Patch(n, i, field)
		}
		i++
	}
	if i != d.Fields {
		return 0, r.errorf(open, "%s takes %d fields, got %d", d.Name, d.Fields, i)
	}
	r.next()
	return n, nil
}

func (r *reader) quote(name string) (ast.Node, error) {
	pos := r.cur.Pos
	quoted, err := r.form()
	if err != nil {
		return 0, err
	}
	if r.cur.Type != TokenRBracket {
		return 0, r.errorf(pos, "quote takes one form")
	}
	r.next()
	n, err := r.store.Literal(0, r.store.Types().ASTPointer(), uint64(quoted))
	if err != nil {
		return 0, r.errorf(pos, "%v", err)
	}
	r.bind(name, n)
	return n, nil
}

func (r *reader) block(name string) (ast.Node, error) {
	open := r.cur.Pos
	b := r.store.Block(0)
	r.bind(name, b)
	for r.cur.Type != TokenRBrace {
		if r.cur.Type == TokenEOF {
			return 0, r.errorf(open, "unclosed {")
		}
		e, err := r.form()
		if err != nil {
			return 0, err
		}
		r.store.Append(b, e)
	}
	r.next()
	return b, nil
}
