// Package syntax reads and prints ASTs in a small bracket notation.
//
//	42             integer literal
//	[add 1 2]      node: tag name, then one form per field
//	{a b c}        basic block
//	nil            null field
//	_x form        defines x as the node form produces
//	x              refers to the node defined as x
//	[quote form]   ast-pointer literal holding form
//	; comment      to end of line
//
// Names are bound as soon as their node is allocated, so a form may refer to
// itself, as a goto inside its own label does. Preceding links are neither
// read nor printed.
package syntax

import "fmt"

// ---------------------------------------------------------------------------
// Tokens
// ---------------------------------------------------------------------------

// TokenType represents the type of a token.
type TokenType int

const (
	TokenEOF TokenType = iota
	TokenError

	TokenInteger // 42, 0x2a
	TokenName    // add, counter
	TokenDefine  // _counter

	TokenLBracket // [
	TokenRBracket // ]
	TokenLBrace   // {
	TokenRBrace   // }
)

var tokenNames = map[TokenType]string{
	TokenEOF:      "EOF",
	TokenError:    "ERROR",
	TokenInteger:  "INTEGER",
	TokenName:     "NAME",
	TokenDefine:   "DEFINE",
	TokenLBracket: "[",
	TokenRBracket: "]",
	TokenLBrace:   "{",
	TokenRBrace:   "}",
}

func (t TokenType) String() string {
	if name, ok := tokenNames[t]; ok {
		return name
	}
	return fmt.Sprintf("TokenType(%d)", int(t))
}

// Position is a location in the source text.
type Position struct {
	Offset int
	Line   int // 1-based
	Column int // 1-based
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// Token is a lexical token. For TokenDefine, Literal holds the name without
// its underscore.
type Token struct {
	Type    TokenType
	Literal string
	Pos     Position
}

func (t Token) String() string {
	return fmt.Sprintf("%s(%q) at %s", t.Type, t.Literal, t.Pos)
}
