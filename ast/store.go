package ast

import (
	"fmt"

	"github.com/chazu/arbor/memory"
	"github.com/chazu/arbor/types"
)

// Node is the arena address of a node record. The zero Node is null.
type Node memory.Addr

const headerWords = 2

// Vector layout: [len, cap, elem_1 ... elem_cap].
const vectorHeader = 2

// Store allocates and reads nodes.
type Store struct {
	arena *memory.Arena
	types *types.Table
}

// NewStore returns a store over the given arena and type table.
func NewStore(arena *memory.Arena, table *types.Table) *Store {
	return &Store{arena: arena, types: table}
}

// Types returns the type table the store boxes literal values with.
func (s *Store) Types() *types.Table { return s.types }

// New allocates a node whose fields are all node references. Literal and
// Block nodes have dedicated constructors.
func (s *Store) New(tag Tag, preceding Node, fields ...Node) (Node, error) {
	if !tag.Valid() {
		return 0, fmt.Errorf("ast: unknown tag %d", uint64(tag))
	}
	if tag == Literal || tag == Block {
		return 0, fmt.Errorf("ast: %s nodes need their own constructor", tag)
	}
	d := Describe(tag)
	if len(fields) != d.Fields {
		return 0, fmt.Errorf("ast: %s takes %d fields, got %d", d.Name, d.Fields, len(fields))
	}
	n := s.alloc(tag, preceding, d.Fields)
	for i, f := range fields {
		s.arena.SetWord(memory.Addr(n)+headerWords+memory.Addr(i), uint64(f))
	}
	return n, nil
}

func (s *Store) alloc(tag Tag, preceding Node, fields int) Node {
	addr := s.arena.Allocate(uint64(headerWords + fields))
	s.arena.SetWord(addr, uint64(tag))
	s.arena.SetWord(addr+1, uint64(preceding))
	return Node(addr)
}

// Literal allocates a node holding a boxed value of type t. The value is
// copied into its own arena object.
func (s *Store) Literal(preceding Node, t types.Type, words ...uint64) (Node, error) {
	size := s.types.Size(t)
	if uint64(len(words)) != size {
		return 0, fmt.Errorf("ast: literal of %s needs %d words, got %d", s.types.String(t), size, len(words))
	}
	var obj memory.Addr
	if size > 0 {
		obj = s.arena.Allocate(size)
		copy(s.arena.Slice(obj, size), words)
	}
	n := s.alloc(Literal, preceding, 2)
	s.arena.SetWord(memory.Addr(n)+2, uint64(t))
	s.arena.SetWord(memory.Addr(n)+3, uint64(obj))
	return n, nil
}

// Int allocates an integer literal.
func (s *Store) Int(v uint64) Node {
	n, err := s.Literal(0, s.types.Integer(), v)
	if err != nil {
		memory.Fatalf("%v", err)
	}
	return n
}

// Block allocates a basic block holding elems.
func (s *Store) Block(preceding Node, elems ...Node) Node {
	n := s.alloc(Block, preceding, 1)
	if len(elems) > 0 {
		vec := s.newVector(uint64(len(elems)))
		for _, e := range elems {
			s.pushVector(vec, e)
		}
		s.arena.SetWord(memory.Addr(n)+2, uint64(vec))
	}
	return n
}

// Append adds elem to the end of block, growing its vector when full. The
// old vector is left for the collector.
func (s *Store) Append(block Node, elem Node) {
	s.mustTag(block, Block)
	field := memory.Addr(block) + 2
	vec := memory.Addr(s.arena.Word(field))
	if vec == 0 {
		vec = s.newVector(4)
		s.arena.SetWord(field, uint64(vec))
	}
	length, capacity := s.arena.Word(vec), s.arena.Word(vec+1)
	if length == capacity {
		grown := s.newVector(capacity * 2)
		copy(s.arena.Slice(grown+vectorHeader, length), s.arena.Slice(vec+vectorHeader, length))
		s.arena.SetWord(grown, length)
		vec = grown
		s.arena.SetWord(field, uint64(vec))
	}
	s.pushVector(vec, elem)
}

func (s *Store) newVector(capacity uint64) memory.Addr {
	vec := s.arena.Allocate(vectorHeader + capacity)
	s.arena.SetWord(vec, 0)
	s.arena.SetWord(vec+1, capacity)
	return vec
}

func (s *Store) pushVector(vec memory.Addr, elem Node) {
	length := s.arena.Word(vec)
	s.arena.SetWord(vec+vectorHeader+memory.Addr(length), uint64(elem))
	s.arena.SetWord(vec, length+1)
}

// ---------------------------------------------------------------------------
// Reading
// ---------------------------------------------------------------------------

func (s *Store) mustTag(n Node, want Tag) {
	if got := s.Tag(n); got != want {
		memory.Fatalf("node %d is %s, want %s", n, got, want)
	}
}

// Tag returns the tag of n.
func (s *Store) Tag(n Node) Tag {
	tag := Tag(s.arena.Word(memory.Addr(n)))
	if !tag.Valid() {
		memory.Fatalf("corrupt node at %d: tag %d", n, uint64(tag))
	}
	return tag
}

// Preceding returns the node before n in its basic block, or 0.
func (s *Store) Preceding(n Node) Node {
	return Node(s.arena.Word(memory.Addr(n) + 1))
}

// Field returns raw payload word i of n.
func (s *Store) Field(n Node, i int) uint64 {
	d := Describe(s.Tag(n))
	if i < 0 || i >= d.Fields {
		memory.Fatalf("%s node has no field %d", d.Name, i)
	}
	return s.arena.Word(memory.Addr(n) + headerWords + memory.Addr(i))
}

// Child returns payload word i of n as a node reference.
func (s *Store) Child(n Node, i int) Node {
	return Node(s.Field(n, i))
}

// Patch sets node field i of n. Readers use it to close forward and
// self references after the node has been allocated.
func (s *Store) Patch(n Node, i int, child Node) {
	d := Describe(s.Tag(n))
	if i < 0 || i >= d.PointerFields {
		memory.Fatalf("%s node has no node field %d", d.Name, i)
	}
	s.arena.SetWord(memory.Addr(n)+headerWords+memory.Addr(i), uint64(child))
}

// Words returns the size of the node record of n.
func (s *Store) Words(n Node) uint64 {
	return uint64(headerWords + Describe(s.Tag(n)).Fields)
}

// LiteralValue returns the type and the boxed object of a literal node.
func (s *Store) LiteralValue(n Node) (types.Type, memory.Addr) {
	s.mustTag(n, Literal)
	return types.Type(s.Field(n, 0)), memory.Addr(s.Field(n, 1))
}

// LiteralWords returns a copy of a literal's value words.
func (s *Store) LiteralWords(n Node) []uint64 {
	t, obj := s.LiteralValue(n)
	size := s.types.Size(t)
	if size == 0 {
		return nil
	}
	return append([]uint64(nil), s.arena.Slice(obj, size)...)
}

// Vector returns the vector address of a block, or 0 for an empty block.
func (s *Store) Vector(n Node) memory.Addr {
	s.mustTag(n, Block)
	return memory.Addr(s.Field(n, 0))
}

// VectorWords returns the size of the vector object at vec.
func (s *Store) VectorWords(vec memory.Addr) uint64 {
	return vectorHeader + s.arena.Word(vec+1)
}

// Elements returns the nodes of a block in order.
func (s *Store) Elements(n Node) []Node {
	vec := s.Vector(n)
	if vec == 0 {
		return nil
	}
	length := s.arena.Word(vec)
	out := make([]Node, length)
	for i, w := range s.arena.Slice(vec+vectorHeader, length) {
		out[i] = Node(w)
	}
	return out
}

// ---------------------------------------------------------------------------
// Copying
// ---------------------------------------------------------------------------

// Copy makes a shallow copy of n: the new node shares its children. Literal
// and Block nodes also get their own copy of the boxed value or vector,
// since those payloads are owned by the node rather than referenced.
func (s *Store) Copy(n Node) Node {
	tag := s.Tag(n)
	switch tag {
	case Literal:
		t, _ := s.LiteralValue(n)
		c, err := s.Literal(s.Preceding(n), t, s.LiteralWords(n)...)
		if err != nil {
			memory.Fatalf("%v", err)
		}
		return c
	case Block:
		return s.Block(s.Preceding(n), s.Elements(n)...)
	}
	d := Describe(tag)
	c := s.alloc(tag, s.Preceding(n), d.Fields)
	words := uint64(d.Fields)
	copy(s.arena.Slice(memory.Addr(c)+headerWords, words), s.arena.Slice(memory.Addr(n)+headerWords, words))
	return c
}
