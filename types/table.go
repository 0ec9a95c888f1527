package types

import (
	"fmt"
	"slices"
	"strings"

	"github.com/chazu/arbor/memory"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("arbor.types")

// Model describes a type that may not be canonical yet. Leaves that are
// already canonical are given by Canonical; otherwise Tag selects the kind
// and Elem or Members carry the sub-types.
type Model struct {
	Tag       Tag
	Elem      *Model
	Members   []*Model
	Canonical Type
}

// Ref wraps an existing canonical type as a model leaf.
func Ref(t Type) *Model { return &Model{Canonical: t} }

// Of builds a scalar model.
func Of(tag Tag) *Model { return &Model{Tag: tag} }

// PointerModel builds a pointer model.
func PointerModel(elem *Model) *Model { return &Model{Tag: Pointer, Elem: elem} }

// ConcatModel builds a concatenation model.
func ConcatModel(members ...*Model) *Model { return &Model{Tag: Concatenation, Members: members} }

// Table interns types. Records live in the arena; the table indexes them by
// structural hash.
//
// Record layouts:
//
//	scalar         [tag]
//	pointer        [tag, elem]
//	concatenation  [tag, n, member_1 ... member_n]
type Table struct {
	arena   *memory.Arena
	buckets map[uint64][]Type
	count   int

	integer, dnr, dynamic, astPtr, typePtr, fnPtr Type
}

// NewTable creates a table over arena and interns the scalar types.
func NewTable(arena *memory.Arena) *Table {
	t := &Table{
		arena:   arena,
		buckets: make(map[uint64][]Type),
	}
	t.integer = t.Unique(Of(Integer))
	t.dnr = t.Unique(Of(DoesNotReturn))
	t.dynamic = t.Unique(Of(DynamicPointer))
	t.astPtr = t.Unique(Of(ASTPointer))
	t.typePtr = t.Unique(Of(TypePointer))
	t.fnPtr = t.Unique(Of(FunctionPointer))
	return t
}

func (t *Table) Integer() Type         { return t.integer }
func (t *Table) DoesNotReturn() Type   { return t.dnr }
func (t *Table) DynamicPointer() Type  { return t.dynamic }
func (t *Table) ASTPointer() Type      { return t.astPtr }
func (t *Table) TypePointer() Type     { return t.typePtr }
func (t *Table) FunctionPointer() Type { return t.fnPtr }

// Scalar returns the canonical type of a payload-free tag.
func (t *Table) Scalar(tag Tag) Type {
	switch tag {
	case Integer:
		return t.integer
	case DoesNotReturn:
		return t.dnr
	case DynamicPointer:
		return t.dynamic
	case ASTPointer:
		return t.astPtr
	case TypePointer:
		return t.typePtr
	case FunctionPointer:
		return t.fnPtr
	}
	memory.Fatalf("%s is not a scalar type tag", tag)
	return Nil
}

// Len returns the number of canonical types.
func (t *Table) Len() int { return t.count }

// All returns every canonical type. These are collector roots.
func (t *Table) All() []Type {
	out := make([]Type, 0, t.count)
	for _, bucket := range t.buckets {
		out = append(out, bucket...)
	}
	slices.Sort(out)
	return out
}

// ---------------------------------------------------------------------------
// Interning
// ---------------------------------------------------------------------------

// Unique returns the canonical handle for m, creating it if needed.
func (t *Table) Unique(m *Model) Type {
	typ, _ := t.unique(m)
	return typ
}

// unique reports whether the returned type was created by this call. When
// any sub-type was created, the parent cannot already exist, so the lookup
// is skipped.
func (t *Table) unique(m *Model) (Type, bool) {
	if m == nil {
		return Nil, false
	}
	if m.Canonical != Nil {
		return m.Canonical, false
	}
	var words []uint64
	created := false
	switch m.Tag {
	case Pointer:
		if m.Elem == nil {
			memory.Fatalf("pointer model without a target type")
		}
		elem, c := t.unique(m.Elem)
		if elem == Nil {
			memory.Fatalf("pointer to the empty type")
		}
		created = c
		words = []uint64{uint64(Pointer), uint64(elem)}
	case Concatenation:
		var members []Type
		for _, mm := range t.flatten(m.Members, nil) {
			mt, c := t.unique(mm)
			created = created || c
			if t.Size(mt) == 0 {
				continue
			}
			members = append(members, mt)
		}
		if len(members) < 2 {
			memory.Fatalf("concatenation with %d effective members", len(members))
		}
		words = make([]uint64, 0, 2+len(members))
		words = append(words, uint64(Concatenation), uint64(len(members)))
		for _, mt := range members {
			words = append(words, uint64(mt))
		}
	default:
		if !m.Tag.Scalar() {
			memory.Fatalf("type model with invalid tag %d", uint64(m.Tag))
		}
		words = []uint64{uint64(m.Tag)}
	}

	h := hashWords(words)
	if !created {
		if found, ok := t.lookup(h, words); ok {
			return found, false
		}
	}
	return t.insert(h, words), true
}

// flatten expands nested concatenation models and canonical concatenations
// so the members handed to unique are never concatenations themselves.
func (t *Table) flatten(members []*Model, out []*Model) []*Model {
	for _, mm := range members {
		switch {
		case mm == nil:
		case mm.Canonical != Nil && t.Tag(mm.Canonical) == Concatenation:
			for _, sub := range t.Members(mm.Canonical) {
				out = append(out, Ref(sub))
			}
		case mm.Canonical == Nil && mm.Tag == Concatenation:
			out = t.flatten(mm.Members, out)
		default:
			out = append(out, mm)
		}
	}
	return out
}

func hashWords(words []uint64) uint64 {
	var h uint64
	for _, w := range words {
		h ^= w
	}
	return h
}

func (t *Table) lookup(h uint64, words []uint64) (Type, bool) {
	for _, cand := range t.buckets[h] {
		if slices.Equal(t.record(cand), words) {
			return cand, true
		}
	}
	return Nil, false
}

func (t *Table) insert(h uint64, words []uint64) Type {
	addr := t.arena.Allocate(uint64(len(words)))
	copy(t.arena.Slice(addr, uint64(len(words))), words)
	typ := Type(addr)
	t.buckets[h] = append(t.buckets[h], typ)
	t.count++
	log.Debugf("new canonical type %s at %d", t.String(typ), addr)
	return typ
}

// Rebuild clears the index and re-inserts the given canonical types, whose
// records must already be present in the arena. It is used after restoring
// a snapshot, so records are checked before they are read and a bad one is
// reported as an error.
func (t *Table) Rebuild(all []Type) error {
	known := make(map[Type]bool, len(all))
	for _, typ := range all {
		known[typ] = true
	}
	for _, typ := range all {
		if err := t.checkRecord(typ, known); err != nil {
			return err
		}
	}

	t.buckets = make(map[uint64][]Type, len(all))
	t.count = 0
	for _, typ := range all {
		words := t.record(typ)
		h := hashWords(words)
		if found, ok := t.lookup(h, words); ok {
			return fmt.Errorf("type record at %d duplicates %d", typ, found)
		}
		t.buckets[h] = append(t.buckets[h], typ)
		t.count++
	}
	t.integer = t.Unique(Of(Integer))
	t.dnr = t.Unique(Of(DoesNotReturn))
	t.dynamic = t.Unique(Of(DynamicPointer))
	t.astPtr = t.Unique(Of(ASTPointer))
	t.typePtr = t.Unique(Of(TypePointer))
	t.fnPtr = t.Unique(Of(FunctionPointer))
	return nil
}

// checkRecord verifies that the record at typ has a known tag, lies inside
// the arena and refers only to types in known.
func (t *Table) checkRecord(typ Type, known map[Type]bool) error {
	capacity := t.arena.Capacity()
	addr := uint64(typ)
	if addr == 0 || addr > capacity {
		return fmt.Errorf("type address %d out of range", addr)
	}
	tag := Tag(t.arena.Word(memory.Addr(addr)))
	if !tag.Valid() {
		return fmt.Errorf("type record at %d: tag %d", addr, uint64(tag))
	}
	switch tag {
	case Pointer:
		if addr+1 > capacity {
			return fmt.Errorf("type record at %d: truncated pointer", addr)
		}
		if elem := Type(t.arena.Word(memory.Addr(addr + 1))); !known[elem] {
			return fmt.Errorf("type record at %d: unknown element type %d", addr, elem)
		}
	case Concatenation:
		if addr+1 > capacity {
			return fmt.Errorf("type record at %d: truncated concatenation", addr)
		}
		n := t.arena.Word(memory.Addr(addr + 1))
		if n < 2 || n > capacity || addr+1+n > capacity {
			return fmt.Errorf("type record at %d: %d members", addr, n)
		}
		for _, w := range t.arena.Slice(memory.Addr(addr+2), n) {
			if !known[Type(w)] {
				return fmt.Errorf("type record at %d: unknown member type %d", addr, w)
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// RecordWords returns the number of arena words the record of typ occupies.
func (t *Table) RecordWords(typ Type) uint64 {
	switch t.Tag(typ) {
	case Pointer:
		return 2
	case Concatenation:
		return 2 + t.arena.Word(memory.Addr(typ)+1)
	default:
		return 1
	}
}

func (t *Table) record(typ Type) []uint64 {
	return t.arena.Slice(memory.Addr(typ), t.RecordWords(typ))
}

// Tag returns the tag of typ. The empty type has tag 0.
func (t *Table) Tag(typ Type) Tag {
	if typ == Nil {
		return 0
	}
	tag := Tag(t.arena.Word(memory.Addr(typ)))
	if !tag.Valid() {
		memory.Fatalf("corrupt type record at %d: tag %d", typ, uint64(tag))
	}
	return tag
}

// Elem returns the target of a pointer type.
func (t *Table) Elem(typ Type) Type {
	if t.Tag(typ) != Pointer {
		memory.Fatalf("Elem of non-pointer type %s", t.String(typ))
	}
	return Type(t.arena.Word(memory.Addr(typ) + 1))
}

// Members returns the members of a concatenation, or typ itself for any
// other non-empty type.
func (t *Table) Members(typ Type) []Type {
	switch t.Tag(typ) {
	case 0:
		return nil
	case Concatenation:
		n := t.arena.Word(memory.Addr(typ) + 1)
		words := t.arena.Slice(memory.Addr(typ)+2, n)
		out := make([]Type, n)
		for i, w := range words {
			out[i] = Type(w)
		}
		return out
	default:
		return []Type{typ}
	}
}

// Size returns the number of words a value of typ occupies.
func (t *Table) Size(typ Type) uint64 {
	switch t.Tag(typ) {
	case 0, DoesNotReturn:
		return 0
	case DynamicPointer:
		return 2
	case Concatenation:
		var n uint64
		for _, m := range t.Members(typ) {
			n += t.Size(m)
		}
		return n
	default:
		return 1
	}
}

// PointerLike reports whether values of typ are a single address word.
func (t *Table) PointerLike(typ Type) bool {
	switch t.Tag(typ) {
	case Pointer, ASTPointer, TypePointer, FunctionPointer:
		return true
	}
	return false
}

// HasPointers reports whether a value of typ contains a stack or arena
// address that lifetimes must track.
func (t *Table) HasPointers(typ Type) bool {
	switch t.Tag(typ) {
	case Pointer, DynamicPointer:
		return true
	case Concatenation:
		for _, m := range t.Members(typ) {
			if t.HasPointers(m) {
				return true
			}
		}
	}
	return false
}

// String renders typ for diagnostics.
func (t *Table) String(typ Type) string {
	switch tag := t.Tag(typ); tag {
	case 0:
		return "nil"
	case Pointer:
		return "pointer(" + t.String(t.Elem(typ)) + ")"
	case Concatenation:
		var sb strings.Builder
		sb.WriteString("concat(")
		for i, m := range t.Members(typ) {
			if i > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(t.String(m))
		}
		sb.WriteString(")")
		return sb.String()
	default:
		return tag.String()
	}
}
