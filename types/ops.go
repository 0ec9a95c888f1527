package types

// PointerTo returns the canonical pointer to elem.
func (t *Table) PointerTo(elem Type) Type {
	return t.Unique(PointerModel(Ref(elem)))
}

// Concatenate joins types into one. Nested concatenations are flattened and
// zero-size members dropped; a single survivor is returned as is, and no
// survivors give the empty type.
func (t *Table) Concatenate(types ...Type) Type {
	var members []*Model
	for _, typ := range types {
		for _, m := range t.Members(typ) {
			if t.Size(m) != 0 {
				members = append(members, Ref(m))
			}
		}
	}
	switch len(members) {
	case 0:
		return Nil
	case 1:
		return members[0].Canonical
	}
	return t.Unique(ConcatModel(members...))
}

// Fits reports whether a value of type have may be used where want is
// expected. does_not_return fits anything, pointer-like values fit an
// integer slot, and concatenations fit member by member.
func (t *Table) Fits(have, want Type) bool {
	if have == want {
		return true
	}
	if have == t.dnr {
		return true
	}
	if want == t.integer && t.PointerLike(have) {
		return true
	}
	if t.Tag(have) == Concatenation && t.Tag(want) == Concatenation {
		hm, wm := t.Members(have), t.Members(want)
		if len(hm) != len(wm) {
			return false
		}
		for i := range hm {
			if !t.Fits(hm[i], wm[i]) {
				return false
			}
		}
		return true
	}
	return false
}
