package object

import "bytes"

// Entry is a named pointer from a tree to a child object. Bounds is only set
// for spatial leaf entries and never takes part in identity.
type Entry struct {
	Name   string       `json:"name" cbor:"n"`
	Target ContentId    `json:"target" cbor:"t"`
	Kind   Kind         `json:"kind" cbor:"k"`
	Bounds *BoundingBox `json:"bounds,omitempty" cbor:"b,omitempty"`
}

func (e Entry) Equal(other Entry) bool {
	return e.Name == other.Name && e.Kind == other.Kind && e.Target == other.Target
}

func (e Entry) IsTree() bool {
	return e.Kind == KindTree
}

// CompareNames orders names by their NameHash, falling back to the names
// themselves on a (practically impossible) hash tie.
func CompareNames(a, b string) int {
	ha, hb := NameHash(a), NameHash(b)
	if c := bytes.Compare(ha[:], hb[:]); c != 0 {
		return c
	}
	return bytes.Compare([]byte(a), []byte(b))
}

// CompareEntries is the canonical cross-tree ordering of entries.
func CompareEntries(a, b Entry) int {
	return CompareNames(a.Name, b.Name)
}
