// Package diff compares two content trees and reports the leaves that
// differ between them.
package diff

import (
	"fmt"
	"strings"

	"geotig/internal/errors"
	"geotig/internal/object"
)

// ChangeType classifies a Change.
type ChangeType int

const (
	Add ChangeType = iota + 1
	Modify
	Delete
)

var changeTypeNames = map[ChangeType]string{
	Add:    "ADD",
	Modify: "MODIFY",
	Delete: "DELETE",
}

func (t ChangeType) String() string {
	if s, ok := changeTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("ChangeType(%d)", int(t))
}

func (t ChangeType) MarshalText() ([]byte, error) {
	s, ok := changeTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("invalid change type %d", int(t))
	}
	return []byte(s), nil
}

func (t *ChangeType) UnmarshalText(text []byte) error {
	for ct, s := range changeTypeNames {
		if s == string(text) {
			*t = ct
			return nil
		}
	}
	return fmt.Errorf("unknown change type %q", text)
}

// Change describes one path whose entry differs between two roots.
type Change struct {
	Type     ChangeType          `json:"type"`
	Old      *object.Entry       `json:"old,omitempty"`
	New      *object.Entry       `json:"new,omitempty"`
	Path     []string            `json:"path"`
	FromRoot object.ContentId    `json:"fromRoot"`
	ToRoot   object.ContentId    `json:"toRoot"`
	Bounds   *object.BoundingBox `json:"bounds,omitempty"`
}

// NewChange builds a Change, deriving its type from which sides are set.
// An entry with a null target counts as absent.
func NewChange(old, new *object.Entry, path []string, from, to object.ContentId) (Change, error) {
	if old != nil && old.Target.IsNull() {
		old = nil
	}
	if new != nil && new.Target.IsNull() {
		new = nil
	}

	c := Change{
		Old:      old,
		New:      new,
		Path:     append([]string(nil), path...),
		FromRoot: from,
		ToRoot:   to,
	}
	switch {
	case old == nil && new == nil:
		return Change{}, errors.ValidationError("a change needs at least one side", map[string]any{"path": strings.Join(path, "/")})
	case old == nil:
		c.Type = Add
		c.Bounds = new.Bounds.Clone()
	case new == nil:
		c.Type = Delete
		c.Bounds = old.Bounds.Clone()
	default:
		c.Type = Modify
		c.Bounds = old.Bounds.Union(new.Bounds)
	}
	return c, nil
}

// Key is the path joined with "/".
func (c Change) Key() string {
	return strings.Join(c.Path, "/")
}

// Latest is the most recent entry the change knows about: the new side, or
// the old side for a delete.
func (c Change) Latest() *object.Entry {
	if c.New != nil {
		return c.New
	}
	return c.Old
}

// Invert returns the change that undoes c.
func (c Change) Invert() Change {
	out := c
	out.Old, out.New = c.New, c.Old
	out.FromRoot, out.ToRoot = c.ToRoot, c.FromRoot
	switch c.Type {
	case Add:
		out.Type = Delete
	case Delete:
		out.Type = Add
	}
	return out
}

func (c Change) String() string {
	return fmt.Sprintf("%s %s", c.Type, c.Key())
}

// Summary tallies a set of changes.
type Summary struct {
	Added    int                 `json:"added"`
	Modified int                 `json:"modified"`
	Deleted  int                 `json:"deleted"`
	Bounds   *object.BoundingBox `json:"bounds,omitempty"`
}

func Summarize(changes []Change) Summary {
	var s Summary
	for _, c := range changes {
		switch c.Type {
		case Add:
			s.Added++
		case Modify:
			s.Modified++
		case Delete:
			s.Deleted++
		}
		s.Bounds = s.Bounds.Union(c.Bounds)
	}
	return s
}

func (s Summary) Total() int {
	return s.Added + s.Modified + s.Deleted
}
