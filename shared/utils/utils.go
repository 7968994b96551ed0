package utils

import (
	"strings"

	"geotig/internal/diff"
	"geotig/internal/object"
	"geotig/shared/types"
)

// SplitPath turns "a/b/c" into its segments, dropping empty ones.
func SplitPath(s string) []string {
	var out []string
	for _, seg := range strings.Split(s, "/") {
		if seg != "" {
			out = append(out, seg)
		}
	}
	return out
}

func JoinPath(path []string) string {
	return strings.Join(path, "/")
}

// IDString is the hex form of id, or "" for the null id.
func IDString(id object.ContentId) string {
	if id.IsNull() {
		return ""
	}
	return id.String()
}

// ToChange converts a diff change into its wire form. patch may be nil.
func ToChange(c diff.Change, patch *diff.Patch) shared.Change {
	out := shared.Change{
		Path:   c.Path,
		Type:   c.Type.String(),
		Bounds: c.Bounds,
	}
	if latest := c.Latest(); latest != nil {
		out.Kind = latest.Kind.String()
	}
	if c.Old != nil {
		out.OldTarget = c.Old.Target.String()
	}
	if c.New != nil {
		out.NewTarget = c.New.Target.String()
	}
	if patch != nil && !patch.Empty() {
		out.Diff = patch.Format()
		out.DiffHunks = ToHunks(patch)
	}
	return out
}

// ToHunks flattens patch hunks into prefixed text lines.
func ToHunks(p *diff.Patch) []shared.DiffHunk {
	hunks := make([]shared.DiffHunk, 0, len(p.Hunks))
	for _, h := range p.Hunks {
		dh := shared.DiffHunk{
			OldStart: h.OldStart,
			OldLines: h.OldLines,
			NewStart: h.NewStart,
			NewLines: h.NewLines,
		}
		for _, l := range h.Lines {
			prefix := " "
			switch l.Type {
			case diff.Addition:
				prefix = "+"
			case diff.Deletion:
				prefix = "-"
			}
			dh.Lines = append(dh.Lines, prefix+l.Content)
		}
		hunks = append(hunks, dh)
	}
	return hunks
}

func ToSummary(s diff.Summary) shared.Summary {
	return shared.Summary{
		Added:    s.Added,
		Modified: s.Modified,
		Deleted:  s.Deleted,
		Bounds:   s.Bounds,
	}
}
