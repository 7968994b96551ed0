package diff

import (
	"bytes"
	"fmt"
	"sort"

	"geotig/internal/object"
)

// LineType indicates whether a line was added, removed, or is context
type LineType int

const (
	Context LineType = iota
	Addition
	Deletion
)

// Line is a single line of a patch. OldNum and NewNum are 1-based and zero
// when the line does not exist on that side.
type Line struct {
	Type    LineType
	Content string
	OldNum  int
	NewNum  int
}

// Hunk is a contiguous run of changes with surrounding context.
type Hunk struct {
	OldStart int
	OldLines int
	NewStart int
	NewLines int
	Lines    []Line
}

type Patch struct {
	Hunks     []Hunk
	Additions int
	Deletions int
}

func (p *Patch) Empty() bool { return len(p.Hunks) == 0 }

// Engine produces line patches between feature renderings.
type Engine struct {
	contextLines int
}

// NewEngine creates a new diff engine with specified context lines
func NewEngine(contextLines int) *Engine {
	if contextLines < 0 {
		contextLines = 0
	}
	return &Engine{contextLines: contextLines}
}

// FeatureText renders f one attribute per line, geometry first and then
// properties in key order. A nil feature renders as nothing.
func FeatureText(f *object.Feature) []byte {
	if f == nil {
		return nil
	}
	var buf bytes.Buffer
	if f.Geometry != "" {
		fmt.Fprintf(&buf, "geometry: %s\n", f.Geometry)
	}
	keys := make([]string, 0, len(f.Properties))
	for k := range f.Properties {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&buf, "%s: %s\n", k, f.Properties[k])
	}
	return buf.Bytes()
}

func (e *Engine) DiffFeatures(old, new *object.Feature) *Patch {
	return e.Diff(FeatureText(old), FeatureText(new))
}

// Diff compares two texts line by line.
func (e *Engine) Diff(oldContent, newContent []byte) *Patch {
	oldLines := splitLines(oldContent)
	newLines := splitLines(newContent)

	ops := e.script(oldLines, newLines)
	p := &Patch{Hunks: e.group(ops)}
	for _, op := range ops {
		switch op.Type {
		case Addition:
			p.Additions++
		case Deletion:
			p.Deletions++
		}
	}
	return p
}

func splitLines(content []byte) [][]byte {
	content = bytes.TrimSuffix(content, []byte{'\n'})
	if len(content) == 0 {
		return nil
	}
	return bytes.Split(content, []byte{'\n'})
}

// script computes a full edit script from the longest common subsequence.
func (e *Engine) script(oldLines, newLines [][]byte) []Line {
	n, m := len(oldLines), len(newLines)
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if bytes.Equal(oldLines[i], newLines[j]) {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else {
				lcs[i][j] = max(lcs[i+1][j], lcs[i][j+1])
			}
		}
	}

	var ops []Line
	i, j := 0, 0
	for i < n || j < m {
		switch {
		case i < n && j < m && bytes.Equal(oldLines[i], newLines[j]):
			ops = append(ops, Line{Type: Context, Content: string(oldLines[i]), OldNum: i + 1, NewNum: j + 1})
			i++
			j++
		case j < m && (i == n || lcs[i][j+1] >= lcs[i+1][j]):
			ops = append(ops, Line{Type: Addition, Content: string(newLines[j]), NewNum: j + 1})
			j++
		default:
			ops = append(ops, Line{Type: Deletion, Content: string(oldLines[i]), OldNum: i + 1})
			i++
		}
	}
	return ops
}

// group cuts the edit script into hunks, keeping contextLines of unchanged
// text around each change and merging hunks whose context overlaps.
func (e *Engine) group(ops []Line) []Hunk {
	var ranges [][2]int
	for k, op := range ops {
		if op.Type == Context {
			continue
		}
		lo, hi := max(0, k-e.contextLines), min(len(ops), k+e.contextLines+1)
		if n := len(ranges); n > 0 && lo <= ranges[n-1][1] {
			ranges[n-1][1] = max(ranges[n-1][1], hi)
			continue
		}
		ranges = append(ranges, [2]int{lo, hi})
	}

	// Lines consumed on each side before op k.
	oldPos := make([]int, len(ops)+1)
	newPos := make([]int, len(ops)+1)
	for k, op := range ops {
		oldPos[k+1], newPos[k+1] = oldPos[k], newPos[k]
		if op.Type != Addition {
			oldPos[k+1]++
		}
		if op.Type != Deletion {
			newPos[k+1]++
		}
	}

	hunks := make([]Hunk, 0, len(ranges))
	for _, r := range ranges {
		h := Hunk{
			OldLines: oldPos[r[1]] - oldPos[r[0]],
			NewLines: newPos[r[1]] - newPos[r[0]],
			Lines:    append([]Line(nil), ops[r[0]:r[1]]...),
		}
		h.OldStart = oldPos[r[0]]
		if h.OldLines > 0 {
			h.OldStart++
		}
		h.NewStart = newPos[r[0]]
		if h.NewLines > 0 {
			h.NewStart++
		}
		hunks = append(hunks, h)
	}
	return hunks
}

// Format renders the patch in unified style.
func (p *Patch) Format() string {
	var buf bytes.Buffer

	for _, hunk := range p.Hunks {
		fmt.Fprintf(&buf, "@@ -%d,%d +%d,%d @@\n",
			hunk.OldStart, hunk.OldLines,
			hunk.NewStart, hunk.NewLines)

		for _, line := range hunk.Lines {
			switch line.Type {
			case Addition:
				buf.WriteString("+ ")
			case Deletion:
				buf.WriteString("- ")
			case Context:
				buf.WriteString("  ")
			}
			buf.WriteString(line.Content)
			buf.WriteString("\n")
		}
	}

	return buf.String()
}
