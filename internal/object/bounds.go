package object

import (
	"fmt"
	"math"
)

// BoundingBox is an axis-aligned rectangle tagged with a coordinate
// reference system identifier such as "EPSG:4326".
type BoundingBox struct {
	CRS  string  `json:"crs" cbor:"crs"`
	MinX float64 `json:"minx" cbor:"minx"`
	MinY float64 `json:"miny" cbor:"miny"`
	MaxX float64 `json:"maxx" cbor:"maxx"`
	MaxY float64 `json:"maxy" cbor:"maxy"`
}

func NewBoundingBox(crs string, minX, minY, maxX, maxY float64) *BoundingBox {
	return &BoundingBox{
		CRS:  crs,
		MinX: math.Min(minX, maxX),
		MinY: math.Min(minY, maxY),
		MaxX: math.Max(minX, maxX),
		MaxY: math.Max(minY, maxY),
	}
}

func (b *BoundingBox) IsEmpty() bool {
	return b == nil || b.MinX > b.MaxX || b.MinY > b.MaxY
}

func (b *BoundingBox) Clone() *BoundingBox {
	if b == nil {
		return nil
	}
	c := *b
	return &c
}

// Union returns the smallest box covering b and other. Either may be nil.
// Boxes in a different CRS than b are ignored: no reprojection happens here.
func (b *BoundingBox) Union(other *BoundingBox) *BoundingBox {
	switch {
	case b.IsEmpty():
		return other.Clone()
	case other.IsEmpty():
		return b.Clone()
	case b.CRS != other.CRS:
		return b.Clone()
	}
	return &BoundingBox{
		CRS:  b.CRS,
		MinX: math.Min(b.MinX, other.MinX),
		MinY: math.Min(b.MinY, other.MinY),
		MaxX: math.Max(b.MaxX, other.MaxX),
		MaxY: math.Max(b.MaxY, other.MaxY),
	}
}

func (b *BoundingBox) Intersects(other *BoundingBox) bool {
	if b.IsEmpty() || other.IsEmpty() || b.CRS != other.CRS {
		return false
	}
	return b.MinX <= other.MaxX && other.MinX <= b.MaxX &&
		b.MinY <= other.MaxY && other.MinY <= b.MaxY
}

// Contains reports whether other lies entirely inside b.
func (b *BoundingBox) Contains(other *BoundingBox) bool {
	if b.IsEmpty() || other.IsEmpty() || b.CRS != other.CRS {
		return false
	}
	return b.MinX <= other.MinX && b.MinY <= other.MinY &&
		b.MaxX >= other.MaxX && b.MaxY >= other.MaxY
}

func (b *BoundingBox) String() string {
	if b == nil {
		return "<none>"
	}
	return fmt.Sprintf("%s[%g %g, %g %g]", b.CRS, b.MinX, b.MinY, b.MaxX, b.MaxY)
}
