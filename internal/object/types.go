package object

// Object is any value that can be stored in the object store.
type Object interface {
	Kind() Kind
}

// Bucket points at the child node holding every entry whose name hash has
// Index at the parent's depth.
type Bucket struct {
	Index  uint8     `json:"index" cbor:"i"`
	Target ContentId `json:"target" cbor:"t"`
	Size   uint64    `json:"size" cbor:"s"`
}

// Node is a persisted tree node. A leaf node lists its entries ordered by
// name hash; a split node lists its buckets ordered by index. A node never
// carries both.
type Node struct {
	Size    uint64   `json:"size" cbor:"s"`
	Entries []Entry  `json:"entries,omitempty" cbor:"e,omitempty"`
	Buckets []Bucket `json:"buckets,omitempty" cbor:"b,omitempty"`
}

func (n *Node) Kind() Kind { return KindTree }

func (n *Node) IsSplit() bool { return len(n.Buckets) > 0 }

// Commit records a root tree with its parents. Only what tree resolution
// needs is modelled here.
type Commit struct {
	Tree      ContentId   `json:"tree" cbor:"t"`
	Parents   []ContentId `json:"parents,omitempty" cbor:"p,omitempty"`
	Author    string      `json:"author" cbor:"a"`
	Message   string      `json:"message" cbor:"m"`
	Timestamp int64       `json:"timestamp" cbor:"ts"`
}

func (c *Commit) Kind() Kind { return KindCommit }

type Tag struct {
	Target  ContentId `json:"target" cbor:"t"`
	Name    string    `json:"name" cbor:"n"`
	Message string    `json:"message" cbor:"m"`
}

func (t *Tag) Kind() Kind { return KindTag }

// Blob is an opaque leaf payload, usually an encoded Feature.
type Blob struct {
	Data []byte
}

func (b *Blob) Kind() Kind { return KindBlob }

// Feature is the payload the importer stores for a geographic record.
// Geometry is kept opaque (typically WKT).
type Feature struct {
	Geometry   string            `json:"geometry,omitempty" cbor:"g,omitempty"`
	Properties map[string]string `json:"properties,omitempty" cbor:"p,omitempty"`
}
