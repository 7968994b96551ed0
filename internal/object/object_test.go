package object

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashBytesDeterministic(t *testing.T) {
	a := HashBytes([]byte("feature"))
	b := HashBytes([]byte("feature"))
	c := HashBytes([]byte("feature2"))

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.False(t, a.IsNull())
	assert.True(t, NullId.IsNull())
	assert.Len(t, a.String(), IDSize*2)
}

func TestParseContentId(t *testing.T) {
	id := HashBytes([]byte("x"))
	parsed, err := ParseContentId(id.String())
	require.NoError(t, err)
	assert.Equal(t, id, parsed)

	_, err = ParseContentId("abc")
	assert.Error(t, err)
	_, err = ParseContentId("zz" + id.String()[2:])
	assert.Error(t, err)
}

func TestEntryEqualIgnoresBounds(t *testing.T) {
	id := HashBytes([]byte("a"))
	e1 := Entry{Name: "a", Target: id, Kind: KindBlob, Bounds: NewBoundingBox("EPSG:4326", 0, 0, 1, 1)}
	e2 := Entry{Name: "a", Target: id, Kind: KindBlob}

	assert.True(t, e1.Equal(e2))
	e2.Kind = KindTree
	assert.False(t, e1.Equal(e2))
}

func TestCompareNamesFollowsHash(t *testing.T) {
	names := []string{"a", "b", "c", "d"}
	for _, x := range names {
		for _, y := range names {
			hx, hy := NameHash(x), NameHash(y)
			assert.Equal(t, hx.Compare(hy), CompareNames(x, y), "%s vs %s", x, y)
		}
	}
}

func TestBoundingBoxUnion(t *testing.T) {
	a := NewBoundingBox("EPSG:4326", 0, 0, 1, 1)
	b := NewBoundingBox("EPSG:4326", 2, -1, 3, 0.5)
	other := NewBoundingBox("EPSG:3857", 100, 100, 200, 200)

	u := a.Union(b)
	assert.Equal(t, &BoundingBox{CRS: "EPSG:4326", MinX: 0, MinY: -1, MaxX: 3, MaxY: 1}, u)
	assert.True(t, u.Contains(a))
	assert.True(t, u.Contains(b))
	assert.True(t, a.Intersects(u))
	assert.False(t, a.Intersects(b))

	var none *BoundingBox
	assert.Equal(t, a, none.Union(a))
	assert.Equal(t, a, a.Union(nil))
	assert.Equal(t, a, a.Union(other))
}

func TestEncodeDecode(t *testing.T) {
	codecs := []Codec{DefaultCodec(), JSONCodec{}}
	node := &Node{
		Size: 2,
		Entries: []Entry{
			{Name: "1", Target: HashBytes([]byte("1")), Kind: KindBlob, Bounds: NewBoundingBox("EPSG:4326", 1, 2, 3, 4)},
			{Name: "t", Target: HashBytes([]byte("t")), Kind: KindTree},
		},
	}

	for _, codec := range codecs {
		t.Run(codec.Name(), func(t *testing.T) {
			data, err := Encode(codec, node)
			require.NoError(t, err)

			again, err := Encode(codec, node)
			require.NoError(t, err)
			assert.Equal(t, data, again)

			kind, err := PeekKind(data)
			require.NoError(t, err)
			assert.Equal(t, KindTree, kind)

			obj, err := Decode(codec, data)
			require.NoError(t, err)
			assert.Equal(t, node, obj)
		})
	}
}

func TestEncodeBlobIsRaw(t *testing.T) {
	data, err := Encode(DefaultCodec(), &Blob{Data: []byte("payload")})
	require.NoError(t, err)
	assert.Equal(t, append([]byte{byte(KindBlob)}, "payload"...), data)

	obj, err := Decode(DefaultCodec(), data)
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), obj.(*Blob).Data)

	_, err = Decode(DefaultCodec(), []byte{0xff})
	assert.Error(t, err)
}

func TestKindJSON(t *testing.T) {
	data, err := json.Marshal(Entry{Name: "x", Kind: KindTree})
	require.NoError(t, err)
	assert.Contains(t, string(data), `"kind":"tree"`)

	var e Entry
	require.NoError(t, json.Unmarshal(data, &e))
	assert.Equal(t, KindTree, e.Kind)
}
