package object

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/blake2b"
)

// IDSize is the width of a ContentId in bytes (160 bits).
const IDSize = 20

// ContentId is the BLAKE2b-160 digest of an object's stored bytes.
type ContentId [IDSize]byte

// NullId denotes an absent object.
var NullId ContentId

func newHasher() hashWriter {
	h, err := blake2b.New(IDSize, nil)
	if err != nil {
		// only fails for an invalid size or an oversized key
		panic(err)
	}
	return h
}

type hashWriter interface {
	Write(p []byte) (int, error)
	Sum(b []byte) []byte
}

// HashBytes computes the ContentId of data.
func HashBytes(data []byte) ContentId {
	h := newHasher()
	h.Write(data)
	var id ContentId
	copy(id[:], h.Sum(nil))
	return id
}

// NameHash hashes an entry name. Its bytes pick the bucket at each tree depth
// and define the canonical ordering of entries.
func NameHash(name string) ContentId {
	return HashBytes([]byte(name))
}

func ParseContentId(s string) (ContentId, error) {
	var id ContentId
	if len(s) != IDSize*2 {
		return id, fmt.Errorf("invalid content id %q: want %d hex characters", s, IDSize*2)
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return id, fmt.Errorf("invalid content id %q: %w", s, err)
	}
	return id, nil
}

func (id ContentId) IsNull() bool {
	return id == NullId
}

func (id ContentId) Compare(other ContentId) int {
	return bytes.Compare(id[:], other[:])
}

func (id ContentId) String() string {
	return hex.EncodeToString(id[:])
}

// Short returns the first 8 hex characters, for display.
func (id ContentId) Short() string {
	return id.String()[:8]
}

func (id ContentId) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

func (id *ContentId) UnmarshalText(text []byte) error {
	parsed, err := ParseContentId(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
