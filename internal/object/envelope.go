package object

import "fmt"

// Encode produces the stored form of obj: one kind byte followed by the
// payload. Blob payloads are stored raw; everything else goes through codec.
func Encode(codec Codec, obj Object) ([]byte, error) {
	kind := obj.Kind()
	if b, ok := obj.(*Blob); ok {
		out := make([]byte, 0, len(b.Data)+1)
		out = append(out, byte(kind))
		return append(out, b.Data...), nil
	}

	payload, err := codec.Marshal(obj)
	if err != nil {
		return nil, fmt.Errorf("encoding %s: %w", kind, err)
	}
	out := make([]byte, 0, len(payload)+1)
	out = append(out, byte(kind))
	return append(out, payload...), nil
}

// PeekKind reads the kind byte of stored object bytes.
func PeekKind(data []byte) (Kind, error) {
	if len(data) == 0 {
		return 0, fmt.Errorf("empty object")
	}
	k := Kind(data[0])
	if !k.Valid() {
		return 0, fmt.Errorf("unknown object kind byte 0x%02x", data[0])
	}
	return k, nil
}

// Decode parses stored object bytes.
func Decode(codec Codec, data []byte) (Object, error) {
	kind, err := PeekKind(data)
	if err != nil {
		return nil, err
	}
	payload := data[1:]

	var obj Object
	switch kind {
	case KindBlob:
		return &Blob{Data: append([]byte(nil), payload...)}, nil
	case KindTree:
		obj = &Node{}
	case KindCommit:
		obj = &Commit{}
	case KindTag:
		obj = &Tag{}
	default:
		return nil, fmt.Errorf("cannot decode %s objects", kind)
	}

	if err := codec.Unmarshal(payload, obj); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", kind, err)
	}
	return obj, nil
}

// EmptyTree is the node with no entries.
func EmptyTree() *Node {
	return &Node{}
}
