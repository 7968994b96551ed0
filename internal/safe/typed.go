package safe

import (
	"fmt"

	"geotig/internal/errors"
	"geotig/internal/object"
)

// WriteObject encodes obj with the store's codec and stores it.
func WriteObject(s Store, obj object.Object) (object.ContentId, error) {
	data, err := object.Encode(s.Codec(), obj)
	if err != nil {
		return object.NullId, err
	}
	return s.Put(data)
}

func ReadObject(r Reader, id object.ContentId) (object.Object, error) {
	data, err := r.Get(id)
	if err != nil {
		return nil, err
	}
	obj, err := object.Decode(r.Codec(), data)
	if err != nil {
		return nil, fmt.Errorf("object %s: %w", id, err)
	}
	return obj, nil
}

func ReadKind(r Reader, id object.ContentId) (object.Kind, error) {
	data, err := r.Get(id)
	if err != nil {
		return 0, err
	}
	return object.PeekKind(data)
}

func typeMismatch(id object.ContentId, got, want object.Kind) error {
	return errors.InvariantViolation(fmt.Sprintf("object %s: type mismatch: got %q, want %q", id, got, want))
}

func ReadNode(r Reader, id object.ContentId) (*object.Node, error) {
	obj, err := ReadObject(r, id)
	if err != nil {
		return nil, err
	}
	node, ok := obj.(*object.Node)
	if !ok {
		return nil, typeMismatch(id, obj.Kind(), object.KindTree)
	}
	return node, nil
}

func ReadCommit(r Reader, id object.ContentId) (*object.Commit, error) {
	obj, err := ReadObject(r, id)
	if err != nil {
		return nil, err
	}
	commit, ok := obj.(*object.Commit)
	if !ok {
		return nil, typeMismatch(id, obj.Kind(), object.KindCommit)
	}
	return commit, nil
}

func ReadBlob(r Reader, id object.ContentId) (*object.Blob, error) {
	obj, err := ReadObject(r, id)
	if err != nil {
		return nil, err
	}
	blob, ok := obj.(*object.Blob)
	if !ok {
		return nil, typeMismatch(id, obj.Kind(), object.KindBlob)
	}
	return blob, nil
}

// WriteFeature encodes f as a blob payload.
func WriteFeature(s Store, f *object.Feature) (object.ContentId, error) {
	payload, err := s.Codec().Marshal(f)
	if err != nil {
		return object.NullId, fmt.Errorf("encoding feature: %w", err)
	}
	return WriteObject(s, &object.Blob{Data: payload})
}

func ReadFeature(r Reader, id object.ContentId) (*object.Feature, error) {
	blob, err := ReadBlob(r, id)
	if err != nil {
		return nil, err
	}
	var f object.Feature
	if err := r.Codec().Unmarshal(blob.Data, &f); err != nil {
		return nil, fmt.Errorf("decoding feature %s: %w", id, err)
	}
	return &f, nil
}
