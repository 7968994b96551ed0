package repository

import (
	"fmt"

	"geotig/internal/errors"
	"geotig/internal/object"
)

// SetRef points name at id.
func (r *Repository) SetRef(name string, id object.ContentId) error {
	if name == "" {
		return errors.ValidationError("ref name cannot be empty", nil)
	}
	return r.refs.Put(name, []byte(id.String()))
}

// Ref returns the id name points at.
func (r *Repository) Ref(name string) (object.ContentId, bool, error) {
	data, err := r.refs.Get(name)
	if errors.Is(err, errors.ErrorTypeNotFound) {
		return object.NullId, false, nil
	}
	if err != nil {
		return object.NullId, false, err
	}
	id, err := object.ParseContentId(string(data))
	if err != nil {
		return object.NullId, false, fmt.Errorf("ref %s: %w", name, err)
	}
	return id, true, nil
}

// Refs lists every ref.
func (r *Repository) Refs() (map[string]object.ContentId, error) {
	out := make(map[string]object.ContentId)
	err := r.refs.Scan("", func(key string, value []byte) error {
		id, err := object.ParseContentId(string(value))
		if err != nil {
			return fmt.Errorf("ref %s: %w", key, err)
		}
		out[key] = id
		return nil
	})
	return out, err
}

// ResolveRef turns HEAD, a named ref or a hex id into an object id. An
// unborn HEAD resolves to the null id.
func (r *Repository) ResolveRef(ref string) (object.ContentId, error) {
	if ref == "" {
		ref = HeadRef
	}
	id, ok, err := r.Ref(ref)
	if err != nil {
		return object.NullId, err
	}
	if ok {
		return id, nil
	}
	if ref == HeadRef {
		return object.NullId, nil
	}
	id, err = object.ParseContentId(ref)
	if err != nil {
		return object.NullId, errors.NotFound(fmt.Sprintf("unknown ref %q", ref))
	}
	return id, nil
}
