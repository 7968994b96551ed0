package safe

import (
	"geotig/internal/errors"
	"geotig/internal/object"
)

// Layered stacks a writable top store over a read-only base. Reads try the
// top first; every write and delete lands in the top.
type Layered struct {
	top  Store
	base Reader
}

var _ Store = (*Layered)(nil)

func NewLayered(top Store, base Reader) *Layered {
	return &Layered{top: top, base: base}
}

func (l *Layered) Top() Store   { return l.top }
func (l *Layered) Base() Reader { return l.base }

func (l *Layered) Codec() object.Codec { return l.top.Codec() }

func (l *Layered) Get(id object.ContentId) ([]byte, error) {
	data, err := l.top.Get(id)
	if err == nil {
		return data, nil
	}
	if !errors.Is(err, errors.ErrorTypeNotFound) {
		return nil, err
	}
	return l.base.Get(id)
}

func (l *Layered) Exists(id object.ContentId) (bool, error) {
	ok, err := l.top.Exists(id)
	if err != nil || ok {
		return ok, err
	}
	return l.base.Exists(id)
}

func (l *Layered) Put(data []byte) (object.ContentId, error) {
	return l.top.Put(data)
}

func (l *Layered) Insert(id object.ContentId, data []byte) error {
	return l.top.Insert(id, data)
}

func (l *Layered) Delete(id object.ContentId) error {
	return l.top.Delete(id)
}
