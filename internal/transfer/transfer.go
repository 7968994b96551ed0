// Package transfer moves objects between repositories as zstd-compressed
// packs. A pack is a header followed by frames of
// (kind byte, id, uvarint payload length, payload).
package transfer

import (
	"bufio"
	"bytes"
	"context"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"geotig/internal/errors"
	"geotig/internal/object"
	"geotig/internal/safe"
)

var packMagic = []byte("GTPK\x01")

// maxPayload bounds a single frame. Payload buffers grow with the bytes
// actually read, never with the declared length.
const maxPayload = 64 << 20

// Reachable calls fn once for every object reachable from roots, parents
// before children. Null roots are skipped.
func Reachable(store safe.Reader, roots []object.ContentId, fn func(id object.ContentId, data []byte) error) error {
	seen := make(map[object.ContentId]struct{})
	stack := make([]object.ContentId, 0, len(roots))
	for i := len(roots) - 1; i >= 0; i-- {
		if !roots[i].IsNull() {
			stack = append(stack, roots[i])
		}
	}

	for len(stack) > 0 {
		id := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}

		data, err := store.Get(id)
		if err != nil {
			return fmt.Errorf("reading %s: %w", id.Short(), err)
		}
		if err := fn(id, data); err != nil {
			return err
		}

		children, err := links(store.Codec(), data)
		if err != nil {
			return fmt.Errorf("object %s: %w", id.Short(), err)
		}
		for i := len(children) - 1; i >= 0; i-- {
			if _, ok := seen[children[i]]; !ok && !children[i].IsNull() {
				stack = append(stack, children[i])
			}
		}
	}
	return nil
}

func links(codec object.Codec, data []byte) ([]object.ContentId, error) {
	kind, err := object.PeekKind(data)
	if err != nil {
		return nil, err
	}
	if kind == object.KindBlob {
		return nil, nil
	}
	obj, err := object.Decode(codec, data)
	if err != nil {
		return nil, err
	}

	var out []object.ContentId
	switch o := obj.(type) {
	case *object.Commit:
		out = append(out, o.Tree)
		out = append(out, o.Parents...)
	case *object.Node:
		for _, b := range o.Buckets {
			out = append(out, b.Target)
		}
		for _, e := range o.Entries {
			out = append(out, e.Target)
		}
	case *object.Tag:
		out = append(out, o.Target)
	}
	return out, nil
}

// Export writes a pack of everything reachable from roots and returns the
// number of objects written.
func Export(ctx context.Context, store safe.Reader, w io.Writer, roots ...object.ContentId) (int, error) {
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return 0, fmt.Errorf("creating pack encoder: %w", err)
	}
	bw := bufio.NewWriter(zw)

	if _, err := bw.Write(packMagic); err != nil {
		zw.Close()
		return 0, err
	}

	count := 0
	var lenBuf [binary.MaxVarintLen64]byte
	err = Reachable(store, roots, func(id object.ContentId, data []byte) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := bw.WriteByte(data[0]); err != nil {
			return err
		}
		if _, err := bw.Write(id[:]); err != nil {
			return err
		}
		payload := data[1:]
		n := binary.PutUvarint(lenBuf[:], uint64(len(payload)))
		if _, err := bw.Write(lenBuf[:n]); err != nil {
			return err
		}
		if _, err := bw.Write(payload); err != nil {
			return err
		}
		count++
		return nil
	})
	if err != nil {
		zw.Close()
		return count, err
	}

	if err := bw.Flush(); err != nil {
		zw.Close()
		return count, err
	}
	if err := zw.Close(); err != nil {
		return count, fmt.Errorf("finishing pack: %w", err)
	}
	return count, nil
}

// Import reads a pack into store, verifying every object against its id,
// and returns the number of objects read.
func Import(ctx context.Context, store safe.Store, r io.Reader) (int, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("creating pack decoder: %w", err)
	}
	defer zr.Close()
	br := bufio.NewReader(zr)

	magic := make([]byte, len(packMagic))
	if _, err := io.ReadFull(br, magic); err != nil {
		return 0, errors.ValidationError("not a pack: short header", nil)
	}
	if string(magic) != string(packMagic) {
		return 0, errors.ValidationError("not a pack: bad header", nil)
	}

	count := 0
	for {
		if err := ctx.Err(); err != nil {
			return count, err
		}

		kind, err := br.ReadByte()
		if err == io.EOF {
			return count, nil
		}
		if err != nil {
			return count, err
		}
		if !object.Kind(kind).Valid() {
			return count, errors.ValidationError(fmt.Sprintf("frame %d: unknown kind 0x%02x", count, kind), nil)
		}

		var id object.ContentId
		if _, err := io.ReadFull(br, id[:]); err != nil {
			return count, fmt.Errorf("frame %d: reading id: %w", count, err)
		}
		size, err := binary.ReadUvarint(br)
		if err != nil {
			return count, fmt.Errorf("frame %d: reading length: %w", count, err)
		}
		if size > maxPayload {
			return count, errors.ValidationError(fmt.Sprintf("frame %d: payload of %d bytes is too large", count, size), nil)
		}

		var buf bytes.Buffer
		buf.WriteByte(kind)
		n, err := io.CopyN(&buf, br, int64(size))
		if err == io.EOF {
			return count, errors.ValidationError(fmt.Sprintf("frame %d: payload truncated at %d of %d bytes", count, n, size), nil)
		}
		if err != nil {
			return count, fmt.Errorf("frame %d: reading payload: %w", count, err)
		}
		data := buf.Bytes()
		if object.HashBytes(data) != id {
			return count, errors.ValidationError(fmt.Sprintf("frame %d: content does not match %s", count, id.Short()), nil)
		}
		if err := store.Insert(id, data); err != nil {
			return count, fmt.Errorf("storing %s: %w", id.Short(), err)
		}
		count++
	}
}
