// internal/safe/compression.go
package safe

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/klauspost/compress/zstd"
)

var zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

// CompressionOptions configures compression behavior
type CompressionOptions struct {
	// Minimum size in bytes before compressing
	MinSize int
	// Compression level (1=fastest, 4=best)
	Level int
	// Disabled stores every object raw
	Disabled bool
}

// DefaultCompressionOptions provides sensible defaults
func DefaultCompressionOptions() CompressionOptions {
	return CompressionOptions{
		MinSize: 1024, // 1KB
		Level:   2,    // Balanced speed/compression
	}
}

// compressionManager keeps pools of zstd encoders and decoders. Stored
// objects always begin with a kind byte, so a zstd frame magic is an
// unambiguous marker of compressed content.
type compressionManager struct {
	opts     CompressionOptions
	encoders sync.Pool
	decoders sync.Pool
}

func newCompressionManager(opts CompressionOptions) (*compressionManager, error) {
	level := zstd.EncoderLevelFromZstd(opts.Level)

	// Validate options up front so pool constructors cannot fail later.
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("creating test decoder: %w", err)
	}

	cm := &compressionManager{opts: opts}
	cm.encoders.New = func() interface{} {
		enc, _ := zstd.NewWriter(nil, zstd.WithEncoderLevel(level), zstd.WithEncoderConcurrency(1))
		return enc
	}
	cm.decoders.New = func() interface{} {
		dec, _ := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		return dec
	}
	cm.encoders.Put(enc)
	cm.decoders.Put(dec)

	return cm, nil
}

func (cm *compressionManager) shouldCompress(size int) bool {
	return !cm.opts.Disabled && size >= cm.opts.MinSize
}

// compress returns the stored form of content. Content that does not shrink
// is kept raw.
func (cm *compressionManager) compress(content []byte) ([]byte, error) {
	if !cm.shouldCompress(len(content)) {
		return content, nil
	}

	enc := cm.encoders.Get().(*zstd.Encoder)
	defer cm.encoders.Put(enc)

	out := enc.EncodeAll(content, make([]byte, 0, len(content)/2))
	if len(out) >= len(content) {
		return content, nil
	}
	return out, nil
}

func isCompressed(stored []byte) bool {
	return len(stored) > len(zstdMagic) && bytes.Equal(stored[:len(zstdMagic)], zstdMagic)
}

func (cm *compressionManager) decompress(stored []byte) ([]byte, error) {
	if !isCompressed(stored) {
		return stored, nil
	}

	dec := cm.decoders.Get().(*zstd.Decoder)
	defer cm.decoders.Put(dec)

	return dec.DecodeAll(stored, nil)
}

// close releases one pooled decoder's goroutines. Pooled values that were
// never retrieved are collected with the pool.
func (cm *compressionManager) close() {
	if dec, ok := cm.decoders.Get().(*zstd.Decoder); ok && dec != nil {
		dec.Close()
	}
}
