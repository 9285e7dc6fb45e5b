// Compression codec selection (§4.1 "capability negotiation picks a
// compressor"). Wraps the same third-party codecs the rest of the
// corpus reaches for rather than hand-rolling any of them.
/*
 * Copyright (c) 2018-2024, NVIDIA CORPORATION. All rights reserved.
 */
package stream

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"sync"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/zstd"
	lz4 "github.com/pierrec/lz4/v3"
)

// Compressor streams chart/value records through a negotiated codec.
// Implementations serialize Compress calls with a mutex; the Sender owns
// one per outbound connection (§5 "single-writer").
type Compressor interface {
	// Compress appends the compressed form of p to dst and returns it.
	Compress(dst, p []byte) ([]byte, error)
	Capability() Capability
}

type Decompressor interface {
	Decompress(dst, p []byte) ([]byte, error)
}

// NewCompressor picks the first compressor bit present in negotiated,
// in the preference order Capability.Compressors() already encodes
// (LZ4 > ZSTD > BROTLI > GZIP), at the given level (§6 "per-algorithm
// compression levels"). Returns nil, nil if negotiated carries no
// compressor bit - the caller then streams plaintext.
func NewCompressor(negotiated Capability, level map[Capability]int) (Compressor, error) {
	for _, bit := range negotiated.Compressors() {
		lvl := level[bit]
		switch bit {
		case CompLZ4:
			return newLZ4Compressor(lvl), nil
		case CompZSTD:
			return newZstdCompressor(lvl)
		case CompBROTLI:
			return newBrotliCompressor(lvl), nil
		case CompGZIP:
			return newGzipCompressor(lvl)
		}
	}
	return nil, nil
}

func NewDecompressor(bit Capability) (Decompressor, error) {
	switch bit {
	case CompLZ4:
		return &lz4Decompressor{}, nil
	case CompZSTD:
		return newZstdDecompressor()
	case CompBROTLI:
		return &brotliDecompressor{}, nil
	case CompGZIP:
		return &gzipDecompressor{}, nil
	case 0:
		return nil, nil
	default:
		return nil, fmt.Errorf("stream: unknown compressor bit %d", bit)
	}
}

// --- LZ4 ---

type lz4Compressor struct {
	mu  sync.Mutex
	buf bytes.Buffer
	hdr lz4.Header
}

func newLZ4Compressor(level int) *lz4Compressor {
	c := &lz4Compressor{}
	c.hdr.CompressionLevel = level
	return c
}

func (c *lz4Compressor) Capability() Capability { return CompLZ4 }

func (c *lz4Compressor) Compress(dst, p []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	w := lz4.NewWriter(&c.buf)
	w.Header = c.hdr
	if _, err := w.Write(p); err != nil {
		return dst, err
	}
	if err := w.Close(); err != nil {
		return dst, err
	}
	return append(dst, c.buf.Bytes()...), nil
}

type lz4Decompressor struct{}

func (*lz4Decompressor) Decompress(dst, p []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(p))
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return dst, err
	}
	return append(dst, out.Bytes()...), nil
}

// --- ZSTD ---

type zstdCompressor struct {
	mu  sync.Mutex
	enc *zstd.Encoder
}

func newZstdCompressor(level int) (*zstdCompressor, error) {
	lvl := zstd.EncoderLevelFromZstd(level)
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(lvl))
	if err != nil {
		return nil, err
	}
	return &zstdCompressor{enc: enc}, nil
}

func (c *zstdCompressor) Capability() Capability { return CompZSTD }

func (c *zstdCompressor) Compress(dst, p []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.enc.EncodeAll(p, dst), nil
}

type zstdDecompressor struct{ dec *zstd.Decoder }

func newZstdDecompressor() (*zstdDecompressor, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	return &zstdDecompressor{dec: dec}, nil
}

func (d *zstdDecompressor) Decompress(dst, p []byte) ([]byte, error) {
	return d.dec.DecodeAll(p, dst)
}

// --- BROTLI ---

type brotliCompressor struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	level int
}

func newBrotliCompressor(level int) *brotliCompressor {
	return &brotliCompressor{level: level}
}

func (c *brotliCompressor) Capability() Capability { return CompBROTLI }

func (c *brotliCompressor) Compress(dst, p []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	w := brotli.NewWriterLevel(&c.buf, c.level)
	if _, err := w.Write(p); err != nil {
		return dst, err
	}
	if err := w.Close(); err != nil {
		return dst, err
	}
	return append(dst, c.buf.Bytes()...), nil
}

type brotliDecompressor struct{}

func (*brotliDecompressor) Decompress(dst, p []byte) ([]byte, error) {
	r := brotli.NewReader(bytes.NewReader(p))
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return dst, err
	}
	return append(dst, out.Bytes()...), nil
}

// --- GZIP ---

type gzipCompressor struct {
	mu    sync.Mutex
	buf   bytes.Buffer
	level int
}

func newGzipCompressor(level int) (*gzipCompressor, error) {
	if level == 0 {
		level = gzip.DefaultCompression
	}
	return &gzipCompressor{level: level}, nil
}

func (c *gzipCompressor) Capability() Capability { return CompGZIP }

func (c *gzipCompressor) Compress(dst, p []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.Reset()
	w, err := gzip.NewWriterLevel(&c.buf, c.level)
	if err != nil {
		return dst, err
	}
	if _, err := w.Write(p); err != nil {
		return dst, err
	}
	if err := w.Close(); err != nil {
		return dst, err
	}
	return append(dst, c.buf.Bytes()...), nil
}

type gzipDecompressor struct{}

func (*gzipDecompressor) Decompress(dst, p []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(p))
	if err != nil {
		return dst, err
	}
	defer r.Close()
	var out bytes.Buffer
	if _, err := io.Copy(&out, r); err != nil {
		return dst, err
	}
	return append(dst, out.Bytes()...), nil
}
