package svgm

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// ChunkCodec compresses a single B-tree node payload once it grows past
// Config.ChunkThreshold, so large values don't bloat the header file with
// their raw bytes (spec.md Design Notes, "view b-tree node chunking").
type ChunkCodec interface {
	Name() string
	Encode(raw []byte) ([]byte, error)
	Decode(compressed []byte) ([]byte, error)
}

// zstdCodec favors compression ratio, for views whose nodes are written
// once and read often (the common case for a settled secondary index).
type zstdCodec struct{}

func (zstdCodec) Name() string { return "zstd" }

func (zstdCodec) Encode(raw []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("svgm: new zstd writer: %w", err)
	}
	defer enc.Close()
	return enc.EncodeAll(raw, nil), nil
}

func (zstdCodec) Decode(compressed []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("svgm: new zstd reader: %w", err)
	}
	defer dec.Close()
	return dec.DecodeAll(compressed, nil)
}

// lz4Codec favors encode speed, for views still under active update where
// nodes are rewritten frequently.
type lz4Codec struct{}

func (lz4Codec) Name() string { return "lz4" }

func (lz4Codec) Encode(raw []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(raw); err != nil {
		return nil, fmt.Errorf("svgm: lz4 encode: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("svgm: lz4 close: %w", err)
	}
	return buf.Bytes(), nil
}

func (lz4Codec) Decode(compressed []byte) ([]byte, error) {
	r := lz4.NewReader(bytes.NewReader(compressed))
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("svgm: lz4 decode: %w", err)
	}
	return raw, nil
}

// ChunkCodecs are the codecs available for view node chunking, keyed by
// codec name (the value each codec's Name returns).
var ChunkCodecs = map[string]ChunkCodec{
	"zstd": zstdCodec{},
	"lz4":  lz4Codec{},
}

// EncodeChunk compresses raw with codec only if it is at least threshold
// bytes; smaller payloads are stored as-is since compression overhead
// would outweigh the saving.
func EncodeChunk(codec ChunkCodec, raw []byte, threshold uint64) (data []byte, compressed bool, err error) {
	if uint64(len(raw)) < threshold {
		return raw, false, nil
	}
	out, err := codec.Encode(raw)
	if err != nil {
		return nil, false, err
	}
	return out, true, nil
}
