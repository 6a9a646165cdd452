package svgm

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestZstdCodecRoundTrip(t *testing.T) {
	codec := ChunkCodecs["zstd"]
	raw := bytes.Repeat([]byte("hello world "), 100)

	compressed, err := codec.Encode(raw)
	require.NoError(t, err)

	got, err := codec.Decode(compressed)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestLZ4CodecRoundTrip(t *testing.T) {
	codec := ChunkCodecs["lz4"]
	raw := bytes.Repeat([]byte("hello world "), 100)

	compressed, err := codec.Encode(raw)
	require.NoError(t, err)

	got, err := codec.Decode(compressed)
	require.NoError(t, err)
	require.Equal(t, raw, got)
}

func TestEncodeChunkSkipsSmallPayloads(t *testing.T) {
	codec := ChunkCodecs["zstd"]
	raw := []byte("tiny")

	data, compressed, err := EncodeChunk(codec, raw, 1024)
	require.NoError(t, err)
	require.False(t, compressed)
	require.Equal(t, raw, data)
}

func TestEncodeChunkCompressesLargePayloads(t *testing.T) {
	codec := ChunkCodecs["zstd"]
	raw := bytes.Repeat([]byte("x"), 10000)

	data, compressed, err := EncodeChunk(codec, raw, 1024)
	require.NoError(t, err)
	require.True(t, compressed)
	require.Less(t, len(data), len(raw))
}
