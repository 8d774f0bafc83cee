package octree

import (
	"github.com/pierrec/lz4/v4"
	"github.com/pkg/errors"
)

// compressBlock wraps data in a single LZ4 block.
func compressBlock(data []byte) ([]byte, error) {
	buf := make([]byte, lz4.CompressBlockBound(len(data)))
	var c lz4.Compressor
	n, err := c.CompressBlock(data, buf)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 compression failed")
	}
	if n == 0 {
		// incompressible input; emit a literal-only block so the stream
		// stays a valid LZ4 block
		return literalBlock(data), nil
	}
	return buf[:n], nil
}

// decompressBlock expands a single LZ4 block into a buffer of the given
// size.
func decompressBlock(data []byte, uncompressedSize int) ([]byte, error) {
	if uncompressedSize < 0 {
		return nil, errors.Wrapf(ErrFormat, "negative uncompressed size %d", uncompressedSize)
	}
	buf := make([]byte, uncompressedSize)
	n, err := lz4.UncompressBlock(data, buf)
	if err != nil {
		return nil, errors.Wrap(err, "lz4 decompression failed")
	}
	if n != uncompressedSize {
		return nil, errors.Wrapf(ErrFormat, "decompressed %d bytes, header promised %d", n, uncompressedSize)
	}
	return buf[:n], nil
}

// literalBlock encodes src as an LZ4 block containing a single literal run.
func literalBlock(src []byte) []byte {
	out := make([]byte, 0, len(src)+len(src)/255+16)
	n := len(src)
	if n < 15 {
		out = append(out, byte(n)<<4)
	} else {
		out = append(out, 0xF0)
		for rest := n - 15; ; rest -= 255 {
			if rest < 255 {
				out = append(out, byte(rest))
				break
			}
			out = append(out, 255)
		}
	}
	return append(out, src...)
}
