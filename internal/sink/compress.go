package sink

import (
	"bytes"
	"io"

	"github.com/dbslice/dbslice/pkg/compression"
)

// compressorFor maps an output config's compress string onto a
// compression.Compressor. Empty/"none" selects the no-op compressor.
func compressorFor(name string) compression.Compressor {
	switch name {
	case "gzip":
		return compression.NewGzipCompressor(compression.LevelDefault)
	case "zstd":
		if c, err := compression.NewZstdCompressor(compression.LevelDefault); err == nil {
			return c
		}
		return compression.NewGzipCompressor(compression.LevelDefault)
	default:
		return compression.NewNoOpCompressor()
	}
}

// bufferedCompressWriter buffers an entire segment in memory, then
// compresses and hands the result to flush on Close. Segments are
// extracted via a scratch file and copied whole into the sink, so
// whole-buffer compression does not add an extra streaming constraint.
type bufferedCompressWriter struct {
	buf        bytes.Buffer
	compressor compression.Compressor
	flush      func(data []byte) error
}

func newBufferedCompressWriter(c compression.Compressor, flush func([]byte) error) *bufferedCompressWriter {
	return &bufferedCompressWriter{compressor: c, flush: flush}
}

func (w *bufferedCompressWriter) Write(p []byte) (int, error) {
	return w.buf.Write(p)
}

func (w *bufferedCompressWriter) Close() error {
	compressed, err := w.compressor.Compress(w.buf.Bytes())
	if err != nil {
		return err
	}
	return w.flush(compressed)
}

// decompressReader reads the whole of r, decompresses it, and exposes
// the result through a io.ReadCloser.
func decompressReader(r io.ReadCloser, c compression.Compressor) (io.ReadCloser, error) {
	defer r.Close()
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	decompressed, err := c.Decompress(data)
	if err != nil {
		return nil, err
	}
	return io.NopCloser(bytes.NewReader(decompressed)), nil
}
