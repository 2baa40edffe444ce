package stream

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/klauspost/compress/zstd"
)

// BytesPerSample is the size of one interleaved 8-bit I/Q sample (C8).
const BytesPerSample = 2

type zstdReadCloser struct {
	dec  *zstd.Decoder
	file *os.File
}

func (z *zstdReadCloser) Read(p []byte) (int, error) {
	return z.dec.Read(p)
}

func (z *zstdReadCloser) Close() error {
	z.dec.Close()
	return z.file.Close()
}

// Open returns a reader over the raw samples of path. Files ending in .zst
// are decompressed on the fly.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	if !isCompressed(path) {
		return f, nil
	}

	dec, err := zstd.NewReader(f, zstd.WithDecoderConcurrency(1))
	if err != nil {
		_ = f.Close()
		return nil, err
	}
	return &zstdReadCloser{dec: dec, file: f}, nil
}

func isCompressed(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".zst")
}

// EstimateDuration returns the playback time of a raw waveform file at
// sampleRate. Compressed files and unknown rates return zero.
func EstimateDuration(path string, sampleRate uint32) time.Duration {
	if sampleRate == 0 || isCompressed(path) {
		return 0
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0
	}
	samples := info.Size() / BytesPerSample
	return time.Duration(samples) * time.Second / time.Duration(sampleRate)
}
