// Copyright (C) 2025 CardinalHQ, Inc
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, version 3.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <http://www.gnu.org/licenses/>.

package snapshot

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
)

// DefaultMaxDecodedBytes caps the size of a decompressed dataset.
const DefaultMaxDecodedBytes int64 = 4 << 30

// Format identifies how an archive is encoded.
type Format string

const (
	FormatZstd    Format = "zstd"
	FormatGzip    Format = "gzip"
	FormatSQLite  Format = "sqlite"
	FormatUnknown Format = "unknown"
)

var (
	zstdMagic   = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic   = []byte{0x1f, 0x8b}
	sqliteMagic = []byte("SQLite format 3\x00")

	ErrUnknownFormat = errors.New("unknown archive format")
	ErrTooLarge      = errors.New("decompressed size exceeds limit")
)

// DetectFormat inspects the leading bytes of an archive.
func DetectFormat(head []byte) Format {
	switch {
	case bytes.HasPrefix(head, zstdMagic):
		return FormatZstd
	case bytes.HasPrefix(head, gzipMagic):
		return FormatGzip
	case bytes.HasPrefix(head, sqliteMagic):
		return FormatSQLite
	}
	return FormatUnknown
}

// Decompressor expands a downloaded archive into a dataset file.
type Decompressor struct {
	maxDecodedBytes int64
}

// NewDecompressor returns a decompressor that refuses to produce more than
// maxDecodedBytes of output. A non-positive value selects the default.
func NewDecompressor(maxDecodedBytes int64) *Decompressor {
	if maxDecodedBytes <= 0 {
		maxDecodedBytes = DefaultMaxDecodedBytes
	}
	return &Decompressor{maxDecodedBytes: maxDecodedBytes}
}

// Decompress decodes srcPath into destPath. Output goes to a temporary file
// in the destination directory that is renamed into place only once the
// whole archive decoded cleanly, so destPath is never left half written.
// All failures are reported as *DecompressError.
func (d *Decompressor) Decompress(srcPath, destPath string) error {
	start := time.Now()

	src, err := os.Open(srcPath)
	if err != nil {
		return &DecompressError{Path: srcPath, Err: err}
	}
	defer func() { _ = src.Close() }()

	br := bufio.NewReaderSize(src, 1<<20)
	head, err := br.Peek(len(sqliteMagic))
	if err != nil && !errors.Is(err, io.EOF) && !errors.Is(err, bufio.ErrBufferFull) {
		recordDecompress(string(FormatUnknown), 0, err)
		return &DecompressError{Path: srcPath, Err: err}
	}
	format := DetectFormat(head)

	r, closeFn, err := d.reader(format, br)
	if err != nil {
		recordDecompress(string(format), 0, err)
		return &DecompressError{Path: srcPath, Err: err}
	}
	defer closeFn()

	n, err := d.writeAtomic(r, destPath)
	recordDecompress(string(format), n, err)
	if err != nil {
		return &DecompressError{Path: srcPath, Err: err}
	}

	slog.Info("Decompressed snapshot archive",
		slog.String("format", string(format)),
		slog.String("src", srcPath),
		slog.String("dest", destPath),
		slog.Int64("bytes", n),
		slog.Duration("duration", time.Since(start)))
	return nil
}

func (d *Decompressor) reader(format Format, br *bufio.Reader) (io.Reader, func(), error) {
	switch format {
	case FormatZstd:
		zr, err := zstd.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("open zstd stream: %w", err)
		}
		return zr, zr.Close, nil
	case FormatGzip:
		gr, err := gzip.NewReader(br)
		if err != nil {
			return nil, nil, fmt.Errorf("open gzip stream: %w", err)
		}
		return gr, func() { _ = gr.Close() }, nil
	case FormatSQLite:
		return br, func() {}, nil
	}
	return nil, nil, ErrUnknownFormat
}

func (d *Decompressor) writeAtomic(r io.Reader, destPath string) (int64, error) {
	dir := filepath.Dir(destPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create dataset dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(destPath)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp dataset: %w", err)
	}
	tmpPath := tmp.Name()

	n, err := io.Copy(tmp, io.LimitReader(r, d.maxDecodedBytes+1))
	if err == nil && n > d.maxDecodedBytes {
		err = fmt.Errorf("%w (%d bytes)", ErrTooLarge, d.maxDecodedBytes)
	}
	if err == nil {
		err = tmp.Sync()
	}
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpPath, destPath)
	}
	if err != nil {
		removeFile(tmpPath, "temporary dataset")
		return n, err
	}
	return n, nil
}
