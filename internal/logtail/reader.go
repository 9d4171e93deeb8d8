// Crashbeacon - Crash Telemetry and Error Reporting for CMS Plugins
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/crashbeacon

// Package logtail extracts the last N lines of a debug log in bounded
// memory. Host debug logs grow without rotation on many installs, so the
// file is read backwards in fixed-size chunks from EOF under a hard byte
// ceiling, never loaded fully into memory.
package logtail

import (
	"bytes"
	"errors"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/tomtom215/crashbeacon/internal/logging"
)

// Defaults for the tail reader. Tuned for CMS debug logs: 150 lines is
// enough context for a crash report, 8KiB chunks amortize syscalls, and
// 5MiB caps the worst case on logs with pathologically long lines.
const (
	DefaultLines      = 150
	DefaultChunkBytes = 8192
	DefaultMaxBytes   = 5 << 20
)

// Config holds tail reader settings. Zero values use the defaults above.
type Config struct {
	// Lines is the number of trailing lines to return.
	Lines int

	// ChunkBytes is the size of each backward read.
	ChunkBytes int

	// MaxBytes is the hard ceiling on bytes read from the tail of the
	// file. Oversized files are read only up to this budget, not rejected.
	MaxBytes int64
}

// Reader extracts the trailing lines of a file.
// Memory use is O(lines * avg_line_length), independent of file size.
type Reader struct {
	lines    int
	chunk    int
	maxBytes int64
	log      zerolog.Logger
}

// New creates a tail reader, applying defaults for unset config fields.
func New(cfg Config) *Reader {
	if cfg.Lines <= 0 {
		cfg.Lines = DefaultLines
	}
	if cfg.ChunkBytes <= 0 {
		cfg.ChunkBytes = DefaultChunkBytes
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = DefaultMaxBytes
	}
	return &Reader{
		lines:    cfg.Lines,
		chunk:    cfg.ChunkBytes,
		maxBytes: cfg.MaxBytes,
		log:      logging.Component("logtail"),
	}
}

// Tail returns up to the configured number of trailing lines of the file
// at path, oldest first. A missing or unreadable file is not an error for
// the reporting pipeline: the tail is supplemental context, so failures
// degrade to an empty result.
func (r *Reader) Tail(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		r.log.Debug().Str("path", path).Err(err).Msg("debug log unavailable, returning empty tail")
		return nil
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		r.log.Debug().Str("path", path).Err(err).Msg("debug log stat failed, returning empty tail")
		return nil
	}

	lines, err := r.TailReaderAt(f, info.Size())
	if err != nil {
		r.log.Warn().Str("path", path).Err(err).Msg("tail read failed, returning empty tail")
		return nil
	}
	return lines
}

// Joined returns the tail of the file as a single newline-joined string,
// ready for payload assembly.
func (r *Reader) Joined(path string) string {
	return strings.Join(r.Tail(path), "\n")
}

// TailReaderAt extracts the trailing lines from an arbitrary io.ReaderAt
// of known size. Exposed separately so bounded-read behavior is testable
// without the filesystem.
//
// The cursor starts at EOF and moves backward one chunk at a time,
// prepending each chunk to an in-memory buffer, until the buffer contains
// enough newlines, the cursor reaches the start of the byte budget, or the
// budget is exhausted. Content is treated as opaque bytes.
func (r *Reader) TailReaderAt(ra io.ReaderAt, size int64) ([]string, error) {
	if size <= 0 {
		return nil, nil
	}

	// Only the last maxBytes of the file are ever considered.
	start := int64(0)
	if size > r.maxBytes {
		start = size - r.maxBytes
	}

	var buf []byte
	offset := size
	newlines := 0

	for offset > start && newlines < r.lines+1 {
		step := int64(r.chunk)
		if offset-start < step {
			step = offset - start
		}
		offset -= step

		chunk := make([]byte, step)
		if _, err := ra.ReadAt(chunk, offset); err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}

		newlines += bytes.Count(chunk, []byte{'\n'})
		buf = append(chunk, buf...) //nolint:makezero // prepend is intentional
	}

	lines := strings.Split(string(buf), "\n")

	// A file ending in a newline yields a spurious empty last element.
	if len(lines) > 0 && lines[len(lines)-1] == "" {
		lines = lines[:len(lines)-1]
	}

	if len(lines) > r.lines {
		lines = lines[len(lines)-r.lines:]
	}
	return lines, nil
}
