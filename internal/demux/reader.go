// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package demux

import (
	"fmt"
	"io"
)

// maxElementRead caps a single header or sample read.
const maxElementRead = 256 << 20

type reader struct {
	r    io.ReaderAt
	size int64
}

func newReader(r io.ReaderAt, size int64) *reader { return &reader{r: r, size: size} }

// readAt reads exactly n bytes at off.
func (r *reader) readAt(off int64, n int) ([]byte, error) {
	if off < 0 || n < 0 || n > maxElementRead || off+int64(n) > r.size {
		return nil, fmt.Errorf("%w: read of %d bytes at %d outside %d-byte file", ErrContainerParse, n, off, r.size)
	}
	buf := make([]byte, n)
	if _, err := r.r.ReadAt(buf, off); err != nil && !(err == io.EOF && off+int64(n) == r.size) {
		return nil, fmt.Errorf("%w: %w", ErrContainerParse, err)
	}
	return buf, nil
}

// peek reads up to n bytes at off, fewer at the end of the file.
func (r *reader) peek(off int64, n int) ([]byte, error) {
	if off >= r.size {
		return nil, io.EOF
	}
	return r.readAt(off, int(min(int64(n), r.size-off)))
}
