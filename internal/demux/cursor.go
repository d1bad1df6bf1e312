// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0

package demux

import (
	"encoding/binary"
	"fmt"
)

// cursor reads big-endian fields from a box payload. The first overrun
// sticks in err and later reads return zero.
type cursor struct {
	b   []byte
	off int
	err error
}

func newCursor(b []byte) *cursor { return &cursor{b: b} }

func (c *cursor) take(n int) []byte {
	if c.err != nil {
		return nil
	}
	if n < 0 || c.off+n > len(c.b) {
		c.err = fmt.Errorf("%w: field of %d bytes at %d overruns %d-byte box", ErrContainerParse, n, c.off, len(c.b))
		return nil
	}
	out := c.b[c.off : c.off+n]
	c.off += n
	return out
}

func (c *cursor) skip(n int) { c.take(n) }

func (c *cursor) u8() uint8 {
	if b := c.take(1); b != nil {
		return b[0]
	}
	return 0
}

func (c *cursor) u16() uint16 {
	if b := c.take(2); b != nil {
		return binary.BigEndian.Uint16(b)
	}
	return 0
}

func (c *cursor) u24() uint32 {
	if b := c.take(3); b != nil {
		return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
	}
	return 0
}

func (c *cursor) u32() uint32 {
	if b := c.take(4); b != nil {
		return binary.BigEndian.Uint32(b)
	}
	return 0
}

func (c *cursor) u64() uint64 {
	if b := c.take(8); b != nil {
		return binary.BigEndian.Uint64(b)
	}
	return 0
}

// fullBox reads the version and 24-bit flags of a FullBox.
func (c *cursor) fullBox() (version uint8, flags uint32) {
	return c.u8(), c.u24()
}

func (c *cursor) remaining() int { return len(c.b) - c.off }
