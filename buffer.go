// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

// Buffer is a growable byte buffer with a read cursor. Reads that run past
// the end of the buffered data return ErrNeedMore and leave the cursor where
// it was, so a caller can append more bytes and retry from the same point.
type Buffer struct {
	data []byte
	pos  int
}

// NewBuffer returns a buffer holding a copy of data.
func NewBuffer(data []byte) *Buffer {
	b := &Buffer{}
	b.Append(data)
	return b
}

// Append adds bytes after the current end of the buffer.
func (b *Buffer) Append(p []byte) {
	b.data = append(b.data, p...)
}

// Bytes returns the whole buffered slice, consumed bytes included.
func (b *Buffer) Bytes() []byte { return b.data }

// Unread returns the bytes after the cursor.
func (b *Buffer) Unread() []byte { return b.data[b.pos:] }

func (b *Buffer) Pos() int { return b.pos }

func (b *Buffer) Len() int { return len(b.data) - b.pos }

// Seek moves the cursor to an absolute position, clamped to the buffer.
func (b *Buffer) Seek(pos int) {
	switch {
	case pos < 0:
		b.pos = 0
	case pos > len(b.data):
		b.pos = len(b.data)
	default:
		b.pos = pos
	}
}

// Peek returns the next byte without consuming it.
func (b *Buffer) Peek() (byte, error) {
	if b.pos >= len(b.data) {
		return 0, ErrNeedMore
	}
	return b.data[b.pos], nil
}

func (b *Buffer) ReadByte() (byte, error) {
	c, err := b.Peek()
	if err != nil {
		return 0, err
	}
	b.pos++
	return c, nil
}

// Read consumes exactly n bytes. The returned slice aliases the buffer and
// is only valid until the next Append or Compact.
func (b *Buffer) Read(n int) ([]byte, error) {
	if n < 0 || b.Len() < n {
		return nil, ErrNeedMore
	}
	p := b.data[b.pos : b.pos+n]
	b.pos += n
	return p, nil
}

func (b *Buffer) Skip(n int) error {
	if n < 0 || b.Len() < n {
		return ErrNeedMore
	}
	b.pos += n
	return nil
}

// Transaction runs fn and rewinds the cursor to its starting position if fn
// fails. A partially read message never advances the cursor.
func (b *Buffer) Transaction(fn func() error) error {
	start := b.pos
	err := fn()
	if err != nil {
		b.pos = start
	}
	return err
}

// Compact drops consumed bytes and resets the cursor to zero.
func (b *Buffer) Compact() {
	if b.pos == 0 {
		return
	}
	n := copy(b.data, b.data[b.pos:])
	b.data = b.data[:n]
	b.pos = 0
}

// Reset discards all buffered data.
func (b *Buffer) Reset() {
	b.data = b.data[:0]
	b.pos = 0
}
