// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// MsgpackAdapter is the default adapter.
type MsgpackAdapter struct{}

func (MsgpackAdapter) Name() string { return AdapterMsgpack }

func (MsgpackAdapter) Pack(v interface{}, dst []byte) ([]byte, error) {
	b, err := msgpack.Marshal(v)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

func (MsgpackAdapter) Unpack(data []byte) (interface{}, error) {
	var v interface{}
	if err := msgpack.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return v, nil
}

func (MsgpackAdapter) NewUnpacker(src *Buffer) Unpacker {
	return &msgpackUnpacker{src: src}
}

// msgpackUnpacker walks value headers to find where the next value ends and
// only decodes once all of its bytes are buffered. The walk resumes where
// it stopped, so a value arriving in many reads is scanned once.
type msgpackUnpacker struct {
	src  *Buffer
	pos  int
	scan msgpackScan
}

func (u *msgpackUnpacker) Read() (interface{}, error) {
	data := u.src.Bytes()
	if u.pos > len(data) {
		return nil, ErrNeedMore
	}
	end, err := u.scan.next(data[u.pos:])
	if err != nil {
		return nil, err
	}
	if end == 0 {
		return nil, ErrNeedMore
	}

	dec := msgpack.GetDecoder()
	defer msgpack.PutDecoder(dec)
	dec.Reset(bytes.NewReader(data[u.pos : u.pos+end]))
	v, err := dec.DecodeInterface()
	if err != nil {
		return nil, err
	}
	u.pos += end
	u.scan = msgpackScan{}
	return v, nil
}

func (u *msgpackUnpacker) Need() int { return u.scan.need }

func (u *msgpackUnpacker) Pos() int { return u.pos }

func (u *msgpackUnpacker) Seek(pos int) {
	if pos != u.pos {
		u.scan = msgpackScan{}
	}
	u.pos = pos
}

// msgpackScan is the state of a header walk over one value: the bytes
// walked so far and the items left in every open array or map.
type msgpackScan struct {
	off     int
	open    []int
	started bool
	need    int
}

// next continues the walk over data, which starts at the value's first
// byte. It returns the value's length once complete, or 0 with s.need set
// to the least number of bytes the value is known to take.
func (s *msgpackScan) next(data []byte) (int, error) {
	for {
		if s.started && len(s.open) == 0 {
			s.need = 0
			return s.off, nil
		}
		if s.off >= len(data) {
			s.need = s.off + 1
			return 0, nil
		}
		size, items, err := msgpackHeader(data[s.off:])
		if err != nil {
			return 0, err
		}
		if size == 0 || s.off+size > len(data) {
			s.need = s.off + max(size, msgpackHeaderLen(data[s.off]))
			return 0, nil
		}
		s.off += size
		s.started = true
		if items > 0 {
			s.open = append(s.open, items)
			continue
		}
		for len(s.open) > 0 {
			top := len(s.open) - 1
			s.open[top]--
			if s.open[top] > 0 {
				break
			}
			s.open = s.open[:top]
		}
	}
}

// msgpackHeaderLen is the number of bytes needed to know the size of a
// value starting with code c.
func msgpackHeaderLen(c byte) int {
	switch c {
	case 0xc4, 0xd9:
		return 2
	case 0xc5, 0xda, 0xdc, 0xde:
		return 3
	case 0xc7:
		return 3
	case 0xc8:
		return 4
	case 0xc6, 0xdb, 0xdd, 0xdf:
		return 5
	case 0xc9:
		return 6
	default:
		return 1
	}
}

// msgpackHeader returns the encoded size of the value at p, excluding the
// items of an array or map, and the number of items that follow it. A size
// of 0 means p ends inside the header.
func msgpackHeader(p []byte) (size, items int, err error) {
	c := p[0]
	if len(p) < msgpackHeaderLen(c) {
		return 0, 0, nil
	}
	switch {
	case c <= 0x7f || c >= 0xe0:
		return 1, 0, nil
	case c <= 0x8f:
		return 1, 2 * int(c&0x0f), nil
	case c <= 0x9f:
		return 1, int(c & 0x0f), nil
	case c <= 0xbf:
		return 1 + int(c&0x1f), 0, nil
	}
	switch c {
	case 0xc0, 0xc2, 0xc3:
		return 1, 0, nil
	case 0xc4, 0xd9:
		return 2 + int(p[1]), 0, nil
	case 0xc5, 0xda:
		return 3 + int(binary.BigEndian.Uint16(p[1:])), 0, nil
	case 0xc6, 0xdb:
		return 5 + int(binary.BigEndian.Uint32(p[1:])), 0, nil
	case 0xc7:
		return 3 + int(p[1]), 0, nil
	case 0xc8:
		return 4 + int(binary.BigEndian.Uint16(p[1:])), 0, nil
	case 0xc9:
		return 6 + int(binary.BigEndian.Uint32(p[1:])), 0, nil
	case 0xca:
		return 5, 0, nil
	case 0xcb:
		return 9, 0, nil
	case 0xcc, 0xd0:
		return 2, 0, nil
	case 0xcd, 0xd1:
		return 3, 0, nil
	case 0xce, 0xd2:
		return 5, 0, nil
	case 0xcf, 0xd3:
		return 9, 0, nil
	case 0xd4:
		return 3, 0, nil
	case 0xd5:
		return 4, 0, nil
	case 0xd6:
		return 6, 0, nil
	case 0xd7:
		return 10, 0, nil
	case 0xd8:
		return 18, 0, nil
	case 0xdc:
		return 3, int(binary.BigEndian.Uint16(p[1:])), nil
	case 0xdd:
		return 5, int(binary.BigEndian.Uint32(p[1:])), nil
	case 0xde:
		return 3, 2 * int(binary.BigEndian.Uint16(p[1:])), nil
	case 0xdf:
		return 5, 2 * int(binary.BigEndian.Uint32(p[1:])), nil
	}
	return 0, 0, fmt.Errorf("msgpack: invalid code %x", c)
}

// Encode and Decode honour json struct tags so reply types can be shared
// between adapters.
func (MsgpackAdapter) Encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (MsgpackAdapter) Decode(data []byte, v interface{}) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}
