// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"encoding/binary"
	"fmt"
	"math"
)

// Ext framing: [introducer][length][type=0x0D][head][payload...], where the
// length counts the head byte plus the payload.
const (
	Ext8  byte = 0xC7
	Ext16 byte = 0xC8
	Ext32 byte = 0xC9

	ExtType byte = 0x0D
)

// Ext heads reserved for protocol messages. Heads above these may be bound
// to adapters with AdapterRegistry.RegisterExtHead.
const (
	HeadSynchronize byte = 0
	HeadAcknowledge byte = 1
)

func isExtIntroducer(b byte) bool {
	return b == Ext8 || b == Ext16 || b == Ext32
}

// extIntroducer picks the narrowest introducer able to hold length.
func extIntroducer(length uint64) (byte, error) {
	switch {
	case length <= math.MaxUint8:
		return Ext8, nil
	case length <= math.MaxUint16:
		return Ext16, nil
	case length <= math.MaxUint32:
		return Ext32, nil
	default:
		return 0, fmt.Errorf("ext payload too large: %d bytes", length)
	}
}

// appendExt frames payload under head and appends it to dst.
func appendExt(dst []byte, head byte, payload []byte) ([]byte, error) {
	length := uint64(len(payload)) + 1
	code, err := extIntroducer(length)
	if err != nil {
		return dst, err
	}
	dst = append(dst, code)
	switch code {
	case Ext8:
		dst = append(dst, byte(length))
	case Ext16:
		dst = binary.BigEndian.AppendUint16(dst, uint16(length))
	case Ext32:
		dst = binary.BigEndian.AppendUint32(dst, uint32(length))
	}
	dst = append(dst, ExtType, head)
	return append(dst, payload...), nil
}

// extFrameLen returns the full length of the ext frame starting p, or the
// length of its header while the length field is incomplete.
func extFrameLen(p []byte) int {
	width := 1
	switch p[0] {
	case Ext16:
		width = 2
	case Ext32:
		width = 4
	}
	header := 1 + width + 1
	if len(p) < 1+width {
		return header
	}
	var length uint64
	for _, b := range p[1 : 1+width] {
		length = length<<8 | uint64(b)
	}
	return header + int(length)
}

// readExt consumes one ext frame from b and returns its head and payload.
// The caller is expected to run it inside a Buffer transaction.
func readExt(b *Buffer) (head byte, payload []byte, err error) {
	code, err := b.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	var length uint32
	switch code {
	case Ext8:
		p, err := b.Read(1)
		if err != nil {
			return 0, nil, err
		}
		length = uint32(p[0])
	case Ext16:
		p, err := b.Read(2)
		if err != nil {
			return 0, nil, err
		}
		length = uint32(binary.BigEndian.Uint16(p))
	case Ext32:
		p, err := b.Read(4)
		if err != nil {
			return 0, nil, err
		}
		length = binary.BigEndian.Uint32(p)
	default:
		return 0, nil, invalidExt("bad ext introducer 0x%02X", code)
	}
	typ, err := b.ReadByte()
	if err != nil {
		return 0, nil, err
	}
	if typ != ExtType {
		return 0, nil, invalidExt("bad ext message received of type 0x%02X (should be 0x%02X)", typ, ExtType)
	}
	if length == 0 {
		return 0, nil, invalidExt("ext message with zero length")
	}
	if head, err = b.ReadByte(); err != nil {
		return 0, nil, err
	}
	if payload, err = b.Read(int(length - 1)); err != nil {
		return 0, nil, err
	}
	return head, payload, nil
}
