// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"bytes"
	"encoding/json"
)

// JSONAdapter encodes adapter-native messages as JSON arrays. Numbers are
// decoded as json.Number so ids survive without float rounding.
type JSONAdapter struct{}

func (JSONAdapter) Name() string { return AdapterJSON }

func (JSONAdapter) Pack(v interface{}, dst []byte) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return dst, err
	}
	return append(dst, b...), nil
}

func (JSONAdapter) Unpack(data []byte) (interface{}, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func (JSONAdapter) NewUnpacker(src *Buffer) Unpacker {
	return &jsonUnpacker{src: src}
}

// jsonUnpacker finds the end of the next value with a resumable scan and
// hands only complete values to encoding/json.
type jsonUnpacker struct {
	src  *Buffer
	pos  int
	scan jsonScan
}

func (u *jsonUnpacker) Read() (interface{}, error) {
	data := u.src.Bytes()
	if u.pos > len(data) {
		return nil, ErrNeedMore
	}
	end := u.scan.next(data[u.pos:])
	if end == 0 {
		return nil, ErrNeedMore
	}

	dec := json.NewDecoder(bytes.NewReader(data[u.pos : u.pos+end]))
	dec.UseNumber()
	var v interface{}
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	u.pos += end
	u.scan = jsonScan{}
	return v, nil
}

func (u *jsonUnpacker) Need() int { return u.scan.off + 1 }

func (u *jsonUnpacker) Pos() int { return u.pos }

func (u *jsonUnpacker) Seek(pos int) {
	if pos != u.pos {
		u.scan = jsonScan{}
	}
	u.pos = pos
}

// jsonScan tracks string and nesting state across calls so that bytes are
// looked at once however the value is split.
type jsonScan struct {
	off     int
	depth   int
	started bool
	scalar  bool
	inStr   bool
	escape  bool
}

// next continues the scan over data, which starts at the value (or the
// whitespace before it). It returns the length up to the end of the value,
// or 0 when data ends first. A bare number is complete only once a byte
// after it has arrived.
func (s *jsonScan) next(data []byte) int {
	for ; s.off < len(data); s.off++ {
		c := data[s.off]
		if s.inStr {
			switch {
			case s.escape:
				s.escape = false
			case c == '\\':
				s.escape = true
			case c == '"':
				s.inStr = false
				if s.depth == 0 {
					return s.off + 1
				}
			}
			continue
		}
		if !s.started {
			if isJSONSpace(c) {
				continue
			}
			s.started = true
			switch c {
			case '[', '{':
				s.depth++
			case '"':
				s.inStr = true
			default:
				s.scalar = true
			}
			continue
		}
		if s.scalar {
			if isJSONSpace(c) || c == ',' || c == ']' || c == '}' || c == '[' || c == '{' || c == '"' || c >= 0x80 {
				return s.off
			}
			continue
		}
		switch c {
		case '"':
			s.inStr = true
		case '[', '{':
			s.depth++
		case ']', '}':
			s.depth--
			if s.depth == 0 {
				return s.off + 1
			}
		}
	}
	return 0
}

func isJSONSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

func (JSONAdapter) Encode(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (JSONAdapter) Decode(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}
