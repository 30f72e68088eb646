// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
)

// OpCode is the first element of an adapter-native message.
type OpCode int

const (
	OpRequest  OpCode = 0
	OpResponse OpCode = 1
	OpNotify   OpCode = 2
)

// Channel is a correlation namespace inside a Registry. Ids in different
// channels never collide.
type Channel string

const (
	ChannelRequest Channel = "request"
	ChannelSynack  Channel = "synack"
)

// Acknowledge ready flag encodings.
const (
	ackFalse byte = 0xC2
	ackTrue  byte = 0xC3
)

// Message is one decoded or outbound protocol message. The set of
// implementations is closed: Request, Response, Notify, Synchronize,
// Acknowledge and Raw.
type Message interface {
	fmt.Stringer

	appendTo(dst []byte, a Adapter) ([]byte, error)
}

// Attachable messages expect a reply and register a Future before they are
// written.
type Attachable interface {
	Message
	Attach(r *Registry, f *Future)
	Detach(r *Registry) *Future
}

// Reply messages answer an Attachable and resolve its Future.
type Reply interface {
	Message
	Lookup(r *Registry) *Future
	Signal(f *Future) error
}

// Encode appends the wire form of m to dst.
func Encode(m Message, a Adapter, dst []byte) ([]byte, error) {
	return m.appendTo(dst, a)
}

// Request is [0, id, method, params].
type Request struct {
	ID     uint32
	Method string
	Params []interface{}
}

func (m *Request) appendTo(dst []byte, a Adapter) ([]byte, error) {
	return a.Pack([]interface{}{int(OpRequest), m.ID, m.Method, params(m.Params)}, dst)
}

func (m *Request) Attach(r *Registry, f *Future) { r.Set(ChannelRequest, m.ID, f) }

func (m *Request) Detach(r *Registry) *Future { return r.Get(ChannelRequest, m.ID) }

func (m *Request) String() string {
	return fmt.Sprintf("%-12s id=%d method=%s params=%v", "REQUEST", m.ID, m.Method, m.Params)
}

// Response is [1, id, error, result].
type Response struct {
	ID     uint32
	Error  interface{}
	Result interface{}
}

func (m *Response) appendTo(dst []byte, a Adapter) ([]byte, error) {
	return a.Pack([]interface{}{int(OpResponse), m.ID, m.Error, m.Result}, dst)
}

func (m *Response) Lookup(r *Registry) *Future { return r.Get(ChannelRequest, m.ID) }

func (m *Response) Signal(f *Future) error { return f.Signal(FutureValue{Message: m}) }

func (m *Response) String() string {
	return fmt.Sprintf("%-12s id=%d error=%v result=%v", "RESPONSE", m.ID, m.Error, m.Result)
}

// Notify is [2, method, params]. It carries no id and gets no reply.
type Notify struct {
	Method string
	Params []interface{}
}

func (m *Notify) appendTo(dst []byte, a Adapter) ([]byte, error) {
	return a.Pack([]interface{}{int(OpNotify), m.Method, params(m.Params)}, dst)
}

func (m *Notify) String() string {
	return fmt.Sprintf("%-12s method=%s params=%v", "NOTIFY", m.Method, m.Params)
}

// Synchronize is ext-framed under head 0: a 4-byte id followed by the
// adapter name.
type Synchronize struct {
	ID      uint32
	Adapter string
}

func (m *Synchronize) appendTo(dst []byte, _ Adapter) ([]byte, error) {
	payload := make([]byte, 4, 4+len(m.Adapter))
	binary.BigEndian.PutUint32(payload, m.ID)
	payload = append(payload, m.Adapter...)
	return appendExt(dst, HeadSynchronize, payload)
}

func (m *Synchronize) Attach(r *Registry, f *Future) { r.Set(ChannelSynack, m.ID, f) }

func (m *Synchronize) Detach(r *Registry) *Future { return r.Get(ChannelSynack, m.ID) }

func (m *Synchronize) String() string {
	return fmt.Sprintf("%-12s id=%d adapter=%s", "SYNCHRONIZE", m.ID, m.Adapter)
}

// Acknowledge is ext-framed under head 1: a 4-byte id followed by 0xC3
// (ready) or 0xC2 (not ready).
type Acknowledge struct {
	ID    uint32
	Ready bool
}

func (m *Acknowledge) appendTo(dst []byte, _ Adapter) ([]byte, error) {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload, m.ID)
	payload[4] = ackFalse
	if m.Ready {
		payload[4] = ackTrue
	}
	return appendExt(dst, HeadAcknowledge, payload)
}

func (m *Acknowledge) Lookup(r *Registry) *Future { return r.Get(ChannelSynack, m.ID) }

func (m *Acknowledge) Signal(f *Future) error { return f.Signal(FutureValue{Message: m}) }

func (m *Acknowledge) String() string {
	return fmt.Sprintf("%-12s id=%d ready=%t", "ACKNOWLEDGE", m.ID, m.Ready)
}

// Raw wraps a decoded value that does not map to a protocol message.
type Raw struct {
	Value interface{}
}

func (m *Raw) appendTo(dst []byte, a Adapter) ([]byte, error) { return a.Pack(m.Value, dst) }

func (m *Raw) String() string { return fmt.Sprintf("%-12s value=%v", "RAW", m.Value) }

func params(p []interface{}) []interface{} {
	if p == nil {
		return []interface{}{}
	}
	return p
}

func unpackSynchronize(payload []byte) (*Synchronize, error) {
	if len(payload) < 4 {
		return nil, invalidExt("synchronize payload too short: %d bytes", len(payload))
	}
	return &Synchronize{
		ID:      binary.BigEndian.Uint32(payload),
		Adapter: string(payload[4:]),
	}, nil
}

func unpackAcknowledge(payload []byte) (*Acknowledge, error) {
	if len(payload) < 5 {
		return nil, invalidExt("acknowledge payload too short: %d bytes", len(payload))
	}
	return &Acknowledge{
		ID:    binary.BigEndian.Uint32(payload),
		Ready: payload[4] != ackFalse,
	}, nil
}

// mapFrom promotes a decoded 3 or 4 element array tagged 0, 1 or 2 to a
// Request, Response or Notify. Anything else is returned as Raw.
func mapFrom(v interface{}) Message {
	arr, ok := v.([]interface{})
	if !ok || len(arr) < 3 || len(arr) > 4 {
		return &Raw{Value: v}
	}
	op, ok := toInt64(arr[0])
	if !ok {
		return &Raw{Value: v}
	}
	at := func(i int) interface{} {
		if i < len(arr) {
			return arr[i]
		}
		return nil
	}
	switch OpCode(op) {
	case OpRequest:
		id, ok1 := toUint32(at(1))
		method, ok2 := at(2).(string)
		list, ok3 := toList(at(3))
		if ok1 && ok2 && ok3 {
			return &Request{ID: id, Method: method, Params: list}
		}
	case OpResponse:
		if id, ok := toUint32(at(1)); ok {
			return &Response{ID: id, Error: at(2), Result: at(3)}
		}
	case OpNotify:
		method, ok1 := at(1).(string)
		list, ok2 := toList(at(2))
		if ok1 && ok2 {
			return &Notify{Method: method, Params: list}
		}
	}
	return &Raw{Value: v}
}

func toList(v interface{}) ([]interface{}, bool) {
	if v == nil {
		return nil, true
	}
	l, ok := v.([]interface{})
	return l, ok
}

func toUint32(v interface{}) (uint32, bool) {
	n, ok := toInt64(v)
	if !ok || n < 0 || n > math.MaxUint32 {
		return 0, false
	}
	return uint32(n), true
}

func toInt64(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int8:
		return int64(n), true
	case int16:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case uint:
		return int64(n), true
	case uint8:
		return int64(n), true
	case uint16:
		return int64(n), true
	case uint32:
		return int64(n), true
	case uint64:
		if n > math.MaxInt64 {
			return 0, false
		}
		return int64(n), true
	case float64:
		if n != math.Trunc(n) {
			return 0, false
		}
		return int64(n), true
	case json.Number:
		i, err := n.Int64()
		return i, err == nil
	default:
		return 0, false
	}
}
