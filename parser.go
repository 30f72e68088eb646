// Copyright (C) 2019-2025, Lux Industries, Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package bones

// Parser turns a byte stream arriving in arbitrary chunks into messages.
// Bytes are consumed only once a whole message has been decoded; anything
// left over stays buffered for the next Feed.
//
// A Parser is not safe for concurrent use. Each connection reader owns one.
type Parser struct {
	buf      *Buffer
	adapter  Adapter
	adapters *AdapterRegistry
	unpacker Unpacker

	// need is how many unread bytes the pending message takes at least.
	// Next does not try to decode until they are buffered.
	need int
}

// NewParser returns a parser decoding adapter-native payloads with adapter
// and ext frames with non-protocol heads through adapters.
func NewParser(adapter Adapter, adapters *AdapterRegistry) *Parser {
	buf := &Buffer{}
	return &Parser{
		buf:      buf,
		adapter:  adapter,
		adapters: adapters,
		unpacker: adapter.NewUnpacker(buf),
	}
}

// Feed appends data to the parser's buffer.
func (p *Parser) Feed(data []byte) {
	p.buf.Append(data)
}

// Buffered returns the number of bytes not yet consumed.
func (p *Parser) Buffered() int {
	return p.buf.Len()
}

// Next decodes one message. It returns ErrNeedMore, with nothing consumed,
// when the buffer holds only part of a message.
func (p *Parser) Next() (Message, error) {
	if p.buf.Len() < p.need {
		return nil, ErrNeedMore
	}
	var (
		msg  Message
		need int
	)
	err := p.buf.Transaction(func() error {
		c, err := p.buf.Peek()
		if err != nil {
			return err
		}
		if isExtIntroducer(c) {
			need = extFrameLen(p.buf.Unread())
			head, payload, err := readExt(p.buf)
			if err != nil {
				return err
			}
			msg, err = p.parseExt(head, payload)
			return err
		}
		v, err := p.unpacker.Read()
		if err != nil {
			if h, ok := p.unpacker.(SizeHinter); ok {
				need = h.Need()
			}
			return err
		}
		p.buf.Seek(p.unpacker.Pos())
		msg = mapFrom(v)
		return nil
	})
	p.sync()
	if err != nil {
		if err == ErrNeedMore {
			p.need = need
		}
		return nil, err
	}
	p.need = 0
	return msg, nil
}

// Drain decodes every complete message in the buffer, handing each to fn in
// order, then compacts the buffer. It returns nil once the buffer runs dry
// and the first other error otherwise.
func (p *Parser) Drain(fn func(Message)) error {
	for {
		msg, err := p.Next()
		if err == ErrNeedMore {
			p.buf.Compact()
			p.sync()
			return nil
		}
		if err != nil {
			return err
		}
		fn(msg)
	}
}

func (p *Parser) parseExt(head byte, payload []byte) (Message, error) {
	switch head {
	case HeadSynchronize:
		return unpackSynchronize(payload)
	case HeadAcknowledge:
		return unpackAcknowledge(payload)
	}
	a, err := p.adapters.GetByExtHead(head)
	if err != nil {
		return nil, err
	}
	v, err := a.Unpack(payload)
	if err != nil {
		return nil, invalidExt("ext head %d: %v", head, err)
	}
	return mapFrom(v), nil
}

// sync moves the adapter cursor back in line with the buffer cursor after a
// rewind or a compaction.
func (p *Parser) sync() {
	if p.unpacker.Pos() != p.buf.Pos() {
		p.unpacker.Seek(p.buf.Pos())
	}
}
