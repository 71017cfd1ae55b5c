package viewer

import (
	"github.com/ozontech/rrelay/consts"
	"github.com/ozontech/rrelay/frameheader"
)

// Framer splits a byte stream into header+payload messages. The caller feeds
// it with Fill and calls Next until the buffer is consumed.
type Framer struct {
	currentHeader frameheader.FrameHeader
	header        frameheader.FrameHeader
	payloadLeft   int
	buf           []byte
}

type Status int

const (
	StatusFrameDone Status = iota
	StatusFrameDoneBufEmpty
	StatusHeaderIncomplete
	StatusPayloadIncomplete
)

// Header is the header of the message the last Next returned a chunk of.
// It stays valid until the following header is complete.
func (p *Framer) Header() frameheader.FrameHeader {
	return p.header
}

// Next returns the next chunk of the current message payload. A payload may be
// split across several chunks when it spans Fill calls.
func (p *Framer) Next() ([]byte, Status) {
	currentHeaderLen := len(p.currentHeader)
	if currentHeaderLen != consts.HeaderLen {
		bufLen := len(p.buf)
		needToFill := consts.HeaderLen - currentHeaderLen
		if bufLen < needToFill {
			p.currentHeader = append(p.currentHeader, p.buf...)
			p.buf = p.buf[bufLen:]
			return nil, StatusHeaderIncomplete
		}

		p.currentHeader = append(p.currentHeader, p.buf[:needToFill]...)
		p.buf = p.buf[needToFill:]
		p.header = append(p.header[:0], p.currentHeader...)
		p.payloadLeft = p.header.Size()
	}

	bufLen := len(p.buf)
	if bufLen > p.payloadLeft {
		payload := p.buf[:p.payloadLeft]
		p.buf = p.buf[p.payloadLeft:]
		p.currentHeader = p.currentHeader[:0]
		return payload, StatusFrameDone
	}

	if bufLen == p.payloadLeft {
		payload := p.buf
		p.buf = p.buf[bufLen:]
		p.currentHeader = p.currentHeader[:0]
		return payload, StatusFrameDoneBufEmpty
	}

	p.payloadLeft -= bufLen
	payload := p.buf
	p.buf = p.buf[bufLen:]
	return payload, StatusPayloadIncomplete
}

func (p *Framer) Fill(b []byte) {
	p.buf = b
}
