package protocol

import (
	"encoding/binary"

	"github.com/go-i2p/common/data"
	"github.com/go-i2p/go-reliable/lib/partition"
	"github.com/samber/oops"
)

// Version is the wire format version written in the first byte.
const Version = 1

const (
	flagParameters = 1 << iota
	flagResponse
	flagSource
	flagTarget
)

const (
	sessionHeaderSize = 16 + 1 + 8
	// MaxPayloadSize bounds a single payload; the length prefix is 4 bytes.
	MaxPayloadSize = 1<<31 - 1
	minDatagramSize = 2 + sessionHeaderSize + 4
	// DataOverhead is the encoded size of a data message minus its payload.
	DataOverhead = minDatagramSize
)

type encoder struct {
	buf []byte
	err error
}

// integer writes the low size bytes of v in network order. Negative int64
// fields travel as their two's-complement bit pattern.
func (e *encoder) integer(v int64, size int) {
	if e.err != nil {
		return
	}
	var raw [8]byte
	binary.BigEndian.PutUint64(raw[:], uint64(v))
	i, err := data.NewIntegerFromBytes(raw[8-size:])
	if err != nil {
		e.err = err
		return
	}
	e.buf = append(e.buf, i.Bytes()...)
}

func (e *encoder) str(s string) {
	if e.err != nil {
		return
	}
	i2p, err := data.ToI2PString(s)
	if err != nil {
		e.err = err
		return
	}
	e.buf = append(e.buf, i2p...)
}

func (e *encoder) partitionHeader(h *partition.Header) {
	e.str(h.ServiceInstanceName)
	e.integer(int64(h.KeyType), 1)
	e.integer(h.Int64RangeLow, 8)
	e.integer(h.Int64RangeHigh, 8)
	e.str(h.StringKey)
}

// Marshal encodes m into a new datagram.
func (m *Message) Marshal() ([]byte, error) {
	if !m.Session.Action.Valid() {
		return nil, oops.In("protocol").Code(ErrInvalidArgument).Wrapf(ErrInvalidArgument, "marshal action %s", m.Session.Action)
	}
	if len(m.Payload) > MaxPayloadSize {
		return nil, oops.In("protocol").Code(ErrInvalidArgument).Wrapf(ErrInvalidArgument, "payload of %d bytes", len(m.Payload))
	}

	var flags byte
	if m.Parameters != nil {
		flags |= flagParameters
	}
	if m.Response != nil {
		flags |= flagResponse
	}
	if m.Source != nil {
		flags |= flagSource
	}
	if m.Target != nil {
		flags |= flagTarget
	}

	e := &encoder{buf: make([]byte, 0, minDatagramSize+len(m.Payload)+16)}
	e.buf = append(e.buf, Version, flags)
	e.buf = append(e.buf, m.Session.SessionID[:]...)
	e.integer(int64(m.Session.Action), 1)
	e.integer(m.Session.SequenceNumber, 8)
	if m.Parameters != nil {
		e.integer(int64(m.Parameters.WindowSize), 4)
	}
	if m.Response != nil {
		e.integer(int64(uint32(m.Response.ResponseCode)), 4)
	}
	if m.Source != nil {
		e.partitionHeader(m.Source)
	}
	if m.Target != nil {
		e.partitionHeader(m.Target)
	}
	e.integer(int64(len(m.Payload)), 4)
	if e.err != nil {
		return nil, oops.In("protocol").Code(ErrInvalidArgument).Wrapf(e.err, "marshal %s", m.Session)
	}
	return append(e.buf, m.Payload...), nil
}

type decoder struct {
	rest []byte
	err  error
}

func (d *decoder) fail(format string, args ...any) {
	if d.err == nil {
		d.err = oops.In("protocol").Code(ErrProtocolViolation).Wrapf(ErrProtocolViolation, format, args...)
	}
}

func (d *decoder) integer(size int) int64 {
	if d.err != nil {
		return 0
	}
	if len(d.rest) < size {
		d.fail("truncated integer: need %d bytes, have %d", size, len(d.rest))
		return 0
	}
	var i data.Integer
	i, d.rest = data.ReadInteger(d.rest, size)
	u, err := i.UintSafe()
	if err != nil {
		d.fail("read integer: %v", err)
		return 0
	}
	return int64(u)
}

func (d *decoder) str() string {
	if d.err != nil {
		return ""
	}
	if len(d.rest) == 0 || len(d.rest) < int(d.rest[0])+1 {
		d.fail("truncated string")
		return ""
	}
	s, rest, err := data.ReadI2PString(d.rest)
	if err != nil {
		d.fail("read string: %v", err)
		return ""
	}
	v, err := s.Data()
	if err != nil {
		d.fail("read string data: %v", err)
		return ""
	}
	d.rest = rest
	return v
}

func (d *decoder) partitionHeader(role partition.HeaderRole) *partition.Header {
	h := &partition.Header{Role: role}
	h.ServiceInstanceName = d.str()
	h.KeyType = partition.KeyType(d.integer(1))
	h.Int64RangeLow = d.integer(8)
	h.Int64RangeHigh = d.integer(8)
	h.StringKey = d.str()
	return h
}

// Unmarshal decodes one datagram. The returned payload aliases b.
func Unmarshal(b []byte) (*Message, error) {
	if len(b) < minDatagramSize {
		return nil, oops.In("protocol").Code(ErrProtocolViolation).Wrapf(ErrProtocolViolation, "datagram of %d bytes is too short", len(b))
	}
	if b[0] != Version {
		return nil, oops.In("protocol").Code(ErrProtocolViolation).Wrapf(ErrProtocolViolation, "unsupported version %d", b[0])
	}
	flags := b[1]
	m := &Message{}
	copy(m.Session.SessionID[:], b[2:18])
	d := &decoder{rest: b[18:]}
	m.Session.Action = ActionCode(d.integer(1))
	m.Session.SequenceNumber = d.integer(8)
	if flags&flagParameters != 0 {
		m.Parameters = &SessionParametersHeader{WindowSize: uint32(d.integer(4))}
	}
	if flags&flagResponse != 0 {
		m.Response = &ProtocolResponseHeader{ResponseCode: ErrorCode(int32(uint32(d.integer(4))))}
	}
	if flags&flagSource != 0 {
		m.Source = d.partitionHeader(partition.RoleSource)
	}
	if flags&flagTarget != 0 {
		m.Target = d.partitionHeader(partition.RoleTarget)
	}
	n := d.integer(4)
	if d.err != nil {
		return nil, d.err
	}
	if int64(len(d.rest)) != n {
		return nil, oops.In("protocol").Code(ErrProtocolViolation).Wrapf(ErrProtocolViolation, "payload length %d, have %d bytes", n, len(d.rest))
	}
	if !m.Session.Action.Valid() {
		return nil, oops.In("protocol").Code(ErrProtocolViolation).Wrapf(ErrProtocolViolation, "unknown action %d", m.Session.Action)
	}
	if n > 0 {
		m.Payload = d.rest
	}
	return m, nil
}
