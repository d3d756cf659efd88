package protocol

import (
	"bytes"
	"cmp"
	"fmt"

	"github.com/go-i2p/crypto/rand"
	"github.com/google/uuid"
	"github.com/samber/oops"
)

// SessionID is the 128-bit identifier shared by both ends of a session.
type SessionID = uuid.UUID

// NilSessionID is the zero session id; it never names a live session.
var NilSessionID SessionID

// NewSessionID generates a random version 4 session id.
func NewSessionID() (SessionID, error) {
	var id SessionID
	if _, err := rand.Read(id[:]); err != nil {
		return NilSessionID, oops.In("protocol").Wrapf(err, "generate session id")
	}
	id[6] = (id[6] & 0x0f) | 0x40
	id[8] = (id[8] & 0x3f) | 0x80
	return id, nil
}

// CompareSessionIDs orders session ids bytewise.
func CompareSessionIDs(a, b SessionID) int {
	return bytes.Compare(a[:], b[:])
}

// ReliableMessageID identifies one message of one session.
type ReliableMessageID struct {
	SessionID      SessionID
	SequenceNumber int64
}

// Compare orders by session id, then sequence number.
func (m ReliableMessageID) Compare(other ReliableMessageID) int {
	if c := CompareSessionIDs(m.SessionID, other.SessionID); c != 0 {
		return c
	}
	return cmp.Compare(m.SequenceNumber, other.SequenceNumber)
}

func (m ReliableMessageID) String() string {
	return fmt.Sprintf("%s#%d", m.SessionID, m.SequenceNumber)
}
