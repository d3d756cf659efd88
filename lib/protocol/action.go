package protocol

import "strconv"

// ActionCode identifies the kind of a datagram. Every request code is
// immediately followed by its ack code.
type ActionCode uint8

const (
	ActionUnknown ActionCode = iota
	ActionOpenRequest
	ActionOpenRequestAck
	ActionOpenResponse
	ActionOpenResponseAck
	ActionCloseRequest
	ActionCloseRequestAck
	ActionCloseResponse
	ActionCloseResponseAck
	ActionAbortOutboundRequest
	ActionAbortOutboundRequestAck
	ActionAbortInboundRequest
	ActionAbortInboundRequestAck
	ActionSendMessage
	ActionSendMessageAck

	actionCount
)

var actionNames = [...]string{
	ActionUnknown:                 "Unknown",
	ActionOpenRequest:             "OpenRequest",
	ActionOpenRequestAck:          "OpenRequestAck",
	ActionOpenResponse:            "OpenResponse",
	ActionOpenResponseAck:         "OpenResponseAck",
	ActionCloseRequest:            "CloseRequest",
	ActionCloseRequestAck:         "CloseRequestAck",
	ActionCloseResponse:           "CloseResponse",
	ActionCloseResponseAck:        "CloseResponseAck",
	ActionAbortOutboundRequest:    "AbortOutboundRequest",
	ActionAbortOutboundRequestAck: "AbortOutboundRequestAck",
	ActionAbortInboundRequest:     "AbortInboundRequest",
	ActionAbortInboundRequestAck:  "AbortInboundRequestAck",
	ActionSendMessage:             "SendMessage",
	ActionSendMessageAck:          "SendMessageAck",
}

func (a ActionCode) String() string {
	if a < actionCount {
		return actionNames[a]
	}
	return "Action(" + strconv.Itoa(int(a)) + ")"
}

// Valid reports whether a is a known, non-Unknown action.
func (a ActionCode) Valid() bool {
	return a > ActionUnknown && a < actionCount
}

// IsAck reports whether a acknowledges a request.
func (a ActionCode) IsAck() bool {
	return a.Valid() && a%2 == 0
}

// AckCodeFor returns the ack that answers request a.
func AckCodeFor(a ActionCode) (ActionCode, bool) {
	if !a.Valid() || a.IsAck() {
		return ActionUnknown, false
	}
	return a + 1, true
}
