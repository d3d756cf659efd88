package session

import "strconv"

// Kind is the role a session plays.
type Kind uint8

const (
	KindOutbound Kind = iota
	KindInbound
)

func (k Kind) String() string {
	switch k {
	case KindOutbound:
		return "outbound"
	case KindInbound:
		return "inbound"
	}
	return "Kind(" + strconv.Itoa(int(k)) + ")"
}

// State is the lifecycle state of a session.
type State uint8

const (
	StateInitialized State = iota
	StateOpening
	StateOpened
	StateClosing
	StateSendBufferDrained
	StateClosed
)

var stateNames = [...]string{
	StateInitialized:       "Initialized",
	StateOpening:           "Opening",
	StateOpened:            "Opened",
	StateClosing:           "Closing",
	StateSendBufferDrained: "SendBufferDrained",
	StateClosed:            "Closed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "State(" + strconv.Itoa(int(s)) + ")"
}

// Signal drives a state transition.
type Signal uint8

const (
	SignalOpenApiCalled Signal = iota
	SignalOpenRequestReceived
	SignalOpenResponseSuccess
	SignalSessionOfferAccepted
	SignalOpenApiInternalFailure
	SignalSessionOfferNotAccepted
	SignalOpenResponseFailure
	SignalCloseApiCalled
	SignalCloseRequestReceived
	SignalAllMessagesAcknowledged
	SignalCloseRequestDequeued
	SignalCloseResponseSuccess
	SignalCloseApiInternalFailure
	SignalCloseResponseFailure

	// abort signals, valid from any state but Closed
	SignalAbortApiCalled
	SignalAbortOutboundRequestReceived
	SignalAbortInboundRequestReceived
	SignalAbortConflictingSession
	SignalAbortManagerClose
	SignalAbortOnRetryExhausted
	SignalAbortOnProtocolFailure

	signalCount
)

var signalNames = [...]string{
	SignalOpenApiCalled:                "OpenApiCalled",
	SignalOpenRequestReceived:          "OpenRequestReceived",
	SignalOpenResponseSuccess:          "OpenResponseSuccess",
	SignalSessionOfferAccepted:         "SessionOfferAccepted",
	SignalOpenApiInternalFailure:       "OpenApiInternalFailure",
	SignalSessionOfferNotAccepted:      "SessionOfferNotAccepted",
	SignalOpenResponseFailure:          "OpenResponseFailure",
	SignalCloseApiCalled:               "CloseApiCalled",
	SignalCloseRequestReceived:         "CloseRequestReceived",
	SignalAllMessagesAcknowledged:      "AllMessagesAcknowledged",
	SignalCloseRequestDequeued:         "CloseRequestDequeued",
	SignalCloseResponseSuccess:         "CloseResponseSuccess",
	SignalCloseApiInternalFailure:      "CloseApiInternalFailure",
	SignalCloseResponseFailure:         "CloseResponseFailure",
	SignalAbortApiCalled:               "AbortApiCalled",
	SignalAbortOutboundRequestReceived: "AbortOutboundRequestReceived",
	SignalAbortInboundRequestReceived:  "AbortInboundRequestReceived",
	SignalAbortConflictingSession:      "AbortConflictingSession",
	SignalAbortManagerClose:            "AbortManagerClose",
	SignalAbortOnRetryExhausted:        "AbortOnRetryExhausted",
	SignalAbortOnProtocolFailure:       "AbortOnProtocolFailure",
}

func (s Signal) String() string {
	if s < signalCount {
		return signalNames[s]
	}
	return "Signal(" + strconv.Itoa(int(s)) + ")"
}

// IsAbort reports whether s is one of the abort signals.
func (s Signal) IsAbort() bool {
	return s >= SignalAbortApiCalled && s < signalCount
}

// notifiesPartner reports whether terminating with s should tell the remote
// side with a best-effort abort request. Aborts the partner asked for need
// no reply, and failed opens never reached the partner.
func (s Signal) notifiesPartner() bool {
	switch s {
	case SignalAbortApiCalled, SignalAbortConflictingSession, SignalAbortManagerClose,
		SignalAbortOnRetryExhausted, SignalAbortOnProtocolFailure:
		return true
	}
	return false
}

// unexpected reports whether s ends a session the application did not ask
// to end, which is reported through the manager's aborted callback.
func (s Signal) unexpected() bool {
	switch s {
	case SignalAbortOutboundRequestReceived, SignalAbortInboundRequestReceived,
		SignalAbortConflictingSession, SignalAbortOnRetryExhausted, SignalAbortOnProtocolFailure:
		return true
	}
	return false
}

type transitionKey struct {
	kind Kind
	from State
	sig  Signal
}

// transitions is the full table of non-abort transitions. Aborts are
// handled in transition.
var transitions = map[transitionKey]State{
	{KindOutbound, StateInitialized, SignalOpenApiCalled}:                 StateOpening,
	{KindOutbound, StateOpening, SignalOpenResponseSuccess}:               StateOpened,
	{KindOutbound, StateOpening, SignalOpenApiInternalFailure}:            StateClosed,
	{KindOutbound, StateOpening, SignalOpenResponseFailure}:               StateClosed,
	{KindOutbound, StateOpened, SignalCloseApiCalled}:                     StateClosing,
	{KindOutbound, StateClosing, SignalAllMessagesAcknowledged}:           StateSendBufferDrained,
	{KindOutbound, StateClosing, SignalCloseApiInternalFailure}:           StateClosed,
	{KindOutbound, StateClosing, SignalCloseResponseFailure}:              StateClosed,
	{KindOutbound, StateSendBufferDrained, SignalCloseResponseSuccess}:    StateClosed,
	{KindOutbound, StateSendBufferDrained, SignalCloseApiInternalFailure}: StateClosed,
	{KindOutbound, StateSendBufferDrained, SignalCloseResponseFailure}:    StateClosed,

	{KindInbound, StateInitialized, SignalOpenRequestReceived}: StateOpening,
	{KindInbound, StateOpening, SignalSessionOfferAccepted}:    StateOpened,
	{KindInbound, StateOpening, SignalSessionOfferNotAccepted}: StateClosed,
	{KindInbound, StateOpened, SignalCloseRequestReceived}:     StateClosing,
	{KindInbound, StateClosing, SignalCloseRequestDequeued}:    StateClosed,
}

// transition returns the state reached from cur on sig for a session of the
// given kind, and false when the signal is not valid there. Closed is
// terminal.
func transition(kind Kind, cur State, sig Signal) (State, bool) {
	if cur == StateClosed {
		return cur, false
	}
	if sig.IsAbort() {
		switch sig {
		case SignalAbortOutboundRequestReceived:
			if kind != KindOutbound {
				return cur, false
			}
		case SignalAbortInboundRequestReceived, SignalAbortConflictingSession:
			if kind != KindInbound {
				return cur, false
			}
		}
		return StateClosed, true
	}
	next, ok := transitions[transitionKey{kind, cur, sig}]
	if !ok {
		return cur, false
	}
	return next, true
}
