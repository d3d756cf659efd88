package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

var allStates = []State{StateInitialized, StateOpening, StateOpened, StateClosing, StateSendBufferDrained, StateClosed}

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		kind Kind
		from State
		sig  Signal
		to   State
	}{
		{KindOutbound, StateInitialized, SignalOpenApiCalled, StateOpening},
		{KindOutbound, StateOpening, SignalOpenResponseSuccess, StateOpened},
		{KindOutbound, StateOpening, SignalOpenApiInternalFailure, StateClosed},
		{KindOutbound, StateOpening, SignalOpenResponseFailure, StateClosed},
		{KindOutbound, StateOpened, SignalCloseApiCalled, StateClosing},
		{KindOutbound, StateClosing, SignalAllMessagesAcknowledged, StateSendBufferDrained},
		{KindOutbound, StateSendBufferDrained, SignalCloseResponseSuccess, StateClosed},
		{KindOutbound, StateClosing, SignalCloseApiInternalFailure, StateClosed},
		{KindOutbound, StateClosing, SignalCloseResponseFailure, StateClosed},
		{KindOutbound, StateSendBufferDrained, SignalCloseApiInternalFailure, StateClosed},
		{KindOutbound, StateSendBufferDrained, SignalCloseResponseFailure, StateClosed},
		{KindInbound, StateInitialized, SignalOpenRequestReceived, StateOpening},
		{KindInbound, StateOpening, SignalSessionOfferAccepted, StateOpened},
		{KindInbound, StateOpening, SignalSessionOfferNotAccepted, StateClosed},
		{KindInbound, StateOpened, SignalCloseRequestReceived, StateClosing},
		{KindInbound, StateClosing, SignalCloseRequestDequeued, StateClosed},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String()+"/"+tt.from.String()+"/"+tt.sig.String(), func(t *testing.T) {
			got, ok := transition(tt.kind, tt.from, tt.sig)
			assert.True(t, ok)
			assert.Equal(t, tt.to, got)
		})
	}
}

func TestTransitionRejectsEverythingElse(t *testing.T) {
	valid := make(map[transitionKey]bool, len(transitions))
	for k := range transitions {
		valid[k] = true
	}
	for _, kind := range []Kind{KindOutbound, KindInbound} {
		for _, from := range allStates {
			for sig := Signal(0); sig < signalCount; sig++ {
				if sig.IsAbort() || valid[transitionKey{kind, from, sig}] {
					continue
				}
				got, ok := transition(kind, from, sig)
				assert.False(t, ok, "%s %s %s", kind, from, sig)
				assert.Equal(t, from, got, "state must not change")
			}
		}
	}
}

func TestAbortReachesClosedFromAnyOpenState(t *testing.T) {
	aborts := map[Kind][]Signal{
		KindOutbound: {SignalAbortApiCalled, SignalAbortOutboundRequestReceived, SignalAbortManagerClose,
			SignalAbortOnRetryExhausted, SignalAbortOnProtocolFailure},
		KindInbound: {SignalAbortApiCalled, SignalAbortInboundRequestReceived, SignalAbortConflictingSession,
			SignalAbortManagerClose, SignalAbortOnRetryExhausted, SignalAbortOnProtocolFailure},
	}
	for kind, sigs := range aborts {
		for _, from := range allStates[:len(allStates)-1] {
			for _, sig := range sigs {
				got, ok := transition(kind, from, sig)
				assert.True(t, ok, "%s %s %s", kind, from, sig)
				assert.Equal(t, StateClosed, got)
			}
		}
	}
}

func TestClosedIsTerminal(t *testing.T) {
	for _, kind := range []Kind{KindOutbound, KindInbound} {
		for sig := Signal(0); sig < signalCount; sig++ {
			_, ok := transition(kind, StateClosed, sig)
			assert.False(t, ok, "%s %s", kind, sig)
		}
	}
}

func TestRoleSpecificAbortsRejectedForOtherRole(t *testing.T) {
	_, ok := transition(KindInbound, StateOpened, SignalAbortOutboundRequestReceived)
	assert.False(t, ok)
	_, ok = transition(KindOutbound, StateOpened, SignalAbortInboundRequestReceived)
	assert.False(t, ok)
	_, ok = transition(KindOutbound, StateOpened, SignalAbortConflictingSession)
	assert.False(t, ok)
}

func TestSignalClassification(t *testing.T) {
	assert.False(t, SignalCloseResponseSuccess.IsAbort())
	assert.True(t, SignalAbortApiCalled.IsAbort())
	assert.True(t, SignalAbortApiCalled.notifiesPartner())
	assert.False(t, SignalAbortInboundRequestReceived.notifiesPartner())
	assert.True(t, SignalAbortInboundRequestReceived.unexpected())
	assert.False(t, SignalAbortApiCalled.unexpected())
	assert.Equal(t, "SendBufferDrained", StateSendBufferDrained.String())
	assert.Equal(t, "AbortConflictingSession", SignalAbortConflictingSession.String())
}
