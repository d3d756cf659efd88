package transport

import (
	"strings"
	"sync"

	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// Compile-time check that Muxer implements Transport interface
var _ Transport = (*Muxer)(nil)
var _ SizeLimited = (*Muxer)(nil)

// muxes multiple transports into 1 Transport
type Muxer struct {
	// the underlying transports in order of preference
	trans []Transport

	mu      sync.RWMutex
	handler Handler
}

type muxTarget struct {
	owner Transport
	inner SendTarget
}

func (t *muxTarget) Address() string {
	return t.inner.Address()
}

// mux a bunch of transports together
func Mux(t ...Transport) *Muxer {
	log.WithFields(logger.Fields{
		"at":              "Mux",
		"transport_count": len(t),
	}).Debug("creating new Muxer")
	m := &Muxer{trans: append([]Transport(nil), t...)}
	for _, tr := range m.trans {
		owner := tr
		tr.SetHandler(func(datagram []byte, reply SendTarget) {
			m.mu.RLock()
			h := m.handler
			m.mu.RUnlock()
			if h == nil {
				log.WithFields(logger.Fields{
					"at":        "(Muxer) deliver",
					"transport": owner.Name(),
				}).Debug("datagram dropped: no handler")
				return
			}
			h(datagram, &muxTarget{owner: owner, inner: reply})
		})
	}
	return m
}

// the name of this transport with the names of all the ones that we mux
func (m *Muxer) Name() string {
	names := make([]string, 0, len(m.trans))
	for _, t := range m.trans {
		names = append(names, t.Name())
	}
	return "Muxed Transport: " + strings.Join(names, ", ")
}

func (m *Muxer) Compatible(address string) bool {
	for _, t := range m.trans {
		if t.Compatible(address) {
			return true
		}
	}
	return false
}

// ResolveTarget resolves through the first compatible transport.
func (m *Muxer) ResolveTarget(address string) (SendTarget, error) {
	for i, t := range m.trans {
		if !t.Compatible(address) {
			continue
		}
		target, err := t.ResolveTarget(address)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":              "(Muxer) ResolveTarget",
				"transport_index": i,
				"address":         address,
			}).WithError(err).Warn("compatible transport failed to resolve, trying next")
			continue
		}
		return &muxTarget{owner: t, inner: target}, nil
	}
	log.WithFields(logger.Fields{
		"at":      "(Muxer) ResolveTarget",
		"address": address,
	}).Error("no compatible transport")
	return nil, oops.In("transport").With("address", address).Wrap(ErrNoTransportAvailable)
}

func (m *Muxer) SendOneWay(target SendTarget, datagram []byte) error {
	mt, ok := target.(*muxTarget)
	if !ok {
		return oops.In("transport").With("address", target.Address()).Wrap(ErrUnknownTarget)
	}
	return mt.owner.SendOneWay(mt.inner, datagram)
}

// MaxDatagramSize reports the limit of the transport that resolved target.
func (m *Muxer) MaxDatagramSize(target SendTarget) int {
	mt, ok := target.(*muxTarget)
	if !ok {
		return 0
	}
	if sl, ok := mt.owner.(SizeLimited); ok {
		return sl.MaxDatagramSize(mt.inner)
	}
	return 0
}

func (m *Muxer) SetHandler(h Handler) {
	m.mu.Lock()
	m.handler = h
	m.mu.Unlock()
}

// close every transport that this muxer has
func (m *Muxer) Close() (err error) {
	for i, t := range m.trans {
		if cerr := t.Close(); cerr != nil {
			// Log error but continue closing remaining transports
			log.WithFields(logger.Fields{
				"at":              "(Muxer) Close",
				"transport_index": i,
			}).WithError(cerr).Warn("error closing transport")
			err = cerr
		}
	}
	return err
}
