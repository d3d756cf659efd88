package transport

import (
	"strings"
	"sync"
	"time"

	"github.com/go-i2p/crypto/rand"
	"github.com/go-i2p/logger"
	"github.com/samber/oops"
)

// MemScheme prefixes in-memory network addresses.
const MemScheme = "mem://"

// NetworkOptions configures the impairments of an in-memory network.
type NetworkOptions struct {
	// DropRate is the probability in [0,1] that a datagram is lost.
	DropRate float64
	// DuplicateRate is the probability in [0,1] that a datagram is
	// delivered twice.
	DuplicateRate float64
	// MaxDelay delays each delivery by a random duration up to MaxDelay,
	// reordering datagrams. Zero delivers without delay.
	MaxDelay time.Duration
	// MaxDatagramSize rejects larger datagrams at send. Zero is unlimited.
	MaxDatagramSize int
}

// Interceptor observes every datagram before impairments are applied.
// Returning false drops the datagram.
type Interceptor func(from, to string, datagram []byte) bool

// Network is an in-memory datagram network connecting Endpoints by address.
type Network struct {
	mu          sync.RWMutex
	endpoints   map[string]*Endpoint
	opts        NetworkOptions
	interceptor Interceptor

	inflight sync.WaitGroup
}

// NewNetwork creates an empty network.
func NewNetwork(opts NetworkOptions) *Network {
	return &Network{
		endpoints: make(map[string]*Endpoint),
		opts:      opts,
	}
}

// Attach creates an endpoint listening on address. Addresses without the
// mem:// scheme get it prepended.
func (n *Network) Attach(address string) (*Endpoint, error) {
	address = normalizeMemAddress(address)
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, exists := n.endpoints[address]; exists {
		return nil, oops.In("transport").With("address", address).Errorf("address already attached")
	}
	ep := &Endpoint{network: n, address: address}
	n.endpoints[address] = ep
	log.WithFields(logger.Fields{
		"at":      "(Network) Attach",
		"address": address,
	}).Debug("endpoint attached")
	return ep, nil
}

// SetOptions replaces the impairment options for subsequent datagrams.
func (n *Network) SetOptions(opts NetworkOptions) {
	n.mu.Lock()
	n.opts = opts
	n.mu.Unlock()
}

// SetInterceptor installs fn, or removes the interceptor when fn is nil.
func (n *Network) SetInterceptor(fn Interceptor) {
	n.mu.Lock()
	n.interceptor = fn
	n.mu.Unlock()
}

// Wait blocks until every in-flight delivery has completed.
func (n *Network) Wait() {
	n.inflight.Wait()
}

func (n *Network) detach(address string) {
	n.mu.Lock()
	delete(n.endpoints, address)
	n.mu.Unlock()
}

func (n *Network) route(from, to string, datagram []byte) error {
	n.mu.RLock()
	dst, ok := n.endpoints[to]
	opts := n.opts
	intercept := n.interceptor
	n.mu.RUnlock()

	if opts.MaxDatagramSize > 0 && len(datagram) > opts.MaxDatagramSize {
		return oops.In("transport").With("size", len(datagram)).Wrap(ErrDatagramTooLarge)
	}
	if intercept != nil && !intercept(from, to, datagram) {
		return nil
	}
	if !ok {
		// Unreachable destinations lose datagrams silently, like UDP.
		log.WithFields(logger.Fields{
			"at": "(Network) route",
			"to": to,
		}).Debug("datagram to unattached address dropped")
		return nil
	}
	if opts.DropRate > 0 && rand.Float64() < opts.DropRate {
		return nil
	}
	copies := 1
	if opts.DuplicateRate > 0 && rand.Float64() < opts.DuplicateRate {
		copies = 2
	}
	for i := 0; i < copies; i++ {
		buf := append([]byte(nil), datagram...)
		var delay time.Duration
		if opts.MaxDelay > 0 {
			delay = time.Duration(rand.Int63n(int64(opts.MaxDelay)))
		}
		n.inflight.Add(1)
		go func() {
			defer n.inflight.Done()
			if delay > 0 {
				time.Sleep(delay)
			}
			dst.deliver(buf, memTarget(from))
		}()
	}
	return nil
}

func normalizeMemAddress(address string) string {
	if strings.HasPrefix(address, MemScheme) {
		return address
	}
	return MemScheme + address
}

type memTarget string

func (t memTarget) Address() string {
	return string(t)
}

// Compile-time check that Endpoint implements Transport interface
var _ Transport = (*Endpoint)(nil)
var _ SizeLimited = (*Endpoint)(nil)

// Endpoint is one attached address of a Network.
type Endpoint struct {
	network *Network
	address string

	mu      sync.RWMutex
	handler Handler
	closed  bool
}

// Address returns the endpoint's own address.
func (e *Endpoint) Address() string {
	return e.address
}

func (e *Endpoint) Name() string {
	return "mem"
}

func (e *Endpoint) Compatible(address string) bool {
	return strings.HasPrefix(address, MemScheme)
}

func (e *Endpoint) ResolveTarget(address string) (SendTarget, error) {
	if !e.Compatible(address) {
		return nil, oops.In("transport").With("address", address).Wrap(ErrNoTransportAvailable)
	}
	return memTarget(address), nil
}

func (e *Endpoint) SendOneWay(target SendTarget, datagram []byte) error {
	e.mu.RLock()
	closed := e.closed
	e.mu.RUnlock()
	if closed {
		return ErrTransportClosed
	}
	to, ok := target.(memTarget)
	if !ok {
		return oops.In("transport").With("address", target.Address()).Wrap(ErrUnknownTarget)
	}
	return e.network.route(e.address, string(to), datagram)
}

func (e *Endpoint) MaxDatagramSize(SendTarget) int {
	e.network.mu.RLock()
	defer e.network.mu.RUnlock()
	return e.network.opts.MaxDatagramSize
}

func (e *Endpoint) SetHandler(h Handler) {
	e.mu.Lock()
	e.handler = h
	e.mu.Unlock()
}

func (e *Endpoint) deliver(datagram []byte, from SendTarget) {
	e.mu.RLock()
	h := e.handler
	closed := e.closed
	e.mu.RUnlock()
	if closed || h == nil {
		return
	}
	h(datagram, from)
}

// Close detaches the endpoint; datagrams still in flight to it are dropped.
func (e *Endpoint) Close() error {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return nil
	}
	e.closed = true
	e.mu.Unlock()
	e.network.detach(e.address)
	return nil
}
