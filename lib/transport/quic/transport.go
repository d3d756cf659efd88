// Package quic carries session datagrams as QUIC DATAGRAM frames
// (RFC 9221). Datagrams are unreliable and unordered, matching the
// transport contract; connections are dialled lazily per address and
// reused for replies.
package quic

import (
	"context"
	"crypto/tls"
	"strings"
	"sync"
	"time"

	"github.com/go-i2p/go-reliable/lib/transport"
	"github.com/go-i2p/logger"
	quicgo "github.com/quic-go/quic-go"
	"github.com/samber/oops"
	"golang.org/x/sync/errgroup"
)

var log = logger.GetGoI2PLogger()

// Scheme prefixes QUIC addresses. Addresses without any scheme are also
// accepted.
const Scheme = "quic://"

// Options configures a QUIC transport.
type Options struct {
	// TLSConfig is the server configuration. When nil a self-signed
	// certificate is generated.
	TLSConfig *tls.Config
	// HandshakeTimeout bounds connection establishment.
	HandshakeTimeout time.Duration
	// IdleTimeout closes connections without traffic.
	IdleTimeout time.Duration
	// MaxDatagramSize rejects larger datagrams before they reach quic-go.
	MaxDatagramSize int
}

// DefaultOptions returns options suitable for local use.
func DefaultOptions() Options {
	return Options{
		HandshakeTimeout: 10 * time.Second,
		IdleTimeout:      60 * time.Second,
		MaxDatagramSize:  1200,
	}
}

// Compile-time check that Transport implements transport.Transport
var _ transport.Transport = (*Transport)(nil)
var _ transport.SizeLimited = (*Transport)(nil)

// Transport is a QUIC listener that also dials peers on demand.
type Transport struct {
	opts      Options
	listener  *quicgo.Listener
	clientTLS *tls.Config
	conf      *quicgo.Config

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group

	mu      sync.Mutex
	conns   map[string]*quicgo.Conn
	dialMu  map[string]*sync.Mutex
	closed  bool
	handler transport.Handler
}

type target struct {
	address string
}

func (t target) Address() string { return t.address }

// connTarget replies over the connection a datagram arrived on.
type connTarget struct {
	conn    *quicgo.Conn
	address string
}

func (t *connTarget) Address() string { return t.address }

// Listen starts a transport listening on addr (host:port).
func Listen(addr string, opts Options) (*Transport, error) {
	addr = stripScheme(addr)
	defaults := DefaultOptions()
	if opts.HandshakeTimeout <= 0 {
		opts.HandshakeTimeout = defaults.HandshakeTimeout
	}
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = defaults.IdleTimeout
	}
	serverTLS := opts.TLSConfig
	if serverTLS == nil {
		host := addr
		if i := strings.LastIndex(addr, ":"); i >= 0 {
			host = addr[:i]
		}
		generated, err := GenerateSelfSignedTLS([]string{host, "localhost", "127.0.0.1"}, 0)
		if err != nil {
			return nil, err
		}
		serverTLS = generated
	}
	conf := &quicgo.Config{
		EnableDatagrams:      true,
		HandshakeIdleTimeout: opts.HandshakeTimeout,
		MaxIdleTimeout:       opts.IdleTimeout,
		KeepAlivePeriod:      opts.IdleTimeout / 2,
	}
	listener, err := quicgo.ListenAddr(addr, serverTLS, conf)
	if err != nil {
		return nil, oops.In("quic").With("address", addr).Wrapf(err, "listen")
	}

	ctx, cancel := context.WithCancel(context.Background())
	group, gctx := errgroup.WithContext(ctx)
	t := &Transport{
		opts:      opts,
		listener:  listener,
		clientTLS: clientTLS(opts.TLSConfig),
		conf:      conf,
		ctx:       gctx,
		cancel:    cancel,
		group:     group,
		conns:     make(map[string]*quicgo.Conn),
		dialMu:    make(map[string]*sync.Mutex),
	}
	group.Go(t.acceptLoop)
	log.WithFields(logger.Fields{
		"at":      "quic.Listen",
		"address": listener.Addr().String(),
	}).Info("quic transport listening")
	return t, nil
}

// Addr returns the local listening address.
func (t *Transport) Addr() string {
	return t.listener.Addr().String()
}

func (t *Transport) Name() string {
	return "quic"
}

func (t *Transport) Compatible(address string) bool {
	return strings.HasPrefix(address, Scheme) || !strings.Contains(address, "://")
}

func (t *Transport) ResolveTarget(address string) (transport.SendTarget, error) {
	if !t.Compatible(address) {
		return nil, oops.In("quic").With("address", address).Wrap(transport.ErrNoTransportAvailable)
	}
	return target{address: stripScheme(address)}, nil
}

// MaxDatagramSize is the configured limit for every target.
func (t *Transport) MaxDatagramSize(transport.SendTarget) int {
	return t.opts.MaxDatagramSize
}

func (t *Transport) SetHandler(h transport.Handler) {
	t.mu.Lock()
	t.handler = h
	t.mu.Unlock()
}

func (t *Transport) SendOneWay(dst transport.SendTarget, datagram []byte) error {
	if t.opts.MaxDatagramSize > 0 && len(datagram) > t.opts.MaxDatagramSize {
		return oops.In("quic").With("size", len(datagram)).Wrap(transport.ErrDatagramTooLarge)
	}
	var conn *quicgo.Conn
	switch d := dst.(type) {
	case *connTarget:
		conn = d.conn
	case target:
		c, err := t.connFor(d.address)
		if err != nil {
			return err
		}
		conn = c
	default:
		return oops.In("quic").With("address", dst.Address()).Wrap(transport.ErrUnknownTarget)
	}
	if err := conn.SendDatagram(datagram); err != nil {
		return oops.In("quic").With("address", dst.Address()).Wrapf(err, "send datagram")
	}
	return nil
}

func (t *Transport) connFor(address string) (*quicgo.Conn, error) {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil, transport.ErrTransportClosed
	}
	if c, ok := t.conns[address]; ok {
		t.mu.Unlock()
		return c, nil
	}
	dm, ok := t.dialMu[address]
	if !ok {
		dm = &sync.Mutex{}
		t.dialMu[address] = dm
	}
	t.mu.Unlock()

	// one dial per address at a time
	dm.Lock()
	defer dm.Unlock()
	t.mu.Lock()
	if c, ok := t.conns[address]; ok {
		t.mu.Unlock()
		return c, nil
	}
	t.mu.Unlock()

	ctx, cancel := context.WithTimeout(t.ctx, t.opts.HandshakeTimeout)
	defer cancel()
	conn, err := quicgo.DialAddr(ctx, address, t.clientTLS, t.conf)
	if err != nil {
		log.WithFields(logger.Fields{
			"at":      "(Transport) connFor",
			"address": address,
		}).WithError(err).Warn("quic dial failed")
		return nil, oops.In("quic").With("address", address).Wrapf(err, "dial")
	}
	if !t.track(address, conn) {
		return nil, transport.ErrTransportClosed
	}
	return conn, nil
}

func (t *Transport) track(key string, conn *quicgo.Conn) bool {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		_ = conn.CloseWithError(0, "transport closed")
		return false
	}
	t.conns[key] = conn
	t.mu.Unlock()
	t.group.Go(func() error {
		t.readLoop(key, conn)
		return nil
	})
	return true
}

func (t *Transport) acceptLoop() error {
	for {
		conn, err := t.listener.Accept(t.ctx)
		if err != nil {
			if t.ctx.Err() != nil {
				return nil
			}
			log.WithError(err).Warn("quic accept failed")
			return err
		}
		log.WithFields(logger.Fields{
			"at":     "(Transport) acceptLoop",
			"remote": conn.RemoteAddr().String(),
		}).Debug("quic connection accepted")
		t.track("accepted:"+conn.RemoteAddr().String(), conn)
	}
}

func (t *Transport) readLoop(key string, conn *quicgo.Conn) {
	defer t.forget(key, conn)
	reply := &connTarget{conn: conn, address: conn.RemoteAddr().String()}
	for {
		datagram, err := conn.ReceiveDatagram(t.ctx)
		if err != nil {
			log.WithFields(logger.Fields{
				"at":     "(Transport) readLoop",
				"remote": reply.address,
			}).WithError(err).Debug("quic connection read loop ended")
			return
		}
		t.mu.Lock()
		h := t.handler
		t.mu.Unlock()
		if h != nil {
			h(datagram, reply)
		}
	}
}

func (t *Transport) forget(key string, conn *quicgo.Conn) {
	t.mu.Lock()
	if t.conns[key] == conn {
		delete(t.conns, key)
	}
	t.mu.Unlock()
}

// Close stops accepting, closes every connection and waits for the loops.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	conns := make([]*quicgo.Conn, 0, len(t.conns))
	for _, c := range t.conns {
		conns = append(conns, c)
	}
	t.mu.Unlock()

	t.cancel()
	for _, c := range conns {
		_ = c.CloseWithError(0, "transport closed")
	}
	err := t.listener.Close()
	if werr := t.group.Wait(); werr != nil && err == nil {
		err = werr
	}
	log.WithFields(logger.Fields{
		"at": "(Transport) Close",
	}).Info("quic transport closed")
	return err
}

func stripScheme(address string) string {
	return strings.TrimPrefix(address, Scheme)
}
