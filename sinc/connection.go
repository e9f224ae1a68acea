package sinc

import (
	"fmt"
	"log"
	"sync/atomic"
)

// waitState is the reentrancy guard from spec §4.E step 3 / §9's suggested
// replacement for the inSocketWait boolean: a two-state value with a
// move-like acquire/release pair, backed by atomic CAS so it's race-clean
// without a mutex (a mutex would itself block the second waiter instead of
// failing it with MultipleThreadWait).
type waitState struct {
	v atomic.Bool // false = idle, true = waiting
}

// acquire claims the guard for the duration of a wait. It returns false if
// another wait is already in progress.
func (w *waitState) acquire() bool {
	return w.v.CompareAndSwap(false, true)
}

func (w *waitState) release() {
	w.v.Store(false)
}

// Connection represents one device attachment (spec §3 "Connection"). A
// Connection is single-owner: no descriptor is shared between Connections.
type Connection struct {
	tcp       *tcpSocket
	connected bool

	defaultTimeoutMs int // -1 = infinite, 0 = poll

	datagramXferEnabled bool
	udp                 *udpSocket
	datagramReady       bool

	deriveStats bool

	wait waitState

	readBuf *Buffer
	errs    errState

	metrics *Metrics
	log     *log.Logger

	host string
	port int
}

// NewConnection creates a Connection in its idle (unconnected) state.
// Opts may be nil to use DefaultDefaults() and the process-wide Metrics.
func NewConnection(opts ...ConnectionOption) *Connection {
	c := &Connection{
		defaultTimeoutMs: DefaultDefaults().DefaultTimeoutMs,
		readBuf:          NewBuffer(4096),
		metrics:          defaultMetrics,
		log:              log.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// ConnectionOption configures a Connection at construction time.
type ConnectionOption func(*Connection)

// WithMetrics overrides the Prometheus counters a Connection reports to.
func WithMetrics(m *Metrics) ConnectionOption {
	return func(c *Connection) { c.metrics = m }
}

// WithLogger overrides the *log.Logger a Connection writes diagnostics to.
func WithLogger(l *log.Logger) ConnectionOption {
	return func(c *Connection) { c.log = l }
}

// WithDefaultTimeout sets the connection's default RPC timeout in
// milliseconds (-1 = infinite, 0 = poll), per spec §3.
func WithDefaultTimeout(ms int) ConnectionOption {
	return func(c *Connection) { c.defaultTimeoutMs = ms }
}

// WithDerivedStats opts a Connection into populating the Derived field of
// CalibrationPayload and HistogramResult with gonum-computed summary
// statistics (SPEC_FULL §4 Domain Stack). Off by default since most callers
// don't need it and it costs an extra pass over every plot/array decoded.
func WithDerivedStats() ConnectionOption {
	return func(c *Connection) { c.deriveStats = true }
}

// Connect attaches the TCP descriptor (and, lazily, the UDP one — see
// EnableDatagrams) to host:port, bounded by timeoutMs (spec §3 lifecycle).
func (c *Connection) Connect(host string, port int, timeoutMs int) bool {
	c.errs.clear()

	sock, err := connectTCP(host, port, timeoutMs)
	if err.Code != NoError {
		c.errs.setRead(err)
		return false
	}

	c.tcp = sock
	c.connected = true
	c.host = host
	c.port = port
	c.metrics.activeConns.Inc()
	return true
}

// Connected reports whether Connect has succeeded and Disconnect hasn't
// since been called.
func (c *Connection) Connected() bool { return c.connected }

// PeerAddress returns "host:port" for the connected device, used by the
// project-file save flow's "address" field (spec §4.H step 5).
func (c *Connection) PeerAddress() string {
	return fmt.Sprintf("%s:%d", c.host, c.port)
}

// Disconnect closes both descriptors. Destruction (garbage collection)
// releases the read buffer automatically in Go; there is no separate
// "free" step.
func (c *Connection) Disconnect() {
	if c.tcp != nil {
		c.tcp.disconnect()
		c.tcp = nil
	}
	if c.udp != nil {
		c.udp.close()
		c.udp = nil
	}
	if c.connected {
		c.metrics.activeConns.Dec()
	}
	c.connected = false
	c.datagramReady = false
	c.readBuf.Reset()
}

// DefaultTimeout returns the connection's default RPC timeout in
// milliseconds.
func (c *Connection) DefaultTimeout() int { return c.defaultTimeoutMs }

// SetDefaultTimeout changes the connection's default RPC timeout.
func (c *Connection) SetDefaultTimeout(ms int) { c.defaultTimeoutMs = ms }

// DatagramXferEnabled reports whether the UDP histogram channel has been
// negotiated and enabled (spec §6 Transport).
func (c *Connection) DatagramXferEnabled() bool { return c.datagramXferEnabled }

func (c *Connection) resolveTimeout(timeoutMs int) int {
	if timeoutMs == timeoutUseDefault {
		return c.defaultTimeoutMs
	}
	return timeoutMs
}

// timeoutUseDefault is a sentinel callers pass to use the connection's
// configured default timeout rather than overriding it per-call.
const timeoutUseDefault = -2
