package vigilib

import (
	"fmt"
	"sync"

	"github.com/TheSmallBoat/vigil/wire"
	"github.com/rs/zerolog"
	"github.com/valyala/bytebufferpool"
)

const (
	keyError        = "error"
	keyCapabilities = "capabilities"
	keySockname     = "sockname"
)

// Ordered with the most likely kind first.
var unilateralLabels = [...]string{"subscription", "log"}

type responseKind int

const (
	commandResponse responseKind = iota
	unilateralResponse
)

// classify tags a decoded value by shape: any unilateral marker key
// makes it a push message, everything else answers the command at the
// front of the queue.
func classify(v map[string]any) responseKind {
	for _, label := range unilateralLabels {
		if _, ok := v[label]; ok {
			return unilateralResponse
		}
	}
	return commandResponse
}

type queuedCommand struct {
	cmd any
	fut *Future
}

var _ sink = (*Connection)(nil)

// Connection is one client session with the vigil service. Configure
// by setting fields before Connect; fields must not be mutated after.
//
// The protocol carries no request identifiers: responses match
// commands purely by arrival order, so at most one command is ever in
// flight on the wire. Run keeps the rest queued until their turn.
type Connection struct {
	// SockPath, when set, overrides endpoint discovery.
	SockPath string

	// HelperBin overrides the CLI used for endpoint discovery.
	HelperBin string

	// Handler receives unilateral push messages, and the queue-wide
	// failure when the connection breaks. Invoked from the Executor.
	Handler UnilateralHandler

	// Executor is the work context for decoding and dispatch. Defaults
	// to InlineExecutor.
	Executor Executor

	// Codec encodes commands and decodes PDUs. Defaults to wire.CBOR.
	Codec wire.Codec

	// Logger, when set, traces connection events.
	Logger *zerolog.Logger

	mu       sync.Mutex
	closing  bool
	broken   bool
	decoding bool

	t    *transport
	cmdq []*queuedCommand
	buf  bytebufferpool.ByteBuffer

	rbuf [readChunkSize]byte

	versionCmd []any

	guards     sync.WaitGroup
	guardCount int32
}

var nopLogger = zerolog.Nop()

func (c *Connection) codec() wire.Codec {
	if c.Codec != nil {
		return c.Codec
	}
	return wire.CBOR
}

func (c *Connection) executor() Executor {
	if c.Executor != nil {
		return c.Executor
	}
	return InlineExecutor{}
}

func (c *Connection) logger() *zerolog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return &nopLogger
}

// Connect resolves the socket endpoint, dials it and performs the
// version handshake as the first queued command. The Future resolves
// with the handshake response; a server that reports no capabilities
// fails it with a ResponseError.
func (c *Connection) Connect(versionArgs any) *Future {
	args, ok := versionArgs.(map[string]any)
	if versionArgs == nil {
		args, ok = map[string]any{}, true
	}
	if !ok {
		return failedFuture(&UsageError{Reason: "version arguments must be an object"})
	}
	if args == nil {
		args = map[string]any{}
	}

	fut := newFuture()

	c.mu.Lock()
	c.versionCmd = []any{"version", args}
	c.mu.Unlock()

	g := c.acquireGuard()
	go func() {
		defer g.release()

		path, err := c.resolveSockPath()
		if err != nil {
			fut.fulfill(Result{Err: err})
			return
		}

		t, err := dialTransport(path, c)
		if err != nil {
			fut.fulfill(Result{Err: &TransportError{Op: "connect", Err: err}})
			return
		}

		c.mu.Lock()
		if c.closing {
			c.mu.Unlock()
			t.close()
			fut.fulfill(Result{Err: &UsageError{Reason: "Close() was called"}})
			return
		}
		c.t = t
		versionCmd := c.versionCmd
		c.mu.Unlock()

		c.logger().Debug().Str("sockname", path).Msg("connected to vigil service")

		res, err := c.Run(versionCmd).Wait()
		if err != nil {
			fut.fulfill(Result{Err: err})
			return
		}

		// A server without a capabilities key is too old to speak this
		// protocol revision; report that as an error response.
		if _, ok := res[keyCapabilities]; !ok {
			res[keyError] = "this vigil server has no support for capabilities, " +
				"please upgrade to the current stable version"
			fut.fulfill(wrapResponse(res))
			return
		}

		fut.fulfill(Result{Value: res})
	}()

	return fut
}

// Run submits one command. Its Future resolves with the matching
// response, in submission order. Commands submitted on a broken or
// never-connected Connection fail immediately.
func (c *Connection) Run(cmd any) *Future {
	fut := newFuture()

	c.mu.Lock()
	if c.broken {
		c.mu.Unlock()
		fut.fulfill(Result{Err: &UsageError{Reason: "the connection was broken"}})
		return fut
	}
	if c.t == nil {
		c.mu.Unlock()
		fut.fulfill(Result{Err: &UsageError{
			Reason: "no socket (did you call Connect() and check its result?)",
		}})
		return fut
	}

	// Only write now if no command is in progress; the response
	// dispatch for the command ahead of us triggers our write later.
	shouldWrite := len(c.cmdq) == 0
	c.cmdq = append(c.cmdq, &queuedCommand{cmd: cmd, fut: fut})
	c.mu.Unlock()

	if shouldWrite {
		c.sendCommand(false)
	}

	return fut
}

// Close tears the connection down and fails everything still queued.
// The unilateral handler is not notified: the caller asked for this.
// Idempotent. Blocks until work holding a lifetime guard has drained.
func (c *Connection) Close() {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return
	}
	c.closing = true
	t := c.t
	c.t = nil
	c.mu.Unlock()

	if t != nil {
		t.close()
	}

	c.failQueuedCommands(&UsageError{Reason: "Close() was called"})

	c.guards.Wait()
}

// failQueuedCommands is the single funnel for every queue-wide
// failure: mark broken, drain the queue, fail each pending command,
// and notify the handler once — unless the caller is the one closing.
func (c *Connection) failQueuedCommands(err error) {
	c.mu.Lock()
	q := c.cmdq
	c.cmdq = nil
	c.broken = true
	closing := c.closing
	c.mu.Unlock()

	for _, qc := range q {
		qc.fut.fulfill(Result{Err: err})
	}

	if !closing {
		c.logger().Debug().Err(err).Int("failed", len(q)).Msg("connection broken")
	}

	if c.Handler != nil && !closing {
		g := c.acquireGuard()
		c.executor().Add(func() {
			defer g.release()
			c.Handler.HandleUnilateral(Result{Err: err})
		})
	}
}

// sendCommand writes the command at the front of the queue, if any.
// pop discards the front entry first: its response has been
// dispatched, the next command gets the wire.
func (c *Connection) sendCommand(pop bool) {
	c.mu.Lock()
	if pop && len(c.cmdq) > 0 {
		c.cmdq = c.cmdq[1:]
	}
	if len(c.cmdq) == 0 {
		c.mu.Unlock()
		return
	}
	qc := c.cmdq[0]
	t := c.t
	c.mu.Unlock()

	if t == nil {
		return
	}

	payload, err := c.codec().Encode(qc.cmd)
	if err != nil {
		c.failQueuedCommands(fmt.Errorf("vigil: failed to encode command: %w", err))
		return
	}

	buf := bytebufferpool.Get()
	buf.B = wire.AppendFrame(buf.B, payload)
	t.write(buf)
}

// splitNextPDU pops one complete PDU off the inbound buffer. ok is
// false when not enough bytes have arrived yet.
func (c *Connection) splitNextPDU() (out []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	pdu, rest, ok := wire.SplitFrame(c.buf.B)
	if !ok {
		return nil, false
	}

	out = append([]byte(nil), pdu...)
	n := copy(c.buf.B, rest)
	c.buf.B = c.buf.B[:n]
	return out, true
}

// decodeNextResponse drains the inbound buffer: frame, decode, route.
// Only one pass may run at a time — the work context may be a pool,
// and a later-scheduled pass finishing first would reorder dispatch —
// so a pass that finds another in progress leaves the draining to it.
// The draining pass in turn re-checks the buffer after clearing the
// flag: bytes appended while it was winding down must not sit stranded
// until the next read event.
func (c *Connection) decodeNextResponse() {
	for {
		c.mu.Lock()
		if c.decoding {
			c.mu.Unlock()
			return
		}
		c.decoding = true
		c.mu.Unlock()

		drained := c.decodePass()

		c.mu.Lock()
		c.decoding = false
		_, _, ready := wire.SplitFrame(c.buf.B)
		c.mu.Unlock()

		if !drained || !ready {
			return
		}
	}
}

// decodePass dispatches buffered PDUs until none is complete. It
// reports false when the connection failed mid-pass and the leftover
// bytes are moot.
func (c *Connection) decodePass() bool {
	for {
		pdu, ok := c.splitNextPDU()
		if !ok {
			return true
		}

		v, err := c.codec().Decode(pdu)
		if err != nil {
			c.failQueuedCommands(&DecodeError{Err: err})
			return false
		}

		switch classify(v) {
		case unilateralResponse:
			if c.Handler == nil {
				c.failQueuedCommands(&UsageError{
					Reason: "no unilateral handler has been installed",
				})
				return false
			}
			c.Handler.HandleUnilateral(wrapResponse(v))

		case commandResponse:
			c.mu.Lock()
			if len(c.cmdq) == 0 {
				c.mu.Unlock()
				c.failQueuedCommands(&UsageError{
					Reason: "response received with no commands queued",
				})
				return false
			}
			qc := c.cmdq[0]
			c.mu.Unlock()

			// Fulfill outside the lock in case the waiter submits
			// another command, then pop and send the next one. Popping
			// after the dispatch keeps this pass the only thing that
			// triggers the next write.
			qc.fut.fulfill(wrapResponse(v))
			c.sendCommand(true)
		}
	}
}

// readBuffer, bytesRead, readEOF, readErr, writeErr implement sink.

func (c *Connection) readBuffer() []byte { return c.rbuf[:] }

func (c *Connection) bytesRead(n int) {
	c.mu.Lock()
	_, _ = c.buf.Write(c.rbuf[:n])
	c.mu.Unlock()

	g := c.acquireGuard()
	c.executor().Add(func() {
		defer g.release()
		c.decodeNextResponse()
	})
}

func (c *Connection) readEOF() {
	c.failQueuedCommands(&TransportError{Op: "read", Err: errConnectionClosed})
}

func (c *Connection) readErr(err error) {
	c.failQueuedCommands(&TransportError{Op: "read", Err: err})
}

func (c *Connection) writeErr(err error) {
	c.failQueuedCommands(&TransportError{Op: "write", Err: err})
}
