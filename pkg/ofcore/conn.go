package ofcore

import (
	"context"
	"crypto/rand"
	"crypto/tls"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/ofnet/ofcore/pkg/ofmsg"
)

// PeerKind distinguishes which side of the control protocol a Conn's
// remote peer plays, matching §3's "role (controller-side or
// datapath-side)" field.
type PeerKind uint8

const (
	// PeerDatapath means this Conn's remote peer is a datapath; the
	// local side is acting as a controller.
	PeerDatapath PeerKind = iota
	// PeerController means this Conn's remote peer is a controller;
	// the local side is acting as a datapath.
	PeerController
)

// Mode is whether a Conn originated the TCP connection (Active) or
// accepted an already-established socket (Passive), per §4.2's
// `open(addr, role, mode)` contract.
type Mode uint8

const (
	// ModeActive dials addr and retries with backoff on failure.
	ModeActive Mode = iota
	// ModePassive wraps an already-accepted net.Conn and never
	// reconnects.
	ModePassive
)

// State is one of the five states in the §4.2 Conn state machine.
type State int8

const (
	StateDisconnected State = iota
	StateConnecting
	StateWaitHello
	StateEstablished
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "CONNECTING"
	case StateWaitHello:
		return "WAIT_HELLO"
	case StateEstablished:
		return "ESTABLISHED"
	case StateClosing:
		return "CLOSING"
	default:
		return "DISCONNECTED"
	}
}

// ConnHandler receives the inbound events a Conn emits (§4.2). It is
// the capability-interface replacement for the original's virtual
// overrides (§9).
type ConnHandler interface {
	// OnEstablished fires after the HELLO handshake completes: once for a
	// passive Conn, and again after every successful reconnect of an
	// active one.
	OnEstablished(c *Conn, version int)
	// OnMessage fires for every non-HELLO, non-echo message received
	// while ESTABLISHED, in arrival order. xid is the frame's transaction
	// id, passed through so a handler that replies can echo it back.
	OnMessage(c *Conn, xid uint32, msg ofmsg.Message)
	// OnNegotiationFailed fires when the HELLO exchange yields an
	// empty version intersection, just before the Conn closes.
	OnNegotiationFailed(c *Conn, reason string)
	// OnClosed fires exactly once when the Conn leaves ESTABLISHED (or
	// fails before reaching it) for good; reason is nil when a local
	// Close ends a connected socket, and ErrConnClosed when Close
	// interrupts an active-side Conn that is still dialing.
	OnClosed(c *Conn, reason error)
}

// DialFunc opens an active-side connection, matching the *Client's
// pluggable dialFn convention in the teacher package.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Conn is one protocol connection: handshake, keepalive, retry,
// send/receive (§3, §4.2).
type Conn struct {
	cfg     *cfg
	codec   ofmsg.HandshakeCodec
	handler ConnHandler
	dial    DialFunc

	addr     string
	peerKind PeerKind
	mode     Mode
	active   bool // sticky "actively originated" flag (§4.2)

	journal *Journal

	mu                sync.Mutex
	state             State
	connID            ConnId
	connIDAssigned    bool
	negotiatedVersion int // -1 until ESTABLISHED
	netConn           net.Conn
	reader            *FrameReader
	outbox            *outbox
	lastActivity      time.Time
	echoPending       bool
	echoXid           uint32
	echoSentAt        time.Time
	backoff           *reconnectBackoff

	closeOnce sync.Once
	closeCh   chan struct{}
	closeErr  error
	wakeCh    chan func()
	doneCh    chan struct{}
}

// newConn constructs a Conn in DISCONNECTED state. It is not yet
// running; call start to launch its loop goroutine.
func newConn(c *cfg, codec ofmsg.HandshakeCodec, handler ConnHandler, dial DialFunc) *Conn {
	return &Conn{
		cfg:               c,
		codec:             codec,
		handler:           handler,
		dial:              dial,
		journal:           NewJournal(0, c.logger),
		state:             StateDisconnected,
		negotiatedVersion: -1,
		reader:            NewFrameReader(c.maxFrameSize),
		outbox:            newOutbox(c.outboxLimit, c.outboxBytes),
		closeCh:           make(chan struct{}),
		wakeCh:            make(chan func(), 16),
		doneCh:            make(chan struct{}),
	}
}

// Open initiates an active-side connection to addr (§4.2).
func Open(c *cfg, codec ofmsg.HandshakeCodec, handler ConnHandler, dial DialFunc, addr string, peerKind PeerKind) *Conn {
	conn := newConn(c, codec, handler, dial)
	conn.addr = addr
	conn.peerKind = peerKind
	conn.mode = ModeActive
	conn.active = true
	conn.backoff = newReconnectBackoff(c.reconnectInitial, c.reconnectMax)
	go conn.run()
	return conn
}

// Accept wraps an already-established socket as a passive-side Conn
// (§4.2).
func Accept(c *cfg, codec ofmsg.HandshakeCodec, handler ConnHandler, nc net.Conn, peerKind PeerKind) *Conn {
	conn := newConn(c, codec, handler, nil)
	conn.addr = nc.RemoteAddr().String()
	conn.peerKind = peerKind
	conn.mode = ModePassive
	conn.netConn = nc
	go conn.run()
	return conn
}

// State returns the Conn's current state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// NegotiatedVersion returns the version agreed during handshake, or -1
// if the Conn never reached ESTABLISHED.
func (c *Conn) NegotiatedVersion() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.negotiatedVersion
}

// ConnID returns the ConnId assigned to this Conn by its Endpoint. It
// is only meaningful once assigned; see AssignConnID.
func (c *Conn) ConnID() ConnId {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connID
}

// AssignConnID is called once by Endpoint.AddConn to record which slot
// this Conn occupies (§4.5).
func (c *Conn) AssignConnID(id ConnId) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connID = id
	c.connIDAssigned = true
}

// PeerAddr returns the remote peer's address.
func (c *Conn) PeerAddr() string { return c.addr }

// PeerKind reports whether the remote peer is a controller or a
// datapath.
func (c *Conn) PeerKind() PeerKind { return c.peerKind }

// IsActive reports whether this Conn originated its TCP connection
// (and therefore reconnects on failure).
func (c *Conn) IsActive() bool { return c.active }

// Journal returns this Conn's bounded transition log (§7).
func (c *Conn) Journal() *Journal { return c.journal }

// Send enqueues a typed message carrying xid, failing if the Conn is
// not ESTABLISHED or if the outbound queue is full (§4.2, §4.4).
func (c *Conn) Send(xid uint32, msg ofmsg.Message) error {
	c.mu.Lock()
	state := c.state
	version := c.negotiatedVersion
	c.mu.Unlock()

	if state != StateEstablished {
		c.journal.Record(LogLevelWarn, "send rejected: not established")
		return ErrNotEstablished
	}
	return c.enqueue(uint8(version), msg.Type(), xid, msg)
}

func (c *Conn) enqueue(version, typ uint8, xid uint32, msg ofmsg.Message) error {
	body, err := c.codec.Encode(version, msg)
	if err != nil {
		return fmt.Errorf("ofcore: encode: %w", err)
	}
	body, err = compressBody(c.cfg.compression, body)
	if err != nil {
		return fmt.Errorf("ofcore: compress: %w", err)
	}
	fr, err := EncodeFrame(version, typ, xid, body, c.cfg.maxFrameSize)
	if err != nil {
		return err
	}
	if !c.outbox.push(fr) {
		return ErrCongested
	}
	c.wake(func() { c.flushOutbox() })
	return nil
}

// Close begins a graceful shutdown: the outbound queue is drained
// where possible, then the socket is closed (§4.2).
func (c *Conn) Close() {
	c.closeOnce.Do(func() { close(c.closeCh) })
}

// Wait blocks until the Conn's loop goroutine has exited.
func (c *Conn) Wait() { <-c.doneCh }

// wake schedules fn to run on the Conn's loop goroutine, the one
// suspension point other goroutines use to reach state mutated only by
// the loop (§5's wake_up primitive, applied per-Conn).
func (c *Conn) wake(fn func()) {
	select {
	case c.wakeCh <- fn:
	case <-c.doneCh:
	}
}

func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
	c.journal.Record(LogLevelInfo, "state -> "+s.String())
}

// run is the Conn's loop goroutine: it owns every suspension point
// (socket readiness via a reader goroutine + channel, timers,
// wake-up) and is the only goroutine that mutates state requiring the
// ordering guarantees of §5. For an active-side Conn, run wraps
// dial+serve in a reconnect loop: losing an established (or
// negotiating) socket is not fatal, it re-dials with the same backoff
// schedule used for the initial connect (§4.2 "ESTABLISHED -> CLOSING
// ... active side reconnects", §8 scenario 6). The Conn and its
// identity (ConnId, Endpoint membership) persist across reconnects;
// only finish, called once the loop is done for good, notifies the
// handler that the Conn is gone.
func (c *Conn) run() {
	defer close(c.doneCh)

	for {
		if c.mode == ModeActive {
			if !c.dialLoop() {
				c.finish(c.closeErr)
				return
			}
		}

		fatalErr := c.serve()

		if c.mode != ModeActive || c.closeRequested() {
			c.finish(fatalErr)
			return
		}

		c.journal.Record(LogLevelWarn, "established connection lost, reconnecting")
		c.resetForReconnect()
	}
}

// serve drives one dial cycle's HELLO handshake and steady-state event
// loop until the socket is lost or Close is called. It returns the
// error that ended the loop, or nil for a caller-requested Close.
func (c *Conn) serve() error {
	c.setState(StateWaitHello)
	if err := c.sendHello(); err != nil {
		return err
	}

	type readResult struct {
		frames []Frame
		err    error
	}
	readCh := make(chan readResult, 4)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		buf := make([]byte, 64*1024)
		for {
			n, err := c.netConn.Read(buf)
			if n > 0 {
				frames, ferr := c.reader.Feed(append([]byte(nil), buf[:n]...))
				select {
				case readCh <- readResult{frames: frames, err: ferr}:
				case <-c.closeCh:
					return
				}
				if ferr != nil {
					return
				}
			}
			if err != nil {
				select {
				case readCh <- readResult{err: err}:
				case <-c.closeCh:
				}
				return
			}
		}
	}()

	timer := time.NewTimer(c.cfg.echoInterval)
	defer timer.Stop()
	c.lastActivity = time.Now()

	var fatalErr error
loop:
	for {
		select {
		case <-c.closeCh:
			fatalErr = nil
			break loop

		case fn := <-c.wakeCh:
			fn()

		case res := <-readCh:
			if res.err != nil {
				fatalErr = res.err
				break loop
			}
			for _, fr := range res.frames {
				if err := c.handleFrame(fr); err != nil {
					fatalErr = err
					break loop
				}
			}
			c.rearmTimer(timer)

		case <-timer.C:
			if err := c.onTimerFire(); err != nil {
				fatalErr = err
				break loop
			}
			c.rearmTimer(timer)
		}
	}

	c.setState(StateClosing)
	c.flushOutbox()
	if c.netConn != nil {
		c.netConn.Close()
	}
	<-readerDone
	return fatalErr
}

// closeRequested reports whether Close has been called, without
// blocking.
func (c *Conn) closeRequested() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// resetForReconnect clears the per-socket state serve accumulated so
// the next dial+HELLO cycle starts clean. ConnId, journal and backoff
// are left alone: the Conn's identity and retry schedule persist
// across a reconnect.
func (c *Conn) resetForReconnect() {
	c.mu.Lock()
	c.negotiatedVersion = -1
	c.netConn = nil
	c.mu.Unlock()
	c.reader = NewFrameReader(c.cfg.maxFrameSize)
	c.outbox = newOutbox(c.cfg.outboxLimit, c.cfg.outboxBytes)
	c.echoPending = false
	c.echoXid = 0
}

// rearmTimer resets timer to the next relevant deadline: the echo
// timeout if a reply is pending, otherwise the idle interval.
func (c *Conn) rearmTimer(timer *time.Timer) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	if c.echoPending {
		remaining := c.cfg.echoTimeout - time.Since(c.echoSentAt)
		if remaining < 0 {
			remaining = 0
		}
		timer.Reset(remaining)
		return
	}
	remaining := c.cfg.echoInterval - time.Since(c.lastActivity)
	if remaining < 0 {
		remaining = 0
	}
	timer.Reset(remaining)
}

func (c *Conn) onTimerFire() error {
	if c.echoPending {
		if time.Since(c.echoSentAt) >= c.cfg.echoTimeout {
			c.journal.Record(LogLevelWarn, "echo timeout")
			return fmt.Errorf("ofcore: liveness: %w", ErrConnClosed)
		}
		return nil
	}
	if time.Since(c.lastActivity) < c.cfg.echoInterval {
		return nil
	}
	return c.sendEcho()
}

func (c *Conn) sendEcho() error {
	var buf [8]byte
	_, _ = io.ReadFull(rand.Reader, buf[:])
	msg := c.codec.NewEchoRequest(buf[:])
	xid := randomXid()
	c.mu.Lock()
	version := c.negotiatedVersion
	c.mu.Unlock()
	body, err := c.codec.Encode(uint8(version), msg)
	if err != nil {
		return err
	}
	body, err = compressBody(c.cfg.compression, body)
	if err != nil {
		return err
	}
	fr, err := EncodeFrame(uint8(version), msg.Type(), xid, body, c.cfg.maxFrameSize)
	if err != nil {
		return err
	}
	if !c.outbox.push(fr) {
		// Congestion on echo traffic is not fatal; try again next tick.
		return nil
	}
	c.flushOutbox()
	c.echoPending = true
	c.echoXid = xid
	c.echoSentAt = time.Now()
	return nil
}

func (c *Conn) sendHello() error {
	versions := c.cfg.supported.Versions()
	headerVersion := uint8(0)
	if len(versions) > 0 {
		headerVersion = uint8(versions[len(versions)-1])
	}
	msg := c.codec.NewHello(versions, headerVersion)
	body, err := c.codec.Encode(headerVersion, msg)
	if err != nil {
		return err
	}
	body, err = compressBody(c.cfg.compression, body)
	if err != nil {
		return err
	}
	fr, err := EncodeFrame(headerVersion, msg.Type(), randomXid(), body, c.cfg.maxFrameSize)
	if err != nil {
		return err
	}
	if c.netConn == nil {
		return ErrConnClosed
	}
	return c.writeFrame(fr, time.Now())
}

// writeFrame writes fr to the socket and fires FrameWriteHook. queuedAt
// is the time fr was handed to the outbox, used to report how long it
// sat waiting for a flush; callers writing outside the outbox (HELLO,
// HELLO_FAILED) pass the current time, reporting a zero wait.
func (c *Conn) writeFrame(fr Frame, queuedAt time.Time) error {
	start := time.Now()
	n, err := c.netConn.Write(fr.Bytes())
	c.cfg.hooks.each(func(h Hook) {
		if wh, ok := h.(FrameWriteHook); ok {
			wh.OnFrameWrite(c.ConnID(), fr.Type(), n, start.Sub(queuedAt), time.Since(start), err)
		}
	})
	return err
}

func (c *Conn) flushOutbox() {
	if c.netConn == nil {
		return
	}
	for {
		item, ok := c.outbox.pop()
		if !ok {
			return
		}
		if err := c.writeFrame(item.fr, item.queuedAt); err != nil {
			c.journal.Record(LogLevelWarn, "write failed: "+err.Error())
			return
		}
		c.lastActivity = time.Now()
	}
}

// handleFrame processes one inbound frame per the §4.2 gating and
// dispatch rules.
func (c *Conn) handleFrame(fr Frame) error {
	start := time.Now()
	idle := start.Sub(c.lastActivity)
	c.lastActivity = start

	c.mu.Lock()
	state := c.state
	c.mu.Unlock()

	fireRead := func(err error) {
		c.cfg.hooks.each(func(h Hook) {
			if rh, ok := h.(FrameReadHook); ok {
				rh.OnFrameRead(c.ConnID(), fr.Type(), len(fr.Bytes()), idle, time.Since(start), err)
			}
		})
	}

	body, err := decompressBody(c.cfg.compression, fr.Body())
	if err != nil {
		c.journal.Record(LogLevelError, "decompress failed: "+err.Error())
		fireRead(err)
		return fmt.Errorf("ofcore: %w", err)
	}
	msg, err := c.codec.Decode(fr.Version(), fr.Type(), body)
	if err != nil {
		c.journal.Record(LogLevelError, "decode failed: "+err.Error())
		fireRead(err)
		return fmt.Errorf("ofcore: %w", err)
	}
	fireRead(nil)

	if hello, ok := msg.(ofmsg.Hello); ok {
		return c.handleHello(fr, hello, state)
	}

	if state != StateEstablished {
		c.journal.Record(LogLevelWarn, "dropping non-HELLO message before HELLO")
		return nil
	}

	if echoReq, ok := msg.(ofmsg.EchoRequest); ok {
		reply := c.codec.NewEchoReply(echoReq.Data())
		body, err := c.codec.Encode(uint8(c.negotiatedVersion), reply)
		if err != nil {
			return nil
		}
		body, err = compressBody(c.cfg.compression, body)
		if err != nil {
			return nil
		}
		rfr, err := EncodeFrame(uint8(c.negotiatedVersion), reply.Type(), fr.Xid(), body, c.cfg.maxFrameSize)
		if err != nil {
			return nil
		}
		if c.outbox.push(rfr) {
			c.flushOutbox()
		}
		return nil
	}

	if echoReply, ok := msg.(ofmsg.EchoReply); ok {
		_ = echoReply
		if c.echoPending && fr.Xid() == c.echoXid {
			c.echoPending = false
		}
		return nil
	}

	c.handler.OnMessage(c, fr.Xid(), msg)
	return nil
}

func (c *Conn) handleHello(fr Frame, hello ofmsg.Hello, state State) error {
	if state == StateEstablished {
		// Idempotence: duplicate HELLO while established is a no-op (§8).
		c.journal.Record(LogLevelDebug, "duplicate hello ignored")
		return nil
	}
	if state != StateWaitHello {
		c.journal.Record(LogLevelWarn, "unexpected hello in state "+state.String())
		return nil
	}

	var peerVersions VersionBitmap
	versions, ok := hello.Versions()
	if ok {
		peerVersions = NewVersionBitmap(versions...)
	} else {
		peerVersions = NewVersionBitmap(int(fr.Version()))
	}

	common := c.cfg.supported.Intersect(peerVersions)
	negotiated, ok := common.Highest()
	if !ok {
		reason := fmt.Sprintf("unsupported version(s) %v, supported %v", peerVersions.Versions(), c.cfg.supported.Versions())
		c.journal.Record(LogLevelWarn, "negotiation failed: "+reason)
		c.sendHelloFailed(reason)
		c.handler.OnNegotiationFailed(c, reason)
		return &HelloFailedError{Code: 0, Reason: reason}
	}

	c.mu.Lock()
	c.negotiatedVersion = negotiated
	c.state = StateEstablished
	c.mu.Unlock()
	if c.backoff != nil {
		c.backoff.Reset()
	}
	c.journal.Record(LogLevelInfo, "established")
	c.handler.OnEstablished(c, negotiated)
	return nil
}

func (c *Conn) sendHelloFailed(reason string) {
	if c.netConn == nil {
		return
	}
	reason = ofmsg.TruncateHelloReason(reason)
	errMsg := c.codec.NewError(0, 0, []byte(reason))
	body, err := c.codec.Encode(uint8(c.cfg.supported.Versions()[0]), errMsg)
	if err != nil {
		return
	}
	body, err = compressBody(c.cfg.compression, body)
	if err != nil {
		return
	}
	fr, err := EncodeFrame(uint8(0), errMsg.Type(), 0, body, c.cfg.maxFrameSize)
	if err != nil {
		return
	}
	_ = c.writeFrame(fr, time.Now())
}

// dialLoop performs the active-side connect-with-backoff sequence of
// §4.2/§8 scenario 6. It returns true if a connection was established,
// false if the Conn was asked to close first.
func (c *Conn) dialLoop() bool {
	for {
		c.setState(StateConnecting)
		ctx, cancel := contextWithCancelCh(c.closeCh)
		nc, err := c.dial(ctx, "tcp", c.addr)
		cancel()
		if err == nil {
			if c.cfg.tlsConfig != nil {
				nc = tls.Client(nc, c.cfg.tlsConfig)
			}
			c.netConn = nc
			return true
		}
		c.journal.Record(LogLevelWarn, "dial failed: "+err.Error())
		delay := c.backoff.Next()
		c.setState(StateDisconnected)
		select {
		case <-c.closeCh:
			c.closeErr = ErrConnClosed
			return false
		case <-time.After(delay):
		}
	}
}

func (c *Conn) finish(reason error) {
	c.mu.Lock()
	c.state = StateDisconnected
	c.mu.Unlock()
	c.journal.Record(LogLevelInfo, "closed")
	c.handler.OnClosed(c, reason)
}

func randomXid() uint32 {
	var b [4]byte
	_, _ = io.ReadFull(rand.Reader, b[:])
	return binary.BigEndian.Uint32(b[:])
}

// outboxItem pairs a queued Frame with the time it was enqueued, so
// flushOutbox can report how long it waited for FrameWriteHook.
type outboxItem struct {
	fr       Frame
	queuedAt time.Time
}

// outbox is the bounded FIFO of §4.4: capacity 1024 messages or 4 MiB
// of bytes, whichever is hit first; strict FIFO order, no reordering
// even across message types.
type outbox struct {
	mu        sync.Mutex
	items     []outboxItem
	bytes     int
	maxFrames int
	maxBytes  int
}

func newOutbox(maxFrames, maxBytes int) *outbox {
	return &outbox{maxFrames: maxFrames, maxBytes: maxBytes}
}

func (o *outbox) push(fr Frame) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) >= o.maxFrames || o.bytes+len(fr.Bytes()) > o.maxBytes {
		return false
	}
	o.items = append(o.items, outboxItem{fr: fr, queuedAt: time.Now()})
	o.bytes += len(fr.Bytes())
	return true
}

func (o *outbox) pop() (outboxItem, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return outboxItem{}, false
	}
	item := o.items[0]
	o.items = o.items[1:]
	o.bytes -= len(item.fr.Bytes())
	return item, true
}
