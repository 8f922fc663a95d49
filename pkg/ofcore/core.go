package ofcore

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"sync"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sys/unix"

	"github.com/ofnet/ofcore/pkg/ofmsg"
)

// CoreHandler receives the application-facing events a Core emits once
// raw Conns have been resolved into routable Endpoints (§4.6). It plays
// the same capability-interface role ConnHandler plays one layer down.
type CoreHandler interface {
	// OnDptEstablished fires once a newly connected switch's main Conn
	// has finished the §10.7 bring-up sequence and dpid is known.
	OnDptEstablished(dpt *Endpoint)
	// OnDptClosed fires when a Dpt's main Conn (and so the whole
	// Endpoint) tears down.
	OnDptClosed(dpt *Endpoint, reason error)
	// OnCtlEstablished fires once a newly connected controller's main
	// Conn completes its HELLO handshake.
	OnCtlEstablished(ctl *Endpoint)
	// OnCtlClosed fires when a Ctl's main Conn tears down.
	OnCtlClosed(ctl *Endpoint, reason error)
	// OnMessage fires for every application message arriving on an
	// established Endpoint, after role/bring-up handling, in arrival
	// order per Conn.
	OnMessage(kind EndpointKind, ep *Endpoint, connID ConnId, xid uint32, msg ofmsg.Message)
	// OnNegotiationFailed fires when a peer's HELLO yields an empty
	// version intersection, before the Conn closes.
	OnNegotiationFailed(peerAddr string, peerKind PeerKind, reason string)
}

// listenerBinding pairs a listening socket with the peer kind it
// accepts, so Core's single accept-loop implementation can serve both
// a controller-facing and a datapath-facing listener from one Core.
type listenerBinding struct {
	net.Listener
	peerKind PeerKind
}

// Core is the top-level aggregate of §4.6: it owns every Endpoint this
// process has open, dispatches newly accepted or dialed Conns to the
// right one, and is the sole authority for role arbitration, since that
// spans every Ctl-Endpoint attached to one implicit local datapath
// identity (see DESIGN.md for why arbitration is Core-global rather
// than per-Endpoint).
type Core struct {
	cfg     *cfg
	codec   ofmsg.HandshakeCodec
	handler CoreHandler

	mu   sync.RWMutex
	dpts map[DpId]*Endpoint
	ctls map[CtlId]*Endpoint

	bringupMu sync.Mutex
	bringups  map[*Conn]*dptBringupSequencer

	ctlGen ctlIDGen

	listenersMu sync.Mutex
	listeners   []*listenerBinding

	dispatcher *Dispatcher

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewCore builds a Core around codec, delivering application events to
// handler. opts configure every Conn and Endpoint the Core creates.
func NewCore(codec ofmsg.HandshakeCodec, handler CoreHandler, opts ...Opt) *Core {
	c := defaultCfg()
	for _, o := range opts {
		o.apply(&c)
	}
	core := &Core{
		cfg:      &c,
		codec:    codec,
		handler:  handler,
		dpts:     make(map[DpId]*Endpoint),
		ctls:     make(map[CtlId]*Endpoint),
		bringups: make(map[*Conn]*dptBringupSequencer),
		closeCh:  make(chan struct{}),
	}
	core.dispatcher = newDispatcher(time.Second, core.sweep)
	return core
}

// Listen opens address for peerKind connections. The returned error is
// only a bind/listen-time failure; accepting begins once Run is called.
func (core *Core) Listen(network, address string, peerKind PeerKind) error {
	lc := net.ListenConfig{Control: setListenSocketOpts}
	ln, err := lc.Listen(context.Background(), network, address)
	if err != nil {
		return fmt.Errorf("ofcore: listen: %w", err)
	}
	core.listenersMu.Lock()
	core.listeners = append(core.listeners, &listenerBinding{Listener: ln, peerKind: peerKind})
	core.listenersMu.Unlock()
	return nil
}

// Dial actively opens addr as peerKind and returns its Conn immediately;
// the handshake proceeds asynchronously and CoreHandler is notified the
// same way an accepted connection would be (§4.2 `open` contract).
func (core *Core) Dial(addr string, peerKind PeerKind) *Conn {
	h := &coreConnHandler{core: core, peerKind: peerKind}
	conn := Open(core.cfg, core.codec, h, defaultDialFunc, addr, peerKind)
	h.conn = conn
	if peerKind == PeerController {
		core.attachCtlEndpoint(h, conn)
	}
	return conn
}

func defaultDialFunc(ctx context.Context, network, addr string) (net.Conn, error) {
	var d net.Dialer
	return d.DialContext(ctx, network, addr)
}

// Run accepts on every listener registered via Listen and drives the
// Core's Dispatcher until ctx is canceled. It returns the first error
// from any supervised goroutine, per the errgroup "first error cancels
// the rest" convention (§10.6).
func (core *Core) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)

	core.listenersMu.Lock()
	bindings := append([]*listenerBinding(nil), core.listeners...)
	core.listenersMu.Unlock()

	for _, b := range bindings {
		b := b
		eg.Go(func() error { return core.acceptLoop(ctx, b) })
	}
	eg.Go(func() error { return core.dispatcher.Run(ctx) })

	return eg.Wait()
}

func (core *Core) acceptLoop(ctx context.Context, b *listenerBinding) error {
	stop := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			b.Close()
		case <-stop:
		}
	}()
	defer close(stop)

	for {
		nc, err := b.Listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			case <-core.closeCh:
				return nil
			default:
				return fmt.Errorf("ofcore: accept on %s: %w", b.Addr(), err)
			}
		}
		applyAcceptedSocketOpts(nc)
		if core.cfg.tlsConfig != nil {
			nc = tls.Server(nc, core.cfg.tlsConfig)
		}
		core.acceptConn(nc, b.peerKind)
	}
}

func (core *Core) acceptConn(nc net.Conn, peerKind PeerKind) {
	h := &coreConnHandler{core: core, peerKind: peerKind}
	conn := Accept(core.cfg, core.codec, h, nc, peerKind)
	h.conn = conn
	if peerKind == PeerController {
		core.attachCtlEndpoint(h, conn)
	}
	// PeerDatapath: identity (dpid) is unknown until the §10.7 bring-up
	// sequence completes after HELLO, so no Endpoint exists yet; see
	// coreConnHandler.OnEstablished.
}

// attachCtlEndpoint creates the Ctl-Endpoint for a newly accepted or
// dialed controller peer. Unlike a Dpt's identity, a Ctl's identity
// (ctlid) is locally assigned and needs no handshake data, so the
// Endpoint can be wired up before HELLO even starts (§4.5, §9: CtlId is
// "locally generated").
func (core *Core) attachCtlEndpoint(h *coreConnHandler, conn *Conn) {
	ep := newEndpoint(EndpointCtl, core.cfg.roleDefaults, core.cfg.logger)
	ep.ctlID = core.ctlGen.next_()
	conn.AssignConnID(MainConnId)
	if err := ep.AddConn(conn); err != nil {
		conn.Close()
		return
	}
	h.ctlEndpoint = ep

	core.mu.Lock()
	core.ctls[ep.ctlID] = ep
	core.mu.Unlock()
}

// completeDptBringup is invoked once a datapath peer's bring-up
// sequence resolves dpid (and, for an auxiliary connection, auxID>0).
// auxID==0 means h.conn is a main connection: it gets its own Endpoint,
// unless h.conn itself already completed bring-up once before (an
// active-side Conn re-establishing after a dropped socket, via the
// reconnect loop in Conn.run), in which case the existing Endpoint is
// reused rather than duplicated. auxID!=0 means h.conn is aggregating
// into an existing dpid's Endpoint as an auxiliary connection (§4.2,
// §4.5); it is rejected if no main connection for that dpid exists yet.
func (core *Core) completeDptBringup(h *coreConnHandler, dpID DpId, auxID uint8) {
	core.bringupMu.Lock()
	delete(core.bringups, h.conn)
	core.bringupMu.Unlock()

	if auxID != 0 {
		core.mu.RLock()
		ep, ok := core.dpts[dpID]
		core.mu.RUnlock()
		if !ok {
			h.conn.Journal().Record(LogLevelWarn, "auxiliary conn for unknown dpid, closing")
			h.conn.Close()
			return
		}
		h.conn.AssignConnID(ConnId(auxID))
		if err := ep.AddConn(h.conn); err != nil {
			h.conn.Journal().Record(LogLevelWarn, "auxiliary conn rejected: "+err.Error())
			h.conn.Close()
			return
		}
		h.dptEndpoint = ep
		return
	}

	if h.dptEndpoint != nil {
		// h.conn already brought up this Endpoint once; this is the
		// same Conn re-establishing, not a new switch, so there is
		// nothing to re-enroll.
		h.dptEndpoint.dpID = dpID
		core.mu.Lock()
		core.dpts[dpID] = h.dptEndpoint
		core.mu.Unlock()
		core.handler.OnDptEstablished(h.dptEndpoint)
		return
	}

	h.conn.AssignConnID(MainConnId)
	ep := newEndpoint(EndpointDpt, core.cfg.roleDefaults, core.cfg.logger)
	ep.dpID = dpID
	if err := ep.AddConn(h.conn); err != nil {
		h.conn.Close()
		return
	}
	h.dptEndpoint = ep

	core.mu.Lock()
	old, dup := core.dpts[dpID]
	core.dpts[dpID] = ep
	core.mu.Unlock()
	if dup {
		if mc, ok := old.MainConn(); ok {
			mc.Close()
		}
	}

	core.handler.OnDptEstablished(ep)
}

// applyRoleRequest implements the controller-role-arbitration half of
// §4.5: the request is applied to the requesting Endpoint, and on
// acceptance of MASTER, every other Ctl-Endpoint currently MASTER is
// demoted to SLAVE, mirroring rofl-common's cofctrl behavior where
// "only one controller may hold MASTER for a given datapath at a time."
func (core *Core) applyRoleRequest(ep *Endpoint, c *Conn, xid uint32, rr ofmsg.RoleRequest) {
	role := Role(rr.RequestedRole())
	from := ep.Role()
	newRole, err := ep.HandleRoleRequest(role, rr.GenerationID())
	if err != nil {
		core.sendRoleFailed(c, xid, err)
		return
	}
	if newRole == RoleMaster {
		core.demoteOtherMasters(ep)
	}
	core.cfg.hooks.each(func(h Hook) {
		if rc, ok := h.(RoleChangedHook); ok {
			rc.OnRoleChanged(ep.ctlID, 0, from, newRole)
		}
	})
	if rf, ok := core.codec.(ofmsg.RoleReplyFactory); ok {
		reply := rf.NewRoleReply(int8(newRole), rr.GenerationID())
		_ = c.Send(xid, reply)
	}
}

// demoteOtherMasters forces every Ctl-Endpoint other than except out of
// MASTER. It does not touch their cached generation id: they issued no
// ROLE_REQUEST of their own (§4.5).
func (core *Core) demoteOtherMasters(except *Endpoint) {
	core.mu.RLock()
	var masters []*Endpoint
	for _, ep := range core.ctls {
		if ep != except && ep.Role() == RoleMaster {
			masters = append(masters, ep)
		}
	}
	core.mu.RUnlock()
	for _, ep := range masters {
		from := ep.Role()
		ep.demoteToSlave()
		core.cfg.hooks.each(func(h Hook) {
			if rc, ok := h.(RoleChangedHook); ok {
				rc.OnRoleChanged(ep.ctlID, 0, from, RoleSlave)
			}
		})
	}
}

func (core *Core) sendRoleFailed(c *Conn, xid uint32, err error) {
	ef, ok := core.codec.(ofmsg.ErrorFactory)
	if !ok {
		return
	}
	msg := ef.NewError(ofmsg.KindRoleRequestFailed, ofmsg.CodeRoleRequestStale, nil)
	_ = c.Send(xid, msg)
}

// rejectSlaveModify enforces the §4.5/§6.4 slave-role policy: a
// modifying request from a SLAVE-role controller is rejected with
// BAD_REQUEST/IS_SLAVE, echoing the offending message's first 64 bytes
// verbatim if the codec can reproduce them.
func (core *Core) rejectSlaveModify(ep *Endpoint, c *Conn, xid uint32, msg ofmsg.Message) {
	ep.Journal().Record(LogLevelWarn, "modifying request rejected: endpoint is SLAVE")
	ef, ok := core.codec.(ofmsg.ErrorFactory)
	if !ok {
		return
	}
	var echo []byte
	if enc, err := core.codec.Encode(uint8(c.NegotiatedVersion()), msg); err == nil {
		echo = ofmsg.TruncateErrorEcho(enc)
	}
	errMsg := ef.NewError(ofmsg.KindBadRequest, ofmsg.CodeBadRequestIsSlave, echo)
	_ = c.Send(xid, errMsg)
}

// SendPacketInMessage fans a PACKET_IN-shaped async event out to every
// established Ctl-Endpoint whose async-config permits reason (§4.5
// Async fan-out). It fails with ErrNotConnected if no Ctl-Endpoint is
// currently established; a reason an established Endpoint's role does
// not permit is silently skipped for that Endpoint only, which is not
// itself a failure.
func (core *Core) SendPacketInMessage(reason uint8, msg ofmsg.Message) error {
	return core.fanOutAsync(func(ep *Endpoint) error {
		return ep.SendPacketIn(reason, randomXid(), msg)
	})
}

// SendFlowRemovedMessage is SendPacketInMessage's FLOW_REMOVED
// counterpart.
func (core *Core) SendFlowRemovedMessage(reason uint8, msg ofmsg.Message) error {
	return core.fanOutAsync(func(ep *Endpoint) error {
		return ep.SendFlowRemoved(reason, randomXid(), msg)
	})
}

// SendPortStatusMessage is SendPacketInMessage's PORT_STATUS
// counterpart.
func (core *Core) SendPortStatusMessage(reason uint8, msg ofmsg.Message) error {
	return core.fanOutAsync(func(ep *Endpoint) error {
		return ep.SendPortStatus(reason, randomXid(), msg)
	})
}

// fanOutAsync sends to every established Ctl-Endpoint via send,
// returning ErrNotConnected if none were established. Per-Endpoint send
// errors are journalled on that Endpoint rather than aborting the rest
// of the fan-out, since one congested or closing peer should not block
// delivery to the others.
func (core *Core) fanOutAsync(send func(ep *Endpoint) error) error {
	core.mu.RLock()
	eps := make([]*Endpoint, 0, len(core.ctls))
	for _, ep := range core.ctls {
		eps = append(eps, ep)
	}
	core.mu.RUnlock()

	established := 0
	for _, ep := range eps {
		if !ep.IsEstablished() {
			continue
		}
		established++
		if err := send(ep); err != nil {
			ep.Journal().Record(LogLevelWarn, "async fan-out failed: "+err.Error())
		}
	}
	if established == 0 {
		return ErrNotConnected
	}
	return nil
}

func (core *Core) sweep(now time.Time) {
	core.mu.RLock()
	eps := make([]*Endpoint, 0, len(core.dpts)+len(core.ctls))
	for _, e := range core.dpts {
		eps = append(eps, e)
	}
	for _, e := range core.ctls {
		eps = append(eps, e)
	}
	core.mu.RUnlock()

	for _, ep := range eps {
		for _, t := range ep.Transactions().Sweep(now) {
			ep.Journal().Record(LogLevelWarn, fmt.Sprintf("transaction xid=%d type=%d expired", t.Xid, t.Type))
			core.cfg.hooks.each(func(h Hook) {
				if th, ok := h.(TransactionTimeoutHook); ok {
					th.OnTransactionTimeout(t.OriginConn, t.Xid, t.Type)
				}
			})
		}
	}
}

// Dpt looks up a connected switch's Endpoint by dpid.
func (core *Core) Dpt(id DpId) (*Endpoint, bool) {
	core.mu.RLock()
	defer core.mu.RUnlock()
	ep, ok := core.dpts[id]
	return ep, ok
}

// Ctl looks up a connected controller's Endpoint by ctlid.
func (core *Core) Ctl(id CtlId) (*Endpoint, bool) {
	core.mu.RLock()
	defer core.mu.RUnlock()
	ep, ok := core.ctls[id]
	return ep, ok
}

// Dpts returns a snapshot of every connected switch's Endpoint.
func (core *Core) Dpts() []*Endpoint {
	core.mu.RLock()
	defer core.mu.RUnlock()
	out := make([]*Endpoint, 0, len(core.dpts))
	for _, ep := range core.dpts {
		out = append(out, ep)
	}
	return out
}

// Ctls returns a snapshot of every connected controller's Endpoint.
func (core *Core) Ctls() []*Endpoint {
	core.mu.RLock()
	defer core.mu.RUnlock()
	out := make([]*Endpoint, 0, len(core.ctls))
	for _, ep := range core.ctls {
		out = append(out, ep)
	}
	return out
}

// Close closes every listener, every Endpoint's conns, and stops the
// Dispatcher. It does not wait for Run's errgroup to return; callers
// that started Run should still observe it returning nil shortly after.
func (core *Core) Close() {
	core.closeOnce.Do(func() {
		close(core.closeCh)

		core.listenersMu.Lock()
		for _, b := range core.listeners {
			b.Close()
		}
		core.listenersMu.Unlock()

		core.mu.RLock()
		var conns []*Conn
		for _, ep := range core.dpts {
			for _, c := range ep.Conns() {
				conns = append(conns, c)
			}
		}
		for _, ep := range core.ctls {
			for _, c := range ep.Conns() {
				conns = append(conns, c)
			}
		}
		core.mu.RUnlock()
		for _, c := range conns {
			c.Close()
		}

		core.dispatcher.Close()
	})
}

// coreConnHandler adapts one raw Conn's ConnHandler events into Core
// routing decisions: Ctl identity is known immediately (attachCtlEndpoint
// runs before handshake even starts); Dpt identity is only known once
// the bring-up sequencer resolves dpid.
type coreConnHandler struct {
	core     *Core
	conn     *Conn
	peerKind PeerKind

	ctlEndpoint *Endpoint
	dptEndpoint *Endpoint
}

func (h *coreConnHandler) endpoint() *Endpoint {
	if h.ctlEndpoint != nil {
		return h.ctlEndpoint
	}
	return h.dptEndpoint
}

func (h *coreConnHandler) OnEstablished(c *Conn, version int) {
	h.core.cfg.hooks.each(func(hk Hook) {
		if ch, ok := hk.(ConnEstablishedHook); ok {
			ch.OnConnEstablished(c.ConnID(), c.PeerAddr(), version, 0)
		}
	})

	if h.peerKind == PeerController {
		h.core.handler.OnCtlEstablished(h.ctlEndpoint)
		return
	}

	seq := newDptBringupSequencer(c, h.core.codec, h.core.cfg.featureReplyTimeout,
		func(dpID DpId, auxID uint8) { h.core.completeDptBringup(h, dpID, auxID) },
		func(err error) {
			c.Journal().Record(LogLevelWarn, "bring-up failed: "+err.Error())
			c.Close()
		})
	h.core.bringupMu.Lock()
	h.core.bringups[c] = seq
	h.core.bringupMu.Unlock()
	seq.Start()
}

func (h *coreConnHandler) OnMessage(c *Conn, xid uint32, msg ofmsg.Message) {
	if h.peerKind == PeerDatapath && h.dptEndpoint == nil {
		h.core.bringupMu.Lock()
		seq := h.core.bringups[c]
		h.core.bringupMu.Unlock()
		if seq != nil && seq.OnMessage(msg) {
			return
		}
	}

	ep := h.endpoint()
	if ep == nil {
		return
	}

	if ep.Kind() == EndpointCtl {
		if rr, ok := msg.(ofmsg.RoleRequest); ok {
			h.core.applyRoleRequest(ep, c, xid, rr)
			return
		}
		if mr, ok := msg.(ofmsg.ModifyingRequest); ok && mr.Modifying() && ep.Role() == RoleSlave {
			h.core.rejectSlaveModify(ep, c, xid, msg)
			return
		}
	}

	h.core.handler.OnMessage(ep.Kind(), ep, c.ConnID(), xid, msg)
}

func (h *coreConnHandler) OnNegotiationFailed(c *Conn, reason string) {
	h.core.handler.OnNegotiationFailed(c.PeerAddr(), h.peerKind, reason)
}

func (h *coreConnHandler) OnClosed(c *Conn, reason error) {
	h.core.cfg.hooks.each(func(hk Hook) {
		if ch, ok := hk.(ConnClosedHook); ok {
			ch.OnConnClosed(c.ConnID(), c.PeerAddr(), reason)
		}
	})

	h.core.bringupMu.Lock()
	if seq, ok := h.core.bringups[c]; ok {
		seq.Stop()
		delete(h.core.bringups, c)
	}
	h.core.bringupMu.Unlock()

	ep := h.endpoint()
	if ep == nil {
		return
	}
	for _, t := range ep.RemoveConn(c.ConnID()) {
		h.core.cfg.hooks.each(func(hk Hook) {
			if th, ok := hk.(TransactionClosedHook); ok {
				th.OnTransactionClosed(t.OriginConn, t.Xid, t.Type, ErrConnClosed)
			}
		})
	}
	if !ep.IsTornDown() {
		return
	}

	h.core.mu.Lock()
	switch ep.Kind() {
	case EndpointDpt:
		if cur, ok := h.core.dpts[ep.DpID()]; ok && cur == ep {
			delete(h.core.dpts, ep.DpID())
		}
	case EndpointCtl:
		if cur, ok := h.core.ctls[ep.CtlID()]; ok && cur == ep {
			delete(h.core.ctls, ep.CtlID())
		}
	}
	h.core.mu.Unlock()

	switch ep.Kind() {
	case EndpointDpt:
		h.core.handler.OnDptClosed(ep, reason)
	case EndpointCtl:
		h.core.handler.OnCtlClosed(ep, reason)
	}
}

// setListenSocketOpts is a net.ListenConfig.Control callback applying
// the §6.3 listen-socket tuning (SO_REUSEADDR) via golang.org/x/sys/unix
// rather than a raw syscall package, per §10.6. The literal backlog of
// 10 named in §6.3 is not reachable through the standard net.Listen
// path without dropping to raw socket()/bind()/listen() calls; Go's
// runtime-chosen backlog is left in place instead (see DESIGN.md).
func setListenSocketOpts(_, _ string, rawConn syscall.RawConn) error {
	return rawConn.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_REUSEADDR, 1)
	})
}

// applyAcceptedSocketOpts tunes a freshly accepted TCP connection:
// TCP_NODELAY (control-protocol frames are latency-sensitive and small)
// and SO_RCVLOWAT (avoid waking the reader goroutine for less than a
// frame header's worth of bytes), per §6.3/§10.6.
func applyAcceptedSocketOpts(nc net.Conn) {
	tc, ok := nc.(*net.TCPConn)
	if !ok {
		return
	}
	_ = tc.SetNoDelay(true)
	raw, err := tc.SyscallConn()
	if err != nil {
		return
	}
	_ = raw.Control(func(fd uintptr) {
		_ = unix.SetsockoptInt(int(fd), unix.SOL_SOCKET, unix.SO_RCVLOWAT, HeaderLen)
	})
}
