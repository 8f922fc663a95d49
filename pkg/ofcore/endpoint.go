package ofcore

import (
	"fmt"
	"sync"
	"time"

	"github.com/ofnet/ofcore/pkg/ofmsg"
)

// EndpointKind distinguishes a Dpt (the core hosting the controller
// role sees a connected switch this way) from a Ctl (the core hosting
// the datapath role sees a connected controller this way), per §4.5.
type EndpointKind uint8

const (
	// EndpointDpt represents a connected switch. Identity = dpid.
	EndpointDpt EndpointKind = iota
	// EndpointCtl represents a connected controller. Identity = ctlid.
	EndpointCtl
)

// Endpoint aggregates the main and auxiliary Conns of one peer (§3,
// §4.5).
type Endpoint struct {
	kind  EndpointKind
	dpID  DpId
	ctlID CtlId

	mu                sync.RWMutex
	conns             map[ConnId]*Conn
	negotiatedVersion int
	role              Role
	roleInitialized   bool
	cachedGenerationID uint64
	asyncConfig       AsyncConfig
	torndown          bool

	txns    *TransactionStore
	journal *Journal

	roleDefaults func(Role) AsyncConfig
}

func newEndpoint(kind EndpointKind, roleDefaults func(Role) AsyncConfig, logger Logger) *Endpoint {
	if roleDefaults == nil {
		roleDefaults = RoleDefaultAsyncConfig
	}
	return &Endpoint{
		kind:              kind,
		conns:             make(map[ConnId]*Conn),
		negotiatedVersion: -1,
		role:              RoleEqual,
		asyncConfig:       roleDefaults(RoleEqual),
		txns:              NewTransactionStore(),
		journal:           NewJournal(0, logger),
		roleDefaults:      roleDefaults,
	}
}

// Kind reports whether this Endpoint represents a Dpt or a Ctl.
func (e *Endpoint) Kind() EndpointKind { return e.kind }

// DpID returns the datapath identity this Endpoint represents. Only
// meaningful for EndpointDpt.
func (e *Endpoint) DpID() DpId { return e.dpID }

// CtlID returns the controller identity this Endpoint represents. Only
// meaningful for EndpointCtl.
func (e *Endpoint) CtlID() CtlId { return e.ctlID }

// Transactions returns this Endpoint's shared transaction store (§4.3).
func (e *Endpoint) Transactions() *TransactionStore { return e.txns }

// Journal returns this Endpoint's bounded transition log (§7).
func (e *Endpoint) Journal() *Journal { return e.journal }

// IsEstablished reports whether the main connection (id 0) is
// ESTABLISHED (§4.5).
func (e *Endpoint) IsEstablished() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	main, ok := e.conns[MainConnId]
	return ok && main.State() == StateEstablished
}

// Role returns this Endpoint's current controller role. Meaningless for
// EndpointDpt.
func (e *Endpoint) Role() Role {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.role
}

// AsyncConfig returns this Endpoint's current async-event filter.
func (e *Endpoint) AsyncConfig() AsyncConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.asyncConfig
}

// AddConn places conn under its assigned ConnId. The first conn added
// must carry ConnId 0 and transitions the Endpoint to usable; later
// conns must already share this Endpoint's negotiated version (§4.5).
func (e *Endpoint) AddConn(conn *Conn) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	id := conn.ConnID()
	if len(e.conns) == 0 && id != MainConnId {
		return fmt.Errorf("ofcore: first conn added to endpoint must be the main connection (id 0), got %d", id)
	}
	if len(e.conns) > 0 {
		if conn.NegotiatedVersion() != e.negotiatedVersion {
			return fmt.Errorf("ofcore: auxiliary conn version %d does not match endpoint version %d", conn.NegotiatedVersion(), e.negotiatedVersion)
		}
	} else {
		e.negotiatedVersion = conn.NegotiatedVersion()
	}
	if _, exists := e.conns[id]; exists {
		return fmt.Errorf("ofcore: conn id %d already present on endpoint", id)
	}
	e.conns[id] = conn
	e.journal.Record(LogLevelInfo, fmt.Sprintf("conn %d added", id))
	return nil
}

// RemoveConn drops connID. If it is the main connection, the whole
// Endpoint enters tear-down and every remaining auxiliary conn is
// closed (§4.5). It returns every transaction that connID owned in
// this Endpoint's transaction store, so the caller can surface the
// §5/§7 CONNECTION_CLOSED signal for each one; an empty connID slot
// simply has none.
func (e *Endpoint) RemoveConn(connID ConnId) []*Transaction {
	e.mu.Lock()
	if _, ok := e.conns[connID]; !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.conns, connID)
	evicted := e.txns.EvictConn(connID)
	var toClose []*Conn
	if connID == MainConnId {
		e.torndown = true
		for id, c := range e.conns {
			toClose = append(toClose, c)
			delete(e.conns, id)
		}
	}
	e.mu.Unlock()

	e.journal.Record(LogLevelInfo, fmt.Sprintf("conn %d removed", connID))
	for _, c := range toClose {
		c.Close()
	}
	return evicted
}

// IsTornDown reports whether the main connection has been removed.
func (e *Endpoint) IsTornDown() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.torndown
}

// Send dispatches msg on the named connection. ConnId 0 is always
// valid if present; any other id must already be enrolled, else
// ErrNoSuchConn (§4.5).
func (e *Endpoint) Send(connID ConnId, xid uint32, msg ofmsg.Message) error {
	e.mu.RLock()
	conn, ok := e.conns[connID]
	e.mu.RUnlock()
	if !ok {
		return ErrNoSuchConn
	}
	return conn.Send(xid, msg)
}

// SendRequest registers xid in this Endpoint's transaction store and
// sends msg on connID, so a reply arriving on any of the Endpoint's
// conns can later be matched via the transaction store's Match (§4.3).
func (e *Endpoint) SendRequest(connID ConnId, xid uint32, typ uint8, deadline time.Time, msg ofmsg.Message) error {
	if err := e.txns.Register(xid, typ, connID, deadline); err != nil {
		return err
	}
	if err := e.Send(connID, xid, msg); err != nil {
		e.txns.Match(xid, typ) // undo registration
		return err
	}
	return nil
}

// SendPacketIn delivers a PACKET_IN-shaped async event to this
// Endpoint's peer, subject to its async-config filter (§4.5). Only
// meaningful on an EndpointCtl (the local side plays the datapath role
// and is notifying one attached controller). A reason the Endpoint's
// current role does not permit is silently dropped, matching the
// "subject to async-config" wording rather than erroring.
func (e *Endpoint) SendPacketIn(reason uint8, xid uint32, msg ofmsg.Message) error {
	if !e.IsEstablished() || !e.AsyncConfig().PermitsPacketIn(reason) {
		return nil
	}
	return e.Send(MainConnId, xid, msg)
}

// SendFlowRemoved delivers a FLOW_REMOVED-shaped async event, subject to
// this Endpoint's async-config filter (§4.5).
func (e *Endpoint) SendFlowRemoved(reason uint8, xid uint32, msg ofmsg.Message) error {
	if !e.IsEstablished() || !e.AsyncConfig().PermitsFlowRemoved(reason) {
		return nil
	}
	return e.Send(MainConnId, xid, msg)
}

// SendPortStatus delivers a PORT_STATUS-shaped async event, subject to
// this Endpoint's async-config filter (§4.5).
func (e *Endpoint) SendPortStatus(reason uint8, xid uint32, msg ofmsg.Message) error {
	if !e.IsEstablished() || !e.AsyncConfig().PermitsPortStatus(reason) {
		return nil
	}
	return e.Send(MainConnId, xid, msg)
}

// MainConn returns the Endpoint's main (ConnId 0) connection, if any.
func (e *Endpoint) MainConn() (*Conn, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.conns[MainConnId]
	return c, ok
}

// Conns returns a snapshot of every Conn currently enrolled.
func (e *Endpoint) Conns() map[ConnId]*Conn {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[ConnId]*Conn, len(e.conns))
	for k, v := range e.conns {
		out[k] = v
	}
	return out
}
