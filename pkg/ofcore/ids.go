package ofcore

import "sync/atomic"

// ConnId identifies a connection within an Endpoint. 0 is the main
// connection; 1..255 are auxiliary connections, permitted only after
// the main connection's handshake completes (§3).
type ConnId uint8

// MainConnId is the reserved ConnId of every Endpoint's main connection.
const MainConnId ConnId = 0

// DpId is the 64-bit identifier a datapath reports during feature
// exchange (§3). The core does not interpret it beyond using it as a
// map key.
type DpId uint64

// CtlId is a locally generated, monotonically increasing 64-bit
// identifier assigned to each controller-side Endpoint (§3).
type CtlId uint64

// ctlIDGen hands out monotonically increasing CtlIds for newly accepted
// controller connections. One generator lives on each Core, matching
// the "locally generated, monotonically increasing" contract without
// needing a global registry of Cores (§9: no global mutable core
// registry).
type ctlIDGen struct{ next uint64 }

func (g *ctlIDGen) next_() CtlId {
	return CtlId(atomic.AddUint64(&g.next, 1))
}

// Role is a controller-side Endpoint's role with respect to a Dpt, as
// requested via ROLE_REQUEST (§4.5).
type Role int8

const (
	// RoleEqual is the default role: both reads and writes are
	// permitted, and no other controller is implicitly demoted.
	RoleEqual Role = iota
	// RoleMaster grants write access; accepting a MASTER role demotes
	// any other MASTER on the same Dpt to SLAVE.
	RoleMaster
	// RoleSlave restricts the controller to reads; modifying requests
	// are rejected with BAD_REQUEST/IS_SLAVE.
	RoleSlave
	// RoleNoChange requests that the Endpoint's role be left unchanged;
	// it is never stored, only interpreted at request time.
	RoleNoChange
)

func (r Role) String() string {
	switch r {
	case RoleMaster:
		return "MASTER"
	case RoleSlave:
		return "SLAVE"
	case RoleNoChange:
		return "NOCHANGE"
	default:
		return "EQUAL"
	}
}
