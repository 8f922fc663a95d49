package ofcore

// AsyncConfig is the per-Endpoint filter controlling which async events
// (PACKET_IN, FLOW_REMOVED, PORT_STATUS) a controller-side Endpoint
// receives, mirroring the role-indexed mask fields rofl-common's
// cofctrl keeps for OFPT_SET_ASYNC (§10.7). Each mask is a bitset of
// codec-defined reason codes; the core does not interpret the bits
// beyond testing membership.
type AsyncConfig struct {
	PacketInMask    uint32
	PortStatusMask  uint32
	FlowRemovedMask uint32
}

// Permits reports whether reason is set in mask.
func (a AsyncConfig) permits(mask uint32, reason uint8) bool {
	if reason > 31 {
		return false
	}
	return mask&(1<<reason) != 0
}

// PermitsPacketIn reports whether this config allows a PACKET_IN with
// the given reason code through.
func (a AsyncConfig) PermitsPacketIn(reason uint8) bool { return a.permits(a.PacketInMask, reason) }

// PermitsPortStatus reports whether this config allows a PORT_STATUS
// with the given reason code through.
func (a AsyncConfig) PermitsPortStatus(reason uint8) bool { return a.permits(a.PortStatusMask, reason) }

// PermitsFlowRemoved reports whether this config allows a FLOW_REMOVED
// with the given reason code through.
func (a AsyncConfig) PermitsFlowRemoved(reason uint8) bool {
	return a.permits(a.FlowRemovedMask, reason)
}

// allReasons is a mask with every reason code in [0,31] set, used by
// the MASTER/EQUAL default template below.
const allReasons uint32 = 0xFFFFFFFF

// RoleDefaultAsyncConfig is the default role-default template function
// (§4.5: "the defaults are configurable externally; within the core,
// this is merely applying whatever template the role-default function
// returns"). MASTER and EQUAL receive every async event; SLAVE receives
// none, matching the common convention that a read-only controller
// does not need unsolicited forwarding-plane chatter.
func RoleDefaultAsyncConfig(role Role) AsyncConfig {
	switch role {
	case RoleSlave:
		return AsyncConfig{}
	default:
		return AsyncConfig{
			PacketInMask:    allReasons,
			PortStatusMask:  allReasons,
			FlowRemovedMask: allReasons,
		}
	}
}
