package ofcore

// isStaleGeneration reports whether candidate is "behind" current under
// the §4.5 wrap-around comparison: the difference is taken in uint64
// arithmetic (which wraps the way the wire field does) and then
// reinterpreted as a signed distance, exactly as
// rofl-common's cofctrl::role_request_rcvd compares cached_generation_id
// against an incoming one.
func isStaleGeneration(current, candidate uint64) bool {
	return int64(candidate-current) < 0
}

// HandleRoleRequest applies a ROLE_REQUEST to this Endpoint (§4.5). It
// returns the role now in effect; for MASTER/SLAVE requests it also
// records generationID as the Endpoint's cached generation id. A stale
// generation id on a MASTER/SLAVE request is rejected with a
// *RoleRequestFailedError without changing e's role.
//
// This method only updates e's own bookkeeping (role, cached generation
// id, async-config). Demoting any other Endpoint that currently holds
// MASTER on the same Dpt is the caller's job, since that spans every
// Ctl-Endpoint of a Core, not just e; see Core.applyRoleRequest.
func (e *Endpoint) HandleRoleRequest(role Role, generationID uint64) (Role, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if role == RoleNoChange {
		return e.role, nil
	}
	if role == RoleMaster || role == RoleSlave {
		if e.roleInitialized && isStaleGeneration(e.cachedGenerationID, generationID) {
			return e.role, &RoleRequestFailedError{Code: 1, Reason: "stale generation id"}
		}
		e.cachedGenerationID = generationID
		e.roleInitialized = true
	}
	e.role = role
	e.asyncConfig = e.roleDefaults(role)
	return role, nil
}

// demoteToSlave forces e to SLAVE without touching its cached
// generation id, matching the "MASTER demotes any other MASTER on the
// same Dpt to SLAVE" rule (§4.5) where the demoted controller issued no
// ROLE_REQUEST of its own.
func (e *Endpoint) demoteToSlave() {
	e.mu.Lock()
	e.role = RoleSlave
	e.asyncConfig = e.roleDefaults(RoleSlave)
	e.mu.Unlock()
}
