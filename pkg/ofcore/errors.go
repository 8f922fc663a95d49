package ofcore

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the core. Callers should compare with
// errors.Is rather than equality, since some are wrapped with context
// before being returned.
var (
	// ErrMalformedFrame is returned when a frame's declared length is
	// below the 8-byte header size. A declared length above the maximum
	// is reported as ErrFrameTooLarge instead.
	ErrMalformedFrame = errors.New("ofcore: malformed frame")

	// ErrFrameTooLarge is returned when a frame's declared length
	// exceeds the configured maximum.
	ErrFrameTooLarge = errors.New("ofcore: frame exceeds maximum length")

	// ErrNegotiationFailed is returned internally when a HELLO exchange
	// yields an empty version intersection. Callers observe this
	// through OnNegotiationFailed, not as a return value.
	ErrNegotiationFailed = errors.New("ofcore: version negotiation failed")

	// ErrCongested is returned by Conn.Send when the outbound queue is
	// full.
	ErrCongested = errors.New("ofcore: outbound queue congested")

	// ErrNotEstablished is returned by Conn.Send when the connection is
	// not ESTABLISHED: before its HELLO handshake completes, and after it
	// has moved on to CLOSING or DISCONNECTED.
	ErrNotEstablished = errors.New("ofcore: connection not established")

	// ErrConnClosed is the reason reported when a Conn goes away: an echo
	// timeout, a Close that interrupts an active-side dial, a bring-up
	// timeout, and the flush of transactions owned by a closed Conn.
	ErrConnClosed = errors.New("ofcore: connection closed")

	// ErrNoSuchConn is returned by Endpoint.Send when the requested
	// ConnId is not present.
	ErrNoSuchConn = errors.New("ofcore: no such connection id")

	// ErrNotConnected is returned by async fan-out operations when no
	// eligible Endpoint is established.
	ErrNotConnected = errors.New("ofcore: no endpoint connected")

	// ErrBusy is returned by TransactionStore.Register when the xid is
	// already in flight.
	ErrBusy = errors.New("ofcore: transaction id already in use")

	// ErrStaleGeneration is returned when a ROLE_REQUEST's generation id
	// is stale relative to the last accepted one.
	ErrStaleGeneration = errors.New("ofcore: stale generation id")
)

// HelloFailedError carries the detail of a failed version negotiation,
// matching the wire ERROR/HELLO_FAILED contract of §6.4.
type HelloFailedError struct {
	// Code is EPERM or INCOMPATIBLE in the codec's numbering; the core
	// does not interpret it beyond forwarding it to the wire error.
	Code int
	// Reason is an ASCII, human-readable explanation no longer than 255
	// bytes; Conn.sendHelloFailed truncates longer reasons with
	// ofmsg.TruncateHelloReason before they go on the wire.
	Reason string
}

func (e *HelloFailedError) Error() string {
	return fmt.Sprintf("ofcore: hello failed (code %d): %s", e.Code, e.Reason)
}

func (e *HelloFailedError) Is(target error) bool {
	return target == ErrNegotiationFailed
}

// RoleRequestFailedError carries the detail of a rejected ROLE_REQUEST.
type RoleRequestFailedError struct {
	Code   int
	Reason string
}

func (e *RoleRequestFailedError) Error() string {
	return fmt.Sprintf("ofcore: role request failed (code %d): %s", e.Code, e.Reason)
}

func (e *RoleRequestFailedError) Is(target error) bool {
	return target == ErrStaleGeneration
}
