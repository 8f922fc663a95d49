// Package ofmsg defines the contract (§6.1 of the control-protocol
// spec) between the connection/dispatch core in package ofcore and a
// concrete message codec. It deliberately stops short of defining any
// wire encoding for a message body: that is left to whatever codec the
// application supplies, the way ofcore's own Core never inspects a
// message body beyond the 8-byte frame header.
package ofmsg

// Message is any decoded, typed protocol message. Type must match the
// type byte the codec used (or will use) for this message on the wire.
type Message interface {
	Type() uint8
}

// Codec is the collaborator ofcore.Conn uses to turn typed messages
// into frame bodies and back (§6.1: "encode(typed_msg) → bytes" /
// "decode(version, type, bytes) → typed_msg | PARSE_ERROR").
type Codec interface {
	// Encode serializes msg's body for the given negotiated version.
	// The frame header (version/type/length/xid) is added by ofcore,
	// not by the codec.
	Encode(version uint8, msg Message) ([]byte, error)

	// Decode parses a frame body into a typed Message. typ and version
	// come from the frame header. A malformed body should be reported
	// as an error satisfying errors.Is(err, ErrParse).
	Decode(version uint8, typ uint8, body []byte) (Message, error)
}

// Hello is the marker interface a codec's HELLO message must satisfy so
// ofcore.Conn can drive version negotiation (§4.2) without knowing the
// concrete wire layout of hello elements.
type Hello interface {
	Message
	// Versions returns the sender's advertised VersionBitmap, or ok=false
	// if the peer used the older bitmap-less HELLO format, in which case
	// ofcore falls back to the frame header's version byte (§4.2).
	Versions() (versions []int, ok bool)
}

// EchoRequest is the marker interface for ECHO_REQUEST; its body is
// opaque bytes the peer must echo verbatim (§4.2). ECHO traffic never
// reaches user callbacks.
type EchoRequest interface {
	Message
	Data() []byte
}

// EchoReply is the marker interface for ECHO_REPLY.
type EchoReply interface {
	Message
	Data() []byte
}

// FeaturesReply is the marker interface a codec's feature-exchange
// reply must satisfy so ofcore can learn a datapath-role Conn's dpid
// and, for a connection other than the first, which auxiliary id it is
// aggregating under (§4.2, §4.5).
type FeaturesReply interface {
	Message
	DatapathID() uint64
	// AuxiliaryID returns 0 for a main connection, or the auxiliary
	// connection id (1-255) a datapath is asking to be aggregated under
	// an already-established main connection's Endpoint.
	AuxiliaryID() uint8
}

// RoleRequest is the marker interface for a controller's ROLE_REQUEST
// (§4.5).
type RoleRequest interface {
	Message
	RequestedRole() int8 // 0=EQUAL,1=MASTER,2=SLAVE,3=NOCHANGE; see ofcore.Role
	GenerationID() uint64
}

// ModifyingRequest is the marker interface any message that mutates
// forwarding state (FLOW_MOD, GROUP_MOD, PORT_MOD, TABLE_MOD, ...) must
// satisfy so ofcore can enforce the slave-role policy of §4.5/§6.4
// without knowing which concrete type each one is. Modifying always
// returns true; it exists to distinguish this interface from Message
// itself; a read-only request (a stats/get/barrier request) simply
// should not implement it.
type ModifyingRequest interface {
	Message
	Modifying() bool
}

// HelloFactory is implemented by a Codec that can build its own HELLO
// messages, so ofcore.Conn can drive the §4.2 handshake without any
// wire-level knowledge of hello elements.
type HelloFactory interface {
	// NewHello builds a HELLO advertising versions, tagged with
	// headerVersion as its header version byte (used verbatim by peers
	// speaking the older bitmap-less format).
	NewHello(versions []int, headerVersion uint8) Message
}

// EchoFactory is implemented by a Codec that can build ECHO_REQUEST and
// ECHO_REPLY messages for the §4.2 liveness probe.
type EchoFactory interface {
	NewEchoRequest(data []byte) Message
	NewEchoReply(data []byte) Message
}

// GetConfigReply is the marker interface for a datapath's reply to
// GET_CONFIG_REQUEST, consulted only to advance the §10.7 bring-up
// sequence; ofcore does not inspect its fields.
type GetConfigReply interface {
	Message
}

// TableStatsReply is the marker interface for a datapath's reply to
// TABLE_STATS_REQUEST, the final step of the §10.7 bring-up sequence.
type TableStatsReply interface {
	Message
}

// FeaturesRequestFactory is implemented by a Codec that can build the
// FEATURES_REQUEST ofcore sends immediately after HELLO to learn a
// newly connected datapath's dpid (§10.7). A Codec that omits this
// interface opts the bring-up sequencer out of this stage entirely.
type FeaturesRequestFactory interface {
	NewFeaturesRequest() Message
}

// GetConfigRequestFactory is implemented by a Codec that can build the
// GET_CONFIG_REQUEST bring-up sequence's second stage (§10.7).
type GetConfigRequestFactory interface {
	NewGetConfigRequest() Message
}

// TableStatsRequestFactory is implemented by a Codec that can build the
// TABLE_STATS_REQUEST bring-up sequence's third stage (§10.7).
type TableStatsRequestFactory interface {
	NewTableStatsRequest() Message
}

// RoleReplyFactory is implemented by a Codec that can build a
// ROLE_REPLY echoing back the role and generation id ofcore has just
// accepted for a ROLE_REQUEST (§4.5). A Codec that omits this interface
// still has the request applied to Endpoint state; it is simply
// responsible for replying to the peer itself.
type RoleReplyFactory interface {
	NewRoleReply(role int8, generationID uint64) Message
}

// HandshakeCodec is the full contract ofcore.Conn requires: message
// round-tripping plus the three families of messages the core must be
// able to construct itself (HELLO, ECHO, ERROR) to drive handshake,
// liveness, and the §6.4 wire-error cases without depending on any
// codec-specific message type.
type HandshakeCodec interface {
	Codec
	HelloFactory
	EchoFactory
	ErrorFactory
}
