package ofcore

import (
	"crypto/tls"
	"time"
)

// Defaults per §6.3.
const (
	DefaultCtlListenPort = 6633 // controller-facing, IANA OpenFlow
	DefaultDptListenPort = 6653 // datapath-facing, IANA OpenFlow
	DefaultBacklog       = 10

	DefaultEchoInterval = 5 * time.Second
	DefaultEchoTimeout  = 5 * time.Second

	DefaultReconnectInitial = 1 * time.Second
	DefaultReconnectMax     = 120 * time.Second

	DefaultFeatureReplyTimeout   = 10 * time.Second
	DefaultGetConfigReplyTimeout = 10 * time.Second
	DefaultBarrierReplyTimeout   = 10 * time.Second
)

// Compression selects an optional transparent compressor for frame
// bodies, for use by bursty async events (e.g. PACKET_IN floods). The
// wire format itself (§6.2) is unaware of compression; Conn applies it
// (compressBody) before framing and removes it (decompressBody) after
// deframing.
type Compression int8

const (
	// CompressionNone sends frame bodies as-is.
	CompressionNone Compression = iota
	// CompressionZstd compresses bodies with klaupost/compress's zstd.
	CompressionZstd
	// CompressionSnappy compresses bodies with golang/snappy.
	CompressionSnappy
	// CompressionLZ4 compresses bodies with pierrec/lz4.
	CompressionLZ4
)

// cfg holds every tunable of a Core/Conn, built from a chain of Opts
// applied atop defaultCfg(), mirroring the teacher's own functional-
// options cfg struct.
type cfg struct {
	logger Logger
	hooks  hooks

	supported VersionBitmap

	echoInterval time.Duration
	echoTimeout  time.Duration

	reconnectInitial time.Duration
	reconnectMax     time.Duration

	featureReplyTimeout   time.Duration
	getConfigReplyTimeout time.Duration
	barrierReplyTimeout   time.Duration

	maxFrameSize int
	outboxLimit  int // messages
	outboxBytes  int // bytes

	compression Compression

	roleDefaults func(Role) AsyncConfig

	tlsConfig *tls.Config
}

func defaultCfg() cfg {
	return cfg{
		logger:                nopLogger{},
		supported:             NewVersionBitmap(1, 2, 3, 4, 5, 6),
		echoInterval:          DefaultEchoInterval,
		echoTimeout:           DefaultEchoTimeout,
		reconnectInitial:      DefaultReconnectInitial,
		reconnectMax:          DefaultReconnectMax,
		featureReplyTimeout:   DefaultFeatureReplyTimeout,
		getConfigReplyTimeout: DefaultGetConfigReplyTimeout,
		barrierReplyTimeout:   DefaultBarrierReplyTimeout,
		maxFrameSize:          DefaultMaxFrameSize,
		outboxLimit:           1024,
		outboxBytes:           4 << 20,
		compression:           CompressionNone,
		roleDefaults:          RoleDefaultAsyncConfig,
	}
}

// Opt configures a Core. Options are applied in order over defaultCfg().
type Opt interface {
	apply(*cfg)
}

type opt func(*cfg)

func (o opt) apply(c *cfg) { o(c) }

// WithLogger sets the Logger every component logs through.
func WithLogger(l Logger) Opt {
	return opt(func(c *cfg) { c.logger = l })
}

// WithHooks registers observability hooks (§9 replaces virtual
// overrides with a capability interface; hooks are the same pattern
// applied to cross-cutting observability).
func WithHooks(hs ...Hook) Opt {
	return opt(func(c *cfg) { c.hooks = append(c.hooks, hs...) })
}

// WithVersionBitmap overrides the locally supported VersionBitmap
// advertised in HELLO. Defaults to every version in [MinVersion,
// MaxVersion].
func WithVersionBitmap(v VersionBitmap) Opt {
	return opt(func(c *cfg) { c.supported = v })
}

// WithEchoInterval overrides the §6.3 default idle interval between
// ECHO_REQUESTs.
func WithEchoInterval(d time.Duration) Opt {
	return opt(func(c *cfg) { c.echoInterval = d })
}

// WithEchoTimeout overrides the §6.3 default deadline for an
// ECHO_REPLY.
func WithEchoTimeout(d time.Duration) Opt {
	return opt(func(c *cfg) { c.echoTimeout = d })
}

// WithReconnectBackoff overrides the active-side reconnection backoff
// bounds (§4.2, §6.3: 1s initial, doubling to 120s cap).
func WithReconnectBackoff(initial, max time.Duration) Opt {
	return opt(func(c *cfg) { c.reconnectInitial = initial; c.reconnectMax = max })
}

// WithMaxFrameSize overrides the §6.2 default maximum frame length of
// 65535.
func WithMaxFrameSize(n int) Opt {
	return opt(func(c *cfg) { c.maxFrameSize = n })
}

// WithOutboundQueueLimit overrides the §4.4 default outbound queue
// bounds (1024 messages or 4 MiB, whichever first).
func WithOutboundQueueLimit(messages, bytes int) Opt {
	return opt(func(c *cfg) { c.outboxLimit = messages; c.outboxBytes = bytes })
}

// WithFrameCompression selects a transparent body compressor.
func WithFrameCompression(c Compression) Opt {
	return opt(func(cf *cfg) { cf.compression = c })
}

// WithRoleDefaults overrides the role-default async-config template
// function invoked on every role change (§4.5).
func WithRoleDefaults(fn func(Role) AsyncConfig) Opt {
	return opt(func(c *cfg) { c.roleDefaults = fn })
}

// WithTLSConfig arranges for every accepted and dialed socket to be
// wrapped in TLS using tlsConfig (server side via tls.Server on accept,
// client side via tls.Client on dial), per §10.6's deployment-mode
// note for a control-plane socket.
func WithTLSConfig(tlsConfig *tls.Config) Opt {
	return opt(func(c *cfg) { c.tlsConfig = tlsConfig })
}
