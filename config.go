//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/dnsoverstream's dialer construction
// pattern (small, explicit config structs with New* constructors), applied
// to the wire-protocol connection parameters of spec §3.
//

package pgwire

import (
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log/slog"
	"time"
)

// SSLMode selects the TLS negotiation policy for a TCP endpoint, per the
// table in spec §6. It has no effect on a Unix-domain endpoint.
type SSLMode int

const (
	// SSLModeDisable never attempts SSLRequest; the connection stays plaintext.
	SSLModeDisable SSLMode = iota

	// SSLModeRequire upgrades to TLS but verifies neither the certificate
	// chain nor the hostname.
	SSLModeRequire

	// SSLModeVerifyCA upgrades to TLS and verifies the certificate chain,
	// but not the hostname.
	SSLModeVerifyCA

	// SSLModeVerifyFull upgrades to TLS and verifies both the certificate
	// chain and the hostname.
	SSLModeVerifyFull
)

// PasswordProvider supplies the password to use for cleartext or SCRAM
// authentication. Kept as a function type rather than a bare string so
// callers can fetch credentials lazily (e.g. from a secret manager) without
// this package ever persisting them beyond a single auth attempt.
type PasswordProvider func() (string, error)

// ChunkingPolicy controls the adaptive chunk-sizing behavior of the
// streaming pipeline (spec §4.6).
type ChunkingPolicy struct {
	// Initial is the chunk size used for the first chunk of a query.
	Initial int

	// Min is the lower bound enforced by adaptive sizing.
	Min int

	// Max is the upper bound enforced by adaptive sizing.
	Max int

	// Disabled turns off adaptive resizing: Initial is used for every chunk.
	Disabled bool
}

// DefaultChunkingPolicy returns the policy used when a [ConnectionConfig]
// leaves Chunking at its zero value.
func DefaultChunkingPolicy() ChunkingPolicy {
	return ChunkingPolicy{Initial: 256, Min: 16, Max: 4096}
}

// ConnectionConfig is an immutable bag of connection parameters (spec §3).
// Construct with [NewConnectionConfig] or [LoadConfig]; do not mutate a
// config that has already been passed to [Connect].
type ConnectionConfig struct {
	// Host is a hostname/IP for a TCP endpoint, or empty for a Unix socket.
	Host string

	// SocketPath is the Unix-domain socket path. Mutually exclusive with Host.
	SocketPath string

	// Port is the TCP port. Ignored for Unix endpoints.
	Port int

	// Database is the target database name.
	Database string

	// User is the startup username.
	User string

	// Password supplies credentials for cleartext/SCRAM auth, or nil.
	Password PasswordProvider

	// ApplicationName is reported in StartupMessage's application_name.
	ApplicationName string

	// SSLMode selects the TLS negotiation policy (spec §6). Ignored for
	// Unix endpoints.
	SSLMode SSLMode

	// ClientCert, when set, is presented for mTLS.
	ClientCert *tls.Certificate

	// ConnectTimeout bounds the TCP handshake, TLS handshake, and startup
	// sequence combined (spec §5).
	ConnectTimeout time.Duration

	// Keepalive is the TCP keepalive interval, passed to
	// [net.Dialer.KeepAlive]: zero selects the Go default interval and a
	// negative value disables keep-alive probes.
	Keepalive time.Duration

	// ChannelDepth is the bounded channel capacity of the streaming
	// pipeline (spec §4.6). Zero selects the default of 4.
	ChannelDepth int

	// Chunking controls adaptive chunk sizing (spec §4.6). The zero value
	// selects [DefaultChunkingPolicy].
	Chunking ChunkingPolicy

	// DecodeErrorFatal controls whether a [KindDecode] error on a single
	// row terminates the stream (the default, true). When false, the row
	// is delivered as a nil [Value] and the stream continues; the decode
	// error itself is not reported to the consumer.
	DecodeErrorFatal bool

	// Decoder decodes a DataRow's raw column bytes into a [Value]. Nil
	// selects [DefaultDecoder].
	Decoder Decoder

	// Metrics receives pipeline counters (spec §6). Nil selects a no-op sink.
	Metrics MetricsSink

	// Logger receives structured, credential-free diagnostic events. Nil
	// disables logging.
	Logger *slog.Logger

	// caPool overrides the system root pool; set via sslrootcert handling.
	caPool *x509.CertPool
}

// NewConnectionConfig returns a [*ConnectionConfig] with every optional
// field at its documented default.
func NewConnectionConfig(user, database string) *ConnectionConfig {
	return &ConnectionConfig{
		User:             user,
		Database:         database,
		SSLMode:          SSLModeDisable,
		ConnectTimeout:   30 * time.Second,
		ChannelDepth:     4,
		Chunking:         DefaultChunkingPolicy(),
		DecodeErrorFatal: true,
	}
}

// WithTCP sets the TCP endpoint and returns cfg for chaining.
func (cfg *ConnectionConfig) WithTCP(host string, port int) *ConnectionConfig {
	cfg.Host, cfg.Port, cfg.SocketPath = host, port, ""
	return cfg
}

// WithUnixSocket sets the Unix-domain endpoint and returns cfg for chaining.
func (cfg *ConnectionConfig) WithUnixSocket(path string) *ConnectionConfig {
	cfg.SocketPath, cfg.Host = path, ""
	return cfg
}

// WithCARoots overrides the TLS root pool used to verify the server
// certificate, implementing the sslrootcert option (spec §6).
func (cfg *ConnectionConfig) WithCARoots(pool *x509.CertPool) *ConnectionConfig {
	cfg.caPool = pool
	return cfg
}

// isUnix reports whether cfg targets a Unix-domain endpoint.
func (cfg *ConnectionConfig) isUnix() bool {
	return cfg.SocketPath != ""
}

// dialTarget returns the (network, address) pair to pass to a
// [net.Dialer.DialContext] call for cfg's endpoint.
func (cfg *ConnectionConfig) dialTarget() (network, address string) {
	if cfg.isUnix() {
		return "unix", cfg.SocketPath
	}
	return "tcp", fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
}

// effectiveSSLMode returns the SSL mode actually in force: always Disable
// for a Unix endpoint, per spec §4.3's "ignores ssl-mode entirely".
func (cfg *ConnectionConfig) effectiveSSLMode() SSLMode {
	if cfg.isUnix() {
		return SSLModeDisable
	}
	return cfg.SSLMode
}

// chunkingPolicy returns cfg.Chunking, or [DefaultChunkingPolicy] if unset.
func (cfg *ConnectionConfig) chunkingPolicy() ChunkingPolicy {
	if cfg.Chunking.Initial == 0 {
		return DefaultChunkingPolicy()
	}
	return cfg.Chunking
}

// channelDepth returns cfg.ChannelDepth, or 4 if unset.
func (cfg *ConnectionConfig) channelDepth() int {
	if cfg.ChannelDepth <= 0 {
		return 4
	}
	return cfg.ChannelDepth
}

// logger returns cfg.Logger or a disabled logger, so call sites never need
// a nil check.
func (cfg *ConnectionConfig) logger() *slog.Logger {
	if cfg.Logger != nil {
		return cfg.Logger
	}
	return slog.New(slog.DiscardHandler)
}

// metrics returns cfg.Metrics or a no-op sink.
func (cfg *ConnectionConfig) metrics() MetricsSink {
	if cfg.Metrics != nil {
		return cfg.Metrics
	}
	return noopMetricsSink{}
}

// decoder returns cfg.Decoder or [DefaultDecoder].
func (cfg *ConnectionConfig) decoder() Decoder {
	if cfg.Decoder != nil {
		return cfg.Decoder
	}
	return DefaultDecoder
}
