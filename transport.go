//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/dnsoverstream tcp.go and tls.go,
// generalized from one-shot DNS exchanges to a long-lived, in-place
// upgradeable transport (spec §4.3).
//

package pgwire

import (
	"context"
	"crypto"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"net"
	"time"
)

// netDialer is typically [*net.Dialer]; kept as an interface so tests can
// substitute a stub, matching the teacher's [NetDialer] pattern.
type netDialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// transport owns either a plain TCP stream, a TLS-wrapped TCP stream, or a
// Unix-domain socket (spec §4.3). It supports in-place upgrade from plain
// TCP to TLS via [*transport.upgradeToTLS].
type transport struct {
	conn   net.Conn
	isTLS  bool
	isUnix bool
}

// dialPlain dials a plain TCP or Unix-domain connection depending on the
// endpoint kind encoded in cfg.
func dialPlain(ctx context.Context, dialer netDialer, cfg *ConnectionConfig) (*transport, error) {
	network, address := cfg.dialTarget()
	conn, err := dialer.DialContext(ctx, network, address)
	if err != nil {
		return nil, newError(KindIO, "dialing "+network, err)
	}
	return &transport{conn: conn, isUnix: network == "unix"}, nil
}

// Read implements io.Reader.
func (t *transport) Read(p []byte) (int, error) {
	n, err := t.conn.Read(p)
	if err != nil {
		err = newError(KindIO, "reading from transport", err)
	}
	return n, err
}

// Write implements io.Writer.
func (t *transport) Write(p []byte) (int, error) {
	n, err := t.conn.Write(p)
	if err != nil {
		err = newError(KindIO, "writing to transport", err)
	}
	return n, err
}

// Close closes the underlying connection unconditionally.
func (t *transport) Close() error {
	return t.conn.Close()
}

// SetDeadline sets the I/O deadline on the underlying connection.
func (t *transport) SetDeadline(deadline time.Time) error {
	return t.conn.SetDeadline(deadline)
}

// errUnixUpgradeRequested is the cause upgradeToTLS returns, wrapped as
// [KindUsage], when called on a Unix transport. negotiateTLS never makes
// that call, since ssl-mode has no effect on a Unix endpoint (spec §4.3).
var errUnixUpgradeRequested = errors.New("pgwire: upgradeToTLS called on a Unix-domain transport")

// upgradeToTLS replaces t's plain connection with a TLS-wrapped one,
// in place. Only valid on a non-TLS, non-Unix transport (spec §4.3).
func (t *transport) upgradeToTLS(ctx context.Context, tlsConfig *tls.Config) error {
	if t.isUnix {
		return newError(KindUsage, "upgrading transport to TLS", errUnixUpgradeRequested)
	}
	if t.isTLS {
		return newError(KindUsage, "upgrading transport to TLS", errors.New("already TLS"))
	}
	tlsConn := tls.Client(t.conn, tlsConfig)
	if err := tlsConn.HandshakeContext(ctx); err != nil {
		return newError(KindTLS, "TLS handshake", err)
	}
	t.conn = tlsConn
	t.isTLS = true
	return nil
}

// peerCertificate returns the leaf certificate the server presented during
// the TLS handshake, or nil if the transport is not TLS or the handshake
// has not completed. Used by the SCRAM engine to compute
// tls-server-end-point channel binding (spec §4.3, §4.5).
func (t *transport) peerCertificate() *x509.Certificate {
	tlsConn, ok := t.conn.(*tls.Conn)
	if !ok {
		return nil
	}
	state := tlsConn.ConnectionState()
	if len(state.PeerCertificates) == 0 {
		return nil
	}
	return state.PeerCertificates[0]
}

// channelBindingData computes the tls-server-end-point channel binding data
// for cert: the hash of the certificate's DER, using the hash chosen by
// [channelBindingHash] (the certificate's own signature hash for SHA-384 and
// SHA-512, SHA-256 otherwise) per RFC 5929 §4.1.
func channelBindingData(cert *x509.Certificate) []byte {
	h := channelBindingHash(cert.SignatureAlgorithm).New()
	h.Write(cert.Raw)
	return h.Sum(nil)
}

// channelBindingHash picks the hash RFC 5929 §4.1 requires: the
// certificate's own signature hash, except MD5, SHA-1, and anything this
// code doesn't recognize (including Ed25519, which has no pre-hash), where
// SHA-256 is substituted.
func channelBindingHash(alg x509.SignatureAlgorithm) crypto.Hash {
	switch alg {
	case x509.SHA384WithRSA, x509.ECDSAWithSHA384, x509.SHA384WithRSAPSS:
		return crypto.SHA384
	case x509.SHA512WithRSA, x509.ECDSAWithSHA512, x509.SHA512WithRSAPSS:
		return crypto.SHA512
	default:
		return crypto.SHA256
	}
}

// buildTLSConfig assembles the [*tls.Config] to use for the upgrade,
// honoring cfg's SSLMode, CA bundle, and optional client certificate
// (spec §4.4 step 2 and the sslmode table in spec §6).
func buildTLSConfig(cfg *ConnectionConfig, serverName string) (*tls.Config, error) {
	tlsConfig := &tls.Config{ServerName: serverName}

	if cfg.SSLMode == SSLModeRequire {
		tlsConfig.InsecureSkipVerify = true
	} else {
		pool := cfg.caPool
		if pool == nil {
			var err error
			pool, err = x509.SystemCertPool()
			if err != nil || pool == nil {
				pool = x509.NewCertPool()
			}
		}
		tlsConfig.RootCAs = pool
		if cfg.SSLMode == SSLModeVerifyCA {
			// Verify the chain but not the hostname: disable Go's built-in
			// hostname check and perform chain-only verification ourselves.
			tlsConfig.InsecureSkipVerify = true
			tlsConfig.VerifyPeerCertificate = verifyChainOnly(pool)
		}
		// SSLModeVerifyFull leaves both checks enabled (the Go default).
	}

	if cfg.ClientCert != nil {
		tlsConfig.Certificates = []tls.Certificate{*cfg.ClientCert}
	}
	return tlsConfig, nil
}

// verifyChainOnly returns a VerifyPeerCertificate callback that checks the
// certificate chains up to pool without verifying the server hostname,
// implementing sslmode=verify-ca (spec §6).
func verifyChainOnly(pool *x509.CertPool) func([][]byte, [][]*x509.Certificate) error {
	return func(rawCerts [][]byte, _ [][]*x509.Certificate) error {
		if len(rawCerts) == 0 {
			return newError(KindTLS, "verifying server certificate", errors.New("no certificate presented"))
		}
		leaf, err := x509.ParseCertificate(rawCerts[0])
		if err != nil {
			return newError(KindTLS, "verifying server certificate", err)
		}
		intermediates := x509.NewCertPool()
		for _, raw := range rawCerts[1:] {
			if cert, err := x509.ParseCertificate(raw); err == nil {
				intermediates.AddCert(cert)
			}
		}
		_, err = leaf.Verify(x509.VerifyOptions{Roots: pool, Intermediates: intermediates})
		if err != nil {
			return newError(KindTLS, "verifying server certificate", err)
		}
		return nil
	}
}
