//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: rbmk-project/rbmk pkg/common/selfsignedcert/selfsignedcert.go,
// trimmed to the single self-signed leaf certificate this package's tests
// need for TLS channel-binding and chain-verification coverage.
//

package pgwire

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"math/big"
	"testing"
	"time"

	"github.com/bassosimone/runtimex"
	"github.com/stretchr/testify/require"
)

// selfSignedCertForTest returns a freshly generated, self-signed leaf
// certificate for "db.internal".
func selfSignedCertForTest(t *testing.T) *x509.Certificate {
	t.Helper()
	priv := runtimex.PanicOnError1(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	template := &x509.Certificate{
		SerialNumber: runtimex.PanicOnError1(rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))),
		Subject:      pkix.Name{CommonName: "db.internal"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"db.internal"},
	}
	der := runtimex.PanicOnError1(x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv))
	cert, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return cert
}

// selfSignedTLSCertForTest returns a [tls.Certificate] (leaf + private key)
// a [*tls.Config] can serve, paired with the parsed leaf for assertions.
func selfSignedTLSCertForTest(t *testing.T) (tls.Certificate, *x509.Certificate) {
	t.Helper()
	priv := runtimex.PanicOnError1(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	template := &x509.Certificate{
		SerialNumber: runtimex.PanicOnError1(rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))),
		Subject:      pkix.Name{CommonName: "db.internal"},
		NotBefore:    time.Now(),
		NotAfter:     time.Now().Add(time.Hour),
		KeyUsage:     x509.KeyUsageKeyEncipherment | x509.KeyUsageDigitalSignature,
		ExtKeyUsage:  []x509.ExtKeyUsage{x509.ExtKeyUsageServerAuth},
		DNSNames:     []string{"db.internal"},
	}
	der := runtimex.PanicOnError1(x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv))
	leaf, err := x509.ParseCertificate(der)
	require.NoError(t, err)
	return tls.Certificate{Certificate: [][]byte{der}, PrivateKey: priv}, leaf
}

// x509CertPoolForTest returns a pool trusting a single, freshly minted CA,
// independent of the system root store.
func x509CertPoolForTest() *x509.CertPool {
	pool := x509.NewCertPool()
	priv := runtimex.PanicOnError1(ecdsa.GenerateKey(elliptic.P256(), rand.Reader))
	template := &x509.Certificate{
		SerialNumber:          runtimex.PanicOnError1(rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))),
		Subject:               pkix.Name{CommonName: "test CA"},
		NotBefore:             time.Now(),
		NotAfter:              time.Now().Add(time.Hour),
		IsCA:                  true,
		BasicConstraintsValid: true,
		KeyUsage:              x509.KeyUsageCertSign,
	}
	der := runtimex.PanicOnError1(x509.CreateCertificate(rand.Reader, template, template, &priv.PublicKey, priv))
	cert := runtimex.PanicOnError1(x509.ParseCertificate(der))
	pool.AddCert(cert)
	return pool
}
