//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// TestSCRAMSHA256RFC7677Vector exercises the client against the worked
// example from RFC 7677 Section 3, the SCRAM-SHA-256 companion to RFC 5802.
//

package pgwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSCRAMSHA256RFC7677Vector(t *testing.T) {
	c := &scramClient{
		usesChannelBinding: false,
		gs2Header:          "n,,",
		clientNonce:        "rOprNGfwEbeRWgbNEkqO",
		clientFirstBare:    "n=user,r=rOprNGfwEbeRWgbNEkqO",
	}

	serverFirst := "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0," +
		"s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	require.NoError(t, c.consumeServerFirst([]byte(serverFirst), "pencil"))
	require.Equal(t, 4096, c.iterations)

	finalMsg, err := c.clientFinalMessage(nil)
	require.NoError(t, err)

	wantFinal := "c=biws,r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0," +
		"p=dHzbZapWIk4jUhN+Ute9ytag9zjfMHgsqmmiz7AndVQ="
	require.Equal(t, wantFinal, string(finalMsg))

	serverFinal := "v=6rriTRBi23WpRR/wtup+mMhUZUn/dB5nLTJRsjl95G4="
	require.NoError(t, c.verifyServerFinal([]byte(serverFinal)))
}

func TestSCRAMRejectsWeakIterationCount(t *testing.T) {
	c := &scramClient{clientNonce: "abc", clientFirstBare: "n=user,r=abc"}
	serverFirst := "r=abcXYZ,s=c2FsdA==,i=100"
	err := c.consumeServerFirst([]byte(serverFirst), "secret")
	require.Error(t, err)
	require.ErrorIs(t, err, errWeakIterationCount)
}

func TestSCRAMRejectsMismatchedNonce(t *testing.T) {
	c := &scramClient{clientNonce: "abc", clientFirstBare: "n=user,r=abc"}
	serverFirst := "r=totallydifferent,s=c2FsdA==,i=4096"
	err := c.consumeServerFirst([]byte(serverFirst), "secret")
	require.Error(t, err)
	require.ErrorIs(t, err, errServerNonceMismatch)
}

func TestSCRAMVerifyServerFinalRejectsBadSignature(t *testing.T) {
	c := &scramClient{
		usesChannelBinding: false,
		gs2Header:          "n,,",
		clientNonce:        "rOprNGfwEbeRWgbNEkqO",
		clientFirstBare:    "n=user,r=rOprNGfwEbeRWgbNEkqO",
	}
	serverFirst := "r=rOprNGfwEbeRWgbNEkqO%hvYDpWUa2RaTCAfuxFIlj)hNlF$k0," +
		"s=W22ZaJ0SNY7soEsUEjb6gQ==,i=4096"
	require.NoError(t, c.consumeServerFirst([]byte(serverFirst), "pencil"))
	_, err := c.clientFinalMessage(nil)
	require.NoError(t, err)

	err = c.verifyServerFinal([]byte("v=AAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAAA="))
	require.Error(t, err)
	require.ErrorIs(t, err, errServerSignatureMismatch)
}

func TestSCRAMVerifyServerFinalSurfacesServerError(t *testing.T) {
	c := &scramClient{authMessage: []byte("x")}
	err := c.verifyServerFinal([]byte("e=invalid-proof"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "invalid-proof")
}

func TestSASLNameEscaping(t *testing.T) {
	require.Equal(t, "user=2Cname=3D", saslName("user,name="))
}

func TestNewSCRAMClientChannelBindingHeader(t *testing.T) {
	c, err := newSCRAMClient("alice", true)
	require.NoError(t, err)
	require.Equal(t, "p=tls-server-end-point,,", c.gs2Header)

	c, err = newSCRAMClient("alice", false)
	require.NoError(t, err)
	require.Equal(t, "n,,", c.gs2Header)
}
