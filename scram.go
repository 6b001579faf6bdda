//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Implements client-first SCRAM-SHA-256 and SCRAM-SHA-256-PLUS per spec
// §4.5 (RFC 5802 / RFC 7677 / RFC 5929 channel binding).
//

package pgwire

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/text/secure/precis"
)

const (
	mechanismSCRAMSHA256     = "SCRAM-SHA-256"
	mechanismSCRAMSHA256Plus = "SCRAM-SHA-256-PLUS"

	minIterationCount = 4096
	nonceLength       = 24
)

// scramClient drives one client-first SCRAM-SHA-256[-PLUS] exchange. Its
// fields accumulate across the three messages the exchange requires.
type scramClient struct {
	usesChannelBinding bool
	gs2Header          string
	clientNonce        string
	clientFirstBare    string

	serverFirstRaw string
	serverNonce    string
	salt           []byte
	iterations     int

	clientKey []byte
	storedKey []byte
	serverKey []byte

	authMessage []byte
}

// newSCRAMClient starts a new exchange for the given user, choosing the
// gs2-header based on whether channel binding is in use (spec §4.5 step 2).
func newSCRAMClient(user string, channelBinding bool) (*scramClient, error) {
	nonce, err := generateNonce()
	if err != nil {
		return nil, newError(KindAuth, "generating SCRAM client nonce", err)
	}
	c := &scramClient{usesChannelBinding: channelBinding, clientNonce: nonce}
	if channelBinding {
		c.gs2Header = "p=tls-server-end-point,,"
	} else {
		c.gs2Header = "n,,"
	}
	c.clientFirstBare = "n=" + saslName(user) + ",r=" + nonce
	return c, nil
}

// clientFirstMessage returns the full client-first-message to send as the
// SASLInitialResponse (spec §4.5 step 2).
func (c *scramClient) clientFirstMessage() []byte {
	return []byte(c.gs2Header + c.clientFirstBare)
}

// generateNonce returns a base64-encoded, cryptographically random nonce.
func generateNonce() (string, error) {
	raw := make([]byte, nonceLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}

// saslName escapes a username per RFC 5802 §5.1 (",", "=" escaping).
func saslName(name string) string {
	name = strings.ReplaceAll(name, "=", "=3D")
	name = strings.ReplaceAll(name, ",", "=2C")
	return name
}

var (
	errServerNonceMismatch     = errors.New("server nonce does not extend the client nonce")
	errWeakIterationCount      = errors.New("server proposed an iteration count below the minimum")
	errMalformedServerMsg      = errors.New("malformed server message")
	errServerSignatureMismatch = errors.New("server signature does not match")
	errMissingPeerCertificate  = errors.New("channel binding requested but no peer certificate is available")
)

// consumeServerFirst parses server-first-message, validates the nonce and
// iteration count (spec §4.5 step 3), and derives the salted-password keys.
func (c *scramClient) consumeServerFirst(raw []byte, password string) error {
	c.serverFirstRaw = string(raw)

	attrs, err := parseSCRAMAttributes(c.serverFirstRaw)
	if err != nil {
		return newError(KindAuth, "SCRAM server-first", err)
	}
	r, ok := attrs["r"]
	if !ok || !strings.HasPrefix(r, c.clientNonce) {
		return newError(KindAuth, "SCRAM server-first", errServerNonceMismatch)
	}
	c.serverNonce = r

	saltB64, ok := attrs["s"]
	if !ok {
		return newError(KindAuth, "SCRAM server-first", errMalformedServerMsg)
	}
	salt, err := base64.StdEncoding.DecodeString(saltB64)
	if err != nil {
		return newError(KindAuth, "SCRAM server-first", err)
	}
	c.salt = salt

	iStr, ok := attrs["i"]
	if !ok {
		return newError(KindAuth, "SCRAM server-first", errMalformedServerMsg)
	}
	iterations, err := strconv.Atoi(iStr)
	if err != nil {
		return newError(KindAuth, "SCRAM server-first", fmt.Errorf("parsing iteration count: %w", err))
	}
	if iterations < minIterationCount {
		return newError(KindAuth, "SCRAM server-first", errWeakIterationCount)
	}
	c.iterations = iterations

	// RFC 7677 §3 calls for SASLprep normalization of the password before
	// it enters PBKDF2; precis.OpaqueString is the RFC 8265 successor the
	// PostgreSQL protocol documentation points implementations at.
	normalized, err := precis.OpaqueString.String(password)
	if err != nil {
		normalized = password
	}
	saltedPassword := pbkdf2.Key([]byte(normalized), salt, iterations, sha256.Size, sha256.New)
	c.clientKey = hmacSHA256(saltedPassword, []byte("Client Key"))
	storedKey := sha256.Sum256(c.clientKey)
	c.storedKey = storedKey[:]
	c.serverKey = hmacSHA256(saltedPassword, []byte("Server Key"))
	return nil
}

// clientFinalMessage builds client-final-message (spec §4.5 steps 5-9),
// computing the channel-binding value from peerCert when channel binding is
// in use.
func (c *scramClient) clientFinalMessage(peerCert *x509.Certificate) ([]byte, error) {
	var cbindData []byte
	if c.usesChannelBinding {
		if peerCert == nil {
			return nil, newError(KindAuth, "SCRAM client-final", errMissingPeerCertificate)
		}
		cbindData = channelBindingData(peerCert)
	}
	gs2AndCbind := append([]byte(c.gs2Header), cbindData...)
	channelBinding := base64.StdEncoding.EncodeToString(gs2AndCbind)

	withoutProof := "c=" + channelBinding + ",r=" + c.serverNonce
	authMessage := c.clientFirstBare + "," + c.serverFirstRaw + "," + withoutProof
	c.authMessage = []byte(authMessage)

	clientSignature := hmacSHA256(c.storedKey, c.authMessage)
	clientProof := xorBytes(c.clientKey, clientSignature)

	final := withoutProof + ",p=" + base64.StdEncoding.EncodeToString(clientProof)
	return []byte(final), nil
}

// verifyServerFinal validates server-final-message's signature using a
// constant-time comparison (spec §4.5 step 10), or surfaces the server's
// `e=` error attribute.
func (c *scramClient) verifyServerFinal(raw []byte) error {
	attrs, err := parseSCRAMAttributes(string(raw))
	if err != nil {
		return newError(KindAuth, "SCRAM server-final", err)
	}
	if e, ok := attrs["e"]; ok {
		return newError(KindAuth, "SCRAM server-final", fmt.Errorf("server reported: %s", e))
	}
	vB64, ok := attrs["v"]
	if !ok {
		return newError(KindAuth, "SCRAM server-final", errMalformedServerMsg)
	}
	gotSignature, err := base64.StdEncoding.DecodeString(vB64)
	if err != nil {
		return newError(KindAuth, "SCRAM server-final", err)
	}
	wantSignature := hmacSHA256(c.serverKey, c.authMessage)
	if subtle.ConstantTimeCompare(gotSignature, wantSignature) != 1 {
		return newError(KindAuth, "SCRAM server-final", errServerSignatureMismatch)
	}
	return nil
}

func hmacSHA256(key, data []byte) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write(data)
	return mac.Sum(nil)
}

func xorBytes(a, b []byte) []byte {
	out := make([]byte, len(a))
	for i := range a {
		out[i] = a[i] ^ b[i]
	}
	return out
}

// parseSCRAMAttributes parses a comma-separated `key=value` attribute list,
// skipping attributes it does not recognize downstream, per RFC 5802's
// extensibility rule (spec §4.5 "Edge cases").
func parseSCRAMAttributes(s string) (map[string]string, error) {
	attrs := make(map[string]string)
	for _, part := range strings.Split(s, ",") {
		if part == "" {
			continue
		}
		kv := strings.SplitN(part, "=", 2)
		if len(kv) != 2 {
			return nil, fmt.Errorf("malformed SCRAM attribute %q", part)
		}
		attrs[kv[0]] = kv[1]
	}
	return attrs, nil
}
