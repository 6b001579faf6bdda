//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/dnsoverstream stream.go's
// length-prefixed frame handling, generalized from a 2-byte DNS-over-TCP
// length to the wire protocol's 1-byte tag + 4-byte length framing.
//

package pgwire

import (
	"encoding/binary"
	"errors"
	"io"

	"github.com/bassosimone/runtimex"
)

// Sentinel causes surfaced through [*Error.Unwrap] for protocol failures
// detected by the framer.
var (
	errShortLength   = errors.New("message length field shorter than its own size")
	errOversizeFrame = errors.New("message body exceeds the configured maximum length")
)

// MaxMessageLength is the default upper bound on a single message body, as
// documented in spec §3: every message read must be no larger than this.
const MaxMessageLength = 1 << 30 // 1 GiB

// frame is a fingerprint of a backend or frontend message: (tag, body).
//
// tag is zero for the startup-phase frames (StartupMessage, SSLRequest,
// CancelRequest) that omit the leading tag byte on the wire.
type frame struct {
	tag  byte
	body []byte
}

// framer turns a raw duplex byte stream into a sequence of [frame] values
// and back, per spec §4.1.
type framer struct {
	r            io.Reader
	w            io.Writer
	maxMessageLength int
}

// newFramer creates a [*framer] reading from r and writing to w. A
// maxMessageLength of zero selects [MaxMessageLength].
func newFramer(r io.Reader, w io.Writer, maxMessageLength int) *framer {
	if maxMessageLength <= 0 {
		maxMessageLength = MaxMessageLength
	}
	return &framer{r: r, w: w, maxMessageLength: maxMessageLength}
}

// readMessage reads one tagged message: tag(1) | length(4, big-endian,
// inclusive of the length field, exclusive of the tag) | body.
//
// It fails with [KindProtocol] on a short read or an oversize frame.
func (f *framer) readMessage() (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(f.r, hdr[:]); err != nil {
		return 0, nil, newError(KindProtocol, "reading message header", err)
	}
	tag := hdr[0]
	length := binary.BigEndian.Uint32(hdr[1:5])
	if length < 4 {
		return 0, nil, newError(KindProtocol, "reading message header", errShortLength)
	}
	bodyLen := length - 4
	if bodyLen > uint32(f.maxMessageLength) {
		return 0, nil, newError(KindProtocol, "reading message header", errOversizeFrame)
	}
	body := make([]byte, bodyLen)
	if _, err := io.ReadFull(f.r, body); err != nil {
		return 0, nil, newError(KindProtocol, "reading message body", err)
	}
	return tag, body, nil
}

// readStartupResponse reads the single byte exchanged during SSL
// negotiation: 'S', 'N', or (for a server speaking a different protocol) an
// arbitrary tag byte that the caller must reject.
func (f *framer) readStartupResponse() (byte, error) {
	var b [1]byte
	if _, err := io.ReadFull(f.r, b[:]); err != nil {
		return 0, newError(KindProtocol, "SSLRequest response", err)
	}
	return b[0], nil
}

// writeMessage writes a tagged message in one call. tag == 0 omits the tag
// byte, producing a startup-phase frame (StartupMessage).
func (f *framer) writeMessage(tag byte, body []byte) error {
	runtimex.Assert(int64(len(body))+4 <= int64(1<<32-1), "pgwire: frame length overflows uint32")
	length := uint32(len(body) + 4)
	var hdr []byte
	if tag != 0 {
		hdr = make([]byte, 0, 5+len(body))
		hdr = append(hdr, tag)
	} else {
		hdr = make([]byte, 0, 4+len(body))
	}
	var lenBuf [4]byte
	binary.BigEndian.PutUint32(lenBuf[:], length)
	hdr = append(hdr, lenBuf[:]...)
	hdr = append(hdr, body...)
	_, err := f.w.Write(hdr)
	if err != nil {
		return newError(KindIO, "writing message", err)
	}
	return nil
}

// writeRaw writes a pre-built frame verbatim, used for the two fixed-size
// out-of-band frames (SSLRequest, CancelRequest) whose wire layout does not
// follow the tag+length convention used elsewhere.
func (f *framer) writeRaw(raw []byte) error {
	if _, err := f.w.Write(raw); err != nil {
		return newError(KindIO, "writing message", err)
	}
	return nil
}
