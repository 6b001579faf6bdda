// SPDX-License-Identifier: GPL-3.0-or-later

package pgwire

import "fmt"

// Kind classifies an [*Error] into the taxonomy described by the protocol
// core: a closed set of failure categories, each carrying free-form context.
type Kind int

const (
	// KindIO indicates a transport failure: connect refused, reset, EOF.
	KindIO Kind = iota

	// KindTLS indicates a TLS handshake failure, a server refusal of SSL,
	// a hostname mismatch, or a certificate verification failure.
	KindTLS

	// KindProtocol indicates a malformed frame, an unexpected tag, an
	// oversize frame, or an out-of-sequence message.
	KindProtocol

	// KindAuth indicates a missing password, an unsupported SASL mechanism,
	// a SCRAM server-signature mismatch, a weak iteration count, or a
	// SQLSTATE class 28 ErrorResponse during startup.
	KindAuth

	// KindServer indicates a propagated ErrorResponse, with severity, code,
	// message, detail, hint, and position preserved.
	KindServer

	// KindDecode indicates that the injected JSON decoder rejected a row.
	KindDecode

	// KindUsage indicates the caller violated a contract: querying a
	// connection that is not Ready, opening a second concurrent stream, etc.
	KindUsage

	// KindCancelled indicates the stream terminated because it was dropped
	// or because Cancel was called.
	KindCancelled
)

// String returns a lower-case name for k, used in [*Error.Error].
func (k Kind) String() string {
	switch k {
	case KindIO:
		return "io"
	case KindTLS:
		return "tls"
	case KindProtocol:
		return "protocol"
	case KindAuth:
		return "auth"
	case KindServer:
		return "server"
	case KindDecode:
		return "decode"
	case KindUsage:
		return "usage"
	case KindCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// ServerDetail carries the fields of a backend ErrorResponse or
// NoticeResponse that survive into a [*Error] of [KindServer].
//
// Field names follow the single-letter wire tags documented in spec §4.2.
type ServerDetail struct {
	Severity string
	Code     string // SQLSTATE
	Message  string
	Detail   string
	Hint     string
	Position string
	Where    string
	File     string
	Line     string
	Routine  string
}

// Error is the single error type this package returns. It carries a closed
// [Kind], an operation string describing what was being attempted (e.g.
// "SCRAM server-final", "parsing RowDescription", "SSLRequest response"),
// an optional wrapped cause, and optional [ServerDetail] for [KindServer].
//
// No credentials ever appear in Op, Error, or ServerDetail fields.
type Error struct {
	Kind   Kind
	Op     string
	Err    error
	Server *ServerDetail
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("pgwire: %s: %s", e.Kind, e.Op)
	if e.Server != nil && e.Server.Message != "" {
		msg += ": " + e.Server.Message
	} else if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the wrapped cause, if any, so errors.Is/As work across
// this package's boundary.
func (e *Error) Unwrap() error {
	return e.Err
}

// newError constructs an [*Error] of the given kind and operation, wrapping
// err when non-nil.
func newError(kind Kind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}

// newServerError constructs an [*Error] of [KindServer] from a decoded
// ErrorResponse/NoticeResponse field set, classifying SQLSTATE class 28 as
// [KindAuth] per spec §4.4 and §7.
func newServerError(op string, d *ServerDetail) *Error {
	kind := KindServer
	if len(d.Code) >= 2 && d.Code[:2] == "28" {
		kind = KindAuth
	}
	return &Error{Kind: kind, Op: op, Server: d, Err: fmt.Errorf("%s", d.Message)}
}
