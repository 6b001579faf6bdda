//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/dnsoverstream's message-framing
// helpers, generalized to the backend/frontend message subset spec §3 and
// §4.2 require.
//

package pgwire

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
)

// Frontend message tags (spec §3). StartupMessage, SSLRequest, and
// CancelRequest are tagless on the wire: StartupMessage is written through
// writeMessage with a zero tag, while SSLRequest and CancelRequest are fixed
// frames built below and written verbatim through writeRaw.
const (
	tagPasswordMessage     = 'p'
	tagSASLInitialResponse = 'p' // SASL frames share the frontend 'p' tag.
	tagSASLResponse        = 'p'
	tagQuery               = 'Q'
	tagTerminate           = 'X'
)

// Backend message tags recognized by this client (spec §3).
const (
	tagAuthentication    = 'R'
	tagParameterStatus   = 'S'
	tagBackendKeyData    = 'K'
	tagReadyForQuery     = 'Z'
	tagRowDescription    = 'T'
	tagDataRow           = 'D'
	tagCommandComplete   = 'C'
	tagErrorResponse     = 'E'
	tagNoticeResponse    = 'N'
	tagEmptyQueryResp    = 'I'
	tagPortalSuspended   = 's'
	tagNotificationResp  = 'A'
)

// Authentication sub-messages, distinguished by the first int32 of an 'R'
// message body.
const (
	authTypeOk                = 0
	authTypeCleartextPassword = 3
	authTypeSASL              = 10
	authTypeSASLContinue      = 11
	authTypeSASLFinal         = 12
)

const protocolVersion3 = 0x00030000

// sslRequestFrame is the fixed 8-byte SSLRequest frame: length=8,
// code=80877103 (spec §4.2).
var sslRequestFrame = []byte{0x00, 0x00, 0x00, 0x08, 0x04, 0xd2, 0x16, 0x2f}

// buildCancelRequestFrame builds the fixed 16-byte CancelRequest frame:
// length=16, code=80877102, pid, secret (spec §4.2).
func buildCancelRequestFrame(key CancellationKey) []byte {
	buf := make([]byte, 0, 16)
	buf = appendUint32(buf, 16)
	buf = appendUint32(buf, 80877102)
	buf = appendUint32(buf, key.ProcessID)
	buf = appendUint32(buf, key.Secret)
	return buf
}

// buildStartupMessageBody builds the StartupMessage body: protocol version,
// then NUL-terminated key/value pairs, terminated by an extra NUL.
func buildStartupMessageBody(user, database, applicationName string) []byte {
	buf := make([]byte, 0, 64)
	buf = appendUint32(buf, protocolVersion3)
	buf = appendCString(buf, "user")
	buf = appendCString(buf, user)
	if database != "" {
		buf = appendCString(buf, "database")
		buf = appendCString(buf, database)
	}
	if applicationName != "" {
		buf = appendCString(buf, "application_name")
		buf = appendCString(buf, applicationName)
	}
	buf = appendCString(buf, "client_encoding")
	buf = appendCString(buf, "UTF8")
	buf = append(buf, 0)
	return buf
}

func appendUint32(buf []byte, v uint32) []byte {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	return append(buf, b[:]...)
}

func appendCString(buf []byte, s string) []byte {
	buf = append(buf, s...)
	return append(buf, 0)
}

func readCString(body []byte) (string, []byte, error) {
	idx := bytes.IndexByte(body, 0)
	if idx < 0 {
		return "", nil, errTruncatedCString
	}
	return string(body[:idx]), body[idx+1:], nil
}

var errTruncatedCString = errors.New("NUL-terminated string missing its terminator")

// authMessage is the decoded body of an 'R' (Authentication*) backend
// message.
type authMessage struct {
	subtype   int32
	mechanisms []string // AuthenticationSASL
	payload   []byte    // AuthenticationSASLContinue / AuthenticationSASLFinal
}

// decodeAuthMessage decodes the body of an 'R' message (spec §3).
func decodeAuthMessage(body []byte) (*authMessage, error) {
	if len(body) < 4 {
		return nil, newError(KindProtocol, "parsing Authentication message", errTruncatedMessage)
	}
	subtype := int32(binary.BigEndian.Uint32(body[:4]))
	rest := body[4:]
	msg := &authMessage{subtype: subtype}
	switch subtype {
	case authTypeOk, authTypeCleartextPassword:
		// No further payload.
	case authTypeSASL:
		for len(rest) > 0 && rest[0] != 0 {
			mech, tail, err := readCString(rest)
			if err != nil {
				return nil, newError(KindProtocol, "parsing AuthenticationSASL", err)
			}
			msg.mechanisms = append(msg.mechanisms, mech)
			rest = tail
		}
	case authTypeSASLContinue, authTypeSASLFinal:
		msg.payload = append([]byte(nil), rest...)
	default:
		return nil, newError(KindProtocol, "parsing Authentication message",
			fmt.Errorf("unrecognized authentication subtype %d", subtype))
	}
	return msg, nil
}

var errTruncatedMessage = errors.New("message body shorter than its fixed header")

// backendKeyData is the decoded body of a 'K' message.
type backendKeyData struct {
	processID uint32
	secret    uint32
}

func decodeBackendKeyData(body []byte) (*backendKeyData, error) {
	if len(body) != 8 {
		return nil, newError(KindProtocol, "parsing BackendKeyData", errTruncatedMessage)
	}
	return &backendKeyData{
		processID: binary.BigEndian.Uint32(body[0:4]),
		secret:    binary.BigEndian.Uint32(body[4:8]),
	}, nil
}

// decodeReadyForQuery returns the transaction status byte ('I', 'T', 'E').
func decodeReadyForQuery(body []byte) (byte, error) {
	if len(body) != 1 {
		return 0, newError(KindProtocol, "parsing ReadyForQuery", errTruncatedMessage)
	}
	return body[0], nil
}

// decodeDataRow extracts the single column's raw bytes from a 'D' message,
// per the restriction to one-column (JSON/JSONB) result sets.
//
// Wire layout: int16 field count, then per field: int32 length (-1 = NULL)
// followed by that many bytes.
func decodeDataRow(body []byte) ([]byte, bool, error) {
	if len(body) < 2 {
		return nil, false, newError(KindProtocol, "parsing DataRow", errTruncatedMessage)
	}
	fieldCount := binary.BigEndian.Uint16(body[:2])
	if fieldCount != 1 {
		return nil, false, newError(KindProtocol, "parsing DataRow",
			fmt.Errorf("expected exactly one column, got %d", fieldCount))
	}
	rest := body[2:]
	if len(rest) < 4 {
		return nil, false, newError(KindProtocol, "parsing DataRow", errTruncatedMessage)
	}
	length := int32(binary.BigEndian.Uint32(rest[:4]))
	rest = rest[4:]
	if length < 0 {
		return nil, true, nil // SQL NULL
	}
	if int(length) > len(rest) {
		return nil, false, newError(KindProtocol, "parsing DataRow", errTruncatedMessage)
	}
	return rest[:length], false, nil
}

// decodeServerDetail decodes an ErrorResponse/NoticeResponse body: a
// sequence of field_tag(1) | value(NUL) pairs terminated by a zero byte
// (spec §4.2).
func decodeServerDetail(body []byte) (*ServerDetail, error) {
	d := &ServerDetail{}
	for len(body) > 0 && body[0] != 0 {
		tag := body[0]
		value, rest, err := readCString(body[1:])
		if err != nil {
			return nil, newError(KindProtocol, "parsing ErrorResponse field", err)
		}
		switch tag {
		case 'S':
			d.Severity = value
		case 'C':
			d.Code = value
		case 'M':
			d.Message = value
		case 'D':
			d.Detail = value
		case 'H':
			d.Hint = value
		case 'P':
			d.Position = value
		case 'W':
			d.Where = value
		case 'F':
			d.File = value
		case 'L':
			d.Line = value
		case 'R':
			d.Routine = value
		}
		body = rest
	}
	return d, nil
}

// buildPasswordMessage builds a PasswordMessage ('p') body for cleartext auth.
func buildPasswordMessage(password string) []byte {
	return appendCString(nil, password)
}

// buildSASLInitialResponse builds a SASLInitialResponse ('p') body.
func buildSASLInitialResponse(mechanism string, initialResponse []byte) []byte {
	buf := appendCString(nil, mechanism)
	buf = appendUint32(buf, uint32(len(initialResponse)))
	buf = append(buf, initialResponse...)
	return buf
}

// buildSASLResponse builds a SASLResponse ('p') body.
func buildSASLResponse(response []byte) []byte {
	return append([]byte(nil), response...)
}

// buildQueryMessage builds a Query ('Q') body: the SQL string, NUL
// terminated.
func buildQueryMessage(sql string) []byte {
	return appendCString(nil, sql)
}
