//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/dnsoverstream tcp.go/tls.go dialer
// plumbing, generalized into the long-lived startup/auth/query state
// machine described by spec §4.4.
//

package pgwire

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"sync"
	"time"
)

// State is one of the connection-machine states named in spec §3.
type State int

const (
	StateUnstarted State = iota
	StateNegotiatingTLS
	StateAwaitingAuth
	StateAuthenticating
	StateReady
	StateExecuting
	StateClosing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnstarted:
		return "unstarted"
	case StateNegotiatingTLS:
		return "negotiating_tls"
	case StateAwaitingAuth:
		return "awaiting_auth"
	case StateAuthenticating:
		return "authenticating"
	case StateReady:
		return "ready"
	case StateExecuting:
		return "executing"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is one authenticated wire-protocol session (spec §3, §4.4).
// Construct with [Connect]. Only [StateReady] accepts [*Connection.Query];
// only [StateExecuting] produces rows, via the [*RowStream] it returns.
type Connection struct {
	cfg       *ConnectionConfig
	transport *transport
	framer    *framer

	mu        sync.Mutex
	state     State
	cancelKey CancellationKey
	params    map[string]string
}

var errNotReady = errors.New("connection is not in the Ready state")
var errStreamOutstanding = errors.New("a stream is already outstanding on this connection")

// Connect opens a new [*Connection]: dials the configured endpoint,
// performs the optional SSLRequest negotiation, sends StartupMessage, and
// drives authentication through to ReadyForQuery (spec §4.4).
func Connect(ctx context.Context, cfg *ConnectionConfig) (*Connection, error) {
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	dialer := &net.Dialer{KeepAlive: cfg.Keepalive}
	t, err := dialPlain(ctx, dialer, cfg)
	if err != nil {
		return nil, err
	}

	conn := &Connection{
		cfg:       cfg,
		transport: t,
		framer:    newFramer(t, t, MaxMessageLength),
		state:     StateUnstarted,
		params:    make(map[string]string),
	}

	// Blocking reads during SSL negotiation and startup do not watch ctx,
	// so bound them with the same deadline.
	if deadline, ok := ctx.Deadline(); ok {
		_ = t.SetDeadline(deadline)
	}
	if err := conn.negotiateTLS(ctx); err != nil {
		t.Close()
		return nil, err
	}
	if err := conn.startup(ctx); err != nil {
		t.Close()
		conn.setState(StateClosed)
		return nil, err
	}
	_ = t.SetDeadline(time.Time{})
	return conn, nil
}

func (c *Connection) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// State returns the connection's current state.
func (c *Connection) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// CancellationKey returns the (process_id, secret) pair captured from
// BackendKeyData during startup (spec §3).
func (c *Connection) CancellationKey() CancellationKey {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelKey
}

// ParameterStatus returns the last value reported for the given server
// parameter, for observability only (spec §4.4).
func (c *Connection) ParameterStatus(name string) (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.params[name]
	return v, ok
}

// negotiateTLS implements spec §4.4 step 2: the in-band SSLRequest dance.
func (c *Connection) negotiateTLS(ctx context.Context) error {
	mode := c.cfg.effectiveSSLMode()
	if c.transport.isUnix || mode == SSLModeDisable {
		return nil
	}
	c.setState(StateNegotiatingTLS)
	c.cfg.logger().Debug("pgwire: sending SSLRequest")
	if err := c.framer.writeRaw(sslRequestFrame); err != nil {
		return err
	}
	b, err := c.framer.readStartupResponse()
	if err != nil {
		return err
	}
	switch b {
	case 'S':
		serverName := c.cfg.Host
		tlsConfig, err := buildTLSConfig(c.cfg, serverName)
		if err != nil {
			return err
		}
		if err := c.transport.upgradeToTLS(ctx, tlsConfig); err != nil {
			return err
		}
		c.cfg.logger().Debug("pgwire: TLS upgrade complete", "sslmode", mode)
		return nil
	case 'N':
		if mode != SSLModeDisable {
			return newError(KindTLS, "SSLRequest response", errServerRefusedSSL)
		}
		return nil
	default:
		return newError(KindProtocol, "SSLRequest response", errUnexpectedSSLResponse)
	}
}

var (
	errServerRefusedSSL      = errors.New("server refused SSL")
	errUnexpectedSSLResponse = errors.New("unexpected byte in SSLRequest response")
)

// startup implements spec §4.4 steps 3-4: StartupMessage through
// ReadyForQuery.
func (c *Connection) startup(ctx context.Context) error {
	c.setState(StateAwaitingAuth)
	body := buildStartupMessageBody(c.cfg.User, c.cfg.Database, c.cfg.ApplicationName)
	if err := c.framer.writeMessage(0, body); err != nil {
		return err
	}

	for {
		if err := ctx.Err(); err != nil {
			return newError(KindIO, "startup", err)
		}
		tag, msgBody, err := c.framer.readMessage()
		if err != nil {
			return err
		}
		switch tag {
		case tagAuthentication:
			done, err := c.handleAuthMessage(msgBody)
			if err != nil {
				return err
			}
			if done {
				continue
			}
		case tagBackendKeyData:
			kd, err := decodeBackendKeyData(msgBody)
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.cancelKey = CancellationKey{ProcessID: kd.processID, Secret: kd.secret}
			c.mu.Unlock()
		case tagParameterStatus:
			name, value, err := decodeParameterStatus(msgBody)
			if err != nil {
				return err
			}
			c.mu.Lock()
			c.params[name] = value
			c.mu.Unlock()
		case tagErrorResponse:
			detail, err := decodeServerDetail(msgBody)
			if err != nil {
				return err
			}
			return newServerError("startup", detail)
		case tagNoticeResponse:
			// Notices are never errors (spec §7); nothing to do during startup.
		case tagReadyForQuery:
			status, err := decodeReadyForQuery(msgBody)
			if err != nil {
				return err
			}
			if status == 'E' {
				return newError(KindProtocol, "startup",
					errors.New("ReadyForQuery reported an aborted transaction during startup"))
			}
			c.setState(StateReady)
			return nil
		default:
			return newError(KindProtocol, "startup",
				fmt.Errorf("unexpected message tag %q", tag))
		}
	}
}

func decodeParameterStatus(body []byte) (name, value string, err error) {
	name, rest, err := readCString(body)
	if err != nil {
		return "", "", newError(KindProtocol, "parsing ParameterStatus", err)
	}
	value, _, err = readCString(rest)
	if err != nil {
		return "", "", newError(KindProtocol, "parsing ParameterStatus", err)
	}
	return name, value, nil
}

// handleAuthMessage handles one 'R' message during startup. It returns
// done=true when the caller should keep reading (the auth step itself does
// not advance past AwaitingAuth/Authenticating into Ready; only
// ReadyForQuery does that).
func (c *Connection) handleAuthMessage(body []byte) (bool, error) {
	msg, err := decodeAuthMessage(body)
	if err != nil {
		return false, err
	}
	switch msg.subtype {
	case authTypeOk:
		return true, nil
	case authTypeCleartextPassword:
		c.loggerFor().Debug("pgwire: auth mechanism chosen", "mechanism", "cleartext")
		return true, c.authCleartext()
	case authTypeSASL:
		c.setState(StateAuthenticating)
		return true, c.authSCRAM(msg.mechanisms)
	default:
		return false, newError(KindProtocol, "startup",
			fmt.Errorf("unexpected authentication subtype %d", msg.subtype))
	}
}

func (c *Connection) authCleartext() error {
	if c.cfg.Password == nil {
		return newError(KindAuth, "cleartext authentication", errMissingPassword)
	}
	password, err := c.cfg.Password()
	if err != nil {
		return newError(KindAuth, "cleartext authentication", err)
	}
	return c.framer.writeMessage(tagPasswordMessage, buildPasswordMessage(password))
}

var errMissingPassword = errors.New("server requested a password but none is configured")
var errUnsupportedMechanism = errors.New("server offered no supported SASL mechanism")

// authSCRAM runs the full SCRAM exchange (spec §4.5), preferring
// SCRAM-SHA-256-PLUS when the transport is TLS and a peer certificate is
// available.
func (c *Connection) authSCRAM(offered []string) error {
	if c.cfg.Password == nil {
		return newError(KindAuth, "SCRAM authentication", errMissingPassword)
	}
	password, err := c.cfg.Password()
	if err != nil {
		return newError(KindAuth, "SCRAM authentication", err)
	}

	peerCert := c.transport.peerCertificate()
	useChannelBinding := peerCert != nil && contains(offered, mechanismSCRAMSHA256Plus)
	mechanism := mechanismSCRAMSHA256
	if useChannelBinding {
		mechanism = mechanismSCRAMSHA256Plus
	} else if !contains(offered, mechanismSCRAMSHA256) {
		return newError(KindAuth, "SCRAM authentication", errUnsupportedMechanism)
	}
	c.loggerFor().Debug("pgwire: auth mechanism chosen", "mechanism", mechanism)

	scram, err := newSCRAMClient(c.cfg.User, useChannelBinding)
	if err != nil {
		return err
	}

	if err := c.framer.writeMessage(tagSASLInitialResponse,
		buildSASLInitialResponse(mechanism, scram.clientFirstMessage())); err != nil {
		return err
	}

	tag, body, err := c.framer.readMessage()
	if err != nil {
		return err
	}
	if tag == tagErrorResponse {
		detail, derr := decodeServerDetail(body)
		if derr != nil {
			return derr
		}
		return newServerError("SCRAM server-first", detail)
	}
	if tag != tagAuthentication {
		return newError(KindProtocol, "SCRAM server-first", fmt.Errorf("unexpected message tag %q", tag))
	}
	authMsg, err := decodeAuthMessage(body)
	if err != nil {
		return err
	}
	if authMsg.subtype != authTypeSASLContinue {
		return newError(KindProtocol, "SCRAM server-first",
			fmt.Errorf("unexpected authentication subtype %d", authMsg.subtype))
	}
	if err := scram.consumeServerFirst(authMsg.payload, password); err != nil {
		return err
	}

	finalMsg, err := scram.clientFinalMessage(peerCert)
	if err != nil {
		return err
	}
	if err := c.framer.writeMessage(tagSASLResponse, buildSASLResponse(finalMsg)); err != nil {
		return err
	}

	tag, body, err = c.framer.readMessage()
	if err != nil {
		return err
	}
	if tag == tagErrorResponse {
		detail, derr := decodeServerDetail(body)
		if derr != nil {
			return derr
		}
		return newServerError("SCRAM server-final", detail)
	}
	if tag != tagAuthentication {
		return newError(KindProtocol, "SCRAM server-final", fmt.Errorf("unexpected message tag %q", tag))
	}
	authMsg, err = decodeAuthMessage(body)
	if err != nil {
		return err
	}
	if authMsg.subtype != authTypeSASLFinal {
		return newError(KindProtocol, "SCRAM server-final",
			fmt.Errorf("unexpected authentication subtype %d", authMsg.subtype))
	}
	if err := scram.verifyServerFinal(authMsg.payload); err != nil {
		return err
	}

	// Consume the trailing AuthenticationOk the server sends once SASL
	// succeeds, before returning control to the startup loop.
	tag, body, err = c.framer.readMessage()
	if err != nil {
		return err
	}
	if tag == tagErrorResponse {
		detail, derr := decodeServerDetail(body)
		if derr != nil {
			return derr
		}
		return newServerError("SCRAM completion", detail)
	}
	if tag != tagAuthentication {
		return newError(KindProtocol, "SCRAM completion", fmt.Errorf("unexpected message tag %q", tag))
	}
	authMsg, err = decodeAuthMessage(body)
	if err != nil {
		return err
	}
	if authMsg.subtype != authTypeOk {
		return newError(KindProtocol, "SCRAM completion",
			fmt.Errorf("unexpected authentication subtype %d", authMsg.subtype))
	}
	return nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Query sends the given SQL as a simple-query (spec §4.4 "Query execution")
// and returns a [*RowStream] that owns this connection exclusively until
// the stream completes, is cancelled, or is dropped.
//
// sql must already embed any WHERE/ORDER BY/LIMIT/OFFSET clauses and SQL
// predicates; this package does not build or validate SQL text.
func (c *Connection) Query(ctx context.Context, sql string, predicates ...Predicate) (*RowStream, error) {
	c.mu.Lock()
	if c.state != StateReady {
		c.mu.Unlock()
		return nil, newError(KindUsage, "Query", errNotReady)
	}
	c.state = StateExecuting
	c.mu.Unlock()

	if err := c.framer.writeMessage(tagQuery, buildQueryMessage(sql)); err != nil {
		c.setState(StateClosed)
		return nil, err
	}
	return newRowStream(ctx, c, predicates), nil
}

// Close performs a graceful shutdown: it sends Terminate (best-effort) and
// closes the socket. Close is idempotent (spec §4.4 "Termination").
func (c *Connection) Close() error {
	c.mu.Lock()
	if c.state == StateClosed {
		c.mu.Unlock()
		return nil
	}
	if c.state == StateExecuting {
		c.mu.Unlock()
		return newError(KindUsage, "Close",
			errors.New("connection is owned by an outstanding RowStream; drop or cancel it instead"))
	}
	state := c.state
	c.state = StateClosing
	c.mu.Unlock()

	if state == StateReady {
		// Terminate is only attempted on a graceful close of a Ready
		// connection; a connection mid-Executing is owned by its
		// [*RowStream] and gets torn down there (spec §4.4).
		_ = c.framer.writeMessage(tagTerminate, nil)
	}
	err := c.transport.Close()
	c.setState(StateClosed)
	return err
}

// loggerFor returns a slog.Logger scoped to this connection; a thin
// indirection kept so log call sites read the same whether or not a real
// logger is configured.
func (c *Connection) loggerFor() *slog.Logger {
	return c.cfg.logger()
}
