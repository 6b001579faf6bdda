//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: rbmk-project/rbmk pkg/common/mocks/conn.go's func-field
// mockable [net.Conn], since the teacher's own netstub dependency's source
// is not present in the retrieved corpus (see DESIGN.md).
//

package pgwire

import (
	"context"
	"net"
	"time"
)

type mockConn struct {
	MockRead             func(b []byte) (int, error)
	MockWrite            func(b []byte) (int, error)
	MockClose            func() error
	MockLocalAddr        func() net.Addr
	MockRemoteAddr       func() net.Addr
	MockSetDeadline      func(t time.Time) error
	MockSetReadDeadline  func(t time.Time) error
	MockSetWriteDeadline func(t time.Time) error
}

var _ net.Conn = &mockConn{}

func (c *mockConn) Read(b []byte) (int, error) {
	if c.MockRead != nil {
		return c.MockRead(b)
	}
	return 0, net.ErrClosed
}

func (c *mockConn) Write(b []byte) (int, error) {
	if c.MockWrite != nil {
		return c.MockWrite(b)
	}
	return len(b), nil
}

func (c *mockConn) Close() error {
	if c.MockClose != nil {
		return c.MockClose()
	}
	return nil
}

func (c *mockConn) LocalAddr() net.Addr {
	if c.MockLocalAddr != nil {
		return c.MockLocalAddr()
	}
	return nil
}

func (c *mockConn) RemoteAddr() net.Addr {
	if c.MockRemoteAddr != nil {
		return c.MockRemoteAddr()
	}
	return nil
}

func (c *mockConn) SetDeadline(t time.Time) error {
	if c.MockSetDeadline != nil {
		return c.MockSetDeadline(t)
	}
	return nil
}

func (c *mockConn) SetReadDeadline(t time.Time) error {
	if c.MockSetReadDeadline != nil {
		return c.MockSetReadDeadline(t)
	}
	return nil
}

func (c *mockConn) SetWriteDeadline(t time.Time) error {
	if c.MockSetWriteDeadline != nil {
		return c.MockSetWriteDeadline(t)
	}
	return nil
}

// mockDialer implements netDialer by returning a fixed conn or error.
type mockDialer struct {
	conn net.Conn
	err  error
}

func (d *mockDialer) DialContext(ctx context.Context, network, address string) (net.Conn, error) {
	if d.err != nil {
		return nil, d.err
	}
	return d.conn, nil
}
