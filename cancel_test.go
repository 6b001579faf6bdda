//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package pgwire

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSendCancelRequestWritesFrame(t *testing.T) {
	var written []byte
	mc := &mockConn{
		MockWrite: func(b []byte) (int, error) { written = append(written, b...); return len(b), nil },
		MockClose: func() error { return nil },
	}
	cfg := NewConnectionConfig("alice", "app_db").WithTCP("db.internal", 5432)
	newDialer := func() netDialer { return &mockDialer{conn: mc} }

	// Should return promptly without blocking or panicking.
	key := CancellationKey{ProcessID: 1, Secret: 2}
	sendCancelRequest(context.Background(), cfg, newDialer, key)
	require.Equal(t, buildCancelRequestFrame(key), written)
}

// TestSendCancelRequestReturnsPromptlyOnSuccessfulDispatch is a regression
// test for the watcher goroutine blocking on gctx.Done() after already
// receiving the transport on the success path: that bug left every
// successful cancellation dispatch blocked for the full cancelRequestTimeout
// instead of returning once the frame was written.
func TestSendCancelRequestReturnsPromptlyOnSuccessfulDispatch(t *testing.T) {
	mc := &mockConn{
		MockWrite: func(b []byte) (int, error) { return len(b), nil },
		MockClose: func() error { return nil },
	}
	cfg := NewConnectionConfig("alice", "app_db").WithTCP("db.internal", 5432)
	newDialer := func() netDialer { return &mockDialer{conn: mc} }

	start := time.Now()
	sendCancelRequest(context.Background(), cfg, newDialer, CancellationKey{ProcessID: 1, Secret: 2})
	require.Less(t, time.Since(start), cancelRequestTimeout/2)
}

func TestSendCancelRequestSurvivesDialFailure(t *testing.T) {
	cfg := NewConnectionConfig("alice", "app_db").WithTCP("db.internal", 5432)
	newDialer := func() netDialer { return &mockDialer{err: errors.New("refused")} }

	// Best-effort: must not panic even when the second dial fails outright.
	sendCancelRequest(context.Background(), cfg, newDialer, CancellationKey{ProcessID: 1, Secret: 2})
}

func TestMaxMessageLengthFor(t *testing.T) {
	require.Equal(t, MaxMessageLength, maxMessageLengthFor(nil))
}
