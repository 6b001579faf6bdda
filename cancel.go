//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/dnsoverstream stream.go's pattern of
// racing a context-watcher goroutine against the main I/O path, applied
// here to dispatching a best-effort out-of-band cancellation.
//

package pgwire

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// CancellationKey identifies a backend process for out-of-band cancellation
// (spec §3). It is plain data, safe to copy into any task that might need
// to cancel the query after the parent [*Connection] has been consumed.
type CancellationKey struct {
	ProcessID uint32
	Secret    uint32
}

// dialerFactory builds the [netDialer] used to open the second transport a
// cancellation requires. Tests substitute a stub; production uses
// [*net.Dialer].
type dialerFactory func() netDialer

// cancelRequestTimeout bounds how long sendCancelRequest waits for the
// second transport before giving up.
const cancelRequestTimeout = 5 * time.Second

// sendCancelRequest opens a fresh transport to cfg's endpoint, writes a
// CancelRequest, and closes it. It is best-effort: failures are logged, not
// returned, since by the time a caller drops a [*RowStream] there is no one
// left to receive an error (spec §4.6, §5).
func sendCancelRequest(ctx context.Context, cfg *ConnectionConfig, newDialer dialerFactory, key CancellationKey) {
	logger := cfg.logger()

	dialCtx, cancel := context.WithTimeout(ctx, cancelRequestTimeout)
	defer cancel()

	group, gctx := errgroup.WithContext(dialCtx)
	connCh := make(chan *transport, 1)
	done := make(chan struct{})
	group.Go(func() error {
		defer close(done)
		t, err := dialPlain(gctx, newDialer(), cfg)
		if err != nil {
			return err
		}
		defer t.Close()
		connCh <- t
		f := newFramer(t, t, maxMessageLengthFor(cfg))
		return f.writeRaw(buildCancelRequestFrame(key))
	})
	group.Go(func() error {
		// Mirrors the teacher's context-watcher goroutine: force-close the
		// transport the moment the bounded context expires, so the write
		// above never blocks past cancelRequestTimeout. Once the writer
		// signals done, there is nothing left to force-close for.
		select {
		case t := <-connCh:
			select {
			case <-done:
			case <-gctx.Done():
				t.Close()
			}
		case <-done:
		case <-gctx.Done():
		}
		return nil
	})

	if err := group.Wait(); err != nil {
		logger.Warn("pgwire: cancellation dispatch failed",
			"process_id", key.ProcessID, "error", err.Error())
		return
	}
	logger.Debug("pgwire: cancellation dispatched", "process_id", key.ProcessID)
}

// maxMessageLengthFor centralizes the (currently fixed) message-length
// bound so it can become configurable without touching every call site.
func maxMessageLengthFor(_ *ConnectionConfig) int {
	return MaxMessageLength
}
