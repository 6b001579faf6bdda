//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: github.com/bassosimone/dnsoverstream stream.go's pattern of
// pairing a context-watcher goroutine with a blocking I/O goroutine, scaled
// up from a one-shot exchange into the persistent reader/bounded-channel
// pipeline described by spec §4.6.
//

package pgwire

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"runtime"
	"sync"
	"time"
)

// tailFlushTimeout is the "a few ms" tail timeout from spec §4.6 used to
// seal a non-empty, under-sized chunk so the first rows reach the consumer
// quickly even on a slow-arriving result set.
const tailFlushTimeout = 5 * time.Millisecond

// streamItem is what the reader task sends through the bounded channel:
// either a chunk of decoded values, or a terminal error, or the End marker.
type streamItem struct {
	values []Value
	err    error
	end    bool
}

// pauseGate implements RowStream's pause/resume handshake: the reader
// checks it before each chunk *send*, never before a row read, per spec
// §4.6.
type pauseGate struct {
	mu       sync.Mutex
	paused   bool
	resumeCh chan struct{}
}

func newPauseGate() *pauseGate {
	return &pauseGate{}
}

func (g *pauseGate) pause() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.paused {
		g.paused = true
		g.resumeCh = make(chan struct{})
	}
}

func (g *pauseGate) resume() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.paused {
		g.paused = false
		close(g.resumeCh)
	}
}

// wait blocks until resumed or ctx is done. It returns immediately when not
// paused.
func (g *pauseGate) wait(ctx context.Context) error {
	g.mu.Lock()
	if !g.paused {
		g.mu.Unlock()
		return nil
	}
	ch := g.resumeCh
	g.mu.Unlock()
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RowStream is the lazy, backpressure-aware handle over one query's results
// (spec §3). At most one RowStream exists per [*Connection] at a time;
// Query enforces this by requiring StateReady.
type RowStream struct {
	conn       *Connection
	cfg        *ConnectionConfig
	predicates []Predicate
	cancelKey  CancellationKey

	ch         chan streamItem
	pause      *pauseGate
	readerDone chan struct{}
	cancelCtx  context.CancelFunc

	current []Value
	idx     int

	mu        sync.Mutex
	lastErr   error
	completed bool // reached CommandComplete + ReadyForQuery
	closed    bool
}

// newRowStream spawns the reader task and returns the stream handle that
// consumes from it (spec §4.6).
func newRowStream(ctx context.Context, conn *Connection, predicates []Predicate) *RowStream {
	readerCtx, cancel := context.WithCancel(context.Background())

	rs := &RowStream{
		conn:       conn,
		cfg:        conn.cfg,
		predicates: predicates,
		cancelKey:  conn.CancellationKey(),
		ch:         make(chan streamItem, conn.cfg.channelDepth()),
		pause:      newPauseGate(),
		readerDone: make(chan struct{}),
		cancelCtx:  cancel,
	}

	// Mirrors the teacher's watcher goroutine: force-close the transport
	// the moment the caller's context or an explicit Cancel ends the
	// reader's context, unblocking whatever blocking read is in flight.
	go func() {
		<-readerCtx.Done()
		conn.transport.Close()
	}()
	// Propagate the caller-supplied context's cancellation into readerCtx
	// without tying readerCtx's lifetime to ctx's (explicit Cancel/Close
	// must still work after ctx is done).
	go func() {
		select {
		case <-ctx.Done():
			cancel()
		case <-readerCtx.Done():
		}
	}()

	go rs.readerLoop(readerCtx)
	runtime.SetFinalizer(rs, func(rs *RowStream) { rs.Close() })
	return rs
}

// readerLoop owns conn's transport exclusively until it exits (spec §5).
func (rs *RowStream) readerLoop(ctx context.Context) {
	defer close(rs.readerDone)
	defer close(rs.ch)

	policy := rs.cfg.chunkingPolicy()
	chunkSize := policy.Initial
	metrics := rs.cfg.metrics()
	logger := rs.cfg.logger()
	start := time.Now()

	var current []Value
	var filtered int

	// sendChunk delivers the pending partial chunk, if any, applying
	// backpressure (pause) and adaptive sizing. Returns false if the stream
	// should stop (consumer gone or paused-wait interrupted).
	sendChunk := func() bool {
		if len(current) == 0 {
			return true
		}
		if waitErr := rs.pause.wait(ctx); waitErr != nil {
			rs.send(ctx, streamItem{err: newError(KindCancelled, "streaming", waitErr)})
			return false
		}
		if !rs.send(ctx, streamItem{values: current}) {
			return false
		}
		metrics.ChunkSent(len(current))
		newSize := adaptChunkSize(chunkSize, len(rs.ch), cap(rs.ch), policy, metrics)
		if newSize != chunkSize {
			logger.Debug("pgwire: chunk size changed", "from", chunkSize, "to", newSize)
		}
		chunkSize = newSize
		current = nil
		return true
	}

	fail := func(err error) {
		rs.send(ctx, streamItem{err: err})
	}

	// finishQuery flushes any pending chunk, drains the ReadyForQuery that
	// follows CommandComplete/EmptyQueryResponse, and returns the
	// connection to StateReady before signaling End (spec §4.6).
	finishQuery := func() {
		if !sendChunk() {
			return
		}
		tag2, body2, err := rs.conn.framer.readMessage()
		if err != nil {
			fail(err)
			return
		}
		if tag2 != tagReadyForQuery {
			fail(newError(KindProtocol, "awaiting ReadyForQuery",
				fmt.Errorf("unexpected message tag %q", tag2)))
			return
		}
		if _, err := decodeReadyForQuery(body2); err != nil {
			fail(err)
			return
		}
		metrics.QueryElapsed(time.Since(start))
		rs.mu.Lock()
		rs.completed = true
		rs.mu.Unlock()
		rs.conn.setState(StateReady)
		logger.Debug("pgwire: query complete", "elapsed", time.Since(start).String())
		rs.send(ctx, streamItem{end: true})
	}

	for {
		if filtered > 0 {
			metrics.RowsFiltered(filtered)
			filtered = 0
		}

		if ctx.Err() != nil {
			fail(newError(KindCancelled, "streaming", ctx.Err()))
			return
		}

		if len(current) > 0 {
			_ = rs.conn.transport.SetDeadline(time.Now().Add(tailFlushTimeout))
		} else {
			_ = rs.conn.transport.SetDeadline(time.Time{})
		}

		tag, body, err := rs.conn.framer.readMessage()
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() && len(current) > 0 {
				if !sendChunk() {
					return
				}
				continue
			}
			if errors.Is(err, io.EOF) || isClosedConnError(err) {
				err = newError(KindCancelled, "streaming", err)
			}
			fail(err)
			return
		}
		_ = rs.conn.transport.SetDeadline(time.Time{})

		switch tag {
		case tagDataRow:
			raw, isNull, derr := decodeDataRow(body)
			metrics.BytesRead(len(body))
			if derr != nil {
				fail(derr)
				return
			}
			var value Value
			if !isNull {
				value, derr = rs.cfg.decoder()(raw)
				if derr != nil {
					if rs.cfg.DecodeErrorFatal {
						fail(derr)
						return
					}
					value = nil // non-fatal: slot becomes nil, the error is dropped
				}
			}
			if !rs.passesPredicates(value) {
				filtered++
				continue
			}
			metrics.RowsYielded(1)
			current = append(current, value)
			if len(current) >= chunkSize {
				if !sendChunk() {
					return
				}
			}
		case tagRowDescription:
			// Validated at the server; nothing to project beyond the single
			// JSON/JSONB column this client supports (spec §1).
		case tagCommandComplete:
			finishQuery()
			return
		case tagEmptyQueryResp:
			finishQuery()
			return
		case tagPortalSuspended:
			// Simple query protocol never suspends a portal; treated as
			// informational rather than fatal, matching spec §3's closed
			// variant list without inventing new failure behavior.
		case tagErrorResponse:
			detail, derr := decodeServerDetail(body)
			if derr != nil {
				fail(derr)
				return
			}
			fail(newServerError("query execution", detail))
			return
		case tagNoticeResponse, tagParameterStatus, tagNotificationResp:
			// Siphoned off per spec §5: never enters the row stream.
		default:
			fail(newError(KindProtocol, "query execution",
				errors.New("unexpected message tag during Executing")))
			return
		}
	}
}

// send delivers item through the bounded channel, respecting ctx
// cancellation so a consumer that stops reading cannot wedge the reader
// forever once the context is done.
func (rs *RowStream) send(ctx context.Context, item streamItem) bool {
	select {
	case rs.ch <- item:
		return true
	case <-ctx.Done():
		return false
	}
}

// passesPredicates applies the in-process predicate list (spec §4.6). SQL
// predicates are assumed already folded into the query text the caller
// passed to [*Connection.Query].
func (rs *RowStream) passesPredicates(v Value) bool {
	for _, p := range rs.predicates {
		if !p(v) {
			return false
		}
	}
	return true
}

// adaptChunkSize implements the adaptive sizing rule from spec §4.6: halve
// when the channel is at least 75% full, double when at most 25% full,
// always clamped to [min, max].
func adaptChunkSize(current, occupancy, depth int, policy ChunkingPolicy, metrics MetricsSink) int {
	if policy.Disabled || depth == 0 {
		return current
	}
	next := current
	switch {
	case occupancy*4 >= depth*3:
		next = current / 2
	case occupancy*4 <= depth*1:
		next = current * 2
	}
	if next < policy.Min {
		next = policy.Min
	}
	if next > policy.Max {
		next = policy.Max
	}
	if next != current {
		metrics.ChunkSizeChanged(next)
	}
	return next
}

// Next returns the next decoded value, or ok=false once the stream is
// exhausted or has terminated with an error (retrievable via [*RowStream.Err]).
// The terminal error is returned once; later calls return ok=false and a
// nil error.
func (rs *RowStream) Next(ctx context.Context) (Value, bool, error) {
	for {
		if rs.idx < len(rs.current) {
			v := rs.current[rs.idx]
			rs.idx++
			return v, true, nil
		}
		select {
		case item, ok := <-rs.ch:
			if !ok {
				return nil, false, nil
			}
			if item.err != nil {
				rs.mu.Lock()
				rs.lastErr = item.err
				rs.mu.Unlock()
				return nil, false, item.err
			}
			if item.end {
				return nil, false, nil
			}
			rs.current = item.values
			rs.idx = 0
		case <-ctx.Done():
			return nil, false, newError(KindCancelled, "Next", ctx.Err())
		}
	}
}

// Err returns the terminal error, if the stream ended with one.
func (rs *RowStream) Err() error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return rs.lastErr
}

// Pause suspends chunk delivery; rows already being read still accumulate
// into the current chunk (spec §4.6).
func (rs *RowStream) Pause() {
	rs.pause.pause()
}

// Resume lifts a prior Pause.
func (rs *RowStream) Resume() {
	rs.pause.resume()
}

// Cancel issues a best-effort CancelRequest over a fresh transport and
// returns once it has been dispatched, not once the server acknowledges it
// (spec §5). It is safe to call Cancel multiple times or after completion.
func (rs *RowStream) Cancel() {
	rs.mu.Lock()
	completed := rs.completed
	rs.mu.Unlock()
	if !completed {
		sendCancelRequest(context.Background(), rs.cfg, func() netDialer { return &net.Dialer{} }, rs.cancelKey)
	}
	rs.cancelCtx()
}

// Close is the explicit analog of the source design's Drop guard (spec
// §4.6 "Drop semantics"): it signals the reader to exit, issues a
// CancelRequest if the query has not completed, and closes the transport
// unconditionally. Idempotent; safe to call even if the stream already
// completed cleanly. Callers should defer Close rather than rely on the
// [runtime.SetFinalizer] backstop registered at construction, since
// finalizers run at an unspecified, possibly much later, time.
func (rs *RowStream) Close() error {
	rs.mu.Lock()
	if rs.closed {
		rs.mu.Unlock()
		return nil
	}
	rs.closed = true
	completed := rs.completed
	rs.mu.Unlock()

	if !completed {
		sendCancelRequest(context.Background(), rs.cfg, func() netDialer { return &net.Dialer{} }, rs.cancelKey)
		rs.conn.setState(StateClosed)
	}
	rs.cancelCtx()
	<-rs.readerDone
	runtime.SetFinalizer(rs, nil)

	// The watcher goroutine spawned in newRowStream may have already closed
	// the transport in reaction to cancelCtx; a second Close on most
	// net.Conn implementations reports net.ErrClosed rather than nil, which
	// would wrongly look like a failure here.
	if err := rs.conn.transport.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

// isClosedConnError reports whether err is the error net.Conn methods
// return after Close, which this package treats as a clean cancellation
// rather than an I/O failure when it happens on a reader we ourselves asked
// to stop.
func isClosedConnError(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
