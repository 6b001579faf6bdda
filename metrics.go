//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package pgwire

import (
	"sync/atomic"
	"time"
)

// MetricsSink receives counters from the streaming pipeline (spec §6). The
// core calls these inline; implementations must not block for long, since
// they run on the reader task's goroutine.
type MetricsSink interface {
	// RowsYielded is called once per value that passes the predicates and
	// enters a chunk.
	RowsYielded(n int)

	// RowsFiltered is called once per value dropped by a predicate.
	RowsFiltered(n int)

	// BytesRead is called once per DataRow with the length of its body.
	BytesRead(n int)

	// ChunkSent is called once per chunk handed to the bounded channel.
	ChunkSent(size int)

	// QueryElapsed is called once, when the query completes (CommandComplete
	// or EmptyQueryResponse followed by ReadyForQuery). It is not called
	// when the stream ends with an error or is cancelled.
	QueryElapsed(d time.Duration)

	// ChunkSizeChanged is called whenever the adaptive sizer changes the
	// chunk size that will apply to the next chunk.
	ChunkSizeChanged(newSize int)
}

// noopMetricsSink is the default [MetricsSink]: every method is a no-op.
type noopMetricsSink struct{}

func (noopMetricsSink) RowsYielded(int)          {}
func (noopMetricsSink) RowsFiltered(int)         {}
func (noopMetricsSink) BytesRead(int)            {}
func (noopMetricsSink) ChunkSent(int)            {}
func (noopMetricsSink) QueryElapsed(time.Duration) {}
func (noopMetricsSink) ChunkSizeChanged(int)     {}

// CountingMetricsSink is a small concrete [MetricsSink] useful for tests and
// examples: it accumulates totals using atomics so it is safe to read from a
// goroutine other than the pipeline's reader task.
type CountingMetricsSink struct {
	rowsYielded      atomic.Int64
	rowsFiltered     atomic.Int64
	bytesRead        atomic.Int64
	chunksSent       atomic.Int64
	lastChunkSize    atomic.Int64
	lastQueryElapsed atomic.Int64 // nanoseconds
}

var _ MetricsSink = (*CountingMetricsSink)(nil)

func (c *CountingMetricsSink) RowsYielded(n int)  { c.rowsYielded.Add(int64(n)) }
func (c *CountingMetricsSink) RowsFiltered(n int) { c.rowsFiltered.Add(int64(n)) }
func (c *CountingMetricsSink) BytesRead(n int)    { c.bytesRead.Add(int64(n)) }
func (c *CountingMetricsSink) ChunkSent(size int) {
	c.chunksSent.Add(1)
	c.lastChunkSize.Store(int64(size))
}
func (c *CountingMetricsSink) QueryElapsed(d time.Duration) { c.lastQueryElapsed.Store(int64(d)) }
func (c *CountingMetricsSink) ChunkSizeChanged(newSize int) { c.lastChunkSize.Store(int64(newSize)) }

// RowsYieldedTotal returns the current total.
func (c *CountingMetricsSink) RowsYieldedTotal() int64 { return c.rowsYielded.Load() }

// RowsFilteredTotal returns the current total.
func (c *CountingMetricsSink) RowsFilteredTotal() int64 { return c.rowsFiltered.Load() }

// ChunksSentTotal returns the current total.
func (c *CountingMetricsSink) ChunksSentTotal() int64 { return c.chunksSent.Load() }
