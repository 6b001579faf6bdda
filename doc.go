// SPDX-License-Identifier: GPL-3.0-or-later

// Package pgwire implements a narrow, streaming client for the PostgreSQL
// wire protocol (protocol version 3), restricted to a single query shape:
//
//	SELECT data FROM <relation> [WHERE ...] [ORDER BY ...] [LIMIT n] [OFFSET m]
//
// where the single result column holds JSON or JSONB. Results are exposed as
// a lazy, backpressure-aware stream of decoded JSON values rather than a
// fully materialized result set.
//
// The package covers wire framing, startup, authentication (cleartext,
// SCRAM-SHA-256, SCRAM-SHA-256-PLUS with channel binding), optional in-band
// TLS upgrade, simple-query execution, cancellation, and the streaming
// pipeline that turns DataRow frames into a bounded, chunked, filterable
// sequence of values.
//
// Deliberately out of scope: the extended (parameterized) query protocol,
// prepared statements, transactions, write operations, multi-column result
// sets, connection pooling, server cursors, and the bulk-copy subprotocol.
package pgwire
