//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package pgwire

import "encoding/json"

// Value is the decoded form of one DataRow's single JSON/JSONB column. It is
// opaque to this package: values flow through predicates and the streaming
// channel without interpretation (spec §6).
type Value = any

// Decoder decodes a DataRow's raw column bytes into a [Value]. The core
// never interprets the JSON itself; this is the external collaborator
// named in spec §6.
type Decoder func(raw []byte) (Value, error)

// DefaultDecoder decodes raw bytes as JSON using the standard library. No
// JSON parsing library appears anywhere in the retrieved reference corpus'
// dependency graphs, so the standard library is the grounded choice for
// this one concern; see DESIGN.md.
func DefaultDecoder(raw []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil, newError(KindDecode, "decoding JSON column", err)
	}
	return v, nil
}

// Predicate filters a decoded [Value]; returning false drops the value
// before it enters a chunk (spec §4.6).
type Predicate func(Value) bool
