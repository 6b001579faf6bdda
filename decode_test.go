//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package pgwire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestDefaultDecoderObject(t *testing.T) {
	v, err := DefaultDecoder([]byte(`{"a":1,"b":"two"}`))
	require.NoError(t, err)

	want := map[string]any{"a": 1.0, "b": "two"}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("decoded value mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultDecoderArray(t *testing.T) {
	v, err := DefaultDecoder([]byte(`[1,2,3]`))
	require.NoError(t, err)
	want := []any{1.0, 2.0, 3.0}
	if diff := cmp.Diff(want, v); diff != "" {
		t.Fatalf("decoded value mismatch (-want +got):\n%s", diff)
	}
}

func TestDefaultDecoderRejectsMalformedJSON(t *testing.T) {
	_, err := DefaultDecoder([]byte(`{not json`))
	require.Error(t, err)
	var pgErr *Error
	require.ErrorAs(t, err, &pgErr)
	require.Equal(t, KindDecode, pgErr.Kind)
}
