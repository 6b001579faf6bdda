//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package pgwire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConnectionConfigDefaults(t *testing.T) {
	cfg := NewConnectionConfig("alice", "app_db")
	require.Equal(t, SSLModeDisable, cfg.SSLMode)
	require.Equal(t, 4, cfg.channelDepth())
	require.Equal(t, DefaultChunkingPolicy(), cfg.chunkingPolicy())
	require.True(t, cfg.DecodeErrorFatal)
}

func TestWithUnixSocketClearsHost(t *testing.T) {
	cfg := NewConnectionConfig("alice", "app_db").WithTCP("db.internal", 5432)
	cfg.WithUnixSocket("/tmp/.s.PGSQL.5432")
	require.True(t, cfg.isUnix())
	require.Empty(t, cfg.Host)
}

func TestWithTCPClearsSocketPath(t *testing.T) {
	cfg := NewConnectionConfig("alice", "app_db").WithUnixSocket("/tmp/.s.PGSQL.5432")
	cfg.WithTCP("db.internal", 5432)
	require.False(t, cfg.isUnix())
	require.Empty(t, cfg.SocketPath)
}

func TestEffectiveSSLModeIgnoredForUnix(t *testing.T) {
	cfg := NewConnectionConfig("alice", "app_db").WithUnixSocket("/tmp/.s.PGSQL.5432")
	cfg.SSLMode = SSLModeVerifyFull
	require.Equal(t, SSLModeDisable, cfg.effectiveSSLMode())
}

func TestDialTarget(t *testing.T) {
	cfg := NewConnectionConfig("alice", "app_db").WithTCP("db.internal", 5432)
	network, address := cfg.dialTarget()
	require.Equal(t, "tcp", network)
	require.Equal(t, "db.internal:5432", address)

	cfg.WithUnixSocket("/tmp/.s.PGSQL.5432")
	network, address = cfg.dialTarget()
	require.Equal(t, "unix", network)
	require.Equal(t, "/tmp/.s.PGSQL.5432", address)
}

func TestLoggerMetricsDecoderFallbacks(t *testing.T) {
	cfg := NewConnectionConfig("alice", "app_db")
	require.NotNil(t, cfg.logger())
	require.NotNil(t, cfg.metrics())
	require.NotNil(t, cfg.decoder())
}
