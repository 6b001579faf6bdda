//
// SPDX-License-Identifier: GPL-3.0-or-later
//

package pgwire

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func writeTestConfig(t *testing.T, contents string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "pgwire.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoadConfigMinimal(t *testing.T) {
	path := writeTestConfig(t, `
host: db.internal
port: 5432
database: app_db
user: alice
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, "db.internal", cfg.Host)
	require.Equal(t, 5432, cfg.Port)
	require.Equal(t, "app_db", cfg.Database)
	require.Equal(t, "alice", cfg.User)
	require.Equal(t, SSLModeDisable, cfg.SSLMode)
}

func TestLoadConfigFullySpecified(t *testing.T) {
	path := writeTestConfig(t, `
host: db.internal
port: 5432
database: app_db
user: alice
password: s3cret
application_name: reports
sslmode: verify-full
connect_timeout: 10s
keepalive: 30s
channel_depth: 8
chunk_initial: 64
chunk_min: 8
chunk_max: 1024
decode_error_fatal: false
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.Equal(t, SSLModeVerifyFull, cfg.SSLMode)
	require.Equal(t, 8, cfg.ChannelDepth)
	require.Equal(t, 64, cfg.Chunking.Initial)
	require.Equal(t, 8, cfg.Chunking.Min)
	require.Equal(t, 1024, cfg.Chunking.Max)
	require.False(t, cfg.DecodeErrorFatal)

	require.NotNil(t, cfg.Password)
	pw, err := cfg.Password()
	require.NoError(t, err)
	require.Equal(t, "s3cret", pw)
}

func TestLoadConfigUnixSocket(t *testing.T) {
	path := writeTestConfig(t, `
socket_path: /var/run/postgresql/.s.PGSQL.5432
database: app_db
user: alice
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	require.True(t, cfg.isUnix())
}

func TestLoadConfigRejectsUnknownSSLMode(t *testing.T) {
	path := writeTestConfig(t, `
host: db.internal
database: app_db
user: alice
sslmode: bogus
`)
	_, err := LoadConfig(path)
	require.Error(t, err)
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}
