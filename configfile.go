//
// SPDX-License-Identifier: GPL-3.0-or-later
//
// Adapted from: rbmk-project/rbmk's gopkg.in/yaml.v3-backed configuration
// loading idiom (small struct, ParseTime-free handling, explicit
// translation into the runtime config), applied to spec §3's connection
// parameters so they can be loaded from a file instead of constructed in
// code.
//

package pgwire

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk YAML shape LoadConfig parses. Field names
// follow libpq's connection-parameter spelling (spec §6) rather than Go's
// usual camelCase, since this file is meant to be hand-written by an
// operator already familiar with that vocabulary.
type fileConfig struct {
	Host             string `yaml:"host"`
	SocketPath       string `yaml:"socket_path"`
	Port             int    `yaml:"port"`
	Database         string `yaml:"database"`
	User             string `yaml:"user"`
	Password         string `yaml:"password"`
	ApplicationName  string `yaml:"application_name"`
	SSLMode          string `yaml:"sslmode"`
	ConnectTimeout   string `yaml:"connect_timeout"`
	Keepalive        string `yaml:"keepalive"`
	ChannelDepth     int    `yaml:"channel_depth"`
	ChunkInitial     int    `yaml:"chunk_initial"`
	ChunkMin         int    `yaml:"chunk_min"`
	ChunkMax         int    `yaml:"chunk_max"`
	DecodeErrorFatal *bool  `yaml:"decode_error_fatal"`
}

// LoadConfig reads a YAML file at path and returns the [*ConnectionConfig]
// it describes. The password, if present, is embedded as a fixed
// [PasswordProvider]; callers who need to fetch it lazily should set
// cfg.Password themselves after loading.
func LoadConfig(path string) (*ConnectionConfig, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, newError(KindUsage, "LoadConfig", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return nil, newError(KindUsage, "LoadConfig", err)
	}

	cfg := NewConnectionConfig(fc.User, fc.Database)
	if fc.SocketPath != "" {
		cfg.WithUnixSocket(fc.SocketPath)
	} else {
		cfg.WithTCP(fc.Host, fc.Port)
	}
	cfg.ApplicationName = fc.ApplicationName

	if fc.Password != "" {
		password := fc.Password
		cfg.Password = func() (string, error) { return password, nil }
	}

	mode, err := parseSSLMode(fc.SSLMode)
	if err != nil {
		return nil, newError(KindUsage, "LoadConfig", err)
	}
	cfg.SSLMode = mode

	if fc.ConnectTimeout != "" {
		d, err := time.ParseDuration(fc.ConnectTimeout)
		if err != nil {
			return nil, newError(KindUsage, "LoadConfig", fmt.Errorf("connect_timeout: %w", err))
		}
		cfg.ConnectTimeout = d
	}
	if fc.Keepalive != "" {
		d, err := time.ParseDuration(fc.Keepalive)
		if err != nil {
			return nil, newError(KindUsage, "LoadConfig", fmt.Errorf("keepalive: %w", err))
		}
		cfg.Keepalive = d
	}
	if fc.ChannelDepth > 0 {
		cfg.ChannelDepth = fc.ChannelDepth
	}
	if fc.ChunkInitial > 0 || fc.ChunkMin > 0 || fc.ChunkMax > 0 {
		policy := DefaultChunkingPolicy()
		if fc.ChunkInitial > 0 {
			policy.Initial = fc.ChunkInitial
		}
		if fc.ChunkMin > 0 {
			policy.Min = fc.ChunkMin
		}
		if fc.ChunkMax > 0 {
			policy.Max = fc.ChunkMax
		}
		cfg.Chunking = policy
	}
	if fc.DecodeErrorFatal != nil {
		cfg.DecodeErrorFatal = *fc.DecodeErrorFatal
	}
	return cfg, nil
}

func parseSSLMode(s string) (SSLMode, error) {
	switch s {
	case "", "disable":
		return SSLModeDisable, nil
	case "require":
		return SSLModeRequire, nil
	case "verify-ca":
		return SSLModeVerifyCA, nil
	case "verify-full":
		return SSLModeVerifyFull, nil
	default:
		return 0, fmt.Errorf("unrecognized sslmode %q", s)
	}
}
