// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/bassosimone/servio"
)

// demoConfig contains the settings of the demo server.
type demoConfig struct {
	// ListenAddr is the TCP address to listen on.
	ListenAddr string

	// BufferCapacity is the capacity of each [servio.Buffer] queue.
	BufferCapacity int

	// BridgeFairness is the WebSocket bridge fairness policy.
	BridgeFairness servio.BridgeFairness

	// H2C enables cleartext HTTP/2.
	H2C bool

	// LogLevel is the minimum level of the emitted logs.
	LogLevel slog.Level

	// MetricsPath is the path serving Prometheus metrics, or empty.
	MetricsPath string
}

// defaultDemoConfig returns the settings used without a config file.
func defaultDemoConfig() demoConfig {
	return demoConfig{
		ListenAddr:     "127.0.0.1:8080",
		BufferCapacity: servio.DefaultBufferCapacity,
		BridgeFairness: servio.FairnessRandom,
		H2C:            false,
		LogLevel:       slog.LevelInfo,
		MetricsPath:    "/metrics",
	}
}

// fileConfig is the config.toml key mapping to [demoConfig].
type fileConfig struct {
	ListenAddr     string `toml:"listen_addr"`
	BufferCapacity int    `toml:"buffer_capacity"`
	BridgeFairness string `toml:"bridge_fairness"`
	H2C            bool   `toml:"h2c"`
	LogLevel       string `toml:"log_level"`
	MetricsPath    string `toml:"metrics_path"`
}

// loadDemoConfig overlays the keys defined in the TOML file at path on the defaults.
func loadDemoConfig(path string) (demoConfig, error) {
	cfg := defaultDemoConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return demoConfig{}, fmt.Errorf("load demo config: %w", err)
	}

	if meta.IsDefined("listen_addr") {
		cfg.ListenAddr = strings.TrimSpace(raw.ListenAddr)
	}
	if meta.IsDefined("buffer_capacity") {
		if raw.BufferCapacity <= 0 {
			return demoConfig{}, fmt.Errorf("load demo config: buffer_capacity must be positive, got %d", raw.BufferCapacity)
		}
		cfg.BufferCapacity = raw.BufferCapacity
	}
	if meta.IsDefined("bridge_fairness") {
		fairness, err := servio.ParseBridgeFairness(strings.TrimSpace(raw.BridgeFairness))
		if err != nil {
			return demoConfig{}, fmt.Errorf("load demo config: %w", err)
		}
		cfg.BridgeFairness = fairness
	}
	if meta.IsDefined("h2c") {
		cfg.H2C = raw.H2C
	}
	if meta.IsDefined("log_level") {
		if err := cfg.LogLevel.UnmarshalText([]byte(strings.TrimSpace(raw.LogLevel))); err != nil {
			return demoConfig{}, fmt.Errorf("load demo config: %w", err)
		}
	}
	if meta.IsDefined("metrics_path") {
		cfg.MetricsPath = strings.TrimSpace(raw.MetricsPath)
	}

	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return demoConfig{}, fmt.Errorf("load demo config: unknown keys %v", undecoded)
	}
	return cfg, nil
}
