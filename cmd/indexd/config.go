package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/indexd/internal/pattern"
	"github.com/danmuck/indexd/internal/server"
)

type fileConfig struct {
	Host                    string   `toml:"host"`
	SendQueueSize           int      `toml:"send_queue_size"`
	MaxInflight             int      `toml:"max_inflight"`
	RequestTimeout          string   `toml:"request_timeout"`
	ConnectTimeout          string   `toml:"connect_timeout"`
	WriteTimeout            string   `toml:"write_timeout"`
	MaxConnectAttempts      int      `toml:"max_connect_attempts"`
	MaxPayloadBytes         int64    `toml:"max_payload_bytes"`
	ProjectMarkers          []string `toml:"project_markers"`
	Ignore                  []string `toml:"ignore"`
	Include                 []string `toml:"include"`
	CaseSensitive           bool     `toml:"case_sensitive"`
	AdminAddr               string   `toml:"admin_addr"`
	AdminCORSOrigins        []string `toml:"admin_cors_origins"`
	ProgressEventsPerSecond float64  `toml:"progress_events_per_second"`
	WatchRoots              bool     `toml:"watch_roots"`
	WatchDebounce           string   `toml:"watch_debounce"`
}

// loadServerConfig overlays the keys defined in the file at path onto the
// server defaults.
func loadServerConfig(path string) (server.Config, error) {
	cfg := server.DefaultConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return server.Config{}, fmt.Errorf("load indexd config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return server.Config{}, fmt.Errorf("load indexd config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("host") {
		if host := strings.TrimSpace(raw.Host); host != "" {
			cfg.Host = host
		}
	}
	if meta.IsDefined("send_queue_size") {
		cfg.Session.SendQueueSize = raw.SendQueueSize
	}
	if meta.IsDefined("max_inflight") {
		cfg.Session.MaxInflight = raw.MaxInflight
	}
	for _, d := range []struct {
		key string
		raw string
		dst *time.Duration
	}{
		{"request_timeout", raw.RequestTimeout, &cfg.Session.RequestTimeout},
		{"connect_timeout", raw.ConnectTimeout, &cfg.Session.ConnectTimeout},
		{"write_timeout", raw.WriteTimeout, &cfg.Session.WriteTimeout},
		{"watch_debounce", raw.WatchDebounce, &cfg.WatchDebounce},
	} {
		if !meta.IsDefined(d.key) {
			continue
		}
		v, err := time.ParseDuration(strings.TrimSpace(d.raw))
		if err != nil {
			return server.Config{}, fmt.Errorf("parse %s: %w", d.key, err)
		}
		*d.dst = v
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("max_payload_bytes") {
		if raw.MaxPayloadBytes <= 0 {
			return server.Config{}, fmt.Errorf("parse max_payload_bytes: must be positive, got %d", raw.MaxPayloadBytes)
		}
		cfg.Session.Limits.MaxPayloadBytes = uint64(raw.MaxPayloadBytes)
	}
	if meta.IsDefined("project_markers") {
		cfg.ProjectMarkers = normalizeList(raw.ProjectMarkers)
	}
	if meta.IsDefined("ignore") {
		cfg.Ignore = normalizeList(raw.Ignore)
	}
	if meta.IsDefined("include") {
		cfg.Include = normalizeList(raw.Include)
	}
	if meta.IsDefined("case_sensitive") {
		cfg.Comparer = pattern.CaseInsensitive
		if raw.CaseSensitive {
			cfg.Comparer = pattern.CaseSensitive
		}
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = normalizeList(raw.AdminCORSOrigins)
	}
	if meta.IsDefined("progress_events_per_second") {
		cfg.ProgressEventsPerSecond = raw.ProgressEventsPerSecond
	}
	if meta.IsDefined("watch_roots") {
		cfg.WatchRoots = raw.WatchRoots
	}
	return cfg, nil
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
