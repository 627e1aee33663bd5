package main

import (
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/simlink/internal/gateway"
)

type fileConfig struct {
	ID                  string   `toml:"id"`
	Addr                string   `toml:"addr"`
	Pacing              string   `toml:"pacing"`
	FrequencyHz         float64  `toml:"frequency_hz"`
	Substeps            int      `toml:"substeps"`
	PollInterval        string   `toml:"poll_interval"`
	MaxClients          int      `toml:"max_clients"`
	TelemetryListenAddr string   `toml:"telemetry_listen_addr"`
	TelemetryTargets    []string `toml:"telemetry_targets"`
	AccumulatorLimit    int      `toml:"accumulator_limit"`
	MaxScriptBytes      int      `toml:"max_script_bytes"`
	AdminListenAddr     string   `toml:"admin_listen_addr"`
	AdminToken          string   `toml:"admin_token"`
	CORSOrigins         []string `toml:"cors_origins"`
	ConnectTimeout      string   `toml:"connect_timeout"`
	ReadTimeout         string   `toml:"read_timeout"`
	WriteTimeout        string   `toml:"write_timeout"`
	MaxFrameBytes       int      `toml:"max_frame_bytes"`
	Scenario            string   `toml:"scenario"`
	LogFile             string   `toml:"log_file"`
}

// daemonConfig is the gateway service config plus the process-level
// settings that live outside the service.
type daemonConfig struct {
	Service gateway.ServiceConfig
	// Scenario is a manifest preloaded under free pacing.
	Scenario string
	LogFile  string
}

func defaultDaemonConfig() daemonConfig {
	return daemonConfig{Service: gateway.DefaultServiceConfig()}
}

func loadDaemonConfig(path string) (daemonConfig, error) {
	cfg := defaultDaemonConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return daemonConfig{}, fmt.Errorf("load gateway config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return daemonConfig{}, fmt.Errorf("load gateway config: unknown key %q", undecoded[0].String())
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ID); id != "" {
			cfg.Service.GatewayID = id
		}
	}
	if meta.IsDefined("addr") {
		cfg.Service.ListenAddr = strings.TrimSpace(raw.Addr)
	}
	if meta.IsDefined("pacing") {
		p, err := gateway.ParsePacing(raw.Pacing)
		if err != nil {
			return daemonConfig{}, err
		}
		cfg.Service.Pacing = p
	}
	if meta.IsDefined("frequency_hz") {
		if raw.FrequencyHz <= 0 {
			return daemonConfig{}, fmt.Errorf("frequency_hz must be positive, got %g", raw.FrequencyHz)
		}
		cfg.Service.FrequencyHz = raw.FrequencyHz
	}
	if meta.IsDefined("substeps") {
		if raw.Substeps < 1 {
			return daemonConfig{}, fmt.Errorf("substeps must be at least 1, got %d", raw.Substeps)
		}
		cfg.Service.Substeps = raw.Substeps
	}
	if err := overlayDuration(meta, "poll_interval", raw.PollInterval, &cfg.Service.PollInterval); err != nil {
		return daemonConfig{}, err
	}
	if meta.IsDefined("max_clients") {
		if raw.MaxClients < 0 {
			return daemonConfig{}, fmt.Errorf("max_clients must not be negative")
		}
		cfg.Service.MaxClients = raw.MaxClients
	}
	if meta.IsDefined("telemetry_listen_addr") {
		cfg.Service.TelemetryListenAddr = strings.TrimSpace(raw.TelemetryListenAddr)
	}
	if meta.IsDefined("telemetry_targets") {
		cfg.Service.TelemetryTargets = normalizeList(raw.TelemetryTargets)
	}
	if meta.IsDefined("accumulator_limit") {
		cfg.Service.AccumulatorLimit = raw.AccumulatorLimit
	}
	if meta.IsDefined("max_script_bytes") {
		if raw.MaxScriptBytes < 1 {
			return daemonConfig{}, fmt.Errorf("max_script_bytes must be positive, got %d", raw.MaxScriptBytes)
		}
		cfg.Service.MaxScriptBytes = raw.MaxScriptBytes
	}
	if meta.IsDefined("admin_listen_addr") {
		cfg.Service.AdminListenAddr = strings.TrimSpace(raw.AdminListenAddr)
	}
	if meta.IsDefined("admin_token") {
		cfg.Service.AdminToken = strings.TrimSpace(raw.AdminToken)
	}
	if meta.IsDefined("cors_origins") {
		cfg.Service.CORSOrigins = normalizeList(raw.CORSOrigins)
	}
	if err := overlayDuration(meta, "connect_timeout", raw.ConnectTimeout, &cfg.Service.Session.ConnectTimeout); err != nil {
		return daemonConfig{}, err
	}
	if err := overlayDuration(meta, "read_timeout", raw.ReadTimeout, &cfg.Service.Session.ReadTimeout); err != nil {
		return daemonConfig{}, err
	}
	if err := overlayDuration(meta, "write_timeout", raw.WriteTimeout, &cfg.Service.Session.WriteTimeout); err != nil {
		return daemonConfig{}, err
	}
	if meta.IsDefined("max_frame_bytes") {
		cfg.Service.Session.Limits.MaxFrameBytes = raw.MaxFrameBytes
	}
	if meta.IsDefined("scenario") {
		cfg.Scenario = resolveRelative(path, raw.Scenario)
	}
	if meta.IsDefined("log_file") {
		cfg.LogFile = resolveRelative(path, raw.LogFile)
	}
	return cfg, nil
}

func overlayDuration(meta toml.MetaData, key, raw string, dst *time.Duration) error {
	if !meta.IsDefined(key) {
		return nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return fmt.Errorf("parse %s: %w", key, err)
	}
	*dst = d
	return nil
}

func resolveRelative(configPath, raw string) string {
	v := strings.TrimSpace(raw)
	if v == "" || filepath.IsAbs(v) {
		return v
	}
	return filepath.Join(filepath.Dir(configPath), v)
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		if v := strings.TrimSpace(item); v != "" {
			out = append(out, v)
		}
	}
	return out
}
