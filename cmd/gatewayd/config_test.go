package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/danmuck/simlink/internal/config"
	"github.com/danmuck/simlink/internal/gateway"
	"github.com/danmuck/simlink/internal/testutil/testlog"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "gateway.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDaemonConfigFromTemplate(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "gateway.toml")
	if err := config.WriteTemplate(path, "gateway", false); err != nil {
		t.Fatalf("write template: %v", err)
	}

	cfg, err := loadDaemonConfig(path)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Service.GatewayID != "gateway.local" {
		t.Fatalf("unexpected id: %q", cfg.Service.GatewayID)
	}
	if cfg.Service.Pacing != gateway.PacingSynchronous {
		t.Fatalf("unexpected pacing: %q", cfg.Service.Pacing)
	}
	if cfg.Service.PollInterval != 5*time.Millisecond {
		t.Fatalf("unexpected poll interval: %v", cfg.Service.PollInterval)
	}
	if cfg.Service.TelemetryListenAddr != "127.0.0.1:7401" {
		t.Fatalf("unexpected telemetry listen: %q", cfg.Service.TelemetryListenAddr)
	}
	if len(cfg.Service.TelemetryTargets) != 0 {
		t.Fatalf("unexpected telemetry targets: %+v", cfg.Service.TelemetryTargets)
	}
	if cfg.Service.AdminListenAddr != "127.0.0.1:7480" {
		t.Fatalf("unexpected admin listen: %q", cfg.Service.AdminListenAddr)
	}
	if len(cfg.Service.CORSOrigins) != 1 {
		t.Fatalf("unexpected cors origins: %+v", cfg.Service.CORSOrigins)
	}
	if cfg.Service.Session.ReadTimeout != 15*time.Second {
		t.Fatalf("unexpected read timeout: %v", cfg.Service.Session.ReadTimeout)
	}
	if cfg.Service.Session.Limits.MaxFrameBytes != 16384 {
		t.Fatalf("unexpected max frame bytes: %d", cfg.Service.Session.Limits.MaxFrameBytes)
	}
	if cfg.Service.MaxScriptBytes != 4194304 {
		t.Fatalf("unexpected max script bytes: %d", cfg.Service.MaxScriptBytes)
	}
	if cfg.Scenario != "" || cfg.LogFile != "" {
		t.Fatalf("expected empty scenario and log file: %+v", cfg)
	}
}

func TestLoadDaemonConfigOverridesAndErrors(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfg, err := loadDaemonConfig(writeConfig(t, dir, `
pacing = "free-running"
frequency_hz = 60.0
scenario = "runs/two-cars.toml"
telemetry_targets = [" 127.0.0.1:7500 ", ""]
`))
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.Service.Pacing != gateway.PacingFree || cfg.Service.FrequencyHz != 60 {
		t.Fatalf("unexpected pacing config: %+v", cfg.Service)
	}
	if cfg.Service.ListenAddr != "127.0.0.1:7400" {
		t.Fatalf("default addr not kept: %q", cfg.Service.ListenAddr)
	}
	if cfg.Scenario != filepath.Join(dir, "runs", "two-cars.toml") {
		t.Fatalf("scenario not resolved against config dir: %q", cfg.Scenario)
	}
	if len(cfg.Service.TelemetryTargets) != 1 || cfg.Service.TelemetryTargets[0] != "127.0.0.1:7500" {
		t.Fatalf("unexpected telemetry targets: %+v", cfg.Service.TelemetryTargets)
	}

	bad := map[string]string{
		"pacing":      `pacing = "lockstep"`,
		"duration":    `read_timeout = "forever"`,
		"frequency":   `frequency_hz = 0.0`,
		"script cap":  `max_script_bytes = 0`,
		"unknown key": `seeds = ["a"]`,
	}
	for name, body := range bad {
		if _, err := loadDaemonConfig(writeConfig(t, dir, body)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyFlagsOverrideConfig(t *testing.T) {
	testlog.Start(t)
	cfg := defaultDaemonConfig()
	if err := applyFlags(&cfg, "127.0.0.1:0", "free", "s.toml"); err != nil {
		t.Fatalf("apply flags: %v", err)
	}
	if cfg.Service.ListenAddr != "127.0.0.1:0" || cfg.Service.Pacing != gateway.PacingFree || cfg.Scenario != "s.toml" {
		t.Fatalf("flags not applied: %+v", cfg)
	}
	if err := applyFlags(&cfg, "", "warp", ""); err == nil {
		t.Fatalf("expected bad pacing flag rejected")
	}
}

func TestBuildServicePreloadsFreeScenario(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	manifest := filepath.Join(dir, "two-cars.toml")
	if err := config.WriteTemplate(manifest, "scenario", false); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	if err := config.WriteTemplate(filepath.Join(dir, "two-cars.fixture"), "fixture", false); err != nil {
		t.Fatalf("write fixture: %v", err)
	}

	cfg := defaultDaemonConfig()
	cfg.Service.Pacing = gateway.PacingFree
	cfg.Scenario = manifest
	svc, err := buildService(cfg)
	if err != nil {
		t.Fatalf("build service: %v", err)
	}
	if svc.Config().Pacing != gateway.PacingFree {
		t.Fatalf("unexpected pacing: %q", svc.Config().Pacing)
	}

	cfg.Scenario = filepath.Join(dir, "missing.toml")
	if _, err := buildService(cfg); err == nil {
		t.Fatalf("expected missing manifest error")
	}
}
