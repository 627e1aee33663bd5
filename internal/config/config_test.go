package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/danmuck/simlink/internal/sandbox"
	"github.com/danmuck/simlink/internal/testutil/testlog"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestClientTemplateLoads(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "client.toml")
	if err := WriteTemplate(path, "client", false); err != nil {
		t.Fatalf("write template: %v", err)
	}
	cfg, err := LoadClientConfig(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.SpawnDelay.Duration != 250*time.Millisecond || cfg.Port != 7400 || cfg.Companion != "manual:127.0.0.1:7400" {
		t.Fatalf("unexpected client config: %+v", cfg)
	}
	if err := WriteTemplate(path, "client", false); err == nil {
		t.Fatalf("expected refusal to overwrite")
	}
	if err := WriteTemplate(path, "client", true); err != nil {
		t.Fatalf("forced overwrite: %v", err)
	}
}

func TestClientConfigKeepsDefaultsAndValidates(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cfg, err := LoadClientConfig(writeFile(t, dir, "partial.toml", "mode = \"free\"\nport = 7555\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != 7555 || cfg.ReadTimeout.Duration != 15*time.Second || cfg.Output != "table" {
		t.Fatalf("defaults not kept: %+v", cfg)
	}
	if _, err := LoadClientConfig(writeFile(t, dir, "bad.toml", "mode = \"warp\"\n")); err == nil {
		t.Fatalf("expected unknown mode error")
	}
	if _, err := LoadClientConfig(writeFile(t, dir, "dur.toml", "spawn_delay = \"soon\"\n")); err == nil {
		t.Fatalf("expected duration parse error")
	}
}

func TestScenarioTemplateWithFixture(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "two-cars.toml")
	if err := WriteTemplate(manifestPath, "scenario", false); err != nil {
		t.Fatalf("write scenario: %v", err)
	}
	if err := WriteTemplate(filepath.Join(dir, "two-cars.fixture"), "fixture", false); err != nil {
		t.Fatalf("write fixture: %v", err)
	}
	m, err := LoadScenario(manifestPath)
	if err != nil {
		t.Fatalf("load scenario: %v", err)
	}
	if m.Frames != 90 || len(m.Controls) != 2 || len(m.Dials) != 1 {
		t.Fatalf("unexpected manifest: %+v", m)
	}
	script, err := m.ReadScript()
	if err != nil {
		t.Fatalf("read script: %v", err)
	}
	w := sandbox.NewWorld()
	if err := w.LoadScenario(script, m.Params()); err != nil {
		t.Fatalf("fixture template should load: %v", err)
	}
}

func TestScenarioValidation(t *testing.T) {
	testlog.Start(t)
	dir := t.TempDir()
	cases := map[string]string{
		"no script":     "frames = 1\n",
		"bad command":   "script = \"x\"\nframes = 5\n[[controls]]\nframe = 1\nowner = 1\ncommand = \"jump\"\n",
		"late control":  "script = \"x\"\nframes = 5\n[[controls]]\nframe = 9\nowner = 1\ncommand = \"turn_left\"\n",
		"dial no value": "script = \"x\"\nframes = 5\n[[dials]]\nframe = 1\nowner = 1\ndial = \"MaxSpeed\"\n",
		"zero hz":       "script = \"x\"\nfrequency_hz = 0.0\n",
	}
	for name, body := range cases {
		path := writeFile(t, dir, strings.ReplaceAll(name, " ", "_")+".toml", body)
		if _, err := LoadScenario(path); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
}

func TestTemplateUnknownKind(t *testing.T) {
	testlog.Start(t)
	for _, kind := range Kinds {
		if _, err := Template(kind); err != nil {
			t.Fatalf("kind %s: %v", kind, err)
		}
	}
	if _, err := Template("warp"); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}
