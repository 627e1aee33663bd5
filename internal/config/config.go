package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/pelletier/go-toml/v2"
)

// Duration reads TOML strings such as "250ms" or "5s".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ClientConfig is a simctl connection profile.
type ClientConfig struct {
	Mode               string   `toml:"mode"`
	Companion          string   `toml:"companion"`
	Host               string   `toml:"host"`
	Port               int      `toml:"port"`
	BinDir             string   `toml:"bin_dir"`
	CompanionBinary    string   `toml:"companion_binary"`
	CompanionArgs      []string `toml:"companion_args"`
	ListenAddr         string   `toml:"listen_addr"`
	SpawnDelay         Duration `toml:"spawn_delay"`
	ConnectTimeout     Duration `toml:"connect_timeout"`
	ReadTimeout        Duration `toml:"read_timeout"`
	WriteTimeout       Duration `toml:"write_timeout"`
	MaxConnectAttempts int      `toml:"max_connect_attempts"`
	TelemetryAddr      string   `toml:"telemetry_addr"`
	Output             string   `toml:"output"`
}

func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		Mode:               "synchronous",
		Companion:          "manual:127.0.0.1:7400",
		Host:               "127.0.0.1",
		Port:               7400,
		CompanionBinary:    "gatewayd",
		ListenAddr:         "127.0.0.1:7400",
		SpawnDelay:         Duration{250 * time.Millisecond},
		ConnectTimeout:     Duration{5 * time.Second},
		ReadTimeout:        Duration{15 * time.Second},
		WriteTimeout:       Duration{15 * time.Second},
		MaxConnectAttempts: 5,
		Output:             "table",
	}
}

// LoadClientConfig reads a profile over DefaultClientConfig.
func LoadClientConfig(path string) (ClientConfig, error) {
	cfg := DefaultClientConfig()
	if err := loadToml(path, &cfg); err != nil {
		return ClientConfig{}, err
	}
	if err := ValidateClientConfig(cfg); err != nil {
		return ClientConfig{}, err
	}
	return cfg, nil
}

func ValidateClientConfig(cfg ClientConfig) error {
	switch strings.ToLower(strings.TrimSpace(cfg.Mode)) {
	case "synchronous", "sync", "free", "free_running", "free-running":
	default:
		return fmt.Errorf("client config: unknown mode %q", cfg.Mode)
	}
	if cfg.Port < 0 || cfg.Port > 65535 {
		return fmt.Errorf("client config: port %d out of range", cfg.Port)
	}
	if cfg.MaxConnectAttempts < 0 {
		return fmt.Errorf("client config: max_connect_attempts must not be negative")
	}
	switch cfg.Output {
	case "", "table", "json", "yaml":
	default:
		return fmt.Errorf("client config: unknown output format %q", cfg.Output)
	}
	return nil
}

// ScenarioManifest describes a synchronous run: the script, the
// simulation parameters, and timed control actions.
type ScenarioManifest struct {
	Name        string          `toml:"name"`
	Script      string          `toml:"script"`
	LRIDir      string          `toml:"lri_dir"`
	ScenarioDir string          `toml:"scenario_dir"`
	FrequencyHz float64         `toml:"frequency_hz"`
	Substeps    int             `toml:"substeps"`
	Frames      int             `toml:"frames"`
	Controls    []ControlAction `toml:"controls"`
	Dials       []DialAction    `toml:"dials"`

	// directory of the manifest file; Script is resolved against it
	dir string
}

// ControlAction sends a control command before the given frame runs.
type ControlAction struct {
	Frame   int     `toml:"frame"`
	Owner   int32   `toml:"owner"`
	Command string  `toml:"command"`
	Value   float64 `toml:"value"`
}

// DialAction sets or resets a dial before the given frame runs.
type DialAction struct {
	Frame int    `toml:"frame"`
	Owner int32  `toml:"owner"`
	Dial  string `toml:"dial"`
	Value string `toml:"value"`
	Reset bool   `toml:"reset"`
}

func LoadScenario(path string) (ScenarioManifest, error) {
	m := ScenarioManifest{FrequencyHz: 30, Substeps: 1}
	if err := loadToml(path, &m); err != nil {
		return ScenarioManifest{}, err
	}
	m.dir = filepath.Dir(path)
	if strings.TrimSpace(m.Name) == "" {
		m.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	if err := ValidateScenario(m); err != nil {
		return ScenarioManifest{}, err
	}
	return m, nil
}

func ValidateScenario(m ScenarioManifest) error {
	if strings.TrimSpace(m.Script) == "" {
		return fmt.Errorf("scenario %q: script is required", m.Name)
	}
	if m.FrequencyHz <= 0 {
		return fmt.Errorf("scenario %q: frequency_hz must be positive", m.Name)
	}
	if m.Substeps < 1 {
		return fmt.Errorf("scenario %q: substeps must be at least 1", m.Name)
	}
	if m.Frames < 0 {
		return fmt.Errorf("scenario %q: frames must not be negative", m.Name)
	}
	for i, c := range m.Controls {
		if c.Frame < 0 || c.Frame > m.Frames {
			return fmt.Errorf("scenario %q: controls[%d] frame %d outside 0..%d", m.Name, i, c.Frame, m.Frames)
		}
		if _, err := message.ParseControlCommand(c.Command); err != nil {
			return fmt.Errorf("scenario %q: controls[%d]: %w", m.Name, i, err)
		}
	}
	for i, d := range m.Dials {
		if d.Frame < 0 || d.Frame > m.Frames {
			return fmt.Errorf("scenario %q: dials[%d] frame %d outside 0..%d", m.Name, i, d.Frame, m.Frames)
		}
		if strings.TrimSpace(d.Dial) == "" {
			return fmt.Errorf("scenario %q: dials[%d]: dial is required", m.Name, i)
		}
		if !d.Reset && strings.TrimSpace(d.Value) == "" {
			return fmt.Errorf("scenario %q: dials[%d]: value is required unless reset", m.Name, i)
		}
	}
	return nil
}

// ScriptPath resolves Script against the manifest's directory.
func (m ScenarioManifest) ScriptPath() string {
	if filepath.IsAbs(m.Script) || m.dir == "" {
		return m.Script
	}
	return filepath.Join(m.dir, m.Script)
}

func (m ScenarioManifest) ReadScript() ([]byte, error) {
	data, err := os.ReadFile(m.ScriptPath())
	if err != nil {
		return nil, fmt.Errorf("scenario %q: read script: %w", m.Name, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("scenario %q: script %s is empty", m.Name, m.ScriptPath())
	}
	return data, nil
}

// Params returns the simulation parameters message for the manifest.
func (m ScenarioManifest) Params() message.SimParams {
	return message.SimParams{
		FrequencyHz: m.FrequencyHz,
		Substeps:    int32(m.Substeps),
		LRIDir:      m.LRIDir,
		ScenarioDir: m.ScenarioDir,
	}
}

func loadToml(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", path, err)
	}
	if err := toml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("config parse failed (%s): %w", path, err)
	}
	return nil
}
