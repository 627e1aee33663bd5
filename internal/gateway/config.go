package gateway

import (
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/simlink/internal/protocol/session"
)

// Pacing selects who advances frames.
type Pacing string

const (
	// PacingSynchronous: frames advance only on run-frames requests.
	PacingSynchronous Pacing = "synchronous"
	// PacingFree: the gateway advances frames on its own clock.
	PacingFree Pacing = "free"
)

func ParsePacing(raw string) (Pacing, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "", "sync", "synchronous":
		return PacingSynchronous, nil
	case "free", "free-running", "free_running", "freerunning":
		return PacingFree, nil
	default:
		return "", fmt.Errorf("gateway: unknown pacing %q", raw)
	}
}

// Gateway service configuration.
type ServiceConfig struct {
	GatewayID           string
	ListenAddr          string
	TelemetryListenAddr string
	TelemetryTargets    []string
	AdminListenAddr     string
	// AdminToken, when set, is required as a bearer token on the admin
	// data routes.
	AdminToken  string
	CORSOrigins []string
	Pacing      Pacing
	// FrequencyHz and Substeps drive free pacing.
	FrequencyHz float64
	Substeps    int
	// PollInterval bounds one accept poll and so paces an idle loop.
	PollInterval time.Duration
	// MaxClients caps open command connections; 0 means no cap.
	MaxClients int
	// AccumulatorLimit caps buffered telemetry datagrams between ticks.
	AccumulatorLimit int
	// MaxFramesPerTick bounds free-pacing catch-up after a stall.
	MaxFramesPerTick int
	// MaxScriptBytes caps a scenario script joined from its parts.
	MaxScriptBytes int
	Session        session.Config
}

func DefaultServiceConfig() ServiceConfig {
	return ServiceConfig{
		GatewayID:        "gateway.local",
		ListenAddr:       "127.0.0.1:7400",
		Pacing:           PacingSynchronous,
		FrequencyHz:      30,
		Substeps:         1,
		PollInterval:     5 * time.Millisecond,
		MaxClients:       0,
		AccumulatorLimit: 4096,
		MaxFramesPerTick: 10,
		MaxScriptBytes:   1 << 22,
		Session:          session.DefaultConfig(),
	}
}

func (c ServiceConfig) withDefaults() ServiceConfig {
	def := DefaultServiceConfig()
	if strings.TrimSpace(c.GatewayID) == "" {
		c.GatewayID = def.GatewayID
	}
	if strings.TrimSpace(c.ListenAddr) == "" {
		c.ListenAddr = def.ListenAddr
	}
	if c.Pacing == "" {
		c.Pacing = def.Pacing
	}
	if c.FrequencyHz <= 0 {
		c.FrequencyHz = def.FrequencyHz
	}
	if c.Substeps < 1 {
		c.Substeps = def.Substeps
	}
	if c.PollInterval <= 0 {
		c.PollInterval = def.PollInterval
	}
	if c.AccumulatorLimit <= 0 {
		c.AccumulatorLimit = def.AccumulatorLimit
	}
	if c.MaxFramesPerTick <= 0 {
		c.MaxFramesPerTick = def.MaxFramesPerTick
	}
	if c.MaxScriptBytes <= 0 {
		c.MaxScriptBytes = def.MaxScriptBytes
	}
	c.Session = c.Session.WithDefaults()
	return c
}
