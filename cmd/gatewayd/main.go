package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/simlink/internal/config"
	"github.com/danmuck/simlink/internal/gateway"
	"github.com/danmuck/simlink/internal/logging"
	"github.com/danmuck/simlink/internal/sandbox"
	"github.com/rs/zerolog/log"
)

var _ gateway.Simulation = (*sandbox.World)(nil)

func main() {
	configPath := flag.String("config", "", "gateway config file (toml)")
	listen := flag.String("listen", "", "command listen address, overrides config addr")
	pacing := flag.String("pacing", "", "synchronous|free, overrides config pacing")
	scenario := flag.String("scenario", "", "scenario manifest preloaded under free pacing")
	check := flag.Bool("check", false, "validate the config and scenario, then exit")
	flag.Parse()

	if err := run(*configPath, *listen, *pacing, *scenario, *check); err != nil {
		fmt.Fprintf(os.Stderr, "gatewayd: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, listen, pacing, scenario string, check bool) error {
	cfg := defaultDaemonConfig()
	if strings.TrimSpace(configPath) != "" {
		loaded, err := loadDaemonConfig(configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if err := applyFlags(&cfg, listen, pacing, scenario); err != nil {
		return err
	}
	logging.ConfigureFile(logging.ProfileRuntime, cfg.LogFile)

	svc, err := buildService(cfg)
	if err != nil {
		return err
	}
	if check {
		log.Info().Msgf("gatewayd.run config ok id=%q addr=%q pacing=%s", svc.Config().GatewayID, svc.Config().ListenAddr, svc.Config().Pacing)
		return nil
	}
	return svc.Run()
}

func applyFlags(cfg *daemonConfig, listen, pacing, scenario string) error {
	if v := strings.TrimSpace(listen); v != "" {
		cfg.Service.ListenAddr = v
	}
	if strings.TrimSpace(pacing) != "" {
		p, err := gateway.ParsePacing(pacing)
		if err != nil {
			return err
		}
		cfg.Service.Pacing = p
	}
	if v := strings.TrimSpace(scenario); v != "" {
		cfg.Scenario = v
	}
	return nil
}

// buildService wires a sandbox world into a gateway and, under free pacing,
// preloads the configured scenario.
func buildService(cfg daemonConfig) (*gateway.Service, error) {
	svc, err := gateway.NewServiceWithConfig(cfg.Service, sandbox.NewWorld())
	if err != nil {
		return nil, err
	}
	if cfg.Scenario == "" {
		return svc, nil
	}
	if svc.Config().Pacing != gateway.PacingFree {
		log.Warn().Msgf("gatewayd.buildService ignoring scenario=%q under %s pacing", cfg.Scenario, svc.Config().Pacing)
		return svc, nil
	}
	m, err := config.LoadScenario(cfg.Scenario)
	if err != nil {
		return nil, err
	}
	script, err := m.ReadScript()
	if err != nil {
		return nil, err
	}
	if err := svc.Preload(script, m.Params()); err != nil {
		return nil, fmt.Errorf("preload scenario %q: %w", m.Name, err)
	}
	return svc, nil
}
