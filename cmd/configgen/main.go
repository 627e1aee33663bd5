package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/danmuck/simlink/internal/config"
	"github.com/danmuck/simlink/internal/logging"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/danmuck/simlink/internal/sandbox"
	"github.com/rs/zerolog/log"
)

// defaultPaths are the per-kind targets used when -output/-input is empty.
var defaultPaths = map[string]string{
	"gateway":  "cmd/gatewayd/config.toml",
	"client":   "cmd/simctl/config.toml",
	"scenario": "scenarios/two-cars.toml",
	"fixture":  "scenarios/two-cars.fixture",
}

func main() {
	kind := flag.String("kind", "gateway", "config kind: gateway|client|scenario|fixture")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing client, scenario, or fixture file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	logging.ConfigureRuntime()
	if err := run(*kind, *output, *input, *validate, *force); err != nil {
		log.Error().Msgf("configgen: %v", err)
		os.Exit(1)
	}
}

func run(kind, output, input string, validate, force bool) error {
	if validate {
		path := input
		if path == "" {
			path = defaultPaths[kind]
		}
		if err := validateFile(kind, path); err != nil {
			return err
		}
		log.Info().Msgf("configgen validated kind=%s path=%q", kind, path)
		return nil
	}

	target := output
	if target == "" {
		p, ok := defaultPaths[kind]
		if !ok {
			return fmt.Errorf("unknown kind: %s", kind)
		}
		target = p
	}
	if dir := filepath.Dir(target); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	if err := config.WriteTemplate(target, kind, force); err != nil {
		return err
	}
	log.Info().Msgf("configgen wrote kind=%s path=%q", kind, target)
	return nil
}

func validateFile(kind, path string) error {
	switch kind {
	case "client":
		_, err := config.LoadClientConfig(path)
		return err
	case "scenario":
		m, err := config.LoadScenario(path)
		if err != nil {
			return err
		}
		script, err := m.ReadScript()
		if err != nil {
			return err
		}
		return loadFixture(script, m.Params())
	case "fixture":
		script, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		return loadFixture(script, message.SimParams{FrequencyHz: 30, Substeps: 1})
	case "gateway":
		return fmt.Errorf("gateway configs are validated by gatewayd -check -config %s", path)
	default:
		return fmt.Errorf("unknown kind: %s", kind)
	}
}

func loadFixture(script []byte, params message.SimParams) error {
	return sandbox.NewWorld().LoadScenario(script, params)
}
