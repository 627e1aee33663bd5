package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/danmuck/simlink/internal/client"
	"github.com/danmuck/simlink/internal/config"
	"github.com/danmuck/simlink/internal/logging"
	"github.com/danmuck/simlink/internal/output"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// cli holds the resolved profile shared by every subcommand.
type cli struct {
	configPath string
	output     string
	mode       string
	companion  string
	host       string
	port       int
	verbose    bool

	profile   config.ClientConfig
	formatter output.Formatter
}

func newRootCmd() *cobra.Command {
	a := &cli{}
	root := &cobra.Command{
		Use:   "simctl",
		Short: "Drive a simulation gateway: run scenarios, query objects, send controls",
		Long: `simctl talks to a gatewayd process over the command channel.
In synchronous mode it can spawn the gateway itself or attach to one named
"manual:<addr>"; in free mode it attaches to host:port.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.resolve(cmd)
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&a.configPath, "config", "", "client profile (toml)")
	flags.StringVarP(&a.output, "output", "o", "", "output format: table, json, yaml")
	flags.StringVar(&a.mode, "mode", "", "synchronous|free")
	flags.StringVar(&a.companion, "companion", "", `synchronous target: "manual:<addr>" or a listen address for a spawned gateway`)
	flags.StringVar(&a.host, "host", "", "free mode gateway host")
	flags.IntVar(&a.port, "port", 0, "free mode gateway port")
	flags.BoolVarP(&a.verbose, "verbose", "v", false, "log at info level")

	root.AddCommand(
		newRunCmd(a),
		newPingCmd(a),
		newObjectsCmd(a, "objects", "List dynamic objects, traffic controls and instanced objects", (*client.Client).GetDynamicObjects),
		newObjectsCmd(a, "changed", "List static objects changed since the last query", (*client.Client).GetChangedStaticObjects),
		newObjectsCmd(a, "instanced", "List instanced objects", (*client.Client).GetInstancedObjects),
		newDebugCmd(a),
		newControlCmd(a),
		newDialCmd(a),
		newTelemetryCmd(a),
	)
	return root
}

func (a *cli) resolve(cmd *cobra.Command) error {
	logging.ConfigureRuntime()
	if !a.verbose && strings.TrimSpace(os.Getenv(logging.EnvLogLevel)) == "" {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
	}

	a.profile = config.DefaultClientConfig()
	if strings.TrimSpace(a.configPath) != "" {
		loaded, err := config.LoadClientConfig(a.configPath)
		if err != nil {
			return err
		}
		a.profile = loaded
	}
	flags := cmd.Flags()
	if flags.Changed("mode") {
		a.profile.Mode = a.mode
	}
	if flags.Changed("companion") {
		a.profile.Companion = a.companion
	}
	if flags.Changed("host") {
		a.profile.Host = a.host
	}
	if flags.Changed("port") {
		a.profile.Port = a.port
	}
	if flags.Changed("output") {
		a.profile.Output = a.output
	}
	if err := config.ValidateClientConfig(a.profile); err != nil {
		return err
	}
	if err := output.Valid(a.profile.Output); err != nil {
		return err
	}
	a.formatter = output.NewFormatter(a.profile.Output)
	return nil
}

func (a *cli) clientMode() (client.Mode, error) {
	return client.ParseMode(a.profile.Mode)
}

func (a *cli) clientConfig() client.Config {
	cfg := client.DefaultConfig()
	p := a.profile
	cfg.BinDir = p.BinDir
	if p.CompanionBinary != "" {
		cfg.CompanionBinary = p.CompanionBinary
	}
	cfg.CompanionArgs = p.CompanionArgs
	if p.ListenAddr != "" {
		cfg.ListenAddr = p.ListenAddr
	}
	cfg.SpawnDelay = p.SpawnDelay.Duration
	if p.ConnectTimeout.Duration > 0 {
		cfg.Session.ConnectTimeout = p.ConnectTimeout.Duration
	}
	if p.ReadTimeout.Duration > 0 {
		cfg.Session.ReadTimeout = p.ReadTimeout.Duration
	}
	if p.WriteTimeout.Duration > 0 {
		cfg.Session.WriteTimeout = p.WriteTimeout.Duration
	}
	if p.MaxConnectAttempts > 0 {
		cfg.Session.MaxConnectAttempts = p.MaxConnectAttempts
	}
	return cfg
}

// connect opens a session in the profile's mode. The caller closes the
// returned client.
func (a *cli) connect(ctx context.Context) (*client.Client, error) {
	mode, err := a.clientMode()
	if err != nil {
		return nil, err
	}
	c := client.New(a.clientConfig())
	if err := c.SetMode(mode); err != nil {
		return nil, err
	}
	switch mode {
	case client.ModeSynchronous:
		err = c.InitSynchronous(ctx, a.profile.Companion)
	default:
		err = c.InitFreeRunning(ctx, a.profile.Host, a.profile.Port)
	}
	if err != nil {
		return nil, describe(c, err)
	}
	return c, nil
}

// describe prefixes err with the client's last error code.
func describe(c *client.Client, err error) error {
	if code, _ := c.LastError(); code != client.CodeNone {
		return fmt.Errorf("[%s] %w", code, err)
	}
	return err
}

func (a *cli) print(cmd *cobra.Command, data any) {
	fmt.Fprint(cmd.OutOrStdout(), a.formatter.Format(data))
}
