package main

import (
	"context"
	"fmt"
	"strconv"

	"github.com/danmuck/simlink/internal/client"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/spf13/cobra"
)

type objectQuery func(*client.Client, context.Context) ([]message.ObjectDescriptor, error)

func newPingCmd(a *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Connect to the gateway and report the session",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			fmt.Fprintf(cmd.OutOrStdout(), "connected mode=%s state=%s\n", c.Mode(), c.State())
			return nil
		},
	}
}

func newObjectsCmd(a *cli, use, short string, query objectQuery) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: short,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			objs, err := query(c, cmd.Context())
			if err != nil {
				return describe(c, err)
			}
			a.print(cmd, objs)
			return nil
		},
	}
}

func newDebugCmd(a *cli) *cobra.Command {
	var (
		mode  int
		level int
		ids   []int
	)
	cmd := &cobra.Command{
		Use:   "debug",
		Short: "Fetch debug data, optionally selecting entities first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			flags := cmd.Flags()
			if flags.Changed("debug-mode") || flags.Changed("level") || flags.Changed("ids") {
				if err := c.SetDebugMode(cmd.Context(), mode, level, ids); err != nil {
					return describe(c, err)
				}
			}
			items, err := c.GetDebugData(cmd.Context())
			if err != nil {
				return describe(c, err)
			}
			a.print(cmd, items)
			return nil
		},
	}
	cmd.Flags().IntVar(&mode, "debug-mode", 1, "debug mode (0 disables)")
	cmd.Flags().IntVar(&level, "level", 0, "debug level")
	cmd.Flags().IntSliceVar(&ids, "ids", nil, "owner ids to select (empty selects all)")
	return cmd
}

func newControlCmd(a *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "control <owner> <command> [value]",
		Short: "Send a control command (turn_left, change_lane_right, force_velocity, ...)",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(args[0])
			if err != nil {
				return err
			}
			command, err := message.ParseControlCommand(args[1])
			if err != nil {
				return err
			}
			var value float64
			if len(args) == 3 {
				if value, err = strconv.ParseFloat(args[2], 64); err != nil {
					return fmt.Errorf("control value %q: %w", args[2], err)
				}
			}
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.ControlObject(cmd.Context(), owner, command, value); err != nil {
				return describe(c, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "sent %s to owner %d\n", command, owner)
			return nil
		},
	}
}

func newDialCmd(a *cli) *cobra.Command {
	dial := &cobra.Command{
		Use:   "dial",
		Short: "Set or reset an entity dial by name",
	}
	dial.AddCommand(&cobra.Command{
		Use:   "set <owner> <dial> <value>",
		Short: "Write a dial; it takes effect in the next frame",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(args[0])
			if err != nil {
				return err
			}
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.SetDialByName(cmd.Context(), owner, args[1], args[2]); err != nil {
				return describe(c, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dial %s=%s on owner %d\n", args[1], args[2], owner)
			return nil
		},
	})
	dial.AddCommand(&cobra.Command{
		Use:   "reset <owner> <dial>",
		Short: "Return a dial to its default",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			owner, err := parseOwner(args[0])
			if err != nil {
				return err
			}
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()
			if err := c.ResetDialByName(cmd.Context(), owner, args[1]); err != nil {
				return describe(c, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "dial %s reset on owner %d\n", args[1], owner)
			return nil
		},
	})
	return dial
}

func newTelemetryCmd(a *cli) *cobra.Command {
	var (
		listen string
		count  int
	)
	cmd := &cobra.Command{
		Use:   "telemetry",
		Short: "Listen for telemetry datagrams published by a gateway",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := a.clientMode()
			if err != nil {
				return err
			}
			if listen == "" {
				listen = a.profile.TelemetryAddr
			}
			if listen == "" {
				return fmt.Errorf("telemetry: --listen or telemetry_addr is required")
			}
			c := client.New(a.clientConfig())
			defer c.Close()
			if err := c.SetMode(mode); err != nil {
				return describe(c, err)
			}
			if err := c.OpenTelemetry(listen); err != nil {
				return describe(c, err)
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "listening on %s\n", c.TelemetryAddr())
			for i := 0; count <= 0 || i < count; i++ {
				msg, err := c.ReceiveTelemetry(cmd.Context())
				if err != nil {
					if cmd.Context().Err() != nil {
						return nil
					}
					return describe(c, err)
				}
				a.print(cmd, msg.Records)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "local UDP address to bind")
	cmd.Flags().IntVar(&count, "count", 1, "datagrams to print (0 runs until interrupted)")
	return cmd
}

func parseOwner(raw string) (int32, error) {
	v, err := strconv.ParseInt(raw, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("owner id %q: %w", raw, err)
	}
	return int32(v), nil
}
