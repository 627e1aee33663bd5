package main

import (
	"fmt"
	"sort"

	"github.com/danmuck/simlink/internal/client"
	"github.com/danmuck/simlink/internal/config"
	"github.com/danmuck/simlink/internal/protocol/message"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

func newRunCmd(a *cli) *cobra.Command {
	var quit bool
	cmd := &cobra.Command{
		Use:   "run <manifest>",
		Short: "Run a scenario manifest synchronously and print the final objects",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mode, err := a.clientMode()
			if err != nil {
				return err
			}
			if mode != client.ModeSynchronous {
				return fmt.Errorf("run requires synchronous mode, profile is %s", mode)
			}
			m, err := config.LoadScenario(args[0])
			if err != nil {
				return err
			}
			script, err := m.ReadScript()
			if err != nil {
				return err
			}
			c, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer c.Close()

			if err := runScenario(cmd, c, m, script); err != nil {
				return describe(c, err)
			}
			objs, err := c.GetDynamicObjects(cmd.Context())
			if err != nil {
				return describe(c, err)
			}
			if err := c.EndScenario(cmd.Context()); err != nil {
				return describe(c, err)
			}
			a.print(cmd, objs)
			if quit {
				if err := c.Quit(cmd.Context()); err != nil {
					return describe(c, err)
				}
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&quit, "quit", false, "stop the gateway when the run finishes")
	return cmd
}

// runScenario starts the manifest's scenario and runs its frames, applying
// each action once the frames before it have run.
func runScenario(cmd *cobra.Command, c *client.Client, m config.ScenarioManifest, script []byte) error {
	ctx := cmd.Context()
	if err := c.StartScenario(ctx, script, m.LRIDir, m.FrequencyHz, m.Substeps, m.ScenarioDir); err != nil {
		return err
	}
	log.Info().Msgf("simctl.runScenario started name=%q frames=%d controls=%d dials=%d", m.Name, m.Frames, len(m.Controls), len(m.Dials))

	done := 0
	for _, at := range actionFrames(m) {
		if at > done {
			if err := c.RunFrames(ctx, at-done, m.Substeps); err != nil {
				return err
			}
			done = at
		}
		if err := applyActions(cmd, c, m, at); err != nil {
			return err
		}
	}
	if m.Frames > done {
		if err := c.RunFrames(ctx, m.Frames-done, m.Substeps); err != nil {
			return err
		}
	}
	return nil
}

func actionFrames(m config.ScenarioManifest) []int {
	seen := make(map[int]struct{})
	for _, ctl := range m.Controls {
		seen[ctl.Frame] = struct{}{}
	}
	for _, d := range m.Dials {
		seen[d.Frame] = struct{}{}
	}
	out := make([]int, 0, len(seen))
	for f := range seen {
		out = append(out, f)
	}
	sort.Ints(out)
	return out
}

func applyActions(cmd *cobra.Command, c *client.Client, m config.ScenarioManifest, frame int) error {
	ctx := cmd.Context()
	for _, ctl := range m.Controls {
		if ctl.Frame != frame {
			continue
		}
		command, err := message.ParseControlCommand(ctl.Command)
		if err != nil {
			return err
		}
		if err := c.ControlObject(ctx, ctl.Owner, command, ctl.Value); err != nil {
			return err
		}
	}
	for _, d := range m.Dials {
		if d.Frame != frame {
			continue
		}
		var err error
		if d.Reset {
			err = c.ResetDialByName(ctx, d.Owner, d.Dial)
		} else {
			err = c.SetDialByName(ctx, d.Owner, d.Dial, d.Value)
		}
		if err != nil {
			return err
		}
	}
	return nil
}
