package main

import (
	"os"

	"github.com/cockroachdb/errors"
	"github.com/mm7655/MemoryDisk/scenario"
	"github.com/spf13/cobra"
)

var (
	runShowMaps bool
	runStrict   bool
)

func init() {
	cmd := newRunCmd()
	cmd.Flags().BoolVar(&runShowMaps, "maps", false, "Print the memory map after every step")
	cmd.Flags().BoolVar(&runStrict, "strict", false, "Fail if the allocator refuses any step")
	rootCmd.AddCommand(cmd)
}

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run <scenario.yaml>",
		Short: "Replay a scenario file",
		Long: `The run command loads a YAML scenario and replays each of its steps
against a fresh memory map, then prints a step-by-step report.

Example:
  memsim run fragmentation.yaml
  memsim run fragmentation.yaml --maps
  memsim run fragmentation.yaml --json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScenario(cmd, args[0])
		},
	}
	return cmd
}

func runScenario(cmd *cobra.Command, path string) error {
	file, err := os.Open(path)
	if err != nil {
		return errors.Wrapf(err, "opening scenario %s", path)
	}
	defer file.Close()

	s, err := scenario.Load(file)
	if err != nil {
		return errors.Wrapf(err, "loading scenario %s", path)
	}

	report, err := scenario.Run(cmd.Context(), newLogger(cmd.ErrOrStderr()), s)
	if err != nil {
		return err
	}

	if jsonOut {
		_, err = cmd.OutOrStdout().Write(append(report.JSON(), '\n'))
	} else {
		err = report.WriteText(cmd.OutOrStdout(), runShowMaps)
	}
	if err != nil {
		return err
	}

	if runStrict && report.Errors() > 0 {
		return errors.Newf("%d steps were refused by the allocator", report.Errors())
	}

	return nil
}
