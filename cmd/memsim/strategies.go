package main

import (
	"fmt"

	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/mm7655/MemoryDisk/memutils/metadata"
	"github.com/spf13/cobra"
)

var strategyDescriptions = map[metadata.AllocationStrategy]string{
	metadata.AllocationStrategyBestFit:  "smallest free block that fits",
	metadata.AllocationStrategyFirstFit: "lowest-addressed free block that fits",
	metadata.AllocationStrategyWorstFit: "largest free block",
	metadata.AllocationStrategyNextFit:  "first fit, starting from the previous allocation and wrapping",
}

var strategiesCmd = &cobra.Command{
	Use:   "strategies",
	Short: "List the available placement strategies",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()

		if jsonOut {
			writer := jwriter.NewWriter()
			arr := writer.Array()
			for _, strategy := range metadata.AllocationStrategies() {
				obj := arr.Object()
				obj.Name("Name").String(strategy.String())
				obj.Name("Description").String(strategyDescriptions[strategy])
				obj.End()
			}
			arr.End()

			_, err := fmt.Fprintln(out, string(writer.Bytes()))
			return err
		}

		for _, strategy := range metadata.AllocationStrategies() {
			_, err := fmt.Fprintf(out, "%-10s %s\n", strategy, strategyDescriptions[strategy])
			if err != nil {
				return err
			}
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(strategiesCmd)
}
