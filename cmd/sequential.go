package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groupe-vauban/sirene-cli/internal/pipeline"
)

var sequentialCmd = &cobra.Command{
	Use:   "sequential",
	Short: "Resolve suppliers single-threaded",
	Long:  "Runs the resolution pipeline one row at a time, sharing the checkpoint and export path of the parallel verb. Intended for debugging small samples.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyPipelineFlags(cmd)

		_, err := pipeline.RunSequential(ctx, cfg)
		return err
	},
}

func init() {
	addPipelineFlags(sequentialCmd)
	rootCmd.AddCommand(sequentialCmd)
}
