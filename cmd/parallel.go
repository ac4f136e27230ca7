package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groupe-vauban/sirene-cli/internal/pipeline"
)

var parallelCmd = &cobra.Command{
	Use:   "parallel",
	Short: "Resolve suppliers with a worker pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyPipelineFlags(cmd)
		overrideInt(cmd, "workers", &cfg.Pipeline.Workers)

		_, err := pipeline.Run(ctx, cfg)
		return err
	},
}

// applyPipelineFlags maps the flags shared by the resolution verbs
// onto the loaded config.
func applyPipelineFlags(cmd *cobra.Command) {
	overrideString(cmd, "input", &cfg.Pipeline.SupplierFile)
	overrideString(cmd, "checkpoint", &cfg.Pipeline.CheckpointPath)
	overrideString(cmd, "output", &cfg.Pipeline.OutputCSV)
	overrideString(cmd, "registry-db", &cfg.Registry.SQLitePath)
	overrideString(cmd, "partitions", &cfg.Registry.PartitionsDir)
	overrideInt(cmd, "batch-size", &cfg.Pipeline.BatchSize)
	overrideInt(cmd, "limit-rows", &cfg.Pipeline.LimitRows)
	overrideBool(cmd, "retry-errors", &cfg.Pipeline.RetryErrors)
	overrideFloat(cmd, "oracle-rate", &cfg.Pipeline.OracleRatePerSec)
}

func addPipelineFlags(cmd *cobra.Command) {
	cmd.Flags().String("input", "", "supplier table (xlsx, csv, or parquet)")
	cmd.Flags().String("checkpoint", "", "checkpoint sqlite path")
	cmd.Flags().String("output", "", "unified report CSV path")
	cmd.Flags().String("registry-db", "", "registry sqlite path")
	cmd.Flags().String("partitions", "", "registry partition tree directory")
	cmd.Flags().Int("batch-size", 0, "rows per checkpoint commit")
	cmd.Flags().Int("limit-rows", 0, "cap on unprocessed rows this run")
	cmd.Flags().Bool("retry-errors", false, "reprocess rows that previously errored")
	cmd.Flags().Float64("oracle-rate", 0, "max oracle calls per second (0 = unlimited)")
}

func init() {
	addPipelineFlags(parallelCmd)
	parallelCmd.Flags().Int("workers", 0, "worker count (0 = NumCPU)")
	rootCmd.AddCommand(parallelCmd)
}
