package main

import (
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/groupe-vauban/sirene-cli/internal/pipeline"
	"github.com/groupe-vauban/sirene-cli/internal/sirene"
)

var initdbCmd = &cobra.Command{
	Use:   "initdb",
	Short: "Build the registry store from the SIRENE source archives",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		overrideString(cmd, "company-archive", &cfg.Registry.CompanyParquet)
		overrideString(cmd, "estab-archive", &cfg.Registry.EstabParquet)
		overrideString(cmd, "registry-db", &cfg.Registry.SQLitePath)
		overrideString(cmd, "partitions", &cfg.Registry.PartitionsDir)
		overrideInt(cmd, "sample-row-groups", &cfg.Registry.SampleRowGroups)
		force, _ := cmd.Flags().GetBool("force")

		_, err := sirene.Build(ctx, cfg.Registry, force)
		if err != nil {
			if ctx.Err() != nil {
				return pipeline.ErrInterrupted
			}
			return err
		}
		return nil
	},
}

func init() {
	initdbCmd.Flags().String("company-archive", "", "legal-unit parquet archive")
	initdbCmd.Flags().String("estab-archive", "", "establishment parquet archive")
	initdbCmd.Flags().String("registry-db", "", "registry sqlite output path")
	initdbCmd.Flags().String("partitions", "", "partition tree output directory")
	initdbCmd.Flags().Int("sample-row-groups", 0, "build from the first N row groups of each archive")
	initdbCmd.Flags().Bool("force", false, "rebuild even if artifacts exist")
	rootCmd.AddCommand(initdbCmd)
}
