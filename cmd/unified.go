package main

import (
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/groupe-vauban/sirene-cli/internal/fetcher"
	"github.com/groupe-vauban/sirene-cli/internal/pipeline"
	"github.com/groupe-vauban/sirene-cli/internal/preprocess"
	"github.com/groupe-vauban/sirene-cli/internal/report"
	"github.com/groupe-vauban/sirene-cli/internal/sirene"
	"github.com/groupe-vauban/sirene-cli/internal/websearch"
)

var unifiedCmd = &cobra.Command{
	Use:   "unified",
	Short: "Full pipeline: preprocess, resolve domestic, web-search foreign, merge",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		applyPipelineFlags(cmd)
		overrideInt(cmd, "workers", &cfg.Pipeline.Workers)
		overrideInt(cmd, "search-workers", &cfg.WebSearch.Workers)
		overrideFloat(cmd, "search-rate-limit", &cfg.WebSearch.RateLimitSecs)

		skipPreprocess, _ := cmd.Flags().GetBool("skip-preprocess")
		skipRegistry, _ := cmd.Flags().GetBool("skip-registry")
		skipWebsearch, _ := cmd.Flags().GetBool("skip-websearch")
		cleanOutput, _ := cmd.Flags().GetBool("clean-output")

		finalOut := cfg.Pipeline.OutputCSV
		workDir := cfg.Preprocess.OutputDir
		matcherOut := filepath.Join(workDir, "results_matcher.csv")
		searchOut := filepath.Join(workDir, "results_websearch.csv")

		if _, err := os.Stat(finalOut); err == nil {
			if cleanOutput {
				for _, p := range []string{finalOut, matcherOut, searchOut} {
					os.Remove(p)
				}
			} else {
				zap.L().Warn("output exists and will be overwritten by the merge; intermediate files are reused",
					zap.String("path", finalOut))
			}
		}

		if !skipRegistry {
			if _, err := sirene.Build(ctx, cfg.Registry, false); err != nil {
				if ctx.Err() != nil {
					return pipeline.ErrInterrupted
				}
				return err
			}
		}

		frenchPath := filepath.Join(workDir, "suppliers_fr.csv")
		foreignPath := filepath.Join(workDir, "suppliers_foreign.csv")
		if !skipPreprocess {
			rows, err := fetcher.Load(cfg.Pipeline.SupplierFile)
			if err != nil {
				return err
			}
			split := preprocess.Split(rows, cfg.Preprocess.FilterInactive)
			if frenchPath, foreignPath, err = preprocess.WriteSplit(workDir, split); err != nil {
				return err
			}
		}

		matcherCfg := *cfg
		matcherCfg.Pipeline.SupplierFile = frenchPath
		matcherCfg.Pipeline.OutputCSV = matcherOut
		if _, err := pipeline.Run(ctx, &matcherCfg); err != nil {
			return err
		}

		if !skipWebsearch {
			foreign, err := fetcher.Load(foreignPath)
			if err != nil {
				return err
			}
			if len(foreign) > 0 {
				provider := websearch.NewProviderFromConfig(cfg)
				records := websearch.Run(ctx, cfg.WebSearch, provider, foreign)
				if err := report.Write(searchOut, records); err != nil {
					return err
				}
			}
			if ctx.Err() != nil {
				return pipeline.ErrInterrupted
			}
		}

		n, err := report.Merge(finalOut, matcherOut, searchOut)
		if err != nil {
			return err
		}
		zap.L().Info("unified report written",
			zap.String("path", finalOut), zap.Int("rows", n))
		return nil
	},
}

func init() {
	addPipelineFlags(unifiedCmd)
	unifiedCmd.Flags().Int("workers", 0, "matcher worker count (0 = NumCPU)")
	unifiedCmd.Flags().Bool("skip-preprocess", false, "reuse existing split files")
	unifiedCmd.Flags().Bool("skip-registry", false, "assume registry artifacts exist")
	unifiedCmd.Flags().Bool("skip-websearch", false, "skip the foreign web-search branch")
	unifiedCmd.Flags().Bool("clean-output", false, "remove stale outputs before running")
	unifiedCmd.Flags().Int("search-workers", 0, "web-search worker count")
	unifiedCmd.Flags().Float64("search-rate-limit", 0, "seconds between web-search requests")
	rootCmd.AddCommand(unifiedCmd)
}
