package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/groupe-vauban/sirene-cli/internal/config"
	"github.com/groupe-vauban/sirene-cli/internal/pipeline"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "sirene-cli",
	Short: "Supplier resolution against the SIRENE registry",
	Long:  "Resolves messy supplier records to SIRENE establishments (siret + official name) using a local registry store, with a web-search branch for foreign suppliers.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if errors.Is(err, pipeline.ErrInterrupted) {
			os.Exit(130)
		}
		os.Exit(1)
	}
}

// Flag overrides beat config-file and env values, but only when the
// flag was actually passed.
func overrideString(cmd *cobra.Command, name string, dst *string) {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetString(name)
		*dst = v
	}
}

func overrideInt(cmd *cobra.Command, name string, dst *int) {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetInt(name)
		*dst = v
	}
}

func overrideBool(cmd *cobra.Command, name string, dst *bool) {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetBool(name)
		*dst = v
	}
}

func overrideFloat(cmd *cobra.Command, name string, dst *float64) {
	if cmd.Flags().Changed(name) {
		v, _ := cmd.Flags().GetFloat64(name)
		*dst = v
	}
}
