package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/executor"
	"github.com/wesleyorama2/stampede/internal/output"
)

func newValidateCommand() *cobra.Command {
	var noColor bool

	cmd := &cobra.Command{
		Use:   "validate [config]",
		Short: "Check a scenario file without running it",
		Long: `Validate loads a scenario file, checks it against the schema and the
semantic rules, and resolves every threshold against the declared metrics.
Without an argument the built-in scenario is checked.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := ""
			if len(args) == 1 {
				path = args[0]
			}

			cfg, err := loadConfig(path)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}

			// Building the engine declares metrics and validates thresholds
			// against them without sending any traffic.
			eng, err := engine.New(cfg)
			if err != nil {
				return err
			}

			scheme := output.DefaultColorScheme()
			if noColor {
				scheme = output.NoColorScheme()
			}
			stages := cfg.ExecutorStages()
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s is valid: %d stages, %s, max %d VUs, %d thresholds\n",
				scheme.PassIcon(), cfg.Name, len(stages),
				executor.TotalDuration(stages), executor.MaxTarget(stages),
				len(eng.Evaluator().Thresholds()))
			return nil
		},
	}

	cmd.Flags().BoolVar(&noColor, "no-color", false, "disable colored output")
	return cmd
}
