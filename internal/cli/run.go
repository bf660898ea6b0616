package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/wesleyorama2/stampede/internal/config"
	"github.com/wesleyorama2/stampede/internal/engine"
	"github.com/wesleyorama2/stampede/internal/executor"
	"github.com/wesleyorama2/stampede/internal/logging"
	"github.com/wesleyorama2/stampede/internal/output"
)

type runOptions struct {
	configFile       string
	baseURL          string
	stages           string
	seed             int64
	quiet            bool
	noColor          bool
	progressInterval time.Duration
	out              string
	format           string
	logLevel         string
	logFormat        string
	logFile          string
}

func newRunCommand() *cobra.Command {
	opts := &runOptions{}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the checkout load test",
		Long: `Run the checkout journey with a ramping pool of virtual users.

Without --config the built-in checkout-latency scenario is used: 2m ramp to
10 VUs, 5m at 10, 2m ramp to 20, 5m at 20, 2m ramp down, with thresholds
http_req_duration p(95)<500 and errors rate<0.1.

Examples:
  stampede run
  stampede run -c examples/checkout-latency.yaml
  stampede run --base-url http://localhost:8000 --stages "30s:10,1m:10,30s:0"
  stampede run -c scenario.yaml --out report.json

Exit status is 0 when every threshold passes, 99 when a threshold fails and
1 on configuration or runtime errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLoadTest(cmd, opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.configFile, "config", "c", "", "scenario file (YAML or JSON); defaults to the built-in scenario")
	f.StringVar(&opts.baseURL, "base-url", "", "override settings.baseUrl")
	f.StringVar(&opts.stages, "stages", "", `override stages, e.g. "30s:10,1m:10,30s:0"`)
	f.Int64Var(&opts.seed, "seed", 0, "seed for VU random draws (0 derives one from the clock)")
	f.BoolVarP(&opts.quiet, "quiet", "q", false, "only print PASSED or FAILED")
	f.BoolVar(&opts.noColor, "no-color", false, "disable colored output")
	f.DurationVar(&opts.progressInterval, "progress-interval", time.Second, "how often progress is printed")
	f.StringVarP(&opts.out, "out", "o", "", "write a report file (.json, .yaml or .txt)")
	f.StringVar(&opts.format, "format", "", "report format for --out: text, json or yaml (default from extension)")
	f.StringVar(&opts.logLevel, "log-level", "warn", "log level: debug, info, warn, error")
	f.StringVar(&opts.logFormat, "log-format", "console", "log format: console or json")
	f.StringVar(&opts.logFile, "log-file", "", "also write JSON logs to this file (rotated)")

	return cmd
}

// loadConfig loads the scenario file, or the built-in scenario when path is
// empty.
func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	return config.LoadConfig(path)
}

func (o *runOptions) applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	if o.baseURL != "" {
		cfg.Settings.BaseURL = o.baseURL
	}
	if o.stages != "" {
		stages, err := config.ParseStages(o.stages)
		if err != nil {
			return fmt.Errorf("invalid --stages: %w", err)
		}
		cfg.Stages = stages
	}
	if cmd.Flags().Changed("seed") {
		cfg.Settings.Seed = o.seed
	}
	return nil
}

func (o *runOptions) reportFormat() (output.OutputFormat, error) {
	if o.format != "" {
		return output.ParseFormat(o.format)
	}
	switch strings.ToLower(filepath.Ext(o.out)) {
	case ".yaml", ".yml":
		return output.FormatYAML, nil
	case ".txt":
		return output.FormatText, nil
	default:
		return output.FormatJSON, nil
	}
}

func runLoadTest(cmd *cobra.Command, opts *runOptions) error {
	cfg, err := loadConfig(opts.configFile)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if err := opts.applyOverrides(cmd, cfg); err != nil {
		return err
	}

	var format output.OutputFormat
	if opts.out != "" {
		if format, err = opts.reportFormat(); err != nil {
			return err
		}
	}

	logger, err := logging.New(logging.Config{
		Level:    opts.logLevel,
		Format:   opts.logFormat,
		FilePath: opts.logFile,
		Writer:   cmd.ErrOrStderr(),
	})
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	console := output.NewConsole(output.ConsoleConfig{
		Writer:  cmd.OutOrStdout(),
		Quiet:   opts.quiet,
		NoColor: opts.noColor,
	})

	var eng *engine.Engine
	eng, err = engine.New(cfg,
		engine.WithLogger(logger),
		engine.WithProgress(opts.progressInterval, func(stats executor.Stats) {
			console.PrintProgress(output.StatsFrom(stats, eng.Registry()))
		}),
	)
	if err != nil {
		return err
	}

	console.PrintHeader(output.Header{
		Name:        cfg.Name,
		Description: cfg.Description,
		BaseURL:     cfg.Settings.BaseURL,
		Stages:      cfg.ExecutorStages(),
		Seed:        eng.Seed(),
		Thresholds:  len(eng.Evaluator().Thresholds()),
	})

	result, err := eng.Run(cmd.Context())
	if err != nil {
		return err
	}

	console.PrintSummary(result)

	if opts.out != "" {
		if err := writeReportFile(opts.out, format, result); err != nil {
			return err
		}
		logger.Info("report written", zap.String("path", opts.out), zap.String("format", string(format)))
	}

	if !result.Passed {
		return &ThresholdsFailedError{Failures: result.Failures()}
	}
	return nil
}

func writeReportFile(path string, format output.OutputFormat, result *engine.Result) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	if err := output.WriteReport(f, format, result); err != nil {
		f.Close()
		return fmt.Errorf("failed to write report: %w", err)
	}
	return f.Close()
}
