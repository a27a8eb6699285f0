package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"
	"github.com/yourorg/unfreeze/internal/engine"
	"github.com/yourorg/unfreeze/internal/extract"
	"github.com/yourorg/unfreeze/internal/model"
	"github.com/yourorg/unfreeze/internal/stats"
	"github.com/yourorg/unfreeze/internal/version"
	"github.com/yourorg/unfreeze/internal/worker"
	"go.uber.org/zap"
)

// Exit codes.
const (
	exitFailure    = 1
	exitUnresolved = 2
	exitExtraction = 3
	exitCancelled  = 130
)

func exitCode(err error) int {
	switch {
	case errors.Is(err, context.Canceled):
		return exitCancelled
	case errors.Is(err, version.ErrVersionUnresolved):
		return exitUnresolved
	case errors.Is(err, extract.ErrExtractionFailed):
		return exitExtraction
	}
	return exitFailure
}

type versionFlags struct {
	pythonVersion string
	noPrompt      bool
}

func (f *versionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.pythonVersion, "python-version", "", "version to use when detection fails (skips the prompt)")
	cmd.Flags().BoolVar(&f.noPrompt, "no-prompt", false, "fail instead of prompting when detection fails")
}

func (f *versionFlags) prompter() version.Prompter {
	switch {
	case f.pythonVersion != "":
		return version.FixedPrompter{Version: f.pythonVersion}
	case f.noPrompt:
		return nil
	}
	return version.NewTerminalPrompter()
}

func newAdapter() *extract.Adapter {
	opts := extract.DefaultOptions(cfg.ExtractorPath)
	opts.DetectTimeout = cfg.DetectTimeout
	opts.ExtractTimeout = cfg.ExtractTimeout
	opts.IncludeLibrary = cfg.IncludeLibrary
	if len(cfg.ExtractorDetect) > 0 {
		opts.DetectArgs = cfg.ExtractorDetect
	}
	if len(cfg.ExtractorArgs) > 0 {
		opts.ExtractArgs = cfg.ExtractorArgs
	}
	return extract.NewAdapter(opts, logger)
}

// openResolver opens the persistent version store. The caller closes it.
func openResolver(adapter *extract.Adapter, prompter version.Prompter) (*version.Resolver, *version.BadgerStore, error) {
	store, err := version.OpenStore(cfg.VersionStoreDir)
	if err != nil {
		return nil, nil, err
	}
	return version.NewResolver(store, adapter, prompter, logger), store, nil
}

func newRunCmd() *cobra.Command {
	var (
		vf          versionFlags
		outputDir   string
		concurrency int
		enginesFile string
	)
	cmd := &cobra.Command{
		Use:   "run <target>",
		Short: "Extract a frozen binary and recover every compiled unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if outputDir != "" {
				cfg.OutputDir = outputDir
			}
			if concurrency > 0 {
				cfg.WorkerConcurrency = concurrency
			}
			if enginesFile != "" {
				cfg.EnginesFile = enginesFile
			}
			return runRecovery(cmd, args[0], vf.prompter())
		},
	}
	vf.register(cmd)
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "output root (default $OUTPUT_DIR or ./recovered)")
	cmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "units recovered in parallel (default $WORKER_CONCURRENCY)")
	cmd.Flags().StringVar(&enginesFile, "engines", "", "engine catalogue YAML (default built-in cascade)")
	return cmd
}

func runRecovery(cmd *cobra.Command, path string, prompter version.Prompter) error {
	ctx := cmd.Context()

	engines := engine.DefaultCatalogue()
	if cfg.EnginesFile != "" {
		var err error
		if engines, err = engine.LoadCatalogue(cfg.EnginesFile); err != nil {
			return err
		}
	}

	target, err := extract.OpenTarget(path)
	if err != nil {
		return err
	}
	logger.Info("target opened",
		zap.String("path", target.Path), zap.String("format", target.Format),
		zap.Int64("size", target.Size), zap.String("sha256", target.Identity))

	adapter := newAdapter()
	resolver, vstore, err := openResolver(adapter, prompter)
	if err != nil {
		return err
	}
	defer vstore.Close()

	sinks, err := openSinks(ctx)
	if err != nil {
		return err
	}
	defer sinks.Close()
	stopServer := serveHTTP(ctx, cfg.HTTPAddr, sinks.store)
	defer stopServer()

	runner := worker.NewRunner(worker.Options{
		OutputDir:   cfg.OutputDir,
		Concurrency: cfg.WorkerConcurrency,
		Engines:     engines,
	}, resolver, adapter, engine.NewExecInvoker(cfg.EngineTimeout, logger), logger)
	if sinks.store != nil {
		runner.WithStore(sinks.store)
	}
	if sinks.publisher != nil {
		runner.WithPublisher(sinks.publisher)
	}

	report, err := runner.Run(ctx, target)
	if !report.FinishedAt.IsZero() {
		printReport(cmd, report, runner.OutputDir(target))
	}
	return err
}

func printReport(cmd *cobra.Command, report model.Report, outDir string) {
	out := cmd.OutOrStdout()
	fmt.Fprint(out, stats.Summary(report))
	fmt.Fprintf(out, "Output: %s\n", outDir)
	fmt.Fprintf(out, "Report: %s\n", filepath.Join(outDir, worker.ReportFile))
}
