package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/infrastructure/storage"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/application"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/config"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/domain"
	"github.com/dgwamna44/eXeMpLify-Music-Analyzer/internal/logging"
)

type analyzeFlags struct {
	grade       string
	targetOnly  bool
	stringsOnly bool
	fullGrades  bool
	compact     bool
}

func newAnalyzeCommand(configPath *string) *cobra.Command {
	var flags analyzeFlags

	cmd := &cobra.Command{
		Use:   "analyze FILE",
		Short: "Grade a score file and print the report",
		Long: `Grade a score file on this machine and print the report as JSON.

Examples:
  # Score against grade 2 and estimate the observed grade
  gradeengine analyze etude.json --grade 2

  # Target grade only, string rule tables
  gradeengine analyze quartet.json --grade 3 --target-only --strings-only

  # Sample every half grade when estimating
  gradeengine analyze etude.json --grade 2 --full-grades`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return analyze(cmd.Context(), cfg, args[0], flags, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&flags.grade, "grade", "g", "", "target grade, 0.5 to 5")
	cmd.Flags().BoolVar(&flags.targetOnly, "target-only", false, "skip observed-grade estimation")
	cmd.Flags().BoolVar(&flags.stringsOnly, "strings-only", false, "apply the string-instrument rule tables")
	cmd.Flags().BoolVar(&flags.fullGrades, "full-grades", false, "estimate on the half-grade scale")
	cmd.Flags().BoolVar(&flags.compact, "compact", false, "print the report on one line")
	_ = cmd.MarkFlagRequired("grade")
	return cmd
}

// analyze runs one job inline against a throwaway document store.
func analyze(ctx context.Context, cfg config.Config, path string, flags analyzeFlags, out io.Writer) error {
	target, err := domain.ParseGrade(flags.grade)
	if err != nil {
		return err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read score: %w", err)
	}

	logger, err := logging.New(cfg.Log)
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	dir, err := os.MkdirTemp("", "gradeengine-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	store, err := storage.NewFileStore(dir, cfg.Server.MaxUploadBytes, logger.Named("storage"))
	if err != nil {
		return err
	}
	ref, err := store.Save(ctx, filepath.Base(path), data)
	if err != nil {
		return err
	}

	// Local runs are not mirrored to NATS and the worker pool is never started.
	cfg.NATS.URL = ""
	eng, err := buildEngine(cfg, store, nil, logger.Named("engine"))
	if err != nil {
		return err
	}
	defer func() {
		_ = eng.Close()
	}()

	opts := domain.AnalysisOptions{
		RunObserved: !flags.targetOnly,
		Eval:        domain.EvalOptions{RestrictToStrings: flags.stringsOnly},
	}
	if opts.RunObserved {
		opts.ObservedGrades = domain.DefaultScale
		if flags.fullGrades {
			opts.ObservedGrades = domain.FullScale
		}
	}

	id, err := eng.orchestrator.Submit(ctx, application.SubmitRequest{
		DocumentRef: ref,
		TargetGrade: domain.Some(target),
		Options:     opts,
		Mode:        domain.ModeInline,
	})
	if err != nil {
		return err
	}
	res, err := eng.orchestrator.Result(id)
	if err != nil {
		return err
	}
	if res.Error != nil {
		return errors.New(*res.Error)
	}
	logger.Debug("analysis finished", zap.String("job_id", id), zap.String("score", path))

	enc := json.NewEncoder(out)
	if !flags.compact {
		enc.SetIndent("", "  ")
	}
	return enc.Encode(res.Result)
}
