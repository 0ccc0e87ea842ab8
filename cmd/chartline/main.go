package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/chartline/chartline/internal/config"
	"github.com/chartline/chartline/internal/domain/learning"
	"github.com/chartline/chartline/internal/domain/record"
	"github.com/chartline/chartline/internal/engine"
	"github.com/chartline/chartline/internal/kb"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "chartline",
		Short: "Clinical note extraction and timeline engine",
	}

	rootCmd.AddCommand(processCmd())
	rootCmd.AddCommand(patternsCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func processCmd() *cobra.Command {
	var input string
	cmd := &cobra.Command{
		Use:   "process",
		Short: "Process a document set into a validated clinical record",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runProcess(input)
		},
	}
	cmd.Flags().StringVarP(&input, "input", "i", "-", "ingestion JSON file (- for stdin)")
	return cmd
}

func runProcess(input string) error {
	logger, cfg, err := setup()
	if err != nil {
		return err
	}

	knowledge, err := loadKnowledge(cfg)
	if err != nil {
		logger.Error().Err(err).Msg("failed to load knowledge tables")
		return err
	}

	in := os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return fmt.Errorf("open input: %w", err)
		}
		defer f.Close()
		in = f
	}
	docs, err := record.ParseDocuments(in)
	if err != nil {
		logger.Error().Err(err).Msg("failed to parse documents")
		return err
	}

	svc, repo, err := openPatternStore(cfg, logger)
	if err != nil {
		return err
	}

	eng := engine.New(knowledge, svc, engine.Options{
		Workers:       cfg.Workers,
		ApplyLearning: cfg.ApplyLearning,
	}, logger)

	rec, err := eng.Process(context.Background(), docs)
	if err != nil {
		logger.Error().Err(err).Msg("processing failed")
		return err
	}

	if err := savePatternStore(repo, cfg.PatternStore); err != nil {
		logger.Warn().Err(err).Msg("failed to persist pattern store")
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func patternsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "patterns",
		Short: "Manage learned correction patterns",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List stored patterns",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPatterns(func(svc *learning.Service, _ *learning.MemoryRepository, _ *config.Config) error {
				patterns, err := svc.List()
				if err != nil {
					return err
				}
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(patterns)
			})
		},
	})

	var reviewer string
	approveCmd := &cobra.Command{
		Use:   "approve <pattern-id>",
		Short: "Approve a pending pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPatterns(func(svc *learning.Service, repo *learning.MemoryRepository, cfg *config.Config) error {
				if _, err := svc.Approve(args[0], reviewer); err != nil {
					return err
				}
				return savePatternStore(repo, cfg.PatternStore)
			})
		},
	}
	approveCmd.Flags().StringVar(&reviewer, "reviewer", "", "reviewer identifier")
	approveCmd.MarkFlagRequired("reviewer")
	cmd.AddCommand(approveCmd)

	var rejecter, reason string
	rejectCmd := &cobra.Command{
		Use:   "reject <pattern-id>",
		Short: "Reject a pending pattern",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPatterns(func(svc *learning.Service, repo *learning.MemoryRepository, cfg *config.Config) error {
				if _, err := svc.Reject(args[0], rejecter, reason); err != nil {
					return err
				}
				return savePatternStore(repo, cfg.PatternStore)
			})
		},
	}
	rejectCmd.Flags().StringVar(&rejecter, "reviewer", "", "reviewer identifier")
	rejectCmd.Flags().StringVar(&reason, "reason", "", "why the pattern is rejected")
	rejectCmd.MarkFlagRequired("reviewer")
	rejectCmd.MarkFlagRequired("reason")
	cmd.AddCommand(rejectCmd)

	var factType, original, corrected, sourceDoc, submitter string
	feedbackCmd := &cobra.Command{
		Use:   "feedback",
		Short: "Submit a correction for an extracted fact",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPatterns(func(svc *learning.Service, repo *learning.MemoryRepository, cfg *config.Config) error {
				p, err := svc.SubmitCorrection(record.FactType(factType), original, corrected, learning.Context{
					SourceDoc:   sourceDoc,
					SubmittedBy: submitter,
				})
				if err != nil {
					return err
				}
				if err := savePatternStore(repo, cfg.PatternStore); err != nil {
					return err
				}
				fmt.Println(p.ID)
				return nil
			})
		},
	}
	feedbackCmd.Flags().StringVar(&factType, "type", "", "fact type of the correction")
	feedbackCmd.Flags().StringVar(&original, "original", "", "extracted text to correct")
	feedbackCmd.Flags().StringVar(&corrected, "corrected", "", "corrected text")
	feedbackCmd.Flags().StringVar(&sourceDoc, "source-doc", "", "document the correction came from")
	feedbackCmd.Flags().StringVar(&submitter, "submitted-by", "", "submitter identifier")
	feedbackCmd.MarkFlagRequired("type")
	feedbackCmd.MarkFlagRequired("original")
	feedbackCmd.MarkFlagRequired("corrected")
	cmd.AddCommand(feedbackCmd)

	var success bool
	outcomeCmd := &cobra.Command{
		Use:   "outcome <pattern-id>",
		Short: "Record whether an applied correction was right",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPatterns(func(svc *learning.Service, repo *learning.MemoryRepository, cfg *config.Config) error {
				p, err := svc.RecordOutcome(args[0], success)
				if err != nil {
					return err
				}
				if err := savePatternStore(repo, cfg.PatternStore); err != nil {
					return err
				}
				fmt.Printf("%s success_rate=%.3f\n", p.ID, p.SuccessRate)
				return nil
			})
		},
	}
	outcomeCmd.Flags().BoolVar(&success, "success", false, "the applied correction was right")
	cmd.AddCommand(outcomeCmd)

	return cmd
}

func withPatterns(fn func(*learning.Service, *learning.MemoryRepository, *config.Config) error) error {
	logger, cfg, err := setup()
	if err != nil {
		return err
	}
	svc, repo, err := openPatternStore(cfg, logger)
	if err != nil {
		return err
	}
	return fn(svc, repo, cfg)
}

func setup() (zerolog.Logger, *config.Config, error) {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Error().Err(err).Msg("failed to load config")
		return logger, nil, err
	}

	if cfg.ResolvedLogFormat() == "console" {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	}
	if level, err := zerolog.ParseLevel(cfg.LogLevel); err == nil {
		logger = logger.Level(level)
	}
	return logger, cfg, nil
}

func loadKnowledge(cfg *config.Config) (*kb.KnowledgeBase, error) {
	if cfg.KnowledgeFile != "" {
		return kb.LoadFile(cfg.KnowledgeFile)
	}
	return kb.Load()
}

func openPatternStore(cfg *config.Config, logger zerolog.Logger) (*learning.Service, *learning.MemoryRepository, error) {
	repo := learning.NewMemoryRepository()
	if f, err := os.Open(cfg.PatternStore); err == nil {
		defer f.Close()
		if err := repo.Import(f); err != nil {
			return nil, nil, fmt.Errorf("load pattern store %s: %w", cfg.PatternStore, err)
		}
	}
	return learning.NewService(repo, logger), repo, nil
}

func savePatternStore(repo *learning.MemoryRepository, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return repo.Export(f)
}
