package main

import (
	"path/filepath"
	"runtime"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gomlx/go-bpe/internal/config"
	"github.com/gomlx/go-bpe/internal/files"
	"github.com/gomlx/go-bpe/tokenizers/bpe"
	"github.com/gomlx/go-bpe/tokenizers/hftokenizer"
)

const reportFile = "training.json"

func newTrainCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "train [CORPUS]",
		Short: "Train a vocabulary and merge list on a text corpus",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runTrain,
	}
	config.RegisterTrainFlags(cmd.Flags())
	return cmd
}

func runTrain(cmd *cobra.Command, args []string) error {
	if len(args) > 0 {
		cfg.Input = args[0]
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	opts := cfg.TrainOptions(runtime.NumCPU())
	if existing := filepath.Join(cfg.Output, hftokenizer.TokenizerFile); files.Exists(existing) {
		log.Warn().Str("file", existing).Msg("Output already exists and will be overwritten")
	}

	log.Info().
		Str("input", cfg.Input).
		Int("vocab_size", opts.VocabSize).
		Strs("special_tokens", opts.SpecialTokens).
		Int("parallelism", opts.Parallelism).
		Msg("Training...")
	start := time.Now()
	res, err := bpe.Train(cmd.Context(), cfg.Input, opts)
	if err != nil {
		return err
	}
	log.Info().
		Str("run_id", res.RunID).
		Int("vocab_size", res.Vocab.Len()).
		Int("merges", len(res.Merges)).
		Dur("elapsed", time.Since(start)).
		Msg("Training done")

	if err := hftokenizer.Export(cmd.Context(), cfg.Output, res, opts.Normalization); err != nil {
		return err
	}
	if cfg.Report {
		report := bpe.NewReport(cfg.Input, opts, res)
		if err := report.Save(cmd.Context(), filepath.Join(cfg.Output, reportFile)); err != nil {
			return err
		}
	}
	log.Info().Str("output", cfg.Output).Msg("Tokenizer saved")

	_, err = cmd.OutOrStdout().Write([]byte(trainSummary(res, cfg.Output) + "\n"))
	return err
}
