// bpetrain trains byte-level BPE tokenizers.
//
//	bpetrain prepare data/train.parquet data/train.txt
//	bpetrain train -i data/train.txt -n 10000 -o tokenizer
//	bpetrain inspect tokenizer/tokenizer.json
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/gomlx/go-bpe/internal/config"
)

// Version is set at build time.
var Version = "dev"

func main() {
	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	err := newRootCmd().ExecuteContext(ctx)
	if err != nil {
		log.Error().Err(err).Msg("bpetrain failed")
	}
	// PersistentPostRun is skipped when a command fails.
	closeLogFile()
	if err != nil {
		stop()
		os.Exit(1)
	}
}

var (
	// cfg is loaded once per execution, before any command runs.
	cfg *config.Config

	// logFile is the --log-file handle, if any.
	logFile *os.File
)

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "bpetrain",
		Short:         "Train byte-level BPE tokenizers",
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(cmd.Flags()); err != nil {
				return err
			}
			return setupLogging(cfg)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			closeLogFile()
		},
	}
	config.RegisterFlags(root.PersistentFlags())
	root.AddCommand(newTrainCmd(), newPrepareCmd(), newInspectCmd())
	return root
}

// setupLogging configures zerolog, and the verbosity of the libraries' klog logging to match.
func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile != "" {
		closeLogFile()
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return errors.Wrapf(err, "failed to open log file %q", cfg.LogFile)
		}
		logFile = f
		log.Logger = zerolog.New(f).With().Timestamp().Logger()
	}

	klogFlags := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(klogFlags)
	verbosity := "0"
	switch {
	case level <= zerolog.TraceLevel:
		verbosity = "3"
	case level <= zerolog.DebugLevel:
		verbosity = "2"
	}
	if err := klogFlags.Set("v", verbosity); err != nil {
		return errors.Wrap(err, "failed to set klog verbosity")
	}
	return nil
}

func closeLogFile() {
	if logFile == nil {
		return
	}
	if err := logFile.Close(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to close log file: %v\n", err)
	}
	logFile = nil
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
}
