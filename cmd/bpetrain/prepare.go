package main

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/gomlx/go-bpe/corpus"
	"github.com/gomlx/go-bpe/tokenizers/api"
)

func newPrepareCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "prepare PARQUET OUTPUT",
		Short: "Convert the text column of a parquet dataset into a training corpus",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			separator, err := cmd.Flags().GetString("separator")
			if err != nil {
				return err
			}
			n, err := corpus.ImportParquet(cmd.Context(), args[0], args[1], separator)
			if err != nil {
				return err
			}
			log.Info().Int("documents", n).Str("output", args[1]).Msg("Corpus written")
			return nil
		},
	}
	cmd.Flags().String("separator", api.DefaultDelimiter, "Written between documents")
	return cmd
}
