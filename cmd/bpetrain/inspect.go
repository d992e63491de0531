package main

import (
	"github.com/spf13/cobra"

	"github.com/gomlx/go-bpe/tokenizers/hftokenizer"
)

func newInspectCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "inspect TOKENIZER_JSON",
		Short: "Summarize an exported tokenizer.json",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			top, err := cmd.Flags().GetInt("top")
			if err != nil {
				return err
			}
			res, err := hftokenizer.Load(args[0])
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write([]byte(inspectSummary(args[0], res, top) + "\n"))
			return err
		},
	}
	cmd.Flags().Int("top", 10, "Number of merges and tokens to list")
	return cmd
}
