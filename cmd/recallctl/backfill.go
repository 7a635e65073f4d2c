package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mnemolabs/recalld/internal/embeddings"
	"github.com/mnemolabs/recalld/internal/memory"
)

var backfillBatchSize int

var backfillCmd = &cobra.Command{
	Use:   "backfill-embeddings",
	Short: "Embed memories that were saved without a vector",
	Long: `Scan all tenants for memories whose embedding is NULL, embed them in
batches against the configured endpoint, and write the vectors back. Rows
that were embedded concurrently are skipped. Safe to re-run; safe to run
while the daemon is serving.

The embeddings section of the config must be set; use --config or
RECALLD_EMBEDDINGS_* variables.`,
	Args: cobra.NoArgs,
	RunE: runBackfill,
}

func init() {
	backfillCmd.Flags().IntVar(&backfillBatchSize, "batch-size", 32, "memories embedded per request batch")
	rootCmd.AddCommand(backfillCmd)
}

func runBackfill(cmd *cobra.Command, _ []string) error {
	// No timeout: a large backlog legitimately runs for a while.
	ctx := cmd.Context()

	store, cfg, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if !cfg.Embeddings.Enabled() {
		return fmt.Errorf("embeddings.base_url is not configured")
	}
	embedder, err := embeddings.New(cfg.Embeddings, cliLogger())
	if err != nil {
		return err
	}

	fmt.Println(dimStyle.Render("backfilling against " + cfg.Embeddings.BaseURL))
	res, err := memory.BackfillEmbeddings(ctx, store, embedder, backfillBatchSize, cliLogger())
	if err != nil {
		return err
	}
	fmt.Printf("%s scanned %d, embedded %d\n", okStyle.Render("done"), res.Scanned, res.Embedded)
	return nil
}
