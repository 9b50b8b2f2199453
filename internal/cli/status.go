package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/audiomesh/chainmirror/internal/infra/storage/postgres"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current block and indexing checkpoints",
	Run:   runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()
	db, err := postgres.NewDB(ctx, cfg.Database)
	if err != nil {
		slog.Error("Failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = db.Close()
	}()

	store := postgres.NewStore(db)
	current, err := store.CurrentBlock(ctx)
	if err != nil {
		slog.Error("Failed to read current block", "error", err)
		os.Exit(1)
	}
	fmt.Printf("current block: %d (%s)\n\n", current.NumberOrZero(), current.Hash)

	rows, err := db.QueryContext(ctx, "SELECT tablename, last_checkpoint FROM indexing_checkpoints ORDER BY tablename")
	if err != nil {
		slog.Error("Failed to query checkpoints", "error", err)
		os.Exit(1)
	}
	defer func() {
		_ = rows.Close()
	}()

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 3, ' ', tabwriter.Debug)
	_, _ = fmt.Fprintln(w, "CHECKPOINT\tBLOCK")

	for rows.Next() {
		var name string
		var checkpoint int64
		if err := rows.Scan(&name, &checkpoint); err != nil {
			continue
		}
		_, _ = fmt.Fprintf(w, "%s\t%d\n", name, checkpoint)
	}
	_ = w.Flush()
}
