package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"time"

	"storefront/internal/pkg/config"

	"ariga.io/atlas-go-sdk/atlasexec"
)

// migrate applies the versioned SQL files under migrations/ with the atlas
// CLI. The directory must carry an atlas.sum (`atlas migrate hash`).
func main() {
	dir := flag.String("dir", "file://migrations", "atlas migration directory URL")
	atlasBin := flag.String("atlas", "atlas", "path to the atlas binary")
	dryRun := flag.Bool("dry-run", false, "print pending migrations without applying them")
	flag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.LoadDBConfig()
	if err != nil {
		logger.Error("failed to load database config", "error", err)
		os.Exit(1)
	}

	client, err := atlasexec.NewClient(".", *atlasBin)
	if err != nil {
		logger.Error("failed to initialize atlas client", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	res, err := client.MigrateApply(ctx, &atlasexec.MigrateApplyParams{
		URL:    cfg.BuildDSN(),
		DirURL: *dir,
		DryRun: *dryRun,
	})
	if err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}

	applied := make([]string, 0, len(res.Applied))
	for _, f := range res.Applied {
		applied = append(applied, f.Name)
	}
	logger.Info("migrations applied",
		"current", res.Current,
		"target", res.Target,
		"applied", applied,
		"dry_run", *dryRun)
}
