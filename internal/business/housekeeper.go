package business

import (
	"context"
	"fmt"
	"time"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/config"
	"github.com/openkcm/session-exporter/internal/export"
	"github.com/openkcm/session-exporter/internal/lockreg"
)

// HousekeeperMain starts the house keeping jobs
func HousekeeperMain(ctx context.Context, cfg *config.Config) error {
	pipeline, _, err := initPipeline(ctx, cfg, lockreg.New())
	if err != nil {
		return fmt.Errorf("failed to initialise the export pipeline: %w", err)
	}

	if cfg.Housekeeper.ArchiveRetention <= 0 {
		slogctx.Info(ctx, "Archive retention disabled, nothing to do")
		return nil
	}
	if cfg.Housekeeper.TriggerInterval <= 0 {
		return fmt.Errorf("invalid housekeeper trigger interval %s", cfg.Housekeeper.TriggerInterval)
	}

	// Start the housekeeper loop
	c := time.Tick(cfg.Housekeeper.TriggerInterval)
	for {
		pruneArchives(ctx, pipeline, cfg.Housekeeper.ArchiveRetention, time.Now())

		select {
		case <-c:
			continue
		case <-ctx.Done():
			return nil
		}
	}
}

func pruneArchives(ctx context.Context, pipeline *export.Pipeline, retention time.Duration, now time.Time) {
	removed, err := pipeline.Prune(ctx, now.Add(-retention))
	if err != nil {
		slogctx.Error(ctx, "Error during archive housekeeping", "error", err)
	}

	slogctx.Info(ctx, "Archive housekeeping done", "removed", removed, "retention", retention)
}
