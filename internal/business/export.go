package business

import (
	"context"
	"errors"
	"fmt"
	"slices"

	slogctx "github.com/veqryn/slog-context"

	"github.com/openkcm/session-exporter/internal/account"
	"github.com/openkcm/session-exporter/internal/config"
	"github.com/openkcm/session-exporter/internal/export"
	"github.com/openkcm/session-exporter/internal/lockreg"
)

// ExportOptions select the accounts of a batch export.
type ExportOptions struct {
	Phones []string
	All    bool
	ChatID string // Overrides delivery.defaultChatID
}

// ExportMain returns the batch export job. Every selected account runs the
// full pipeline; a failing account does not stop the others.
func ExportMain(opts ExportOptions) func(context.Context, *config.Config) error {
	return func(ctx context.Context, cfg *config.Config) error {
		pipeline, layout, err := initPipeline(ctx, cfg, lockreg.New())
		if err != nil {
			return fmt.Errorf("initialising the export pipeline: %w", err)
		}

		return runExports(ctx, pipeline, layout, cfg, opts)
	}
}

func runExports(ctx context.Context, pipeline *export.Pipeline, layout account.Layout, cfg *config.Config, opts ExportOptions) error {
	available, err := pipeline.Discover()
	if err != nil {
		return fmt.Errorf("discovering sessions: %w", err)
	}

	identifiers := available
	if !opts.All {
		// Sessions are stored under the resource key, so phones are compared
		// by key and spellings of the same number run once.
		identifiers = make([]string, 0, len(opts.Phones))
		selected := make(map[string]bool, len(opts.Phones))
		for _, phone := range opts.Phones {
			key := layout.ResourceKey(phone)
			if !slices.Contains(available, key) {
				slogctx.Info(ctx, "No session found", "phone", phone, "sessions_dir", cfg.Storage.SessionsDir)
				continue
			}
			if selected[key] {
				continue
			}
			selected[key] = true
			identifiers = append(identifiers, phone)
		}
	}

	if len(identifiers) == 0 {
		slogctx.Info(ctx, "No sessions to export", "sessions_dir", cfg.Storage.SessionsDir)
		return nil
	}

	destination := opts.ChatID
	if destination == "" {
		destination = cfg.Delivery.DefaultChatID
	}
	if destination == "" {
		slogctx.Warn(ctx, "No chat id configured, archives are not sent")
	}

	slogctx.Info(ctx, "Exporting sessions", "count", len(identifiers))

	var errs []error
	for _, identifier := range identifiers {
		if err := ctx.Err(); err != nil {
			return err
		}

		res, err := pipeline.Run(ctx, export.Job{
			Identifier:   identifier,
			IncludeStore: !cfg.Export.SkipSession,
			Destination:  destination,
		})
		if err != nil {
			slogctx.Error(ctx, "Export failed", "phone", identifier, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", identifier, err))
			continue
		}

		slogctx.Info(ctx, "Export finished",
			"phone", identifier,
			"archive", res.ArchivePath,
			"size", res.Size,
			"delivered", res.Delivered,
			"message_id", res.Receipt.MessageID,
		)
	}

	if len(errs) > 0 {
		return fmt.Errorf("%d of %d exports failed: %w", len(errs), len(identifiers), errors.Join(errs...))
	}

	return nil
}
