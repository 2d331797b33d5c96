// Package ingest reads door-controller attempt feeds and forwards normalized
// attempts to the detector.
package ingest

import (
	"context"
	"log/slog"
	"time"

	"doorguard/internal/config"
	"doorguard/internal/model"
	"doorguard/internal/normalize"
)

func SendNonBlocking(ctx context.Context, out chan<- model.Attempt, att model.Attempt, logger *slog.Logger) bool {
	select {
	case out <- att:
		return true
	case <-ctx.Done():
		return false
	default:
		if logger != nil {
			logger.Warn("attempt channel full, dropping attempt", "location", att.Location, "source", att.Source)
		}
		return false
	}
}

func BackoffSleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		d = 200 * time.Millisecond
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// processLine parses, normalizes and forwards one line. It reports whether an
// attempt was forwarded.
func processLine(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Attempt, logger *slog.Logger, source, line string) bool {
	fields, err := parser.ParseLine(line)
	if err != nil || fields == nil {
		return false
	}
	return forward(ctx, cfg, out, logger, source, fields)
}

func forward(ctx context.Context, cfg *config.Manager, out chan<- model.Attempt, logger *slog.Logger, source string, fields *normalize.EventFields) bool {
	att, err := normalize.Normalize(*fields, cfg.Get())
	if err != nil {
		if logger != nil {
			logger.Warn("normalize error", "source", source, "err", err)
		}
		return false
	}
	att.Source = source
	return SendNonBlocking(ctx, out, att, logger)
}
