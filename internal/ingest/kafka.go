package ingest

import (
	"context"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"doorguard/internal/config"
	"doorguard/internal/model"
)

// StartKafka consumes attempt messages, one line per message value.
func StartKafka(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Attempt, logger *slog.Logger) {
	current := cfg.Get().Ingest.Kafka
	if !current.Enabled {
		if logger != nil {
			logger.Info("kafka ingest disabled")
		}
		return
	}
	if logger != nil {
		logger.Info("kafka ingest enabled", "brokers", current.Brokers, "topic", current.Topic, "group_id", current.GroupID)
	}
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:  current.Brokers,
		Topic:    current.Topic,
		GroupID:  current.GroupID,
		MinBytes: 1,
		MaxBytes: 1e6,
	})
	go func() {
		defer reader.Close()
		for {
			m, err := reader.ReadMessage(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				if logger != nil {
					logger.Warn("kafka read error", "err", err)
				}
				if !BackoffSleep(ctx, time.Second) {
					return
				}
				continue
			}
			handleKafkaMessage(ctx, cfg, parser, out, logger, m)
		}
	}()
}

func handleKafkaMessage(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Attempt, logger *slog.Logger, m kafka.Message) bool {
	fields, err := parser.ParseLine(string(m.Value))
	if err != nil || fields == nil {
		return false
	}
	if fields.Location == "" && len(m.Key) > 0 {
		// producers partition by door id
		fields.Location = string(m.Key)
	}
	return forward(ctx, cfg, out, logger, "kafka", fields)
}

