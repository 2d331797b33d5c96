package ingest

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"doorguard/internal/config"
	"doorguard/internal/model"
)

func StartFileTail(ctx context.Context, cfg *config.Manager, parser *Parser, out chan<- model.Attempt, logger *slog.Logger) {
	current := cfg.Get().Ingest.FileTail
	if !current.Enabled {
		if logger != nil {
			logger.Info("file tail ingest disabled")
		}
		return
	}
	for _, path := range current.Files {
		if logger != nil {
			logger.Info("file tail ingest enabled", "path", path, "start_at_end", current.StartAtEnd)
		}
		go tailFile(ctx, path, current.StartAtEnd, cfg, parser, out, logger)
	}
}

// tailFile follows path, reopening it when it is truncated or rotated. Text
// after the last newline is held back until the writer finishes the line.
func tailFile(ctx context.Context, path string, startAtEnd bool, cfg *config.Manager, parser *Parser, out chan<- model.Attempt, logger *slog.Logger) {
	var file *os.File
	var reader *bufio.Reader
	var offset int64
	var partial strings.Builder
	defer func() {
		if file != nil {
			_ = file.Close()
		}
	}()
	reopen := func() {
		_ = file.Close()
		file = nil
		partial.Reset()
	}
	for {
		if file == nil {
			f, err := os.Open(path)
			if err != nil {
				if logger != nil {
					logger.Warn("tail open failed", "path", path, "err", err)
				}
				if !BackoffSleep(ctx, 500*time.Millisecond) {
					return
				}
				continue
			}
			file = f
			offset = 0
			if startAtEnd {
				if pos, err := file.Seek(0, io.SeekEnd); err == nil {
					offset = pos
				}
				// only the first open skips existing content
				startAtEnd = false
			}
			reader = bufio.NewReader(file)
		}

		line, err := reader.ReadString('\n')
		offset += int64(len(line))
		if err == nil {
			if partial.Len() > 0 {
				partial.WriteString(line)
				line = partial.String()
				partial.Reset()
			}
			processLine(ctx, cfg, parser, out, logger, "file_tail", line)
			continue
		}
		if err != io.EOF {
			if logger != nil {
				logger.Warn("tail read error", "path", path, "err", err)
			}
			reopen()
			continue
		}
		partial.WriteString(line)
		if !BackoffSleep(ctx, 200*time.Millisecond) {
			return
		}
		if rotated(file, path, offset) {
			if logger != nil {
				logger.Info("tail file truncated or rotated", "path", path)
			}
			reopen()
		}
	}
}

// rotated reports whether path no longer names the open file or has shrunk
// below what was already read.
func rotated(file *os.File, path string, offset int64) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	if info.Size() < offset {
		return true
	}
	current, err := file.Stat()
	if err != nil {
		return true
	}
	return !os.SameFile(info, current)
}
