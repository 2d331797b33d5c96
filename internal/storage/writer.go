package storage

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"doorguard/internal/model"
)

type record struct {
	event *model.Event
	key   *model.Key
}

// Writer persists audit records on its own goroutine so callers never wait
// on the database. Records are dropped when the buffer is full.
type Writer struct {
	store  Store
	logger *slog.Logger
	queue  chan record
	wg     sync.WaitGroup
}

func NewWriter(store Store, buffer int, logger *slog.Logger) *Writer {
	if buffer <= 0 {
		buffer = 1024
	}
	return &Writer{store: store, logger: logger, queue: make(chan record, buffer)}
}

func (w *Writer) RecordEvent(ev model.Event) {
	w.enqueue(record{event: &ev})
}

func (w *Writer) RecordKey(k model.Key) {
	w.enqueue(record{key: &k})
}

func (w *Writer) enqueue(rec record) {
	if w == nil || w.store == nil {
		return
	}
	select {
	case w.queue <- rec:
	default:
		if w.logger != nil {
			w.logger.Warn("audit queue full, dropping record")
		}
	}
}

// Start drains the queue until ctx is done, then flushes what is left.
func (w *Writer) Start(ctx context.Context) {
	if w == nil || w.store == nil {
		return
	}
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		for {
			select {
			case rec := <-w.queue:
				w.write(rec)
			case <-ctx.Done():
				for {
					select {
					case rec := <-w.queue:
						w.write(rec)
					default:
						return
					}
				}
			}
		}
	}()
}

func (w *Writer) Wait() {
	if w != nil {
		w.wg.Wait()
	}
}

func (w *Writer) write(rec record) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var err error
	switch {
	case rec.event != nil:
		err = w.store.SaveEvent(ctx, *rec.event)
	case rec.key != nil:
		err = w.store.SaveKey(ctx, *rec.key)
	}
	if err != nil && w.logger != nil {
		w.logger.Warn("audit write failed", "err", err)
	}
}
