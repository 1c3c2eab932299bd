package events

import (
	"context"
	"log/slog"
)

// Recorder receives aggregated release activity. Implemented by the
// observability metrics recorder.
type Recorder interface {
	ObserveDownload(platform string, bytes int64)
	ObserveUpload(platform string, bytes int64)
}

// Worker drains a queue subscription and feeds release activity into a
// Recorder. Running it as the sole consumer keeps counters consistent even
// when events arrive from other replicas via Redis.
type Worker struct {
	queue    Queue
	recorder Recorder
	logger   *slog.Logger
}

func NewWorker(queue Queue, recorder Recorder, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{queue: queue, recorder: recorder, logger: logger}
}

// Run blocks until the context is cancelled or the subscription closes.
func (w *Worker) Run(ctx context.Context) {
	if w == nil || w.queue == nil || w.recorder == nil {
		return
	}
	sub := w.queue.Subscribe()
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			switch event.Type {
			case TypeDownloaded:
				w.recorder.ObserveDownload(event.Platform, event.SizeBytes)
			case TypeUploaded:
				w.recorder.ObserveUpload(event.Platform, event.SizeBytes)
			default:
				w.logger.Debug("ignoring unknown release event", "type", event.Type)
			}
		}
	}
}
