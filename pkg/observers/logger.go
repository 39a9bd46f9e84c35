// Package observers holds metrics observers that turn raw events into logs
// and connection health summaries.
package observers

import (
	"context"
	"log/slog"

	"github.com/harunnryd/livecore/pkg/metrics"
)

// LoggerObserver writes every event at debug level.
type LoggerObserver struct {
	log  *slog.Logger
	skip map[string]bool
}

// NewLoggerObserver logs all events except the named ones.
func NewLoggerObserver(log *slog.Logger, skip ...string) *LoggerObserver {
	if log == nil {
		log = slog.Default()
	}
	o := &LoggerObserver{log: log, skip: make(map[string]bool, len(skip))}
	for _, name := range skip {
		o.skip[name] = true
	}
	return o
}

func (o *LoggerObserver) RecordEvent(ev metrics.MetricsEvent) {
	if o.skip[ev.Name] || !o.log.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	attrs := []slog.Attr{
		slog.String("event", ev.Name),
		slog.Float64("value", ev.Value),
	}
	for k, v := range ev.Tags {
		attrs = append(attrs, slog.String(k, v))
	}
	for k, v := range ev.Fields {
		attrs = append(attrs, slog.Any(k, v))
	}
	o.log.LogAttrs(context.Background(), slog.LevelDebug, "metrics_event", attrs...)
}

// MultiObserver fans an event out to every non-nil observer.
type MultiObserver struct {
	list []metrics.Observer
}

func NewMultiObserver(list ...metrics.Observer) *MultiObserver {
	return &MultiObserver{list: list}
}

func (m *MultiObserver) RecordEvent(ev metrics.MetricsEvent) {
	for _, obs := range m.list {
		if obs != nil {
			obs.RecordEvent(ev)
		}
	}
}
