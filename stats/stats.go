package stats

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Stage string

const (
	StageSMTP   Stage = "smtp"
	StageIMAP   Stage = "imap"
	StageReport Stage = "report"
)

type EventType string

const (
	EventTypeSent           EventType = "sent"
	EventTypeFound          EventType = "found"
	EventTypeTimeout        EventType = "timeout"
	EventTypeSendError      EventType = "send_error"
	EventTypeConnectError   EventType = "connect_error"
	EventTypeSearchRetry    EventType = "search_retry"
	EventTypeCleanupWarning EventType = "cleanup_warning"
	EventTypePushed         EventType = "pushed"
	EventTypePushError      EventType = "push_error"
)

type Event struct {
	Stage   Stage
	Type    EventType
	Account string
	Err     error
}

type Summary struct {
	Sent            int
	Found           int
	Timeouts        int
	SendErrors      int
	ConnectErrors   int
	SearchRetries   int
	CleanupWarnings int
	Pushed          int
	PushErrors      int
	LastError       error
}

func (s Summary) LogAttrs() []any {
	attrs := []any{
		"sent", s.Sent,
		"found", s.Found,
		"timeouts", s.Timeouts,
		"sendErrors", s.SendErrors,
		"connectErrors", s.ConnectErrors,
		"searchRetries", s.SearchRetries,
		"cleanupWarnings", s.CleanupWarnings,
		"pushed", s.Pushed,
		"pushErrors", s.PushErrors,
	}
	if s.LastError != nil {
		attrs = append(attrs, "lastError", s.LastError.Error())
	}
	return attrs
}

type Collector struct {
	mu      sync.Mutex
	summary Summary
}

func NewCollector() *Collector {
	return &Collector{}
}

func (c *Collector) Run(ctx context.Context, events <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			c.apply(evt)
		}
	}
}

func (c *Collector) Snapshot() Summary {
	c.mu.Lock()
	summary := c.summary
	c.mu.Unlock()
	return summary
}

func (c *Collector) apply(evt Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch evt.Type {
	case EventTypeSent:
		c.summary.Sent++
	case EventTypeFound:
		c.summary.Found++
	case EventTypeTimeout:
		c.summary.Timeouts++
	case EventTypeSendError:
		c.summary.SendErrors++
	case EventTypeConnectError:
		c.summary.ConnectErrors++
	case EventTypeSearchRetry:
		c.summary.SearchRetries++
	case EventTypeCleanupWarning:
		c.summary.CleanupWarnings++
	case EventTypePushed:
		c.summary.Pushed++
	case EventTypePushError:
		c.summary.PushErrors++
	}
	if evt.Err != nil {
		c.summary.LastError = evt.Err
	}
}

type EventStream interface {
	SubscribeStats(name string, fn func(context.Context, <-chan Event) error)
}

type Reporter struct {
	collector *Collector
	logger    *slog.Logger
	started   time.Time
}

func NewReporter(stream EventStream, logger *slog.Logger) *Reporter {
	reporter := &Reporter{
		collector: NewCollector(),
		logger:    logger,
		started:   time.Now(),
	}
	stream.SubscribeStats("stats-reporter", reporter.consume)
	return reporter
}

func (r *Reporter) consume(ctx context.Context, events <-chan Event) error {
	r.collector.Run(ctx, events)
	summary := r.collector.Snapshot()
	attrs := append(summary.LogAttrs(), "duration", time.Since(r.started))
	if ctx.Err() != nil {
		if r.logger != nil {
			r.logger.Debug("stats collection stopped", append(attrs, "err", ctx.Err())...)
		}
		return ctx.Err()
	}
	if r.logger != nil {
		r.logger.Info("stats summary", attrs...)
	}
	return nil
}

func (r *Reporter) Summary() Summary {
	return r.collector.Snapshot()
}
