package stats

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func TestCollectorCounts(t *testing.T) {
	events := make(chan Event, 16)
	events <- Event{Stage: StageSMTP, Type: EventTypeSent, Account: "a"}
	events <- Event{Stage: StageIMAP, Type: EventTypeFound, Account: "a"}
	events <- Event{Stage: StageSMTP, Type: EventTypeSent, Account: "b"}
	events <- Event{Stage: StageIMAP, Type: EventTypeSearchRetry, Account: "b", Err: errors.New("busy")}
	events <- Event{Stage: StageIMAP, Type: EventTypeTimeout, Account: "b"}
	events <- Event{Stage: StageReport, Type: EventTypePushed, Account: "a"}
	close(events)

	collector := NewCollector()
	collector.Run(context.Background(), events)

	summary := collector.Snapshot()
	if summary.Sent != 2 {
		t.Errorf("sent = %d, want 2", summary.Sent)
	}
	if summary.Found != 1 {
		t.Errorf("found = %d, want 1", summary.Found)
	}
	if summary.Timeouts != 1 {
		t.Errorf("timeouts = %d, want 1", summary.Timeouts)
	}
	if summary.SearchRetries != 1 {
		t.Errorf("searchRetries = %d, want 1", summary.SearchRetries)
	}
	if summary.Pushed != 1 {
		t.Errorf("pushed = %d, want 1", summary.Pushed)
	}
	if summary.LastError == nil || summary.LastError.Error() != "busy" {
		t.Errorf("lastError = %v, want busy", summary.LastError)
	}
}

type stubStream struct {
	fn func(context.Context, <-chan Event) error
}

func (s *stubStream) SubscribeStats(_ string, fn func(context.Context, <-chan Event) error) {
	s.fn = fn
}

func TestReporterSummary(t *testing.T) {
	stream := &stubStream{}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	reporter := NewReporter(stream, logger)
	if stream.fn == nil {
		t.Fatal("reporter did not subscribe to the event stream")
	}

	events := make(chan Event, 4)
	events <- Event{Stage: StageSMTP, Type: EventTypeSendError, Account: "a", Err: errors.New("535")}
	events <- Event{Stage: StageIMAP, Type: EventTypeCleanupWarning, Account: "b", Err: errors.New("no permission")}
	close(events)

	if err := stream.fn(context.Background(), events); err != nil {
		t.Fatalf("consume error = %v", err)
	}

	summary := reporter.Summary()
	if summary.SendErrors != 1 {
		t.Errorf("sendErrors = %d, want 1", summary.SendErrors)
	}
	if summary.CleanupWarnings != 1 {
		t.Errorf("cleanupWarnings = %d, want 1", summary.CleanupWarnings)
	}

	attrs := summary.LogAttrs()
	if len(attrs) == 0 {
		t.Fatal("expected log attrs")
	}
}
