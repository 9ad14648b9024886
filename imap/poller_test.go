package imap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/probekit/mailprobe/model"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testProbe() model.Probe {
	token := "0123456789abcdef0123456789abcdef"
	return model.Probe{
		Token:     token,
		MessageID: "<" + token + "@mailprobe>",
		Subject:   "Mailprobe E2E token=" + token,
	}
}

// criteriaKey labels a search criteria by the strategy that produced it.
func criteriaKey(c *imapv2.SearchCriteria) string {
	if len(c.Text) > 0 {
		return "text"
	}
	if len(c.Header) > 0 {
		switch strings.ToLower(c.Header[0].Key) {
		case "message-id":
			return "message-id"
		case "subject":
			return "subject"
		}
	}
	return "unknown"
}

type fakeSession struct {
	selectErrs  []error
	selectCalls int

	searchFn    func(call int, key string) ([]uint32, error)
	searchCalls int
	searchKeys  []string

	stored     []uint32
	storeErr   error
	expunges   int
	expungeErr error
	loggedOut  bool
}

func (f *fakeSession) Select(string) error {
	f.selectCalls++
	if len(f.selectErrs) > 0 {
		err := f.selectErrs[0]
		f.selectErrs = f.selectErrs[1:]
		if err != nil {
			return err
		}
	}
	return nil
}

func (f *fakeSession) Search(c *imapv2.SearchCriteria) ([]uint32, error) {
	f.searchCalls++
	key := criteriaKey(c)
	f.searchKeys = append(f.searchKeys, key)
	if f.searchFn != nil {
		return f.searchFn(f.searchCalls, key)
	}
	return nil, nil
}

func (f *fakeSession) StoreDeleted(seqNum uint32) error {
	if f.storeErr != nil {
		return f.storeErr
	}
	f.stored = append(f.stored, seqNum)
	return nil
}

func (f *fakeSession) Expunge() error {
	if f.expungeErr != nil {
		return f.expungeErr
	}
	f.expunges++
	return nil
}

func (f *fakeSession) Logout() error {
	f.loggedOut = true
	return nil
}

func newPoller(timeout, interval time.Duration) *Poller {
	return &Poller{
		Mailbox:  "INBOX",
		Timeout:  timeout,
		Interval: interval,
		Logger:   discardLogger(),
	}
}

func TestPollMessageIDPreferred(t *testing.T) {
	session := &fakeSession{
		searchFn: func(_ int, key string) ([]uint32, error) {
			if key == "message-id" {
				return []uint32{7}, nil
			}
			return []uint32{99}, nil
		},
	}

	match, found := newPoller(time.Second, 10*time.Millisecond).Poll(context.Background(), session, testProbe())
	if !found {
		t.Fatal("expected match")
	}
	if match.SeqNum != 7 {
		t.Errorf("seqNum = %d, want the Message-ID match 7", match.SeqNum)
	}
	if len(session.searchKeys) != 1 || session.searchKeys[0] != "message-id" {
		t.Errorf("search keys = %v, want the cascade to stop after message-id", session.searchKeys)
	}
}

func TestPollStrategyCascadeOrder(t *testing.T) {
	session := &fakeSession{
		searchFn: func(_ int, key string) ([]uint32, error) {
			if key == "text" {
				return []uint32{4}, nil
			}
			return nil, nil
		},
	}

	match, found := newPoller(time.Second, 10*time.Millisecond).Poll(context.Background(), session, testProbe())
	if !found {
		t.Fatal("expected match")
	}
	if match.SeqNum != 4 {
		t.Errorf("seqNum = %d, want 4", match.SeqNum)
	}
	want := []string{"message-id", "subject", "text"}
	for i, key := range want {
		if session.searchKeys[i] != key {
			t.Fatalf("search keys = %v, want prefix %v", session.searchKeys, want)
		}
	}
}

func TestPollSubjectShortCircuitsText(t *testing.T) {
	session := &fakeSession{
		searchFn: func(_ int, key string) ([]uint32, error) {
			if key == "subject" {
				return []uint32{5}, nil
			}
			return nil, nil
		},
	}

	match, found := newPoller(time.Second, 10*time.Millisecond).Poll(context.Background(), session, testProbe())
	if !found || match.SeqNum != 5 {
		t.Fatalf("match = %v found = %t", match, found)
	}
	for _, key := range session.searchKeys {
		if key == "text" {
			t.Error("text strategy must not run after a subject match")
		}
	}
}

func TestPollLastMatchWins(t *testing.T) {
	session := &fakeSession{
		searchFn: func(_ int, key string) ([]uint32, error) {
			if key == "message-id" {
				return []uint32{3, 7, 9}, nil
			}
			return nil, nil
		},
	}

	match, found := newPoller(time.Second, 10*time.Millisecond).Poll(context.Background(), session, testProbe())
	if !found {
		t.Fatal("expected match")
	}
	if match.SeqNum != 9 {
		t.Errorf("seqNum = %d, want the most recently indexed match 9", match.SeqNum)
	}
}

func TestPollTransientErrorKeepsPolling(t *testing.T) {
	session := &fakeSession{
		searchFn: func(call int, key string) ([]uint32, error) {
			// Every strategy of the first attempt fails, then the
			// second attempt matches immediately.
			if call <= 3 {
				return nil, errors.New("server busy")
			}
			if key == "message-id" {
				return []uint32{2}, nil
			}
			return nil, nil
		},
	}

	poller := newPoller(time.Second, 10*time.Millisecond)
	var transients int
	poller.OnTransient = func(error) { transients++ }

	match, found := poller.Poll(context.Background(), session, testProbe())
	if !found {
		t.Fatal("transient error on attempt N must not prevent attempt N+1")
	}
	if match.SeqNum != 2 {
		t.Errorf("seqNum = %d, want 2", match.SeqNum)
	}
	if transients == 0 {
		t.Error("expected transient error callback")
	}
}

func TestPollTimeoutWindow(t *testing.T) {
	session := &fakeSession{}

	const (
		timeout  = 100 * time.Millisecond
		interval = 40 * time.Millisecond
	)

	start := time.Now()
	_, found := newPoller(timeout, interval).Poll(context.Background(), session, testProbe())
	elapsed := time.Since(start)

	if found {
		t.Fatal("expected timeout")
	}
	if elapsed < timeout {
		t.Errorf("timed out after %s, want no earlier than %s", elapsed, timeout)
	}
	if elapsed > timeout+interval+100*time.Millisecond {
		t.Errorf("timed out after %s, want within one interval of the deadline", elapsed)
	}
	attempts := session.searchCalls / 3
	if attempts < 2 {
		t.Errorf("attempts = %d, want at least 2 before the deadline", attempts)
	}
}

func TestPollSelectFailureIsTransient(t *testing.T) {
	session := &fakeSession{
		selectErrs: []error{errors.New("mailbox busy")},
		searchFn: func(_ int, key string) ([]uint32, error) {
			if key == "message-id" {
				return []uint32{1}, nil
			}
			return nil, nil
		},
	}

	_, found := newPoller(time.Second, 10*time.Millisecond).Poll(context.Background(), session, testProbe())
	if !found {
		t.Fatal("select failure must be retried on the next attempt")
	}
	if session.selectCalls != 2 {
		t.Errorf("select calls = %d, want 2", session.selectCalls)
	}
}

func TestPollContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	start := time.Now()
	_, found := newPoller(10*time.Second, 50*time.Millisecond).Poll(ctx, &fakeSession{}, testProbe())
	if found {
		t.Fatal("expected no match")
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("cancellation took %s, want prompt exit", elapsed)
	}
}

func TestCleanup(t *testing.T) {
	session := &fakeSession{}
	if err := Cleanup(session, model.Match{SeqNum: 9}); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if len(session.stored) != 1 || session.stored[0] != 9 {
		t.Errorf("stored = %v, want [9]", session.stored)
	}
	if session.expunges != 1 {
		t.Errorf("expunges = %d, want 1", session.expunges)
	}
}

func TestCleanupStoreFailure(t *testing.T) {
	session := &fakeSession{storeErr: errors.New("no permission")}
	if err := Cleanup(session, model.Match{SeqNum: 9}); err == nil {
		t.Fatal("expected error")
	}
	if session.expunges != 0 {
		t.Error("expunge must not run after a failed store")
	}
}

func TestCleanupExpungeFailure(t *testing.T) {
	session := &fakeSession{expungeErr: errors.New("server closed")}
	if err := Cleanup(session, model.Match{SeqNum: 9}); err == nil {
		t.Fatal("expected error")
	}
}
