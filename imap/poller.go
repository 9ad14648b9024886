package imap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	imapv2 "github.com/emersion/go-imap/v2"

	"github.com/probekit/mailprobe/model"
)

// Poller repeatedly searches a mailbox for a probe message until it is
// found or the deadline expires. The wait between attempts is a fixed
// interval; probe volume is low and a busy server is more likely to cause a
// false negative than a systemic failure, so there is no backoff.
type Poller struct {
	Mailbox  string
	Timeout  time.Duration
	Interval time.Duration
	Logger   *slog.Logger

	// OnTransient, when set, is invoked for every recovered per-attempt
	// search error.
	OnTransient func(err error)
}

// strategy is one correlation criterion. Strategies are tried most specific
// first: a Message-ID match is authoritative, the subject substring can in
// theory collide with historical probes, and the full-text token search is
// the widest net for backends that do not index every header.
type strategy struct {
	name     string
	criteria *imapv2.SearchCriteria
}

func strategies(p model.Probe) []strategy {
	return []strategy{
		{
			name: "message-id",
			criteria: &imapv2.SearchCriteria{
				Header: []imapv2.SearchCriteriaHeaderField{
					{Key: "Message-Id", Value: p.MessageID},
				},
			},
		},
		{
			name: "subject",
			criteria: &imapv2.SearchCriteria{
				Header: []imapv2.SearchCriteriaHeaderField{
					{Key: "Subject", Value: p.Token},
				},
			},
		},
		{
			name: "text",
			criteria: &imapv2.SearchCriteria{
				Text: []string{p.Token},
			},
		},
	}
}

// Poll runs the search loop. It returns the located match, or ok=false once
// the deadline passes (or ctx is cancelled) without one. Per-attempt errors
// are transient: they are logged and the loop continues.
func (p *Poller) Poll(ctx context.Context, session Session, probe model.Probe) (model.Match, bool) {
	deadline := time.Now().Add(p.Timeout)
	strats := strategies(probe)
	selected := false

	for attempt := 1; ; attempt++ {
		match, found, err := p.searchOnce(session, strats, &selected)
		if err != nil {
			p.Logger.Debug("search attempt failed", "attempt", attempt, "err", err)
			if p.OnTransient != nil {
				p.OnTransient(err)
			}
		}
		if found {
			p.Logger.Debug("probe located", "attempt", attempt, "seqNum", match.SeqNum)
			return match, true
		}
		if !time.Now().Before(deadline) {
			return model.Match{}, false
		}

		select {
		case <-ctx.Done():
			return model.Match{}, false
		case <-time.After(p.Interval):
		}
	}
}

// searchOnce runs the strategy cascade a single time. The first strategy
// returning matches short-circuits the rest; the last (most recently
// indexed) sequence number wins so that the newest message is preferred
// when historical probes share a weak criterion.
func (p *Poller) searchOnce(session Session, strats []strategy, selected *bool) (model.Match, bool, error) {
	if !*selected {
		if err := session.Select(p.Mailbox); err != nil {
			return model.Match{}, false, err
		}
		*selected = true
	}

	var firstErr error
	for _, st := range strats {
		nums, err := session.Search(st.criteria)
		if err != nil {
			if firstErr == nil {
				firstErr = fmt.Errorf("%s search: %w", st.name, err)
			}
			continue
		}
		if len(nums) > 0 {
			return model.Match{SeqNum: nums[len(nums)-1]}, true, nil
		}
	}
	return model.Match{}, false, firstErr
}

// Cleanup removes a located probe from the mailbox. It is best effort: the
// returned error is a warning for the caller to log and must never change
// the account's verdict, since the round trip is already proven.
func Cleanup(session Session, match model.Match) error {
	if err := session.StoreDeleted(match.SeqNum); err != nil {
		return err
	}
	return session.Expunge()
}
