package runner

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/probekit/mailprobe/config"
	"github.com/probekit/mailprobe/imap"
	"github.com/probekit/mailprobe/model"
	"github.com/probekit/mailprobe/probe"
	"github.com/probekit/mailprobe/stats"
)

// Sender submits a probe message and reports the elapsed submission time.
type Sender interface {
	Send(ctx context.Context, cfg config.SMTPSettings, p model.Probe) (time.Duration, error)
}

// Dialer opens an authenticated mailbox session.
type Dialer interface {
	Dial(ctx context.Context, cfg config.IMAPSettings) (imap.Session, error)
}

// Pusher reports an outcome to the account's health-push endpoint.
type Pusher interface {
	Push(ctx context.Context, pushURL string, outcome model.Outcome) error
}

// Runner executes the probe pipeline for every account. Each account runs
// as its own goroutine with no shared mutable state; a failure in one never
// aborts the others.
type Runner struct {
	logger *slog.Logger
	sender Sender
	dialer Dialer
	pusher Pusher

	ctx    context.Context
	cancel context.CancelFunc

	events chan stats.Event

	statsWG         sync.WaitGroup
	closeEventsOnce sync.Once
}

func New(logger *slog.Logger, sender Sender, dialer Dialer, pusher Pusher) *Runner {
	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		logger: logger,
		sender: sender,
		dialer: dialer,
		pusher: pusher,
		ctx:    ctx,
		cancel: cancel,
		events: make(chan stats.Event, 128),
	}
}

func (r *Runner) EmitEvent(evt stats.Event) {
	select {
	case <-r.ctx.Done():
	case r.events <- evt:
	}
}

func (r *Runner) SubscribeStats(name string, fn func(context.Context, <-chan stats.Event) error) {
	r.statsWG.Add(1)
	go func() {
		defer r.statsWG.Done()
		if err := fn(r.ctx, r.events); err != nil && !errors.Is(err, context.Canceled) {
			r.logger.Error("stats consumer failed", "name", name, "err", err)
		}
	}()
}

// Run executes every account pipeline concurrently and returns one outcome
// per account, in input order. The aggregate verdict is the logical AND
// over Outcome.Success.
func (r *Runner) Run(accounts []config.Account) []model.Outcome {
	outcomes := make([]model.Outcome, len(accounts))

	g := new(errgroup.Group)
	for i, acct := range accounts {
		i, acct := i, acct
		g.Go(func() error {
			r.logger.Info("running probe", "account", acct.Name)
			outcome := r.checkAccount(r.ctx, acct)
			outcomes[i] = outcome
			r.push(r.ctx, acct, outcome)
			if !outcome.Success {
				r.logger.Warn("account check failed", "account", acct.Name, "msg", outcome.Message)
			}
			return nil
		})
	}
	_ = g.Wait()

	r.closeEvents()
	r.statsWG.Wait()
	r.cancel()

	return outcomes
}

// checkAccount runs one account's pipeline: build probe, send, poll,
// optionally clean up, classify. Every exit produces exactly one outcome.
func (r *Runner) checkAccount(ctx context.Context, acct config.Account) model.Outcome {
	log := r.logger.With("account", acct.Name)
	start := time.Now()

	p, err := probe.Build(probe.Options{
		From:          acct.SMTP.From,
		To:            acct.SMTP.To,
		SubjectPrefix: acct.SubjectPrefix,
	})
	if err != nil {
		log.Error("probe construction failed", "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageSMTP, Type: stats.EventTypeSendError, Account: acct.Name, Err: err})
		return model.SendFailed(acct.Name, err)
	}

	latency, err := r.sender.Send(ctx, acct.SMTP, p)
	if err != nil {
		log.Error("smtp send failed", "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageSMTP, Type: stats.EventTypeSendError, Account: acct.Name, Err: err})
		return model.SendFailed(acct.Name, err)
	}
	log.Info("smtp sent", "latency", latency, "token", p.Token)
	r.EmitEvent(stats.Event{Stage: stats.StageSMTP, Type: stats.EventTypeSent, Account: acct.Name})

	session, err := r.dialer.Dial(ctx, acct.IMAP)
	if err != nil {
		log.Error("imap connect failed", "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeConnectError, Account: acct.Name, Err: err})
		return model.ConnectFailed(acct.Name, err, &latency)
	}
	defer func() {
		if err := session.Logout(); err != nil {
			log.Debug("imap logout failed", "err", err)
		}
	}()

	poller := &imap.Poller{
		Mailbox:  acct.IMAP.Mailbox,
		Timeout:  acct.Poll.Timeout,
		Interval: acct.Poll.Interval,
		Logger:   log,
		OnTransient: func(err error) {
			r.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeSearchRetry, Account: acct.Name, Err: err})
		},
	}

	match, found := poller.Poll(ctx, session, p)
	if !found {
		log.Error("probe not found before deadline", "token", p.Token)
		r.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeTimeout, Account: acct.Name})
		return model.TimedOut(acct.Name, &latency)
	}
	r.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeFound, Account: acct.Name})

	if acct.DeleteOnSuccess {
		if err := imap.Cleanup(session, match); err != nil {
			log.Warn("could not delete probe message", "seqNum", match.SeqNum, "err", err)
			r.EmitEvent(stats.Event{Stage: stats.StageIMAP, Type: stats.EventTypeCleanupWarning, Account: acct.Name, Err: err})
		}
	}

	// The reported latency intentionally covers only the SMTP submission,
	// matching what push consumers already graph. The full round trip is
	// logged alongside it.
	log.Info("end-to-end success", "token", p.Token, "latency", latency, "roundTrip", time.Since(start))
	return model.Succeeded(acct.Name, &latency)
}

func (r *Runner) push(ctx context.Context, acct config.Account, outcome model.Outcome) {
	if acct.PushURL == "" || r.pusher == nil {
		return
	}
	if err := r.pusher.Push(ctx, acct.PushURL, outcome); err != nil {
		r.logger.Error("health push failed", "account", acct.Name, "err", err)
		r.EmitEvent(stats.Event{Stage: stats.StageReport, Type: stats.EventTypePushError, Account: acct.Name, Err: err})
		return
	}
	r.EmitEvent(stats.Event{Stage: stats.StageReport, Type: stats.EventTypePushed, Account: acct.Name})
}

func (r *Runner) closeEvents() {
	r.closeEventsOnce.Do(func() {
		close(r.events)
	})
}
