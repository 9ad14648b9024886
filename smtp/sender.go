package smtp

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"

	"github.com/probekit/mailprobe/config"
	"github.com/probekit/mailprobe/model"
)

// Stage identifies where in the submission a failure happened.
type Stage string

const (
	StageDial   Stage = "dial"
	StageAuth   Stage = "auth"
	StageSubmit Stage = "submit"
)

// SendError is a typed submission failure. Its message renders as
// "<class>: <detail>" so the outcome classifier can prepend "SMTP failed:".
type SendError struct {
	Stage Stage
	Err   error
}

func (e *SendError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *SendError) Unwrap() error { return e.Err }

// Sender submits probe messages over an authenticated mail-submission
// channel. It performs no retries; any failure is terminal for the account.
type Sender struct {
	logger *slog.Logger
}

func NewSender(logger *slog.Logger) *Sender {
	return &Sender{logger: logger}
}

// Send delivers the probe to exactly one recipient and returns the elapsed
// wall-clock submission time. The connection is closed on every exit path.
func (s *Sender) Send(ctx context.Context, cfg config.SMTPSettings, p model.Probe) (time.Duration, error) {
	start := time.Now()

	s.logger.Debug("preparing smtp connection",
		"host", cfg.Host, "port", cfg.Port, "security", cfg.Security)

	client, err := s.dial(cfg)
	if err != nil {
		return 0, &SendError{Stage: StageDial, Err: err}
	}
	defer func() {
		_ = client.Close()
	}()
	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})
	defer stopClose()

	client.CommandTimeout = cfg.Timeout
	client.SubmissionTimeout = cfg.Timeout

	if cfg.Username != "" && cfg.Password != "" {
		auth := sasl.NewPlainClient("", cfg.Username, string(cfg.Password))
		if err := client.Auth(auth); err != nil {
			return 0, &SendError{Stage: StageAuth, Err: err}
		}
	}

	if err := submit(client, cfg, p.Raw); err != nil {
		return 0, &SendError{Stage: StageSubmit, Err: err}
	}

	if err := client.Quit(); err != nil {
		// The message was already accepted at this point.
		s.logger.Debug("smtp quit failed", "err", err)
	}

	return time.Since(start), nil
}

func (s *Sender) dial(cfg config.SMTPSettings) (*smtp.Client, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	tlsConfig := &tls.Config{
		ServerName:         cfg.Host,
		InsecureSkipVerify: cfg.InsecureSkipVerify,
	}

	switch cfg.Security {
	case config.SecuritySSL:
		return smtp.DialTLS(addr, tlsConfig)
	case config.SecurityStartTLS:
		return smtp.DialStartTLS(addr, tlsConfig)
	default:
		return smtp.Dial(addr)
	}
}

func submit(client *smtp.Client, cfg config.SMTPSettings, raw []byte) error {
	if err := client.Mail(cfg.From, nil); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := client.Rcpt(cfg.To, nil); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		_ = w.Close()
		return fmt.Errorf("write message: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("close message: %w", err)
	}
	return nil
}
