package imap

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"strconv"

	imapv2 "github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"github.com/probekit/mailprobe/config"
)

// ConnectError is a typed mailbox connect/login failure. Its message renders
// as "<class>: <detail>" so the outcome classifier can prepend
// "IMAP connect failed:".
type ConnectError struct {
	Stage string // "dial" or "login"
	Err   error
}

func (e *ConnectError) Error() string { return fmt.Sprintf("%s: %v", e.Stage, e.Err) }

func (e *ConnectError) Unwrap() error { return e.Err }

// Session is the narrow slice of the mailbox protocol the poller and the
// cleaner need. The concrete implementation wraps an imapclient connection;
// tests substitute fakes.
type Session interface {
	Select(mailbox string) error
	Search(criteria *imapv2.SearchCriteria) ([]uint32, error)
	StoreDeleted(seqNum uint32) error
	Expunge() error
	Logout() error
}

// Dialer opens authenticated mailbox sessions.
type Dialer struct {
	logger *slog.Logger
}

func NewDialer(logger *slog.Logger) *Dialer {
	return &Dialer{logger: logger}
}

// Dial connects to the mailbox endpoint with the configured security mode
// and logs in when credentials are present. Failure here is terminal for
// the account; there is no retry.
func (d *Dialer) Dial(ctx context.Context, cfg config.IMAPSettings) (Session, error) {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	options := &imapclient.Options{}

	if cfg.Security != config.SecurityNone {
		options.TLSConfig = &tls.Config{
			ServerName:         cfg.Host,
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		}
	}

	d.logger.Debug("connecting imap",
		"address", addr, "security", cfg.Security, "user", cfg.Username)

	var (
		client *imapclient.Client
		err    error
	)
	switch cfg.Security {
	case config.SecuritySSL:
		client, err = imapclient.DialTLS(addr, options)
	case config.SecurityStartTLS:
		client, err = imapclient.DialStartTLS(addr, options)
	default:
		client, err = imapclient.DialInsecure(addr, options)
	}
	if err != nil {
		return nil, &ConnectError{Stage: "dial", Err: fmt.Errorf("dial imap %s: %w", addr, err)}
	}

	if cfg.Username != "" && cfg.Password != "" {
		if err := client.Login(cfg.Username, string(cfg.Password)).Wait(); err != nil {
			_ = client.Close()
			return nil, &ConnectError{Stage: "login", Err: err}
		}
	}

	stopClose := context.AfterFunc(ctx, func() {
		_ = client.Close()
	})

	return &clientSession{client: client, stopClose: stopClose, logger: d.logger}, nil
}

type clientSession struct {
	client    *imapclient.Client
	stopClose func() bool
	logger    *slog.Logger
}

func (s *clientSession) Select(mailbox string) error {
	if _, err := s.client.Select(mailbox, nil).Wait(); err != nil {
		return fmt.Errorf("select %s: %w", mailbox, err)
	}
	return nil
}

func (s *clientSession) Search(criteria *imapv2.SearchCriteria) ([]uint32, error) {
	data, err := s.client.Search(criteria, nil).Wait()
	if err != nil {
		return nil, err
	}
	return data.AllSeqNums(), nil
}

func (s *clientSession) StoreDeleted(seqNum uint32) error {
	seqSet := imapv2.SeqSetNum(seqNum)
	flags := &imapv2.StoreFlags{
		Op:     imapv2.StoreFlagsAdd,
		Silent: true,
		Flags:  []imapv2.Flag{imapv2.FlagDeleted},
	}
	if err := s.client.Store(seqSet, flags, nil).Close(); err != nil {
		return fmt.Errorf("store \\Deleted: %w", err)
	}
	return nil
}

func (s *clientSession) Expunge() error {
	if _, err := s.client.Expunge().Collect(); err != nil {
		return fmt.Errorf("expunge: %w", err)
	}
	return nil
}

func (s *clientSession) Logout() error {
	s.stopClose()
	if err := s.client.Logout().Wait(); err != nil {
		_ = s.client.Close()
		return fmt.Errorf("logout: %w", err)
	}
	if err := s.client.Close(); err != nil {
		s.logger.Debug("imap connection closed", "err", err)
	}
	return nil
}
