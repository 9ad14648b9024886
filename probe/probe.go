package probe

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"time"

	"github.com/emersion/go-message/mail"

	"github.com/probekit/mailprobe/model"
)

// DefaultSubjectPrefix is used when the account does not configure its own.
const DefaultSubjectPrefix = "Mailprobe E2E"

const messageIDDomain = "mailprobe"

type Options struct {
	From          string
	To            string
	SubjectPrefix string
}

// Build constructs a fresh probe message. The correlation token is embedded
// verbatim in the Message-ID, the subject and the body. Pure construction,
// no side effects.
func Build(opts Options) (model.Probe, error) {
	if opts.From == "" {
		return model.Probe{}, fmt.Errorf("probe sender address is empty")
	}
	if opts.To == "" {
		return model.Probe{}, fmt.Errorf("probe recipient address is empty")
	}
	prefix := opts.SubjectPrefix
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}

	token, err := newToken()
	if err != nil {
		return model.Probe{}, err
	}

	id := fmt.Sprintf("%s@%s", token, messageIDDomain)
	subject := fmt.Sprintf("%s token=%s", prefix, token)
	now := time.Now()

	var h mail.Header
	h.SetDate(now)
	h.SetAddressList("From", []*mail.Address{{Address: opts.From}})
	h.SetAddressList("To", []*mail.Address{{Address: opts.To}})
	h.SetSubject(subject)
	h.SetMessageID(id)

	var buf bytes.Buffer
	w, err := mail.CreateSingleInlineWriter(&buf, h)
	if err != nil {
		return model.Probe{}, fmt.Errorf("create message writer: %w", err)
	}
	body := fmt.Sprintf(
		"This is an automated end-to-end monitoring message.\r\nToken: %s\r\nTime: %s\r\n",
		token, now.Format(time.RFC1123Z),
	)
	if _, err := io.WriteString(w, body); err != nil {
		_ = w.Close()
		return model.Probe{}, fmt.Errorf("write message body: %w", err)
	}
	if err := w.Close(); err != nil {
		return model.Probe{}, fmt.Errorf("close message writer: %w", err)
	}

	return model.Probe{
		Token:     token,
		MessageID: "<" + id + ">",
		Subject:   subject,
		Raw:       buf.Bytes(),
		CreatedAt: now,
	}, nil
}

func newToken() (string, error) {
	var b [16]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", fmt.Errorf("read random token: %w", err)
	}
	return hex.EncodeToString(b[:]), nil
}
