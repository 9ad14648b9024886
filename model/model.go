package model

import "time"

// Probe is a disposable test message sent to prove mail round-trip delivery.
// It is immutable once built and owned by the pipeline run that created it.
type Probe struct {
	// Token is a 128-bit random identifier, hex encoded. It is embedded in
	// the Message-ID, the subject and the body so that independent search
	// strategies can correlate the message later.
	Token     string
	MessageID string
	Subject   string
	Raw       []byte
	CreatedAt time.Time
}

// Match identifies a located probe message. The sequence number is only
// valid within the mailbox session that produced it.
type Match struct {
	SeqNum uint32
}

// Outcome is the terminal result of one account's probe run.
type Outcome struct {
	Account string
	Success bool
	Message string
	// SendLatency is the measured SMTP submission time. Nil when the
	// submission failed before it could be measured.
	SendLatency *time.Duration
}
