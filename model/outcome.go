package model

import (
	"fmt"
	"time"
)

// The constructors below are the single place where pipeline exits are
// turned into user-visible status messages. Health-push endpoints key on
// these strings, so their shape is part of the external contract.

// SendFailed classifies an SMTP submission failure. No further polling
// happens for the account after this point.
func SendFailed(account string, err error) Outcome {
	return Outcome{
		Account: account,
		Message: fmt.Sprintf("SMTP failed: %v", err),
	}
}

// ConnectFailed classifies a mailbox connect/login failure. The send
// latency is carried forward when the submission itself succeeded.
func ConnectFailed(account string, err error, sendLatency *time.Duration) Outcome {
	return Outcome{
		Account:     account,
		Message:     fmt.Sprintf("IMAP connect failed: %v", err),
		SendLatency: sendLatency,
	}
}

// TimedOut classifies a poll deadline expiry without a match. This is a
// normal terminal state, not an error.
func TimedOut(account string, sendLatency *time.Duration) Outcome {
	return Outcome{
		Account:     account,
		Message:     "IMAP timeout: message not found",
		SendLatency: sendLatency,
	}
}

// Succeeded classifies a proven round trip. Cleanup problems after the
// match never change this verdict.
func Succeeded(account string, sendLatency *time.Duration) Outcome {
	return Outcome{
		Account:     account,
		Success:     true,
		Message:     "OK",
		SendLatency: sendLatency,
	}
}
