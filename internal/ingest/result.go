// Package ingest runs one mailbox sync: fetch, decode, publish, persist and
// clean up, in that order.
package ingest

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jarrod-lowe/inbound-mail-sync/internal/blob"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/config"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/mailbox"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/message"
	"github.com/jarrod-lowe/inbound-mail-sync/internal/record"
)

// Reason is the coarse failure class reported to the caller.
type Reason string

const (
	ReasonConfiguration      Reason = "configuration"
	ReasonMailboxUnavailable Reason = "mailbox-unavailable"
	ReasonDBUnreachable      Reason = "db-unreachable"
	ReasonMalformedMessage   Reason = "malformed-message"
	ReasonStorageWrite       Reason = "storage-write"
	ReasonPersistence        Reason = "persistence"
	ReasonFinalize           Reason = "finalize"
	ReasonInternal           Reason = "internal"
)

// Classify maps an error to its Reason.
func Classify(err error) Reason {
	switch {
	case errors.Is(err, config.ErrConfiguration), errors.Is(err, config.ErrParameterNotFound):
		return ReasonConfiguration
	case errors.Is(err, mailbox.ErrFinalize):
		return ReasonFinalize
	case errors.Is(err, mailbox.ErrMailboxUnavailable):
		return ReasonMailboxUnavailable
	case errors.Is(err, record.ErrDBUnreachable):
		return ReasonDBUnreachable
	case errors.Is(err, message.ErrMalformedMessage):
		return ReasonMalformedMessage
	case errors.Is(err, blob.ErrStorageWrite):
		return ReasonStorageWrite
	case errors.Is(err, record.ErrPersistence):
		return ReasonPersistence
	default:
		return ReasonInternal
	}
}

// Result is the outcome of one run. Error carries only a Reason, never
// error detail.
type Result struct {
	Success        bool   `json:"success"`
	ProcessedCount int    `json:"processedCount"`
	FailedCount    int    `json:"failedCount"`
	Error          Reason `json:"error,omitempty"`
}

// Failure returns a failed Result for reason.
func Failure(reason Reason) Result {
	return Result{Error: reason}
}

// Outcome is the metrics label for the result.
func (r Result) Outcome() string {
	if r.Success {
		return "success"
	}
	return string(r.Error)
}

// ErrorPolicy decides what happens to the rest of a run when one message fails.
type ErrorPolicy int

const (
	// Abort stops iterating at the first failed message.
	Abort ErrorPolicy = iota
	// Skip leaves the failed message in the mailbox and continues.
	Skip
)

func (p ErrorPolicy) String() string {
	if p == Skip {
		return "skip"
	}
	return "abort"
}

// ParseErrorPolicy parses "abort" or "skip".
func ParseErrorPolicy(s string) (ErrorPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "abort":
		return Abort, nil
	case "skip":
		return Skip, nil
	default:
		return Abort, fmt.Errorf("%w: unknown message error policy %q", config.ErrConfiguration, s)
	}
}

// State is a step of a run.
type State string

const (
	StateIdle       State = "idle"
	StateLocked     State = "locked"
	StateConnected  State = "connected"
	StateIterating  State = "iterating"
	StateFinalizing State = "finalizing"
	StateLoggedOut  State = "logged-out"
	StateDone       State = "done"
)
