package dpa

import "time"

// TransactionState is the lifecycle of a single DpaTransactionRecord:
// Created -> Sent -> (Confirmed?) -> Responded -> Done, or
// ... -> TimedOut when no response arrives within the transaction's
// timeout; TimedOut is terminal, like Done.
type TransactionState int

const (
	TransactionCreated TransactionState = iota
	TransactionSent
	TransactionConfirmed
	TransactionResponded
	TransactionTimedOut
	TransactionDone
)

func (s TransactionState) String() string {
	switch s {
	case TransactionCreated:
		return "created"
	case TransactionSent:
		return "sent"
	case TransactionConfirmed:
		return "confirmed"
	case TransactionResponded:
		return "responded"
	case TransactionTimedOut:
		return "timed-out"
	case TransactionDone:
		return "done"
	default:
		return "unknown"
	}
}

// TransactionOutcome is how a transaction concluded.
type TransactionOutcome int

const (
	OutcomeOK TransactionOutcome = iota
	OutcomeTimeout
	OutcomeTransportError
	OutcomeDpaError
	OutcomeAborted
)

func (o TransactionOutcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeTransportError:
		return "transport-error"
	case OutcomeDpaError:
		return "dpa-error"
	case OutcomeAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// DpaTransactionRecord is the engine's bookkeeping for one in-flight
// request/response exchange. It is built and advanced entirely under the
// engine's transaction mutex; nothing outside pkg/dpa ever reaches into
// its State directly.
type DpaTransactionRecord struct {
	Request      Frame
	State        TransactionState
	Outcome      TransactionOutcome
	Confirmation Frame
	Response     Frame
	Err          error
	Sent         time.Time
	Confirmed    time.Time
	Responded    time.Time
	Timeout      time.Duration
}

// Result is the public, read-only summary returned to the caller of
// Execute/ExecuteWithRetry. It carries the full record of one transaction
// (request, confirmation and response frames plus their timestamps) so a
// caller can build a verbose trace entry without reaching into the
// engine's internal bookkeeping.
type Result struct {
	Request      Frame
	Confirmation Frame
	Response     Frame
	Outcome      TransactionOutcome
	Err          error
	Sent         time.Time
	Confirmed    time.Time
	Responded    time.Time
}

func (r *DpaTransactionRecord) result() Result {
	return Result{
		Request:      r.Request,
		Confirmation: r.Confirmation,
		Response:     r.Response,
		Outcome:      r.Outcome,
		Err:          r.Err,
		Sent:         r.Sent,
		Confirmed:    r.Confirmed,
		Responded:    r.Responded,
	}
}
