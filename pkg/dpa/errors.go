package dpa

import "errors"

// Errors returned by the dpa package.
var (
	// ErrChannelClosed is returned by Send/RegisterReceive on a closed channel.
	ErrChannelClosed = errors.New("dpa: channel is closed")

	// ErrReceiveAlreadyRegistered is returned when RegisterReceive is called
	// while a handler is already installed.
	ErrReceiveAlreadyRegistered = errors.New("dpa: receive handler already registered")

	// ErrExclusiveAccessBusy is returned by Execute when another caller
	// holds an ExclusiveLease.
	ErrExclusiveAccessBusy = errors.New("dpa: exclusive access busy")

	// ErrEngineNotReady is returned by Execute (and a lease's Execute) when
	// the engine has not identified the coordinator; AcquireExclusive does
	// not check readiness.
	ErrEngineNotReady = errors.New("dpa: engine not ready")

	// ErrStartupTimeout is returned by Start when no reset notification and
	// no response to the restart request arrive within BootTimeout.
	ErrStartupTimeout = errors.New("dpa: startup timed out waiting for coordinator")

	// ErrTransactionTimeout marks a DpaTransactionRecord whose response did
	// not arrive within its deadline.
	ErrTransactionTimeout = errors.New("dpa: transaction timed out")

	// ErrTransportFailure marks a transaction that failed at the channel
	// I/O layer.
	ErrTransportFailure = errors.New("dpa: transport failure")

	// ErrDpaError marks a transaction whose response carried a non-zero
	// DPA error code; the code is wrapped into the record's Err and also
	// available as Result.Response.ErrorCode.
	ErrDpaError = errors.New("dpa: error response from coordinator")

	// ErrAborted marks a transaction aborted by a coordinator reset
	// notification that arrived while it was in flight.
	ErrAborted = errors.New("dpa: transaction aborted")

	// ErrLeaseAlreadyReleased guards against double-release of a lease.
	ErrLeaseAlreadyReleased = errors.New("dpa: lease already released")

	// ErrInvalidFrame is returned when a received byte sequence cannot be
	// decoded as a Frame.
	ErrInvalidFrame = errors.New("dpa: invalid frame")
)
