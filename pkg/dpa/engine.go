package dpa

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff"
	"github.com/google/uuid"
	"github.com/pion/logging"
)

// AsyncHandlerFunc receives unsolicited (asynchronous) DPA messages, e.g.
// reset notifications and FRC/peripheral events not tied to a request this
// engine sent.
type AsyncHandlerFunc func(frame Frame)

// AnyHandlerFunc receives every frame the channel delivers, request or
// response or asynchronous alike; used for verbose tracing.
type AnyHandlerFunc func(frame Frame)

// EngineConfig configures a new Engine.
type EngineConfig struct {
	// Channel is the coordinator link. Required.
	Channel Channel

	// BootTimeout bounds how long Start waits for the coordinator to
	// identify itself before giving up. Defaults to 30s.
	BootTimeout time.Duration

	// CacheReload, when set, is invoked after every reset notification
	// once the coordinator parameters have been re-populated.
	CacheReload func(CoordinatorParameters)

	// LoggerFactory is the factory for creating loggers. If nil, logging
	// is disabled.
	LoggerFactory logging.LoggerFactory
}

// Engine is the DpaEngine: it owns the single coordinator Channel, runs
// one transaction at a time, and hands unsolicited frames to registered
// async/any handlers.
type Engine struct {
	channel     Channel
	bootTimeout time.Duration
	cacheReload func(CoordinatorParameters)
	log         logging.LeveledLogger

	txMu    sync.Mutex // serialises Execute calls; the engine is the lock
	current *DpaTransactionRecord
	waitCh  chan struct{} // closed when current's state changes

	resetCh chan Frame // one-shot reset-notification signal consumed by Start

	paramsMu sync.RWMutex
	ready    bool
	params   CoordinatorParameters
	timing   TimingParams

	leaseMu sync.Mutex
	lease   *ExclusiveLease

	handlersMu    sync.Mutex
	asyncHandlers map[string]AsyncHandlerFunc
	asyncOrder    []string
	anyHandlers   map[string]AnyHandlerFunc
	anyOrder      []string

	closeOnce sync.Once
}

// NewEngine constructs an Engine bound to config.Channel. Call Start
// before issuing any Execute calls.
func NewEngine(config EngineConfig) (*Engine, error) {
	if config.Channel == nil {
		return nil, ErrChannelClosed
	}
	bootTimeout := config.BootTimeout
	if bootTimeout <= 0 {
		bootTimeout = 30 * time.Second
	}

	e := &Engine{
		channel:       config.Channel,
		bootTimeout:   bootTimeout,
		cacheReload:   config.CacheReload,
		resetCh:       make(chan Frame, 1),
		timing:        DefaultTimingParams(),
		asyncHandlers: make(map[string]AsyncHandlerFunc),
		anyHandlers:   make(map[string]AnyHandlerFunc),
	}
	if config.LoggerFactory != nil {
		e.log = config.LoggerFactory.NewLogger("dpa-engine")
	}
	return e, nil
}

// OS peripheral restart command, sent when the coordinator does not
// announce itself within the boot timeout.
const (
	osPeripheral = 0x02
	osCmdRestart = 0x08
)

// Start runs the engine's startup sequence: it registers the channel's
// receive handler, then waits for a reset (async) notification from the
// coordinator using a one-shot channel with a time.After fallback. If no
// notification arrives within BootTimeout, it sends an explicit restart
// request and waits once more; a second timeout leaves the engine
// NotReady and every subsequent Execute fails fast.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.channel.RegisterReceive(func(raw []byte) {
		frame, err := DecodeFrame(raw)
		if err != nil {
			if e.log != nil {
				e.log.Warnf("dpa: dropping undecodable frame: %v", err)
			}
			return
		}
		e.onFrame(frame)
	}); err != nil {
		return err
	}

	select {
	case <-e.resetCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.bootTimeout):
	}

	if e.log != nil {
		e.log.Warnf("dpa: no reset notification within %v, requesting coordinator restart", e.bootTimeout)
	}
	restart := Frame{Kind: FrameRequest, NADR: CoordinatorAddress, PNUM: osPeripheral, PCMD: osCmdRestart}
	if err := e.channel.Send(ctx, restart.Encode()); err != nil {
		return ErrStartupTimeout
	}

	select {
	case <-e.resetCh:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(e.bootTimeout):
		return ErrStartupTimeout
	}
}

// handleReset consumes a reset notification: it re-populates the cached
// coordinator parameters from the announced payload, marks the engine
// ready, and aborts any transaction that was in flight when the
// coordinator went down.
func (e *Engine) handleReset(frame Frame) {
	e.paramsMu.Lock()
	e.ready = true
	if len(frame.Data) >= 4 {
		copy(e.params.MID[:], frame.Data[:4])
	}
	if len(frame.Data) >= 6 {
		word := uint16(frame.Data[5])<<8 | uint16(frame.Data[4])
		e.params.DpaVersionWord = word &^ 0x8000
		e.params.DemoFlag = word&0x8000 != 0
		e.params.DpaVersion = formatDpaVersion(e.params.DpaVersionWord)
	}
	if len(frame.Data) >= 7 {
		flags := frame.Data[6]
		e.params.StdSupported = flags&0x01 != 0
		e.params.LpSupported = flags&0x02 != 0
		if e.params.LpSupported && !e.params.StdSupported {
			e.params.RFMode = RFModeLowPower
		} else {
			e.params.RFMode = RFModeStandard
		}
	}
	params := e.params
	e.paramsMu.Unlock()

	if e.cacheReload != nil {
		e.cacheReload(params)
	}

	e.txMu.Lock()
	tx := e.current
	var wake chan struct{}
	if tx != nil && tx.State != TransactionDone {
		tx.State = TransactionDone
		tx.Outcome = OutcomeAborted
		tx.Err = ErrAborted
		wake = e.waitCh
		e.waitCh = nil
	}
	e.txMu.Unlock()
	if wake != nil {
		close(wake)
	}
}

// formatDpaVersion renders a DPA version word as its conventional string,
// major in decimal and minor as two hex digits (0x0417 -> "4.17").
func formatDpaVersion(word uint16) string {
	return fmt.Sprintf("%d.%02x", word>>8, byte(word))
}

// onFrame routes a decoded frame to the in-flight transaction (if any),
// the reset-detection channel, and any registered handlers.
func (e *Engine) onFrame(frame Frame) {
	e.handlersMu.Lock()
	anyHandlers := make([]AnyHandlerFunc, 0, len(e.anyOrder))
	for _, id := range e.anyOrder {
		anyHandlers = append(anyHandlers, e.anyHandlers[id])
	}
	asyncHandlers := make([]AsyncHandlerFunc, 0, len(e.asyncOrder))
	for _, id := range e.asyncOrder {
		asyncHandlers = append(asyncHandlers, e.asyncHandlers[id])
	}
	e.handlersMu.Unlock()

	for _, h := range anyHandlers {
		e.invokeHandler(func() { h(frame) })
	}

	if frame.Kind == FrameAsync {
		// Async frames from the coordinator itself announce a reset; async
		// frames from nodes are ordinary unsolicited traffic.
		if frame.NADR == CoordinatorAddress {
			e.handleReset(frame)
			select {
			case e.resetCh <- frame:
			default:
			}
		}
		for _, h := range asyncHandlers {
			e.invokeHandler(func() { h(frame) })
		}
		return
	}

	e.txMu.Lock()
	tx := e.current
	if tx == nil {
		e.txMu.Unlock()
		return
	}
	switch frame.Kind {
	case FrameConfirmation:
		if tx.State == TransactionSent {
			tx.State = TransactionConfirmed
			tx.Confirmation = frame
			tx.Confirmed = time.Now()
		}
	case FrameResponse:
		if tx.State == TransactionDone || tx.State == TransactionTimedOut {
			break
		}
		tx.Response = frame
		tx.Responded = time.Now()
		tx.State = TransactionResponded
		if frame.ErrorCode != 0 {
			tx.Outcome = OutcomeDpaError
			tx.Err = fmt.Errorf("%w: code %d", ErrDpaError, frame.ErrorCode)
		} else {
			tx.Outcome = OutcomeOK
		}
		tx.State = TransactionDone
	}
	done := tx.State == TransactionDone
	wake := e.waitCh
	if done {
		e.waitCh = nil
	}
	e.txMu.Unlock()

	if done && wake != nil {
		close(wake)
	}
}

// Execute sends request through the single coordinator channel and waits
// for its outcome. A zero timeout selects the engine's default timing
// based on its current RF mode and request.NADR. While an ExclusiveLease
// is held, Execute fails immediately with ErrExclusiveAccessBusy; the
// lease holder issues its transactions through the lease's own Execute.
func (e *Engine) Execute(ctx context.Context, request Frame, timeout time.Duration) Result {
	return e.executeAs(ctx, request, timeout, nil)
}

func (e *Engine) executeAs(ctx context.Context, request Frame, timeout time.Duration, holder *ExclusiveLease) Result {
	e.leaseMu.Lock()
	blocked := e.lease != nil && e.lease != holder
	e.leaseMu.Unlock()
	if blocked {
		return Result{Err: ErrExclusiveAccessBusy, Outcome: OutcomeAborted}
	}

	e.paramsMu.RLock()
	ready := e.ready
	rfMode := e.params.RFMode
	timing := e.timing
	e.paramsMu.RUnlock()
	if !ready {
		return Result{Err: ErrEngineNotReady, Outcome: OutcomeAborted}
	}

	if timeout <= 0 {
		timeout = timing.Timeout(rfMode, request.NADR)
	}

	e.txMu.Lock()
	if e.current != nil {
		e.txMu.Unlock()
		return Result{Err: ErrExclusiveAccessBusy, Outcome: OutcomeAborted}
	}
	tx := &DpaTransactionRecord{Request: request, State: TransactionCreated, Timeout: timeout}
	wake := make(chan struct{})
	e.waitCh = wake
	e.current = tx
	e.txMu.Unlock()

	defer func() {
		e.txMu.Lock()
		e.current = nil
		e.waitCh = nil
		e.txMu.Unlock()
	}()

	sendCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	e.txMu.Lock()
	tx.State = TransactionSent
	tx.Sent = time.Now()
	e.txMu.Unlock()
	if err := e.channel.Send(sendCtx, request.Encode()); err != nil {
		return Result{Err: ErrTransportFailure, Outcome: OutcomeTransportError}
	}

	select {
	case <-wake:
		e.txMu.Lock()
		res := tx.result()
		e.txMu.Unlock()
		return res
	case <-ctx.Done():
		e.txMu.Lock()
		if tx.State != TransactionDone {
			tx.State = TransactionTimedOut
			tx.Outcome = OutcomeAborted
			tx.Err = ctx.Err()
		}
		res := tx.result()
		e.txMu.Unlock()
		return res
	case <-time.After(timeout):
		e.txMu.Lock()
		if tx.State != TransactionDone {
			tx.State = TransactionTimedOut
			tx.Outcome = OutcomeTimeout
			tx.Err = ErrTransactionTimeout
		}
		res := tx.result()
		e.txMu.Unlock()
		return res
	}
}

// ExecuteWithRetry retries Execute, pausing retryInterval (250ms) between
// attempts, until it succeeds (OutcomeOK), ctx is done, or maxRetries
// additional attempts are exhausted. A DPA error response
// (OutcomeDpaError) is not retried: it is a valid, final answer from the
// addressed node.
func (e *Engine) ExecuteWithRetry(ctx context.Context, request Frame, timeout time.Duration, maxRetries int) Result {
	return e.executeWithRetryAs(ctx, request, timeout, maxRetries, nil)
}

// retryInterval is the pause between ExecuteWithRetry attempts.
const retryInterval = 250 * time.Millisecond

func (e *Engine) executeWithRetryAs(ctx context.Context, request Frame, timeout time.Duration, maxRetries int, holder *ExclusiveLease) Result {
	bo := backoff.NewConstantBackOff(retryInterval)

	if maxRetries < 0 {
		maxRetries = 0
	}
	var last Result
	for attempt := 0; attempt <= maxRetries; attempt++ {
		last = e.executeAs(ctx, request, timeout, holder)
		if last.Outcome == OutcomeOK || last.Outcome == OutcomeDpaError {
			return last
		}
		if ctx.Err() != nil || attempt == maxRetries {
			return last
		}
		select {
		case <-ctx.Done():
			return Result{Err: ctx.Err(), Outcome: OutcomeAborted}
		case <-time.After(bo.NextBackOff()):
		}
	}
	return last
}

// AcquireExclusive grants the caller an ExclusiveLease, returning
// ErrExclusiveAccessBusy if another lease is already held. While the
// lease lives, only its own Execute/ExecuteWithRetry reach the channel.
func (e *Engine) AcquireExclusive() (*ExclusiveLease, error) {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()
	if e.lease != nil {
		return nil, ErrExclusiveAccessBusy
	}
	l := &ExclusiveLease{token: uuid.New(), engine: e}
	e.lease = l
	e.channel.SetExclusive(true)
	return l, nil
}

func (e *Engine) releaseExclusive(l *ExclusiveLease) {
	e.leaseMu.Lock()
	defer e.leaseMu.Unlock()
	if e.lease == l {
		e.lease = nil
		e.channel.SetExclusive(false)
	}
}

// invokeHandler runs a subscriber callback, logging and swallowing any
// panic so one bad subscriber cannot stop the frame pipeline.
func (e *Engine) invokeHandler(fn func()) {
	defer func() {
		if r := recover(); r != nil && e.log != nil {
			e.log.Errorf("dpa: handler panic: %v", r)
		}
	}()
	fn()
}

// RegisterAsyncHandler subscribes handler, under id, to every unsolicited
// frame (resets, FRC/peripheral events). Subscribers are invoked serially
// in registration order. A duplicate id is rejected.
func (e *Engine) RegisterAsyncHandler(id string, handler AsyncHandlerFunc) error {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	if _, exists := e.asyncHandlers[id]; exists {
		return ErrReceiveAlreadyRegistered
	}
	e.asyncHandlers[id] = handler
	e.asyncOrder = append(e.asyncOrder, id)
	return nil
}

// UnregisterAsyncHandler removes the async subscriber registered under id.
func (e *Engine) UnregisterAsyncHandler(id string) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	delete(e.asyncHandlers, id)
	e.asyncOrder = removeID(e.asyncOrder, id)
}

// RegisterAnyHandler subscribes handler, under id, to every frame the
// channel delivers, request and async alike; used for tracing and
// diagnostics. Subscribers are invoked serially in registration order.
func (e *Engine) RegisterAnyHandler(id string, handler AnyHandlerFunc) error {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	if _, exists := e.anyHandlers[id]; exists {
		return ErrReceiveAlreadyRegistered
	}
	e.anyHandlers[id] = handler
	e.anyOrder = append(e.anyOrder, id)
	return nil
}

// UnregisterAnyHandler removes the any-frame subscriber registered under id.
func (e *Engine) UnregisterAnyHandler(id string) {
	e.handlersMu.Lock()
	defer e.handlersMu.Unlock()
	delete(e.anyHandlers, id)
	e.anyOrder = removeID(e.anyOrder, id)
}

func removeID(order []string, id string) []string {
	for i, v := range order {
		if v == id {
			return append(order[:i], order[i+1:]...)
		}
	}
	return order
}

// CoordinatorParameters returns a snapshot of what this engine currently
// knows about the coordinator and network.
func (e *Engine) CoordinatorParameters() CoordinatorParameters {
	e.paramsMu.RLock()
	defer e.paramsMu.RUnlock()
	return e.params
}

// SetTimingParams replaces the default per-addressee timeout table used
// when Execute is called without an explicit timeout.
func (e *Engine) SetTimingParams(timing TimingParams) {
	e.paramsMu.Lock()
	e.timing = timing
	e.paramsMu.Unlock()
}

// SetRFMode updates the RF mode used to compute default timeouts.
func (e *Engine) SetRFMode(mode RFMode) {
	e.paramsMu.Lock()
	e.params.RFMode = mode
	e.paramsMu.Unlock()
}

// SetFRCResponseTime updates the configured FRC response-wait time.
func (e *Engine) SetFRCResponseTime(t FRCResponseTime) {
	e.paramsMu.Lock()
	e.params.FRCResponse = t
	e.paramsMu.Unlock()
}

// QueueLen reports whether a transaction is currently in flight: 1 if so,
// 0 otherwise. The engine accepts exactly one Execute at a time, so this
// is the entire "queue".
func (e *Engine) QueueLen() int {
	e.txMu.Lock()
	defer e.txMu.Unlock()
	if e.current != nil {
		return 1
	}
	return 0
}

// Close releases the underlying channel.
func (e *Engine) Close() error {
	var err error
	e.closeOnce.Do(func() {
		e.channel.UnregisterReceive()
		err = e.channel.Close()
	})
	return err
}
