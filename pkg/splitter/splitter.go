// Package splitter implements the JSON message splitter: the central
// router that validates, classifies, queues and dispatches inbound API
// requests to registered service handlers, and fans responses back out
// to one or more messaging transports.
package splitter

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/pion/logging"

	"github.com/iqrf-gateway/daemon-core/pkg/messaging"
	"github.com/iqrf-gateway/daemon-core/pkg/schema"
)

// HandlerFunc processes one already-validated, already-classified request
// and returns the "data" object of its response (mType/msgId/insId are
// stamped by the splitter, not the handler).
type HandlerFunc func(ctx context.Context, mt schema.MessageType, doc map[string]interface{}) (map[string]interface{}, error)

// Config configures a new Splitter.
type Config struct {
	Schema *schema.Registry

	// InstanceID is stamped into every outbound message's data.insId.
	InstanceID string

	// ManagementQueueCapacity / NetworkQueueCapacity bound each queue.
	// Both default to 32.
	ManagementQueueCapacity int
	NetworkQueueCapacity    int

	// ValidateResponses runs the response schema (if any) before
	// serialising outbound messages.
	ValidateResponses bool

	// DefaultTargets is used by Send when targets is empty; if this is
	// also empty, Send broadcasts to every attached AcceptsAsync
	// transport.
	DefaultTargets []messaging.Instance

	// LoggerFactory is the factory for creating loggers. If nil, logging
	// is disabled.
	LoggerFactory logging.LoggerFactory
}

// Splitter is the MessageSplitter: it owns the two bounded queues, the
// schema registry, the set of attached transports and the handler
// registry.
type Splitter struct {
	schema            *schema.Registry
	instanceID        string
	validateResponses bool
	defaultTargets    []messaging.Instance
	log               logging.LeveledLogger

	mgmt *boundedQueue
	net  *boundedQueue

	transportsMu sync.RWMutex
	transports   map[messaging.Instance]messaging.Transport

	handlersMu sync.RWMutex
	handlers   map[string]HandlerFunc // filter prefix -> handler

	wg sync.WaitGroup
}

// New constructs a Splitter and starts its two queue workers.
func New(config Config) *Splitter {
	s := &Splitter{
		schema:            config.Schema,
		instanceID:        config.InstanceID,
		validateResponses: config.ValidateResponses,
		defaultTargets:    config.DefaultTargets,
		mgmt:              newBoundedQueue("management", config.ManagementQueueCapacity),
		net:               newBoundedQueue("network", config.NetworkQueueCapacity),
		transports:        make(map[messaging.Instance]messaging.Transport),
		handlers:          make(map[string]HandlerFunc),
	}
	if config.LoggerFactory != nil {
		s.log = config.LoggerFactory.NewLogger("splitter")
	}

	s.wg.Add(2)
	go s.runWorker(s.mgmt, false)
	go s.runWorker(s.net, true)

	return s
}

// AttachMessaging registers an inbound/outbound transport. Re-attaching an
// already-registered instance name is rejected with a warning and an
// error.
func (s *Splitter) AttachMessaging(t messaging.Transport) error {
	s.transportsMu.Lock()
	defer s.transportsMu.Unlock()
	inst := t.Instance()
	if _, exists := s.transports[inst]; exists {
		if s.log != nil {
			s.log.Warnf("splitter: duplicate messaging instance %s rejected", inst)
		}
		return fmt.Errorf("splitter: messaging instance %s already attached", inst)
	}
	s.transports[inst] = t
	return nil
}

// DetachMessaging removes a previously attached transport.
func (s *Splitter) DetachMessaging(inst messaging.Instance) {
	s.transportsMu.Lock()
	delete(s.transports, inst)
	s.transportsMu.Unlock()
}

// RegisterFilteredHandler registers handler for each of filters, which
// are prefix patterns matched against a resolved MessageType's Tag. When
// multiple registered prefixes match, the longest prefix wins.
func (s *Splitter) RegisterFilteredHandler(filters []string, handler HandlerFunc) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	for _, f := range filters {
		s.handlers[f] = handler
	}
}

// UnregisterFilteredHandler removes the handlers registered under filters.
func (s *Splitter) UnregisterFilteredHandler(filters []string) {
	s.handlersMu.Lock()
	defer s.handlersMu.Unlock()
	for _, f := range filters {
		delete(s.handlers, f)
	}
}

// bestHandler finds the handler registered under the longest prefix of
// tag, or nil if none matches.
func (s *Splitter) bestHandler(tag string) HandlerFunc {
	s.handlersMu.RLock()
	defer s.handlersMu.RUnlock()

	var bestPrefix string
	var best HandlerFunc
	for prefix, h := range s.handlers {
		if strings.HasPrefix(tag, prefix) && len(prefix) >= len(bestPrefix) {
			bestPrefix = prefix
			best = h
		}
	}
	return best
}

// HandleIncoming is the entrypoint transports call for every message they
// receive: parse, validate, route to the best-matching handler, and reply.
func (s *Splitter) HandleIncoming(ctx context.Context, source messaging.Instance, raw []byte) {
	doc, msgID, errDoc := parseEnvelope(raw)
	if errDoc != nil {
		s.reply(ctx, source, errDoc)
		return
	}

	mt, err := s.schema.Resolve(doc)
	if err != nil {
		s.reply(ctx, source, missingOrUnsupportedErrorMsg(msgID, raw, err))
		return
	}

	if err := s.schema.ValidateRequest(mt, doc); err != nil {
		s.reply(ctx, source, validationErrorMsg(msgID, "request failed schema validation", err.Error()))
		return
	}

	queue := s.net
	network := true
	if isManagementMessage(mt.Tag) {
		queue = s.mgmt
		network = false
	}

	if !queue.isActive() {
		s.reply(ctx, source, queueNotInitializedErrorMsg(msgID, mt.Tag, network))
		return
	}
	if !queue.tryEnqueue(queuedMessage{raw: raw, source: source}) {
		if s.log != nil {
			s.log.Warnf("splitter: %s queue full (capacity %d), rejecting %s", queue.name, queue.capacity(), mt.Tag)
		}
		s.reply(ctx, source, queueFullErrorMsg(msgID, mt.Tag, network, queue.capacity()))
		return
	}
}

// parseEnvelope parses raw as a JSON object and extracts data.msgId,
// defaulting to "unknown". On parse failure or a missing mType it returns
// a ready-to-send messageError document.
func parseEnvelope(raw []byte) (doc map[string]interface{}, msgID string, errDoc map[string]interface{}) {
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, "", jsonParseErrorMsg(string(raw), err.Error(), parseErrorOffset(err))
	}

	msgID = "unknown"
	if data, ok := doc["data"].(map[string]interface{}); ok {
		if id, ok := data["msgId"].(string); ok && id != "" {
			msgID = id
		}
	}

	// Websocket authorization frames are handled by the transport layer
	// and must never reach the router.
	if _, ok := doc["auth"]; ok {
		return doc, msgID, generalErrorMsg(msgID, "unexpected authorization message", "authorization is handled by the transport")
	}

	if _, ok := doc["mType"]; !ok {
		return doc, msgID, missingMTypeErrorMsg(msgID, "mType missing in JSON message")
	}

	return doc, msgID, nil
}

// parseErrorOffset extracts the byte offset from a JSON syntax error, or
// -1 when err does not carry one (e.g. a type mismatch mid-document).
func parseErrorOffset(err error) int {
	if se, ok := err.(*json.SyntaxError); ok {
		return int(se.Offset)
	}
	return -1
}

func missingOrUnsupportedErrorMsg(msgID string, raw []byte, err error) map[string]interface{} {
	if err == schema.ErrMissingMessageType {
		return missingMTypeErrorMsg(msgID, "mType missing in JSON message")
	}
	return unsupportedMessageTypeErrorMsg(msgID, raw)
}

// runWorker drains queue single-threaded, giving total ordering of
// handler invocations per queue, until the queue's channel is closed.
func (s *Splitter) runWorker(queue *boundedQueue, network bool) {
	defer s.wg.Done()
	for msg := range queue.ch {
		s.handleQueued(queue, network, msg)
	}
}

func (s *Splitter) handleQueued(queue *boundedQueue, network bool, msg queuedMessage) {
	ctx := context.Background()

	var doc map[string]interface{}
	if err := json.Unmarshal(msg.raw, &doc); err != nil {
		s.reply(ctx, msg.source, jsonParseErrorMsg(string(msg.raw), err.Error(), parseErrorOffset(err)))
		return
	}

	msgID := "unknown"
	if data, ok := doc["data"].(map[string]interface{}); ok {
		if id, ok := data["msgId"].(string); ok && id != "" {
			msgID = id
		}
	}

	mt, err := s.schema.Resolve(doc)
	if err != nil {
		s.reply(ctx, msg.source, missingOrUnsupportedErrorMsg(msgID, msg.raw, err))
		return
	}

	if mt.Tag == mngDaemonExit {
		s.net.setActive(false)
	}

	handler := s.bestHandler(mt.Tag)
	if handler == nil {
		s.reply(ctx, msg.source, generalErrorMsg(msgID, "no handler registered for message type", mt.Tag+": unsupported"))
		return
	}

	respData, err := s.invoke(ctx, handler, mt, doc)
	if err != nil {
		s.reply(ctx, msg.source, generalErrorMsg(msgID, "handler returned an error", err.Error()))
		return
	}

	if respData == nil {
		respData = map[string]interface{}{}
	}
	if _, ok := respData["msgId"]; !ok {
		respData["msgId"] = msgID
	}
	resp := map[string]interface{}{
		"mType": mt.Tag,
		"data":  respData,
	}
	s.Send(ctx, []messaging.Instance{msg.source}, resp)
}

// invoke calls handler, converting a panic into an error rather than
// crashing the worker goroutine.
func (s *Splitter) invoke(ctx context.Context, handler HandlerFunc, mt schema.MessageType, doc map[string]interface{}) (resp map[string]interface{}, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("handler panic: %v", r)
		}
	}()
	return handler(ctx, mt, doc)
}

// Send is the outbound path: it stamps data.insId, optionally validates
// the response against its schema, serialises the document, and delivers
// it to each target (or broadcasts to every AcceptsAsync transport when
// targets is empty and no DefaultTargets are configured).
func (s *Splitter) Send(ctx context.Context, targets []messaging.Instance, doc map[string]interface{}) {
	data, _ := doc["data"].(map[string]interface{})
	if data == nil {
		data = map[string]interface{}{}
		doc["data"] = data
	}
	if _, hasMsgID := data["msgId"]; !hasMsgID {
		data["msgId"] = uuid.New().String()
	}
	data["insId"] = s.instanceID

	if s.validateResponses {
		if tag, ok := doc["mType"].(string); ok && tag != "messageError" {
			if mt, err := s.schema.Resolve(doc); err == nil {
				if err := s.schema.ValidateResponse(mt, doc); err != nil && s.log != nil {
					s.log.Warnf("splitter: outbound message failed response validation: %v", err)
				}
			}
		}
	}

	payload, err := json.Marshal(doc)
	if err != nil {
		if s.log != nil {
			s.log.Errorf("splitter: failed to serialise outbound message: %v", err)
		}
		return
	}

	resolved := targets
	if len(resolved) == 0 {
		resolved = s.defaultTargets
	}
	if len(resolved) == 0 {
		resolved = s.broadcastTargets()
	}

	for _, target := range resolved {
		stripped := messaging.Instance{Type: target.Type, Name: stripTopicSuffix(target.Name)}
		s.transportsMu.RLock()
		transport, ok := s.transports[stripped]
		s.transportsMu.RUnlock()
		if !ok {
			if s.log != nil {
				s.log.Warnf("splitter: unknown messaging instance %s, dropping outbound message", stripped)
			}
			continue
		}
		if err := transport.SendMessage(ctx, payload); err != nil && s.log != nil {
			s.log.Warnf("splitter: SendMessage to %s failed: %v", stripped, err)
		}
	}
}

// reply is Send's single-target convenience form used for messageError
// and other direct replies to the message's originator.
func (s *Splitter) reply(ctx context.Context, target messaging.Instance, doc map[string]interface{}) {
	s.Send(ctx, []messaging.Instance{target}, doc)
}

func (s *Splitter) broadcastTargets() []messaging.Instance {
	s.transportsMu.RLock()
	defer s.transportsMu.RUnlock()
	var out []messaging.Instance
	for inst, t := range s.transports {
		if t.AcceptsAsync() {
			out = append(out, inst)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].String() < out[j].String() })
	return out
}

// stripTopicSuffix removes any appended "/"-separated topic suffix from a
// target instance name, e.g. "ws1/some/topic" -> "ws1".
func stripTopicSuffix(name string) string {
	if i := strings.IndexByte(name, '/'); i >= 0 {
		return name[:i]
	}
	return name
}

// ResumeNetworkQueue re-activates the network queue, accepting dispatch
// again. Handles mngDaemon_StartNetworkQueue.
func (s *Splitter) ResumeNetworkQueue() {
	s.net.setActive(true)
}

// PauseNetworkQueue deactivates the network queue; inbound network
// messages are rejected with ErrNetworkQueueInactive until resumed.
// Handles mngDaemon_StopNetworkQueue.
func (s *Splitter) PauseNetworkQueue() {
	s.net.setActive(false)
}

// Close stops both queue workers once any already-enqueued work drains.
// The management queue only ever stops this way (on daemon exit); the
// network queue's pause/resume is a separate, reversible runtime state.
func (s *Splitter) Close() {
	s.mgmt.close()
	s.net.close()
	s.wg.Wait()
}
