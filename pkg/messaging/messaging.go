// Package messaging defines the small interface concrete transport
// drivers (MQ, MQTT, WebSocket, UDP broadcast) implement to plug into the
// splitter. Those concrete drivers are external per this core's scope;
// this package ships only the interface plus an in-process MemoryTransport
// used for local/loopback operation and splitter tests.
package messaging

import "context"

// Instance identifies one inbound/outbound channel. Instances are unique
// within the process.
type Instance struct {
	Type string
	Name string
}

func (i Instance) String() string {
	return i.Type + ":" + i.Name
}

// Transport is the interface the splitter uses to talk to an attached
// messaging instance.
type Transport interface {
	// Instance identifies this transport.
	Instance() Instance

	// AcceptsAsync reports whether this transport should receive
	// broadcast (untargeted) outbound messages.
	AcceptsAsync() bool

	// SendMessage delivers payload to whatever sits on the other end of
	// this transport.
	SendMessage(ctx context.Context, payload []byte) error
}
