package stream

import (
	"encoding/json"
	"sort"
	"sync"

	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// EventRouter parses each raw frame into a typed envelope and dispatches it
// to the handler registered for its kind. Dispatch is synchronous and called
// from a single stream-processing sequence, so handlers for the same session
// never run concurrently.
//
// Unregistered kinds are silently ignored: the server adds event types
// independently of client releases, and an unknown kind must never be an
// error.

// the typed wrapper around one inbound stream message. Consumed synchronously
// by exactly one handler, then discarded.
type EventEnvelope struct {
	Kind    string
	Payload []byte
}

type EventHandler func(envelope *EventEnvelope)

// inbound wire unit: `payload` is a JSON-encoded string whose shape depends
// on `event`
type wireEvent struct {
	Event   string `json:"event"`
	Payload string `json:"payload"`
}

type EventRouter struct {
	stateLock sync.Mutex
	handlers  map[string]EventHandler
}

func NewEventRouter() *EventRouter {
	return &EventRouter{
		handlers: map[string]EventHandler{},
	}
}

func (self *EventRouter) Register(kind string, handler EventHandler) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	self.handlers[kind] = handler
}

func (self *EventRouter) Kinds() []string {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	kinds := maps.Keys(self.handlers)
	sort.Strings(kinds)
	return kinds
}

// Dispatch parses one raw frame and routes it. Malformed frames are logged
// and dropped; they never propagate an error and never affect the connection.
func (self *EventRouter) Dispatch(frame []byte) {
	var event wireEvent
	if err := json.Unmarshal(frame, &event); err != nil {
		glog.Infof("[er]drop malformed frame = %s\n", err)
		return
	}
	if event.Event == "" {
		glog.Infof("[er]drop frame with no event kind\n")
		return
	}

	self.stateLock.Lock()
	handler, ok := self.handlers[event.Event]
	self.stateLock.Unlock()

	if !ok {
		glog.V(2).Infof("[er]ignore unknown kind = %s\n", event.Event)
		return
	}

	glog.V(2).Infof("[er]dispatch %s\n", event.Event)
	handler(&EventEnvelope{
		Kind:    event.Event,
		Payload: []byte(event.Payload),
	})
}
