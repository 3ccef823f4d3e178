package stream

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

// StreamSession owns one physical streaming connection scoped to a topic.
// It is a dumb pipe plus lifecycle signaling: every inbound frame is handed
// to a single receive callback in arrival order, with no buffering or
// reordering at this layer. Reconnection is automatic and transparent.

type StreamState int

const (
	StreamStateDisconnected StreamState = iota
	StreamStateConnecting
	StreamStateConnected
	StreamStateReconnecting
)

func (self StreamState) String() string {
	switch self {
	case StreamStateDisconnected:
		return "disconnected"
	case StreamStateConnecting:
		return "connecting"
	case StreamStateConnected:
		return "connected"
	case StreamStateReconnecting:
		return "reconnecting"
	default:
		return "unknown"
	}
}

type StreamSessionSettings struct {
	WsHandshakeTimeout   time.Duration
	WriteTimeout         time.Duration
	ReadTimeout          time.Duration
	PingInterval         time.Duration
	ReconnectBaseTimeout time.Duration
	ReconnectMaxSteps    int
}

func DefaultStreamSessionSettings() *StreamSessionSettings {
	return &StreamSessionSettings{
		WsHandshakeTimeout:   5 * time.Second,
		WriteTimeout:         5 * time.Second,
		ReadTimeout:          60 * time.Second,
		PingInterval:         25 * time.Second,
		ReconnectBaseTimeout: 1 * time.Second,
		ReconnectMaxSteps:    5,
	}
}

type SessionAuth struct {
	// passed as a connection-level credential, never in a frame body, so
	// intermediaries that strip application payloads cannot break auth
	AccessToken string
}

type ReceiveFunction func(frame []byte)
type ConnectFunction func()
type DisconnectFunction func()

type StreamSession struct {
	ctx    context.Context
	cancel context.CancelFunc

	instanceId string
	streamUrl  string
	topic      string
	auth       *SessionAuth
	receive    ReceiveFunction

	settings *StreamSessionSettings

	connectCallbacks    *CallbackList[ConnectFunction]
	disconnectCallbacks *CallbackList[DisconnectFunction]

	stateLock sync.Mutex
	state     StreamState
	closed    bool
}

// OpenStreamSession fails only if the transport cannot be constructed at all
// (unusable url). Dial failures at runtime are handled by the reconnect loop.
// Callers that get an error proceed without a live stream and degrade to
// polling.
func OpenStreamSession(
	ctx context.Context,
	streamUrl string,
	topic string,
	auth *SessionAuth,
	receive ReceiveFunction,
	settings *StreamSessionSettings,
) (*StreamSession, error) {
	if _, err := streamEndpoint(streamUrl, topic, auth); err != nil {
		return nil, err
	}

	cancelCtx, cancel := context.WithCancel(ctx)
	session := &StreamSession{
		ctx:                 cancelCtx,
		cancel:              cancel,
		instanceId:          NewInstanceId(),
		streamUrl:           streamUrl,
		topic:               topic,
		auth:                auth,
		receive:             receive,
		settings:            settings,
		connectCallbacks:    NewCallbackList[ConnectFunction](),
		disconnectCallbacks: NewCallbackList[DisconnectFunction](),
		state:               StreamStateDisconnected,
	}
	go session.run()
	return session, nil
}

func streamEndpoint(streamUrl string, topic string, auth *SessionAuth) (string, error) {
	u, err := url.Parse(streamUrl)
	if err != nil {
		return "", err
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported stream scheme: %s", u.Scheme)
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = "/api/v1/streaming/"
	}
	q := u.Query()
	q.Set("stream", topic)
	if auth != nil && auth.AccessToken != "" {
		q.Set("access_token", auth.AccessToken)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func (self *StreamSession) AddConnectCallback(callback ConnectFunction) func() {
	return self.connectCallbacks.Add(callback)
}

func (self *StreamSession) AddDisconnectCallback(callback DisconnectFunction) func() {
	return self.disconnectCallbacks.Add(callback)
}

func (self *StreamSession) State() StreamState {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	return self.state
}

func (self *StreamSession) Topic() string {
	return self.topic
}

func (self *StreamSession) setState(state StreamState) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		return
	}
	self.state = state
}

// runs the callback unless the session has been closed. Close holds the same
// lock, so once Close returns no further callback can start.
func (self *StreamSession) deliver(callback func()) {
	self.stateLock.Lock()
	defer self.stateLock.Unlock()
	if self.closed {
		return
	}
	callback()
}

func (self *StreamSession) run() {
	defer self.cancel()

	endpoint, err := streamEndpoint(self.streamUrl, self.topic, self.auth)
	if err != nil {
		return
	}

	reconnect := NewReconnect(self.settings.ReconnectBaseTimeout, self.settings.ReconnectMaxSteps)

	first := true
	for {
		if first {
			self.setState(StreamStateConnecting)
			first = false
		} else {
			self.setState(StreamStateReconnecting)
		}

		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(self.ctx, endpoint, nil)
		if err != nil {
			glog.Infof("[ss]dial %s/%s error = %s\n", self.topic, self.instanceId, err)
			select {
			case <-self.ctx.Done():
				self.setState(StreamStateDisconnected)
				return
			case <-reconnect.After():
				continue
			}
		}
		reconnect.Reset()

		self.setState(StreamStateConnected)
		for _, callback := range self.connectCallbacks.Get() {
			callback := callback
			self.deliver(func() {
				safeCallback(callback)
			})
		}

		self.readLoop(ws)

		// one disconnect signal per connection loss
		for _, callback := range self.disconnectCallbacks.Get() {
			callback := callback
			self.deliver(func() {
				safeCallback(callback)
			})
		}

		select {
		case <-self.ctx.Done():
			self.setState(StreamStateDisconnected)
			return
		case <-reconnect.After():
		}
	}
}

// reads frames until the connection is lost or the session is closed
func (self *StreamSession) readLoop(ws *websocket.Conn) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	// unblock the reader when the session is closed
	go func() {
		<-handleCtx.Done()
		ws.Close()
	}()

	ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		return nil
	})

	go func() {
		for {
			select {
			case <-handleCtx.Done():
				return
			case <-time.After(self.settings.PingInterval):
				deadline := time.Now().Add(self.settings.WriteTimeout)
				if err := ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					// a websocket write timeout cannot be recovered
					handleCancel()
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		messageType, message, err := ws.ReadMessage()
		if err != nil {
			glog.Infof("[sr]%s/%s<- error = %s\n", self.topic, self.instanceId, err)
			return
		}
		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))

		switch messageType {
		case websocket.TextMessage, websocket.BinaryMessage:
			if len(message) == 0 {
				// keepalive
				glog.V(2).Infof("[sr]ping %s/%s<-\n", self.topic, self.instanceId)
				continue
			}
			glog.V(2).Infof("[sr]%s/%s<-\n", self.topic, self.instanceId)
			self.deliver(func() {
				if self.receive != nil {
					self.receive(message)
				}
			})
		default:
			glog.V(2).Infof("[sr]other=%d %s/%s<-\n", messageType, self.topic, self.instanceId)
		}
	}
}

// Close stops further receive/connect/disconnect callbacks deterministically
// and releases the underlying transport. Safe to call more than once.
func (self *StreamSession) Close() {
	self.stateLock.Lock()
	self.closed = true
	self.state = StreamStateDisconnected
	self.stateLock.Unlock()

	self.cancel()
}
