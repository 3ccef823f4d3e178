package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/gorilla/websocket"
)

func testSessionSettings() *StreamSessionSettings {
	settings := DefaultStreamSessionSettings()
	settings.ReconnectBaseTimeout = 10 * time.Millisecond
	settings.ReconnectMaxSteps = 3
	return settings
}

// a streaming server that records each accepted connection and feeds it the
// given frames
type streamServer struct {
	lock sync.Mutex

	frames     [][]byte
	closeAfter int

	connections int
	tokens      []string
	topics      []string

	server *httptest.Server
}

func newStreamServer(frames [][]byte, closeAfter int) *streamServer {
	self := &streamServer{
		frames:     frames,
		closeAfter: closeAfter,
	}

	upgrader := websocket.Upgrader{}
	self.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		self.lock.Lock()
		self.connections += 1
		self.tokens = append(self.tokens, r.URL.Query().Get("access_token"))
		self.topics = append(self.topics, r.URL.Query().Get("stream"))
		frames := self.frames
		closeAfter := self.closeAfter
		self.lock.Unlock()

		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		for i, frame := range frames {
			if 0 <= closeAfter && closeAfter <= i {
				return
			}
			if err := ws.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		}

		// hold the connection open, discarding client control traffic
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}))
	return self
}

func (self *streamServer) connectionCount() int {
	self.lock.Lock()
	defer self.lock.Unlock()
	return self.connections
}

func TestSessionReceiveInArrivalOrder(t *testing.T) {
	frames := [][]byte{
		wireFrame("update", testStatus("1")),
		wireFrame("update", testStatus("2")),
		wireFrame("update", testStatus("3")),
	}
	ss := newStreamServer(frames, -1)
	defer ss.server.Close()

	var receivedLock sync.Mutex
	received := [][]byte{}

	connected := 0
	session, err := OpenStreamSession(
		context.Background(),
		ss.server.URL,
		"user",
		&SessionAuth{
			AccessToken: "test-token",
		},
		func(frame []byte) {
			receivedLock.Lock()
			defer receivedLock.Unlock()
			received = append(received, frame)
		},
		testSessionSettings(),
	)
	assert.Equal(t, err, nil)
	defer session.Close()

	session.AddConnectCallback(func() {
		connected += 1
	})

	ok := waitFor(time.Second, func() bool {
		receivedLock.Lock()
		defer receivedLock.Unlock()
		return len(received) == 3
	})
	assert.Equal(t, ok, true)

	receivedLock.Lock()
	assert.Equal(t, received, frames)
	receivedLock.Unlock()

	// credentials ride the connection, not a frame body
	ss.lock.Lock()
	assert.Equal(t, ss.tokens[0], "test-token")
	assert.Equal(t, ss.topics[0], "user")
	ss.lock.Unlock()

	assert.Equal(t, session.State(), StreamStateConnected)
	assert.Equal(t, session.Topic(), "user")
}

func TestSessionReconnects(t *testing.T) {
	// the server drops every connection immediately after one frame
	frames := [][]byte{
		wireFrame("update", testStatus("1")),
	}
	ss := newStreamServer(frames, 1)
	defer ss.server.Close()

	var callbackLock sync.Mutex
	connects := 0
	disconnects := 0

	session, err := OpenStreamSession(
		context.Background(),
		ss.server.URL,
		"user",
		&SessionAuth{
			AccessToken: "test-token",
		},
		func(frame []byte) {},
		testSessionSettings(),
	)
	assert.Equal(t, err, nil)
	defer session.Close()

	session.AddConnectCallback(func() {
		callbackLock.Lock()
		defer callbackLock.Unlock()
		connects += 1
	})
	session.AddDisconnectCallback(func() {
		callbackLock.Lock()
		defer callbackLock.Unlock()
		disconnects += 1
	})

	// reconnection is automatic and transparent: onConnect fires again on
	// each success
	ok := waitFor(5*time.Second, func() bool {
		callbackLock.Lock()
		defer callbackLock.Unlock()
		return 2 <= connects && 1 <= disconnects
	})
	assert.Equal(t, ok, true)
	assert.Equal(t, 2 <= ss.connectionCount(), true)
}

func TestSessionCloseStopsCallbacks(t *testing.T) {
	frames := [][]byte{
		wireFrame("update", testStatus("1")),
	}
	ss := newStreamServer(frames, 1)
	defer ss.server.Close()

	var callbackLock sync.Mutex
	events := 0

	session, err := OpenStreamSession(
		context.Background(),
		ss.server.URL,
		"user",
		nil,
		func(frame []byte) {
			callbackLock.Lock()
			defer callbackLock.Unlock()
			events += 1
		},
		testSessionSettings(),
	)
	assert.Equal(t, err, nil)

	session.AddConnectCallback(func() {
		callbackLock.Lock()
		defer callbackLock.Unlock()
		events += 1
	})
	session.AddDisconnectCallback(func() {
		callbackLock.Lock()
		defer callbackLock.Unlock()
		events += 1
	})

	// let a reconnect cycle get in flight, then close
	waitFor(time.Second, func() bool {
		return 1 <= ss.connectionCount()
	})
	session.Close()
	// close is idempotent
	session.Close()

	assert.Equal(t, session.State(), StreamStateDisconnected)

	callbackLock.Lock()
	snapshot := events
	callbackLock.Unlock()

	// no further callbacks fire, even if a reconnect was in flight at close
	time.Sleep(200 * time.Millisecond)
	callbackLock.Lock()
	assert.Equal(t, events, snapshot)
	callbackLock.Unlock()
}

func TestOpenSoftFailure(t *testing.T) {
	// an unusable transport is a soft failure: the caller proceeds without a
	// live stream
	session, err := OpenStreamSession(
		context.Background(),
		"ftp://example.social",
		"user",
		nil,
		func(frame []byte) {},
		testSessionSettings(),
	)
	assert.NotEqual(t, err, nil)
	assert.Equal(t, session, nil)
}

func TestStreamEndpoint(t *testing.T) {
	endpoint, err := streamEndpoint("https://example.social", "public", &SessionAuth{
		AccessToken: "tok",
	})
	assert.Equal(t, err, nil)
	assert.Equal(t, endpoint, "wss://example.social/api/v1/streaming/?access_token=tok&stream=public")

	endpoint, err = streamEndpoint("http://127.0.0.1:4000", "user", nil)
	assert.Equal(t, err, nil)
	assert.Equal(t, endpoint, "ws://127.0.0.1:4000/api/v1/streaming/?stream=user")
}

func TestStreamStateString(t *testing.T) {
	assert.Equal(t, StreamStateDisconnected.String(), "disconnected")
	assert.Equal(t, StreamStateConnecting.String(), "connecting")
	assert.Equal(t, StreamStateConnected.String(), "connected")
	assert.Equal(t, StreamStateReconnecting.String(), "reconnecting")
}
