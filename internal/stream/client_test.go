package stream

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

// wsServer upgrades connections and exposes what it received.
type wsServer struct {
	srv      *httptest.Server
	received chan []byte
	send     chan []byte
}

func newWSServer(t *testing.T, authorize func(*http.Request) bool) *wsServer {
	t.Helper()

	ws := &wsServer{
		received: make(chan []byte, 16),
		send:     make(chan []byte, 16),
	}

	upgrader := websocket.Upgrader{}

	ws.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if authorize != nil && !authorize(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		go func() {
			for msg := range ws.send {
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
			conn.Close()
		}()

		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			ws.received <- data
		}
	}))
	t.Cleanup(ws.srv.Close)

	return ws
}

func (ws *wsServer) url() string {
	return "ws" + strings.TrimPrefix(ws.srv.URL, "http")
}

func testClientConfig(url string) ClientConfig {
	return ClientConfig{
		URL:          url,
		PingInterval: time.Second,
		PingTimeout:  10 * time.Second,
		WriteTimeout: time.Second,
		BufferSize:   16,
	}
}

func TestClientConnectAndReceive(t *testing.T) {
	ws := newWSServer(t, nil)

	c := NewClient(testClientConfig(ws.url()), nil)
	if err := c.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	if !c.IsConnected() {
		t.Error("IsConnected = false after Connect")
	}

	before := time.Now()
	ws.send <- []byte(`{"hello":"world"}`)

	select {
	case msg := <-c.Messages():
		if string(msg.Data) != `{"hello":"world"}` {
			t.Errorf("Data = %s", msg.Data)
		}
		if msg.ReceivedAt.Before(before) {
			t.Error("ReceivedAt not stamped")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

func TestClientSend(t *testing.T) {
	ws := newWSServer(t, nil)

	c := NewClient(testClientConfig(ws.url()), nil)
	if err := c.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	if err := c.Send([]byte(`{"type":"ticker"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case data := <-ws.received:
		if string(data) != `{"type":"ticker"}` {
			t.Errorf("server received %s", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server received nothing")
	}
}

func TestClientSendBeforeConnect(t *testing.T) {
	c := NewClient(testClientConfig("ws://unused"), nil)
	if err := c.Send([]byte("x")); !errors.Is(err, ErrNotConnected) {
		t.Errorf("Send = %v, want ErrNotConnected", err)
	}
}

func TestClientConnectUnauthorized(t *testing.T) {
	ws := newWSServer(t, func(r *http.Request) bool { return false })

	c := NewClient(testClientConfig(ws.url()), nil)
	err := c.Connect(context.Background(), nil)
	if !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Connect = %v, want ErrUnauthorized", err)
	}
}

func TestClientConnectAfterClose(t *testing.T) {
	ws := newWSServer(t, nil)

	c := NewClient(testClientConfig(ws.url()), nil)
	if err := c.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if err := c.Connect(context.Background(), nil); !errors.Is(err, ErrAlreadyClosed) {
		t.Errorf("Connect after Close = %v, want ErrAlreadyClosed", err)
	}
}

func TestClientErrorOnServerDisconnect(t *testing.T) {
	ws := newWSServer(t, nil)

	c := NewClient(testClientConfig(ws.url()), nil)
	if err := c.Connect(context.Background(), nil); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer c.Close()

	// Server drops the connection.
	close(ws.send)

	select {
	case err := <-c.Errors():
		if err == nil {
			t.Error("nil error from Errors()")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no error after server disconnect")
	}
}
