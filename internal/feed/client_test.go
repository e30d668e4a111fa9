package feed

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

func TestClientConnect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server)}, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !client.IsConnected() {
		t.Error("IsConnected = false after Connect")
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close failed: %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected = true after Close")
	}
}

func TestClientSendBeforeConnect(t *testing.T) {
	client := NewClient(ClientConfig{URL: "ws://localhost:1"}, nil)

	if err := client.Send([]byte("hello")); err != ErrNotConnected {
		t.Errorf("Send error = %v, want ErrNotConnected", err)
	}
}

func TestClientConnectAfterClose(t *testing.T) {
	client := NewClient(ClientConfig{URL: "ws://localhost:1"}, nil)
	client.Close()

	if err := client.Connect(context.Background()); err != ErrAlreadyClosed {
		t.Errorf("Connect error = %v, want ErrAlreadyClosed", err)
	}
}

func TestClientSend(t *testing.T) {
	received := make(chan []byte, 1)

	server := mockWSServer(t, func(conn *websocket.Conn) {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		received <- data
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server)}, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	if err := client.Send([]byte(`{"type":"ping"}`)); err != nil {
		t.Fatalf("Send failed: %v", err)
	}

	select {
	case data := <-received:
		if string(data) != `{"type":"ping"}` {
			t.Errorf("server received %q", data)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("server never received the message")
	}
}

func TestClientMessages(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"p":"100.5"}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server)}, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	select {
	case msg := <-client.Messages():
		if string(msg.Data) != `{"p":"100.5"}` {
			t.Errorf("message = %q", msg.Data)
		}
		if msg.ReceivedAt.IsZero() {
			t.Error("ReceivedAt not set")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no message received")
	}
}

// The Messages channel closing is the one signal that a connection died,
// so a server-side close must propagate to it.
func TestClientMessagesClosedOnServerClose(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`one`))
		conn.Close()
	})
	defer server.Close()

	client := NewClient(ClientConfig{URL: wsURL(server)}, nil)
	if err := client.Connect(context.Background()); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer client.Close()

	deadline := time.After(2 * time.Second)
	for {
		select {
		case _, ok := <-client.Messages():
			if !ok {
				return // channel closed as expected
			}
		case <-deadline:
			t.Fatal("Messages channel not closed after server close")
		}
	}
}
