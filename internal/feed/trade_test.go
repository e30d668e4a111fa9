package feed

import (
	"context"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pricewire/leadlag/internal/model"
)

func TestTradeHandleFrame(t *testing.T) {
	sink := &fakeSink{}
	tc := NewTradeConnector(model.SourceSpotTrade, "ws://unused", sink, nil)
	tc.now = func() time.Time { return time.UnixMilli(5000) }

	frame := []byte(`{"e":"trade","p":"64250.10","q":"0.5"}`)
	if err := tc.handleFrame(frame, time.Now()); err != nil {
		t.Fatalf("handleFrame failed: %v", err)
	}

	if sink.priceCount() != 1 {
		t.Fatalf("prices = %d, want 1", sink.priceCount())
	}
	ev := sink.prices[0]
	if ev.Source != model.SourceSpotTrade {
		t.Errorf("Source = %s, want spot_trade", ev.Source)
	}
	if ev.Price != 64250.10 {
		t.Errorf("Price = %f, want 64250.10", ev.Price)
	}
	if ev.ServerTimestamp != 5000 {
		t.Errorf("ServerTimestamp = %d, want 5000", ev.ServerTimestamp)
	}
	if string(ev.Original) != string(frame) {
		t.Error("Original payload not preserved")
	}
}

func TestTradeHandleFrameNumericPrice(t *testing.T) {
	sink := &fakeSink{}
	tc := NewTradeConnector(model.SourceAggTrade, "ws://unused", sink, nil)

	if err := tc.handleFrame([]byte(`{"p":64250.5}`), time.Now()); err != nil {
		t.Fatalf("handleFrame failed: %v", err)
	}
	if sink.priceCount() != 1 || sink.prices[0].Price != 64250.5 {
		t.Error("numeric price not relayed")
	}
}

func TestTradeHandleFrameMalformed(t *testing.T) {
	sink := &fakeSink{}
	tc := NewTradeConnector(model.SourceSpotTrade, "ws://unused", sink, nil)

	// Malformed and empty frames are dropped without error.
	for _, frame := range []string{"", "   ", "not json", "{"} {
		if err := tc.handleFrame([]byte(frame), time.Now()); err != nil {
			t.Errorf("handleFrame(%q) = %v, want nil", frame, err)
		}
	}

	// A well-formed frame without a usable price is an error, but not a
	// sink failure.
	if err := tc.handleFrame([]byte(`{"e":"trade"}`), time.Now()); err == nil {
		t.Error("frame without price reported no error")
	}

	if sink.priceCount() != 0 {
		t.Errorf("prices = %d, want 0", sink.priceCount())
	}
}

func TestTradeHandleFrameSinkClosed(t *testing.T) {
	sink := &fakeSink{}
	sink.Close()
	tc := NewTradeConnector(model.SourceSpotTrade, "ws://unused", sink, nil)

	err := tc.handleFrame([]byte(`{"p":"100"}`), time.Now())
	if err != ErrSinkClosed {
		t.Errorf("handleFrame = %v, want ErrSinkClosed", err)
	}
}

func TestTradeConnectorCloseDuringConnect(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	// Close races Connect from another goroutine, the way a session
	// teardown can land while the supervisor is still dialing.
	for i := 0; i < 25; i++ {
		tc := NewTradeConnector(model.SourceSpotTrade, wsURL(server), &fakeSink{}, nil)

		done := make(chan struct{})
		go func() {
			tc.Connect(context.Background())
			close(done)
		}()
		tc.Close()
		<-done
		tc.Close()
	}
}

func TestTradeConnectorEndToEnd(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		conn.WriteMessage(websocket.TextMessage, []byte(`{"p":"100.0"}`))
		conn.WriteMessage(websocket.TextMessage, []byte(`{"p":"101.0"}`))
		conn.Close()
	})
	defer server.Close()

	sink := &fakeSink{}
	tc := NewTradeConnector(model.SourceSpotTrade, wsURL(server), sink, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := tc.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	defer tc.Close()

	if st, ok := sink.lastStatus(); !ok || st.Status != model.StatusConnected {
		t.Error("connected status not emitted")
	}

	// Pump ends cleanly when the server closes the socket.
	if err := tc.Pump(ctx); err != nil {
		t.Fatalf("Pump = %v, want nil on socket close", err)
	}

	if sink.priceCount() != 2 {
		t.Errorf("prices = %d, want 2", sink.priceCount())
	}
}
