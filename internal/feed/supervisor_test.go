package feed

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/pricewire/leadlag/internal/model"
)

// scriptedConnector is a Connector whose lifecycle steps are driven by
// per-call functions. Unset functions succeed immediately.
type scriptedConnector struct {
	mu       sync.Mutex
	prepares int
	connects int
	pumps    int
	closes   int

	prepareFn func(call int) error
	connectFn func(call int) error
	pumpFn    func(ctx context.Context, call int) error
}

func (c *scriptedConnector) Source() model.Source { return model.SourceSpotTrade }

func (c *scriptedConnector) Prepare(ctx context.Context) error {
	c.mu.Lock()
	c.prepares++
	call := c.prepares
	fn := c.prepareFn
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(call)
}

func (c *scriptedConnector) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.connects++
	call := c.connects
	fn := c.connectFn
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn(call)
}

func (c *scriptedConnector) Pump(ctx context.Context) error {
	c.mu.Lock()
	c.pumps++
	call := c.pumps
	fn := c.pumpFn
	c.mu.Unlock()
	if fn == nil {
		<-ctx.Done()
		return nil
	}
	return fn(ctx, call)
}

func (c *scriptedConnector) Close() error {
	c.mu.Lock()
	c.closes++
	c.mu.Unlock()
	return nil
}

func (c *scriptedConnector) counts() (prepares, connects, pumps int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prepares, c.connects, c.pumps
}

// waitFor polls cond until it holds or the deadline passes.
func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatal(msg)
}

func awaitDone(t *testing.T, sup *Supervisor) {
	t.Helper()
	select {
	case <-sup.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("supervisor did not stop")
	}
}

func TestConstantBackoff(t *testing.T) {
	b := ConstantBackoff{Delay: 3 * time.Second}
	for _, attempt := range []int{1, 2, 10} {
		if got := b.Next(attempt); got != 3*time.Second {
			t.Errorf("Next(%d) = %s, want 3s", attempt, got)
		}
	}
}

func TestExponentialBackoff(t *testing.T) {
	b := ExponentialBackoff{Base: time.Second, Max: 30 * time.Second}

	cases := []struct {
		attempt int
		want    time.Duration
	}{
		{0, time.Second}, // clamped to the first attempt
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // 32s capped
		{7, 30 * time.Second},
	}
	for _, tc := range cases {
		if got := b.Next(tc.attempt); got != tc.want {
			t.Errorf("Next(%d) = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestSupervisorReconnectsAfterSocketClose(t *testing.T) {
	conn := &scriptedConnector{
		pumpFn: func(ctx context.Context, call int) error {
			if call <= 2 {
				return nil // socket closed, should reconnect
			}
			<-ctx.Done()
			return nil
		},
	}
	sink := &fakeSink{}
	sup := NewSupervisor(conn, sink, ConstantBackoff{Delay: time.Millisecond}, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	waitFor(t, func() bool {
		_, connects, _ := conn.counts()
		return connects >= 3
	}, "supervisor never reconnected")

	sup.Terminate()
	awaitDone(t, sup)

	if sup.State() != StateTerminated {
		t.Errorf("State = %s, want terminated", sup.State())
	}

	// Each closed socket produced a disconnected status.
	sink.mu.Lock()
	var disconnects int
	for _, st := range sink.statuses {
		if st.Status == model.StatusDisconnected {
			disconnects++
		}
	}
	sink.mu.Unlock()
	if disconnects < 2 {
		t.Errorf("disconnected statuses = %d, want >= 2", disconnects)
	}
}

func TestSupervisorTerminalOnSinkClosedFromPump(t *testing.T) {
	conn := &scriptedConnector{
		pumpFn: func(ctx context.Context, call int) error {
			return ErrSinkClosed
		},
	}
	sup := NewSupervisor(conn, &fakeSink{}, ConstantBackoff{Delay: time.Millisecond}, time.Millisecond, nil)

	go sup.Run(context.Background())
	awaitDone(t, sup)

	_, connects, _ := conn.counts()
	if connects != 1 {
		t.Errorf("connects = %d, want 1 (no reconnect after dead sink)", connects)
	}
	if sup.State() != StateTerminated {
		t.Errorf("State = %s, want terminated", sup.State())
	}

	// A dead sink is final: nothing reconnects later either.
	time.Sleep(20 * time.Millisecond)
	if _, connects, _ = conn.counts(); connects != 1 {
		t.Errorf("connects grew to %d after termination", connects)
	}
}

func TestSupervisorStopsWhenSinkRejectsStatus(t *testing.T) {
	sink := &fakeSink{}
	sink.Close()

	conn := &scriptedConnector{}
	sup := NewSupervisor(conn, sink, ConstantBackoff{Delay: time.Millisecond}, time.Millisecond, nil)

	go sup.Run(context.Background())
	awaitDone(t, sup)

	prepares, connects, _ := conn.counts()
	if prepares != 0 || connects != 0 {
		t.Errorf("prepares = %d, connects = %d, want 0/0 with a closed sink", prepares, connects)
	}
}

func TestSupervisorRetriesPrepareWithoutDialing(t *testing.T) {
	conn := &scriptedConnector{
		prepareFn: func(call int) error {
			return errors.New("no active market")
		},
	}
	sup := NewSupervisor(conn, &fakeSink{}, ConstantBackoff{Delay: time.Second}, time.Millisecond, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sup.Run(ctx)

	waitFor(t, func() bool {
		prepares, _, _ := conn.counts()
		return prepares >= 3
	}, "prepare never retried")

	_, connects, _ := conn.counts()
	if connects != 0 {
		t.Errorf("connects = %d, want 0 while prepare keeps failing", connects)
	}

	sup.Terminate()
	awaitDone(t, sup)
}

func TestSupervisorTerminateCancelsPendingReconnect(t *testing.T) {
	conn := &scriptedConnector{
		connectFn: func(call int) error {
			return errors.New("dial refused")
		},
	}
	sink := &fakeSink{}
	sup := NewSupervisor(conn, sink, ConstantBackoff{Delay: 50 * time.Millisecond}, time.Millisecond, nil)

	go sup.Run(context.Background())

	waitFor(t, func() bool {
		_, connects, _ := conn.counts()
		return connects >= 1
	}, "connector never dialed")

	// Terminate while the backoff timer is pending: the timer firing must
	// not produce a new connection or a new sink write.
	sup.Terminate()
	awaitDone(t, sup)

	_, connects, _ := conn.counts()
	writes := sink.writeCount()

	time.Sleep(120 * time.Millisecond)

	if _, c, _ := conn.counts(); c != connects {
		t.Errorf("connects grew from %d to %d after Terminate", connects, c)
	}
	if w := sink.writeCount(); w != writes {
		t.Errorf("sink writes grew from %d to %d after Terminate", writes, w)
	}
}

func TestSupervisorTerminateWithLiveConnector(t *testing.T) {
	server := mockWSServer(t, func(conn *websocket.Conn) {
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	})
	defer server.Close()

	// Terminate from the teardown goroutine while Run drives a real
	// connector; it can land anywhere in the connect sequence.
	for i := 0; i < 10; i++ {
		sink := &fakeSink{}
		tc := NewTradeConnector(model.SourceSpotTrade, wsURL(server), sink, nil)
		sup := NewSupervisor(tc, sink, ConstantBackoff{Delay: time.Millisecond}, time.Millisecond, nil)

		go sup.Run(context.Background())
		sup.Terminate()
		awaitDone(t, sup)

		if sup.State() != StateTerminated {
			t.Fatalf("State = %s, want terminated", sup.State())
		}
	}
}

func TestSupervisorTerminateIsIdempotent(t *testing.T) {
	conn := &scriptedConnector{}
	sup := NewSupervisor(conn, &fakeSink{}, ConstantBackoff{Delay: time.Millisecond}, time.Millisecond, nil)

	sup.Terminate()
	sup.Terminate()

	// Run after termination is a no-op.
	go sup.Run(context.Background())
	awaitDone(t, sup)

	if _, connects, _ := conn.counts(); connects != 0 {
		t.Errorf("connects = %d, want 0 for a pre-terminated supervisor", connects)
	}
	if conn.closes == 0 {
		t.Error("Terminate did not close the connector")
	}
}
