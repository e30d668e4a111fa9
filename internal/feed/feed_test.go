package feed

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/gorilla/websocket"

	"github.com/pricewire/leadlag/internal/model"
)

// mockWSServer creates a test WebSocket server.
func mockWSServer(t *testing.T, handler func(*websocket.Conn)) *httptest.Server {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Logf("upgrade error: %v", err)
			return
		}
		defer conn.Close()
		handler(conn)
	}))

	return server
}

func wsURL(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http")
}

// statusChange records one Status call on the fake sink.
type statusChange struct {
	Source   model.Source
	Status   model.ConnectionStatus
	Degraded bool
}

// fakeSink collects emitted events; once closed, every write fails with
// ErrSinkClosed the way a torn-down session does.
type fakeSink struct {
	mu       sync.Mutex
	closed   bool
	statuses []statusChange
	prices   []model.PriceEvent
	books    []model.BookUpdate
}

func (f *fakeSink) Close() {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
}

func (f *fakeSink) Status(src model.Source, status model.ConnectionStatus, degraded bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSinkClosed
	}
	f.statuses = append(f.statuses, statusChange{src, status, degraded})
	return nil
}

func (f *fakeSink) Price(ev model.PriceEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSinkClosed
	}
	f.prices = append(f.prices, ev)
	return nil
}

func (f *fakeSink) Book(update model.BookUpdate) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return ErrSinkClosed
	}
	f.books = append(f.books, update)
	return nil
}

func (f *fakeSink) priceCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.prices)
}

func (f *fakeSink) bookCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.books)
}

func (f *fakeSink) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.statuses) + len(f.prices) + len(f.books)
}

func (f *fakeSink) lastStatus() (statusChange, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.statuses) == 0 {
		return statusChange{}, false
	}
	return f.statuses[len(f.statuses)-1], true
}
