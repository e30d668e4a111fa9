package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pricewire/leadlag/internal/metrics"
	"github.com/pricewire/leadlag/internal/model"
)

// TradeConnector relays a plain trade stream: no subscription handshake,
// one trade per frame carrying a string-encoded price in "p".
// Used for both the spot and the aggregated trade venues.
type TradeConnector struct {
	src    model.Source
	cfg    ClientConfig
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	// mu guards client: Connect runs on the supervisor goroutine while
	// Close can arrive from the session's teardown goroutine.
	mu     sync.Mutex
	client *Client
}

// NewTradeConnector creates a connector for a trade stream venue.
func NewTradeConnector(src model.Source, url string, sink Sink, logger *slog.Logger) *TradeConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &TradeConnector{
		src:    src,
		cfg:    ClientConfig{URL: url},
		sink:   sink,
		logger: logger.With("source", src),
		now:    time.Now,
	}
}

// Source implements Connector.
func (t *TradeConnector) Source() model.Source { return t.src }

// Prepare implements Connector. Trade streams need no pre-dial step.
func (t *TradeConnector) Prepare(ctx context.Context) error { return nil }

// Connect implements Connector.
func (t *TradeConnector) Connect(ctx context.Context) error {
	client := NewClient(t.cfg, t.logger)

	// Publish before dialing so a concurrent Close reaches the client.
	t.mu.Lock()
	t.client = client
	t.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	if err := t.sink.Status(t.src, model.StatusConnected, false); err != nil {
		return ErrSinkClosed
	}
	return nil
}

// Pump implements Connector.
func (t *TradeConnector) Pump(ctx context.Context) error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()
	return pumpClient(ctx, client, t.sink, t.src, t.handleFrame, t.logger)
}

// Close implements Connector.
func (t *TradeConnector) Close() error {
	t.mu.Lock()
	client := t.client
	t.mu.Unlock()

	if client == nil {
		return nil
	}
	return client.Close()
}

func (t *TradeConnector) handleFrame(data []byte, _ time.Time) error {
	var frame struct {
		Price json.RawMessage `json:"p"`
	}
	if !decodeFrame(data, &frame) {
		return nil
	}

	price, ok := coerceFloat(frame.Price)
	if !ok {
		return fmt.Errorf("trade frame without numeric price")
	}

	ev := model.PriceEvent{
		Source:          t.src,
		Price:           price,
		ServerTimestamp: t.now().UnixMilli(),
		Original:        json.RawMessage(data),
	}

	if err := t.sink.Price(ev); err != nil {
		return ErrSinkClosed
	}
	metrics.EventsRelayed.WithLabelValues(string(t.src), "price").Inc()
	return nil
}
