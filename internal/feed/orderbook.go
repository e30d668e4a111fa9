package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/pricewire/leadlag/internal/config"
	"github.com/pricewire/leadlag/internal/market"
	"github.com/pricewire/leadlag/internal/metrics"
	"github.com/pricewire/leadlag/internal/model"
)

// OrderbookConnector relays the prediction-market order book. Before each
// dial the market resolver is consulted (the active instrument set rolls
// over every 15 minutes), and the subscription names the current up/down
// asset ids. Inbound frames carry batches of individual order updates.
type OrderbookConnector struct {
	cfg      config.OrderbookConfig
	resolver market.Resolver
	sink     Sink
	logger   *slog.Logger
	now      func() time.Time

	// mu guards client and ping against Close arriving from the
	// session's teardown goroutine while Connect is still running. The
	// market context and throttle state are touched only on the
	// supervisor goroutine.
	mu     sync.Mutex
	client *Client
	ping   *pinger

	mc       model.MarketContext
	lastEmit time.Time
}

// NewOrderbookConnector creates a connector for the order book feed.
func NewOrderbookConnector(cfg config.OrderbookConfig, resolver market.Resolver, sink Sink, logger *slog.Logger) *OrderbookConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &OrderbookConnector{
		cfg:      cfg,
		resolver: resolver,
		sink:     sink,
		logger:   logger.With("source", model.SourceOrderbook),
		now:      time.Now,
	}
}

// Source implements Connector.
func (b *OrderbookConnector) Source() model.Source { return model.SourceOrderbook }

// Prepare implements Connector: resolves the active market so Connect can
// subscribe with current instrument ids.
func (b *OrderbookConnector) Prepare(ctx context.Context) error {
	mc, err := b.resolver.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("resolve market: %w", err)
	}
	b.mc = mc
	return nil
}

// bookSubscribe is the CLOB market subscription message.
type bookSubscribe struct {
	Auth    struct{} `json:"auth"`
	Type    string   `json:"type"`
	Channel string   `json:"channel"`
	Markets []string `json:"markets"`
}

// Connect implements Connector.
func (b *OrderbookConnector) Connect(ctx context.Context) error {
	client := NewClient(ClientConfig{URL: b.cfg.URL}, b.logger)

	// Publish before dialing so a concurrent Close reaches the client.
	b.mu.Lock()
	b.client = client
	b.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	sub := bookSubscribe{
		Type:    "subscribe",
		Channel: "market",
		Markets: []string{b.mc.UpAssetID, b.mc.DownAssetID},
	}
	data, _ := json.Marshal(sub)
	if err := client.Send(data); err != nil {
		client.Close()
		return fmt.Errorf("subscribe orderbook: %w", err)
	}

	ping := startPinger(client, b.cfg.PingInterval, b.logger)

	b.mu.Lock()
	b.ping = ping
	b.mu.Unlock()

	// Close may have raced ahead during the handshake; a pinger started
	// after that must not outlive the connector.
	if !client.IsConnected() {
		ping.Stop()
	}

	b.logger.Info("subscribed to market",
		"slug", b.mc.Slug,
		"window_end", b.mc.WindowEnd,
		"degraded", b.mc.PriceDegraded,
	)

	if err := b.sink.Status(model.SourceOrderbook, model.StatusConnected, b.mc.PriceDegraded); err != nil {
		return ErrSinkClosed
	}
	return nil
}

// Pump implements Connector.
func (b *OrderbookConnector) Pump(ctx context.Context) error {
	b.mu.Lock()
	client := b.client
	b.mu.Unlock()
	return pumpClient(ctx, client, b.sink, model.SourceOrderbook, b.handleFrame, b.logger)
}

// Close implements Connector.
func (b *OrderbookConnector) Close() error {
	b.mu.Lock()
	client, ping := b.client, b.ping
	b.mu.Unlock()

	if ping != nil {
		ping.Stop()
	}
	if client == nil {
		return nil
	}
	return client.Close()
}

// bookEntry is one order update inside a batch.
type bookEntry struct {
	AssetID string          `json:"asset_id"`
	Price   json.RawMessage `json:"price"`
	Side    string          `json:"side"`
}

func (b *OrderbookConnector) handleFrame(data []byte, receivedAt time.Time) error {
	if isPong(data) {
		return nil
	}

	// A frame is a batch of updates, or a single update treated as a
	// batch of one.
	var batch []bookEntry
	if !decodeFrame(data, &batch) {
		var single bookEntry
		if !decodeFrame(data, &single) {
			return nil
		}
		batch = append(batch, single)
	}

	update, matched := b.collapse(batch, receivedAt)
	if !matched {
		return nil
	}

	// Throttle: bound the output rate regardless of upstream burst rate.
	if !b.lastEmit.IsZero() && receivedAt.Sub(b.lastEmit) < b.cfg.Throttle {
		metrics.ThrottledBookUpdates.Inc()
		return nil
	}
	b.lastEmit = receivedAt

	if err := b.sink.Book(update); err != nil {
		return ErrSinkClosed
	}
	metrics.EventsRelayed.WithLabelValues(string(model.SourceOrderbook), "price_change").Inc()
	return nil
}

// collapse filters a batch to buy-side entries for the known instruments
// and reduces it to at most one up price and one down price. Later entries
// in a batch supersede earlier ones for the same side.
func (b *OrderbookConnector) collapse(batch []bookEntry, receivedAt time.Time) (model.BookUpdate, bool) {
	update := model.BookUpdate{
		Market:    b.mc.Slug,
		Timestamp: receivedAt.UnixMilli(),
	}

	for _, entry := range batch {
		if !strings.EqualFold(entry.Side, "buy") {
			continue
		}
		price, ok := coerceFloat(entry.Price)
		if !ok {
			continue
		}

		switch entry.AssetID {
		case b.mc.UpAssetID:
			update.Up = price
			update.HasUp = true
		case b.mc.DownAssetID:
			update.Down = price
			update.HasDown = true
		}
	}

	return update, update.HasUp || update.HasDown
}
