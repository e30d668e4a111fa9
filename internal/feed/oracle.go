package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pricewire/leadlag/internal/config"
	"github.com/pricewire/leadlag/internal/metrics"
	"github.com/pricewire/leadlag/internal/model"
)

// OracleConnector relays the oracle price feed. The venue requires an
// explicit topic subscription after connect and periodic JSON pings.
type OracleConnector struct {
	cfg    config.OracleConfig
	sink   Sink
	logger *slog.Logger
	now    func() time.Time

	// mu guards client and ping against Close arriving from the
	// session's teardown goroutine while Connect is still running.
	mu     sync.Mutex
	client *Client
	ping   *pinger
}

// NewOracleConnector creates a connector for the oracle feed.
func NewOracleConnector(cfg config.OracleConfig, sink Sink, logger *slog.Logger) *OracleConnector {
	if logger == nil {
		logger = slog.Default()
	}
	return &OracleConnector{
		cfg:    cfg,
		sink:   sink,
		logger: logger.With("source", model.SourceOracle),
		now:    time.Now,
	}
}

// Source implements Connector.
func (o *OracleConnector) Source() model.Source { return model.SourceOracle }

// Prepare implements Connector.
func (o *OracleConnector) Prepare(ctx context.Context) error { return nil }

// subscribeMessage is the oracle topic subscription sent after connect.
type subscribeMessage struct {
	Action        string         `json:"action"`
	Subscriptions []subscription `json:"subscriptions"`
}

type subscription struct {
	Topic   string `json:"topic"`
	Type    string `json:"type"`
	Filters string `json:"filters"`
}

// Connect implements Connector.
func (o *OracleConnector) Connect(ctx context.Context) error {
	client := NewClient(ClientConfig{URL: o.cfg.URL}, o.logger)

	// Publish before dialing so a concurrent Close reaches the client.
	o.mu.Lock()
	o.client = client
	o.mu.Unlock()

	if err := client.Connect(ctx); err != nil {
		return err
	}

	filters, _ := json.Marshal(map[string]string{"symbol": o.cfg.Symbol})
	sub := subscribeMessage{
		Action: "subscribe",
		Subscriptions: []subscription{{
			Topic:   o.cfg.Topic,
			Type:    "*",
			Filters: string(filters),
		}},
	}
	data, _ := json.Marshal(sub)
	if err := client.Send(data); err != nil {
		client.Close()
		return fmt.Errorf("subscribe oracle topic: %w", err)
	}

	ping := startPinger(client, o.cfg.PingInterval, o.logger)

	o.mu.Lock()
	o.ping = ping
	o.mu.Unlock()

	// Close may have raced ahead during the handshake; a pinger started
	// after that must not outlive the connector.
	if !client.IsConnected() {
		ping.Stop()
	}

	if err := o.sink.Status(model.SourceOracle, model.StatusConnected, false); err != nil {
		return ErrSinkClosed
	}
	return nil
}

// Pump implements Connector.
func (o *OracleConnector) Pump(ctx context.Context) error {
	o.mu.Lock()
	client := o.client
	o.mu.Unlock()
	return pumpClient(ctx, client, o.sink, model.SourceOracle, o.handleFrame, o.logger)
}

// Close implements Connector.
func (o *OracleConnector) Close() error {
	o.mu.Lock()
	client, ping := o.client, o.ping
	o.mu.Unlock()

	if ping != nil {
		ping.Stop()
	}
	if client == nil {
		return nil
	}
	return client.Close()
}

// oracleFrame is an inbound oracle feed message.
type oracleFrame struct {
	Type    string `json:"type"`
	Topic   string `json:"topic"`
	Payload struct {
		Symbol    string          `json:"symbol"`
		Value     json.RawMessage `json:"value"`
		Timestamp int64           `json:"timestamp"`
	} `json:"payload"`
}

func (o *OracleConnector) handleFrame(data []byte, _ time.Time) error {
	if isPong(data) {
		return nil
	}

	var frame oracleFrame
	if !decodeFrame(data, &frame) {
		return nil
	}

	if frame.Topic != o.cfg.Topic || frame.Type != "update" {
		// Subscription acks and unrelated topics are not price data.
		o.logger.Debug("skipping oracle frame", "type", frame.Type, "topic", frame.Topic)
		return nil
	}
	if frame.Payload.Symbol != o.cfg.Symbol || len(frame.Payload.Value) == 0 {
		return nil
	}

	price, ok := coerceFloat(frame.Payload.Value)
	if !ok {
		return fmt.Errorf("oracle update without numeric value")
	}

	ev := model.PriceEvent{
		Source:          model.SourceOracle,
		Price:           price,
		ServerTimestamp: o.now().UnixMilli(),
		Original:        json.RawMessage(data),
	}

	if err := o.sink.Price(ev); err != nil {
		return ErrSinkClosed
	}
	metrics.EventsRelayed.WithLabelValues(string(model.SourceOracle), "price").Inc()
	return nil
}
