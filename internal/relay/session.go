// Package relay implements per-client relay sessions.
//
// A Session owns one Connector+Supervisor pair per venue and multiplexes
// their events onto a single outbound stream of JSON records. The session
// is the sole authority for tearing its connectors down: once Close runs,
// nothing is written to the stream again and no reconnect may fire.
package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/pricewire/leadlag/internal/config"
	"github.com/pricewire/leadlag/internal/feed"
	"github.com/pricewire/leadlag/internal/market"
	"github.com/pricewire/leadlag/internal/metrics"
	"github.com/pricewire/leadlag/internal/model"
	"github.com/pricewire/leadlag/internal/signal"
)

// ErrSessionClosed reports a write against a closed session.
var ErrSessionClosed = errors.New("relay: session closed")

// Session relays all venue feeds to one downstream client.
type Session struct {
	id       uuid.UUID
	cfg      *config.Config
	resolver market.Resolver
	logger   *slog.Logger
	now      func() time.Time

	out  chan []byte
	sups []*feed.Supervisor

	// mu serializes the engine and the outbound channel: sink calls
	// arrive on every connector's goroutine but are dispatched one at
	// a time, which is the engine's single logical thread.
	mu         sync.Mutex
	closed     bool
	engine     *signal.Engine
	lastSignal model.TradingSignal

	closeOnce sync.Once
}

// NewSession creates a session. Start wires the connectors.
func NewSession(cfg *config.Config, resolver market.Resolver, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	id := uuid.New()

	s := &Session{
		id:       id,
		cfg:      cfg,
		resolver: resolver,
		logger:   logger.With("session", id.String()),
		now:      time.Now,
		out:      make(chan []byte, cfg.Relay.BufferSize),
		engine:   signal.NewEngine(cfg.Signal, logger),
	}
	s.lastSignal = s.engine.Evaluate()
	return s
}

// ID returns the session identifier.
func (s *Session) ID() uuid.UUID { return s.id }

// Events returns the outbound stream. Closed after Close.
func (s *Session) Events() <-chan []byte { return s.out }

// Start creates one supervised connector per venue. Each venue's connect
// sequence runs independently; a slow market resolution blocks only the
// order-book venue.
func (s *Session) Start(ctx context.Context) {
	tradeBackoff := feed.ConstantBackoff{Delay: s.cfg.Reconnect.TradeDelay}
	bookBackoff := feed.ExponentialBackoff{
		Base: s.cfg.Reconnect.BookBaseWait,
		Max:  s.cfg.Reconnect.BookMaxWait,
	}
	retry := s.cfg.Resolver.RetryDelay

	connectors := []struct {
		conn    feed.Connector
		backoff feed.BackoffPolicy
	}{
		{feed.NewTradeConnector(model.SourceSpotTrade, s.cfg.Venues.SpotTrade.URL, s, s.logger), tradeBackoff},
		{feed.NewTradeConnector(model.SourceAggTrade, s.cfg.Venues.AggTrade.URL, s, s.logger), tradeBackoff},
		{feed.NewOracleConnector(s.cfg.Venues.Oracle, s, s.logger), tradeBackoff},
		{feed.NewOrderbookConnector(s.cfg.Venues.Orderbook, s.resolver, s, s.logger), bookBackoff},
	}

	for _, c := range connectors {
		sup := feed.NewSupervisor(c.conn, s, c.backoff, retry, s.logger)
		s.sups = append(s.sups, sup)
		go sup.Run(ctx)
	}

	metrics.ActiveSessions.Inc()
	s.logger.Info("session started", "venues", len(connectors))
}

// Close tears the session down: the sink is sealed first so no further
// writes reach the stream, then every supervisor is terminated
// synchronously (sockets closed, pending reconnect timers cancelled).
// Idempotent.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.out)
		s.mu.Unlock()

		for _, sup := range s.sups {
			sup.Terminate()
		}

		metrics.ActiveSessions.Dec()
		s.logger.Info("session closed")
	})
}

// Status implements feed.Sink.
func (s *Session) Status(src model.Source, status model.ConnectionStatus, degraded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.emitLocked(src, model.StatusRecord{
		Type:     "status",
		Status:   status,
		Source:   src,
		Degraded: degraded,
	})
	metrics.EventsRelayed.WithLabelValues(string(src), "status").Inc()
	return nil
}

// Price implements feed.Sink.
func (s *Session) Price(ev model.PriceEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	s.engine.OnPrice(ev)

	s.emitLocked(ev.Source, model.PriceRecord{
		Type:            "price",
		Source:          ev.Source,
		Price:           ev.Price,
		ServerTimestamp: ev.ServerTimestamp,
		OriginalData:    ev.Original,
	})

	s.emitSignalIfChangedLocked()
	return nil
}

// Book implements feed.Sink.
func (s *Session) Book(update model.BookUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSessionClosed
	}

	// Each side of the book is its own source for movement tracking.
	if update.HasUp {
		s.engine.OnPrice(model.PriceEvent{
			Source:          model.SourceOrderbookUp,
			Price:           update.Up,
			ServerTimestamp: update.Timestamp,
		})
	}
	if update.HasDown {
		s.engine.OnPrice(model.PriceEvent{
			Source:          model.SourceOrderbookDown,
			Price:           update.Down,
			ServerTimestamp: update.Timestamp,
		})
	}

	rec := model.BookRecord{
		Type:            "price_change",
		Source:          model.SourceOrderbook,
		Market:          update.Market,
		Timestamp:       update.Timestamp,
		ServerTimestamp: s.now().UnixMilli(),
	}
	if update.HasUp {
		up := update.Up
		rec.UpPrice = &up
	}
	if update.HasDown {
		down := update.Down
		rec.DownPrice = &down
	}
	s.emitLocked(model.SourceOrderbook, rec)

	s.emitSignalIfChangedLocked()
	return nil
}

// Signal returns the engine's current snapshot.
func (s *Session) Signal() signal.Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.engine.Snapshot()
}

// emitSignalIfChangedLocked appends a signal record when the current
// trading signal changed action or strength.
func (s *Session) emitSignalIfChangedLocked() {
	sig := s.engine.Evaluate()
	if sig.Action == s.lastSignal.Action && sig.Strength == s.lastSignal.Strength {
		return
	}
	s.lastSignal = sig

	s.emitLocked("", model.SignalRecord{
		Type:          "signal",
		Action:        sig.Action,
		Strength:      sig.Strength,
		Reason:        sig.Reason,
		Timestamp:     sig.Timestamp,
		PercentChange: sig.PercentChange,
	})
}

// emitLocked serializes a record onto the outbound stream, dropping it if
// the client cannot keep up.
func (s *Session) emitLocked(src model.Source, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		s.logger.Warn("marshal outbound record", "error", err)
		return
	}

	select {
	case s.out <- data:
	default:
		metrics.DroppedEvents.WithLabelValues(string(src)).Inc()
		s.logger.Warn("outbound buffer full, dropping event", "source", src)
	}
}
