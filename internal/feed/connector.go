package feed

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/pricewire/leadlag/internal/model"
)

// ErrSinkClosed reports that the downstream consumer is gone. Connectors
// surface it from Pump and supervisors treat it as terminal: no reconnect
// may follow a dead sink.
var ErrSinkClosed = errors.New("feed: sink closed")

// Sink receives normalized events from connectors. Implementations return
// an error (conventionally wrapping ErrSinkClosed) once the downstream
// client has disconnected.
type Sink interface {
	Status(src model.Source, status model.ConnectionStatus, degraded bool) error
	Price(ev model.PriceEvent) error
	Book(update model.BookUpdate) error
}

// Connector maintains one logical subscription to one venue.
type Connector interface {
	// Source identifies the venue.
	Source() model.Source

	// Prepare runs any pre-dial step (market resolution for the order
	// book). A failure is retried by the supervisor without dialing.
	Prepare(ctx context.Context) error

	// Connect dials the venue and performs the subscription handshake.
	// Emits a connected status on success.
	Connect(ctx context.Context) error

	// Pump consumes the socket until it closes. Returns ErrSinkClosed if
	// a downstream write failed, nil when the socket closed normally.
	Pump(ctx context.Context) error

	// Close synchronously closes the socket. Idempotent.
	Close() error
}

// frameHandler processes one inbound frame. Returning ErrSinkClosed aborts
// the pump; any other error is logged and the frame dropped.
type frameHandler func(data []byte, receivedAt time.Time) error

// pumpClient drains a client's channels, dispatching frames to handle.
// Transport errors surface as status=error; only the Messages channel
// closing (the socket dying) ends the pump.
func pumpClient(ctx context.Context, c *Client, sink Sink, src model.Source, handle frameHandler, logger *slog.Logger) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case err := <-c.Errors():
			logger.Warn("transport error", "source", src, "error", err)
			if serr := sink.Status(src, model.StatusError, false); serr != nil {
				return ErrSinkClosed
			}

		case msg, ok := <-c.Messages():
			if !ok {
				return nil
			}
			if err := handle(msg.Data, msg.ReceivedAt); err != nil {
				if errors.Is(err, ErrSinkClosed) {
					return ErrSinkClosed
				}
				logger.Warn("dropping frame", "source", src, "error", err)
			}
		}
	}
}

// decodeFrame trims and unmarshals a frame into v.
// Empty and malformed frames report ok=false and are dropped silently:
// partial reads are expected noise, not errors.
func decodeFrame(data []byte, v any) bool {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return false
	}
	return json.Unmarshal(data, v) == nil
}

// isPong recognizes venue keep-alive replies.
func isPong(data []byte) bool {
	var frame struct {
		Type string `json:"type"`
	}
	return decodeFrame(data, &frame) && frame.Type == "pong"
}

// coerceFloat accepts a JSON number or a string-encoded number.
func coerceFloat(raw json.RawMessage) (float64, bool) {
	if len(raw) == 0 {
		return 0, false
	}

	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f, true
	}

	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, true
		}
	}

	return 0, false
}

// pinger sends a venue-level JSON ping at a fixed interval.
// Fire-and-forget: send failures are logged, pong handling lives in the
// frame handlers.
type pinger struct {
	stop chan struct{}
	once sync.Once
}

func startPinger(c *Client, interval time.Duration, logger *slog.Logger) *pinger {
	p := &pinger{stop: make(chan struct{})}

	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-p.stop:
				return
			case <-ticker.C:
				if err := c.Send([]byte(`{"type":"ping"}`)); err != nil {
					logger.Debug("ping failed", "error", err)
				}
			}
		}
	}()

	return p
}

func (p *pinger) Stop() {
	p.once.Do(func() { close(p.stop) })
}
