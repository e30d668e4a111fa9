package feed

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/pricewire/leadlag/internal/metrics"
	"github.com/pricewire/leadlag/internal/model"
)

// State is a supervisor's position in the connection lifecycle.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateClosed
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateClosed:
		return "closed"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// BackoffPolicy yields the delay before reconnect attempt n (n starts at 1).
type BackoffPolicy interface {
	Next(attempt int) time.Duration
}

// ConstantBackoff retries at a fixed delay. Used for the cheap trade and
// oracle streams.
type ConstantBackoff struct {
	Delay time.Duration
}

// Next implements BackoffPolicy.
func (b ConstantBackoff) Next(int) time.Duration { return b.Delay }

// ExponentialBackoff doubles the delay per attempt up to Max. Used for the
// order-book venue, where each attempt costs a market resolution.
type ExponentialBackoff struct {
	Base time.Duration
	Max  time.Duration
}

// Next implements BackoffPolicy.
func (b ExponentialBackoff) Next(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	wait := b.Base
	for i := 1; i < attempt; i++ {
		wait *= 2
		if wait >= b.Max {
			return b.Max
		}
	}
	if wait > b.Max {
		return b.Max
	}
	return wait
}

// Supervisor drives one Connector through the connection state machine:
//
//	IDLE → CONNECTING → CONNECTED → CLOSED → CONNECTING → … → TERMINATED
//
// The attempt counter resets on every successful connect. Termination is
// synchronous and final: a reconnect timer firing afterwards is a no-op.
type Supervisor struct {
	conn         Connector
	sink         Sink
	backoff      BackoffPolicy
	prepareRetry time.Duration
	logger       *slog.Logger

	mu      sync.Mutex
	state   State
	attempt int
	cancel  context.CancelFunc

	done chan struct{}
}

// NewSupervisor wraps a connector with a backoff policy. prepareRetry is
// the delay before retrying a failed Prepare (resolver failures retry
// without dialing).
func NewSupervisor(conn Connector, sink Sink, backoff BackoffPolicy, prepareRetry time.Duration, logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		conn:         conn,
		sink:         sink,
		backoff:      backoff,
		prepareRetry: prepareRetry,
		logger:       logger.With("source", conn.Source()),
		done:         make(chan struct{}),
	}
}

// State returns the current lifecycle state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Run drives the connector until termination or context cancellation.
func (s *Supervisor) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		cancel()
		close(s.done)
		return
	}
	s.cancel = cancel
	s.mu.Unlock()

	defer close(s.done)
	defer cancel()

	src := s.conn.Source()

	for {
		if s.terminated() {
			return
		}

		s.setState(StateConnecting)
		if err := s.sink.Status(src, model.StatusConnecting, false); err != nil {
			s.markTerminated("downstream closed")
			return
		}

		if err := s.conn.Prepare(runCtx); err != nil {
			if runCtx.Err() != nil {
				return
			}
			s.logger.Warn("prepare failed, retrying", "error", err, "delay", s.prepareRetry)
			if !s.wait(runCtx, s.prepareRetry) {
				return
			}
			continue
		}

		if err := s.conn.Connect(runCtx); err != nil {
			if errors.Is(err, ErrSinkClosed) {
				s.markTerminated("downstream closed")
				return
			}
			if runCtx.Err() != nil {
				return
			}

			s.logger.Warn("connect failed", "error", err)
			if serr := s.sink.Status(src, model.StatusError, false); serr != nil {
				s.markTerminated("downstream closed")
				return
			}

			s.mu.Lock()
			s.attempt++
			attempt := s.attempt
			s.mu.Unlock()

			metrics.ReconnectAttempts.WithLabelValues(string(src)).Inc()
			if !s.wait(runCtx, s.backoff.Next(attempt)) {
				return
			}
			continue
		}

		s.setState(StateConnected)
		s.mu.Lock()
		s.attempt = 0
		s.mu.Unlock()
		metrics.ConnectionUp.WithLabelValues(string(src)).Set(1)

		err := s.conn.Pump(runCtx)

		s.conn.Close()
		metrics.ConnectionUp.WithLabelValues(string(src)).Set(0)
		s.setState(StateClosed)

		if serr := s.sink.Status(src, model.StatusDisconnected, false); serr != nil || errors.Is(err, ErrSinkClosed) {
			s.markTerminated("downstream closed")
			return
		}
		if runCtx.Err() != nil {
			return
		}

		s.mu.Lock()
		s.attempt++
		attempt := s.attempt
		s.mu.Unlock()

		wait := s.backoff.Next(attempt)
		s.logger.Info("connection lost, reconnecting", "attempt", attempt, "delay", wait)
		metrics.ReconnectAttempts.WithLabelValues(string(src)).Inc()
		if !s.wait(runCtx, wait) {
			return
		}
	}
}

// Terminate stops supervision for good: the socket is closed and any
// pending reconnect timer is cancelled before returning. Idempotent.
func (s *Supervisor) Terminate() {
	s.mu.Lock()
	if s.state == StateTerminated {
		s.mu.Unlock()
		return
	}
	s.state = StateTerminated
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.conn.Close()
}

// Done is closed when the run loop has exited.
func (s *Supervisor) Done() <-chan struct{} {
	return s.done
}

// wait sleeps for d. Returns false when the wait was cancelled or the
// supervisor was terminated while waiting; a timer that fired during
// termination must not produce a new connection.
func (s *Supervisor) wait(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return !s.terminated()
	}
}

func (s *Supervisor) terminated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateTerminated
}

func (s *Supervisor) setState(st State) {
	s.mu.Lock()
	if s.state != StateTerminated {
		s.state = st
	}
	s.mu.Unlock()
}

func (s *Supervisor) markTerminated(reason string) {
	s.mu.Lock()
	already := s.state == StateTerminated
	s.state = StateTerminated
	s.mu.Unlock()

	if !already {
		s.logger.Info("supervision terminated", "reason", reason)
	}
	s.conn.Close()
}
