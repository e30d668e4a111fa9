// Package signal implements the lead/lag signal engine.
//
// The engine consumes the normalized price-event stream of one relay
// session and maintains rolling state: per-source movement detection,
// price-discovery leader determination, lead-time correlation between the
// leading and lagging sources, and the single current trading signal.
package signal

import (
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/pricewire/leadlag/internal/config"
	"github.com/pricewire/leadlag/internal/model"
)

// LeaderEqual is reported when the two most recent movements are too close
// to attribute precedence.
const LeaderEqual = model.Source("equal")

// strengthSlope maps absolute percent change to signal strength:
// a 0.5% move saturates at 100.
const strengthSlope = 200

// Engine holds the session-scoped lead/lag state. Not safe for concurrent
// use; the owning session serializes all calls.
type Engine struct {
	cfg    config.SignalConfig
	logger *slog.Logger
	now    func() time.Time

	prev      map[model.Source]float64
	lastMove  map[model.Source]model.MovementEvent
	movements []model.MovementEvent

	lastLead       *model.MovementEvent
	lagRespondedAt int64

	current model.TradingSignal
	series  *Series
}

// Snapshot is a point-in-time view of the engine's derived state.
type Snapshot struct {
	Leader           model.Source
	LeaderDetermined bool
	AvgLeadTime      time.Duration
	LeadTimeKnown    bool
	Signal           model.TradingSignal
	Movements        []model.MovementEvent
}

// NewEngine creates an engine with the given thresholds.
func NewEngine(cfg config.SignalConfig, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		now:      time.Now,
		prev:     make(map[model.Source]float64),
		lastMove: make(map[model.Source]model.MovementEvent),
		series:   NewSeries(cfg.SeriesBucket, cfg.SeriesMax),
	}
	e.current = model.Neutral("Waiting for data...", e.now().UnixMilli())
	return e
}

// OnPrice ingests one price event. Reports the movement it produced, if
// the change against the source's previous price clears the significance
// threshold.
func (e *Engine) OnPrice(ev model.PriceEvent) (model.MovementEvent, bool) {
	prev, seen := e.prev[ev.Source]
	e.prev[ev.Source] = ev.Price

	var pct float64
	if seen && prev != 0 {
		pct = (ev.Price - prev) / prev * 100
	}

	e.series.Add(ev.Source, ev.Price, pct, ev.ServerTimestamp)

	if !seen || prev == 0 || math.Abs(pct) <= e.cfg.MovementThreshold {
		return model.MovementEvent{}, false
	}

	dir := model.DirectionUp
	if pct < 0 {
		dir = model.DirectionDown
	}

	mv := model.MovementEvent{
		Source:        ev.Source,
		Timestamp:     ev.ServerTimestamp,
		PercentChange: pct,
		Direction:     dir,
	}

	e.movements = append(e.movements, mv)
	if len(e.movements) > e.cfg.MovementBuffer {
		e.movements = e.movements[len(e.movements)-e.cfg.MovementBuffer:]
	}
	e.lastMove[ev.Source] = mv

	switch ev.Source {
	case e.cfg.LeadingSource:
		lead := mv
		e.lastLead = &lead
	case e.cfg.LaggingSource:
		e.lagRespondedAt = mv.Timestamp
	}

	return mv, true
}

// Leader reports which source's price changed most recently. Two movements
// within the tie window are reported as LeaderEqual: near-simultaneous
// updates carry no precedence information.
func (e *Engine) Leader() (model.Source, bool) {
	if len(e.lastMove) < 2 {
		return "", false
	}

	var first, second model.MovementEvent
	for _, mv := range e.lastMove {
		switch {
		case mv.Timestamp > first.Timestamp:
			second = first
			first = mv
		case mv.Timestamp > second.Timestamp:
			second = mv
		}
	}

	if time.Duration(first.Timestamp-second.Timestamp)*time.Millisecond < e.cfg.LeaderTieWindow {
		return LeaderEqual, true
	}
	return first.Source, true
}

// LeadTime estimates how far the leading source runs ahead of the lagging
// one: over the most recent movements, each leading movement is paired
// with the next lagging movement in the same direction inside the
// correlation window, and the mean gap is reported.
func (e *Engine) LeadTime() (time.Duration, bool) {
	recent := e.movements
	if len(recent) > e.cfg.CorrelationDepth {
		recent = recent[len(recent)-e.cfg.CorrelationDepth:]
	}

	window := e.cfg.CorrelationWindow.Milliseconds()

	var total, count int64
	for _, lead := range recent {
		if lead.Source != e.cfg.LeadingSource {
			continue
		}
		for _, lag := range recent {
			if lag.Source != e.cfg.LaggingSource {
				continue
			}
			gap := lag.Timestamp - lead.Timestamp
			if gap > 0 && gap < window && lag.Direction == lead.Direction {
				total += gap
				count++
				break
			}
		}
	}

	if count == 0 {
		return 0, false
	}
	return time.Duration(total/count) * time.Millisecond, true
}

// Evaluate recomputes the current trading signal as of now. A leading
// movement with no lagging response inside the response window yields a
// directional signal; otherwise the signal rests at neutral.
func (e *Engine) Evaluate() model.TradingSignal {
	now := e.now().UnixMilli()

	if e.lastLead == nil {
		return e.current
	}

	lead := *e.lastLead
	elapsed := now - lead.Timestamp
	responded := e.lagRespondedAt >= lead.Timestamp

	switch {
	case responded:
		e.current = model.Neutral("Markets aligned - no arbitrage opportunity", now)

	case elapsed >= e.cfg.ResponseWindow.Milliseconds():
		e.current = model.Neutral(
			fmt.Sprintf("Signal expired - %s may not follow", e.cfg.LaggingSource), now)

	default:
		absChange := math.Abs(lead.PercentChange)
		action := model.ActionLong
		verb := "rose"
		if lead.Direction == model.DirectionDown {
			action = model.ActionShort
			verb = "dropped"
		}

		e.current = model.TradingSignal{
			Action:   action,
			Strength: min(100, int(math.Round(absChange*strengthSlope))),
			Reason: fmt.Sprintf("%s %s %.3f%% - %s hasn't responded yet",
				e.cfg.LeadingSource, verb, absChange, e.cfg.LaggingSource),
			Timestamp:     lead.Timestamp,
			PercentChange: lead.PercentChange,
		}
	}

	return e.current
}

// Snapshot returns the derived state as of now.
func (e *Engine) Snapshot() Snapshot {
	leader, determined := e.Leader()
	leadTime, known := e.LeadTime()

	movements := make([]model.MovementEvent, len(e.movements))
	copy(movements, e.movements)

	return Snapshot{
		Leader:           leader,
		LeaderDetermined: determined,
		AvgLeadTime:      leadTime,
		LeadTimeKnown:    known,
		Signal:           e.Evaluate(),
		Movements:        movements,
	}
}
