package signal

import (
	"time"

	"github.com/pricewire/leadlag/internal/model"
)

// Point is one bucketed chart sample. Sources absent from a point have no
// observation yet; present sources carry the latest value in the bucket.
type Point struct {
	Timestamp int64
	Prices    map[model.Source]float64
	Changes   map[model.Source]float64
}

// Series maintains a bounded list of chart points. A new value upserts
// into the current point when its timestamp falls within the bucket width
// of the point's timestamp, and appends a new point otherwise. Appended
// points carry forward the other sources' last values, so every point is a
// complete cross-venue sample.
type Series struct {
	bucket time.Duration
	max    int
	points []Point
}

// NewSeries creates a series with the given bucket width and point bound.
func NewSeries(bucket time.Duration, max int) *Series {
	return &Series{bucket: bucket, max: max}
}

// Add records one observation. Deterministic in (existing points, value,
// timestamp).
func (s *Series) Add(src model.Source, price, pct float64, ts int64) {
	if len(s.points) == 0 {
		s.points = append(s.points, newPoint(ts))
		s.points[0].Prices[src] = price
		s.points[0].Changes[src] = pct
		return
	}

	last := &s.points[len(s.points)-1]
	if ts-last.Timestamp > s.bucket.Milliseconds() {
		p := newPoint(ts)
		for k, v := range last.Prices {
			p.Prices[k] = v
		}
		for k, v := range last.Changes {
			p.Changes[k] = v
		}
		s.points = append(s.points, p)
		last = &s.points[len(s.points)-1]
	}

	last.Prices[src] = price
	last.Changes[src] = pct

	if len(s.points) > s.max {
		s.points = s.points[len(s.points)-s.max:]
	}
}

// Points returns a copy of the current series.
func (s *Series) Points() []Point {
	out := make([]Point, len(s.points))
	copy(out, s.points)
	return out
}

// Len returns the number of points held.
func (s *Series) Len() int {
	return len(s.points)
}

func newPoint(ts int64) Point {
	return Point{
		Timestamp: ts,
		Prices:    make(map[model.Source]float64),
		Changes:   make(map[model.Source]float64),
	}
}
