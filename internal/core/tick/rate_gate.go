package tick

import "fmt"

// RateGate fires on every Nth tick of its source: on frames where the source
// ticked and its tick count is a multiple of Rate.
type RateGate struct {
	Source Source
	Rate   int
}

func NewRateGate(src Source, rate int) (RateGate, error) {
	if rate < 1 {
		return RateGate{}, fmt.Errorf("rate %d: %w", rate, ErrInvalidRate)
	}
	return RateGate{Source: src, Rate: rate}, nil
}

// Fires reports whether the gate opens on frame.
func (g RateGate) Fires(frame uint64) bool {
	if g.Source == nil || !g.Source.DidTick(frame) {
		return false
	}
	return g.Source.TickCount()%uint64(g.Rate) == 0
}
