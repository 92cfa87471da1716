package watchlist

import (
	"fmt"

	"github.com/shopspring/decimal"

	"price-pulse/internal/storage"
)

// Direction of a smart target relative to the current price.
type Direction string

const (
	DirectionAbove Direction = "above"
	DirectionBelow Direction = "below"
)

// Target is a heuristically derived price threshold, computed fresh each
// cycle and never persisted; only a firing leaves a trace.
type Target struct {
	Price     decimal.Decimal
	Direction Direction
	Reason    string
	Priority  int
}

// Heuristics tune target derivation.
type Heuristics struct {
	MomentumPct   decimal.Decimal
	TargetOffset  decimal.Decimal
	RoundMinDrift decimal.Decimal
}

// DefaultHeuristics mirrors the production tuning: ±5% momentum window,
// 5% offset targets, round-number targets only when >1% away.
func DefaultHeuristics() Heuristics {
	return Heuristics{
		MomentumPct:   decimal.NewFromInt(5),
		TargetOffset:  decimal.NewFromInt(5),
		RoundMinDrift: decimal.NewFromInt(1),
	}
}

var (
	hundred = decimal.NewFromInt(100)
	one     = decimal.NewFromInt(1)
)

// SmartTargets derives the ordered target list for one snapshot. Momentum
// or dip targets come first, then a round-number target when it is far
// enough from the current price; when nothing qualifies, a ±offset pair
// acts as the safety net.
func SmartTargets(snap storage.PriceSnapshot, h Heuristics) []Target {
	current := snap.CurrentPrice
	if !current.IsPositive() {
		return nil
	}

	targets := make([]Target, 0, 2)

	change24h := decimal.Zero
	if snap.Price24hAgo.IsPositive() {
		change24h = current.Sub(snap.Price24hAgo).Div(snap.Price24hAgo).Mul(hundred)
	}

	offset := h.TargetOffset.Div(hundred)
	switch {
	case change24h.GreaterThan(h.MomentumPct):
		targets = append(targets, Target{
			Price:     current.Mul(one.Add(offset)),
			Direction: DirectionAbove,
			Reason:    "momentum continuation",
			Priority:  1,
		})
	case change24h.LessThan(h.MomentumPct.Neg()):
		targets = append(targets, Target{
			Price:     current.Mul(one.Sub(offset)),
			Direction: DirectionBelow,
			Reason:    "dip accumulation",
			Priority:  1,
		})
	}

	if round, ok := roundTarget(current, h.RoundMinDrift); ok {
		targets = append(targets, round)
	}

	if len(targets) == 0 {
		targets = append(targets,
			Target{Price: current.Mul(one.Sub(offset)), Direction: DirectionBelow, Reason: "support watch", Priority: 3},
			Target{Price: current.Mul(one.Add(offset)), Direction: DirectionAbove, Reason: "resistance watch", Priority: 3},
		)
	}

	return targets
}

// roundTarget rounds the price to a denomination scaled by its magnitude
// and keeps it only when it sits more than minDrift percent away.
func roundTarget(current, minDrift decimal.Decimal) (Target, bool) {
	denom := denominationFor(current)
	rounded := current.Div(denom).Round(0).Mul(denom)

	if !rounded.IsPositive() {
		return Target{}, false
	}

	drift := rounded.Sub(current).Div(current).Mul(hundred)
	if drift.Abs().LessThanOrEqual(minDrift) {
		return Target{}, false
	}

	direction := DirectionAbove
	if rounded.LessThan(current) {
		direction = DirectionBelow
	}

	return Target{
		Price:     rounded,
		Direction: direction,
		Reason:    fmt.Sprintf("round number %s", rounded.String()),
		Priority:  2,
	}, true
}

func denominationFor(price decimal.Decimal) decimal.Decimal {
	switch {
	case price.LessThan(decimal.NewFromInt(1)):
		return decimal.NewFromFloat(0.01)
	case price.LessThan(decimal.NewFromInt(100)):
		return decimal.NewFromInt(5)
	case price.LessThan(decimal.NewFromInt(1000)):
		return decimal.NewFromInt(10)
	case price.LessThan(decimal.NewFromInt(10000)):
		return decimal.NewFromInt(100)
	default:
		return decimal.NewFromInt(1000)
	}
}
