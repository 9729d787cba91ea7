package engine

import (
	"fmt"

	"github.com/shopspring/decimal"

	"gridpilot/config"
)

// buildLevels converts the per-level pip spacing into one ladder of
// GridLevels with cumulative price offsets, normalized to the instrument's
// digit precision. Offsets are fixed-point sums of integer pip counts, not
// floating accumulation, so they are exact at the given precision.
//
// Level 1 has offset zero and activates the moment a basket forms; level i
// activates once price has moved offset_i against the basket reference.
func buildLevels(levels []config.LevelConfig, digits int) ([NumLevels]GridLevel, error) {
	var out [NumLevels]GridLevel
	if len(levels) != NumLevels {
		return out, fmt.Errorf("%w: ladder needs %d levels, got %d", config.ErrInvalid, NumLevels, len(levels))
	}

	// Quotes carry one fractional digit beyond the instrument's nominal
	// precision, so one point is 10^-(digits+1): on a 4-digit instrument
	// a spacing of 100 points is 0.0010.
	point := decimal.New(1, int32(-(digits + 1)))
	pips := 0
	for i, lc := range levels {
		if i > 0 {
			if lc.SpacingPips <= 0 {
				return out, fmt.Errorf("%w: level %d spacing %d is not positive", config.ErrInvalid, i+1, lc.SpacingPips)
			}
			pips += lc.SpacingPips
		}
		if lc.Enabled && lc.Lots <= 0 {
			return out, fmt.Errorf("%w: level %d enabled with lot size %v", config.ErrInvalid, i+1, lc.Lots)
		}
		out[i] = GridLevel{
			Enabled:     lc.Enabled,
			Lots:        decimal.NewFromFloat(lc.Lots),
			SpacingPips: lc.SpacingPips,
			TPPips:      lc.TPPips,
			SLPips:      lc.SLPips,
			Offset:      decimal.NewFromInt(int64(pips)).Mul(point),
		}
	}
	return out, nil
}
