package selection

import (
	"strings"
	"time"

	"github.com/rxtech-lab/stock-replay/internal/types"
)

// HysteresisBand selects with asymmetric entry/exit thresholds. A symbol
// newly enters the champion set only when its metric reaches highCut on the
// decision date after staying below highCut on every prior date of the
// lookback window, so a symbol that has been riding above the high threshold
// cannot re-trigger an entry. A symbol already held is retained while its
// metric stays at or above the lower lowCut, which creates a dead band that
// prevents churn. Symbols matching an excluded prefix never enter.
type HysteresisBand struct {
	highCut         float64
	lowCut          float64
	lookbackDays    int
	excludePrefixes []string
}

func NewHysteresisBand(highCut float64, lowCut float64, lookbackDays int, excludePrefixes []string) *HysteresisBand {
	return &HysteresisBand{
		highCut:         highCut,
		lowCut:          lowCut,
		lookbackDays:    lookbackDays,
		excludePrefixes: excludePrefixes,
	}
}

// Name implements Policy.
func (p *HysteresisBand) Name() string {
	return "hysteresis"
}

// LookbackDays implements Policy.
func (p *HysteresisBand) LookbackDays() int {
	return p.lookbackDays
}

func (p *HysteresisBand) excluded(symbol string) bool {
	for _, prefix := range p.excludePrefixes {
		if strings.HasPrefix(symbol, prefix) {
			return true
		}
	}

	return false
}

// SelectChampions implements Policy.
func (p *HysteresisBand) SelectChampions(rows []types.TickerRow, decisionDate time.Time, positions map[string]float64) map[string]struct{} {
	// qualifies tracks entry candidates: metric >= highCut on the decision
	// date. wasHigh marks symbols whose metric already reached highCut on
	// some prior window date, which disqualifies the entry.
	qualifies := make(map[string]struct{})
	wasHigh := make(map[string]struct{})
	retained := make(map[string]struct{})

	for _, row := range rows {
		if row.Date.Equal(decisionDate) {
			if row.Metric >= p.highCut && !p.excluded(row.Symbol) {
				qualifies[row.Symbol] = struct{}{}
			}

			if _, held := positions[row.Symbol]; held && row.Metric >= p.lowCut {
				retained[row.Symbol] = struct{}{}
			}

			continue
		}

		if row.Metric >= p.highCut {
			wasHigh[row.Symbol] = struct{}{}
		}
	}

	champions := make(map[string]struct{})

	for symbol := range qualifies {
		if _, high := wasHigh[symbol]; high {
			continue
		}

		champions[symbol] = struct{}{}
	}

	for symbol := range retained {
		champions[symbol] = struct{}{}
	}

	return champions
}
