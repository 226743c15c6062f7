package selection

import (
	"sort"
	"time"

	"github.com/rxtech-lab/stock-replay/internal/types"
)

// Policy decides, at a decision date, the champion set of symbols to target
// for holding. Policies are read-only collaborators: they never touch the
// ledger and receive the current positions as a plain map.
type Policy interface {
	// Name returns the policy name used in logs and results.
	Name() string
	// LookbackDays returns how many prior available dates the policy needs in
	// its window. Zero means the decision date's snapshot is enough.
	LookbackDays() int
	// SelectChampions returns the target symbol set for the decision date.
	// rows contains the window returned by the market view: all rows for the
	// decision date plus LookbackDays prior available dates.
	SelectChampions(rows []types.TickerRow, decisionDate time.Time, positions map[string]float64) map[string]struct{}
}

// TopK ranks the decision date's rows descending by metric and targets the
// top k symbols. The sort is stable, so ties keep the original row order.
type TopK struct {
	k int
}

func NewTopK(k int) *TopK {
	return &TopK{k: k}
}

// Name implements Policy.
func (p *TopK) Name() string {
	return "topk"
}

// LookbackDays implements Policy.
func (p *TopK) LookbackDays() int {
	return 0
}

// SelectChampions implements Policy.
func (p *TopK) SelectChampions(rows []types.TickerRow, decisionDate time.Time, positions map[string]float64) map[string]struct{} {
	current := rowsAt(rows, decisionDate)

	sort.SliceStable(current, func(i, j int) bool {
		return current[i].Metric > current[j].Metric
	})

	champions := make(map[string]struct{})

	for _, row := range current {
		if len(champions) >= p.k {
			break
		}

		champions[row.Symbol] = struct{}{}
	}

	return champions
}

// Threshold targets every symbol whose metric exceeds a fixed cutoff on the
// decision date.
type Threshold struct {
	scoreCut float64
}

func NewThreshold(scoreCut float64) *Threshold {
	return &Threshold{scoreCut: scoreCut}
}

// Name implements Policy.
func (p *Threshold) Name() string {
	return "threshold"
}

// LookbackDays implements Policy.
func (p *Threshold) LookbackDays() int {
	return 0
}

// SelectChampions implements Policy.
func (p *Threshold) SelectChampions(rows []types.TickerRow, decisionDate time.Time, positions map[string]float64) map[string]struct{} {
	champions := make(map[string]struct{})

	for _, row := range rowsAt(rows, decisionDate) {
		if row.Metric > p.scoreCut {
			champions[row.Symbol] = struct{}{}
		}
	}

	return champions
}

// rowsAt filters the window down to the rows of a single date, preserving
// order.
func rowsAt(rows []types.TickerRow, date time.Time) []types.TickerRow {
	var result []types.TickerRow

	for _, row := range rows {
		if row.Date.Equal(date) {
			result = append(result, row)
		}
	}

	return result
}
