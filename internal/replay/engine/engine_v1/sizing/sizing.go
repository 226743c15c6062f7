package sizing

import "math"

// Policy decides how many shares to buy for one new position given the
// available funding. A non-positive result means insufficient funds: the
// caller skips the buy, it never fails the run.
type Policy interface {
	// Name returns the policy name used in logs and results.
	Name() string
	// SharesToBuy returns the share quantity to buy at price, floored to a
	// tradable lot. funding is the currently available cash; candidateCount
	// is the number of symbols in this step's buy set.
	SharesToBuy(funding float64, candidateCount int, price float64) float64
}

// FloorToLot rounds a share quantity down to a multiple of lotSize.
func FloorToLot(shares float64, lotSize int) float64 {
	if lotSize <= 0 || shares <= 0 {
		return 0
	}

	lot := float64(lotSize)

	return math.Floor(shares/lot) * lot
}

// FixedAmount allocates a constant cash amount per new position, independent
// of funding and candidate count.
type FixedAmount struct {
	spareAmount float64
	lotSize     int
}

func NewFixedAmount(spareAmount float64, lotSize int) *FixedAmount {
	return &FixedAmount{
		spareAmount: spareAmount,
		lotSize:     lotSize,
	}
}

// Name implements Policy.
func (p *FixedAmount) Name() string {
	return "fixed_amount"
}

// SharesToBuy implements Policy.
func (p *FixedAmount) SharesToBuy(funding float64, candidateCount int, price float64) float64 {
	if price <= 0 {
		return 0
	}

	return FloorToLot(p.spareAmount/price, p.lotSize)
}

// Proportional allocates funding * maxPortion / candidateCount per position,
// so a single candidate never concentrates more than maxPortion of the total
// funding.
type Proportional struct {
	maxPortion float64
	lotSize    int
}

func NewProportional(maxPortion float64, lotSize int) *Proportional {
	return &Proportional{
		maxPortion: maxPortion,
		lotSize:    lotSize,
	}
}

// Name implements Policy.
func (p *Proportional) Name() string {
	return "proportional"
}

// SharesToBuy implements Policy.
func (p *Proportional) SharesToBuy(funding float64, candidateCount int, price float64) float64 {
	if price <= 0 || candidateCount <= 0 || funding <= 0 {
		return 0
	}

	allocation := funding * p.maxPortion / float64(candidateCount)

	return FloorToLot(allocation/price, p.lotSize)
}
