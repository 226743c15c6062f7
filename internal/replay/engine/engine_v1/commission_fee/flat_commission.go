package commission_fee

// FlatCommissionFee charges a fixed amount per transaction, independent of
// the share quantity.
type FlatCommissionFee struct {
	amount float64
}

func NewFlatCommissionFee(amount float64) CommissionFee {
	return &FlatCommissionFee{amount: amount}
}

func (c *FlatCommissionFee) Calculate(shares float64) float64 {
	if shares <= 0 {
		return 0.0
	}

	return c.amount
}
