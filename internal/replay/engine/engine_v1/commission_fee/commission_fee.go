package commission_fee

// CommissionFee calculates the cost charged for a single transaction.
type CommissionFee interface {
	// Calculate returns the fee for a transaction of the given share quantity.
	Calculate(shares float64) float64
}

type Model string

const (
	ModelZero Model = "zero"
	ModelFlat Model = "flat"
)

var AllModels = []any{
	ModelZero,
	ModelFlat,
}

// GetCommissionFeeHandler returns the fee implementation for a model. The
// flat model charges amount per transaction regardless of size.
func GetCommissionFeeHandler(model Model, amount float64) CommissionFee {
	switch model {
	case ModelFlat:
		return NewFlatCommissionFee(amount)
	case ModelZero:
		return NewZeroCommissionFee()
	default:
		return NewZeroCommissionFee()
	}
}
