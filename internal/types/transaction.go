package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/rxtech-lab/stock-replay/pkg/errors"
)

// Direction is the funding-flow direction of a transaction: +1 when cash
// flows into stock (buy), -1 when it flows back to cash (sell).
type Direction int

const (
	DirectionBuy  Direction = 1
	DirectionSell Direction = -1
)

// Transaction is a single immutable entry in the ledger's append-only log.
// The ordered transaction sequence is the sole source of truth for every
// derived metric; records are never mutated or removed once appended.
type Transaction struct {
	ID        string    `yaml:"txn_id" json:"txn_id" csv:"txn_id"`
	Symbol    string    `yaml:"symbol" json:"symbol" csv:"symbol" validate:"required"`
	Date      time.Time `yaml:"date" json:"date" csv:"date" validate:"required"`
	Shares    float64   `yaml:"shares" json:"shares" csv:"shares" validate:"gt=0"`
	Price     float64   `yaml:"price" json:"price" csv:"price" validate:"gt=0"`
	Direction Direction `yaml:"direction" json:"direction" csv:"direction" validate:"required,oneof=1 -1"`
}

// Amount returns price * shares as a decimal.
func (t *Transaction) Amount() decimal.Decimal {
	return decimal.NewFromFloat(t.Price).Mul(decimal.NewFromFloat(t.Shares))
}

// SignedShares returns shares * direction.
func (t *Transaction) SignedShares() float64 {
	return t.Shares * float64(t.Direction)
}

// Validate validates the Transaction struct.
func (t *Transaction) Validate() error {
	validate := validator.New()
	if err := validate.Struct(t); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidTransaction, "invalid transaction", err)
	}

	return nil
}
