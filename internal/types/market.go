package types

import "time"

// TickerRow is one row of the watching list: a symbol's price and ranking
// metric on a given date. Column names in the underlying dataset are mapped
// to this canonical shape by the market view, so downstream code never
// touches stringly-typed columns.
type TickerRow struct {
	Symbol string    `csv:"symbol"`
	Date   time.Time `csv:"date"`
	Price  float64   `csv:"price"`
	Metric float64   `csv:"metric"`
}
