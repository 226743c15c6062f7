package ledger

import (
	"database/sql"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stock-replay/internal/logger"
	"github.com/rxtech-lab/stock-replay/internal/types"
	"github.com/rxtech-lab/stock-replay/pkg/errors"
)

// gainRatioEpsilon guards the gain-ratio denominator against division by zero.
const gainRatioEpsilon = 1e-9

// Ledger keeps the trading history and answers funding-flow and gain/loss
// queries over it. Imagining a cash account next to a stock account, the
// ledger simulates the stock account: direction is +1 when funding flows from
// cash to stock and -1 when it flows back. Gain is on a cash basis; holding
// value is book value only, marked at the last transaction price.
//
// Transactions live in an in-memory DuckDB table, appended only. The current
// position map is maintained incrementally on every record call and is always
// exactly recomputable by aggregating shares*direction per symbol over the
// full log (see RecomputePositions).
type Ledger struct {
	db        *sql.DB
	logger    *logger.Logger
	sq        squirrel.StatementBuilderType
	positions map[string]float64
	seq       int64
}

func NewLedger(logger *logger.Logger) (*Ledger, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to open ledger database", err)
	}

	l := &Ledger{
		db:        db,
		logger:    logger,
		sq:        squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		positions: make(map[string]float64),
		seq:       0,
	}

	if err := l.Initialize(); err != nil {
		return nil, err
	}

	return l, nil
}

// Initialize creates the transaction table.
func (l *Ledger) Initialize() error {
	_, err := l.db.Exec(`
		CREATE TABLE IF NOT EXISTS transactions (
			txn_id TEXT PRIMARY KEY,
			seq BIGINT,
			symbol TEXT,
			date TIMESTAMP,
			shares DOUBLE,
			price DOUBLE,
			direction INTEGER
		)
	`)
	if err != nil {
		return errors.Wrap(errors.ErrCodeLedgerInsert, "failed to create transactions table", err)
	}

	return nil
}

// RecordBuy appends a buy transaction and increments the position.
// Zero-share orders are skipped entirely: nothing is appended and the
// position is unchanged. Negative shares are a caller bug.
func (l *Ledger) RecordBuy(symbol string, date time.Time, shares float64, price float64) error {
	if shares < 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "buy shares must be non-negative, got %f", shares)
	}

	if shares == 0 {
		l.logger.Debug("Skipping zero-share buy",
			zap.String("symbol", symbol),
			zap.Time("date", date),
		)

		return nil
	}

	if err := l.append(symbol, date, shares, price, types.DirectionBuy); err != nil {
		return err
	}

	l.positions[symbol] += shares

	return nil
}

// RecordSell appends a sell transaction and decrements the position. Selling
// a symbol absent from the current positions is an orchestration bug, not a
// recoverable condition, and fails with ErrCodeSymbolNotHeld.
func (l *Ledger) RecordSell(symbol string, date time.Time, shares float64, price float64) error {
	if shares < 0 {
		return errors.Newf(errors.ErrCodeInvalidParameter, "sell shares must be non-negative, got %f", shares)
	}

	if _, held := l.positions[symbol]; !held {
		return errors.Newf(errors.ErrCodeSymbolNotHeld, "%s not in current holding", symbol)
	}

	if shares == 0 {
		l.logger.Debug("Skipping zero-share sell",
			zap.String("symbol", symbol),
			zap.Time("date", date),
		)

		return nil
	}

	if err := l.append(symbol, date, shares, price, types.DirectionSell); err != nil {
		return err
	}

	l.positions[symbol] -= shares
	if l.positions[symbol] <= 0 {
		delete(l.positions, symbol)
	}

	return nil
}

func (l *Ledger) append(symbol string, date time.Time, shares float64, price float64, direction types.Direction) error {
	txn := types.Transaction{
		ID:        uuid.New().String(),
		Symbol:    symbol,
		Date:      date,
		Shares:    shares,
		Price:     price,
		Direction: direction,
	}

	if err := txn.Validate(); err != nil {
		return err
	}

	l.seq++

	insertQuery := l.sq.
		Insert("transactions").
		Columns("txn_id", "seq", "symbol", "date", "shares", "price", "direction").
		Values(txn.ID, l.seq, txn.Symbol, txn.Date, txn.Shares, txn.Price, int(txn.Direction)).
		RunWith(l.db)

	if _, err := insertQuery.Exec(); err != nil {
		return errors.Wrap(errors.ErrCodeLedgerInsert, "failed to append transaction", err)
	}

	return nil
}

// TransactionCount returns the number of buy transactions whose date falls in
// [begin, end] inclusive. Sells are not counted.
func (l *Ledger) TransactionCount(begin time.Time, end time.Time) (int, error) {
	query := l.sq.
		Select("COUNT(*)").
		From("transactions").
		Where("date >= ? AND date <= ?", begin, end).
		Where(squirrel.Eq{"direction": int(types.DirectionBuy)}).
		RunWith(l.db)

	var count int
	if err := query.QueryRow().Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count transactions", err)
	}

	return count, nil
}

func (l *Ledger) amount(begin time.Time, end time.Time, direction types.Direction) (float64, error) {
	query := l.sq.
		Select("COALESCE(SUM(price * shares), 0)").
		From("transactions").
		Where("date >= ? AND date <= ?", begin, end).
		Where(squirrel.Eq{"direction": int(direction)}).
		RunWith(l.db)

	var amount float64
	if err := query.QueryRow().Scan(&amount); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to sum transaction amount", err)
	}

	return amount, nil
}

// BuyAmount returns the invested money between begin and end.
func (l *Ledger) BuyAmount(begin time.Time, end time.Time) (float64, error) {
	return l.amount(begin, end, types.DirectionBuy)
}

// SellAmount returns the returned money between begin and end.
func (l *Ledger) SellAmount(begin time.Time, end time.Time) (float64, error) {
	return l.amount(begin, end, types.DirectionSell)
}

// TradingGain returns sell amount minus buy amount over the window. Realized
// flow only; holding value is excluded.
func (l *Ledger) TradingGain(begin time.Time, end time.Time) (float64, error) {
	buy, err := l.BuyAmount(begin, end)
	if err != nil {
		return 0, err
	}

	sell, err := l.SellAmount(begin, end)
	if err != nil {
		return 0, err
	}

	gain, _ := decimal.NewFromFloat(sell).Sub(decimal.NewFromFloat(buy)).Float64()

	return gain, nil
}

// HoldingAmount returns the book value of the residual position over the
// window: per symbol, the net shares multiplied by that symbol's last
// transaction price observed in the window. This is deliberately not a live
// market mark; it equals the vested value of the holding at end.
func (l *Ledger) HoldingAmount(begin time.Time, end time.Time) (float64, error) {
	// arg_max(price, seq) picks the price of the latest appended transaction
	// per symbol inside the window.
	query := `
		SELECT COALESCE(SUM(net_shares * last_price), 0)
		FROM (
			SELECT
				symbol,
				SUM(shares * direction) AS net_shares,
				arg_max(price, seq) AS last_price
			FROM transactions
			WHERE date >= ? AND date <= ?
			GROUP BY symbol
		)
	`

	var amount float64
	if err := l.db.QueryRow(query, begin, end).Scan(&amount); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to compute holding amount", err)
	}

	return amount, nil
}

// FirstDate returns the date of the earliest transaction ever recorded, or
// None when the log is empty.
func (l *Ledger) FirstDate() (optional.Option[time.Time], error) {
	query := l.sq.
		Select("MIN(date)").
		From("transactions").
		RunWith(l.db)

	var first sql.NullTime
	if err := query.QueryRow().Scan(&first); err != nil {
		return optional.None[time.Time](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query first transaction date", err)
	}

	if !first.Valid {
		return optional.None[time.Time](), nil
	}

	return optional.Some(first.Time), nil
}

// CumulativeGain returns the gain since the first recorded transaction up to
// end, together with the gain ratio. The gain counts realized flow plus the
// residual holding's book value; the ratio divides by buy amount plus holding
// amount, guarded against a zero denominator.
func (l *Ledger) CumulativeGain(end time.Time) (gain float64, ratio float64, err error) {
	first, err := l.FirstDate()
	if err != nil {
		return 0, 0, err
	}

	if first.IsNone() {
		return 0, 0, nil
	}

	begin := first.Unwrap()

	buy, err := l.BuyAmount(begin, end)
	if err != nil {
		return 0, 0, err
	}

	sell, err := l.SellAmount(begin, end)
	if err != nil {
		return 0, 0, err
	}

	hold, err := l.HoldingAmount(begin, end)
	if err != nil {
		return 0, 0, err
	}

	gainDec := decimal.NewFromFloat(sell).Sub(decimal.NewFromFloat(buy)).Add(decimal.NewFromFloat(hold))
	gain, _ = gainDec.Float64()

	denominator := buy + hold
	if denominator < gainRatioEpsilon && denominator > -gainRatioEpsilon {
		denominator = gainRatioEpsilon
	}

	ratio, _ = gainDec.Div(decimal.NewFromFloat(denominator)).Float64()

	return gain, ratio, nil
}

// Positions returns a copy of the current position map. Symbols whose share
// count reached zero are absent, never kept as explicit zero entries.
func (l *Ledger) Positions() map[string]float64 {
	positions := make(map[string]float64, len(l.positions))
	for symbol, shares := range l.positions {
		positions[symbol] = shares
	}

	return positions
}

// HeldShares returns the current share count for a symbol, or None when the
// symbol is not held.
func (l *Ledger) HeldShares(symbol string) optional.Option[float64] {
	shares, held := l.positions[symbol]
	if !held {
		return optional.None[float64]()
	}

	return optional.Some(shares)
}

// RecomputePositions rebuilds the position map from the full transaction log.
// It must always agree with the incrementally maintained map.
func (l *Ledger) RecomputePositions() (map[string]float64, error) {
	query := `
		SELECT symbol, SUM(shares * direction) AS net_shares
		FROM transactions
		GROUP BY symbol
		HAVING SUM(shares * direction) > 0
	`

	rows, err := l.db.Query(query)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to recompute positions", err)
	}
	defer rows.Close()

	positions := make(map[string]float64)

	for rows.Next() {
		var symbol string

		var shares float64

		if err := rows.Scan(&symbol, &shares); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan position", err)
		}

		positions[symbol] = shares
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating positions", err)
	}

	return positions, nil
}

// Transactions returns the full ordered transaction log.
func (l *Ledger) Transactions() ([]types.Transaction, error) {
	query := l.sq.
		Select("txn_id", "symbol", "date", "shares", "price", "direction").
		From("transactions").
		OrderBy("seq ASC").
		RunWith(l.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query transactions", err)
	}
	defer rows.Close()

	var transactions []types.Transaction

	for rows.Next() {
		var txn types.Transaction

		var direction int

		if err := rows.Scan(&txn.ID, &txn.Symbol, &txn.Date, &txn.Shares, &txn.Price, &direction); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan transaction", err)
		}

		txn.Direction = types.Direction(direction)
		transactions = append(transactions, txn)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating transactions", err)
	}

	return transactions, nil
}

// Cleanup resets the ledger to an empty state.
func (l *Ledger) Cleanup() error {
	if _, err := l.db.Exec(`DROP TABLE IF EXISTS transactions`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to drop transactions table", err)
	}

	l.positions = make(map[string]float64)
	l.seq = 0

	return l.Initialize()
}

// Close releases the underlying database.
func (l *Ledger) Close() error {
	return l.db.Close()
}
