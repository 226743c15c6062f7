package marketview

import (
	"database/sql"
	"fmt"
	"sort"
	"time"

	"github.com/Masterminds/squirrel"
	_ "github.com/marcboeker/go-duckdb"
	"github.com/moznion/go-optional"
	"go.uber.org/zap"

	"github.com/rxtech-lab/stock-replay/internal/logger"
	"github.com/rxtech-lab/stock-replay/internal/types"
	"github.com/rxtech-lab/stock-replay/pkg/errors"
)

// Columns maps the configured dataset column names onto the canonical
// (symbol, date, price, metric) row shape.
type Columns struct {
	Key      string `yaml:"key" json:"key"`
	Timestep string `yaml:"timestep" json:"timestep"`
	Price    string `yaml:"price" json:"price"`
	Metric   string `yaml:"metric" json:"metric"`
}

// DefaultColumns returns the conventional column names of the watching list.
func DefaultColumns() Columns {
	return Columns{
		Key:      "symbol",
		Timestep: "date",
		Price:    "close",
		Metric:   "score",
	}
}

// MarketView is read-only access to the input time series, keyed by
// (date, symbol). It is shared by the selection policies and the
// orchestrator; nothing mutates it after Initialize.
type MarketView struct {
	db      *sql.DB
	logger  *logger.Logger
	sq      squirrel.StatementBuilderType
	columns Columns
	// dates is the sorted, deduplicated sequence of available dates inside
	// the simulation window, cached at Initialize.
	dates []time.Time
}

func NewMarketView(columns Columns, logger *logger.Logger) (*MarketView, error) {
	db, err := sql.Open("duckdb", ":memory:")
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to open market view database", err)
	}

	return &MarketView{
		db:      db,
		logger:  logger,
		sq:      squirrel.StatementBuilder.PlaceholderFormat(squirrel.Question),
		columns: columns,
		dates:   nil,
	}, nil
}

// Initialize loads the watching list from the CSV file at path, maps the
// configured columns to the canonical row shape, and caches the available
// dates restricted to [begin, end]. Unset bounds fall back to the data's own
// min/max date.
func (v *MarketView) Initialize(path string, begin optional.Option[time.Time], end optional.Option[time.Time]) error {
	v.logger.Debug("Initializing market view",
		zap.String("path", path),
		zap.String("key", v.columns.Key),
		zap.String("timestep", v.columns.Timestep),
		zap.String("price", v.columns.Price),
		zap.String("metric", v.columns.Metric),
	)

	if _, err := v.db.Exec(`DROP TABLE IF EXISTS watchlist; DROP SEQUENCE IF EXISTS watchlist_row_seq;`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to drop existing watchlist", err)
	}

	if _, err := v.db.Exec(`CREATE SEQUENCE watchlist_row_seq`); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to create row sequence", err)
	}

	// rn pins the original file row order so that ranking ties stay stable.
	query := fmt.Sprintf(`
		CREATE TABLE watchlist AS
		SELECT
			nextval('watchlist_row_seq') AS rn,
			"%s" AS symbol,
			CAST("%s" AS TIMESTAMP) AS date,
			CAST("%s" AS DOUBLE) AS price,
			CAST("%s" AS DOUBLE) AS metric
		FROM read_csv_auto('%s')
	`, v.columns.Key, v.columns.Timestep, v.columns.Price, v.columns.Metric, path)

	if _, err := v.db.Exec(query); err != nil {
		return errors.Wrapf(errors.ErrCodeUnknownColumn, err,
			"failed to load watching list from %s with columns key=%s timestep=%s price=%s metric=%s",
			path, v.columns.Key, v.columns.Timestep, v.columns.Price, v.columns.Metric)
	}

	return v.loadAvailableDates(begin, end)
}

func (v *MarketView) loadAvailableDates(begin optional.Option[time.Time], end optional.Option[time.Time]) error {
	query := "SELECT DISTINCT date FROM watchlist"

	var conditions []string

	var params []interface{}

	if begin.IsSome() {
		conditions = append(conditions, "date >= ?")
		params = append(params, begin.Unwrap())
	}

	if end.IsSome() {
		conditions = append(conditions, "date <= ?")
		params = append(params, end.Unwrap())
	}

	for i, condition := range conditions {
		if i == 0 {
			query += " WHERE " + condition
		} else {
			query += " AND " + condition
		}
	}

	query += " ORDER BY date ASC"

	rows, err := v.db.Query(query, params...)
	if err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "failed to query available dates", err)
	}
	defer rows.Close()

	v.dates = nil

	for rows.Next() {
		var date time.Time
		if err := rows.Scan(&date); err != nil {
			return errors.Wrap(errors.ErrCodeUnparseableDate, "failed to scan date", err)
		}

		v.dates = append(v.dates, date)
	}

	if err := rows.Err(); err != nil {
		return errors.Wrap(errors.ErrCodeQueryFailed, "error iterating dates", err)
	}

	if len(v.dates) == 0 {
		return errors.New(errors.ErrCodeNoDataInWindow, "no available dates inside the simulation window")
	}

	return nil
}

// AvailableDates returns the sorted distinct dates inside the simulation
// window.
func (v *MarketView) AvailableDates() []time.Time {
	dates := make([]time.Time, len(v.dates))
	copy(dates, v.dates)

	return dates
}

// dateIndex returns the position of date in the available-dates sequence.
func (v *MarketView) dateIndex(date time.Time) (int, bool) {
	idx := sort.Search(len(v.dates), func(i int) bool {
		return !v.dates[i].Before(date)
	})

	if idx < len(v.dates) && v.dates[idx].Equal(date) {
		return idx, true
	}

	return 0, false
}

// NextDate returns the date immediately following date in the available-dates
// sequence, or None when date is the last one. Orders decided after close
// execute at the next date's price.
func (v *MarketView) NextDate(date time.Time) optional.Option[time.Time] {
	idx, found := v.dateIndex(date)
	if !found || idx+1 >= len(v.dates) {
		return optional.None[time.Time]()
	}

	return optional.Some(v.dates[idx+1])
}

// Snapshot returns all rows for the given date, in original file order.
func (v *MarketView) Snapshot(date time.Time) ([]types.TickerRow, error) {
	return v.queryRows("date = ?", date)
}

// Window returns the rows for the last lookbackDays+1 available dates up to
// and including date, ordered by date then original file order.
func (v *MarketView) Window(date time.Time, lookbackDays int) ([]types.TickerRow, error) {
	idx, found := v.dateIndex(date)
	if !found {
		return nil, errors.Newf(errors.ErrCodeDataNotFound, "date %s is not an available date", date.Format("2006-01-02"))
	}

	start := idx - lookbackDays
	if start < 0 {
		start = 0
	}

	return v.queryRows("date >= ? AND date <= ?", v.dates[start], date)
}

func (v *MarketView) queryRows(condition string, params ...interface{}) ([]types.TickerRow, error) {
	query := v.sq.
		Select("symbol", "date", "price", "metric").
		From("watchlist").
		Where(condition, params...).
		OrderBy("date ASC", "rn ASC").
		RunWith(v.db)

	rows, err := query.Query()
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to query watchlist", err)
	}
	defer rows.Close()

	var result []types.TickerRow

	for rows.Next() {
		var row types.TickerRow
		if err := rows.Scan(&row.Symbol, &row.Date, &row.Price, &row.Metric); err != nil {
			return nil, errors.Wrap(errors.ErrCodeQueryFailed, "failed to scan watchlist row", err)
		}

		result = append(result, row)
	}

	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeQueryFailed, "error iterating watchlist rows", err)
	}

	return result, nil
}

// PriceAt returns the price of symbol at date, or None when no row exists.
// The missing case is an explicit branch for the caller, not an error.
func (v *MarketView) PriceAt(date time.Time, symbol string) (optional.Option[float64], error) {
	query := v.sq.
		Select("price").
		From("watchlist").
		Where("date = ?", date).
		Where(squirrel.Eq{"symbol": symbol}).
		OrderBy("rn ASC").
		Limit(1).
		RunWith(v.db)

	var price float64

	err := query.QueryRow().Scan(&price)
	if err == sql.ErrNoRows {
		return optional.None[float64](), nil
	}

	if err != nil {
		return optional.None[float64](), errors.Wrap(errors.ErrCodeQueryFailed, "failed to query price", err)
	}

	return optional.Some(price), nil
}

// Count returns the number of watchlist rows inside the simulation window.
func (v *MarketView) Count() (int, error) {
	if len(v.dates) == 0 {
		return 0, nil
	}

	query := v.sq.
		Select("COUNT(*)").
		From("watchlist").
		Where("date >= ? AND date <= ?", v.dates[0], v.dates[len(v.dates)-1]).
		RunWith(v.db)

	var count int
	if err := query.QueryRow().Scan(&count); err != nil {
		return 0, errors.Wrap(errors.ErrCodeQueryFailed, "failed to count watchlist rows", err)
	}

	return count, nil
}

// Close releases the underlying database.
func (v *MarketView) Close() error {
	return v.db.Close()
}
