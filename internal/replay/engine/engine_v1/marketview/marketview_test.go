package marketview

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	"github.com/rxtech-lab/stock-replay/internal/logger"
	"github.com/rxtech-lab/stock-replay/pkg/errors"
)

// MarketViewTestSuite is a test suite for MarketView
type MarketViewTestSuite struct {
	suite.Suite
	logger  *logger.Logger
	view    *MarketView
	csvPath string
}

// SetupSuite runs once before all tests in the suite
func (suite *MarketViewTestSuite) SetupSuite() {
	log, err := logger.NewLogger()
	suite.Require().NoError(err)
	suite.logger = log

	suite.csvPath = filepath.Join(suite.T().TempDir(), "watchlist.csv")
	csv := `symbol,date,close,score
AAPL,2024-01-01,10.0,0.9
MSFT,2024-01-01,20.0,0.8
AAPL,2024-01-02,11.0,0.7
MSFT,2024-01-02,21.0,0.95
AAPL,2024-01-03,12.0,0.6
`
	suite.Require().NoError(os.WriteFile(suite.csvPath, []byte(csv), 0644))
}

// SetupTest runs before each test
func (suite *MarketViewTestSuite) SetupTest() {
	view, err := NewMarketView(DefaultColumns(), suite.logger)
	suite.Require().NoError(err)
	suite.view = view
}

// TearDownTest runs after each test
func (suite *MarketViewTestSuite) TearDownTest() {
	if suite.view != nil {
		suite.view.Close()
	}
}

// TestMarketViewSuite runs the test suite
func TestMarketViewSuite(t *testing.T) {
	suite.Run(t, new(MarketViewTestSuite))
}

func (suite *MarketViewTestSuite) initialize() {
	err := suite.view.Initialize(suite.csvPath, optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().NoError(err)
}

func day(d int) time.Time {
	return time.Date(2024, 1, d, 0, 0, 0, 0, time.UTC)
}

func (suite *MarketViewTestSuite) TestAvailableDates() {
	suite.initialize()

	dates := suite.view.AvailableDates()
	suite.Require().Len(dates, 3)
	suite.Assert().True(dates[0].Equal(day(1)))
	suite.Assert().True(dates[1].Equal(day(2)))
	suite.Assert().True(dates[2].Equal(day(3)))
}

func (suite *MarketViewTestSuite) TestWindowBounds() {
	err := suite.view.Initialize(suite.csvPath, optional.Some(day(2)), optional.None[time.Time]())
	suite.Require().NoError(err)

	dates := suite.view.AvailableDates()
	suite.Require().Len(dates, 2)
	suite.Assert().True(dates[0].Equal(day(2)))
}

func (suite *MarketViewTestSuite) TestEmptyWindow() {
	err := suite.view.Initialize(suite.csvPath, optional.Some(day(10)), optional.None[time.Time]())
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeNoDataInWindow))
}

func (suite *MarketViewTestSuite) TestUnknownColumn() {
	columns := DefaultColumns()
	columns.Metric = "no_such_column"

	view, err := NewMarketView(columns, suite.logger)
	suite.Require().NoError(err)

	defer view.Close()

	err = view.Initialize(suite.csvPath, optional.None[time.Time](), optional.None[time.Time]())
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeUnknownColumn))
}

func (suite *MarketViewTestSuite) TestSnapshotPreservesFileOrder() {
	suite.initialize()

	rows, err := suite.view.Snapshot(day(1))
	suite.Require().NoError(err)
	suite.Require().Len(rows, 2)
	suite.Assert().Equal("AAPL", rows[0].Symbol)
	suite.Assert().Equal("MSFT", rows[1].Symbol)
	suite.Assert().InDelta(10.0, rows[0].Price, 1e-9)
	suite.Assert().InDelta(0.9, rows[0].Metric, 1e-9)
}

func (suite *MarketViewTestSuite) TestNextDate() {
	suite.initialize()

	next := suite.view.NextDate(day(1))
	suite.Require().True(next.IsSome())
	suite.Assert().True(next.Unwrap().Equal(day(2)))

	// Last date has no following date.
	suite.Assert().True(suite.view.NextDate(day(3)).IsNone())
	// Unknown dates have no following date either.
	suite.Assert().True(suite.view.NextDate(day(10)).IsNone())
}

func (suite *MarketViewTestSuite) TestWindowLookback() {
	suite.initialize()

	rows, err := suite.view.Window(day(3), 1)
	suite.Require().NoError(err)
	// Days 2 and 3: two AAPL rows plus one MSFT row.
	suite.Require().Len(rows, 3)
	suite.Assert().True(rows[0].Date.Equal(day(2)))
	suite.Assert().True(rows[len(rows)-1].Date.Equal(day(3)))
}

func (suite *MarketViewTestSuite) TestWindowClampsAtBegin() {
	suite.initialize()

	rows, err := suite.view.Window(day(1), 5)
	suite.Require().NoError(err)
	suite.Require().Len(rows, 2)
}

func (suite *MarketViewTestSuite) TestPriceAt() {
	suite.initialize()

	price, err := suite.view.PriceAt(day(2), "MSFT")
	suite.Require().NoError(err)
	suite.Require().True(price.IsSome())
	suite.Assert().InDelta(21.0, price.Unwrap(), 1e-9)

	// MSFT has no row on day 3.
	price, err = suite.view.PriceAt(day(3), "MSFT")
	suite.Require().NoError(err)
	suite.Assert().True(price.IsNone())
}

func (suite *MarketViewTestSuite) TestCount() {
	suite.initialize()

	count, err := suite.view.Count()
	suite.Require().NoError(err)
	suite.Assert().Equal(5, count)
}
