package engine

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/stretchr/testify/suite"

	replayengine "github.com/rxtech-lab/stock-replay/internal/replay/engine"
	"github.com/rxtech-lab/stock-replay/pkg/errors"
)

// ReplayEngineV1TestSuite is a test suite for ReplayEngineV1
type ReplayEngineV1TestSuite struct {
	suite.Suite
	csvPath string
}

// SetupSuite runs once before all tests in the suite
func (suite *ReplayEngineV1TestSuite) SetupSuite() {
	// Two symbols at a constant price of 10 until the final date. A leads the
	// score on days 1 and 2, B takes over on day 3.
	suite.csvPath = filepath.Join(suite.T().TempDir(), "watchlist.csv")
	csv := `symbol,date,close,score
A,2024-01-01,10,0.9
B,2024-01-01,10,0.1
A,2024-01-02,10,0.9
B,2024-01-02,10,0.1
A,2024-01-03,10,0.1
B,2024-01-03,10,0.9
A,2024-01-04,12,0.5
B,2024-01-04,20,0.5
`
	suite.Require().NoError(os.WriteFile(suite.csvPath, []byte(csv), 0644))
}

// TestReplayEngineV1Suite runs the test suite
func TestReplayEngineV1Suite(t *testing.T) {
	suite.Run(t, new(ReplayEngineV1TestSuite))
}

const constrainedConfig = `
selection:
  type: topk
  topk: 1
sizing:
  type: fixed_amount
  spare_amount: 10000
funding: 100000
lot_size: 100
`

func (suite *ReplayEngineV1TestSuite) newEngine(config string) replayengine.Engine {
	return suite.newEngineWithData(config, suite.csvPath)
}

func (suite *ReplayEngineV1TestSuite) newEngineWithData(config string, dataPath string) replayengine.Engine {
	replayer := NewReplayEngineV1()
	suite.Require().NoError(replayer.Initialize(config))
	suite.Require().NoError(replayer.SetDataPath(dataPath))

	return replayer
}

func (suite *ReplayEngineV1TestSuite) writeCSV(content string) string {
	path := filepath.Join(suite.T().TempDir(), "watchlist.csv")
	suite.Require().NoError(os.WriteFile(path, []byte(content), 0644))

	return path
}

func (suite *ReplayEngineV1TestSuite) TestConstrainedRun() {
	replayer := suite.newEngine(constrainedConfig)
	suite.Require().NoError(replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]()))

	report, err := replayer.GetReport()
	suite.Require().NoError(err)

	suite.Assert().True(report.Begin.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	suite.Assert().True(report.End.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)))

	// Day 1 decides A, filled on day 2: 1000 shares at 10. Day 3 decides the
	// switch to B, filled on day 4: sell A at 12, buy 500 shares of B at 20.
	// Terminal liquidation sells B at 20.
	suite.Assert().InDelta(20000.0, report.BuyAmount, 1e-6)
	suite.Assert().InDelta(22000.0, report.SellAmount, 1e-6)
	suite.Assert().InDelta(2000.0, report.TradingGain, 1e-6)
	suite.Assert().InDelta(0.0, report.HoldingAmount, 1e-6)
	suite.Assert().InDelta(2000.0, report.CumulativeGain, 1e-6)
	suite.Assert().InDelta(0.1, report.GainRatio, 1e-6)
	suite.Assert().Equal(2, report.TransactionCount)

	// Terminal liquidation leaves no open position and all cash back.
	suite.Assert().Empty(report.CurrentPositions)
	suite.Assert().InDelta(102000.0, report.CurrentFunding, 1e-6)
	suite.Assert().InDelta(1.02, report.CurrentNetAssetValue, 1e-6)
	suite.Assert().InDelta(0.02, report.NetAssetValueGain, 1e-6)

	// One stat per stepped date; the first one is recorded after a fill at an
	// unchanged price, so the net asset value starts at exactly 1.0.
	suite.Require().Len(report.Stats, 4)
	suite.Assert().InDelta(1.0, report.Stats[0].NetAssetValue, 1e-6)
	suite.Assert().InDelta(1.0, report.Stats[1].NetAssetValue, 1e-6)
	suite.Assert().Equal(1, report.Stats[0].TransactionCount)
	suite.Assert().Equal(2, report.Stats[3].TransactionCount)
}

func (suite *ReplayEngineV1TestSuite) TestUnconstrainedRun() {
	config := `
selection:
  type: topk
  topk: 1
sizing:
  type: fixed_amount
  spare_amount: 10000
lot_size: 100
`
	replayer := suite.newEngine(config)
	suite.Require().NoError(replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]()))

	report, err := replayer.GetReport()
	suite.Require().NoError(err)

	// Same trades as the constrained run; the net asset value series is
	// derived from the cumulative gain ratio instead of a cash balance.
	suite.Assert().InDelta(2000.0, report.CumulativeGain, 1e-6)
	suite.Require().Len(report.Stats, 4)
	suite.Assert().InDelta(1.0, report.Stats[0].NetAssetValue, 1e-6)
	suite.Assert().InDelta(1.1, report.Stats[3].NetAssetValue, 1e-6)
	suite.Assert().InDelta(1.1, report.CurrentNetAssetValue, 1e-6)
}

func (suite *ReplayEngineV1TestSuite) TestMissingExecutionPriceSkipsLeg() {
	// B wins the ranking on day 1 but has no row on day 2, the fill date, so
	// the buy leg is skipped and the run carries on. A wins on day 2 and is
	// bought on day 3 instead.
	csvPath := suite.writeCSV(`symbol,date,close,score
A,2024-01-01,10,0.5
B,2024-01-01,10,0.9
A,2024-01-02,10,0.9
A,2024-01-03,12,0.9
B,2024-01-03,10,0.1
`)

	replayer := suite.newEngineWithData(constrainedConfig, csvPath)
	suite.Require().NoError(replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]()))

	report, err := replayer.GetReport()
	suite.Require().NoError(err)

	// Only the A buy at 12 was recorded: 800 shares for 9600, liquidated at
	// the same price on the terminal date.
	suite.Assert().Equal(1, report.TransactionCount)
	suite.Assert().InDelta(9600.0, report.BuyAmount, 1e-6)
	suite.Assert().InDelta(9600.0, report.SellAmount, 1e-6)
	suite.Assert().Empty(report.CurrentPositions)
	suite.Assert().InDelta(100000.0, report.CurrentFunding, 1e-6)
}

func (suite *ReplayEngineV1TestSuite) TestInsufficientFundsSkipsBuy() {
	tests := []struct {
		name            string
		config          string
		expectedFunding float64
	}{
		{
			// Allocation below one lot at any price sizes to zero shares.
			name: "allocation below one lot",
			config: `
selection:
  type: topk
  topk: 1
sizing:
  type: fixed_amount
  spare_amount: 500
funding: 100000
lot_size: 100
`,
			expectedFunding: 100000,
		},
		{
			// Sized cost exceeds the remaining cash.
			name: "cost above available cash",
			config: `
selection:
  type: topk
  topk: 1
sizing:
  type: fixed_amount
  spare_amount: 10000
funding: 5000
lot_size: 100
`,
			expectedFunding: 5000,
		},
	}

	for _, tc := range tests {
		suite.Run(tc.name, func() {
			replayer := suite.newEngine(tc.config)
			suite.Require().NoError(replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]()))

			report, err := replayer.GetReport()
			suite.Require().NoError(err)

			// Every buy was skipped; the run still completes cleanly.
			suite.Assert().Equal(0, report.TransactionCount)
			suite.Assert().Zero(report.BuyAmount)
			suite.Assert().Zero(report.SellAmount)
			suite.Assert().Empty(report.CurrentPositions)
			suite.Assert().InDelta(tc.expectedFunding, report.CurrentFunding, 1e-6)
		})
	}
}

func (suite *ReplayEngineV1TestSuite) TestTerminalLiquidationSkipsUnpricedSymbol() {
	// A disappears from the list on the terminal date, so the forced
	// liquidation cannot price it: the position stays open and the run still
	// completes.
	csvPath := suite.writeCSV(`symbol,date,close,score
A,2024-01-01,10,0.9
A,2024-01-02,10,0.9
B,2024-01-03,10,0.9
`)

	replayer := suite.newEngineWithData(constrainedConfig, csvPath)
	suite.Require().NoError(replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]()))

	report, err := replayer.GetReport()
	suite.Require().NoError(err)

	suite.Assert().Equal(1, report.TransactionCount)
	suite.Require().Contains(report.CurrentPositions, "A")
	suite.Assert().InDelta(1000.0, report.CurrentPositions["A"], 1e-9)
	suite.Assert().InDelta(90000.0, report.CurrentFunding, 1e-6)
	// Residual book value at the last transaction price.
	suite.Assert().InDelta(10000.0, report.HoldingAmount, 1e-6)
}

func (suite *ReplayEngineV1TestSuite) TestStepCallback() {
	replayer := suite.newEngine(constrainedConfig)

	var calls []int

	total := 0
	onStep := optional.Some[replayengine.OnStepCallback](func(current int, t int) error {
		calls = append(calls, current)
		total = t

		return nil
	})

	suite.Require().NoError(replayer.Run(context.Background(), onStep))
	suite.Assert().Equal([]int{1, 2, 3, 4}, calls)
	suite.Assert().Equal(4, total)
}

func (suite *ReplayEngineV1TestSuite) TestHoldDaysStepping() {
	config := `
selection:
  type: topk
  topk: 1
sizing:
  type: fixed_amount
  spare_amount: 10000
funding: 100000
hold_days: 2
`
	replayer := suite.newEngine(config)
	suite.Require().NoError(replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]()))

	report, err := replayer.GetReport()
	suite.Require().NoError(err)

	// Days 1 and 3 by stride, day 4 kept as the terminal date.
	suite.Require().Len(report.Stats, 3)
	suite.Assert().True(report.Stats[0].Date.Equal(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)))
	suite.Assert().True(report.Stats[1].Date.Equal(time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC)))
	suite.Assert().True(report.Stats[2].Date.Equal(time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC)))
	suite.Assert().Empty(report.CurrentPositions)
}

func (suite *ReplayEngineV1TestSuite) TestWritesResults() {
	resultsFolder := filepath.Join(suite.T().TempDir(), "results")

	replayer := suite.newEngine(constrainedConfig)
	suite.Require().NoError(replayer.SetResultsFolder(resultsFolder))
	suite.Require().NoError(replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]()))

	report, err := os.ReadFile(filepath.Join(resultsFolder, "report.yaml"))
	suite.Require().NoError(err)
	suite.Assert().Contains(string(report), "trading_gain")

	stats, err := os.ReadFile(filepath.Join(resultsFolder, "stats.csv"))
	suite.Require().NoError(err)
	suite.Assert().Contains(string(stats), "2024-01-01")
}

func (suite *ReplayEngineV1TestSuite) TestRunWithoutDataPath() {
	replayer := NewReplayEngineV1()
	suite.Require().NoError(replayer.Initialize(constrainedConfig))

	err := replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]())
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeReplayNoDataPath))
}

func (suite *ReplayEngineV1TestSuite) TestRunUninitialized() {
	replayer := NewReplayEngineV1()

	err := replayer.Run(context.Background(), optional.None[replayengine.OnStepCallback]())
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeReplayNotInitialized))
}

func (suite *ReplayEngineV1TestSuite) TestReportBeforeRun() {
	replayer := NewReplayEngineV1()
	suite.Require().NoError(replayer.Initialize(constrainedConfig))

	_, err := replayer.GetReport()
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeReplayNotInitialized))
}

func (suite *ReplayEngineV1TestSuite) TestCancelledContext() {
	replayer := suite.newEngine(constrainedConfig)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := replayer.Run(ctx, optional.None[replayengine.OnStepCallback]())
	suite.Require().ErrorIs(err, context.Canceled)
}

func (suite *ReplayEngineV1TestSuite) TestInvalidConfig() {
	replayer := NewReplayEngineV1()

	err := replayer.Initialize(`
selection:
  type: magic
sizing:
  type: fixed_amount
  spare_amount: 10000
`)
	suite.Require().Error(err)
	suite.Assert().True(errors.HasCode(err, errors.ErrCodeInvalidConfiguration))
}

func TestStepDates(t *testing.T) {
	dates := []time.Time{
		time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 3, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 4, 0, 0, 0, 0, time.UTC),
		time.Date(2024, 1, 5, 0, 0, 0, 0, time.UTC),
	}

	tests := []struct {
		name     string
		holdDays int
		expected []int
	}{
		{name: "daily", holdDays: 1, expected: []int{1, 2, 3, 4, 5}},
		{name: "stride two keeps terminal", holdDays: 2, expected: []int{1, 3, 5}},
		{name: "stride three appends terminal", holdDays: 3, expected: []int{1, 4, 5}},
		{name: "stride beyond range", holdDays: 10, expected: []int{1, 5}},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			stepped := stepDates(dates, tc.holdDays)
			if len(stepped) != len(tc.expected) {
				t.Fatalf("expected %d stepped dates, got %d", len(tc.expected), len(stepped))
			}

			for i, day := range tc.expected {
				want := time.Date(2024, 1, day, 0, 0, 0, 0, time.UTC)
				if !stepped[i].Equal(want) {
					t.Fatalf("stepped[%d] = %s, want %s", i, stepped[i], want)
				}
			}
		})
	}
}
