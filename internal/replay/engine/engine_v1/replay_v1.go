package engine

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v2"

	"github.com/rxtech-lab/stock-replay/internal/logger"
	"github.com/rxtech-lab/stock-replay/internal/replay/engine"
	"github.com/rxtech-lab/stock-replay/internal/replay/engine/engine_v1/commission_fee"
	"github.com/rxtech-lab/stock-replay/internal/replay/engine/engine_v1/ledger"
	"github.com/rxtech-lab/stock-replay/internal/replay/engine/engine_v1/marketview"
	"github.com/rxtech-lab/stock-replay/internal/replay/engine/engine_v1/selection"
	"github.com/rxtech-lab/stock-replay/internal/replay/engine/engine_v1/sizing"
	"github.com/rxtech-lab/stock-replay/internal/types"
	"github.com/rxtech-lab/stock-replay/pkg/errors"
)

// ReplayEngineV1 drives the date-by-date replay loop: snapshot, champion
// selection, sell/buy set computation, lagged execution against the ledger,
// per-date stats, and forced liquidation at the terminal date. The engine
// owns the ledger exclusively; policies and the market view are read-only
// collaborators.
type ReplayEngineV1 struct {
	config        ReplayEngineV1Config
	log           *logger.Logger
	dataPath      string
	resultsFolder string
	view          *marketview.MarketView
	ledger        *ledger.Ledger
	selection     selection.Policy
	sizing        sizing.Policy
	commission    commission_fee.CommissionFee
	funding       float64
	stats         []types.DateStat
	report        optional.Option[types.Report]
}

func NewReplayEngineV1() engine.Engine {
	return &ReplayEngineV1{
		config:        EmptyConfig(),
		log:           nil,
		dataPath:      "",
		resultsFolder: "",
		view:          nil,
		ledger:        nil,
		selection:     nil,
		sizing:        nil,
		commission:    nil,
		funding:       UnconstrainedFunding,
		stats:         nil,
		report:        optional.None[types.Report](),
	}
}

// Initialize implements engine.Engine.
func (e *ReplayEngineV1) Initialize(config string) error {
	if err := yaml.Unmarshal([]byte(config), &e.config); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse replay configuration", err)
	}

	if err := e.config.Validate(); err != nil {
		return err
	}

	level := zapcore.InfoLevel
	if e.config.Verbose {
		level = zapcore.DebugLevel
	}

	var loggerError error

	e.log, loggerError = logger.NewLoggerWithLevel(level)
	if loggerError != nil {
		return loggerError
	}

	e.log.Debug("Replay engine initialized",
		zap.String("selection", e.config.Selection.Type),
		zap.String("sizing", e.config.Sizing.Type),
	)

	return nil
}

// SetDataPath implements engine.Engine.
func (e *ReplayEngineV1) SetDataPath(path string) error {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return errors.Wrapf(errors.ErrCodeReplayNoDataPath, err, "failed to resolve data path %s", path)
	}

	e.dataPath = absPath

	return nil
}

// SetResultsFolder implements engine.Engine.
func (e *ReplayEngineV1) SetResultsFolder(folder string) error {
	e.resultsFolder = folder

	return nil
}

// GetConfigSchema implements engine.Engine.
func (e *ReplayEngineV1) GetConfigSchema() (string, error) {
	return e.config.GenerateSchemaJSON()
}

// GetReport implements engine.Engine.
func (e *ReplayEngineV1) GetReport() (types.Report, error) {
	if e.report.IsNone() {
		return types.Report{}, errors.New(errors.ErrCodeReplayNotInitialized, "no completed run to report")
	}

	return e.report.Unwrap(), nil
}

func (e *ReplayEngineV1) preRunCheck() error {
	if e.log == nil {
		return errors.New(errors.ErrCodeReplayNotInitialized, "engine is not initialized")
	}

	if e.dataPath == "" {
		e.log.Error("No data path set")

		return errors.New(errors.ErrCodeReplayNoDataPath, "no data path set")
	}

	return nil
}

func (e *ReplayEngineV1) buildSelectionPolicy() (selection.Policy, error) {
	switch e.config.Selection.Type {
	case SelectionTopK:
		return selection.NewTopK(e.config.Selection.TopK), nil
	case SelectionThreshold:
		return selection.NewThreshold(e.config.Selection.ScoreCut), nil
	case SelectionHysteresis:
		return selection.NewHysteresisBand(
			e.config.Selection.HighCut,
			e.config.Selection.LowCut,
			e.config.Selection.LookbackDays,
			e.config.Selection.ExcludePrefixes,
		), nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownSelectionPolicy, "unknown selection policy: %s", e.config.Selection.Type)
	}
}

func (e *ReplayEngineV1) buildSizingPolicy() (sizing.Policy, error) {
	switch e.config.Sizing.Type {
	case SizingFixedAmount:
		return sizing.NewFixedAmount(e.config.Sizing.SpareAmount, e.config.LotSize), nil
	case SizingProportional:
		return sizing.NewProportional(e.config.Sizing.MaxPortion, e.config.LotSize), nil
	default:
		return nil, errors.Newf(errors.ErrCodeUnknownSizingPolicy, "unknown sizing policy: %s", e.config.Sizing.Type)
	}
}

// stepDates subsamples the available dates by the holding period and always
// keeps the final date so the terminal liquidation runs.
func stepDates(dates []time.Time, holdDays int) []time.Time {
	var stepped []time.Time

	for i := 0; i < len(dates); i += holdDays {
		stepped = append(stepped, dates[i])
	}

	last := dates[len(dates)-1]
	if !stepped[len(stepped)-1].Equal(last) {
		stepped = append(stepped, last)
	}

	return stepped
}

// Run implements engine.Engine.
func (e *ReplayEngineV1) Run(ctx context.Context, onStep optional.Option[engine.OnStepCallback]) error {
	if err := e.preRunCheck(); err != nil {
		return err
	}

	view, err := marketview.NewMarketView(e.config.Columns, e.log)
	if err != nil {
		return err
	}
	defer view.Close()

	if err := view.Initialize(e.dataPath, e.config.Begin, e.config.End); err != nil {
		return err
	}

	e.view = view

	replayLedger, err := ledger.NewLedger(e.log)
	if err != nil {
		return err
	}
	defer replayLedger.Close()

	e.ledger = replayLedger

	if e.selection, err = e.buildSelectionPolicy(); err != nil {
		return err
	}

	if e.sizing, err = e.buildSizingPolicy(); err != nil {
		return err
	}

	e.commission = commission_fee.GetCommissionFeeHandler(e.config.Commission.Model, e.config.Commission.Amount)
	e.funding = e.config.Funding
	e.stats = nil
	e.report = optional.None[types.Report]()

	dates := e.view.AvailableDates()
	begin := dates[0]
	end := dates[len(dates)-1]
	stepped := stepDates(dates, e.config.HoldDays)

	e.log.Debug("Starting replay",
		zap.Time("begin", begin),
		zap.Time("end", end),
		zap.Int("available_dates", len(dates)),
		zap.Int("stepped_dates", len(stepped)),
	)

	for i, decisionDate := range stepped {
		if err := ctx.Err(); err != nil {
			return err
		}

		if decisionDate.Equal(end) {
			// Terminal date: clear the holdings instead of trading. There is
			// no following date inside the window, so the liquidation fills
			// at the terminal date's own price.
			if err := e.forceLiquidate(decisionDate); err != nil {
				return err
			}

			if err := e.recordStats(begin, decisionDate, decisionDate); err != nil {
				return err
			}

			if err := invokeStepCallback(onStep, i+1, len(stepped)); err != nil {
				return err
			}

			break
		}

		execDateOpt := e.view.NextDate(decisionDate)
		if execDateOpt.IsNone() {
			return errors.Newf(errors.ErrCodeNoExecutionDate,
				"no execution date available after decision date %s", decisionDate.Format("2006-01-02"))
		}

		execDate := execDateOpt.Unwrap()

		window, err := e.view.Window(decisionDate, e.selection.LookbackDays())
		if err != nil {
			return err
		}

		champions := e.selection.SelectChampions(window, decisionDate, e.ledger.Positions())

		if err := e.executeStep(decisionDate, execDate, champions); err != nil {
			return err
		}

		if err := e.recordStats(begin, decisionDate, execDate); err != nil {
			return err
		}

		if err := invokeStepCallback(onStep, i+1, len(stepped)); err != nil {
			return err
		}
	}

	report, err := e.buildReport(begin, end)
	if err != nil {
		return err
	}

	e.report = optional.Some(report)

	if e.resultsFolder != "" {
		if err := e.writeResults(report); err != nil {
			return err
		}
	}

	return nil
}

func invokeStepCallback(onStep optional.Option[engine.OnStepCallback], current int, total int) error {
	if onStep.IsNone() {
		return nil
	}

	return onStep.Unwrap()(current, total)
}

// executeStep executes one stepped date: holdings outside the champion set
// are sold, champions not yet held are bought, both at the execution date's
// price. Legs with no resolvable price are skipped; a sell of an unheld
// symbol is a state divergence and aborts the run.
func (e *ReplayEngineV1) executeStep(decisionDate time.Time, execDate time.Time, champions map[string]struct{}) error {
	positions := e.ledger.Positions()

	var sellSet []string

	for symbol := range positions {
		if _, keep := champions[symbol]; !keep {
			sellSet = append(sellSet, symbol)
		}
	}

	var buySet []string

	for symbol := range champions {
		if _, held := positions[symbol]; !held {
			buySet = append(buySet, symbol)
		}
	}

	// Legs across distinct symbols are independent; sorting keeps the
	// execution order deterministic.
	sort.Strings(sellSet)
	sort.Strings(buySet)

	net := decimal.Zero

	for _, symbol := range sellSet {
		priceOpt, err := e.view.PriceAt(execDate, symbol)
		if err != nil {
			return err
		}

		if priceOpt.IsNone() {
			e.log.Warn("No execution price for sell, skipping leg",
				zap.String("symbol", symbol),
				zap.Time("execution_date", execDate),
			)

			continue
		}

		price := priceOpt.Unwrap()
		shares := positions[symbol]

		if err := e.ledger.RecordSell(symbol, execDate, shares, price); err != nil {
			return err
		}

		fee := e.commission.Calculate(shares)
		proceeds := decimal.NewFromFloat(shares).Mul(decimal.NewFromFloat(price)).Sub(decimal.NewFromFloat(fee))
		net = net.Add(proceeds)

		e.log.Debug("sell",
			zap.Time("date", execDate),
			zap.String("symbol", symbol),
			zap.Float64("shares", shares),
			zap.Float64("price", price),
		)
	}

	for _, symbol := range buySet {
		priceOpt, err := e.view.PriceAt(execDate, symbol)
		if err != nil {
			return err
		}

		if priceOpt.IsNone() {
			e.log.Warn("No execution price for buy, skipping leg",
				zap.String("symbol", symbol),
				zap.Time("execution_date", execDate),
			)

			continue
		}

		price := priceOpt.Unwrap()
		available, _ := decimal.NewFromFloat(e.funding).Add(net).Float64()
		shares := e.sizing.SharesToBuy(available, len(buySet), price)

		if shares <= 0 {
			e.log.Debug("Insufficient funds, skipping buy",
				zap.String("symbol", symbol),
				zap.Float64("price", price),
			)

			continue
		}

		fee := e.commission.Calculate(shares)
		cost, _ := decimal.NewFromFloat(shares).Mul(decimal.NewFromFloat(price)).Add(decimal.NewFromFloat(fee)).Float64()

		if e.config.FundingConstrained() && cost > available {
			e.log.Debug("Insufficient funds, skipping buy",
				zap.String("symbol", symbol),
				zap.Float64("cost", cost),
				zap.Float64("available", available),
			)

			continue
		}

		if err := e.ledger.RecordBuy(symbol, execDate, shares, price); err != nil {
			return err
		}

		net = net.Sub(decimal.NewFromFloat(cost))

		e.log.Debug("buy",
			zap.Time("date", execDate),
			zap.String("symbol", symbol),
			zap.Float64("shares", shares),
			zap.Float64("price", price),
		)
	}

	if e.config.FundingConstrained() {
		e.funding, _ = decimal.NewFromFloat(e.funding).Add(net).Float64()
	}

	return nil
}

// forceLiquidate sells every remaining position at the terminal date's
// price, best-effort: symbols with no resolvable price are skipped with a
// warning and stay in the position map.
func (e *ReplayEngineV1) forceLiquidate(terminalDate time.Time) error {
	positions := e.ledger.Positions()

	symbols := make([]string, 0, len(positions))
	for symbol := range positions {
		symbols = append(symbols, symbol)
	}

	sort.Strings(symbols)

	net := decimal.Zero

	for _, symbol := range symbols {
		priceOpt, err := e.view.PriceAt(terminalDate, symbol)
		if err != nil {
			return err
		}

		if priceOpt.IsNone() {
			e.log.Warn("No price for terminal liquidation, position left open",
				zap.String("symbol", symbol),
				zap.Time("date", terminalDate),
			)

			continue
		}

		price := priceOpt.Unwrap()
		shares := positions[symbol]

		if err := e.ledger.RecordSell(symbol, terminalDate, shares, price); err != nil {
			return err
		}

		fee := e.commission.Calculate(shares)
		proceeds := decimal.NewFromFloat(shares).Mul(decimal.NewFromFloat(price)).Sub(decimal.NewFromFloat(fee))
		net = net.Add(proceeds)

		e.log.Debug("sell",
			zap.Time("date", terminalDate),
			zap.String("symbol", symbol),
			zap.Float64("shares", shares),
			zap.Float64("price", price),
		)
	}

	if e.config.FundingConstrained() {
		e.funding, _ = decimal.NewFromFloat(e.funding).Add(net).Float64()
	}

	if remaining := e.ledger.Positions(); len(remaining) > 0 {
		e.log.Warn("Positions remain open after terminal liquidation",
			zap.Int("count", len(remaining)),
		)
	}

	return nil
}

// netAssetValue returns cash funding plus the mark-to-market value of the
// current positions at the execution date's price, normalized by the initial
// funding. With unconstrained funding the series is derived from the
// ledger's gain ratio instead, so it still starts at 1.0.
func (e *ReplayEngineV1) netAssetValue(decisionDate time.Time, execDate time.Time) (float64, error) {
	if !e.config.FundingConstrained() {
		_, ratio, err := e.ledger.CumulativeGain(execDate)
		if err != nil {
			return 0, err
		}

		return 1 + ratio, nil
	}

	mark := decimal.Zero

	for symbol, shares := range e.ledger.Positions() {
		priceOpt, err := e.view.PriceAt(execDate, symbol)
		if err != nil {
			return 0, err
		}

		if priceOpt.IsNone() {
			// Fall back to the decision date's price before giving up on the
			// symbol's mark.
			priceOpt, err = e.view.PriceAt(decisionDate, symbol)
			if err != nil {
				return 0, err
			}
		}

		if priceOpt.IsNone() {
			e.log.Warn("No price to mark position, excluded from net asset value",
				zap.String("symbol", symbol),
				zap.Time("date", execDate),
			)

			continue
		}

		mark = mark.Add(decimal.NewFromFloat(shares).Mul(decimal.NewFromFloat(priceOpt.Unwrap())))
	}

	nav, _ := decimal.NewFromFloat(e.funding).Add(mark).Div(decimal.NewFromFloat(e.config.Funding)).Float64()

	return nav, nil
}

func (e *ReplayEngineV1) recordStats(begin time.Time, decisionDate time.Time, execDate time.Time) error {
	nav, err := e.netAssetValue(decisionDate, execDate)
	if err != nil {
		return err
	}

	txnCount, err := e.ledger.TransactionCount(begin, execDate)
	if err != nil {
		return err
	}

	e.stats = append(e.stats, types.DateStat{
		Date:             decisionDate,
		NetAssetValue:    nav,
		TransactionCount: txnCount,
		Funding:          e.funding,
	})

	tradingGain, err := e.ledger.TradingGain(begin, execDate)
	if err != nil {
		return err
	}

	e.log.Debug("step",
		zap.Time("date", decisionDate),
		zap.Float64("net_asset_value", nav),
		zap.Float64("trading_gain", tradingGain),
		zap.Int("transaction_count", txnCount),
	)

	return nil
}

func (e *ReplayEngineV1) buildReport(begin time.Time, end time.Time) (types.Report, error) {
	buyAmount, err := e.ledger.BuyAmount(begin, end)
	if err != nil {
		return types.Report{}, err
	}

	sellAmount, err := e.ledger.SellAmount(begin, end)
	if err != nil {
		return types.Report{}, err
	}

	holdingAmount, err := e.ledger.HoldingAmount(begin, end)
	if err != nil {
		return types.Report{}, err
	}

	tradingGain, err := e.ledger.TradingGain(begin, end)
	if err != nil {
		return types.Report{}, err
	}

	cumulativeGain, gainRatio, err := e.ledger.CumulativeGain(end)
	if err != nil {
		return types.Report{}, err
	}

	txnCount, err := e.ledger.TransactionCount(begin, end)
	if err != nil {
		return types.Report{}, err
	}

	currentNAV := 1.0
	if len(e.stats) > 0 {
		currentNAV = e.stats[len(e.stats)-1].NetAssetValue
	}

	return types.Report{
		ID:                   uuid.New().String(),
		Timestamp:            time.Now(),
		DataPath:             e.dataPath,
		Begin:                begin,
		End:                  end,
		InitialFunding:       e.config.Funding,
		CurrentFunding:       e.funding,
		CurrentNetAssetValue: currentNAV,
		NetAssetValueGain:    currentNAV - 1.0,
		BuyAmount:            buyAmount,
		SellAmount:           sellAmount,
		HoldingAmount:        holdingAmount,
		CurrentPositions:     e.ledger.Positions(),
		TradingGain:          tradingGain,
		CumulativeGain:       cumulativeGain,
		GainRatio:            gainRatio,
		TransactionCount:     txnCount,
		Stats:                e.stats,
	}, nil
}

func (e *ReplayEngineV1) writeResults(report types.Report) error {
	if err := os.MkdirAll(e.resultsFolder, 0755); err != nil {
		return errors.Wrap(errors.ErrCodeReplayNoResultsFolder, "failed to create results folder", err)
	}

	reportPath := filepath.Join(e.resultsFolder, "report.yaml")
	if err := types.WriteReport(reportPath, report); err != nil {
		return err
	}

	statsPath := filepath.Join(e.resultsFolder, "stats.csv")
	if err := types.WriteStatsCSV(statsPath, report.Stats); err != nil {
		return err
	}

	e.log.Info("Replay results written",
		zap.String("report", reportPath),
		zap.String("stats", statsPath),
	)

	return nil
}
