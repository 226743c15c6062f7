package types

import (
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DateStat is the per-step snapshot appended by the orchestrator after each
// stepped date has been executed.
type DateStat struct {
	// Date is the decision date of the step.
	Date time.Time `yaml:"date" json:"date" csv:"date"`
	// NetAssetValue is cash funding plus mark-to-market holding value,
	// normalized by the initial funding. Starts at 1.0 before any trade.
	NetAssetValue float64 `yaml:"net_asset_value" json:"net_asset_value" csv:"net_asset_value"`
	// TransactionCount is the number of buy transactions recorded so far.
	TransactionCount int `yaml:"transaction_count" json:"transaction_count" csv:"transaction_count"`
	// Funding is the remaining cash funding after the step. Stays at the
	// sentinel value when funding is unconstrained.
	Funding float64 `yaml:"funding" json:"funding" csv:"funding"`
}

// Report is the structured output of a replay run, consumed by an external
// presentation or export layer.
type Report struct {
	// ID is the unique identifier for this replay run.
	ID string `yaml:"id" json:"id"`
	// Timestamp is when this replay run was executed.
	Timestamp time.Time `yaml:"timestamp" json:"timestamp"`
	// DataPath is the watching-list file used for this run.
	DataPath string `yaml:"data_path" json:"data_path"`
	// Begin and End are the effective simulation bounds.
	Begin time.Time `yaml:"begin" json:"begin"`
	End   time.Time `yaml:"end" json:"end"`

	InitialFunding       float64 `yaml:"initial_funding" json:"initial_funding"`
	CurrentFunding       float64 `yaml:"current_funding" json:"current_funding"`
	CurrentNetAssetValue float64 `yaml:"current_net_asset_value" json:"current_net_asset_value"`
	// NetAssetValueGain is CurrentNetAssetValue - 1.0.
	NetAssetValueGain float64 `yaml:"net_asset_value_gain" json:"net_asset_value_gain"`

	BuyAmount     float64 `yaml:"buy_amount" json:"buy_amount"`
	SellAmount    float64 `yaml:"sell_amount" json:"sell_amount"`
	HoldingAmount float64 `yaml:"holding_amount" json:"holding_amount"`
	// CurrentPositions maps symbol to held share count at the end of the run.
	// Empty after a completed run because of terminal liquidation.
	CurrentPositions map[string]float64 `yaml:"current_positions" json:"current_positions"`
	TradingGain      float64            `yaml:"trading_gain" json:"trading_gain"`
	CumulativeGain   float64            `yaml:"cumulative_gain" json:"cumulative_gain"`
	GainRatio        float64            `yaml:"gain_ratio" json:"gain_ratio"`
	TransactionCount int                `yaml:"transaction_count" json:"transaction_count"`

	// Stats is the ordered per-date stat sequence.
	Stats []DateStat `yaml:"stats" json:"stats"`
}

// WriteReport marshals the report to YAML and writes it to path.
func WriteReport(path string, report Report) error {
	data, err := yaml.Marshal(report)
	if err != nil {
		return fmt.Errorf("failed to marshal report to YAML: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write report to file: %w", err)
	}

	return nil
}

// WriteStatsCSV writes the per-date stat sequence to path as CSV.
func WriteStatsCSV(path string, stats []DateStat) error {
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create stats file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	if err := writer.Write([]string{"date", "net_asset_value", "transaction_count", "funding"}); err != nil {
		return fmt.Errorf("failed to write stats header: %w", err)
	}

	for _, stat := range stats {
		record := []string{
			stat.Date.Format("2006-01-02"),
			strconv.FormatFloat(stat.NetAssetValue, 'f', -1, 64),
			strconv.Itoa(stat.TransactionCount),
			strconv.FormatFloat(stat.Funding, 'f', -1, 64),
		}
		if err := writer.Write(record); err != nil {
			return fmt.Errorf("failed to write stats record: %w", err)
		}
	}

	return nil
}
