package engine

import (
	"encoding/json"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/invopop/jsonschema"
	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/stock-replay/internal/replay/engine/engine_v1/commission_fee"
	"github.com/rxtech-lab/stock-replay/internal/replay/engine/engine_v1/marketview"
	"github.com/rxtech-lab/stock-replay/pkg/errors"
)

const (
	SelectionTopK       = "topk"
	SelectionThreshold  = "threshold"
	SelectionHysteresis = "hysteresis"

	SizingFixedAmount  = "fixed_amount"
	SizingProportional = "proportional"

	// UnconstrainedFunding is the sentinel meaning funding is not tracked.
	UnconstrainedFunding float64 = -1

	defaultHoldDays = 1
	defaultLotSize  = 100
)

type SelectionConfig struct {
	Type string `yaml:"type" json:"type" jsonschema:"title=Selection Policy,description=Champion selection policy" validate:"required,oneof=topk threshold hysteresis"`
	// TopK is the number of symbols targeted by the topk policy.
	TopK int `yaml:"topk" json:"topk" jsonschema:"title=Top K,minimum=0"`
	// ScoreCut is the fixed cutoff of the threshold policy.
	ScoreCut float64 `yaml:"score_cut" json:"score_cut" jsonschema:"title=Score Cut"`
	// HighCut / LowCut are the asymmetric entry/exit thresholds of the
	// hysteresis policy; LookbackDays is its entry lookback in available dates.
	HighCut      float64 `yaml:"high_cut" json:"high_cut" jsonschema:"title=High Cut"`
	LowCut       float64 `yaml:"low_cut" json:"low_cut" jsonschema:"title=Low Cut"`
	LookbackDays int     `yaml:"lookback_days" json:"lookback_days" jsonschema:"title=Lookback Days,minimum=0" validate:"gte=0"`
	// ExcludePrefixes lists symbol prefixes that are never eligible for entry.
	ExcludePrefixes []string `yaml:"exclude_prefixes" json:"exclude_prefixes" jsonschema:"title=Excluded Symbol Prefixes"`
}

type SizingConfig struct {
	Type string `yaml:"type" json:"type" jsonschema:"title=Sizing Policy,description=Position sizing policy" validate:"required,oneof=fixed_amount proportional"`
	// SpareAmount is the constant cash allocation of the fixed_amount policy.
	SpareAmount float64 `yaml:"spare_amount" json:"spare_amount" jsonschema:"title=Spare Amount,minimum=0"`
	// MaxPortion caps the funding share a single position may take under the
	// proportional policy.
	MaxPortion float64 `yaml:"max_portion" json:"max_portion" jsonschema:"title=Max Portion,minimum=0,maximum=1"`
}

type CommissionConfig struct {
	Model commission_fee.Model `yaml:"model" json:"model" jsonschema:"title=Commission Model"`
	// Amount is the flat per-transaction cost of the flat model.
	Amount float64 `yaml:"amount" json:"amount" jsonschema:"title=Flat Fee Amount,minimum=0" validate:"gte=0"`
}

type ReplayEngineV1Config struct {
	// Begin and End bound the simulation window. Unset bounds fall back to
	// the data's own min/max date.
	Begin optional.Option[time.Time] `yaml:"begin" json:"begin" jsonschema:"title=Begin Date"`
	End   optional.Option[time.Time] `yaml:"end" json:"end" jsonschema:"title=End Date"`

	Columns   marketview.Columns `yaml:"columns" json:"columns" jsonschema:"title=Column Names"`
	Selection SelectionConfig    `yaml:"selection" json:"selection" jsonschema:"title=Selection Policy"`
	Sizing    SizingConfig       `yaml:"sizing" json:"sizing" jsonschema:"title=Sizing Policy"`

	// HoldDays is the stepping stride over the available dates.
	HoldDays int `yaml:"hold_days" json:"hold_days" jsonschema:"title=Hold Days,minimum=1" validate:"gte=1"`
	// Funding is the initial cash funding; -1 means unconstrained.
	Funding float64 `yaml:"funding" json:"funding" jsonschema:"title=Initial Funding"`
	// LotSize is the minimum tradable share increment.
	LotSize    int              `yaml:"lot_size" json:"lot_size" jsonschema:"title=Lot Size,minimum=1" validate:"gte=1"`
	Commission CommissionConfig `yaml:"commission" json:"commission" jsonschema:"title=Commission"`
	// Verbose emits per-action trade trace lines.
	Verbose bool `yaml:"verbose" json:"verbose" jsonschema:"title=Verbose"`
}

// UnmarshalYAML implements custom unmarshaling for ReplayEngineV1Config,
// mapping nullable dates onto optionals and filling defaults.
func (c *ReplayEngineV1Config) UnmarshalYAML(unmarshal func(interface{}) error) error {
	type Config struct {
		Begin      *time.Time         `yaml:"begin"`
		End        *time.Time         `yaml:"end"`
		Columns    marketview.Columns `yaml:"columns"`
		Selection  SelectionConfig    `yaml:"selection"`
		Sizing     SizingConfig       `yaml:"sizing"`
		HoldDays   int                `yaml:"hold_days"`
		Funding    *float64           `yaml:"funding"`
		LotSize    int                `yaml:"lot_size"`
		Commission CommissionConfig   `yaml:"commission"`
		Verbose    bool               `yaml:"verbose"`
	}

	var config Config
	if err := unmarshal(&config); err != nil {
		return err
	}

	c.Columns = config.Columns
	c.Selection = config.Selection
	c.Sizing = config.Sizing
	c.HoldDays = config.HoldDays
	c.LotSize = config.LotSize
	c.Commission = config.Commission
	c.Verbose = config.Verbose

	c.Begin = optional.None[time.Time]()
	if config.Begin != nil {
		c.Begin = optional.Some(*config.Begin)
	}

	c.End = optional.None[time.Time]()
	if config.End != nil {
		c.End = optional.Some(*config.End)
	}

	c.Funding = UnconstrainedFunding
	if config.Funding != nil {
		c.Funding = *config.Funding
	}

	c.applyDefaults()

	return nil
}

func (c *ReplayEngineV1Config) applyDefaults() {
	defaults := marketview.DefaultColumns()

	if c.Columns.Key == "" {
		c.Columns.Key = defaults.Key
	}

	if c.Columns.Timestep == "" {
		c.Columns.Timestep = defaults.Timestep
	}

	if c.Columns.Price == "" {
		c.Columns.Price = defaults.Price
	}

	if c.Columns.Metric == "" {
		c.Columns.Metric = defaults.Metric
	}

	if c.HoldDays == 0 {
		c.HoldDays = defaultHoldDays
	}

	if c.LotSize == 0 {
		c.LotSize = defaultLotSize
	}

	if c.Commission.Model == "" {
		c.Commission.Model = commission_fee.ModelZero
	}
}

// FundingConstrained reports whether cash funding is tracked for this run.
func (c *ReplayEngineV1Config) FundingConstrained() bool {
	return c.Funding != UnconstrainedFunding
}

// Validate checks the configuration before a run starts.
func (c *ReplayEngineV1Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid replay configuration", err)
	}

	if c.Begin.IsSome() && c.End.IsSome() && c.End.Unwrap().Before(c.Begin.Unwrap()) {
		return errors.New(errors.ErrCodeInvalidConfiguration, "end date is before begin date")
	}

	switch c.Selection.Type {
	case SelectionTopK:
		if c.Selection.TopK <= 0 {
			return errors.New(errors.ErrCodeInvalidConfiguration, "topk selection requires topk > 0")
		}
	case SelectionHysteresis:
		if c.Selection.HighCut < c.Selection.LowCut {
			return errors.New(errors.ErrCodeInvalidConfiguration, "hysteresis selection requires high_cut >= low_cut")
		}
	}

	switch c.Sizing.Type {
	case SizingFixedAmount:
		if c.Sizing.SpareAmount <= 0 {
			return errors.New(errors.ErrCodeInvalidConfiguration, "fixed_amount sizing requires spare_amount > 0")
		}
	case SizingProportional:
		if c.Sizing.MaxPortion <= 0 || c.Sizing.MaxPortion > 1 {
			return errors.New(errors.ErrCodeInvalidConfiguration, "proportional sizing requires max_portion in (0, 1]")
		}

		if !c.FundingConstrained() {
			return errors.New(errors.ErrCodeInvalidConfiguration, "proportional sizing requires constrained funding")
		}
	}

	if c.FundingConstrained() && c.Funding <= 0 {
		return errors.New(errors.ErrCodeInvalidConfiguration, "funding must be positive or -1 for unconstrained")
	}

	return nil
}

// GenerateSchema generates a JSON schema for the ReplayEngineV1Config.
func (c *ReplayEngineV1Config) GenerateSchema() (*jsonschema.Schema, error) {
	reflector := jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		AllowAdditionalProperties:  false,
		Mapper: func(t reflect.Type) *jsonschema.Schema {
			if t.String() == "optional.Option[time.Time]" {
				return &jsonschema.Schema{
					Type:   "string",
					Format: "date-time",
				}
			}
			if strings.Contains(t.String(), "commission_fee.Model") {
				return &jsonschema.Schema{
					Type: "string",
					Enum: commission_fee.AllModels,
				}
			}
			return nil
		},
	}

	schema := reflector.Reflect(c)

	schema.Title = "replay-engine-v1-config"
	schema.Description = "Configuration schema for ReplayEngineV1"
	schema.Version = "http://json-schema.org/draft-07/schema#"

	return schema, nil
}

// GenerateSchemaJSON generates a JSON schema string for the ReplayEngineV1Config.
func (c *ReplayEngineV1Config) GenerateSchemaJSON() (string, error) {
	schema, err := c.GenerateSchema()
	if err != nil {
		return "", err
	}

	schemaBytes, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", err
	}

	return string(schemaBytes), nil
}

// EmptyConfig returns a ReplayEngineV1Config with default values.
func EmptyConfig() ReplayEngineV1Config {
	config := ReplayEngineV1Config{
		Begin:      optional.None[time.Time](),
		End:        optional.None[time.Time](),
		Columns:    marketview.DefaultColumns(),
		Selection:  SelectionConfig{},
		Sizing:     SizingConfig{},
		HoldDays:   0,
		Funding:    UnconstrainedFunding,
		LotSize:    0,
		Commission: CommissionConfig{},
		Verbose:    false,
	}
	config.applyDefaults()

	return config
}
