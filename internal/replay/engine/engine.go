package engine

import (
	"context"

	"github.com/moznion/go-optional"

	"github.com/rxtech-lab/stock-replay/internal/types"
)

// OnStepCallback is called after each stepped date has been processed. It can
// abort the run by returning an error.
type OnStepCallback func(current int, total int) error

// Engine replays a trading rule against a historical watching list.
type Engine interface {
	// Initialize the engine with the given YAML configuration.
	Initialize(config string) error
	// SetDataPath sets the path to the watching-list CSV file.
	SetDataPath(path string) error
	// SetResultsFolder sets the output directory for the run report and the
	// per-date stats. Optional: when unset, results are only available via
	// GetReport.
	SetResultsFolder(folder string) error
	// Run replays the configured strategy over the data. The context can be
	// used to cancel the run between date steps.
	Run(ctx context.Context, onStep optional.Option[OnStepCallback]) error
	// GetReport returns the report of the last completed run.
	GetReport() (types.Report, error)
	// GetConfigSchema returns the JSON schema of the engine configuration.
	GetConfigSchema() (string, error)
}
