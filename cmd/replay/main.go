package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"

	"github.com/moznion/go-optional"
	"github.com/schollz/progressbar/v3"
	"github.com/urfave/cli/v3"

	replayengine "github.com/rxtech-lab/stock-replay/internal/replay/engine"
	engine "github.com/rxtech-lab/stock-replay/internal/replay/engine/engine_v1"
)

// runAction replays each configured strategy over the watching-list CSV file
// and prints the resulting report summaries.
func runAction(ctx context.Context, cmd *cli.Command) error {
	configPaths := cmd.StringSlice("config")
	dataPath := cmd.String("data")
	resultsFolder := cmd.String("output")

	if len(configPaths) == 0 {
		return fmt.Errorf("at least one --config is required")
	}

	if dataPath == "" {
		return fmt.Errorf("--data is required")
	}

	for _, configPath := range configPaths {
		// Each config gets its own results subfolder when several strategies
		// run back to back.
		configResults := resultsFolder
		if resultsFolder != "" && len(configPaths) > 1 {
			name := filepath.Base(configPath)
			configResults = filepath.Join(resultsFolder, name[:len(name)-len(filepath.Ext(name))])
		}

		if err := runOne(ctx, configPath, dataPath, configResults); err != nil {
			return err
		}
	}

	return nil
}

func runOne(ctx context.Context, configPath string, dataPath string, resultsFolder string) error {
	config, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config %s: %w", configPath, err)
	}

	replayer := engine.NewReplayEngineV1()

	if err := replayer.Initialize(string(config)); err != nil {
		return fmt.Errorf("failed to initialize replay engine: %w", err)
	}

	if err := replayer.SetDataPath(dataPath); err != nil {
		return err
	}

	if resultsFolder != "" {
		if err := replayer.SetResultsFolder(resultsFolder); err != nil {
			return err
		}
	}

	bar := progressbar.Default(1)
	bar.Describe(fmt.Sprintf("Replaying %s with %s", filepath.Base(dataPath), filepath.Base(configPath)))

	onStep := optional.Some[replayengine.OnStepCallback](func(current int, total int) error {
		bar.ChangeMax(total)

		return bar.Set(current)
	})

	if err := replayer.Run(ctx, onStep); err != nil {
		return fmt.Errorf("replay failed: %w", err)
	}

	report, err := replayer.GetReport()
	if err != nil {
		return err
	}

	fmt.Printf("\nReplay %s finished\n", report.ID)
	fmt.Printf("  window:            %s .. %s\n", report.Begin.Format("2006-01-02"), report.End.Format("2006-01-02"))
	fmt.Printf("  transactions:      %d\n", report.TransactionCount)
	fmt.Printf("  buy amount:        %.2f\n", report.BuyAmount)
	fmt.Printf("  sell amount:       %.2f\n", report.SellAmount)
	fmt.Printf("  holding amount:    %.2f\n", report.HoldingAmount)
	fmt.Printf("  trading gain:      %.2f\n", report.TradingGain)
	fmt.Printf("  cumulative gain:   %.2f (%.4f)\n", report.CumulativeGain, report.GainRatio)
	fmt.Printf("  net asset value:   %.4f\n", report.CurrentNetAssetValue)

	if resultsFolder != "" {
		fmt.Printf("  results folder:    %s\n", resultsFolder)
	}

	return nil
}

// schemaAction prints the JSON schema of the engine configuration.
func schemaAction(ctx context.Context, cmd *cli.Command) error {
	replayer := engine.NewReplayEngineV1()

	schema, err := replayer.GetConfigSchema()
	if err != nil {
		return fmt.Errorf("failed to generate config schema: %w", err)
	}

	fmt.Println(schema)

	return nil
}

func main() {
	cmd := &cli.Command{
		Name:  "replay",
		Usage: "Replay a champion-selection trading rule over a historical watching list",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to a YAML replay configuration. Repeat to run several strategies back to back.",
			},
			&cli.StringFlag{
				Name:    "data",
				Aliases: []string{"d"},
				Usage:   "Path to the watching-list CSV file",
			},
			&cli.StringFlag{
				Name:     "output",
				Aliases:  []string{"o"},
				Usage:    "Folder for the run report and the per-date stats. Optional.",
				Required: false,
			},
		},
		Action: runAction,
		Commands: []*cli.Command{
			{
				Name:   "schema",
				Usage:  "Print the JSON schema of the replay configuration",
				Action: schemaAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		log.Fatal(err)
	}
}
