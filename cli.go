package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"
)

// Applicator defines the interface for the core application logic.
// This allows the CLI to be tested independently of the main app implementation.
type Applicator interface {
	SyncCalls(ctx context.Context, cfgPath string, start, end time.Time) error
	SyncTranscripts(ctx context.Context, cfgPath string) error
	SyncPricing(ctx context.Context, cfgPath string) error
	SyncAll(ctx context.Context, cfgPath string) error
	Serve(ctx context.Context, cfgPath string) error
	InitDB(ctx context.Context, cfgPath string) error
	ExportSQL(ctx context.Context, dir string) error
}

// BuildCLI creates the full CLI command structure for the application.
// It injects the core application logic (the Applicator) into the command actions.
func BuildCLI(app Applicator) *cli.Command {
	// Define flags that are common across multiple commands.
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Value:   "config.yaml",
		Usage:   "path to the configuration file",
	}

	startFlag := &cli.StringFlag{
		Name:    "start",
		Usage:   "only fetch calls started at or after this time (format: RFC3339, '2006-01-02T15:04:05Z')",
		Aliases: []string{"s"},
	}

	endFlag := &cli.StringFlag{
		Name:    "end",
		Usage:   "only fetch calls started before this time (format: RFC3339)",
		Aliases: []string{"e"},
	}

	agoFlag := &cli.StringFlag{
		Name:    "ago",
		Usage:   "only fetch calls started within this duration (e.g., '2h', '15m')",
		Aliases: []string{"a"},
	}

	// Define all application commands.
	callsCmd := &cli.Command{
		Name:  "calls",
		Usage: "Fetch Dialpad call records, archive each page and upsert them",
		Flags: []cli.Flag{configFlag, startFlag, endFlag, agoFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			start, end, err := parseWindowFlags(c.String("start"), c.String("end"), c.String("ago"), time.Now())
			if err != nil {
				return err
			}
			return app.SyncCalls(ctx, c.String("config"), start, end)
		},
	}

	transcriptsCmd := &cli.Command{
		Name:  "transcripts",
		Usage: "Backfill transcripts for recent calls which lack one",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.SyncTranscripts(ctx, c.String("config"))
		},
	}

	pricingCmd := &cli.Command{
		Name:  "pricing",
		Usage: "Fetch LoanPASS product pricing and upsert it",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.SyncPricing(ctx, c.String("config"))
		},
	}

	allCmd := &cli.Command{
		Name:  "all",
		Usage: "Run the calls and pricing syncs together, then the transcript backfill",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.SyncAll(ctx, c.String("config"))
		},
	}

	serveCmd := &cli.Command{
		Name:  "serve",
		Usage: "Serve the http run trigger and metrics endpoints",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.Serve(ctx, c.String("config"))
		},
	}

	initDBCmd := &cli.Command{
		Name:  "init-db",
		Usage: "Create the database schema",
		Flags: []cli.Flag{configFlag},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.InitDB(ctx, c.String("config"))
		},
	}

	exportSQLCmd := &cli.Command{
		Name:  "export-sql",
		Usage: "Write the embedded sql files to a directory for editing",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "dir", Aliases: []string{"d"}, Usage: "directory to write the sql directory into", Required: true},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			return app.ExportSQL(ctx, c.String("dir"))
		},
	}

	// Assemble the root command.
	rootCmd := &cli.Command{
		Name:  "syncer",
		Usage: "Sync Dialpad calls and LoanPASS pricing into the warehouse",
		Commands: []*cli.Command{
			callsCmd, transcriptsCmd, pricingCmd, allCmd, serveCmd, initDBCmd, exportSQLCmd,
		},
	}

	return rootCmd
}

// parseWindowFlags processes the call window flags and returns parsed time values.
// It enforces mutual exclusivity between --start/--end and --ago.
func parseWindowFlags(startStr, endStr, agoStr string, now time.Time) (time.Time, time.Time, error) {
	var start, end time.Time
	var err error

	if agoStr != "" && (startStr != "" || endStr != "") {
		return time.Time{}, time.Time{}, errors.New("--ago is mutually exclusive with --start and --end")
	}

	if agoStr != "" {
		duration, err := time.ParseDuration(agoStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --ago duration format: %w", err)
		}
		if duration <= 0 {
			return time.Time{}, time.Time{}, fmt.Errorf("--ago duration %s must be positive", agoStr)
		}
		return now.Add(-duration).UTC(), time.Time{}, nil
	}

	if startStr != "" {
		start, err = time.Parse(time.RFC3339, startStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --start format: %w", err)
		}
	}

	if endStr != "" {
		if startStr == "" {
			return time.Time{}, time.Time{}, errors.New("--end requires --start")
		}
		end, err = time.Parse(time.RFC3339, endStr)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("invalid --end format: %w", err)
		}
		if !end.After(start) {
			return time.Time{}, time.Time{}, errors.New("--end must be after --start")
		}
	}

	return start.UTC(), end.UTC(), nil
}
