// Command crashforest fits the random forest blocks of the crash analysis.
//
//	crashforest run --input crash.csv --out out --db results.db
//	crashforest clean --input crash.csv --output clean.csv
//	crashforest responses
//	crashforest history --db results.db
package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/YuminosukeSato/crashforest/analysis"
	"github.com/YuminosukeSato/crashforest/config"
	"github.com/YuminosukeSato/crashforest/crash"
	"github.com/YuminosukeSato/crashforest/pkg/errors"
	"github.com/YuminosukeSato/crashforest/pkg/log"
	"github.com/YuminosukeSato/crashforest/report"
	"github.com/YuminosukeSato/crashforest/store"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp().Run(ctx, os.Args); err != nil {
		log.GetLoggerWithName("cli").Error("crashforest failed", err)
		stop()
		os.Exit(1)
	}
}

func newApp() *cli.Command {
	return &cli.Command{
		Name:            "crashforest",
		Usage:           "random forest analysis of crash outcomes",
		HideHelpCommand: true,
		Commands: []*cli.Command{
			runCommand(),
			cleanCommand(),
			responsesCommand(),
			historyCommand(),
		},
	}
}

// 共通フラグ. cli のフラグは状態を持つのでコマンドごとに作る
func commonFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "YAML configuration file"},
		&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "crash CSV file"},
		&cli.StringFlag{Name: "log-level", Usage: "debug, info, warn or error"},
	}
}

func runCommand() *cli.Command {
	return &cli.Command{
		Name:  "run",
		Usage: "clean the data, fit every response block and report",
		Flags: append(commonFlags(),
			&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "plot directory"},
			&cli.IntFlag{Name: "parallel", Aliases: []string{"p"}, Usage: "blocks fitted at once"},
			&cli.IntFlag{Name: "trees", Aliases: []string{"n"}, Usage: "trees per forest"},
			&cli.StringFlag{Name: "db", Usage: "SQLite file that keeps the results"},
			&cli.StringFlag{Name: "yaml", Usage: "write the whole run as YAML to this file"},
			&cli.BoolFlag{Name: "no-plots", Usage: "skip the plots"},
		),
		Action: runAction,
	}
}

func runAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger := log.GetLoggerWithName("cli")

	clean, err := loadClean(cfg, logger)
	if err != nil {
		return err
	}

	opts, err := cfg.AnalysisOptions()
	if err != nil {
		return err
	}
	rep, err := analysis.NewRunner(opts, nil).Run(ctx, clean)
	if err != nil {
		return err
	}
	rep.Input = cfg.Input

	if err := report.Print(cmd.Root().Writer, rep.Blocks, report.PrintOptions{
		TopN:    cfg.Run.TopN,
		Partial: cfg.Run.PrintPartial,
	}); err != nil {
		return err
	}

	if cfg.Run.YAML != "" {
		if err := writeFile(cfg.Run.YAML, func(w io.Writer) error { return report.WriteYAML(w, rep) }); err != nil {
			return err
		}
		logger.Info("run written", log.PathKey, cfg.Run.YAML)
	}

	if cfg.Store.Path != "" {
		st, err := store.Open(cfg.Store.Path)
		if err != nil {
			return err
		}
		defer st.Close()
		if _, err := st.SaveRun(ctx, rep); err != nil {
			return err
		}
	}
	return nil
}

func cleanCommand() *cli.Command {
	return &cli.Command{
		Name:  "clean",
		Usage: "write the cleaned data with the aggregate responses",
		Flags: append(commonFlags(),
			&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "CSV file, stdout when empty"},
		),
		Action: func(ctx context.Context, cmd *cli.Command) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			logger := log.GetLoggerWithName("cli")
			clean, err := loadClean(cfg, logger)
			if err != nil {
				return err
			}

			out := cmd.String("output")
			if out == "" {
				return clean.WriteCSV(cmd.Root().Writer)
			}
			if err := writeFile(out, clean.WriteCSV); err != nil {
				return err
			}
			logger.Info("cleaned data written", log.PathKey, out, log.SamplesKey, clean.Nrow())
			return nil
		},
	}
}

func responsesCommand() *cli.Command {
	return &cli.Command{
		Name:  "responses",
		Usage: "list the response blocks and the columns each one excludes",
		Action: func(ctx context.Context, cmd *cli.Command) error {
			tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "response\texcluded")
			for _, r := range analysis.DefaultResponses() {
				fmt.Fprintf(tw, "%s\t%s\n", r.Name, strings.Join(r.Exclude, ", "))
			}
			return tw.Flush()
		},
	}
}

func historyCommand() *cli.Command {
	return &cli.Command{
		Name:  "history",
		Usage: "list the runs kept in a results database",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "db", Usage: "SQLite results file", Required: true},
		},
		Action: func(ctx context.Context, cmd *cli.Command) error {
			st, err := store.Open(cmd.String("db"))
			if err != nil {
				return err
			}
			defer st.Close()

			runs, err := st.Runs(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.Root().Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "id\tstarted\tinput\tseed\trows\tblocks")
			for _, r := range runs {
				fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%d\t%d\n",
					r.ID, r.StartedAt.Local().Format(time.DateTime), r.Input, r.Seed, r.Rows, r.Blocks)
			}
			return tw.Flush()
		},
	}
}

// loadConfig layers the config file, the environment and the command flags,
// validates the result and installs the logger.
func loadConfig(cmd *cli.Command) (*config.Config, error) {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return nil, err
	}

	if cmd.IsSet("input") {
		cfg.Input = cmd.String("input")
	}
	if cmd.IsSet("log-level") {
		cfg.Log.Level = cmd.String("log-level")
	}
	if cmd.IsSet("out") {
		cfg.OutputDir = cmd.String("out")
	}
	if cmd.IsSet("parallel") {
		cfg.Run.Parallelism = cmd.Int("parallel")
	}
	if cmd.IsSet("trees") {
		cfg.Forest.Trees = cmd.Int("trees")
	}
	if cmd.IsSet("db") {
		cfg.Store.Path = cmd.String("db")
	}
	if cmd.IsSet("yaml") {
		cfg.Run.YAML = cmd.String("yaml")
	}
	if cmd.Bool("no-plots") {
		cfg.Plot.Enabled = false
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	cfg.Log.Output = cmd.Root().ErrWriter
	if err := log.Setup(cfg.Log); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadClean reads the input and applies the cleaning policy and the
// aggregate responses.
func loadClean(cfg *config.Config, logger log.Logger) (*crash.Dataset, error) {
	start := time.Now()
	raw, err := crash.LoadFile(cfg.Input, cfg.LoadOptions())
	if err != nil {
		return nil, err
	}
	logger.Info("data loaded",
		log.PhaseKey, log.PhaseLoad,
		log.PathKey, cfg.Input,
		log.SamplesKey, raw.Nrow(),
		log.FeaturesKey, len(raw.Names()),
		log.DurationMsKey, log.Since(start),
	)

	clean, err := analysis.Prepare(raw, cfg.Data.Clean)
	if err != nil {
		return nil, errors.Wrapf(err, "prepare %s", cfg.Input)
	}
	return clean, nil
}

func writeFile(path string, write func(io.Writer) error) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrapf(cerr, "close %s", path)
		}
	}()
	return write(f)
}
