// Package main provides the PEInspect CLI tool.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"

	"github.com/ZacharyZcR/PEInspect/internal/analysis"
	"github.com/ZacharyZcR/PEInspect/internal/cli"
	"github.com/ZacharyZcR/PEInspect/internal/config"
	"github.com/ZacharyZcR/PEInspect/internal/digest"
	"github.com/fatih/color"
	kingpin "gopkg.in/alecthomas/kingpin.v2"
)

var (
	app = kingpin.New("peinspect", "Portable Executable triage: digests, headers, imports and exports.")

	algorithms     = app.Flag("algo", "Digest algorithm ("+algorithmNames()+"). Repeatable.").Strings()
	noColor        = app.Flag("no-color", "Disable colored output.").Bool()
	noMmap         = app.Flag("no-mmap", "Read files into memory instead of mapping them.").Bool()
	logLevel       = app.Flag("log-level", "Log level (debug, info, warn, error).").String()
	verbose        = app.Flag("verbose", "List every import and export instead of truncating.").Short('v').Bool()
	suspiciousOnly = app.Flag("suspicious", "Only show RWX sections.").Short('s').Bool()

	shellCmd = app.Command("shell", "Interactive command loop.").Default()

	analyzeCmd     = app.Command("analyze", "Analyze one or more files.")
	analyzeJSON    = analyzeCmd.Flag("json", "Print results as JSON.").Bool()
	analyzeFull    = analyzeCmd.Flag("full", "Include the import and export listings in the report.").Bool()
	analyzeWorkers = analyzeCmd.Flag("workers", "Files analyzed in parallel.").Int()
	analyzePaths   = analyzeCmd.Arg("path", "PE files to analyze.").Required().Strings()

	importsCmd  = app.Command("imports", "List imported symbols.")
	importsPath = importsCmd.Arg("path", "PE file.").Required().String()

	exportsCmd  = app.Command("exports", "List exported symbols.")
	exportsPath = exportsCmd.Arg("path", "PE file.").Required().String()
)

func main() {
	app.HelpFlag.Short('h')
	app.UsageTemplate(kingpin.CompactUsageTemplate)
	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	err := run(ctx, command)
	stop()

	if err != nil {
		red := color.New(color.FgRed, color.Bold)
		_, _ = red.Fprintf(os.Stderr, "\nError: %v\n\n", err)
		os.Exit(1)
	}
}

// errFilesFailed signals a batch in which some files failed; each failure
// has already been reported.
var errFilesFailed = errors.New("one or more files could not be analyzed")

func run(ctx context.Context, command string) error {
	cfg := loadConfig()
	if err := cfg.Validate(); err != nil {
		return err
	}
	if cfg.NoColor {
		color.NoColor = true
	}

	level, _ := cfg.Level()
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))

	algs, _ := cfg.DigestAlgorithms()
	analyzer, err := analysis.New(analysis.Options{
		Algorithms: algs,
		ChunkSize:  cfg.ChunkSize,
		Workers:    cfg.Workers,
		UseMmap:    cfg.UseMmap,
		Logger:     log,
	})
	if err != nil {
		return err
	}

	reporter := cli.NewReporter(os.Stdout)
	reporter.SetVerbose(*verbose)
	reporter.SetSuspiciousOnly(*suspiciousOnly)

	switch command {
	case shellCmd.FullCommand():
		return cli.NewShell(os.Stdin, os.Stdout, analyzer, reporter, log).Run(ctx)

	case analyzeCmd.FullCommand():
		outcomes := analyzer.AnalyzeBatch(ctx, *analyzePaths)
		if *analyzeJSON {
			if err := writeJSON(os.Stdout, outcomes); err != nil {
				return err
			}
		} else {
			printOutcomes(reporter, os.Stderr, outcomes, *analyzeFull)
		}
		for _, o := range outcomes {
			if o.Err != nil {
				return errFilesFailed
			}
		}
		return nil

	case importsCmd.FullCommand():
		res, err := analyzer.Analyze(ctx, *importsPath)
		if err != nil {
			return err
		}
		reporter.PrintImports(res)
		return nil

	case exportsCmd.FullCommand():
		res, err := analyzer.Analyze(ctx, *exportsPath)
		if err != nil {
			return err
		}
		reporter.PrintExports(res)
		return nil
	}

	return fmt.Errorf("unknown command %q", command)
}

// loadConfig reads the environment and applies command-line overrides.
func loadConfig() config.Config {
	cfg := config.Load()
	if len(*algorithms) > 0 {
		cfg.Algorithms = *algorithms
	}
	if *noColor {
		cfg.NoColor = true
	}
	if *noMmap {
		cfg.UseMmap = false
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
	if *analyzeWorkers != 0 {
		cfg.Workers = *analyzeWorkers
	}
	return cfg
}

// algorithmNames lists the supported digest algorithms for flag help.
func algorithmNames() string {
	var names []string
	for _, a := range digest.Supported() {
		names = append(names, string(a))
	}
	return strings.Join(names, ", ")
}

// printOutcomes renders successful results with reporter and failures on
// errw. full adds the import and export listings.
func printOutcomes(reporter *cli.Reporter, errw io.Writer, outcomes []analysis.Outcome, full bool) {
	red := color.New(color.FgRed, color.Bold)
	for _, o := range outcomes {
		if o.Err != nil {
			_, _ = red.Fprintf(errw, "Error [%s]: %v\n", analysis.Classify(o.Err), o.Err)
			continue
		}
		if full {
			reporter.Print(o.Result)
		} else {
			reporter.PrintAnalyze(o.Result)
		}
	}
}

type jsonOutcome struct {
	Path   string           `json:"path"`
	Result *analysis.Result `json:"result,omitempty"`
	Error  string           `json:"error,omitempty"`
	Kind   string           `json:"kind,omitempty"`
}

func writeJSON(w io.Writer, outcomes []analysis.Outcome) error {
	out := make([]jsonOutcome, 0, len(outcomes))
	for _, o := range outcomes {
		j := jsonOutcome{Path: o.Path, Result: o.Result}
		if o.Err != nil {
			j.Error = o.Err.Error()
			j.Kind = analysis.Classify(o.Err).String()
		}
		out = append(out, j)
	}

	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
