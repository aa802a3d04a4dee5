// Command evmexec executes EVM bytecode and transactions against an
// in-memory pre-state, optionally backed by a JSON-RPC node.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/mattn/go-isatty"
	"github.com/urfave/cli/v2"

	"github.com/eth2030/evmexec/log"
	"github.com/eth2030/evmexec/metrics"
)

var (
	version = "v0.1.0"
	commit  = "unknown"
)

var (
	logLevelFlag = &cli.StringFlag{
		Name:    "log.level",
		Usage:   "log level: trace, debug, info, warn, error",
		Value:   "info",
		EnvVars: []string{"EVMEXEC_LOG_LEVEL"},
	}
	logFormatFlag = &cli.StringFlag{
		Name:  "log.format",
		Usage: "log format: auto, terminal, json",
		Value: "auto",
	}
	metricsFlag = &cli.BoolFlag{
		Name:  "metrics",
		Usage: "print collected metrics to stderr on exit",
	}
)

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	app := newApp(os.Stdout, os.Stderr)
	if err := app.Run(append([]string{app.Name}, args...)); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	return 0
}

func newApp(stdout, stderr io.Writer) *cli.App {
	return &cli.App{
		Name:      "evmexec",
		Usage:     "execute EVM bytecode and transactions",
		Version:   fmt.Sprintf("%s (commit %s)", version, commit),
		Writer:    stdout,
		ErrWriter: stderr,
		Flags:     []cli.Flag{logLevelFlag, logFormatFlag, metricsFlag},
		Before: func(c *cli.Context) error {
			return setupLogging(c.String(logLevelFlag.Name), c.String(logFormatFlag.Name), c.App.ErrWriter)
		},
		After: func(c *cli.Context) error {
			if c.Bool(metricsFlag.Name) {
				printMetrics(c.App.ErrWriter)
			}
			return nil
		},
		Commands: []*cli.Command{runCommand, txCommand},
	}
}

// setupLogging installs the default logger. The auto format picks colored
// terminal output when w is a TTY and JSON otherwise.
func setupLogging(level, format string, w io.Writer) error {
	lvl, err := log.ParseLevel(level)
	if err != nil {
		return err
	}
	switch format {
	case "auto":
		if isTerminal(w) {
			log.SetDefault(log.NewTerminal(w, lvl, true))
		} else {
			log.SetDefault(log.NewJSON(w, lvl))
		}
	case "terminal":
		log.SetDefault(log.NewTerminal(w, lvl, isTerminal(w)))
	case "json":
		log.SetDefault(log.NewJSON(w, lvl))
	default:
		return fmt.Errorf("unknown log format %q", format)
	}
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func printMetrics(w io.Writer) {
	snap := metrics.DefaultRegistry.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		switch v := snap[name].(type) {
		case metrics.HistogramSnapshot:
			fmt.Fprintf(w, "%-24s count=%d mean=%.3f min=%.3f max=%.3f\n", name, v.Count, v.Mean, v.Min, v.Max)
		default:
			fmt.Fprintf(w, "%-24s %v\n", name, v)
		}
	}
}
