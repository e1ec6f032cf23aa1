package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/cvgrid/internal/config"
	"github.com/banshee-data/cvgrid/internal/version"
)

var errUsage = errors.New("usage")

// options are the flags shared by every mode.
type options struct {
	configPath string
	dbPath     string
	snapshotID int64
	out        string
	in         string
	dims       string
	fix        string
	resume     bool
	duration   time.Duration
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			os.Exit(2)
		}
		log.Fatalf("cvgrid: %v", err)
	}
}

func run(args []string, stdout io.Writer) error {
	if len(args) < 1 {
		printUsage(stdout)
		return errUsage
	}
	mode := args[0]

	fs := flag.NewFlagSet(mode, flag.ContinueOnError)
	fs.SetOutput(stdout)
	opts := &options{}
	fs.StringVar(&opts.configPath, "config", "", "Grid config file (.json or .hcl); built-in default when empty")
	fs.StringVar(&opts.dbPath, "db", "", "Checkpoint database path (overrides checkpoint.db_path)")
	fs.Int64Var(&opts.snapshotID, "snapshot", 0, "Snapshot ID to read; latest when 0")
	fs.StringVar(&opts.out, "out", "", "Output file")
	fs.StringVar(&opts.in, "in", "", "Input file")
	fs.StringVar(&opts.dims, "dims", "0,1", "Plot axes as x,y dimension numbers")
	fs.StringVar(&opts.fix, "fix", "", "Plot index for every dimension, comma separated; the x and y entries are ignored")
	fs.BoolVar(&opts.resume, "resume", false, "filter-script: drop setup lines before the #RESTART marker")
	fs.DurationVar(&opts.duration, "for", 0, "watch: stop after this long (0 waits for SIGINT/SIGTERM)")
	if err := fs.Parse(args[1:]); err != nil {
		return errUsage
	}

	switch mode {
	case "init":
		return runInit(opts, stdout)
	case "dump":
		return runDump(opts, stdout)
	case "export":
		return runExport(opts, stdout)
	case "import":
		return runImport(opts, stdout)
	case "stats":
		return runStats(opts, stdout)
	case "plot":
		return runPlot(opts, stdout)
	case "filter-script":
		return runFilterScript(opts, stdout)
	case "watch":
		return runWatch(opts, stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help":
		printUsage(stdout)
		return nil
	default:
		fmt.Fprintf(stdout, "Unknown mode: %s\n\n", mode)
		printUsage(stdout)
		return errUsage
	}
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `cvgrid - collective-variable grid checkpoint tool

Usage: cvgrid <mode> [flags]

Modes:
  init           Create the checkpoint database and record an initial snapshot
  dump           Print a snapshot in the text dump layout
  export         Write a snapshot to -out (.txt text, .pb wire, anything else binary)
  import         Load -in into the configured grid and checkpoint it
  stats          Summarise a snapshot and list recent checkpoints
  plot           Render a 2-D slice to -out (.html for go-echarts, else gonum/plot)
  filter-script  Print the lines of -in an engine would replay
  watch          Hold the grid open and checkpoint it every flush_interval
  version        Show cvgrid version
  help           Show this help message

Flags:
  -config <file>   Grid config (.json or .hcl)
  -db <path>       Checkpoint database
  -snapshot <id>   Snapshot to read (default latest)
  -out <file>      Output file
  -in <file>       Input file
  -dims x,y        Plot axes (default 0,1)
  -fix i,j,...     Plot index for every axis (x and y entries ignored)
  -resume          Treat filter-script input as a resumed run
  -for <duration>  Stop watch after this long (default until interrupted)

Examples:
  cvgrid init -config grid.hcl -out grid.json
  cvgrid stats -config grid.hcl
  cvgrid plot -config grid.hcl -dims 0,1 -out phi-psi.png
  cvgrid filter-script -in in.lammps -resume
  cvgrid watch -config grid.hcl -in in.lammps`)
}

// loadConfig returns the config at opts.configPath, or the default.
func loadConfig(opts *options) (*config.GridConfig, error) {
	if opts.configPath == "" {
		return config.DefaultGridConfig(), nil
	}
	return config.LoadGridConfig(opts.configPath)
}

func parseInts(s string) ([]int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, fmt.Errorf("invalid integer %q: %w", p, err)
		}
		out[i] = v
	}
	return out, nil
}
