package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	asmx86 "github.com/jncronin/tysos-sub010/internal/asm/x86"
	"github.com/jncronin/tysos-sub010/internal/codegen"
	"github.com/jncronin/tysos-sub010/internal/config"
	"github.com/jncronin/tysos-sub010/internal/irjson"
	"github.com/jncronin/tysos-sub010/internal/target"
	"github.com/jncronin/tysos-sub010/internal/target/x86"
	"github.com/jncronin/tysos-sub010/internal/tysilaapi"
)

// encoders holds the machine code encoder of each target that has one.
var encoders = map[string]codegen.Encoder{
	x86.Name: asmx86.Encode,
}

func main() {
	doMain(os.Stdout, os.Stderr, os.Exit)
}

// doMain is separated out for the purpose of unit testing.
func doMain(stdOut, stdErr io.Writer, exit func(code int)) {
	flag.CommandLine.SetOutput(stdErr)

	var help bool
	flag.BoolVar(&help, "h", false, "print usage")

	flag.Parse()

	if help || flag.NArg() == 0 {
		printUsage(stdErr)
		exit(0)
		return
	}

	switch flag.Arg(0) {
	case "compile":
		doCompile(flag.Args()[1:], stdOut, stdErr, exit)
	case "config":
		data, err := config.Default().Marshal()
		if err != nil {
			fmt.Fprintln(stdErr, err)
			exit(1)
			return
		}
		stdOut.Write(data) //nolint
		exit(0)
	case "targets":
		reg, err := registry()
		if err != nil {
			fmt.Fprintln(stdErr, err)
			exit(1)
			return
		}
		for _, n := range reg.Names() {
			t, _ := reg.Lookup(n)
			fmt.Fprintf(stdOut, "%s\tconventions %v\tregisters %d\n", n, t.Conventions(), len(t.Allocatable()))
		}
		exit(0)
	default:
		fmt.Fprintln(stdErr, "invalid command")
		printUsage(stdErr)
		exit(1)
	}
}

func registry() (*target.Registry, error) {
	return target.NewRegistry(x86.New)
}

func doCompile(args []string, stdOut, stdErr io.Writer, exit func(code int)) {
	flags := flag.NewFlagSet("compile", flag.ContinueOnError)
	flags.SetOutput(stdErr)

	var help bool
	flags.BoolVar(&help, "h", false, "print usage")

	var configPath string
	flags.StringVar(&configPath, "config", "", "path to a TOML configuration file. Defaults apply when empty.")

	var format string
	flags.StringVar(&format, "format", "listing", "output format: listing or json")

	if err := flags.Parse(args); err != nil {
		exit(1)
		return
	}

	if help {
		printCompileUsage(stdErr, flags)
		exit(0)
		return
	}

	if flags.NArg() < 1 {
		fmt.Fprintln(stdErr, "missing path to methods file")
		printCompileUsage(stdErr, flags)
		exit(1)
		return
	}
	if format != "listing" && format != "json" {
		fmt.Fprintf(stdErr, "invalid format %q\n", format)
		exit(1)
		return
	}

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.Load(configPath); err != nil {
			fmt.Fprintln(stdErr, err)
			exit(1)
			return
		}
	}
	logger, err := tysilaapi.NewLogger(cfg.Log.Level)
	if err != nil {
		fmt.Fprintln(stdErr, err)
		exit(1)
		return
	}
	defer logger.Sync() //nolint

	reg, err := registry()
	if err != nil {
		fmt.Fprintln(stdErr, err)
		exit(1)
		return
	}
	t, err := reg.Lookup(cfg.Target)
	if err != nil {
		fmt.Fprintln(stdErr, err)
		exit(1)
		return
	}

	f, err := os.Open(flags.Arg(0))
	if err != nil {
		fmt.Fprintf(stdErr, "error reading methods: %v\n", err)
		exit(1)
		return
	}
	gs, err := irjson.Decode(f)
	f.Close()
	if err != nil {
		fmt.Fprintln(stdErr, err)
		exit(1)
		return
	}

	opts := codegen.Options{
		Convention:          cfg.Convention,
		Registers:           cfg.Registers,
		PromoteLocals:       cfg.Passes.PromoteLocals,
		ConstantPropagation: cfg.Passes.ConstantPropagation,
		DeadCodeElimination: cfg.Passes.DeadCodeElimination,
		Debug:               cfg.Debug(),
		Logger:              logger,
	}
	if cfg.Passes.Encode {
		opts.Encode = encoders[t.Name()]
	}
	results, _, cerr := codegen.CompileAll(gs, t, opts, cfg.Workers)

	var out []irjson.Result
	for _, res := range results {
		if res == nil {
			continue
		}
		out = append(out, irjson.NewResult(res.Graph, t, res.Frame.Size, res.Code))
	}
	if format == "json" {
		err = irjson.WriteResults(stdOut, out)
	} else {
		err = writeListing(stdOut, out)
	}
	if err != nil {
		logger.Error("failed to write output", zap.Error(err))
		exit(1)
		return
	}
	if cerr != nil {
		fmt.Fprintln(stdErr, cerr)
		exit(1)
		return
	}
	exit(0)
}

func writeListing(w io.Writer, rs []irjson.Result) error {
	for _, r := range rs {
		if _, err := fmt.Fprintf(w, "%s: frame %d\n", r.Name, r.FrameSize); err != nil {
			return err
		}
		for i, lines := range r.Blocks {
			if _, err := fmt.Fprintf(w, "blk%d:\n", i); err != nil {
				return err
			}
			for _, l := range lines {
				if _, err := fmt.Fprintf(w, "\t%s\n", l); err != nil {
					return err
				}
			}
		}
		if r.Code != "" {
			if _, err := fmt.Fprintf(w, "code %s\n", r.Code); err != nil {
				return err
			}
			for _, rel := range r.Relocs {
				if _, err := fmt.Fprintf(w, "reloc %#x %s %s%+d\n", rel.Offset, rel.Kind, rel.Symbol, rel.Addend); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func printUsage(stdErr io.Writer) {
	fmt.Fprintln(stdErr, "tysilac CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  tysilac <command>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Commands:")
	fmt.Fprintln(stdErr, "  compile\tCompiles the methods of a JSON file to machine code.")
	fmt.Fprintln(stdErr, "  config\tPrints the default configuration.")
	fmt.Fprintln(stdErr, "  targets\tLists the supported targets.")
}

func printCompileUsage(stdErr io.Writer, flags *flag.FlagSet) {
	fmt.Fprintln(stdErr, "tysilac CLI")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Usage:\n  tysilac compile <options> <path to methods file>")
	fmt.Fprintln(stdErr)
	fmt.Fprintln(stdErr, "Options:")
	flags.PrintDefaults()
}
