package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/merlin/compiler"
	"github.com/chazu/merlin/manifest"
	"github.com/chazu/merlin/vm"
)

const (
	exitRuntimeError = -1
	exitUsageError   = -3
)

var log = commonlog.GetLogger("merlin")

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	flags := flag.NewFlagSet("merlin", flag.ContinueOnError)
	mainFile := flags.String("main", "", "main module file")
	workspace := flags.String("workspace", "", "workspace directory")
	debug := flags.Bool("debug", false, "enable debug logging and profiling")
	var sources multiFlag
	flags.Var(&sources, "source", "additional source file (repeatable)")
	flags.Bool("args", false, "marks the start of the program arguments")

	if err := flags.Parse(argv); err != nil {
		return exitUsageError
	}
	programArgs := flags.Args()

	verbosity := 0
	if *debug {
		verbosity = 2
	}
	commonlog.Configure(verbosity, nil)

	var mf *manifest.Manifest
	if *workspace != "" && manifest.Exists(*workspace) {
		var err error
		mf, err = manifest.Load(*workspace)
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			return exitUsageError
		}
		if *mainFile == "" {
			*mainFile = mf.Source.Entry
		}
	}

	if *mainFile == "" {
		fmt.Fprintln(os.Stderr, "main file must be informed")
		return exitUsageError
	}
	if *workspace == "" {
		fmt.Fprintln(os.Stderr, "workspace must be informed")
		return exitUsageError
	}

	if !compiler.HasFrontend() {
		fmt.Fprintln(os.Stderr, "merlin: no language front end registered in this build")
		return exitUsageError
	}

	files, err := collectSources(*workspace, *mainFile, sources)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitUsageError
	}

	mainModule, modules, err := compiler.ParseSources(files)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRuntimeError
	}

	machine, err := compiler.BuildVM(mainModule, modules, programArgs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRuntimeError
	}

	var profiler *vm.Profiler
	if *debug {
		profiler = vm.NewProfiler(machine.GC)
		machine.SetProfiler(profiler)
	}

	result, err := machine.Run()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitRuntimeError
	}

	if profiler != nil {
		out := "merlin-profile.cbor"
		if mf != nil && mf.Profile.Output != "" {
			out = filepath.Join(mf.Dir, mf.Profile.Output)
		}
		if err := profiler.WriteSnapshot(out); err != nil {
			log.Errorf("profiler: %v", err)
		}
	}

	return int(result)
}

// collectSources gathers the main file plus any extra sources, relative to
// the workspace.
func collectSources(workspace, mainFile string, extra []string) ([]compiler.SourceFile, error) {
	names := append([]string{mainFile}, extra...)
	files := make([]compiler.SourceFile, 0, len(names))
	for _, name := range names {
		path := name
		if !filepath.IsAbs(path) {
			path = filepath.Join(workspace, name)
		}
		text, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("cannot read source %s: %w", path, err)
		}
		module := strings.TrimSuffix(filepath.Base(name), filepath.Ext(name))
		files = append(files, compiler.SourceFile{Name: module, Path: path, Text: string(text)})
	}
	return files, nil
}

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string {
	return strings.Join(*m, ",")
}

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}
