package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"aotc/internal/assemble"
	"aotc/internal/backend"
	"aotc/internal/backend/ipc"
	"aotc/internal/binfmt"
	"aotc/internal/classset"
	"aotc/internal/compile"
	"aotc/internal/config"
	"aotc/internal/filter"
	"aotc/internal/link"
	"aotc/internal/log"
	"aotc/internal/observ"
)

var compileCmd = &cobra.Command{
	Use:   "compile [flags]",
	Short: "Compile class descriptors into a native shared library",
	Long: "Compile selects methods from the given class descriptors, compiles them\n" +
		"through the configured compiler service, and links the result into a\n" +
		"shared library.",
	Args: cobra.NoArgs,
	RunE: compileExecution,
}

func init() {
	compileCmd.Flags().String("output", "", "output library name (default per platform)")
	compileCmd.Flags().StringArray("class-name", nil, "compile the named class (repeatable)")
	compileCmd.Flags().String("directory", "", "compile every class descriptor under a directory")
	compileCmd.Flags().String("class-set", "", "compile the classes of a descriptor bundle")
	compileCmd.Flags().String("search-path", "", "directories searched for --class-name descriptors")
	compileCmd.Flags().String("compile-commands", "", "file with compileOnly/exclude directives")
	compileCmd.Flags().Int("compile-threads", compile.DefaultThreads(), "number of compilation threads")
	compileCmd.Flags().Bool("ignore-errors", false, "skip classes whose members fail to enumerate")
	compileCmd.Flags().Bool("exit-on-error", false, "stop at the first compilation failure")
	compileCmd.Flags().Bool("compile-for-tiered", false, "generate profiling code for tiered compilation")
	compileCmd.Flags().Bool("compile-with-assertions", false, "compile with assertions enabled")
	compileCmd.Flags().String("compiler", "", "compiler service command")
	compileCmd.Flags().String("linker-path", "", "linker executable")
	compileCmd.Flags().Bool("info", false, "print progress information")
	compileCmd.Flags().Bool("verbose", false, "print verbose information (implies --info)")
	compileCmd.Flags().Bool("debug", false, "print debug information (implies --verbose)")
	compileCmd.Flags().String("ui", "auto", "per-class progress view (auto|on|off)")
}

func compileExecution(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	output, err := flags.GetString("output")
	if err != nil {
		return err
	}
	classNames, err := flags.GetStringArray("class-name")
	if err != nil {
		return err
	}
	directory, err := flags.GetString("directory")
	if err != nil {
		return err
	}
	classSet, err := flags.GetString("class-set")
	if err != nil {
		return err
	}
	searchPathValue, err := flags.GetString("search-path")
	if err != nil {
		return err
	}
	directives, err := flags.GetString("compile-commands")
	if err != nil {
		return err
	}
	threads, err := flags.GetInt("compile-threads")
	if err != nil {
		return err
	}
	ignoreErrors, err := flags.GetBool("ignore-errors")
	if err != nil {
		return err
	}
	exitOnError, err := flags.GetBool("exit-on-error")
	if err != nil {
		return err
	}
	tiered, err := flags.GetBool("compile-for-tiered")
	if err != nil {
		return err
	}
	assertions, err := flags.GetBool("compile-with-assertions")
	if err != nil {
		return err
	}
	compiler, err := flags.GetString("compiler")
	if err != nil {
		return err
	}
	linkerPath, err := flags.GetString("linker-path")
	if err != nil {
		return err
	}
	info, err := flags.GetBool("info")
	if err != nil {
		return err
	}
	verbose, err := flags.GetBool("verbose")
	if err != nil {
		return err
	}
	debug, err := flags.GetBool("debug")
	if err != nil {
		return err
	}
	uiValue, err := flags.GetString("ui")
	if err != nil {
		return err
	}
	colorValue, err := cmd.Root().PersistentFlags().GetString("color")
	if err != nil {
		return err
	}
	quiet, err := cmd.Root().PersistentFlags().GetBool("quiet")
	if err != nil {
		return err
	}

	uiModeValue, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	useColor, err := readColorMode(colorValue)
	if err != nil {
		return err
	}

	logger := log.New(os.Stdout, os.Stderr, log.Options{
		Info:    info && !quiet,
		Verbose: verbose && !quiet,
		Debug:   debug && !quiet,
		Color:   useColor,
	})
	logger.OpenCompilationLog()
	defer logger.CloseCompilationLog()

	fatal := func(err error) error {
		logger.Errorf("%v", err)
		return &reportedError{err: err}
	}

	// Конфиг даёт значения только там, где флаг не был указан.
	vals := config.Values{
		OutputName:     output,
		Threads:        threads,
		IgnoreErrors:   ignoreErrors,
		ExitOnError:    exitOnError,
		Directives:     directives,
		BackendCommand: compiler,
		Tiered:         tiered,
		Assertions:     assertions,
		LinkerPath:     linkerPath,
	}
	if path, ok, findErr := config.Find("."); findErr != nil {
		return fatal(findErr)
	} else if ok {
		f, loadErr := config.Load(path)
		if loadErr != nil {
			return fatal(loadErr)
		}
		f.MergeInto(&vals, flags.Changed)
		logger.Debugf("using config %s", path)
	}

	platform, err := link.HostPlatform(runtime.GOOS)
	if err != nil {
		return fatal(err)
	}
	library := vals.OutputName
	if library == "" {
		library = platform.DefaultLibraryName()
	}
	object := platform.ObjectFileName(library)

	var search classset.Search
	searchPath := filepath.SplitList(searchPathValue)
	for _, name := range classNames {
		search.Add(&classset.NameProvider{ClassName: name, SearchPath: searchPath})
	}
	if directory != "" {
		search.Add(&classset.DirProvider{Dir: directory})
	}
	if classSet != "" {
		search.Add(&classset.SetProvider{Path: classSet})
	}
	if search.Empty() {
		return usageErrorf("no classes to compile: use --class-name, --directory, or --class-set")
	}
	if vals.BackendCommand == "" {
		return usageErrorf("no compiler service specified: use --compiler or the [backend] table of %s", config.FileName)
	}

	tm := observ.NewTimer()

	spec, err := filter.Load(vals.Directives, logger)
	if err != nil {
		return fatal(err)
	}

	idx := tm.Begin("class search")
	classes, err := search.Run(logger)
	if err != nil {
		return fatal(err)
	}
	tm.End(idx, fmt.Sprintf("%d classes", len(classes)))

	serviceArgs := strings.Fields(vals.BackendCommand)
	client, err := ipc.Start(cmd.Context(), serviceArgs[0], serviceArgs[1:]...)
	if err != nil {
		return fatal(err)
	}
	defer func() {
		if closeErr := client.Close(); closeErr != nil {
			logger.Warningf("compiler service shutdown: %v", closeErr)
		}
	}()
	logger.Verbosef("compiler service: %s %s", client.Name(), client.Version())

	logger.Infof("Compiling %s...", library)

	policy := compile.Policy{IgnoreLoadErrors: vals.IgnoreErrors, ExitOnError: vals.ExitOnError}
	idx = tm.Begin("gathering")
	gathered, err := compile.Gather(classes, spec, client, policy, logger)
	if err != nil {
		return fatal(err)
	}
	tm.End(idx, fmt.Sprintf("%d classes with methods", len(gathered)))

	// Checkpoint: навсегда отпускаем spec и исходный набор классов.
	spec = nil
	classes = nil
	observ.Reclaim(logger)

	options := backend.Options{Tiered: vals.Tiered, Assertions: vals.Assertions}
	coord := &compile.Coordinator{
		Threads: compile.ResolveThreads(vals.Threads, logger),
		Options: options,
		Policy:  policy,
		Logger:  logger,
	}

	idx = tm.Begin("compilation")
	if shouldUseTUI(uiModeValue) && len(gathered) > 0 {
		err = runCompileWithUI(cmd.Context(), "aotc compile", coord, gathered, client)
	} else {
		err = coord.Compile(cmd.Context(), gathered, client)
	}
	if err != nil {
		return fatal(err)
	}
	tm.End(idx, "")
	observ.Reclaim(logger)

	container := binfmt.NewContainer()
	asm := &assemble.Assembler{Backend: client, Options: options, Logger: logger}
	idx = tm.Begin("assembly")
	if err := asm.Assemble(container, gathered); err != nil {
		return fatal(err)
	}
	tm.End(idx, "")
	container.ReportSizes(logger)

	gathered = nil
	observ.Reclaim(logger)

	idx = tm.Begin("binary creation")
	if err := container.Finalize(object); err != nil {
		return fatal(err)
	}
	tm.End(idx, object)
	observ.Reclaim(logger)

	linker := vals.LinkerPath
	if linker == "" {
		linker, err = link.DefaultLinker(platform, os.Getenv, func(path string) bool {
			_, statErr := os.Stat(path)
			return statErr == nil
		})
		if err != nil {
			return fatal(err)
		}
	}
	idx = tm.Begin("linking")
	ld := &link.Linker{Platform: platform, Path: linker, Logger: logger}
	if err := ld.Run(cmd.Context(), library, object); err != nil {
		return fatal(err)
	}
	tm.End(idx, library)

	logger.Verbosef("%s", tm.Summary())
	logger.Infof("Total time: %d ms", tm.Total().Milliseconds())
	return nil
}
