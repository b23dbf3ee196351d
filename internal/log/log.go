// Package log implements the leveled console printer used across the driver.
//
// A Logger is an explicit value handed to every component; there is no
// package-level default. Levels nest: debug implies verbose implies info.
package log

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"time"

	"github.com/fatih/color"
)

// Options configure a Logger.
type Options struct {
	Info    bool
	Verbose bool
	Debug   bool
	Color   bool // colorize warnings and errors
}

// Logger prints leveled diagnostics to an output and an error stream.
type Logger struct {
	out     io.Writer
	errOut  io.Writer
	info    bool
	verbose bool
	debug   bool

	warnColor *color.Color
	errColor  *color.Color

	compilationLog *os.File
}

// New creates a Logger writing regular output to out and warnings/errors to errOut.
func New(out, errOut io.Writer, opts Options) *Logger {
	// Вложенность уровней: debug ⇒ verbose ⇒ info
	if opts.Debug {
		opts.Verbose = true
	}
	if opts.Verbose {
		opts.Info = true
	}
	warnColor := color.New(color.FgYellow)
	errColor := color.New(color.FgRed, color.Bold)
	if !opts.Color {
		warnColor.DisableColor()
		errColor.DisableColor()
	}
	return &Logger{
		out:       out,
		errOut:    errOut,
		info:      opts.Info,
		verbose:   opts.Verbose,
		debug:     opts.Debug,
		warnColor: warnColor,
		errColor:  errColor,
	}
}

// Discard returns a Logger that prints nothing. Useful in tests.
func Discard() *Logger {
	return New(io.Discard, io.Discard, Options{})
}

// InfoEnabled reports whether info-level output is printed.
func (l *Logger) InfoEnabled() bool { return l.info }

// VerboseEnabled reports whether verbose-level output is printed.
func (l *Logger) VerboseEnabled() bool { return l.verbose }

// DebugEnabled reports whether debug-level output is printed.
func (l *Logger) DebugEnabled() bool { return l.debug }

// Infof prints a line at info level.
func (l *Logger) Infof(format string, args ...any) {
	if !l.info {
		return
	}
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Verbosef prints a line at verbose level.
func (l *Logger) Verbosef(format string, args ...any) {
	if !l.verbose {
		return
	}
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Debugf prints a line at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	if !l.debug {
		return
	}
	fmt.Fprintf(l.out, format+"\n", args...)
}

// Warningf prints a warning line regardless of level.
func (l *Logger) Warningf(format string, args ...any) {
	fmt.Fprintln(l.errOut, l.warnColor.Sprint("Warning: ")+fmt.Sprintf(format, args...))
}

// Errorf prints an error line regardless of level. When verbose output is
// enabled a goroutine stack dump follows, matching the fatal-path diagnostics
// contract of the CLI.
func (l *Logger) Errorf(format string, args ...any) {
	fmt.Fprintln(l.errOut, l.errColor.Sprint("Error: ")+fmt.Sprintf(format, args...))
	if l.verbose {
		buf := make([]byte, 1<<16)
		n := runtime.Stack(buf, false)
		fmt.Fprintf(l.errOut, "%s\n", buf[:n])
	}
}

// CompilationLogEnv is the environment variable that enables the per-run
// compilation log file.
const CompilationLogEnv = "AOTC_LOG_COMPILATION"

// OpenCompilationLog creates the per-run compilation log in the current
// directory when AOTC_LOG_COMPILATION=1. Failure to create the file is not
// fatal: a warning is printed and logging is skipped for the run.
func (l *Logger) OpenCompilationLog() {
	if os.Getenv(CompilationLogEnv) != "1" {
		return
	}
	name := fmt.Sprintf("aotc_compilation%d.log", time.Now().UnixMilli())
	f, err := os.Create(name)
	if err != nil {
		l.Warningf("unable to open logfile %s, no logs will be created", name)
		return
	}
	l.compilationLog = f
}

// WriteLog appends a line to the compilation log, if one is open.
func (l *Logger) WriteLog(str string) {
	if l.compilationLog == nil {
		return
	}
	if _, err := fmt.Fprintln(l.compilationLog, str); err != nil {
		fmt.Fprintln(l.out, str)
	}
}

// CloseCompilationLog closes the compilation log, if one is open.
func (l *Logger) CloseCompilationLog() {
	if l.compilationLog == nil {
		return
	}
	_ = l.compilationLog.Close()
	l.compilationLog = nil
}
