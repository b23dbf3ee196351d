// Package main implements the aotc CLI.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"aotc/internal/version"
)

// Exit codes of the driver.
const (
	exitOK          = 0
	exitCommandLine = 2
	exitAbnormal    = 4
)

var rootCmd = &cobra.Command{
	Use:   "aotc",
	Short: "Ahead-of-time compilation driver",
	Long:  "aotc compiles class descriptors into a native shared library through an external compiler service.",
}

// commandLineError marks errors caused by bad command-line input; they map
// to exit code 2 instead of 4.
type commandLineError struct{ err error }

func (e *commandLineError) Error() string { return e.err.Error() }
func (e *commandLineError) Unwrap() error { return e.err }

func usageErrorf(format string, args ...any) error {
	return &commandLineError{err: fmt.Errorf(format, args...)}
}

// reportedError marks errors the compile pipeline already printed through
// its logger; main only sets the exit code.
type reportedError struct{ err error }

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }

func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(compileCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(versionCmd)

	// Глобальные флаги
	rootCmd.PersistentFlags().String("color", "auto", "colorize output (auto|on|off)")
	rootCmd.PersistentFlags().Bool("quiet", false, "suppress non-essential output")

	rootCmd.SilenceErrors = true
	rootCmd.SetFlagErrorFunc(func(_ *cobra.Command, err error) error {
		return &commandLineError{err: err}
	})

	if err := rootCmd.Execute(); err != nil {
		var cle *commandLineError
		if errors.As(err, &cle) {
			fmt.Fprintln(os.Stderr, "Error: "+err.Error())
			os.Exit(exitCommandLine)
		}
		var rep *reportedError
		if !errors.As(err, &rep) {
			fmt.Fprintln(os.Stderr, "Error: "+err.Error())
		}
		os.Exit(exitAbnormal)
	}
	os.Exit(exitOK)
}

// isTerminal проверяет, является ли файл терминалом
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
