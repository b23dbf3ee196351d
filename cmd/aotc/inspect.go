package main

import (
	"debug/elf"
	"fmt"

	"github.com/spf13/cobra"

	"aotc/internal/binfmt"
)

var inspectCmd = &cobra.Command{
	Use:   "inspect <object-or-library>",
	Short: "Print the AOT section table of an emitted ELF file",
	Args:  cobra.ExactArgs(1),
	RunE:  inspectExecution,
}

func inspectExecution(cmd *cobra.Command, args []string) error {
	path := args[0]
	f, err := elf.Open(path)
	if err != nil {
		return fmt.Errorf("%s is not a readable ELF file: %w", path, err)
	}
	defer f.Close()

	out := cmd.OutOrStdout()
	found := 0
	var total uint64
	for _, k := range binfmt.Layout() {
		sec := f.Section("." + k.String())
		if sec == nil {
			continue
		}
		found++
		total += sec.Size
		fmt.Fprintf(out, "%-22s %10d bytes\n", k.String(), sec.Size)
	}
	if found == 0 {
		return fmt.Errorf("%s carries no AOT sections", path)
	}
	fmt.Fprintf(out, "%-22s %10d bytes\n", "total", total)
	return nil
}
