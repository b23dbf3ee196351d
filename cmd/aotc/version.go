package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"aotc/internal/version"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show the aotc version",
	RunE: func(cmd *cobra.Command, _ []string) error {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "aotc %s\n", version.Version)
		if commit := strings.TrimSpace(version.GitCommit); commit != "" {
			fmt.Fprintf(out, "commit: %s\n", commit)
		}
		if date := strings.TrimSpace(version.BuildDate); date != "" {
			fmt.Fprintf(out, "built:  %s\n", date)
		}
		return nil
	},
}
