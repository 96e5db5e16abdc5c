package main

import (
	"fmt"
	"runtime/debug"

	"github.com/spf13/cobra"
)

var (
	// Version is the current version (overridden by ldflags at build time).
	Version = "0.3.0"
	// Build can be set via ldflags at compile time.
	Build = "dev"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		if commit := resolveCommitHash(); commit != "" {
			fmt.Printf("patchline version %s (%s: %s)\n", Version, Build, commit)
			return
		}
		fmt.Printf("patchline version %s (%s)\n", Version, Build)
	},
}

// resolveCommitHash reads the vcs revision stamped into the binary.
func resolveCommitHash() string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			if len(setting.Value) > 12 {
				return setting.Value[:12]
			}
			return setting.Value
		}
	}
	return ""
}
