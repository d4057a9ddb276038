package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/aatumaykin/nexbeat/internal/version"
)

func (c *cli) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version information",
		Long:  `Display the version, build time, git commit and Go version of Nexbeat.`,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintln(c.stdout, version.Info())
		},
	}
}
