// Package cmd wires the probe's CLI: the run command serving the REST
// surface and the version command.
package cmd

import (
	"github.com/spf13/cobra"
)

const brand = "Test-Probe"

// Command builds the root CLI command.
func Command() *cobra.Command {
	root := &cobra.Command{
		Use:   "test-probe",
		Short: brand + " executes declarative Kafka integration tests",
		Long: brand + ` pulls test bundles from object storage, provisions the
producers and consumers they declare, drives real traffic against Kafka
with Schema-Registry-aware serialization, and uploads evidence back.`,
		SilenceUsage: true,
	}
	root.AddCommand(initRun())
	root.AddCommand(initVersion())
	return root
}
