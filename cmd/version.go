package cmd

import (
	"fmt"
	"io"
	"os"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/internal/version"
)

func initVersion() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: `Print the version of Test-Probe`,
		Long:  `Show version and build information for Test-Probe.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cmd.SilenceErrors = true
			cmd.SilenceUsage = true
			return generateCmdOutput(os.Stdout)
		},
	}
}

func generateCmdOutput(out io.Writer) error {
	fmt.Fprintln(out, "Version: "+version.Version)
	fmt.Fprintln(out, "Go Version: "+runtime.Version())
	fmt.Fprintln(out, "Platform: "+runtime.GOOS+"/"+runtime.GOARCH)
	return nil
}
