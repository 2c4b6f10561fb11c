package main

import (
	"os"

	"github.com/matthew-bram/enterprise-confluent-test-probe-sub001/cmd"
)

func main() {
	if err := cmd.Command().Execute(); err != nil {
		os.Exit(1)
	}
}
