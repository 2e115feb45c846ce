// sheetjobs - client for the spreadsheet processing service
//
// Build with version information:
//
//	go build -ldflags "-X github.com/rescale/sheetjobs/internal/version.Version=v0.3.0" ./cmd/sheetjobs
package main

import (
	"os"

	"github.com/rescale/sheetjobs/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
