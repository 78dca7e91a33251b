// Command tabula exercises growable columns from the command line: it
// stress-tests concurrent writes against resizes, round-trips snapshots and
// exports columns to Parquet or Arrow IPC.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

var version = "0.1.0"

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := newRootCommand(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
