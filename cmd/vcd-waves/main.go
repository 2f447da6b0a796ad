// =============================================================================
// vcd-waves - Main Entry Point
// =============================================================================
//
// Serves and queries VCD waveform dumps without loading them into memory.
//
// THE PIPELINE:
//   1. The first query on a dump scans it once for "#<time>" markers
//   2. The resulting time index is cached by path (dir, sqlite or redis)
//   3. Header queries stop at $enddefinitions
//   4. History queries stream from the first block to the end
//   5. Snapshot queries stream only the blocks around the requested time
//
// Run 'vcd-waves init' to create a configuration file.
// =============================================================================

package main

import (
	"fmt"
	"os"
)

func main() {
	if err := newRootCmd(os.Stdout, os.Stderr).Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
