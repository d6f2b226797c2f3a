// Package main provides the entry point for warpsim.
// warpsim is a cycle-level SIMT GPU pipeline simulator.
//
// For the full CLI, use: go run ./cmd/warpsim
package main

import (
	"fmt"
	"os"
)

func main() {
	fmt.Println("warpsim - Cycle-Level SIMT GPU Pipeline Simulator")
	fmt.Println("")
	fmt.Println("Usage: warpsim run [options]")
	fmt.Println("")
	fmt.Println("Options:")
	fmt.Println("  --config     Path to simulation configuration JSON file")
	fmt.Println("  --program    Binary program of 32-bit words")
	fmt.Println("  --asm        Assembly program with labels")
	fmt.Println("  --trace      Write the event trace to a CSV file")
	fmt.Println("  -v           Verbose output")
	fmt.Println("")
	fmt.Println("Run 'go run ./cmd/warpsim' for the full CLI.")

	if len(os.Args) > 1 {
		fmt.Println("\nNote: You provided arguments. Use 'go run ./cmd/warpsim' instead.")
	}
}
