// Package main provides the warpsim command-line interface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tebeka/atexit"

	"github.com/sarchlab/warpsim/datarecording"
	"github.com/sarchlab/warpsim/loader"
	"github.com/sarchlab/warpsim/monitoring"
	"github.com/sarchlab/warpsim/timing/engine"
)

var rootCmd = &cobra.Command{
	Use:   "warpsim",
	Short: "warpsim is a cycle-level SIMT GPU pipeline simulator",
	Long: `warpsim simulates a warp-based GPU pipeline at cycle level: an ` +
		`event-driven engine fetches instructions for each warp through a ` +
		`set-associative cache backed by a latency-modeled main memory, and ` +
		`reports IPC, hit rate, and eviction counters.`,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run a simulation",
	RunE:  runSimulation,
}

var (
	configPath  string
	programPath string
	asmPath     string
	tracePath   string
	recordPath  string
	monitorPort int
	numWarps    uint32
	cacheSize   uint32
	lineSize    uint32
	memLatency  uint32
	verbose     bool
)

func init() {
	flags := runCmd.Flags()
	flags.StringVar(&configPath, "config", "",
		"path to a simulation configuration JSON file")
	flags.StringVar(&programPath, "program", "",
		"binary program of little-endian 32-bit words")
	flags.StringVar(&asmPath, "asm", "",
		"assembly program with labels")
	flags.StringVar(&tracePath, "trace", "",
		"write the event trace to this CSV file")
	flags.StringVar(&recordPath, "record", "",
		"record trace and access history into this SQLite database")
	flags.IntVar(&monitorPort, "monitor", 0,
		"serve monitoring HTTP API on this port (0 disables)")
	flags.Uint32Var(&numWarps, "warps", 0, "override num_warps")
	flags.Uint32Var(&cacheSize, "cache-size", 0, "override cache_size")
	flags.Uint32Var(&lineSize, "line-size", 0, "override cache_line_size")
	flags.Uint32Var(&memLatency, "latency", 0, "override memory_latency")
	flags.BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(runCmd)
}

func buildConfig() (engine.Config, error) {
	config := engine.DefaultConfig()

	if configPath != "" {
		loaded, err := engine.LoadConfig(configPath)
		if err != nil {
			return engine.Config{}, err
		}

		config = loaded
	}

	if numWarps != 0 {
		config.NumWarps = numWarps
	}

	if cacheSize != 0 {
		config.CacheSize = cacheSize
	}

	if lineSize != 0 {
		config.CacheLineSize = lineSize
	}

	if memLatency != 0 {
		config.MemoryLatency = memLatency
	}

	if tracePath != "" {
		config.TraceFile = tracePath
	}

	return config, nil
}

func runSimulation(cmd *cobra.Command, args []string) error {
	config, err := buildConfig()
	if err != nil {
		return err
	}

	eng, err := engine.New(config)
	if err != nil {
		return err
	}

	eng.Initialize()

	// Standalone runs decode their own instructions; the engine's hook
	// classifies branches and exits.
	eng.SetInstructionCompleteCallback(eng.InstructionComplete)

	if err := loadProgram(eng); err != nil {
		return err
	}

	if monitorPort != 0 {
		monitor := monitoring.NewMonitor().WithPortNumber(monitorPort)
		monitor.RegisterEngine(eng)
		if _, err := monitor.StartServer(); err != nil {
			return err
		}
	}

	eng.Run()

	eng.PrintStatistics(os.Stdout)
	if verbose {
		eng.Memory().PrintState(os.Stdout)
	}

	if config.TraceFile != "" {
		if err := eng.DumpTrace(""); err != nil {
			return err
		}

		if verbose {
			fmt.Printf("Trace written to %s\n", config.TraceFile)
		}
	}

	if recordPath != "" {
		recorder := datarecording.New(recordPath)
		datarecording.RecordSimulation(recorder, eng)
	}

	return nil
}

func loadProgram(eng *engine.Engine) error {
	if programPath == "" && asmPath == "" {
		return nil
	}

	l := loader.New(eng.Memory())

	if programPath != "" {
		if _, err := l.LoadBinary(programPath); err != nil {
			return err
		}
	}

	if asmPath != "" {
		if _, err := l.LoadAssembly(asmPath); err != nil {
			return err
		}
	}

	if verbose {
		l.PrintProgram(os.Stdout, 0, 8)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		atexit.Exit(1)
	}

	atexit.Exit(0)
}
