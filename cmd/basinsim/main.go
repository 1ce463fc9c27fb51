package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/martinemde/basin/ecokernel"
	"github.com/martinemde/basin/popsim"
)

var (
	// Global flags
	verbose    bool
	configPath string
	seed       int64
	duration   time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "basinsim",
	Short: "basinsim - ecological arbitration kernel simulator",
	Long: `basinsim drives an arbitration kernel with synthetic agent traffic.

A roster of agents reports randomized cost/benefit samples, the kernel
arbitrates the resulting resource contention through its intervention
sequence, and a Lotka-Volterra projection tracks the population-level
effect of every decision. Events stream to the log as they happen and the
final ecosystem health report prints as JSON on shutdown.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		config := zap.NewProductionConfig()
		if verbose {
			config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = config.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

// runCmd drives the simulation
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the simulation until interrupted or --duration elapses",
	RunE:  runSimulation,
}

// inspectCmd validates configuration without running anything
var inspectCmd = &cobra.Command{
	Use:   "inspect",
	Short: "Validate the configuration and print the resolved settings",
	RunE:  inspectConfig,
}

// mechanismsCmd prints the intervention catalog
var mechanismsCmd = &cobra.Command{
	Use:   "mechanisms",
	Short: "List the intervention mechanisms in priority order",
	RunE:  listMechanisms,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to simulation config YAML")

	runCmd.Flags().Int64Var(&seed, "seed", 0, "Override the config's random seed")
	runCmd.Flags().DurationVar(&duration, "duration", 0, "Stop after this long (0 = run until interrupted)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(mechanismsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// inspectConfig loads the config, runs the same conversions the simulation
// would, and prints everything resolved as JSON.
func inspectConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadSimConfig(configPath)
	if err != nil {
		return err
	}
	kernelCfg, err := cfg.Kernel.toKernelConfig()
	if err != nil {
		return err
	}
	popCfg, err := cfg.Popsim.toPopsimConfig()
	if err != nil {
		return err
	}

	resolved := struct {
		ConfigPath string                 `json:"config_path,omitempty"`
		Sim        *SimConfig             `json:"sim"`
		Kernel     ecokernel.KernelConfig `json:"resolved_kernel"`
		Popsim     popsim.Config          `json:"resolved_popsim"`
	}{
		ConfigPath: configPath,
		Sim:        cfg,
		Kernel:     kernelCfg,
		Popsim:     popCfg,
	}
	out, err := json.MarshalIndent(resolved, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func listMechanisms(cmd *cobra.Command, args []string) error {
	for i, info := range ecokernel.Interventions() {
		fmt.Printf("%d. %s\n   %s\n   applicable when: %s\n", i+1, info.Kind, info.Summary, info.Applicable)
	}
	return nil
}
