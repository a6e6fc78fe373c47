package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cwbudde/dualaccel/internal/decomp"
)

var (
	genFlags overrides
	genOut   string
)

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Write a random instance as JSON",
	Long: `Generates the instance described by the configuration's generate section
and writes it to --out, so the same problem can be solved with --instance.`,
	RunE: runGenerate,
}

func init() {
	genFlags.register(generateCmd)
	generateCmd.Flags().StringVar(&genOut, "out", "instance.json", "Output file")
	rootCmd.AddCommand(generateCmd)
}

func runGenerate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	genFlags.apply(cmd, &cfg)

	inst, err := decomp.Generate(cfg.Instance.Generate)
	if err != nil {
		return err
	}

	f, err := os.Create(genOut)
	if err != nil {
		return fmt.Errorf("failed to create output: %w", err)
	}
	defer f.Close()

	if err := decomp.WriteInstance(f, inst); err != nil {
		return err
	}
	fmt.Printf("Wrote %s (%d variables, %d constraints)\n", genOut, inst.NumVars, len(inst.Constraints))
	return nil
}
