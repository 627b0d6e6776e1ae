package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "floord",
		Short:         "Floor-price lending daemon",
		Long:          "floord runs the pricing pool, collateral ledger and lender vault behind an HTTP API.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String("config", "", "path to a TOML or YAML configuration file")
	root.AddCommand(
		serveCommand(),
		inspectCommand(),
		keygenCommand(),
		tokenCommand(),
		initCommand(),
	)
	return root
}
