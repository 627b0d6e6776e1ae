package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"floorlend/config"
)

func initCommand() *cobra.Command {
	c := &cobra.Command{
		Use:   "init <path>",
		Short: "Write a default configuration file",
		Args:  cobra.ExactArgs(1),
		RunE:  runInit,
	}
	c.Flags().Bool("force", false, "overwrite an existing file")
	return c
}

func runInit(c *cobra.Command, args []string) error {
	path := args[0]
	if force, _ := c.Flags().GetBool("force"); !force {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("%s already exists", path)
		}
	}
	if err := config.Write(path, config.Default()); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	fmt.Fprintf(c.OutOrStdout(), "wrote %s\n", path)
	return nil
}
