package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "ribengine",
	Short: "ribengine link-state routing decision core",
	Long:  `ribengine computes a link-state IGP's routing table from adjacency and prefix advertisements, one reactor per configured area.`,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. Called once by main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.AddGroup(&cobra.Group{
		ID:    "ribengine",
		Title: "ribengine Commands",
	})
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "node.yaml", "node config path")
}
