/*
Copyright © 2026 NAME HERE <EMAIL ADDRESS>
*/
package cmd

import (
	"os"

	"github.com/spf13/cobra"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "linerelay",
	Short: "Relay LINE messages to an OpenAI chat model",
	Long:  "LineRelay receives LINE webhook deliveries, asks an OpenAI chat model for a reply, and answers each text message through the LINE reply API.",
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
