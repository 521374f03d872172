package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "duskmoo",
	Short: "duskmoo is a LambdaMOO-compatible object database server",
	Long: `duskmoo runs a LambdaMOO-compatible world: a compiler and virtual
machine for the MOO programming language, a task scheduler with
MVCC-isolated transactions, and an object database with single-parent
inheritance of verbs and properties.`,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(verifyCmd)
}
