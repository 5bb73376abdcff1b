package main

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyhost/internal/fetch"
	"github.com/caffeineduck/pyhost/language/python"
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <url>",
	Short: "Download the interpreter module",
	Long: `Download a RustPython WASI build into the module cache, where pyhost
finds it without --module or PYHOST_PYTHON_WASM.

An existing module is kept unless --force is given.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().String("output", "", "Destination (default: the module cache)")
	fetchCmd.Flags().String("sha256", "", "Expected SHA-256 of the module")
	fetchCmd.Flags().Bool("force", false, "Replace an existing module")
	fetchCmd.Flags().Duration("timeout", 5*time.Minute, "Download timeout")
	rootCmd.AddCommand(fetchCmd)
}

func runFetch(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")
	sum, _ := cmd.Flags().GetString("sha256")
	force, _ := cmd.Flags().GetBool("force")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	if output == "" {
		output = python.DefaultModulePath()
	}

	client := &http.Client{Timeout: timeout}
	res, err := fetch.File(cmd.Context(), client, args[0], output, sum, force)
	if err != nil {
		return fmt.Errorf("fetch %s: %w", args[0], err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), res)
	return nil
}
