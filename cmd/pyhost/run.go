package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"
)

var runCmd = &cobra.Command{
	Use:   "run [file]",
	Short: "Run a Python script",
	Long: `Execute Python code in an embedded interpreter.

Code can be provided via:
  - File argument: pyhost run script.py
  - Inline flag: pyhost run -c 'print(1+1)'
  - Stdin: echo 'print(1+1)' | pyhost run

With --call, the named function is called after the code runs and its
result is printed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRun,
}

func init() {
	addRunFlags(runCmd)
	rootCmd.AddCommand(runCmd)
}

func addRunFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("code", "c", "", "Code to execute")
	cmd.Flags().String("call", "", "Function to call after the code runs")
}

// readSource returns the program text, or "" when there is nothing to run
// and stdin is a terminal.
func readSource(cmd *cobra.Command, args []string) (string, error) {
	if code, _ := cmd.Flags().GetString("code"); code != "" {
		return code, nil
	}
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	in := cmd.InOrStdin()
	if f, ok := in.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return "", nil
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func runRun(cmd *cobra.Command, args []string) error {
	source, err := readSource(cmd, args)
	if err != nil {
		return err
	}
	if source == "" {
		return cmd.Help()
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	ctx := context.Background()
	s, err := openSession(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	defer s.close(ctx)

	if err := s.ctx.Exec(ctx, source); err != nil {
		return err
	}
	if name, _ := cmd.Flags().GetString("call"); name != "" {
		v, err := s.ctx.Call(ctx, name)
		if err != nil {
			return err
		}
		if v != nil {
			fmt.Fprintln(cmd.OutOrStdout(), v)
		}
	}
	return nil
}
