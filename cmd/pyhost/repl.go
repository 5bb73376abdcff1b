package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/chzyer/readline"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/caffeineduck/pyhost/pyerr"
)

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Interactive REPL with persistent state",
	Long: `Start an interactive REPL (Read-Eval-Print Loop) session.

Features:
  - Command history (up/down arrows)
  - Line editing (left/right, backspace, delete)
  - History search (Ctrl+R)
  - Multi-line input (end line with \ or open a block with :)
  - Expression results are printed

Type 'exit' or 'quit' to end the session, or press Ctrl+D.`,
	Args: cobra.NoArgs,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().String("history", "", "History file path (default: ~/.pyhost_history)")
	rootCmd.AddCommand(replCmd)
}

const (
	prompt     = ">>> "
	contPrompt = "... "
)

func runRepl(cmd *cobra.Command, args []string) error {
	historyFile, _ := cmd.Flags().GetString("history")
	if historyFile == "" {
		home, _ := os.UserHomeDir()
		historyFile = filepath.Join(home, ".pyhost_history")
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := context.Background()
	s, err := openSession(ctx, cfg, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if err != nil {
		return fmt.Errorf("starting session: %w", err)
	}
	defer s.close(ctx)

	rl, err := readline.NewEx(&readline.Config{
		Prompt:            prompt,
		HistoryFile:       historyFile,
		HistoryLimit:      1000,
		InterruptPrompt:   "^C",
		EOFPrompt:         "exit",
		HistorySearchFold: true,
	})
	if err != nil {
		return fmt.Errorf("initializing readline: %w", err)
	}
	defer rl.Close()

	limit := "none"
	if n, _ := cfg.MemoryLimitBytes(); n > 0 {
		limit = humanize.IBytes(n)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "pyhost python REPL (%s mode, memory limit %s; type 'exit' to quit, Ctrl+D to exit)\n",
		s.ctx.Mode(), limit)

	var in input
	for {
		line, err := rl.Readline()
		if err != nil {
			if err == readline.ErrInterrupt {
				in.reset()
				rl.SetPrompt(prompt)
				continue
			}
			if err == io.EOF {
				fmt.Fprintln(cmd.OutOrStdout())
				break
			}
			return fmt.Errorf("reading input: %w", err)
		}

		src, done := in.add(line)
		if !done {
			rl.SetPrompt(contPrompt)
			continue
		}
		rl.SetPrompt(prompt)

		src = strings.TrimSpace(src)
		if src == "" {
			continue
		}
		if src == "exit" || src == "quit" {
			break
		}
		if err := evaluate(ctx, s, src); err != nil {
			fmt.Fprint(cmd.ErrOrStderr(), formatError(err))
		}
	}
	return nil
}

// evaluate runs src, printing the repr of a bare expression the way the
// Python REPL does.
func evaluate(ctx context.Context, s *session, src string) error {
	if !strings.Contains(src, "\n") {
		err := s.ctx.Exec(ctx, "_ = ("+src+")\nif _ is not None: print(repr(_))")
		var exc *pyerr.Exception
		if !errors.As(err, &exc) || exc.Type != "SyntaxError" {
			return err
		}
	}
	return s.ctx.Exec(ctx, src)
}

// input accumulates continuation lines. A trailing backslash continues
// the line; a trailing colon opens a block that ends at an empty line.
type input struct {
	buf   strings.Builder
	block bool
}

func (in *input) add(line string) (string, bool) {
	switch {
	case strings.HasSuffix(line, "\\"):
		in.buf.WriteString(strings.TrimSuffix(line, "\\"))
		in.buf.WriteByte('\n')
		return "", false
	case strings.HasSuffix(strings.TrimSpace(line), ":"):
		in.block = true
		in.buf.WriteString(line)
		in.buf.WriteByte('\n')
		return "", false
	case in.block && strings.TrimSpace(line) != "":
		in.buf.WriteString(line)
		in.buf.WriteByte('\n')
		return "", false
	}
	in.buf.WriteString(line)
	src := in.buf.String()
	in.reset()
	return src, true
}

func (in *input) reset() {
	in.buf.Reset()
	in.block = false
}
