package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/ZacharyZcR/PEInspect/internal/analysis"
	"github.com/fatih/color"
)

// Command is one of the fixed shell commands.
type Command int

const (
	CommandAnalyze Command = iota
	CommandImports
	CommandExports
	CommandExit
)

var commandNames = map[string]Command{
	"analyze": CommandAnalyze,
	"imports": CommandImports,
	"exports": CommandExports,
	"exit":    CommandExit,
}

func (c Command) String() string {
	for name, cmd := range commandNames {
		if cmd == c {
			return name
		}
	}
	return fmt.Sprintf("Command(%d)", int(c))
}

// ParseCommand maps a command word to its Command.
func ParseCommand(word string) (Command, bool) {
	c, ok := commandNames[strings.ToLower(word)]
	return c, ok
}

// Analyzer is the pipeline the shell drives.
type Analyzer interface {
	Analyze(ctx context.Context, path string) (*analysis.Result, error)
}

// Shell is the interactive command loop.
type Shell struct {
	in       *bufio.Scanner
	out      io.Writer
	analyzer Analyzer
	reporter *Reporter
	log      *slog.Logger
}

// NewShell creates a shell reading commands from in and printing to out.
func NewShell(in io.Reader, out io.Writer, analyzer Analyzer, reporter *Reporter, log *slog.Logger) *Shell {
	return &Shell{
		in:       bufio.NewScanner(in),
		out:      out,
		analyzer: analyzer,
		reporter: reporter,
		log:      log,
	}
}

// Run reads commands until exit, end of input or cancellation. Errors
// analyzing a file are printed and the loop continues.
func (s *Shell) Run(ctx context.Context) error {
	s.log.Info("shell started")
	prompt := color.New(color.FgCyan, color.Bold)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		prompt.Fprint(s.out, "peinspect> ")
		line, ok := s.readLine()
		if !ok {
			fmt.Fprintln(s.out)
			return s.in.Err()
		}

		word, rest, _ := strings.Cut(strings.TrimSpace(line), " ")
		if word == "" {
			continue
		}

		cmd, known := ParseCommand(word)
		if !known {
			s.log.Warn("unknown command", "input", word)
			color.New(color.FgYellow).Fprintf(s.out, "Unknown command %q. Commands: analyze, imports, exports, exit\n", word)
			continue
		}
		if cmd == CommandExit {
			s.log.Info("exiting shell")
			return nil
		}

		path := strings.TrimSpace(rest)
		if path == "" {
			fmt.Fprint(s.out, "Enter path to binary: ")
			if path, ok = s.readLine(); !ok {
				fmt.Fprintln(s.out)
				return s.in.Err()
			}
			path = strings.TrimSpace(path)
		}

		if err := s.Dispatch(ctx, cmd, path); err != nil {
			s.log.Error("command failed", "command", cmd.String(), "path", path, "kind", analysis.Classify(err).String())
			color.New(color.FgRed, color.Bold).Fprintf(s.out, "Error: %v\n", err)
		}
	}
}

// Dispatch runs cmd against path and prints its output.
func (s *Shell) Dispatch(ctx context.Context, cmd Command, path string) error {
	var render func(*analysis.Result)
	switch cmd {
	case CommandAnalyze:
		render = s.reporter.PrintAnalyze
	case CommandImports:
		render = s.reporter.PrintImports
	case CommandExports:
		render = s.reporter.PrintExports
	default:
		return fmt.Errorf("command %s takes no path", cmd)
	}
	if path == "" {
		return fmt.Errorf("%s: no path given", cmd)
	}

	res, err := s.analyzer.Analyze(ctx, path)
	if err != nil {
		return err
	}
	render(res)
	return nil
}

func (s *Shell) readLine() (string, bool) {
	if !s.in.Scan() {
		return "", false
	}
	return s.in.Text(), true
}
