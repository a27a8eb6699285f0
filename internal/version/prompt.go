package version

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
	"github.com/yourorg/unfreeze/internal/model"
)

// TerminalPrompter reads one line from In. The question is only written when
// In is an interactive terminal; piped input is read silently.
type TerminalPrompter struct {
	In          io.Reader
	Out         io.Writer
	Interactive bool
}

func NewTerminalPrompter() *TerminalPrompter {
	fd := os.Stdin.Fd()
	return &TerminalPrompter{
		In:          os.Stdin,
		Out:         os.Stderr,
		Interactive: isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd),
	}
}

func (p *TerminalPrompter) PromptVersion(ctx context.Context, target model.Target, suggestion string) (string, error) {
	if p.Interactive {
		fmt.Fprintf(p.Out, "Could not detect the Python version of %s.\n", target.Name)
		if suggestion != "" {
			fmt.Fprintf(p.Out, "The extractor reported an unusual code; best guess is %s.\n", suggestion)
		}
		fmt.Fprint(p.Out, "Enter Python version (e.g. 3.8): ")
	}

	type result struct {
		line string
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		line, err := bufio.NewReader(p.In).ReadString('\n')
		ch <- result{line: line, err: err}
	}()

	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case res := <-ch:
		if res.err != nil && !errors.Is(res.err, io.EOF) {
			return "", res.err
		}
		line := strings.TrimSpace(res.line)
		if line == "" {
			return "", errors.New("no version entered")
		}
		fmt.Fprintf(p.Out, "Using Python version %s\n", line)
		return line, nil
	}
}

// FixedPrompter answers with a preset version, e.g. from a command-line flag.
type FixedPrompter struct {
	Version string
}

func (p FixedPrompter) PromptVersion(context.Context, model.Target, string) (string, error) {
	if strings.TrimSpace(p.Version) == "" {
		return "", errors.New("no version supplied")
	}
	return p.Version, nil
}
