// Package normalizer runs an external text normalizer (for example a NeMo
// wrapper script) that reads raw text on stdin and writes normalized text
// to stdout.
package normalizer

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"os/exec"
	"strings"

	"ljspush/corpus"
)

// LocaleEnv is set in the child environment to the requested locale.
const LocaleEnv = "LJSPUSH_LOCALE"

type ExecNormalizer struct {
	// Command is the executable followed by its arguments. The token
	// "{locale}" in an argument is replaced by the requested locale.
	Command []string
	// Logger receives the child's stderr lines. Nil discards them.
	Logger *log.Logger
}

var _ corpus.TextNormalizer = ExecNormalizer{}

func New(command string, logger *log.Logger) (ExecNormalizer, error) {
	args := strings.Fields(command)
	if len(args) == 0 {
		return ExecNormalizer{}, errors.New("normalizer command is empty")
	}
	return ExecNormalizer{Command: args, Logger: logger}, nil
}

func (n ExecNormalizer) Normalize(ctx context.Context, text string, locale string) (string, error) {
	if len(n.Command) == 0 {
		return "", errors.New("normalizer command is empty")
	}

	args := make([]string, len(n.Command)-1)
	for i, a := range n.Command[1:] {
		args[i] = strings.ReplaceAll(a, "{locale}", locale)
	}

	cmd := exec.CommandContext(ctx, n.Command[0], args...)
	cmd.Env = append(os.Environ(), LocaleEnv+"="+locale)
	cmd.Stdin = strings.NewReader(text + "\n")

	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return "", fmt.Errorf("normalizing with %s: stderr pipe: %w", n.Command[0], err)
	}

	if err := cmd.Start(); err != nil {
		return "", fmt.Errorf("normalizing with %s: %w", n.Command[0], err)
	}

	// stderr must be fully read before Wait closes the pipe.
	n.drain(stderr)

	if err := cmd.Wait(); err != nil {
		return "", fmt.Errorf("normalizing with %s: %w", n.Command[0], err)
	}

	out := strings.TrimRight(stdout.String(), "\r\n")
	if out == "" && strings.TrimSpace(text) != "" {
		return "", fmt.Errorf("normalizing with %s: empty output", n.Command[0])
	}
	return out, nil
}

// maxLogLine bounds a forwarded stderr line.
const maxLogLine = 1 << 20

// drain forwards stderr line by line and always reads r to EOF, so a child
// writing an overlong line never blocks on a full pipe.
func (n ExecNormalizer) drain(r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLogLine)
	scanner.Split(bufio.ScanLines)
	for scanner.Scan() {
		if n.Logger != nil {
			n.Logger.Println(scanner.Text())
		}
	}
	if err := scanner.Err(); err != nil && n.Logger != nil {
		n.Logger.Printf("stderr: %v, discarding the rest", err)
	}
	io.Copy(io.Discard, r)
}
