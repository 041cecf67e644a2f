package driver

import (
	"bufio"
	"fmt"
	"io"
	"strings"

	"golang.org/x/term"
)

// Confirmer asks a yes/no question and reports the user's answer.
type Confirmer func(prompt string) (bool, error)

// TerminalConfirmer reads a yes/no answer from in, writing the prompt to
// out. When stdinFd is not an interactive terminal (piped input, CI) it
// answers no without blocking, the same non-interactive fallback the
// teacher's approval prompt used for unattended runs.
func TerminalConfirmer(in io.Reader, out io.Writer, stdinFd int) Confirmer {
	return func(prompt string) (bool, error) {
		if !term.IsTerminal(stdinFd) {
			return false, nil
		}
		fmt.Fprintf(out, "%s [y/N]: ", prompt)
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && err != io.EOF {
			return false, err
		}
		line = strings.ToLower(strings.TrimSpace(line))
		return line == "y" || line == "yes", nil
	}
}
