package tui

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
)

// PromptName asks for a display name. An empty answer, or end of input,
// returns def.
func PromptName(r *bufio.Reader, w io.Writer, def string) (string, error) {
	if def != "" {
		fmt.Fprintf(w, "Username [%s]: ", def)
	} else {
		fmt.Fprint(w, "Username: ")
	}

	line, err := r.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("read username: %w", err)
	}

	name := strings.TrimSpace(line)
	if name == "" {
		return def, nil
	}
	return name, nil
}
