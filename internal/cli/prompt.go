package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"golang.org/x/term"
)

// promptPassword reads a secret from the terminal without echo.
func promptPassword(label string) (string, error) {
	fmt.Fprint(os.Stderr, label)
	b, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(b)), nil
}

// promptString asks for a value, returning def on an empty answer.
func promptString(r *bufio.Reader, w io.Writer, label, def string) string {
	if def != "" {
		fmt.Fprintf(w, "%s [%s]: ", label, def)
	} else {
		fmt.Fprintf(w, "%s: ", label)
	}
	input, _ := r.ReadString('\n')
	input = strings.TrimSpace(input)
	if input == "" {
		return def
	}
	return input
}

// promptInt is promptString for positive integers; invalid input yields def.
func promptInt(r *bufio.Reader, w io.Writer, label string, def int) int {
	input := promptString(r, w, label, strconv.Itoa(def))
	if v, err := strconv.Atoi(input); err == nil && v > 0 {
		return v
	}
	return def
}

// promptYesNo asks a y/N question.
func promptYesNo(r *bufio.Reader, w io.Writer, label string) bool {
	fmt.Fprintf(w, "%s [y/N]: ", label)
	input, _ := r.ReadString('\n')
	input = strings.ToLower(strings.TrimSpace(input))
	return input == "y" || input == "yes"
}

// OverwriteAction is the user's choice when a result file already exists.
type OverwriteAction int

const (
	OverwriteReplace OverwriteAction = iota
	OverwriteSkip
	OverwriteAbort
)

// promptOverwrite asks what to do about an existing local file.
func promptOverwrite(r *bufio.Reader, w io.Writer, path string) (OverwriteAction, error) {
	for {
		fmt.Fprintf(w, "\nFile '%s' already exists.\n", path)
		fmt.Fprintln(w, "What would you like to do?")
		fmt.Fprintln(w, "  1. Overwrite - Replace the existing file")
		fmt.Fprintln(w, "  2. Skip - Keep the existing file")
		fmt.Fprintln(w, "  3. Abort - Stop download")
		fmt.Fprint(w, "Choose [1-3]: ")

		input, err := r.ReadString('\n')
		if err != nil {
			return OverwriteAbort, err
		}

		switch strings.TrimSpace(input) {
		case "1":
			return OverwriteReplace, nil
		case "2":
			return OverwriteSkip, nil
		case "3":
			return OverwriteAbort, nil
		default:
			fmt.Fprintln(w, "Invalid choice, please try again.")
		}
	}
}
