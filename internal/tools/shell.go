package tools

import "strings"

// ShellQuote wraps s in single quotes for interpolation into a remote
// shell command. Embedded single quotes are closed, escaped, and
// reopened, so the quoted string always reads as one word.
func ShellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
