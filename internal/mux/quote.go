package mux

import "strings"

// singleQuote wraps s in single quotes for a POSIX shell, escaping any
// embedded single quote with the '\'' sequence.
func singleQuote(s string) string {
	if s == "" {
		return "''"
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// ShellQuote quotes a single argument for a POSIX shell. Exported for
// callers that compose commands passed to Exec.
func ShellQuote(s string) string {
	return singleQuote(s)
}

// shellJoin quotes each argument and joins them with spaces, producing a
// command line safe to pass through a remote shell.
func shellJoin(args []string) string {
	quoted := make([]string, len(args))
	for i, a := range args {
		quoted[i] = singleQuote(a)
	}
	return strings.Join(quoted, " ")
}
