package adapter

import "strings"

// formatCommandForDisplay renders a program+argv pair for structured log
// lines, quoting arguments that contain whitespace or shell metacharacters
// so the logged command can be copy-pasted. Purely a diagnostics nicety.
func formatCommandForDisplay(program string, argv []string) string {
	parts := make([]string, 0, len(argv)+1)
	parts = append(parts, shellQuote(program))
	for _, a := range argv {
		parts = append(parts, shellQuote(a))
	}
	return strings.Join(parts, " ")
}

func shellQuote(s string) string {
	if s == "" {
		return "''"
	}
	if !strings.ContainsAny(s, " \t\n\"'\\$`") {
		return s
	}
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}
