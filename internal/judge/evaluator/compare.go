package evaluator

import "strings"

// Comparator decides whether program output matches the expected answer.
type Comparator interface {
	Compare(output, expected string) bool
}

// TrailingWhitespaceComparator ignores trailing whitespace on each line and
// trailing blank lines; everything else must match exactly.
type TrailingWhitespaceComparator struct{}

func (TrailingWhitespaceComparator) Compare(output, expected string) bool {
	return normalizeOutput(output) == normalizeOutput(expected)
}

func normalizeOutput(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t\r\f\v")
	}
	end := len(lines)
	for end > 0 && lines[end-1] == "" {
		end--
	}
	return strings.Join(lines[:end], "\n")
}
