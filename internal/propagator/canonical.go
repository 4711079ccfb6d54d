package propagator

import "strings"

// CanonicalProgramName derives the identifier a predecessor's outputs are
// exposed under to its successors (§4.3 "Canonical program name"): keep
// letters/digits, upper-case the character following each separator
// (space, '_', '-'), prefix "Program" if the result starts with a digit,
// and fall back to "UnknownProgram" when the input yields nothing.
func CanonicalProgramName(displayName string) string {
	var b strings.Builder
	upperNext := false
	for _, r := range displayName {
		switch {
		case r == ' ' || r == '_' || r == '-':
			upperNext = true
		case isLetterOrDigit(r):
			if upperNext {
				b.WriteRune(toUpper(r))
				upperNext = false
			} else {
				b.WriteRune(r)
			}
		default:
			// Drop any other character but still honor a pending
			// upper-case request for the next kept rune.
		}
	}

	name := b.String()
	if name == "" {
		return "UnknownProgram"
	}
	if name[0] >= '0' && name[0] <= '9' {
		name = "Program" + name
	}
	return name
}

func isLetterOrDigit(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')
}

func toUpper(r rune) rune {
	if r >= 'a' && r <= 'z' {
		return r - ('a' - 'A')
	}
	return r
}
