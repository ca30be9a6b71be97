package data

import (
	"regexp"
	"strings"
)

// Fnmatch reports whether name matches the shell pattern as a whole. The
// pattern language is "*", "?", "[seq]" and "[!seq]"; unlike path globs,
// "*" also crosses "/" and ":".
func Fnmatch(name, pattern string) bool {
	re, err := regexp.Compile(TranslateFnmatch(pattern))
	if err != nil {
		return false
	}
	return re.MatchString(name)
}

// TranslateFnmatch returns the anchored regular expression for pattern.
func TranslateFnmatch(pattern string) string {
	var b strings.Builder
	b.WriteString(`(?s)^`)
	runes := []rune(pattern)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		switch c {
		case '*':
			b.WriteString(`.*`)
		case '?':
			b.WriteString(`.`)
		case '[':
			j := i + 1
			if j < len(runes) && runes[j] == '!' {
				j++
			}
			if j < len(runes) && runes[j] == ']' {
				j++
			}
			for j < len(runes) && runes[j] != ']' {
				j++
			}
			if j >= len(runes) {
				// Unclosed bracket is a literal.
				b.WriteString(`\[`)
				continue
			}
			class := string(runes[i+1 : j])
			class = strings.ReplaceAll(class, `\`, `\\`)
			if strings.HasPrefix(class, "!") {
				class = "^" + class[1:]
			} else if strings.HasPrefix(class, "^") {
				class = `\` + class
			}
			b.WriteString("[" + class + "]")
			i = j
		default:
			b.WriteString(regexp.QuoteMeta(string(c)))
		}
	}
	b.WriteString(`$`)
	return b.String()
}
