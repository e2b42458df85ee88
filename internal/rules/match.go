package rules

import (
	"regexp"
	"strings"
	"unicode"
	"unicode/utf8"
)

// containsAny reports whether hay contains any needle, ignoring case.
// Needles of two runes or fewer must stand as whole words.
func containsAny(hay string, needles ...string) bool {
	if hay == "" {
		return false
	}
	hay = strings.ToLower(hay)
	for _, n := range needles {
		n = strings.ToLower(n)
		if n == "" {
			continue
		}
		if utf8.RuneCountInString(n) <= 2 {
			if containsWord(hay, n) {
				return true
			}
			continue
		}
		if strings.Contains(hay, n) {
			return true
		}
	}
	return false
}

func containsWord(hay, word string) bool {
	for start := 0; ; {
		i := strings.Index(hay[start:], word)
		if i < 0 {
			return false
		}
		i += start
		end := i + len(word)
		before, _ := utf8.DecodeLastRuneInString(hay[:i])
		after, _ := utf8.DecodeRuneInString(hay[end:])
		if (i == 0 || !isWordRune(before)) && (end == len(hay) || !isWordRune(after)) {
			return true
		}
		start = i + 1
	}
}

func isWordRune(r rune) bool {
	return r == '_' || unicode.IsLetter(r) || unicode.IsDigit(r)
}

func matches(re *regexp.Regexp, s string) bool {
	return s != "" && re.MatchString(s)
}
