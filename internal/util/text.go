package util

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

var (
	reQuotes     = regexp.MustCompile(`["'` + "`" + `«»“”]`)
	reNonAllowed = regexp.MustCompile(`[^A-Z0-9X\-/\s.,]`)
	reSpaces     = regexp.MustCompile(`\s+`)
	reDimension  = regexp.MustCompile(`(\d)\s*[X*×]\s*(\d)`)
)

// FoldAccents strips combining marks: "Válvula" -> "Valvula".
func FoldAccents(input string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	out, _, err := transform.String(t, input)
	if err != nil {
		return input
	}
	return out
}

// NormalizeHeader upper-cases, folds accents and collapses noise so that two
// spellings of the same description compare equal.
func NormalizeHeader(input string) string {
	s := strings.ToUpper(FoldAccents(input))
	repl := strings.NewReplacer("×", "X", "Ø", "O", "º", "O", "ª", "A", "MM²", "MM2", "M²", "M2", "M³", "M3")
	s = repl.Replace(s)
	s = reDimension.ReplaceAllString(s, "${1}X${2}")
	s = reQuotes.ReplaceAllString(s, " ")
	s = reNonAllowed.ReplaceAllString(s, " ")
	s = reSpaces.ReplaceAllString(s, " ")
	return strings.Trim(strings.TrimSpace(s), ".,")
}

func NormalizeCode(input string) string {
	s := strings.ToUpper(FoldAccents(input))
	s = strings.ReplaceAll(s, " ", "")
	out := strings.Builder{}
	for _, r := range s {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '-' || r == '_' || r == '/' || r == '.' {
			out.WriteRune(r)
		}
	}
	return out.String()
}

var stopwords = map[string]struct{}{
	"DE": {}, "DA": {}, "DO": {}, "DAS": {}, "DOS": {}, "EM": {}, "NA": {}, "NO": {},
	"PARA": {}, "COM": {}, "SEM": {}, "E": {}, "OU": {}, "TIPO": {},
}

func Tokenize(input string) []string {
	normalized := NormalizeHeader(input)
	parts := strings.Split(normalized, " ")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(strings.TrimSpace(p), ".,")
		if len([]rune(p)) < 2 {
			continue
		}
		if _, skip := stopwords[p]; skip {
			continue
		}
		out = append(out, p)
	}
	return out
}

func LooksLikeCode(input string) bool {
	trimmed := strings.TrimSpace(input)
	if len(trimmed) < 3 || strings.Contains(trimmed, " ") {
		return false
	}
	hasLetter := false
	hasDigit := false
	for _, r := range trimmed {
		if unicode.IsLetter(r) {
			hasLetter = true
		}
		if r >= '0' && r <= '9' {
			hasDigit = true
		}
	}
	return hasDigit && (hasLetter || len(trimmed) >= 5)
}

func DiceCoefficient(a, b string) float64 {
	if a == "" || b == "" {
		return 0
	}
	if a == b {
		return 1
	}

	pairs := func(s string) []string {
		r := []rune(s)
		if len(r) < 2 {
			return nil
		}
		out := make([]string, 0, len(r)-1)
		for i := 0; i < len(r)-1; i++ {
			out = append(out, string(r[i:i+2]))
		}
		return out
	}

	aPairs := pairs(a)
	bPairs := pairs(b)
	if len(aPairs) == 0 || len(bPairs) == 0 {
		return 0
	}

	bCount := map[string]int{}
	for _, p := range bPairs {
		bCount[p]++
	}
	inter := 0
	for _, p := range aPairs {
		if bCount[p] > 0 {
			inter++
			bCount[p]--
		}
	}

	return float64(2*inter) / float64(len(aPairs)+len(bPairs))
}

func NormalizeSpaces(input string) string {
	return strings.TrimSpace(reSpaces.ReplaceAllString(input, " "))
}
